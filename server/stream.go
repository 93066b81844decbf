package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/concierge/core"
)

const writeWait = 10 * time.Second

// handleStreamTurn answers with Server-Sent Events, one per TurnEvent. The
// stream ends after turn-done. A disconnecting client cancels the turn.
func (s *Server) handleStreamTurn(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTurn(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "Streaming is not supported.")
		return
	}

	turnID, events, err := s.engine.StreamTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Turn-ID", turnID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	broken := false
	for ev := range events {
		if broken {
			continue
		}
		if err := writeSSE(w, ev); err != nil {
			s.opts.Logger.Debug("http.stream.write_failed", "turn_id", turnID, "error", err.Error())
			broken = true
			continue
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, ev core.TurnEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", strconv.FormatInt(ev.Sequence, 10), ev.Type, data)
	return err
}

// Websocket frames sent by clients.
const (
	frameTurn = "turn"
	frameStop = "stop"
)

// ClientFrame is a message from a websocket client. Type "turn" (or empty)
// starts a turn, "stop" cancels the running one.
type ClientFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ErrorFrame reports a rejected client frame. Turn failures arrive as
// turn-error events instead.
type ErrorFrame struct {
	Type    string `json:"type"` // always "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleWebSocket runs turns over one connection, one at a time. All writes
// happen on this goroutine; a second goroutine only reads.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Logger.Warn("ws.upgrade.failed", "error", err.Error())
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	incoming := make(chan ClientFrame)
	go s.readFrames(ctx, conn, incoming)

	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	var (
		turnID string
		events <-chan core.TurnEvent
	)
	for {
		select {
		case frame, ok := <-incoming:
			if !ok {
				return
			}
			switch frame.Type {
			case frameStop:
				if turnID != "" {
					_ = s.engine.StopTurn(turnID)
				}
			case frameTurn, "":
				if events != nil {
					err = s.writeFrame(conn, ErrorFrame{Type: "error", Code: "turn_in_progress", Message: "A turn is already running on this connection."})
					break
				}
				var id string
				var ch <-chan core.TurnEvent
				id, ch, err = s.engine.StreamTurn(ctx, frame.SessionID, frame.Message)
				if err != nil {
					te := core.Classify("ws", err)
					err = s.writeFrame(conn, ErrorFrame{Type: "error", Code: te.Code(), Message: te.PublicMessage()})
					break
				}
				turnID, events = id, ch
			default:
				err = s.writeFrame(conn, ErrorFrame{Type: "error", Code: "invalid_request", Message: "Unknown frame type."})
			}
		case ev, ok := <-events:
			if !ok {
				turnID, events = "", nil
				continue
			}
			err = s.writeFrame(conn, ev)
		case <-ping.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}
		if err != nil {
			s.opts.Logger.Debug("ws.write.failed", "error", err.Error())
			return
		}
	}
}

func (s *Server) readFrames(ctx context.Context, conn *websocket.Conn, out chan<- ClientFrame) {
	defer close(out)
	readWait := 2 * s.opts.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.opts.Logger.Debug("ws.read.failed", "error", err.Error())
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			frame = ClientFrame{Type: "invalid"}
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
