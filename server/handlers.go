package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/concierge/core"
)

const maxBodyBytes = 1 << 20

// TurnRequest is the body of POST /v1/turns and /v1/turns/stream, and the
// message a websocket client sends to start a turn.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable code and a user-safe message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleCompleteTurn(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTurn(w, r)
	if !ok {
		return
	}
	resp, err := s.engine.CompleteTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStopTurn(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.StopTurn(chi.URLParam(r, "turnID")); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "No running turn with this id.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) decodeTurn(w http.ResponseWriter, r *http.Request) (TurnRequest, bool) {
	var req TurnRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		msg := "Request body must be a JSON object with session_id and message."
		if errors.Is(err, io.EOF) {
			msg = "Request body is empty."
		}
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return req, false
	}
	return req, true
}

// writeTurnError logs the full error and answers with its public message.
func (s *Server) writeTurnError(w http.ResponseWriter, r *http.Request, err error) {
	te := core.Classify("http", err)
	s.opts.Logger.Warn("http.turn.failed",
		"path", r.URL.Path,
		"kind", te.Code(),
		"error", err.Error())
	writeError(w, statusOf(te), te.Code(), te.PublicMessage())
}

func statusOf(te *core.TurnError) int {
	switch te.Kind {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrTimeout:
		return http.StatusGatewayTimeout
	case core.ErrCancelled:
		return 499
	case core.ErrPersistence, core.ErrGeneration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}
