package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the TurnEvent union.
type EventType string

const (
	EventToken              EventType = "token"
	EventDelegationStarted  EventType = "delegation-started"
	EventDelegationFinished EventType = "delegation-finished"
	EventTurnError          EventType = "turn-error"
	EventTurnDone           EventType = "turn-done"
)

// DelegationSummary is the transport view of a DelegationCall.
type DelegationSummary struct {
	Worker  string           `json:"worker"`
	Request string           `json:"request"`
	Status  DelegationStatus `json:"status"`
}

// TurnEvent is one unit of the streaming protocol. Only the fields relevant
// to Type are populated.
type TurnEvent struct {
	Type      EventType `json:"type"`
	TurnID    string    `json:"turn_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	// token
	Content string `json:"content,omitempty"`

	// delegation-started / delegation-finished
	Worker          string           `json:"worker,omitempty"`
	Request         string           `json:"request,omitempty"`
	ResponseExcerpt string           `json:"response_excerpt,omitempty"`
	Status          DelegationStatus `json:"status,omitempty"`

	// turn-error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`

	// turn-done
	Response    string              `json:"response,omitempty"`
	Delegations []DelegationSummary `json:"delegations,omitempty"`
	Partial     bool                `json:"partial,omitempty"`
}

func newEvent(t EventType) TurnEvent {
	return TurnEvent{Type: t, Timestamp: time.Now().UTC()}
}

// NewTokenEvent creates a token event carrying incremental answer text.
func NewTokenEvent(content string) TurnEvent {
	ev := newEvent(EventToken)
	ev.Content = content
	return ev
}

// NewDelegationStartedEvent announces a supervisor-to-worker call.
func NewDelegationStartedEvent(worker, request string) TurnEvent {
	ev := newEvent(EventDelegationStarted)
	ev.Worker = worker
	ev.Request = request
	return ev
}

// NewDelegationFinishedEvent reports the end of a delegation. The response is
// truncated to maxExcerpt runes (0 keeps it whole).
func NewDelegationFinishedEvent(call DelegationCall, maxExcerpt int) TurnEvent {
	ev := newEvent(EventDelegationFinished)
	ev.Worker = call.Worker
	ev.ResponseExcerpt = Excerpt(call.Response, maxExcerpt)
	ev.Status = call.Status
	return ev
}

// NewTurnErrorEvent carries a sanitized, user-safe failure message.
func NewTurnErrorEvent(message string) TurnEvent {
	ev := newEvent(EventTurnError)
	ev.Message = message
	return ev
}

// NewTurnFailedEvent builds the turn-error event for err: its public
// message and kind code, never its internal detail.
func NewTurnFailedEvent(err *TurnError) TurnEvent {
	ev := NewTurnErrorEvent(err.PublicMessage())
	ev.Code = err.Code()
	return ev
}

// NewTurnDoneEvent is the terminal event of every stream.
func NewTurnDoneEvent(response string, calls []DelegationCall, partial bool) TurnEvent {
	ev := newEvent(EventTurnDone)
	ev.Response = response
	ev.Delegations = Summarize(calls)
	ev.Partial = partial
	return ev
}

// IsTerminal reports whether ev ends a stream.
func (ev TurnEvent) IsTerminal() bool { return ev.Type == EventTurnDone }

// NewID returns a random identifier.
func NewID() string { return uuid.NewString() }

// NewTurnID returns a time-ordered identifier for turns.
func NewTurnID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Excerpt truncates s to at most n runes, appending an ellipsis when cut.
func Excerpt(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
