package testutil

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/concierge/core"
)

// CollectEvents drains ch until it closes or timeout elapses.
func CollectEvents(t testing.TB, ch <-chan core.TurnEvent, timeout time.Duration) []core.TurnEvent {
	t.Helper()
	var events []core.TurnEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("event stream did not close within %v (got %d events)", timeout, len(events))
			return events
		}
	}
}

// TokenText concatenates the content of all token events.
func TokenText(events []core.TurnEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == core.EventToken {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

// OfType filters events by type.
func OfType(events []core.TurnEvent, typ core.EventType) []core.TurnEvent {
	var out []core.TurnEvent
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Recorder is an emit function target for core.NewTurnContext.
type Recorder struct {
	mu     sync.Mutex
	events []core.TurnEvent
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Emit records ev.
func (r *Recorder) Emit(ev core.TurnEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of what was recorded so far.
func (r *Recorder) Events() []core.TurnEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.TurnEvent(nil), r.events...)
}
