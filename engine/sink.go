package engine

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/concierge/core"
)

// sink serializes a turn's events onto its channel and stamps sequence
// numbers. Intermediate events are dropped once the turn context ends;
// emitters that outlive the turn (detached delegations) find it closed.
type sink struct {
	ctx    context.Context
	turnID string
	grace  time.Duration
	ch     chan core.TurnEvent

	mu     sync.Mutex
	seq    int64
	closed bool
}

func newSink(ctx context.Context, turnID string, buffer int, grace time.Duration) *sink {
	return &sink{
		ctx:    ctx,
		turnID: turnID,
		grace:  grace,
		ch:     make(chan core.TurnEvent, buffer),
	}
}

// emit delivers an intermediate event. It blocks while the consumer is
// behind, until the turn ends.
func (s *sink) emit(ev core.TurnEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.ctx.Err() != nil {
		return
	}
	s.seq++
	ev.Sequence = s.seq
	ev.TurnID = s.turnID
	select {
	case s.ch <- ev:
	case <-s.ctx.Done():
	}
}

// final delivers the closing events and closes the channel. Each waits at
// most the grace period for a consumer that stopped reading.
func (s *sink) final(evs ...core.TurnEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for _, ev := range evs {
		s.seq++
		ev.Sequence = s.seq
		ev.TurnID = s.turnID
		if !s.send(ev) {
			break
		}
	}
	s.closed = true
	close(s.ch)
}

func (s *sink) send(ev core.TurnEvent) bool {
	select {
	case s.ch <- ev:
		return true
	default:
	}
	if s.grace <= 0 {
		return false
	}
	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case s.ch <- ev:
		return true
	case <-timer.C:
		return false
	}
}
