package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/concierge/core"
)

// Options configure a store.
type Options struct {
	// MaxMessages caps each session's history; the oldest messages are
	// evicted first. 0 keeps everything.
	MaxMessages int
}

// entry is one session plus the lock that serializes its writers.
type entry struct {
	mu      sync.Mutex
	session *core.Session
	next    int64 // last assigned ordinal, survives eviction
}

// InMemoryStore is a volatile SessionStore for tests and single-process
// deployments. The store lock guards only the session map; reads and appends
// hold the per-session lock, so sessions never contend with each other.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	opts    Options
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{entries: make(map[string]*entry), opts: opts}
}

// Load returns a copy of the session's messages in ordinal order.
func (s *InMemoryStore) Load(_ context.Context, sessionID string) ([]core.Message, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}
	e := s.lookup(sessionID, false)
	if e == nil {
		return []core.Message{}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneMessages(e.session.Messages), nil
}

// Append assigns the next ordinal to msg and stores it, evicting the oldest
// messages beyond MaxMessages.
func (s *InMemoryStore) Append(ctx context.Context, sessionID string, msg core.Message) (int64, error) {
	if err := validateID(sessionID); err != nil {
		return 0, err
	}
	if err := validateMessage(msg); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: append: %w", core.ErrPersistence, err)
	}

	e := s.lookup(sessionID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	msg.Ordinal = e.next
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Data = cloneData(msg.Data)
	e.session.Messages = append(e.session.Messages, msg)
	if max := s.opts.MaxMessages; max > 0 && len(e.session.Messages) > max {
		evict := len(e.session.Messages) - max
		kept := make([]core.Message, max)
		copy(kept, e.session.Messages[evict:])
		e.session.Messages = kept
	}
	e.session.UpdatedAt = msg.CreatedAt
	return msg.Ordinal, nil
}

// Session returns a snapshot of the session, empty when unseen.
func (s *InMemoryStore) Session(_ context.Context, sessionID string) (*core.Session, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}
	e := s.lookup(sessionID, false)
	if e == nil {
		return core.NewSession(sessionID), nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.session.Clone()
	snap.Messages = cloneMessages(e.session.Messages)
	return snap, nil
}

// lookup returns the entry for id, creating it when create is set.
func (s *InMemoryStore) lookup(id string, create bool) *entry {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok || !create {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e
	}
	e = &entry{session: core.NewSession(id)}
	s.entries[id] = e
	return e
}

func validateID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", core.ErrInvalidRequest)
	}
	return nil
}

func validateMessage(msg core.Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: unknown message role %q", core.ErrInvalidRequest, msg.Role)
	}
	return nil
}

func cloneMessages(in []core.Message) []core.Message {
	out := make([]core.Message, len(in))
	for i, m := range in {
		m.Data = cloneData(m.Data)
		out[i] = m
	}
	return out
}

func cloneData(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
