package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hupe1980/concierge/core"
)

// SeedSession appends msgs to sessionID and fails the test on error.
func SeedSession(t testing.TB, store core.SessionStore, sessionID string, msgs ...core.Message) {
	t.Helper()
	for _, m := range msgs {
		if _, err := store.Append(context.Background(), sessionID, m); err != nil {
			t.Fatalf("seed session %s: %v", sessionID, err)
		}
	}
}

// Conversation builds alternating user/assistant messages from texts.
func Conversation(texts ...string) []core.Message {
	msgs := make([]core.Message, len(texts))
	for i, txt := range texts {
		if i%2 == 0 {
			msgs[i] = core.NewUserMessage(txt)
		} else {
			msgs[i] = core.NewAssistantMessage(txt)
		}
	}
	return msgs
}

// ErrStoreDown is returned by FailingStore.
var ErrStoreDown = errors.New("store unavailable")

// FailingStore wraps a SessionStore and rejects appends of selected roles.
// Loads pass through, so a test can verify what was really persisted.
type FailingStore struct {
	core.SessionStore

	mu         sync.Mutex
	rejectRole map[core.Role]bool
	rejectLoad bool
	rejected   int
}

// NewFailingStore wraps inner and rejects appends of the given roles. With
// no roles every append is rejected.
func NewFailingStore(inner core.SessionStore, roles ...core.Role) *FailingStore {
	if len(roles) == 0 {
		roles = []core.Role{core.RoleUser, core.RoleAssistant, core.RoleToolResult}
	}
	reject := make(map[core.Role]bool, len(roles))
	for _, r := range roles {
		reject[r] = true
	}
	return &FailingStore{SessionStore: inner, rejectRole: reject}
}

// RejectLoads makes Load fail as well.
func (s *FailingStore) RejectLoads() *FailingStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectLoad = true
	return s
}

// Load implements core.SessionStore.
func (s *FailingStore) Load(ctx context.Context, sessionID string) ([]core.Message, error) {
	s.mu.Lock()
	reject := s.rejectLoad
	s.mu.Unlock()
	if reject {
		return nil, errors.Join(core.ErrPersistence, ErrStoreDown)
	}
	return s.SessionStore.Load(ctx, sessionID)
}

// Append implements core.SessionStore.
func (s *FailingStore) Append(ctx context.Context, sessionID string, msg core.Message) (int64, error) {
	s.mu.Lock()
	reject := s.rejectRole[msg.Role]
	if reject {
		s.rejected++
	}
	s.mu.Unlock()
	if reject {
		return 0, errors.Join(core.ErrPersistence, ErrStoreDown)
	}
	return s.SessionStore.Append(ctx, sessionID, msg)
}

// Rejected returns how many appends were refused.
func (s *FailingStore) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// Session delegates to the wrapped store when it can return whole sessions.
func (s *FailingStore) Session(ctx context.Context, sessionID string) (*core.Session, error) {
	r, ok := s.SessionStore.(interface {
		Session(ctx context.Context, sessionID string) (*core.Session, error)
	})
	if !ok {
		return nil, errors.Join(core.ErrPersistence, errors.New("store cannot read sessions"))
	}
	return r.Session(ctx, sessionID)
}
