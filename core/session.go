package core

import (
	"context"
	"time"
)

// Role identifies the author of a persisted Message.
type Role string

const (
	// RoleUser marks a message written by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a final assistant answer.
	RoleAssistant Role = "assistant"
	// RoleToolResult marks a structured capability result.
	RoleToolResult Role = "tool-result"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleToolResult:
		return true
	}
	return false
}

// Message is one conversational turn as persisted by a SessionStore.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Data      map[string]any `json:"data,omitempty"` // structured tool-result payload
	Ordinal   int64          `json:"ordinal"`        // assigned by the store on append
	CreatedAt time.Time      `json:"created_at"`
}

// NewUserMessage creates an unpersisted user message.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, CreatedAt: time.Now().UTC()}
}

// NewAssistantMessage creates an unpersisted assistant message.
func NewAssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text, CreatedAt: time.Now().UTC()}
}

// NewToolResultMessage creates an unpersisted tool-result message.
func NewToolResultMessage(text string, data map[string]any) Message {
	return Message{Role: RoleToolResult, Content: text, Data: data, CreatedAt: time.Now().UTC()}
}

// AsContent converts a persisted message into model content.
func (m Message) AsContent() Content {
	switch m.Role {
	case RoleAssistant:
		return NewTextContent("assistant", m.Content)
	case RoleToolResult:
		return NewTextContent("tool", m.Content)
	default:
		return NewTextContent("user", m.Content)
	}
}

// Session is a snapshot of durable conversational state.
type Session struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession returns an empty session stamped with the current time.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, Messages: []Message{}, CreatedAt: now, UpdatedAt: now}
}

// Clone returns a deep-enough copy for handing out of a store.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}

// SessionStore persists ordered per-session message history.
//
// Append is atomic per session and assigns the ordinal; appends to different
// sessions must not contend on a shared lock. Load of an unseen session
// returns an empty slice. Implementations report every failure: a message the
// caller believes persisted must be readable by a later Load (subject to the
// configured FIFO cap).
type SessionStore interface {
	Load(ctx context.Context, sessionID string) ([]Message, error)
	Append(ctx context.Context, sessionID string, msg Message) (int64, error)
}
