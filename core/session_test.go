package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleToolResult} {
		if !r.Valid() {
			t.Fatalf("%s should be valid", r)
		}
	}
	if Role("system").Valid() {
		t.Fatal("system is not a persisted role")
	}
}

func TestMessage_AsContent(t *testing.T) {
	if c := NewUserMessage("hi").AsContent(); c.Role != "user" || c.Text() != "hi" {
		t.Fatalf("unexpected %+v", c)
	}
	if c := NewAssistantMessage("yo").AsContent(); c.Role != "assistant" {
		t.Fatalf("unexpected %+v", c)
	}
	if c := NewToolResultMessage("12C", map[string]any{"t": 12}).AsContent(); c.Role != "tool" {
		t.Fatalf("unexpected %+v", c)
	}
}

func TestSession_CloneIsolation(t *testing.T) {
	s := NewSession("s1")
	s.Messages = append(s.Messages, NewUserMessage("a"))
	c := s.Clone()
	c.Messages[0].Content = "changed"
	if s.Messages[0].Content != "a" {
		t.Fatal("clone shares message storage")
	}
}

func TestTurnError_ClassifyAndSanitize(t *testing.T) {
	secret := errors.New("dial tcp 10.0.0.7:5432: connection refused")

	te := Classify("session.append", fmt.Errorf("%w: %w", ErrPersistence, secret))
	if !errors.Is(te, ErrPersistence) || !errors.Is(te, secret) {
		t.Fatalf("classification lost causes: %v", te)
	}
	if msg := te.PublicMessage(); strings.Contains(msg, "10.0.0.7") {
		t.Fatalf("public message leaks detail: %s", msg)
	}

	if !errors.Is(Classify("turn", context.DeadlineExceeded), ErrTimeout) {
		t.Fatal("deadline should map to timeout")
	}
	if !errors.Is(Classify("turn", context.Canceled), ErrCancelled) {
		t.Fatal("cancel should map to cancelled")
	}
	if !errors.Is(Classify("model", secret), ErrGeneration) {
		t.Fatal("unknown errors default to generation")
	}

	inner := NewTurnError(ErrConfiguration, "registry", nil)
	if Classify("outer", inner) != inner {
		t.Fatal("existing classification must be kept")
	}
	if s := Sanitize(secret); strings.Contains(s, "refused") {
		t.Fatalf("Sanitize leaks detail: %s", s)
	}
}
