// Package session houses the implementations of core.SessionStore:
//
//   - InMemoryStore, per-session locked maps for tests and single processes
//   - SQLiteStore, durable history in an embedded SQLite file
//
// Both assign ordinals at append time, never reuse them, and enforce the
// optional MaxMessages cap by evicting the oldest messages first. Higher level
// packages depend on core.SessionStore only; the composition root picks the
// backend.
package session
