package testutil

import (
	"sync"

	"github.com/hupe1980/concierge/logging"
)

// LogEntry is one recorded log call.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// Attr returns the value logged under key.
func (e LogEntry) Attr(key string) (any, bool) {
	for i := 0; i+1 < len(e.Args); i += 2 {
		if k, ok := e.Args[i].(string); ok && k == key {
			return e.Args[i+1], true
		}
	}
	return nil, false
}

// RecordingLogger is a logging.Logger that keeps every entry.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ logging.Logger = (*RecordingLogger)(nil)

// NewRecordingLogger creates an empty RecordingLogger.
func NewRecordingLogger() *RecordingLogger { return &RecordingLogger{} }

func (l *RecordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: append([]any(nil), args...)})
}

// Debug implements logging.Logger.
func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }

// Info implements logging.Logger.
func (l *RecordingLogger) Info(msg string, args ...any) { l.record("info", msg, args) }

// Warn implements logging.Logger.
func (l *RecordingLogger) Warn(msg string, args ...any) { l.record("warn", msg, args) }

// Error implements logging.Logger.
func (l *RecordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

// Entries returns a copy of all entries.
func (l *RecordingLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// Find returns the entries with the given message.
func (l *RecordingLogger) Find(msg string) []LogEntry {
	var out []LogEntry
	for _, e := range l.Entries() {
		if e.Msg == msg {
			out = append(out, e)
		}
	}
	return out
}

// Has reports whether msg was logged.
func (l *RecordingLogger) Has(msg string) bool { return len(l.Find(msg)) > 0 }
