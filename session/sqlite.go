package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/hupe1980/concierge/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// migrations are applied in order; PRAGMA user_version records progress.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    next_ordinal INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS session_messages (
    session_id TEXT NOT NULL REFERENCES sessions(id),
    ordinal INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    data_json TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (session_id, ordinal)
)`,
}

// SQLiteOptions configure a SQLiteStore.
type SQLiteOptions struct {
	Options
	BusyTimeout time.Duration
}

// SQLiteStore is a durable SessionStore on an embedded SQLite database.
//
// next_ordinal lives on the session row so evicted ordinals are never handed
// out again. Insert and FIFO eviction share one transaction. Writers of the
// same session are additionally serialized in-process by a keyed mutex.
type SQLiteStore struct {
	db    *sql.DB
	opts  SQLiteOptions
	locks *keyedMutex
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(path string, optFns ...func(o *SQLiteOptions)) (*SQLiteStore, error) {
	opts := SQLiteOptions{BusyTimeout: 5 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate",
		path, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", core.ErrPersistence, err)
	}
	s, err := NewSQLiteStore(db, func(o *SQLiteOptions) { *o = opts })
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database and applies pending migrations.
func NewSQLiteStore(db *sql.DB, optFns ...func(o *SQLiteOptions)) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database connection is required", core.ErrConfiguration)
	}
	opts := SQLiteOptions{BusyTimeout: 5 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	s := &SQLiteStore{db: db, opts: opts, locks: newKeyedMutex()}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("%w: read schema version: %w", core.ErrPersistence, err)
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("%w: migration %d: %w", core.ErrPersistence, i+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("%w: record schema version: %w", core.ErrPersistence, err)
		}
	}
	return nil
}

// Load returns the session's messages in ordinal order.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) ([]core.Message, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ordinal, role, content, data_json, created_at FROM session_messages WHERE session_id = ? ORDER BY ordinal`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load: %w", core.ErrPersistence, err)
	}
	defer rows.Close()

	messages := []core.Message{}
	for rows.Next() {
		var (
			m    core.Message
			role string
			data sql.NullString
		)
		if err := rows.Scan(&m.Ordinal, &role, &m.Content, &data, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan message: %w", core.ErrPersistence, err)
		}
		m.Role = core.Role(role)
		if data.Valid && data.String != "" {
			if err := json.UnmarshalFromString(data.String, &m.Data); err != nil {
				return nil, fmt.Errorf("%w: decode message data: %w", core.ErrPersistence, err)
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: load: %w", core.ErrPersistence, err)
	}
	return messages, nil
}

// Append stores msg under the next ordinal and trims the history to
// MaxMessages in the same transaction.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msg core.Message) (int64, error) {
	if err := validateID(sessionID); err != nil {
		return 0, err
	}
	if err := validateMessage(msg); err != nil {
		return 0, err
	}
	var data sql.NullString
	if len(msg.Data) > 0 {
		raw, err := json.MarshalToString(msg.Data)
		if err != nil {
			return 0, fmt.Errorf("%w: encode message data: %w", core.ErrPersistence, err)
		}
		data = sql.NullString{String: raw, Valid: true}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %w", core.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, next_ordinal, created_at, updated_at) VALUES (?, 0, ?, ?) ON CONFLICT(id) DO NOTHING`,
		sessionID, msg.CreatedAt, msg.CreatedAt); err != nil {
		return 0, fmt.Errorf("%w: create session: %w", core.ErrPersistence, err)
	}

	var ordinal int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE sessions SET next_ordinal = next_ordinal + 1, updated_at = ? WHERE id = ? RETURNING next_ordinal`,
		msg.CreatedAt, sessionID).Scan(&ordinal); err != nil {
		return 0, fmt.Errorf("%w: assign ordinal: %w", core.ErrPersistence, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_messages (session_id, ordinal, role, content, data_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, ordinal, string(msg.Role), msg.Content, data, msg.CreatedAt); err != nil {
		return 0, fmt.Errorf("%w: insert message: %w", core.ErrPersistence, err)
	}

	// Ordinals of a session are contiguous, so this keeps exactly MaxMessages.
	if max := int64(s.opts.MaxMessages); max > 0 && ordinal > max {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM session_messages WHERE session_id = ? AND ordinal <= ?`,
			sessionID, ordinal-max); err != nil {
			return 0, fmt.Errorf("%w: evict messages: %w", core.ErrPersistence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", core.ErrPersistence, err)
	}
	return ordinal, nil
}

// Session returns a snapshot of the session, empty when unseen.
func (s *SQLiteStore) Session(ctx context.Context, sessionID string) (*core.Session, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}
	sess := core.NewSession(sessionID)
	err := s.db.QueryRowContext(ctx, `SELECT created_at, updated_at FROM sessions WHERE id = ?`, sessionID).
		Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return sess, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load session: %w", core.ErrPersistence, err)
	}
	if sess.Messages, err = s.Load(ctx, sessionID); err != nil {
		return nil, err
	}
	return sess, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
