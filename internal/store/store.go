// Package store keeps monitored transcripts in a SQLite database so sessions
// can be listed and re-evaluated after the process exits.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/monmon/internal/eventlog"
)

// ErrSessionNotFound is returned when a session id has no row.
var ErrSessionNotFound = errors.New("store: session not found")

// DefaultBusyTimeout is how long a writer waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER,
	state      TEXT NOT NULL,
	condition  TEXT NOT NULL DEFAULT '',
	details    TEXT NOT NULL DEFAULT '',
	rules_hash TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS entries (
	session_id TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	ts         INTEGER NOT NULL,
	PRIMARY KEY (session_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
`

// Session is one monitoring session row.
type Session struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	State     string     `json:"state"`
	Condition string     `json:"condition,omitempty"`
	Details   string     `json:"details,omitempty"`
	RulesHash string     `json:"rules_hash,omitempty"`
	Entries   int        `json:"entries"`
}

// Store is a SQLite-backed transcript store. Safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		path, DefaultBusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer connection keeps inserts ordered.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginSession records a new session, or marks an existing one running again.
func (s *Store) BeginSession(ctx context.Context, id, rulesHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, state, rules_hash) VALUES (?, ?, 'running', ?)
		ON CONFLICT(id) DO UPDATE SET state = 'running', ended_at = NULL`,
		id, at.UnixMilli(), rulesHash)
	if err != nil {
		return fmt.Errorf("begin session %s: %w", id, err)
	}
	return nil
}

// UpdateSession records the session's latest state. A non-nil ended sets the
// end time unless one is already recorded.
func (s *Store) UpdateSession(ctx context.Context, id, state, condition, details string, ended *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var endedAt any
	if ended != nil {
		endedAt = ended.UnixMilli()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = ?, condition = ?, details = ?, ended_at = COALESCE(ended_at, ?)
		WHERE id = ?`,
		state, condition, details, endedAt, id)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// AppendEntry stores one transcript entry. Content is encoded as JSON.
func (s *Store) AppendEntry(ctx context.Context, sessionID string, e eventlog.Entry) error {
	content, err := json.Marshal(e.Content)
	if err != nil {
		return fmt.Errorf("encode entry %d: %w", e.Index, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries (session_id, idx, role, content, ts) VALUES (?, ?, ?, ?, ?)`,
		sessionID, e.Index, e.Role, string(content), e.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert entry %d: %w", e.Index, err)
	}
	return nil
}

// Sessions returns all sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.started_at, s.ended_at, s.state, s.condition, s.details, s.rules_hash,
		       (SELECT COUNT(*) FROM entries e WHERE e.session_id = s.id)
		FROM sessions s ORDER BY s.started_at DESC, s.id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Session returns one session by id.
func (s *Store) Session(ctx context.Context, id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.started_at, s.ended_at, s.state, s.condition, s.details, s.rules_hash,
		       (SELECT COUNT(*) FROM entries e WHERE e.session_id = s.id)
		FROM sessions s WHERE s.id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

// Entries returns a session's transcript in index order. Content is decoded
// from JSON, so strings come back as strings and objects as map[string]any.
func (s *Store) Entries(ctx context.Context, sessionID string) ([]eventlog.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, role, content, ts FROM entries WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []eventlog.Entry
	for rows.Next() {
		var (
			e       eventlog.Entry
			content string
			ts      int64
		)
		if err := rows.Scan(&e.Index, &e.Role, &content, &ts); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(content), &e.Content); err != nil {
			return nil, fmt.Errorf("decode entry %d: %w", e.Index, err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		sess    Session
		started int64
		ended   sql.NullInt64
	)
	err := row.Scan(&sess.ID, &started, &ended, &sess.State, &sess.Condition, &sess.Details, &sess.RulesHash, &sess.Entries)
	if err != nil {
		return Session{}, err
	}
	sess.StartedAt = time.UnixMilli(started).UTC()
	if ended.Valid {
		t := time.UnixMilli(ended.Int64).UTC()
		sess.EndedAt = &t
	}
	return sess, nil
}
