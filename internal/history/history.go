// Package history records every automation action in a local SQLite
// database so operators can audit what a session did and when.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded automation action.
type Entry struct {
	ID         int64
	SessionKey string
	Window     string
	Action     string
	Detail     string
	Outcome    string
	At         time.Time
}

// Recorder persists action entries. Recording failures must never fail the
// action that produced them; callers log and continue.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, sessionKey string, limit int) ([]Entry, error)
	Close() error
}

// Nop discards everything. Used when no history path is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Recent(context.Context, string, int) ([]Entry, error) {
	return nil, nil
}
func (Nop) Close() error { return nil }

// SQLite implements Recorder on a local database file.
type SQLite struct {
	db *sql.DB
}

// Open creates or opens the history database at dbPath.
func Open(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key TEXT NOT NULL,
		window_title TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL DEFAULT '',
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_key, id);
	CREATE INDEX IF NOT EXISTS idx_actions_at ON actions(at);
	`
	_, err := s.db.Exec(query)
	return err
}

// Record appends one entry.
func (s *SQLite) Record(ctx context.Context, e Entry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actions (session_key, window_title, action, detail, outcome, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionKey, e.Window, e.Action, e.Detail, e.Outcome, at.Unix())
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	return nil
}

// Recent returns the newest entries for a session, newest first.
func (s *SQLite) Recent(ctx context.Context, sessionKey string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_key, window_title, action, detail, outcome, at
		 FROM actions WHERE session_key = ? ORDER BY id DESC LIMIT ?`,
		sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &e.SessionKey, &e.Window, &e.Action, &e.Detail, &e.Outcome, &at); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.At = time.Unix(at, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CleanupOlderThan deletes entries older than age and reports the count.
func (s *SQLite) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM actions WHERE at < ?`, time.Now().Add(-age).Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup history: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
