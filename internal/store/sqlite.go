// Package store persists console state in SQLite: the active run id, saved
// session transcripts for replay, and waitlist emails captured while the
// backend is at capacity.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shepherdsec/console/internal/runid"
)

// SavedSession is a stored run transcript available for read-only replay.
type SavedSession struct {
	RunID     string          `json:"run_id"`
	Name      string          `json:"name"`
	CreatedAt time.Time       `json:"created_at"`
	Messages  json.RawMessage `json:"messages,omitempty"`
}

// SQLiteStore implements console persistence using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ runid.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the console database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS saved_sessions (
			run_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			messages TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_saved_sessions_created ON saved_sessions(created_at)`,
		`CREATE TABLE IF NOT EXISTS waitlist_emails (
			email TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadRunID returns the persisted run id, or "" when none is stored.
func (s *SQLiteStore) LoadRunID() (string, error) {
	return s.getKV(runid.StorageKey)
}

// SaveRunID persists the current run id.
func (s *SQLiteStore) SaveRunID(id string) error {
	return s.setKV(runid.StorageKey, id)
}

func (s *SQLiteStore) getKV(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *SQLiteStore) setKV(key, value string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now())
	return err
}

// SaveSession stores or replaces a session transcript.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *SavedSession) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	messages := ""
	if session.Messages != nil {
		messages = string(session.Messages)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO saved_sessions (run_id, name, created_at, messages) VALUES (?, ?, ?, ?)`,
		session.RunID, session.Name, session.CreatedAt, messages)
	return err
}

// GetSession retrieves a session by run id. Missing sessions return nil, nil.
func (s *SQLiteStore) GetSession(ctx context.Context, runID string) (*SavedSession, error) {
	var session SavedSession
	var messages sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, name, created_at, messages FROM saved_sessions WHERE run_id = ?`,
		runID).Scan(&session.RunID, &session.Name, &session.CreatedAt, &messages)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if messages.Valid && messages.String != "" {
		session.Messages = json.RawMessage(messages.String)
	}
	return &session, nil
}

// ListSessions lists saved sessions, newest first, without transcripts.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]SavedSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, name, created_at FROM saved_sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SavedSession
	for rows.Next() {
		var session SavedSession
		if err := rows.Scan(&session.RunID, &session.Name, &session.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// RenameSession updates a session's display name.
func (s *SQLiteStore) RenameSession(ctx context.Context, runID, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE saved_sessions SET name = ? WHERE run_id = ?`,
		name, runID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SaveWaitlistEmail records an email captured while the backend was at
// capacity. Duplicates are ignored.
func (s *SQLiteStore) SaveWaitlistEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO waitlist_emails (email, created_at) VALUES (?, ?)`,
		email, time.Now())
	return err
}

// ListWaitlistEmails returns recorded emails in insertion order.
func (s *SQLiteStore) ListWaitlistEmails(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email FROM waitlist_emails ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}
