// Package store persists submission histories, the audit ledger and the
// registry of issued copies in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers within the process; the busy timeout
	// covers other processes. Every connection to ":memory:" is also a
	// separate database.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		declared_hash TEXT NOT NULL DEFAULT '',
		recomputed_hash TEXT NOT NULL DEFAULT '',
		authenticity TEXT NOT NULL DEFAULT '',
		vals TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_history_student ON history_entries(student_id, id);

	CREATE TABLE IF NOT EXISTS audit_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		analysis_id TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL,
		since_previous_ms INTEGER,
		filename TEXT NOT NULL DEFAULT '',
		student_id TEXT NOT NULL,
		cell TEXT NOT NULL,
		question TEXT NOT NULL DEFAULT '',
		prior_value TEXT NOT NULL DEFAULT '',
		template_value TEXT NOT NULL DEFAULT '',
		student_value TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		action TEXT NOT NULL,
		verdict_class TEXT NOT NULL DEFAULT '',
		verdict_rule TEXT NOT NULL DEFAULT '',
		confidence INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		signals TEXT NOT NULL DEFAULT '',
		declared_hash TEXT NOT NULL DEFAULT '',
		recomputed_hash TEXT NOT NULL DEFAULT '',
		attempt INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_audit_student ON audit_records(student_id, id);

	CREATE TABLE IF NOT EXISTS issued_copies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id TEXT NOT NULL,
		last_name TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		hash TEXT NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		issued_at TEXT NOT NULL,
		UNIQUE(student_id, hash)
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
