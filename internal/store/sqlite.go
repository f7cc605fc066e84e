// Package store provides SQLite-backed persistence for relay state: the
// per-owner session registry rows and the turn audit log.
package store

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the main persistence layer for relay.
type Store struct {
	db *sql.DB
}

// New creates a new Store, initializing the database if needed.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Current conversation pointer per owner
	CREATE TABLE IF NOT EXISTS current_sessions (
		owner      TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Every session identifier ever attributed to an owner
	CREATE TABLE IF NOT EXISTS owner_sessions (
		owner      TEXT NOT NULL,
		session_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (owner, session_id)
	);

	-- Turn audit log for debugging/replay
	CREATE TABLE IF NOT EXISTS turn_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		owner      TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload    TEXT,
		timestamp  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_owner_sessions_owner ON owner_sessions(owner);
	CREATE INDEX IF NOT EXISTS idx_turn_events_owner ON turn_events(owner, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}
