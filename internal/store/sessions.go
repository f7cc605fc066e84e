package store

import (
	"database/sql"
	"errors"
	"time"
)

// CurrentSession returns the owner's current session pointer, or empty if no
// pointer is persisted.
func (s *Store) CurrentSession(owner string) (string, error) {
	var sessionID string
	err := s.db.QueryRow(
		`SELECT session_id FROM current_sessions WHERE owner = ?`, owner,
	).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// SetCurrentSession upserts the owner's current session pointer.
func (s *Store) SetCurrentSession(owner, sessionID string) error {
	_, err := s.db.Exec(`
		INSERT INTO current_sessions (owner, session_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET session_id = excluded.session_id,
		                                 updated_at = excluded.updated_at
	`, owner, sessionID, time.Now())
	return err
}

// ClearCurrentSession removes the owner's current session pointer. Clearing
// an absent pointer is a no-op.
func (s *Store) ClearCurrentSession(owner string) error {
	_, err := s.db.Exec(`DELETE FROM current_sessions WHERE owner = ?`, owner)
	return err
}

// AddOwnedSession records a session identifier as belonging to the owner.
// Adding an already-present identifier is a no-op.
func (s *Store) AddOwnedSession(owner, sessionID string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO owner_sessions (owner, session_id) VALUES (?, ?)
	`, owner, sessionID)
	return err
}

// OwnedSessions returns every session identifier attributed to the owner.
func (s *Store) OwnedSessions(owner string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT session_id FROM owner_sessions WHERE owner = ? ORDER BY created_at`, owner,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

// RemoveOwnedSession removes a session identifier from the owner's set.
func (s *Store) RemoveOwnedSession(owner, sessionID string) error {
	_, err := s.db.Exec(
		`DELETE FROM owner_sessions WHERE owner = ? AND session_id = ?`, owner, sessionID,
	)
	return err
}
