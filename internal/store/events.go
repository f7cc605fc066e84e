package store

import "time"

// TurnEvent is one row of the turn audit log.
type TurnEvent struct {
	ID        int64
	Owner     string
	EventType string
	Payload   string
	Timestamp time.Time
}

// LogTurnEvent appends an event to the turn audit log.
func (s *Store) LogTurnEvent(owner, eventType, payload string) error {
	_, err := s.db.Exec(
		`INSERT INTO turn_events (owner, event_type, payload) VALUES (?, ?, ?)`,
		owner, eventType, payload,
	)
	return err
}

// TurnEvents returns the most recent audit events for an owner, newest first.
func (s *Store) TurnEvents(owner string, limit int) ([]*TurnEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT id, owner, event_type, payload, timestamp
		FROM turn_events WHERE owner = ?
		ORDER BY id DESC LIMIT ?
	`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*TurnEvent
	for rows.Next() {
		e := &TurnEvent{}
		if err := rows.Scan(&e.ID, &e.Owner, &e.EventType, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
