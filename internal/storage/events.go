package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Event is one entry in the episodic timeline.
type Event struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id"`
	EventType  string  `json:"event_type"`
	Domain     string  `json:"domain"`
	Content    string  `json:"content"`
	Timestamp  float64 `json:"timestamp"`
	Importance float64 `json:"importance"`
}

// Well-known event types.
const (
	EventInteraction  = "interaction"
	EventCorrection   = "correction"
	EventSessionStart = "session_start"
	EventSessionEnd   = "session_end"
	EventInsight      = "insight"
	EventMistake      = "mistake"
	EventReflection   = "reflection"
)

// EnsureEventsTable creates the episodic events table on first use. The
// table lives outside the versioned schema because it is owned by the
// memory layer, not the core store.
func (db *DB) EnsureEventsTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id          TEXT    PRIMARY KEY,
			session_id  TEXT    NOT NULL,
			event_type  TEXT    NOT NULL,
			domain      TEXT    DEFAULT 'general',
			content     TEXT    NOT NULL,
			timestamp   REAL    NOT NULL,
			importance  REAL    DEFAULT 0.5
		)`,
		"CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)",
	}
	for _, stmt := range stmts {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure events table: %w", err)
		}
	}
	return nil
}

// InsertEvent appends one event to the timeline.
func (db *DB) InsertEvent(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Domain == "" {
		event.Domain = "general"
	}
	if event.Timestamp == 0 {
		event.Timestamp = now()
	}
	if event.Importance == 0 {
		event.Importance = 0.5
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO events (id, session_id, event_type, domain, content, timestamp, importance)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.SessionID, event.EventType, event.Domain,
		event.Content, event.Timestamp, event.Importance,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// SessionEvents returns all events of one session in timeline order.
func (db *DB) SessionEvents(ctx context.Context, sessionID string) ([]*Event, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, session_id, event_type, domain, content, timestamp, importance
		 FROM events WHERE session_id = ? ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session events: %w", err)
	}
	return collectTimelineEvents(rows)
}

// RecentEvents returns the newest events, optionally filtered by type.
func (db *DB) RecentEvents(ctx context.Context, eventType string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if eventType != "" {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT id, session_id, event_type, domain, content, timestamp, importance
			 FROM events WHERE event_type = ? ORDER BY timestamp DESC LIMIT ?`, eventType, limit)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT id, session_id, event_type, domain, content, timestamp, importance
			 FROM events ORDER BY timestamp DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return collectTimelineEvents(rows)
}

// ImportantEvents returns high-importance events for reflection.
func (db *DB) ImportantEvents(ctx context.Context, minImportance float64, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, session_id, event_type, domain, content, timestamp, importance
		 FROM events WHERE importance >= ? ORDER BY timestamp DESC LIMIT ?`, minImportance, limit)
	if err != nil {
		return nil, fmt.Errorf("important events: %w", err)
	}
	return collectTimelineEvents(rows)
}

// CountEvents returns the timeline length.
func (db *DB) CountEvents(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func collectTimelineEvents(rows *sql.Rows) ([]*Event, error) {
	defer func() { _ = rows.Close() }()
	var events []*Event
	for rows.Next() {
		var e Event
		err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.Domain,
			&e.Content, &e.Timestamp, &e.Importance)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
