package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// CreateSession opens a new session row and returns it.
func (db *DB) CreateSession(ctx context.Context, domain string) (*Session, error) {
	if domain == "" {
		domain = "general"
	}
	session := &Session{
		ID:        uuid.NewString(),
		StartedAt: now(),
		Domain:    domain,
	}
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO sessions (id, started_at, message_count, domain) VALUES (?, ?, 0, ?)",
		session.ID, session.StartedAt, session.Domain,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// EndSession stamps ended_at and stores the optional summary.
func (db *DB) EndSession(ctx context.Context, id, summary string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE sessions SET ended_at = ?, summary = ? WHERE id = ?",
		now(), summary, id,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GetSession fetches one session row.
func (db *DB) GetSession(ctx context.Context, id string) (*Session, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, started_at, ended_at, message_count, domain, summary FROM sessions WHERE id = ?", id)
	return scanSession(row)
}

// ListSessions returns the most recent sessions, newest first.
func (db *DB) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, started_at, ended_at, message_count, domain, summary FROM sessions ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var session Session
	var endedAt sql.NullFloat64
	var summary sql.NullString
	err := row.Scan(&session.ID, &session.StartedAt, &endedAt, &session.MessageCount, &session.Domain, &summary)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.EndedAt = endedAt.Float64
	session.Summary = summary.String
	return &session, nil
}

// InsertInteraction writes one immutable turn and bumps the session's
// message count.
func (db *DB) InsertInteraction(ctx context.Context, interaction *Interaction) error {
	if interaction.ID == "" {
		interaction.ID = uuid.NewString()
	}
	if interaction.Timestamp == 0 {
		interaction.Timestamp = now()
	}
	if interaction.Domain == "" {
		interaction.Domain = "general"
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO interactions (id, session_id, user_message, agent_response, domain, timestamp, tokens_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		interaction.ID, interaction.SessionID, interaction.UserMessage,
		interaction.AgentResponse, interaction.Domain, interaction.Timestamp, interaction.TokensUsed,
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	_, err = db.conn.ExecContext(ctx,
		"UPDATE sessions SET message_count = message_count + 1 WHERE id = ?",
		interaction.SessionID,
	)
	if err != nil {
		return fmt.Errorf("bump message count: %w", err)
	}
	return nil
}

// SessionInteractions returns the latest turns of one session in
// chronological order.
func (db *DB) SessionInteractions(ctx context.Context, sessionID string, limit int) ([]*Interaction, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, session_id, user_message, agent_response, domain, timestamp, tokens_used
		 FROM (SELECT * FROM interactions WHERE session_id = ? ORDER BY timestamp DESC LIMIT ?)
		 ORDER BY timestamp ASC`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("session interactions: %w", err)
	}
	return collectInteractions(rows)
}

// RecentInteractions returns the latest turns across sessions, newest first.
func (db *DB) RecentInteractions(ctx context.Context, limit int) ([]*Interaction, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, session_id, user_message, agent_response, domain, timestamp, tokens_used
		 FROM interactions ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent interactions: %w", err)
	}
	return collectInteractions(rows)
}

// SearchInteractions runs a keyword LIKE search over both sides of each turn.
func (db *DB) SearchInteractions(ctx context.Context, keyword string, limit int) ([]*Interaction, error) {
	if limit <= 0 {
		limit = 5
	}
	pattern := "%" + keyword + "%"
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, session_id, user_message, agent_response, domain, timestamp, tokens_used
		 FROM interactions
		 WHERE user_message LIKE ? OR agent_response LIKE ?
		 ORDER BY timestamp DESC LIMIT ?`,
		pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search interactions: %w", err)
	}
	return collectInteractions(rows)
}

func collectInteractions(rows *sql.Rows) ([]*Interaction, error) {
	defer func() { _ = rows.Close() }()
	var interactions []*Interaction
	for rows.Next() {
		var it Interaction
		err := rows.Scan(&it.ID, &it.SessionID, &it.UserMessage, &it.AgentResponse,
			&it.Domain, &it.Timestamp, &it.TokensUsed)
		if err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		interactions = append(interactions, &it)
	}
	return interactions, rows.Err()
}
