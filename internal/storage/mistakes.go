package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// InsertMistake writes one confirmed mistake row.
func (db *DB) InsertMistake(ctx context.Context, mistake *Mistake) error {
	if mistake.ID == "" {
		mistake.ID = uuid.NewString()
	}
	if mistake.Timestamp == 0 {
		mistake.Timestamp = now()
	}
	if mistake.Domain == "" {
		mistake.Domain = "general"
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO mistakes (id, session_id, user_input, agent_response, correction,
		 domain, error_pattern, timestamp, similar_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mistake.ID, mistake.SessionID, mistake.UserInput, mistake.AgentResponse,
		mistake.Correction, mistake.Domain, mistake.ErrorPattern,
		mistake.Timestamp, mistake.SimilarCount,
	)
	if err != nil {
		return fmt.Errorf("insert mistake: %w", err)
	}
	return nil
}

// BumpMistakeSimilarCount increments the analytics counter for a warning hit.
func (db *DB) BumpMistakeSimilarCount(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE mistakes SET similar_count = similar_count + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("bump similar count: %w", err)
	}
	return nil
}

// ListMistakes returns mistakes newest first, optionally filtered by domain.
func (db *DB) ListMistakes(ctx context.Context, domain string, limit int) ([]*Mistake, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if domain != "" {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT id, session_id, user_input, agent_response, correction, domain,
			 error_pattern, timestamp, similar_count
			 FROM mistakes WHERE domain = ? ORDER BY timestamp DESC LIMIT ?`, domain, limit)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT id, session_id, user_input, agent_response, correction, domain,
			 error_pattern, timestamp, similar_count
			 FROM mistakes ORDER BY timestamp DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list mistakes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mistakes []*Mistake
	for rows.Next() {
		var m Mistake
		var sessionID, errorPattern sql.NullString
		err := rows.Scan(&m.ID, &sessionID, &m.UserInput, &m.AgentResponse, &m.Correction,
			&m.Domain, &errorPattern, &m.Timestamp, &m.SimilarCount)
		if err != nil {
			return nil, fmt.Errorf("scan mistake: %w", err)
		}
		m.SessionID = sessionID.String
		m.ErrorPattern = errorPattern.String
		mistakes = append(mistakes, &m)
	}
	return mistakes, rows.Err()
}

// MistakeStats reports the total count and the most common domain.
func (db *DB) MistakeStats(ctx context.Context) (total int, topDomain string, err error) {
	if err = db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM mistakes").Scan(&total); err != nil {
		return 0, "", fmt.Errorf("count mistakes: %w", err)
	}
	row := db.conn.QueryRowContext(ctx,
		"SELECT domain, COUNT(*) AS cnt FROM mistakes GROUP BY domain ORDER BY cnt DESC LIMIT 1")
	if scanErr := row.Scan(&topDomain, new(int)); scanErr != nil && scanErr != sql.ErrNoRows {
		return total, "", fmt.Errorf("top mistake domain: %w", scanErr)
	}
	return total, topDomain, nil
}
