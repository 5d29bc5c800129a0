package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// InsertFact writes a new fact row.
func (db *DB) InsertFact(ctx context.Context, fact *Fact) error {
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	if fact.Domain == "" {
		fact.Domain = "general"
	}
	if fact.Tags == "" {
		fact.Tags = "[]"
	}
	ts := now()
	if fact.CreatedAt == 0 {
		fact.CreatedAt = ts
	}
	fact.UpdatedAt = ts
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO facts (id, content, domain, confidence, created_at, updated_at, source_session, tags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fact.ID, fact.Content, fact.Domain, fact.Confidence,
		fact.CreatedAt, fact.UpdatedAt, fact.SourceSession, fact.Tags,
	)
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

// ListFacts returns facts, newest first, optionally filtered by domain.
func (db *DB) ListFacts(ctx context.Context, domain string, limit int) ([]*Fact, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if domain != "" {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT id, content, domain, confidence, created_at, updated_at, source_session, tags
			 FROM facts WHERE domain = ? ORDER BY updated_at DESC LIMIT ?`, domain, limit)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT id, content, domain, confidence, created_at, updated_at, source_session, tags
			 FROM facts ORDER BY updated_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	return collectFacts(rows)
}

func collectFacts(rows *sql.Rows) ([]*Fact, error) {
	defer func() { _ = rows.Close() }()
	var facts []*Fact
	for rows.Next() {
		var fact Fact
		var source sql.NullString
		err := rows.Scan(&fact.ID, &fact.Content, &fact.Domain, &fact.Confidence,
			&fact.CreatedAt, &fact.UpdatedAt, &source, &fact.Tags)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		fact.SourceSession = source.String
		facts = append(facts, &fact)
	}
	return facts, rows.Err()
}

// TopFacts returns facts at or above minConfidence, strongest first.
func (db *DB) TopFacts(ctx context.Context, domain string, minConfidence float64, limit int) ([]*Fact, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if domain != "" {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT id, content, domain, confidence, created_at, updated_at, source_session, tags
			 FROM facts WHERE domain = ? AND confidence >= ?
			 ORDER BY confidence DESC, updated_at DESC LIMIT ?`, domain, minConfidence, limit)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT id, content, domain, confidence, created_at, updated_at, source_session, tags
			 FROM facts WHERE confidence >= ?
			 ORDER BY confidence DESC, updated_at DESC LIMIT ?`, minConfidence, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("top facts: %w", err)
	}
	return collectFacts(rows)
}

// UpdateFactConfidence applies a delta clamped to [0.05, 0.95].
func (db *DB) UpdateFactConfidence(ctx context.Context, id string, delta float64) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE facts SET confidence = MAX(0.05, MIN(0.95, confidence + ?)), updated_at = ? WHERE id = ?`,
		delta, now(), id)
	if err != nil {
		return fmt.Errorf("update fact confidence: %w", err)
	}
	return nil
}

// SetPreference upserts a keyed preference.
func (db *DB) SetPreference(ctx context.Context, key, value, domain string) error {
	if domain == "" {
		domain = "general"
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO preferences (key, value, domain, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, domain = excluded.domain, updated_at = excluded.updated_at`,
		key, value, domain, now(),
	)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

// GetPreference fetches one preference value; ok is false when unset.
func (db *DB) GetPreference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, "SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference: %w", err)
	}
	return value, true, nil
}

// ListPreferences returns all preference rows.
func (db *DB) ListPreferences(ctx context.Context) ([]*Preference, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT key, value, domain, updated_at FROM preferences ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var prefs []*Preference
	for rows.Next() {
		var pref Preference
		if err := rows.Scan(&pref.Key, &pref.Value, &pref.Domain, &pref.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs = append(prefs, &pref)
	}
	return prefs, rows.Err()
}
