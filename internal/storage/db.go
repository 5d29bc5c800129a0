package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"psycho/internal/logging"
)

// CurrentSchemaVersion is bumped whenever the durable schema changes.
// Version 3 added the reminders and calendar tables.
const CurrentSchemaVersion = 3

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT    PRIMARY KEY,
    started_at  REAL    NOT NULL,
    ended_at    REAL,
    message_count INTEGER DEFAULT 0,
    domain      TEXT    DEFAULT 'general',
    summary     TEXT
);

CREATE TABLE IF NOT EXISTS interactions (
    id              TEXT    PRIMARY KEY,
    session_id      TEXT    NOT NULL,
    user_message    TEXT    NOT NULL,
    agent_response  TEXT    NOT NULL,
    domain          TEXT    DEFAULT 'general',
    timestamp       REAL    NOT NULL,
    tokens_used     INTEGER DEFAULT 0,
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(session_id);
CREATE INDEX IF NOT EXISTS idx_interactions_timestamp ON interactions(timestamp);

CREATE TABLE IF NOT EXISTS facts (
    id              TEXT    PRIMARY KEY,
    content         TEXT    NOT NULL,
    domain          TEXT    DEFAULT 'general',
    confidence      REAL    DEFAULT 0.5,
    created_at      REAL    NOT NULL,
    updated_at      REAL    NOT NULL,
    source_session  TEXT,
    tags            TEXT    DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS mistakes (
    id              TEXT    PRIMARY KEY,
    session_id      TEXT,
    user_input      TEXT    NOT NULL,
    agent_response  TEXT    NOT NULL,
    correction      TEXT    NOT NULL,
    domain          TEXT    DEFAULT 'general',
    error_pattern   TEXT,
    timestamp       REAL    NOT NULL,
    similar_count   INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS preferences (
    key         TEXT    PRIMARY KEY,
    value       TEXT    NOT NULL,
    domain      TEXT    DEFAULT 'general',
    updated_at  REAL    NOT NULL
);

CREATE TABLE IF NOT EXISTS health_metrics (
    id          TEXT    PRIMARY KEY,
    metric_type TEXT    NOT NULL,
    value       REAL    NOT NULL,
    unit        TEXT    NOT NULL,
    notes       TEXT    DEFAULT '',
    timestamp   REAL    NOT NULL,
    session_id  TEXT
);

CREATE INDEX IF NOT EXISTS idx_health_type ON health_metrics(metric_type, timestamp);

CREATE TABLE IF NOT EXISTS tasks (
    id          TEXT    PRIMARY KEY,
    title       TEXT    NOT NULL,
    description TEXT    DEFAULT '',
    priority    TEXT    DEFAULT 'normal',
    status      TEXT    DEFAULT 'pending',
    due_date    TEXT,
    tags        TEXT    DEFAULT '[]',
    created_at  REAL    NOT NULL,
    updated_at  REAL    NOT NULL,
    completed_at REAL,
    session_id  TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, priority);

CREATE TABLE IF NOT EXISTS reminders (
    id              TEXT    PRIMARY KEY,
    title           TEXT    NOT NULL,
    notes           TEXT    DEFAULT '',
    due_timestamp   REAL    NOT NULL,
    recurrence      TEXT    DEFAULT 'none',
    priority        TEXT    DEFAULT 'normal',
    completed       INTEGER DEFAULT 0,
    snoozed_until   REAL    DEFAULT 0,
    created_at      REAL    NOT NULL,
    session_id      TEXT    DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(due_timestamp, completed);

CREATE TABLE IF NOT EXISTS calendar_events (
    id                  TEXT    PRIMARY KEY,
    title               TEXT    NOT NULL,
    start_timestamp     REAL    NOT NULL,
    end_timestamp       REAL    NOT NULL,
    location            TEXT    DEFAULT '',
    notes               TEXT    DEFAULT '',
    recurrence          TEXT    DEFAULT 'none',
    google_event_id     TEXT    DEFAULT '',
    all_day             INTEGER DEFAULT 0,
    reminder_minutes    INTEGER DEFAULT 15,
    created_at          REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calendar_start ON calendar_events(start_timestamp);
`

// DB wraps the sqlite connection. Writes go through database/sql's pool with
// a single connection so sqlite's own locking serializes them.
type DB struct {
	conn   *sql.DB
	logger logging.Logger
}

// Open connects to (and if needed creates) the database at path and runs
// migrations.
func Open(path string, logger logging.Logger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, logger: logging.OrNop(logger)}
	if err := db.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	db.logger.Debug("database connected: %s", path)
	return db, nil
}

func (db *DB) migrate() error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma: %w", err)
		}
	}
	if _, err := db.conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var current sql.NullInt64
	if err := db.conn.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if int(current.Int64) < CurrentSchemaVersion {
		_, err := db.conn.Exec(
			"INSERT OR REPLACE INTO schema_version (version, applied_at) VALUES (?, ?)",
			CurrentSchemaVersion, now(),
		)
		if err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		db.logger.Info("schema migrated to version %d", CurrentSchemaVersion)
	}
	return nil
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// SchemaVersion returns the applied schema version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := db.conn.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// Stats returns per-table row counts for the core tables.
func (db *DB) Stats(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int)
	for _, table := range []string{"sessions", "interactions", "facts", "mistakes", "reminders", "calendar_events"} {
		var count int
		if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}

// now returns the current time as fractional unix seconds, the timestamp
// representation used across all tables.
func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Timestamp converts a time.Time into the stored representation.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromTimestamp converts a stored timestamp back into a time.Time.
func FromTimestamp(ts float64) time.Time {
	return time.Unix(0, int64(ts*float64(time.Second)))
}
