package memory

import (
	"context"
	"fmt"

	"psycho/internal/jsonx"
	"psycho/internal/logging"
	"psycho/internal/storage"
)

// Episodic is the ordered event log: sequence and causality rather than
// similarity. It answers "what happened in session X" and "when did the
// agent last slip up about Y".
type Episodic struct {
	db     *storage.DB
	logger logging.Logger
}

// NewEpisodic prepares the event timeline, creating its table on first use.
func NewEpisodic(ctx context.Context, db *storage.DB, logger logging.Logger) (*Episodic, error) {
	if err := db.EnsureEventsTable(ctx); err != nil {
		return nil, err
	}
	return &Episodic{db: db, logger: logging.OrNop(logger)}, nil
}

// LogEvent appends an event. Content is stored as JSON.
func (e *Episodic) LogEvent(ctx context.Context, sessionID, eventType string, content map[string]any, domain string, importance float64) (string, error) {
	raw, err := jsonx.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("encode event content: %w", err)
	}
	event := &storage.Event{
		SessionID:  sessionID,
		EventType:  eventType,
		Domain:     domain,
		Content:    string(raw),
		Importance: importance,
	}
	if err := e.db.InsertEvent(ctx, event); err != nil {
		return "", err
	}
	e.logger.Debug("event logged: %s [%s]", eventType, shortID(event.ID))
	return event.ID, nil
}

// SessionEvents returns one session's timeline, oldest first.
func (e *Episodic) SessionEvents(ctx context.Context, sessionID string) ([]*storage.Event, error) {
	return e.db.SessionEvents(ctx, sessionID)
}

// RecentEvents returns the newest events, optionally filtered by type.
func (e *Episodic) RecentEvents(ctx context.Context, eventType string, limit int) ([]*storage.Event, error) {
	return e.db.RecentEvents(ctx, eventType, limit)
}

// ImportantEvents returns high-importance events for reflection.
func (e *Episodic) ImportantEvents(ctx context.Context, minImportance float64, limit int) ([]*storage.Event, error) {
	return e.db.ImportantEvents(ctx, minImportance, limit)
}

// DecodeContent unpacks an event's JSON payload.
func DecodeContent(event *storage.Event) map[string]any {
	var content map[string]any
	if err := jsonx.Unmarshal([]byte(event.Content), &content); err != nil {
		return map[string]any{"raw": event.Content}
	}
	return content
}

// Count returns the timeline length.
func (e *Episodic) Count(ctx context.Context) (int, error) {
	return e.db.CountEvents(ctx)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
