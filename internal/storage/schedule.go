package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// CreateReminder inserts a reminder row.
func (db *DB) CreateReminder(ctx context.Context, reminder *Reminder) error {
	if reminder.ID == "" {
		reminder.ID = uuid.NewString()
	}
	if reminder.Recurrence == "" {
		reminder.Recurrence = RecurrenceNone
	}
	if reminder.Priority == "" {
		reminder.Priority = PriorityNormal
	}
	if reminder.CreatedAt == 0 {
		reminder.CreatedAt = now()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO reminders (id, title, notes, due_timestamp, recurrence, priority,
		 completed, snoozed_until, created_at, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reminder.ID, reminder.Title, reminder.Notes, reminder.DueTimestamp,
		reminder.Recurrence, reminder.Priority, boolToInt(reminder.Completed),
		reminder.SnoozedUntil, reminder.CreatedAt, reminder.SessionID,
	)
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

// DueReminders returns uncompleted reminders due at or before ts, honoring
// snooze windows.
func (db *DB) DueReminders(ctx context.Context, ts float64) ([]*Reminder, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, title, notes, due_timestamp, recurrence, priority, completed,
		 snoozed_until, created_at, session_id
		 FROM reminders
		 WHERE completed = 0 AND due_timestamp <= ? AND (snoozed_until = 0 OR snoozed_until <= ?)
		 ORDER BY due_timestamp ASC`, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("due reminders: %w", err)
	}
	return collectReminders(rows)
}

// ListReminders returns reminders, optionally including completed ones.
func (db *DB) ListReminders(ctx context.Context, includeCompleted bool, limit int) ([]*Reminder, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, title, notes, due_timestamp, recurrence, priority, completed,
		 snoozed_until, created_at, session_id FROM reminders `
	if !includeCompleted {
		query += "WHERE completed = 0 "
	}
	query += "ORDER BY due_timestamp ASC LIMIT ?"
	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return collectReminders(rows)
}

// CompleteReminder marks a reminder done.
func (db *DB) CompleteReminder(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, "UPDATE reminders SET completed = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("complete reminder: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder %s not found", id)
	}
	return nil
}

// SnoozeReminder pushes a reminder's next surface time to until.
func (db *DB) SnoozeReminder(ctx context.Context, id string, until float64) error {
	result, err := db.conn.ExecContext(ctx, "UPDATE reminders SET snoozed_until = ? WHERE id = ?", until, id)
	if err != nil {
		return fmt.Errorf("snooze reminder: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder %s not found", id)
	}
	return nil
}

// RescheduleReminder moves a recurring reminder to its next occurrence and
// clears any snooze.
func (db *DB) RescheduleReminder(ctx context.Context, id string, due float64) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE reminders SET due_timestamp = ?, snoozed_until = 0 WHERE id = ?", due, id)
	if err != nil {
		return fmt.Errorf("reschedule reminder: %w", err)
	}
	return nil
}

// DeleteReminder removes a reminder row.
func (db *DB) DeleteReminder(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM reminders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	return nil
}

func collectReminders(rows *sql.Rows) ([]*Reminder, error) {
	defer func() { _ = rows.Close() }()
	var reminders []*Reminder
	for rows.Next() {
		var r Reminder
		var completed int
		err := rows.Scan(&r.ID, &r.Title, &r.Notes, &r.DueTimestamp, &r.Recurrence,
			&r.Priority, &completed, &r.SnoozedUntil, &r.CreatedAt, &r.SessionID)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.Completed = completed != 0
		reminders = append(reminders, &r)
	}
	return reminders, rows.Err()
}

// CreateCalendarEvent inserts an event row.
func (db *DB) CreateCalendarEvent(ctx context.Context, event *CalendarEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Recurrence == "" {
		event.Recurrence = RecurrenceNone
	}
	if event.ReminderMinutes == 0 {
		event.ReminderMinutes = 15
	}
	if event.CreatedAt == 0 {
		event.CreatedAt = now()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO calendar_events (id, title, start_timestamp, end_timestamp, location,
		 notes, recurrence, google_event_id, all_day, reminder_minutes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Title, event.StartTimestamp, event.EndTimestamp, event.Location,
		event.Notes, event.Recurrence, event.GoogleEventID, boolToInt(event.AllDay),
		event.ReminderMinutes, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create calendar event: %w", err)
	}
	return nil
}

// EventsBetween returns events starting inside [from, to), soonest first.
func (db *DB) EventsBetween(ctx context.Context, from, to float64) ([]*CalendarEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, title, start_timestamp, end_timestamp, location, notes, recurrence,
		 google_event_id, all_day, reminder_minutes, created_at
		 FROM calendar_events
		 WHERE start_timestamp >= ? AND start_timestamp < ?
		 ORDER BY start_timestamp ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("events between: %w", err)
	}
	return collectEvents(rows)
}

// ImminentEvents returns events whose pre-event reminder window covers ts but
// which have not started yet.
func (db *DB) ImminentEvents(ctx context.Context, ts float64) ([]*CalendarEvent, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, title, start_timestamp, end_timestamp, location, notes, recurrence,
		 google_event_id, all_day, reminder_minutes, created_at
		 FROM calendar_events
		 WHERE start_timestamp > ? AND start_timestamp - reminder_minutes * 60 <= ?
		 ORDER BY start_timestamp ASC`, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("imminent events: %w", err)
	}
	return collectEvents(rows)
}

// DeleteCalendarEvent removes an event row.
func (db *DB) DeleteCalendarEvent(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM calendar_events WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete calendar event: %w", err)
	}
	return nil
}

func collectEvents(rows *sql.Rows) ([]*CalendarEvent, error) {
	defer func() { _ = rows.Close() }()
	var events []*CalendarEvent
	for rows.Next() {
		var e CalendarEvent
		var allDay int
		err := rows.Scan(&e.ID, &e.Title, &e.StartTimestamp, &e.EndTimestamp, &e.Location,
			&e.Notes, &e.Recurrence, &e.GoogleEventID, &allDay, &e.ReminderMinutes, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan calendar event: %w", err)
		}
		e.AllDay = allDay != 0
		events = append(events, &e)
	}
	return events, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
