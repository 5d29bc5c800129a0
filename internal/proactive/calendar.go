package proactive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"psycho/internal/logging"
	"psycho/internal/storage"
)

// CalendarManager is the local-first event store with pre-event alerting.
type CalendarManager struct {
	db     *storage.DB
	logger logging.Logger
}

func NewCalendarManager(db *storage.DB, logger logging.Logger) *CalendarManager {
	return &CalendarManager{db: db, logger: logging.OrNop(logger)}
}

// EventRequest describes a new calendar event. End defaults to one hour
// after Start; ReminderMinutes defaults to 15.
type EventRequest struct {
	Title           string
	Start           time.Time
	End             time.Time
	Location        string
	Notes           string
	Recurrence      string
	AllDay          bool
	ReminderMinutes int
}

// AddEvent stores a new event.
func (m *CalendarManager) AddEvent(ctx context.Context, req EventRequest) (*storage.CalendarEvent, error) {
	end := req.End
	if end.IsZero() {
		end = req.Start.Add(time.Hour)
	}
	event := &storage.CalendarEvent{
		Title:           req.Title,
		StartTimestamp:  storage.Timestamp(req.Start),
		EndTimestamp:    storage.Timestamp(end),
		Location:        req.Location,
		Notes:           req.Notes,
		Recurrence:      req.Recurrence,
		AllDay:          req.AllDay,
		ReminderMinutes: req.ReminderMinutes,
	}
	if err := m.db.CreateCalendarEvent(ctx, event); err != nil {
		return nil, err
	}
	m.logger.Info("calendar event added: %q at %s", req.Title, req.Start.Format("2006-01-02 15:04"))
	return event, nil
}

// Today returns all events starting today.
func (m *CalendarManager) Today(ctx context.Context, now time.Time) ([]*storage.CalendarEvent, error) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return m.db.EventsBetween(ctx, storage.Timestamp(start), storage.Timestamp(start.AddDate(0, 0, 1)))
}

// Upcoming returns events starting within the window.
func (m *CalendarManager) Upcoming(ctx context.Context, now time.Time, window time.Duration) ([]*storage.CalendarEvent, error) {
	return m.db.EventsBetween(ctx, storage.Timestamp(now), storage.Timestamp(now.Add(window)))
}

// WeekAhead returns the next seven days of events.
func (m *CalendarManager) WeekAhead(ctx context.Context, now time.Time) ([]*storage.CalendarEvent, error) {
	return m.Upcoming(ctx, now, 7*24*time.Hour)
}

// NeedingReminder returns events whose pre-event alert window covers now.
func (m *CalendarManager) NeedingReminder(ctx context.Context, now time.Time) ([]*storage.CalendarEvent, error) {
	return m.db.ImminentEvents(ctx, storage.Timestamp(now))
}

// Delete removes an event.
func (m *CalendarManager) Delete(ctx context.Context, id string) error {
	return m.db.DeleteCalendarEvent(ctx, id)
}

// DurationMinutes is the event length in whole minutes, never negative.
func DurationMinutes(e *storage.CalendarEvent) int {
	mins := int((e.EndTimestamp - e.StartTimestamp) / 60)
	if mins < 0 {
		return 0
	}
	return mins
}

// TimeUntilStart renders the delay before an event starts.
func TimeUntilStart(e *storage.CalendarEvent, now time.Time) string {
	delta := storage.FromTimestamp(e.StartTimestamp).Sub(now)
	switch {
	case delta < 0:
		return "started"
	case delta < time.Minute:
		return "< 1 minute"
	case delta < time.Hour:
		return fmt.Sprintf("%d min", int(delta.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(delta.Hours()))
	}
}

// PromptBlock renders events for the system prompt.
func (m *CalendarManager) PromptBlock(events []*storage.CalendarEvent, label string, now time.Time) string {
	if len(events) == 0 {
		return ""
	}
	if label == "" {
		label = "UPCOMING"
	}
	lines := []string{fmt.Sprintf("─── %s CALENDAR EVENTS ───", label)}
	for i, e := range events {
		if i >= 8 {
			break
		}
		start := storage.FromTimestamp(e.StartTimestamp)
		duration := ""
		if mins := DurationMinutes(e); mins > 0 {
			duration = fmt.Sprintf(" (%dmin)", mins)
		}
		location := ""
		if e.Location != "" {
			location = " @ " + e.Location
		}
		lines = append(lines, fmt.Sprintf("• %s — %s%s%s [in %s]",
			e.Title, start.Format("Mon Jan 02, 15:04"), duration, location, TimeUntilStart(e, now)))
		if e.Notes != "" {
			lines = append(lines, "  Notes: "+e.Notes)
		}
	}
	lines = append(lines, "─────────────────────────────")
	return strings.Join(lines, "\n")
}
