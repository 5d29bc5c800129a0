// Package proactive delivers reminders, calendar alerts, and contextual
// check-ins without waiting for the user to ask. A background scheduler
// ticks once a minute and queues notifications for the transport layer
// to surface.
package proactive

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"psycho/internal/logging"
	"psycho/internal/storage"
)

// ReminderRequest is a reminder intent extracted from a user message.
type ReminderRequest struct {
	Title    string
	Due      time.Time
	Priority string
	Notes    string
}

// ReminderManager wraps reminder persistence with natural-language time
// parsing and prompt formatting.
type ReminderManager struct {
	db     *storage.DB
	logger logging.Logger
}

func NewReminderManager(db *storage.DB, logger logging.Logger) *ReminderManager {
	return &ReminderManager{db: db, logger: logging.OrNop(logger)}
}

// Create stores a new reminder.
func (m *ReminderManager) Create(ctx context.Context, title string, due time.Time, notes, recurrence, priority, sessionID string) (*storage.Reminder, error) {
	reminder := &storage.Reminder{
		Title:        title,
		Notes:        notes,
		DueTimestamp: storage.Timestamp(due),
		Recurrence:   recurrence,
		Priority:     priority,
		SessionID:    sessionID,
	}
	if err := m.db.CreateReminder(ctx, reminder); err != nil {
		return nil, err
	}
	m.logger.Info("reminder created: %q due %s", title, due.Format("2006-01-02 15:04"))
	return reminder, nil
}

// Due returns reminders whose due time has passed, snooze windows honored.
func (m *ReminderManager) Due(ctx context.Context, now time.Time) ([]*storage.Reminder, error) {
	return m.db.DueReminders(ctx, storage.Timestamp(now))
}

// Upcoming returns pending reminders due within the next window.
func (m *ReminderManager) Upcoming(ctx context.Context, now time.Time, window time.Duration) ([]*storage.Reminder, error) {
	pending, err := m.db.ListReminders(ctx, false, 200)
	if err != nil {
		return nil, err
	}
	from := storage.Timestamp(now)
	to := storage.Timestamp(now.Add(window))
	var upcoming []*storage.Reminder
	for _, r := range pending {
		if r.DueTimestamp >= from && r.DueTimestamp <= to {
			upcoming = append(upcoming, r)
		}
	}
	return upcoming, nil
}

// Pending returns all uncompleted reminders, soonest first.
func (m *ReminderManager) Pending(ctx context.Context) ([]*storage.Reminder, error) {
	return m.db.ListReminders(ctx, false, 200)
}

// Complete marks a reminder done.
func (m *ReminderManager) Complete(ctx context.Context, id string) error {
	return m.db.CompleteReminder(ctx, id)
}

// Snooze pushes a reminder out by the given number of minutes.
func (m *ReminderManager) Snooze(ctx context.Context, id string, minutes int, now time.Time) error {
	return m.db.SnoozeReminder(ctx, id, storage.Timestamp(now.Add(time.Duration(minutes)*time.Minute)))
}

// Delete removes a reminder.
func (m *ReminderManager) Delete(ctx context.Context, id string) error {
	return m.db.DeleteReminder(ctx, id)
}

// RescheduleRecurring moves a fired recurring reminder to its next
// occurrence. Non-recurring reminders are left alone.
func (m *ReminderManager) RescheduleRecurring(ctx context.Context, reminder *storage.Reminder) error {
	due := storage.FromTimestamp(reminder.DueTimestamp)
	var next time.Time
	switch reminder.Recurrence {
	case storage.RecurrenceDaily:
		next = due.AddDate(0, 0, 1)
	case storage.RecurrenceWeekly:
		next = due.AddDate(0, 0, 7)
	case storage.RecurrenceMonthly:
		next = due.AddDate(0, 1, 0)
	default:
		return nil
	}
	if err := m.db.RescheduleReminder(ctx, reminder.ID, storage.Timestamp(next)); err != nil {
		return err
	}
	m.logger.Info("recurring reminder rescheduled: %q -> %s", reminder.Title, next.Format("2006-01-02 15:04"))
	return nil
}

// PromptBlock renders pending reminders for the system prompt.
func (m *ReminderManager) PromptBlock(reminders []*storage.Reminder, now time.Time) string {
	if len(reminders) == 0 {
		return ""
	}
	icons := map[string]string{
		storage.PriorityUrgent: "🔴",
		storage.PriorityHigh:   "🟠",
		storage.PriorityNormal: "🟡",
		storage.PriorityLow:    "⚪",
	}
	lines := []string{"─── PENDING REMINDERS ───"}
	for i, r := range reminders {
		if i >= 10 {
			break
		}
		icon, ok := icons[r.Priority]
		if !ok {
			icon = "⚪"
		}
		due := storage.FromTimestamp(r.DueTimestamp)
		suffix := fmt.Sprintf(" (in %s)", TimeUntil(due, now))
		if !due.After(now) {
			suffix = " [OVERDUE]"
		}
		lines = append(lines, fmt.Sprintf("%s [%s] %s — %s%s",
			icon, strings.ToUpper(r.Priority), r.Title, due.Format("Mon Jan 02 at 15:04"), suffix))
		if r.Notes != "" {
			lines = append(lines, "   Notes: "+r.Notes)
		}
	}
	lines = append(lines, "─────────────────────────────")
	return strings.Join(lines, "\n")
}

// TimeUntil renders the delay until t as a short human string.
func TimeUntil(t, now time.Time) string {
	delta := t.Sub(now)
	switch {
	case delta < 0:
		return "overdue"
	case delta < time.Minute:
		return "less than a minute"
	case delta < time.Hour:
		return fmt.Sprintf("%d minutes", int(delta.Minutes()))
	case delta < 24*time.Hour:
		hours := int(delta.Hours())
		mins := int(delta.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", hours, mins)
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		days := int(delta.Hours() / 24)
		if days > 1 {
			return fmt.Sprintf("%d days", days)
		}
		return "1 day"
	}
}

// Natural-language time expressions, relative forms first.
var (
	relativeTimeRes = []struct {
		re *regexp.Regexp
		fn func(n int) time.Duration
	}{
		{regexp.MustCompile(`in\s+(\d+)\s+minutes?`), func(n int) time.Duration { return time.Duration(n) * time.Minute }},
		{regexp.MustCompile(`in\s+(\d+)\s+hours?`), func(n int) time.Duration { return time.Duration(n) * time.Hour }},
		{regexp.MustCompile(`in\s+(\d+)\s+days?`), func(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }},
		{regexp.MustCompile(`in\s+(\d+)\s+weeks?`), func(n int) time.Duration { return time.Duration(n) * 7 * 24 * time.Hour }},
	}
	halfHourRe = regexp.MustCompile(`in\s+half\s+an?\s+hour`)
	anHourRe   = regexp.MustCompile(`in\s+an?\s+hour`)

	dayAtRe     = regexp.MustCompile(`(tomorrow|today)\s+at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)
	weekdayAtRe = regexp.MustCompile(`next\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\s+at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)
	bareAtRe    = regexp.MustCompile(`at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)
)

var weekdayIndex = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

// ParseReminderTime resolves a natural-language time expression relative to
// now. "in 30 minutes", "tomorrow at 3pm", "next friday at 9:30am", and bare
// "at 17:00" (rolling to tomorrow when already past) are supported. Returns
// the zero time when nothing matches.
func ParseReminderTime(text string, now time.Time) time.Time {
	text = strings.ToLower(strings.TrimSpace(text))

	for _, p := range relativeTimeRes {
		if m := p.re.FindStringSubmatch(text); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return now.Add(p.fn(n))
			}
		}
	}
	if halfHourRe.MatchString(text) {
		return now.Add(30 * time.Minute)
	}
	if anHourRe.MatchString(text) {
		return now.Add(time.Hour)
	}

	if m := dayAtRe.FindStringSubmatch(text); m != nil {
		base := now
		if m[1] == "tomorrow" {
			base = now.AddDate(0, 0, 1)
		}
		hour, minute := clockFrom(m[2], m[3], m[4])
		return time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, now.Location())
	}

	if m := weekdayAtRe.FindStringSubmatch(text); m != nil {
		target := weekdayIndex[m[1]]
		daysAhead := (int(target) - int(now.Weekday()) + 7) % 7
		if daysAhead == 0 {
			daysAhead = 7
		}
		base := now.AddDate(0, 0, daysAhead)
		hour, minute := clockFrom(m[2], m[3], m[4])
		return time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, now.Location())
	}

	if m := bareAtRe.FindStringSubmatch(text); m != nil {
		hour, minute := clockFrom(m[1], m[2], m[3])
		target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !target.After(now) {
			target = target.AddDate(0, 0, 1)
		}
		return target
	}

	return time.Time{}
}

func clockFrom(hourStr, minuteStr, meridiem string) (int, int) {
	hour, _ := strconv.Atoi(hourStr)
	minute := 0
	if minuteStr != "" {
		minute, _ = strconv.Atoi(minuteStr)
	}
	if meridiem == "pm" && hour < 12 {
		hour += 12
	} else if meridiem == "am" && hour == 12 {
		hour = 0
	}
	return hour, minute
}

var reminderTriggerRes = []*regexp.Regexp{
	regexp.MustCompile(`remind\s+me\s+to\s+(.+?)(?:\s+(?:at|in|tomorrow|next|on)\b|$)`),
	regexp.MustCompile(`set\s+(?:a\s+)?reminder\s+(?:to\s+|for\s+)?(.+?)(?:\s+(?:at|in|tomorrow)\b|$)`),
	regexp.MustCompile(`don't\s+let\s+me\s+forget\s+(?:to\s+)?(.+?)(?:\s+(?:at|in|tomorrow)\b|$)`),
	regexp.MustCompile(`make\s+(?:sure|a\s+note)\s+(?:to\s+|that\s+i\s+)?(.+?)(?:\s+(?:at|in|tomorrow)\b|$)`),
}

var reminderFallbackTriggers = []string{"remind me to ", "remind me ", "reminder for ", "reminder to "}

var reminderTimeWords = []string{"at ", "in ", "tomorrow", "next ", "on "}

var spaceRe = regexp.MustCompile(`\s+`)

// ExtractReminderFromMessage detects a reminder intent in free text and
// returns the parsed request, or nil. Messages without a time expression
// default to one hour out.
func ExtractReminderFromMessage(message string, now time.Time) *ReminderRequest {
	msg := strings.ToLower(message)

	var title string
	for _, re := range reminderTriggerRes {
		if m := re.FindStringSubmatch(msg); m != nil && m[1] != "" {
			title = strings.TrimRight(strings.TrimSpace(m[1]), ".,!?")
			break
		}
	}

	if title == "" && !strings.Contains(msg, "remind") {
		return nil
	}

	// Reminder keyword present but the trigger patterns missed the title.
	if title == "" {
		for _, trigger := range reminderFallbackTriggers {
			_, remainder, found := strings.Cut(msg, trigger)
			if !found {
				continue
			}
			for _, timeWord := range reminderTimeWords {
				if idx := strings.Index(remainder, timeWord); idx >= 0 {
					if candidate := strings.TrimSpace(remainder[:idx]); candidate != "" {
						title = candidate
						break
					}
				}
			}
			if title == "" {
				if len(remainder) > 60 {
					remainder = remainder[:60]
				}
				title = strings.TrimSpace(remainder)
			}
			break
		}
	}

	if title == "" {
		return nil
	}
	title = strings.TrimRight(strings.TrimSpace(spaceRe.ReplaceAllString(title, " ")), ".,!?")
	if len(title) < 2 {
		return nil
	}

	due := ParseReminderTime(message, now)
	if due.IsZero() {
		due = now.Add(time.Hour)
	}

	priority := storage.PriorityNormal
	if containsAny(msg, "urgent", "asap", "immediately", "critical") {
		priority = storage.PriorityUrgent
	} else if containsAny(msg, "important", "must", "don't forget", "crucial") {
		priority = storage.PriorityHigh
	}

	return &ReminderRequest{
		Title:    capitalizeFirst(title),
		Due:      due,
		Priority: priority,
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
