package proactive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"psycho/internal/async"
	"psycho/internal/logging"
	"psycho/internal/storage"
)

const (
	// DefaultTickInterval is how often the scheduler checks proactive
	// conditions when no interval is configured.
	DefaultTickInterval = 60 * time.Second
	// MaxNotifications bounds the in-memory notification queue.
	MaxNotifications = 50
)

// Notification kinds.
const (
	NotifyReminder = "reminder"
	NotifyCalendar = "calendar"
	NotifyCheckin  = "checkin"
	NotifyInfo     = "info"
)

// Notification is a proactive message queued for the UI.
type Notification struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
	Priority  string  `json:"priority"`
	Action    string  `json:"action"`
	Read      bool    `json:"read"`
}

// Scheduler is the background loop that turns due reminders and imminent
// calendar events into notifications. Notifications accumulate in a bounded
// queue and are served to polling clients; an optional callback pushes them
// out immediately (e.g. over a websocket).
type Scheduler struct {
	reminders *ReminderManager
	calendar  *CalendarManager
	interval  time.Duration
	onNotify  func(Notification)
	logger    logging.Logger

	mu            sync.Mutex
	notifications []Notification
	notifiedKeys  map[string]bool
	counter       int
	running       bool
	stop          chan struct{}
	done          chan struct{}
}

// NewScheduler builds the scheduler. A non-positive interval falls back to
// DefaultTickInterval.
func NewScheduler(reminders *ReminderManager, calendar *CalendarManager, interval time.Duration, onNotify func(Notification), logger logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		reminders:    reminders,
		calendar:     calendar,
		interval:     interval,
		onNotify:     onNotify,
		logger:       logging.OrNop(logger),
		notifiedKeys: map[string]bool{},
	}
}

// Start launches the background loop. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	async.Go(s.logger, "proactive-scheduler", func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Tick(context.Background(), time.Now())
			}
		}
	})
	s.logger.Info("proactive scheduler started")
}

// Stop shuts the loop down and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("proactive scheduler stopped")
}

// Running reports whether the background loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Tick runs a single pass over all proactive conditions.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.checkReminders(ctx, now)
	s.checkCalendar(ctx, now)
}

func (s *Scheduler) checkReminders(ctx context.Context, now time.Time) {
	if s.reminders == nil {
		return
	}
	due, err := s.reminders.Due(ctx, now)
	if err != nil {
		s.logger.Debug("reminder check failed: %v", err)
		return
	}
	for _, reminder := range due {
		key := "reminder_" + reminder.ID
		if s.alreadyNotified(key) {
			continue
		}
		dueAt := storage.FromTimestamp(reminder.DueTimestamp)
		message := fmt.Sprintf("This was due at %s.", dueAt.Format("15:04"))
		if reminder.Notes != "" {
			message += " Notes: " + reminder.Notes
		}
		s.emit(Notification{
			Type:     NotifyReminder,
			Title:    "⏰ Reminder: " + reminder.Title,
			Message:  message,
			Priority: reminder.Priority,
			Action:   "complete_reminder:" + reminder.ID,
		}, now)

		if reminder.Recurrence != storage.RecurrenceNone {
			if err := s.reminders.RescheduleRecurring(ctx, reminder); err != nil {
				s.logger.Debug("recurring reschedule failed: %v", err)
			}
		}
	}
}

func (s *Scheduler) checkCalendar(ctx context.Context, now time.Time) {
	if s.calendar == nil {
		return
	}
	events, err := s.calendar.NeedingReminder(ctx, now)
	if err != nil {
		s.logger.Debug("calendar check failed: %v", err)
		return
	}
	for _, event := range events {
		key := fmt.Sprintf("cal_%s_%d", event.ID, int64(event.StartTimestamp))
		if s.alreadyNotified(key) {
			continue
		}
		location := ""
		if event.Location != "" {
			location = " @ " + event.Location
		}
		s.emit(Notification{
			Type:     NotifyCalendar,
			Title:    "📅 Coming up: " + event.Title,
			Message:  fmt.Sprintf("Starts in %s%s.", TimeUntilStart(event, now), location),
			Priority: storage.PriorityHigh,
			Action:   "open_calendar:" + event.ID,
		}, now)
	}
}

func (s *Scheduler) alreadyNotified(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifiedKeys[key] {
		return true
	}
	s.notifiedKeys[key] = true
	return false
}

func (s *Scheduler) emit(n Notification, now time.Time) {
	s.mu.Lock()
	s.counter++
	n.ID = fmt.Sprintf("notif_%d", s.counter)
	n.Timestamp = storage.Timestamp(now)
	s.notifications = append(s.notifications, n)
	if len(s.notifications) > MaxNotifications {
		s.notifications = s.notifications[len(s.notifications)-MaxNotifications:]
	}
	callback := s.onNotify
	s.mu.Unlock()

	s.logger.Info("notification: [%s] %s", n.Type, n.Title)
	if callback != nil {
		callback(n)
	}
}

// AddManual injects a notification from outside the scheduler loop.
func (s *Scheduler) AddManual(title, message, notifType, priority string) Notification {
	if notifType == "" {
		notifType = NotifyInfo
	}
	if priority == "" {
		priority = storage.PriorityNormal
	}
	n := Notification{Type: notifType, Title: title, Message: message, Priority: priority}
	s.emit(n, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifications[len(s.notifications)-1]
}

// Unread returns all unread notifications, oldest first.
func (s *Scheduler) Unread() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var unread []Notification
	for _, n := range s.notifications {
		if !n.Read {
			unread = append(unread, n)
		}
	}
	return unread
}

// Recent returns the most recent notifications, up to limit.
func (s *Scheduler) Recent(limit int) []Notification {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	start := len(s.notifications) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Notification, len(s.notifications)-start)
	copy(out, s.notifications[start:])
	return out
}

// MarkRead marks one notification read.
func (s *Scheduler) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			return true
		}
	}
	return false
}

// MarkAllRead marks everything read and returns the count touched.
func (s *Scheduler) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for i := range s.notifications {
		if !s.notifications[i].Read {
			s.notifications[i].Read = true
			count++
		}
	}
	return count
}

// UnreadCount returns how many notifications are unread.
func (s *Scheduler) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.notifications {
		if !n.Read {
			count++
		}
	}
	return count
}
