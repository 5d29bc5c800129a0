package proactive

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Check-in kinds returned by ShouldCheckin.
const (
	CheckinMorning = "morning_greeting"
	CheckinEvening = "evening_checkin"
	CheckinLongGap = "long_gap"
	CheckinStress  = "stress_followup"
)

// CheckinRecord is one delivered check-in.
type CheckinRecord struct {
	Timestamp time.Time
	Kind      string
	Message   string
}

// CheckinEngine decides when the assistant should open a conversation on
// its own: first thing in the morning, in the evening, after a long
// absence, or after picking up stress signals.
type CheckinEngine struct {
	mu             sync.Mutex
	lastCheckin    time.Time
	lastSessionEnd time.Time
	sentOnDate     map[string]bool
	stressCount    int
	history        []CheckinRecord
}

func NewCheckinEngine() *CheckinEngine {
	return &CheckinEngine{sentOnDate: map[string]bool{}}
}

// RecordSessionEnd marks the end of the current session.
func (e *CheckinEngine) RecordSessionEnd(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSessionEnd = now
}

// RecordStress counts a stress signal from the current conversation.
func (e *CheckinEngine) RecordStress() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stressCount++
}

// ResetStress clears accumulated stress signals.
func (e *CheckinEngine) ResetStress() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stressCount = 0
}

// RecordCheckinSent logs a delivered check-in so only one fires per day.
func (e *CheckinEngine) RecordCheckinSent(kind, message string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastCheckin = now
	e.sentOnDate[now.Format("2006-01-02")] = true
	e.history = append(e.history, CheckinRecord{Timestamp: now, Kind: kind, Message: message})
}

// ShouldCheckin reports which check-in, if any, is warranted right now.
// sessionGapHours is the time since the previous session, or 0 if unknown.
func (e *CheckinEngine) ShouldCheckin(sessionGapHours float64, now time.Time) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	alreadySentToday := e.sentOnDate[now.Format("2006-01-02")]

	if sessionGapHours >= 48 {
		return CheckinLongGap
	}
	if !alreadySentToday && now.Hour() >= 6 && now.Hour() < 11 {
		return CheckinMorning
	}
	if !alreadySentToday && now.Hour() >= 18 && now.Hour() < 23 {
		return CheckinEvening
	}
	if e.stressCount >= 2 && !alreadySentToday {
		return CheckinStress
	}
	return ""
}

// CheckinContext carries the personal details folded into a check-in block.
type CheckinContext struct {
	UserName         string
	LastProjects     []string
	PendingReminders int
	SessionGapHours  float64
}

// GenerateCheckinContext renders the system prompt block that instructs the
// assistant how to open the conversation.
func (e *CheckinEngine) GenerateCheckinContext(kind string, cc CheckinContext) string {
	name := cc.UserName
	if name == "" {
		name = "them"
	}
	projects := ""
	if len(cc.LastProjects) > 0 {
		projects = " — particularly " + strings.Join(firstStrings(cc.LastProjects, 2), ", ")
	}
	reminders := ""
	if cc.PendingReminders > 0 {
		reminders = fmt.Sprintf(" There are %d pending reminder(s) that you should mention if they haven't already.",
			cc.PendingReminders)
	}

	lines := []string{"─── PROACTIVE CHECK-IN ───"}
	switch kind {
	case CheckinMorning:
		lines = append(lines, fmt.Sprintf(
			"This is the first interaction of the day. Open with a brief, natural morning greeting for %s. "+
				"Reference something specific from their work or life if you know it. "+
				"Don't make it long — a sentence or two, then get to business.%s", name, reminders))
	case CheckinEvening:
		lines = append(lines, fmt.Sprintf(
			"Evening session. %s might be winding down. Acknowledge the time of day naturally if relevant. "+
				"Check in on how their day went%s if it fits the conversation.%s", name, projects, reminders))
	case CheckinLongGap:
		days := int(cc.SessionGapHours / 24)
		lines = append(lines, fmt.Sprintf(
			"They've been away for %d day(s). Welcome them back naturally — reference what you were working on together%s. "+
				"Ask what's been going on. Be warm but not dramatic about the gap.%s", days, projects, reminders))
	case CheckinStress:
		lines = append(lines,
			"They seemed stressed or frustrated in recent interactions. "+
				"Open with genuine care — a brief, non-intrusive check-in on how they're doing. "+
				"Then follow their lead on where they want to go."+reminders)
	default:
		if reminders == "" {
			return ""
		}
		lines = append(lines, "Note:"+reminders)
	}
	lines = append(lines, "─────────────────────────────")
	return strings.Join(lines, "\n")
}

// GenerateReturnContext is a one-line gap note injected when the user comes
// back after an absence of an hour or more.
func (e *CheckinEngine) GenerateReturnContext(sessionGapHours float64, lastTopics []string) string {
	if sessionGapHours < 1 {
		return ""
	}
	var gap string
	switch {
	case sessionGapHours < 24:
		gap = fmt.Sprintf("%dh gap since last session", int(sessionGapHours))
	case sessionGapHours < 48:
		gap = "about a day since last session"
	case sessionGapHours < 168:
		gap = fmt.Sprintf("%d days since last session", int(sessionGapHours/24))
	default:
		gap = fmt.Sprintf("about %d week(s) since last session", int(sessionGapHours/168))
	}
	topics := ""
	if len(lastTopics) > 0 {
		topics = " Last topics: " + strings.Join(firstStrings(lastTopics, 3), ", ") + "."
	}
	return fmt.Sprintf("[Session gap: %s.%s Reference this naturally if relevant.]", gap, topics)
}

// StressCount returns the accumulated stress signal count.
func (e *CheckinEngine) StressCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stressCount
}

func firstStrings(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}
