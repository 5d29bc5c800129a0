package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "psycho.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrationsSetSchemaVersion(t *testing.T) {
	db := openTestDB(t)
	version, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion, version)
}

func TestSessionAndInteractionLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	session, err := db.CreateSession(ctx, "coding")
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.InsertInteraction(ctx, &Interaction{
			SessionID:     session.ID,
			UserMessage:   "question",
			AgentResponse: "answer",
			Domain:        "coding",
			TokensUsed:    42,
		}))
	}

	got, err := db.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.MessageCount)
	require.Zero(t, got.EndedAt)

	require.NoError(t, db.EndSession(ctx, session.ID, "talked about code"))
	got, err = db.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotZero(t, got.EndedAt)
	require.Equal(t, "talked about code", got.Summary)

	turns, err := db.SessionInteractions(ctx, session.ID, 10)
	require.NoError(t, err)
	require.Len(t, turns, 3)
}

func TestSearchInteractionsLike(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	session, err := db.CreateSession(ctx, "")
	require.NoError(t, err)
	require.NoError(t, db.InsertInteraction(ctx, &Interaction{
		SessionID: session.ID, UserMessage: "tell me about rust traits", AgentResponse: "traits are...",
	}))
	require.NoError(t, db.InsertInteraction(ctx, &Interaction{
		SessionID: session.ID, UserMessage: "how about lunch", AgentResponse: "sure",
	}))

	hits, err := db.SearchInteractions(ctx, "rust", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Contains(t, hits[0].UserMessage, "rust")
}

func TestPreferencesUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SetPreference(ctx, "agent_name", "jarvis", "general"))
	require.NoError(t, db.SetPreference(ctx, "agent_name", "tars", "general"))

	value, ok, err := db.GetPreference(ctx, "agent_name")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tars", value)

	_, ok, err = db.GetPreference(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMistakesRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mistake := &Mistake{
		UserInput:     "when was python created",
		AgentResponse: "1995",
		Correction:    "1991",
		Domain:        "coding",
	}
	require.NoError(t, db.InsertMistake(ctx, mistake))
	require.NoError(t, db.BumpMistakeSimilarCount(ctx, mistake.ID))

	mistakes, err := db.ListMistakes(ctx, "coding", 10)
	require.NoError(t, err)
	require.Len(t, mistakes, 1)
	require.Equal(t, 1, mistakes[0].SimilarCount)

	total, topDomain, err := db.MistakeStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "coding", topDomain)
}

func TestDueRemindersRespectSnoozeAndCompletion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	nowTS := Timestamp(time.Now())

	due := &Reminder{Title: "call mom", DueTimestamp: nowTS - 60}
	snoozed := &Reminder{Title: "stretch", DueTimestamp: nowTS - 60, SnoozedUntil: nowTS + 3600}
	future := &Reminder{Title: "standup", DueTimestamp: nowTS + 3600}
	require.NoError(t, db.CreateReminder(ctx, due))
	require.NoError(t, db.CreateReminder(ctx, snoozed))
	require.NoError(t, db.CreateReminder(ctx, future))

	hits, err := db.DueReminders(ctx, nowTS)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "call mom", hits[0].Title)

	require.NoError(t, db.CompleteReminder(ctx, due.ID))
	hits, err = db.DueReminders(ctx, nowTS)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestImminentEventsWindow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	nowTS := Timestamp(time.Now())

	soon := &CalendarEvent{
		Title:           "dentist",
		StartTimestamp:  nowTS + 10*60,
		EndTimestamp:    nowTS + 40*60,
		ReminderMinutes: 15,
	}
	later := &CalendarEvent{
		Title:           "flight",
		StartTimestamp:  nowTS + 5*3600,
		EndTimestamp:    nowTS + 8*3600,
		ReminderMinutes: 30,
	}
	require.NoError(t, db.CreateCalendarEvent(ctx, soon))
	require.NoError(t, db.CreateCalendarEvent(ctx, later))

	hits, err := db.ImminentEvents(ctx, nowTS)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "dentist", hits[0].Title)
}

func TestTaskStatusTransitions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	task := &Task{Title: "write report", Priority: PriorityHigh}
	require.NoError(t, db.CreateTask(ctx, task))

	pending, err := db.ListTasks(ctx, TaskStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, db.UpdateTaskStatus(ctx, task.ID, TaskStatusDone))
	done, err := db.ListTasks(ctx, TaskStatusDone, 10)
	require.NoError(t, err)
	require.Len(t, done, 1)
	require.NotZero(t, done[0].CompletedAt)

	require.Error(t, db.UpdateTaskStatus(ctx, "nope", TaskStatusDone))
}
