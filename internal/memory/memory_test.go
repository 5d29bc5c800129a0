package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"psycho/internal/config"
	"psycho/internal/storage"
	"psycho/internal/vector"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "psycho.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	vectors, err := vector.Open("", vector.NewLocalEmbedder(), nil)
	require.NoError(t, err)

	cfg := &config.Config{MaxShortTermMessages: 20, MaxContextMemories: 5}
	manager, err := NewManager(context.Background(), cfg, db, vectors, nil)
	require.NoError(t, err)
	return manager
}

func TestShortTermEvictsOldestBeyondCap(t *testing.T) {
	st := NewShortTerm(3)
	for i := 0; i < 5; i++ {
		st.Add(fmt.Sprintf("question %d", i), fmt.Sprintf("answer %d", i))
	}
	require.Equal(t, 3, st.Len())

	turns := st.Turns()
	require.Equal(t, "question 2", turns[0].User)
	require.Equal(t, "question 4", turns[2].User)

	messages := st.Messages()
	require.Len(t, messages, 6)
	require.Equal(t, "question 2", messages[0].Content)
	require.Equal(t, "answer 2", messages[1].Content)
}

func TestShortTermClear(t *testing.T) {
	st := NewShortTerm(5)
	st.Add("hi", "hello")
	st.Clear()
	require.Zero(t, st.Len())
	require.Empty(t, st.Messages())
}

func TestAddInteractionFansOutToAllTiers(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	session, err := manager.DB().CreateSession(ctx, "coding")
	require.NoError(t, err)

	require.NoError(t, manager.AddInteraction(ctx, session.ID,
		"how do rust lifetimes work in detail",
		"lifetimes tie borrows to scopes...", "coding", 100))

	require.Equal(t, 1, manager.ShortTerm.Len())

	history, err := manager.RecentHistory(ctx, 5)
	require.NoError(t, err)
	require.Len(t, history, 1)

	events, err := manager.Episodic.RecentEvents(ctx, storage.EventInteraction, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, session.ID, events[0].SessionID)

	stats, err := manager.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats["short_term_turns"])
	require.Equal(t, 1, stats["total_events"])
}

func TestRetrieveContextPrefersSemanticRecall(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	session, err := manager.DB().CreateSession(ctx, "")
	require.NoError(t, err)

	require.NoError(t, manager.AddInteraction(ctx, session.ID,
		"we debugged the asyncio event loop deadlock yesterday",
		"the deadlock came from a nested run_until_complete call", "coding", 0))
	require.NoError(t, manager.AddInteraction(ctx, session.ID,
		"my marathon training plan for spring",
		"week one starts with easy five kilometer runs", "health", 0))

	recalled, err := manager.RetrieveContext(ctx, "asyncio issues we talked about", "")
	require.NoError(t, err)
	require.NotEmpty(t, recalled)
	require.Contains(t, recalled[0].UserMessage, "asyncio")
	require.GreaterOrEqual(t, recalled[0].Relevance, DefaultMinRelevance)
}

func TestRetrieveContextKeywordFallback(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	session, err := manager.DB().CreateSession(ctx, "")
	require.NoError(t, err)
	// Insert directly into sqlite so the vector index stays empty.
	require.NoError(t, manager.DB().InsertInteraction(ctx, &storage.Interaction{
		SessionID:     session.ID,
		UserMessage:   "remind me about kubernetes ingress setup",
		AgentResponse: "you used the nginx ingress controller",
		Domain:        "coding",
	}))

	recalled, err := manager.RetrieveContext(ctx, "kubernetes", "")
	require.NoError(t, err)
	require.Len(t, recalled, 1)
	require.Contains(t, recalled[0].UserMessage, "kubernetes")
}

func TestSemanticDomainFilterAndThreshold(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Semantic.StoreInteraction(ctx, "s1",
		"sleep quality tracking with the oura ring", "average was 7h12m", "health", "")
	require.NoError(t, err)
	_, err = manager.Semantic.StoreInteraction(ctx, "s1",
		"sleeping goroutines and scheduler latency", "runtime traces show...", "coding", "")
	require.NoError(t, err)

	hits, err := manager.Semantic.SearchInteractions(ctx, "sleep tracking", 5, "health", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "health", hits[0].Domain)
}

func TestEpisodicTimelineOrderAndImportance(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Episodic.LogEvent(ctx, "s1", storage.EventSessionStart, nil, "general", 0.3)
	require.NoError(t, err)
	_, err = manager.Episodic.LogEvent(ctx, "s1", storage.EventCorrection,
		map[string]any{"wrong": "1995", "correct": "1991"}, "coding", 0.9)
	require.NoError(t, err)

	timeline, err := manager.Episodic.SessionEvents(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	require.Equal(t, storage.EventSessionStart, timeline[0].EventType)

	important, err := manager.Episodic.ImportantEvents(ctx, 0.7, 10)
	require.NoError(t, err)
	require.Len(t, important, 1)
	content := DecodeContent(important[0])
	require.Equal(t, "1991", content["correct"])
}

func TestStoreAndSearchFacts(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, manager.Semantic.StoreFact(ctx, "f1",
		"the user works remotely from lisbon", "general", 0.8))

	facts, err := manager.Semantic.SearchFacts(ctx, "where does the user work from", 5, 0.3)
	require.NoError(t, err)
	require.NotEmpty(t, facts)
	require.Contains(t, facts[0].Content, "lisbon")
	require.InDelta(t, 0.8, facts[0].Confidence, 1e-9)
}
