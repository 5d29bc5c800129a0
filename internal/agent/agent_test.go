package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"psycho/internal/config"
	"psycho/internal/knowledge"
	"psycho/internal/learning"
	"psycho/internal/llm"
	"psycho/internal/memory"
	"psycho/internal/proactive"
	"psycho/internal/storage"
	"psycho/internal/vector"
)

type testEnv struct {
	loop     *Loop
	memory   *memory.Manager
	graph    *knowledge.Graph
	evolver  *knowledge.Evolver
	mistakes *learning.MistakeTracker
	checkin  *proactive.CheckinEngine
	client   *llm.Mock
}

func newTestEnv(t *testing.T, client *llm.Mock) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(filepath.Join(t.TempDir(), "psycho.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	vectors, err := vector.Open("", vector.NewLocalEmbedder(), nil)
	require.NoError(t, err)

	cfg := &config.Config{
		MaxShortTermMessages: 20,
		MaxContextMemories:   5,
		Tuning:               config.DefaultTuning(),
	}
	mem, err := memory.NewManager(ctx, cfg, db, vectors, nil)
	require.NoError(t, err)

	store, err := knowledge.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	graph := knowledge.NewGraph(store, vectors, cfg.Tuning, nil)
	evolver := knowledge.NewEvolver(graph, cfg.Tuning, nil)
	mistakes := learning.NewMistakeTracker(db, vectors, nil)
	checkin := proactive.NewCheckinEngine()

	loop := NewLoop(LoopDeps{
		SessionID: "test-session",
		Client:    client,
		Memory:    mem,
		Graph:     graph,
		Evolver:   evolver,
		Extractor: knowledge.NewExtractor(nil, nil),
		Reasoner:  knowledge.NewReasoner(graph),
		Mistakes:  mistakes,
		Checkin:   checkin,
	})
	t.Cleanup(loop.Close)
	return &testEnv{
		loop:     loop,
		memory:   mem,
		graph:    graph,
		evolver:  evolver,
		mistakes: mistakes,
		checkin:  checkin,
		client:   client,
	}
}

func TestDetectAgentNameAssignment(t *testing.T) {
	require.Equal(t, "Vera", detectAgentNameAssignment("From now on, your name is Vera"))
	require.Equal(t, "Max", detectAgentNameAssignment("I'll call you Max"))
	require.Equal(t, "Jarvis", detectAgentNameAssignment("you're now jarvis"))
	// Stopwords are never names.
	require.Empty(t, detectAgentNameAssignment("your name is the best"))
	require.Empty(t, detectAgentNameAssignment("what is the weather like"))
}

func TestProcessReturnsResponseAndRecordsMemory(t *testing.T) {
	env := newTestEnv(t, llm.NewMock("Hello! Ready when you are."))

	turn := env.loop.Process(context.Background(), "hey, good to see you")

	require.Equal(t, "Hello! Ready when you are.", turn.AgentResponse)
	require.Equal(t, 1, env.memory.ShortTerm.Len())
	require.False(t, turn.CompletedAt.IsZero())
	require.NotEmpty(t, turn.InteractionID)

	history, err := env.memory.RecentHistory(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "hey, good to see you", history[0].UserMessage)
}

func TestProcessLLMFailureProducesApology(t *testing.T) {
	mock := llm.NewMock()
	mock.FailWith(errors.New("connection refused"))
	env := newTestEnv(t, mock)

	turn := env.loop.Process(context.Background(), "hello?")

	require.Contains(t, turn.AgentResponse, "I ran into an error")
	require.Contains(t, turn.AgentResponse, "connection refused")
	// The failed turn is still remembered so the user can refer back to it.
	require.Equal(t, 1, env.memory.ShortTerm.Len())
}

func TestStreamProcessAccumulatesTokens(t *testing.T) {
	env := newTestEnv(t, llm.NewMock("streamed reply here"))

	var got strings.Builder
	turn := env.loop.StreamProcess(context.Background(), "talk to me", func(token string) error {
		got.WriteString(token)
		return nil
	})

	require.Equal(t, "streamed reply here", turn.AgentResponse)
	require.Equal(t, "streamed reply here", got.String())
}

func TestProcessWithImageDefaultsPromptAndEmitsResponse(t *testing.T) {
	env := newTestEnv(t, llm.NewMock("A chart of monthly revenue."))

	var emitted string
	turn := env.loop.ProcessWithImage(context.Background(), "", []byte{0xFF, 0xD8}, "image/jpeg", func(token string) error {
		emitted = token
		return nil
	})

	require.Equal(t, "A chart of monthly revenue.", turn.AgentResponse)
	require.Equal(t, "A chart of monthly revenue.", emitted)
	require.Equal(t, "Describe and analyse this image in detail.", turn.UserMessage)
	require.Equal(t, []byte{0xFF, 0xD8}, turn.ImageData)
}

func TestCorrectionSignalSetsFlagAndStress(t *testing.T) {
	env := newTestEnv(t, llm.NewMock("You're right, it's Canberra. Noted."))
	env.memory.ShortTerm.Add("What's the capital of Australia?", "It's Sydney.")

	turn := env.loop.Process(context.Background(),
		"No, that's wrong. Actually, the capital of Australia is Canberra.")

	require.True(t, turn.IsCorrection)
	require.Equal(t, learning.SignalCorrection, turn.SignalType)
	require.Equal(t, 1, env.checkin.StressCount())

	last := env.client.Requests[len(env.client.Requests)-1]
	require.Contains(t, last.System, "The user is correcting something I said")
}

func TestConfirmationSignalSetsFlag(t *testing.T) {
	env := newTestEnv(t, llm.NewMock("Glad that landed."))
	env.memory.ShortTerm.Add("Does Go have generics?", "Yes, since Go 1.18.")

	turn := env.loop.Process(context.Background(), "Yes, exactly right!")

	require.True(t, turn.IsConfirmation)
	require.Equal(t, learning.SignalConfirmation, turn.SignalType)
}

func TestAgentNameAssignmentStoredInGraph(t *testing.T) {
	env := newTestEnv(t, llm.NewMock("Vera it is."))

	env.loop.Process(context.Background(), "From now on, your name is Vera")

	require.Equal(t, "Vera", env.loop.AgentName())
	node := env.graph.FindNodeByLabel("agent_name:vera", knowledge.NodePreference)
	require.NotNil(t, node)
	require.InDelta(t, 0.95, node.Confidence, 0.001)
}

func TestBuildSystemPromptAssembly(t *testing.T) {
	env := newTestEnv(t, llm.NewMock("ok"))

	turn := newTurnContext("test-session", "hello")
	turn.GraphContext = "graph context block"
	turn.MistakeWarnings = []string{"Avoid recommending deprecated flags."}
	turn.RetrievedMemories = []memory.Recalled{
		{UserMessage: "we discussed sqlite", AgentResponse: "yes, WAL mode", Relevance: 0.8},
	}
	turn.SearchResults = "search results block"
	turn.ReminderContext = reminderContextHeader + "\nreminder block"
	turn.IsCorrection = true

	// Early afternoon, outside both checkin windows.
	now := time.Date(2026, time.August, 24, 14, 30, 0, 0, time.UTC)
	prompt := env.loop.buildSystemPrompt(turn, now)

	require.Contains(t, prompt, "You are "+DefaultAgentName+".")
	require.NotContains(t, prompt, "{name}")
	require.Contains(t, prompt, "Current date and time: Monday, August 24 2026 at 14:30")
	require.Contains(t, prompt, "graph context block")
	require.Contains(t, prompt, "search results block")
	require.Contains(t, prompt, "RELEVANT PAST CONTEXT")
	require.Contains(t, prompt, "[★★★] You: we discussed sqlite")
	require.Contains(t, prompt, reminderContextHeader)
	require.Contains(t, prompt, "The user is correcting something I said")
}

func TestBuildUserProfileFromGraph(t *testing.T) {
	env := newTestEnv(t, llm.NewMock("ok"))
	ctx := context.Background()

	user := knowledge.NewNode(knowledge.NodePerson, "user", "general",
		map[string]any{"name": "Ada", "occupation": "firmware engineer"}, 0.9, "test")
	env.graph.UpsertNode(ctx, user)
	env.graph.UpsertNode(ctx, knowledge.NewNode(knowledge.NodePreference,
		"current_project:home automation hub", "coding", nil, 0.85, "test"))
	env.graph.UpsertNode(ctx, knowledge.NewNode(knowledge.NodePreference,
		"prefers dark mode everywhere", "general", nil, 0.8, "test"))
	env.graph.UpsertNode(ctx, knowledge.NewNode(knowledge.NodePreference,
		"agent_name:vera", "general", map[string]any{"value": "Vera"}, 0.95, "test"))
	env.graph.UpsertNode(ctx, knowledge.NewNode(knowledge.NodeTechnology,
		"rust", "coding", nil, 0.7, "test"))

	profile := buildUserProfile(env.graph)

	require.Contains(t, profile, "WHAT I KNOW ABOUT YOU")
	require.Contains(t, profile, "Name: Ada")
	require.Contains(t, profile, "Occupation: firmware engineer")
	require.Contains(t, profile, "current_project:home automation hub")
	require.Contains(t, profile, "prefers dark mode everywhere")
	require.Contains(t, profile, "Known technologies: rust")
	// Internal bookkeeping preferences never leak into the profile.
	require.NotContains(t, profile, "agent_name")
}

func TestBuildUserProfileEmptyGraph(t *testing.T) {
	env := newTestEnv(t, llm.NewMock("ok"))
	require.Empty(t, buildUserProfile(env.graph))
}

func TestMemoryRecallTag(t *testing.T) {
	require.Equal(t, "★★★", memoryRecallTag(0.9))
	require.Equal(t, "★★", memoryRecallTag(0.6))
	require.Equal(t, "★", memoryRecallTag(0.4))
}

func TestLastAccessorsTrackMostRecentTurn(t *testing.T) {
	env := newTestEnv(t, llm.NewMock("done"))

	env.loop.Process(context.Background(), "just saying hi")

	require.Equal(t, "general", env.loop.LastDomain())
	require.Empty(t, env.loop.LastSearchQuery())
	require.Empty(t, env.loop.LastPersonalityChanges())
}

func TestProcessQueuesBackgroundExtraction(t *testing.T) {
	client := llm.NewMock(
		"Noted, asyncio it is.",
		`{"entities": [{"label": "asyncio", "type": "library", "domain": "coding", "properties": {}}], "key_facts": ["user prefers asyncio for concurrency"]}`)
	env := newTestEnv(t, client)

	loop := NewLoop(LoopDeps{
		SessionID:         "test-session",
		Client:            client,
		Memory:            env.memory,
		Graph:             env.graph,
		Evolver:           env.evolver,
		Extractor:         knowledge.NewExtractor(client, nil),
		Reasoner:          knowledge.NewReasoner(env.graph),
		Mistakes:          env.mistakes,
		Checkin:           env.checkin,
		ExtractionEnabled: true,
	})
	t.Cleanup(loop.Close)

	loop.Process(context.Background(), "I prefer asyncio over threads for my concurrency work")
	loop.WaitBackground()

	require.NotNil(t, env.graph.FindNodeByLabel("asyncio", knowledge.NodeTechnology),
		"the queued extraction pass lands entities in the graph")
}

func newTestReflectionEngine(t *testing.T, env *testEnv, client *llm.Mock) *ReflectionEngine {
	t.Helper()
	journal, err := learning.NewJournal(t.TempDir(), nil)
	require.NoError(t, err)
	reasoner := knowledge.NewReasoner(env.graph)
	insights := learning.NewInsightGenerator(client, env.graph, nil)
	return NewReflectionEngine(client, env.memory, env.graph, env.evolver,
		reasoner, env.mistakes, insights, journal, nil)
}

func TestReflectionEmptySessionSkipsModel(t *testing.T) {
	client := llm.NewMock(`{}`)
	env := newTestEnv(t, client)
	engine := newTestReflectionEngine(t, env, client)

	result, err := engine.Run(context.Background(), "test-session", time.Now())
	require.NoError(t, err)
	require.False(t, result.IsMeaningful())
	require.Zero(t, client.Calls())
}

func TestReflectionRunAppliesFindings(t *testing.T) {
	reflectionJSON := `{
		"session_summary": "Helped set up a Go project and corrected a dependency claim.",
		"quality_score": 0.8,
		"key_learnings": [
			{"fact": "user is building a home automation hub in go", "domain": "coding", "confidence": 0.8}
		],
		"corrections_detected": [
			{"wrong": "sqlite journal mode", "correct": "WAL, not DELETE", "context": "database setup", "user_input_that_triggered": "no, use WAL mode"}
		],
		"patterns_observed": [
			{"pattern": "user asks about tooling before writing code", "implication": "lead with setup guidance"}
		],
		"knowledge_gaps": [],
		"insights": [],
		"nodes_to_boost": ["go modules"],
		"nodes_to_drop": ["python 2 support"]
	}`
	client := llm.NewMock(reflectionJSON)
	env := newTestEnv(t, client)
	ctx := context.Background()

	env.graph.UpsertNode(ctx, knowledge.NewNode(knowledge.NodeTechnology, "go modules", "coding", nil, 0.6, "test"))
	env.graph.UpsertNode(ctx, knowledge.NewNode(knowledge.NodeTechnology, "python 2 support", "coding", nil, 0.5, "test"))
	env.graph.UpsertNode(ctx, knowledge.NewNode(knowledge.NodeFact, "sqlite journal mode", "coding", nil, 0.5, "test"))

	require.NoError(t, env.memory.AddInteraction(ctx, "test-session",
		"How do I set up dependencies for my Go project?",
		"Use go modules, and SQLite in DELETE journal mode.", "coding", 40))

	engine := newTestReflectionEngine(t, env, client)
	result, err := engine.Run(ctx, "test-session", time.Now().Add(-10*time.Minute))
	require.NoError(t, err)

	require.True(t, result.IsMeaningful())
	require.Equal(t, 1, result.NodesBoosted)
	require.Equal(t, 1, result.NodesDropped)
	require.Equal(t, 1, result.CorrectionsApplied)
	require.Equal(t, 1, result.FactsAdded)
	require.Equal(t, 1, result.MistakesRecorded)
	require.Len(t, result.Reflection.KeyLearnings, 1)
	require.Len(t, result.Reflection.PatternsObserved, 1)
	require.Contains(t, result.DisplaySummary(), "Quality: 0.80")

	require.NotEmpty(t, result.JournalPath)
	_, statErr := os.Stat(result.JournalPath)
	require.NoError(t, statErr)

	// The learned fact landed in the graph.
	fact := env.graph.FindNodeByLabel("user is building a home automation hub in go", knowledge.NodeFact)
	require.NotNil(t, fact)
}

func TestReflectionDisplaySummaryNilSafe(t *testing.T) {
	var r *ReflectionResult
	require.Equal(t, "No reflection produced.", r.DisplaySummary())
	require.False(t, r.IsMeaningful())
}
