package learning

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"psycho/internal/config"
	"psycho/internal/knowledge"
	"psycho/internal/llm"
	"psycho/internal/storage"
	"psycho/internal/vector"
)

func TestDetectSignalCorrections(t *testing.T) {
	cases := []struct {
		message    string
		wantType   SignalType
		confidence float64
	}{
		{"no, that's wrong, python came out in 1991", SignalCorrection, 0.85},
		{"actually, the answer is 42", SignalCorrection, 0.85},
		{"the correct answer is berlin", SignalCorrection, 0.65},
		{"yes, exactly right", SignalConfirmation, 0.75},
		{"you're right about that", SignalConfirmation, 0.75},
		{"this is useless, you keep getting it wrong", SignalCorrection, 0.85},
		{"how do goroutines work", SignalNone, 0},
		{"ok", SignalNone, 0},
	}
	for _, tc := range cases {
		signal := DetectSignal(tc.message)
		require.Equal(t, tc.wantType, signal.Type, "message: %q", tc.message)
		require.InDelta(t, tc.confidence, signal.Confidence, 1e-9, "message: %q", tc.message)
	}
}

func TestNegatedConfirmationReadsAsCorrection(t *testing.T) {
	signal := DetectSignal("no, that's not right at all")
	require.Equal(t, SignalCorrection, signal.Type)
}

func TestFrustrationSignal(t *testing.T) {
	signal := DetectSignal("seriously? come on!")
	require.Equal(t, SignalFrustration, signal.Type)
	require.InDelta(t, 0.6, signal.Confidence, 1e-9)
}

func TestExtractCorrectionTarget(t *testing.T) {
	require.Equal(t, "the answer is 42 not 41",
		ExtractCorrectionTarget("actually, the answer is 42 not 41."))
	require.Equal(t, "1991, when guido released it",
		ExtractCorrectionTarget("should be 1991, when guido released it."))
	require.Empty(t, ExtractCorrectionTarget("??"))
}

func newTestTracker(t *testing.T) *MistakeTracker {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "psycho.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	vectors, err := vector.Open("", vector.NewLocalEmbedder(), nil)
	require.NoError(t, err)
	return NewMistakeTracker(db, vectors, nil)
}

func TestMistakeWarningsSurfaceForSimilarQuestions(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.RecordMistake(ctx, "s1",
		"when was python first released",
		"python was released in 1995",
		"python was released in 1991", "coding", "date_error")
	require.NoError(t, err)

	warnings := tracker.WarningsFor(ctx, "when was python first released exactly")
	require.NotEmpty(t, warnings)
	require.Contains(t, warnings[0], "python was released in 1991")

	block := tracker.BuildWarningBlock(warnings)
	require.Contains(t, block, "KNOWN FAILURE PATTERNS")
	require.Contains(t, block, "Think carefully")

	mistakes, err := tracker.Mistakes(ctx, "coding", 10)
	require.NoError(t, err)
	require.Len(t, mistakes, 1)
	require.Equal(t, 1, mistakes[0].SimilarCount, "surfacing a warning bumps the counter")
}

func TestMistakeWarningsRespectSimilarityFloor(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.RecordMistake(ctx, "s1",
		"what is the boiling point of water at sea level",
		"it boils at 90 degrees", "100 degrees celsius", "general", "")
	require.NoError(t, err)

	warnings := tracker.WarningsFor(ctx, "recommend good jazz records for rainy evenings")
	require.Empty(t, warnings)
}

func TestBuildWarningBlockEmpty(t *testing.T) {
	tracker := newTestTracker(t)
	require.Empty(t, tracker.BuildWarningBlock(nil))
}

func newSeededGraph(t *testing.T) *knowledge.Graph {
	t.Helper()
	store, err := knowledge.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	index, err := vector.Open("", vector.NewLocalEmbedder(), nil)
	require.NoError(t, err)
	g := knowledge.NewGraph(store, index, config.DefaultTuning(), nil)
	ctx := context.Background()
	for _, label := range []string{"python", "asyncio", "type hints", "minimal dependencies", "code review"} {
		g.UpsertNode(ctx, knowledge.NewNode(knowledge.NodeConcept, label, "coding", nil, 0.7, "s1"))
	}
	return g
}

func TestInsightGenerationAddsGraphNodes(t *testing.T) {
	g := newSeededGraph(t)
	mock := llm.NewMock(`{"insights": [
		{"insight": "user optimizes for simple, typed python", "basis": "type hints + minimal deps", "confidence": 0.9, "domain": "coding", "actionable": "suggest stdlib-first solutions"},
		{"insight": "too vague", "basis": "", "confidence": 0.2, "domain": "general", "actionable": ""}
	]}`)

	generator := NewInsightGenerator(mock, g, nil)
	insights, err := generator.Generate(context.Background(), "talked about python tooling", 30)
	require.NoError(t, err)
	require.Len(t, insights, 1, "low-confidence insights are dropped")
	require.InDelta(t, 0.75, insights[0].Confidence, 1e-9, "insight confidence is capped")

	node := g.FindNodeByLabel("user optimizes for simple, typed python", knowledge.NodeConcept)
	require.NotNil(t, node)
	require.Equal(t, "insight_generator", node.Properties["generated_by"])
}

func TestInsightGenerationSkipsSparseGraph(t *testing.T) {
	store, err := knowledge.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	index, err := vector.Open("", vector.NewLocalEmbedder(), nil)
	require.NoError(t, err)
	g := knowledge.NewGraph(store, index, config.DefaultTuning(), nil)

	mock := llm.NewMock(`{"insights": []}`)
	generator := NewInsightGenerator(mock, g, nil)
	insights, err := generator.Generate(context.Background(), "", 30)
	require.NoError(t, err)
	require.Empty(t, insights)
	require.Empty(t, mock.Requests, "sparse graphs must not spend a model call")
}

func TestJournalWriteAndLatest(t *testing.T) {
	dir := t.TempDir()
	journal, err := NewJournal(dir, nil)
	require.NoError(t, err)

	reflection := &Reflection{
		SessionSummary: "debugged asyncio deadlock, corrected python release year",
		KeyLearnings:   []Learning{{Fact: "user runs python 3.12", Domain: "coding", Confidence: 0.8}},
		CorrectionsDetected: []Correction{
			{Wrong: "python released in 1995", Correct: "python released in 1991"},
		},
		QualityScore: 0.82,
	}
	changes := knowledge.IntegrationStats{NodesAdded: 3, EdgesAdded: 2}

	path, err := journal.Write("session-1", time.Now().Add(-30*time.Minute), reflection, changes, 14)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.FileExists(t, strings.TrimSuffix(path, ".json")+".md")

	md, err := os.ReadFile(strings.TrimSuffix(path, ".json") + ".md")
	require.NoError(t, err)
	require.Contains(t, string(md), "# Session Journal")
	require.Contains(t, string(md), "~~python released in 1995~~ → **python released in 1991**")
	require.Contains(t, string(md), "## Graph Evolution")

	entries := journal.Latest(5)
	require.Len(t, entries, 1)
	require.Equal(t, "session-1", entries[0].SessionID)
	require.InDelta(t, 30.0, entries[0].DurationMinutes, 0.2)
	require.Equal(t, 3, entries[0].GraphChanges.NodesAdded)
}
