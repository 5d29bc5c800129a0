package domains

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"psycho/internal/llm"
	"psycho/internal/storage"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "psycho.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRouterKeywordClassification(t *testing.T) {
	router := NewRouter(llm.NewMock(), nil)
	ctx := context.Background()

	cases := map[string]string{
		"my python function throws an exception": DomainCoding,
		"i slept 6 hours and feel tired":         DomainHealth,
		"remind me to call the dentist tomorrow": DomainTasks,
		"hi":                                     DomainGeneral,
	}
	for message, want := range cases {
		require.Equal(t, want, router.Classify(ctx, message), "message: %q", message)
	}
}

func TestRouterModelFallbackAndCache(t *testing.T) {
	mock := llm.NewMock(`{"domain": "health", "confidence": 0.8}`)
	router := NewRouter(mock, nil)
	ctx := context.Background()

	msg := "how do macronutrients influence recovery"
	require.Equal(t, DomainHealth, router.Classify(ctx, msg))
	require.Equal(t, 1, mock.Calls())

	// Second classification of the same message hits the cache.
	require.Equal(t, DomainHealth, router.Classify(ctx, msg))
	require.Equal(t, 1, mock.Calls())
}

func TestRouterUnknownDomainFallsBackToGeneral(t *testing.T) {
	mock := llm.NewMock(`{"domain": "finance", "confidence": 0.9}`)
	router := NewRouter(mock, nil)
	require.Equal(t, DomainGeneral, router.Classify(context.Background(), "what about my portfolio allocation"))
}

func TestExtractCodeBlocks(t *testing.T) {
	response := "Here you go:\n```python\nprint('hi')\n```\nand a shell step:\n```bash\nls -la\n```\n"
	blocks := ExtractCodeBlocks(response)
	require.Len(t, blocks, 2)
	require.Equal(t, "python", blocks[0].Language)
	require.Equal(t, "print('hi')", blocks[0].Code)
	require.Equal(t, "bash", blocks[1].Language)
}

func TestCodingHandlerDetectsBlocksWithoutRunTrigger(t *testing.T) {
	handler := NewCodingHandler(newTestDB(t), nil)
	ex := Exchange{SessionID: "s1", UserMessage: "show me a fizzbuzz", Domain: DomainCoding}
	result, err := handler.PostProcess(context.Background(),
		ex, "```python\nfor i in range(5): print(i)\n```")
	require.NoError(t, err)
	require.Len(t, result.CodeBlocks, 1)
	require.Contains(t, result.ActionsTaken[0], "Detected 1 code block")
}

func TestExecutorRejectsUnsupportedLanguage(t *testing.T) {
	executor := NewExecutor(nil)
	result := executor.Execute(context.Background(), "fmt.Println(1)", "go")
	require.False(t, result.Success())
	require.Contains(t, result.Error, "only supported for Python")
}

func TestTaskTitleExtraction(t *testing.T) {
	require.Equal(t, "Call john about the contract",
		ExtractTaskTitle("remind me to call john about the contract"))
	require.Equal(t, storage.PriorityUrgent, DetectPriority("this is urgent, do it asap"))
	require.Equal(t, storage.PriorityNormal, DetectPriority("call john sometime"))

	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC) // a Monday
	require.Equal(t, "2026-08-25", DetectDueDate("do it tomorrow", now))
	require.Equal(t, "2026-08-28", DetectDueDate("finish this week", now))
	require.Equal(t, "", DetectDueDate("no date here at all", now))
}

func TestTaskHandlerCreatesTaskAndInjectsSummary(t *testing.T) {
	db := newTestDB(t)
	handler := NewTaskHandler(db, nil)
	ctx := context.Background()

	ex := Exchange{SessionID: "s1", UserMessage: "remind me to renew the domain, it's important", Domain: DomainTasks}
	result, err := handler.PostProcess(ctx, ex, "Sure, I'll keep track of that.")
	require.NoError(t, err)
	require.False(t, result.Empty())
	require.Contains(t, result.ActionsTaken[0], "Task created")

	pending, err := handler.Manager().Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, storage.PriorityHigh, pending[0].Priority)

	summary, err := handler.PromptContext(ctx, "s1")
	require.NoError(t, err)
	require.Contains(t, summary, "PENDING TASKS (1)")
	require.Contains(t, summary, "[HIGH]")
}

func TestTaskHandlerIgnoresNonTaskMessages(t *testing.T) {
	handler := NewTaskHandler(newTestDB(t), nil)
	result, err := handler.PostProcess(context.Background(),
		Exchange{SessionID: "s1", UserMessage: "what's the capital of portugal"}, "Lisbon.")
	require.NoError(t, err)
	require.True(t, result.Empty())
}

func TestExtractMetrics(t *testing.T) {
	metrics := ExtractMetrics("weighed 82.5 kg today, slept 7 hours, walked 9,500 steps")
	byType := map[string]MetricMatch{}
	for _, m := range metrics {
		byType[m.MetricType] = m
	}
	require.InDelta(t, 82.5, byType["weight"].Value, 1e-9)
	require.InDelta(t, 7, byType["sleep"].Value, 1e-9)
	require.InDelta(t, 9500, byType["steps"].Value, 1e-9)
}

func TestHealthHandlerLogsAndSummarizes(t *testing.T) {
	db := newTestDB(t)
	handler := NewHealthHandler(db, nil)
	ctx := context.Background()

	ex := Exchange{SessionID: "s1", UserMessage: "slept 6 hours, feeling like a 4/10", Domain: DomainHealth}
	result, err := handler.PostProcess(ctx, ex, "That's a rough night.")
	require.NoError(t, err)
	require.Len(t, result.ActionsTaken, 2)

	summary, err := handler.PromptContext(ctx, "s1")
	require.NoError(t, err)
	require.Contains(t, summary, "HEALTH METRICS")
	require.Contains(t, summary, "sleep: avg=6.00hours")
	require.Contains(t, summary, "mood: avg=4.00/10")
}

func TestGeneralHandlerIsPassThrough(t *testing.T) {
	handler := NewGeneralHandler()
	result, err := handler.PostProcess(context.Background(),
		Exchange{SessionID: "s1", UserMessage: "tell me a story"}, "Once upon a time...")
	require.NoError(t, err)
	require.True(t, result.Empty())
	addendum := handler.SystemAddendum()
	require.Empty(t, addendum)
}
