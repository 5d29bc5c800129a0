package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"psycho/internal/llm"
)

const sampleExtraction = `{
  "entities": [
    {"label": "Python", "type": "language", "domain": "coding", "properties": {"version": "3.12"}},
    {"label": "asyncio", "type": "library", "domain": "coding", "properties": {}},
    {"label": "x", "type": "concept", "domain": "coding", "properties": {}}
  ],
  "relationships": [
    {"from_label": "asyncio", "to_label": "python", "type": "part_of"},
    {"from_label": "asyncio", "to_label": "missing", "type": "relates_to"}
  ],
  "user_preferences": [
    {"label": "prefers type hints everywhere", "domain": "coding"}
  ],
  "corrections": [
    {"wrong_label": "python released in 1995", "correct_label": "python released in 1991", "explanation": "year fixed"}
  ],
  "key_facts": [
    "asyncio landed in python 3.4",
    "short"
  ],
  "open_questions": [
    "does the user want strict mypy settings"
  ]
}`

func TestExtractFromInteractionParsesFullResult(t *testing.T) {
	mock := llm.NewMock(sampleExtraction)
	extractor := NewExtractor(mock, nil)

	result := extractor.FromInteraction(context.Background(),
		"I use python 3.12 with asyncio, and btw python came out in 1991 not 1995",
		"Good catch, noted. asyncio has been in the stdlib since 3.4.",
		"session-1", "coding")

	require.Len(t, result.Entities, 2, "single-char labels are dropped")
	require.Equal(t, NodeTechnology, result.Entities[0].Type, "language alias maps to technology")
	require.Equal(t, "python", result.Entities[0].Label)
	require.Equal(t, []string{"session-1"}, result.Entities[0].Sources)
	require.InDelta(t, 0.5, result.Entities[0].Confidence, 1e-9)

	require.Len(t, result.Edges, 1, "edges to unknown labels are dropped")
	require.Equal(t, EdgePartOf, result.Edges[0].Type)
	require.InDelta(t, 0.6, result.Edges[0].Confidence, 1e-9)

	require.Len(t, result.Preferences, 1)
	require.InDelta(t, 0.7, result.Preferences[0].Confidence, 1e-9)

	require.Len(t, result.Corrections, 1)
	require.Equal(t, "python released in 1995", result.Corrections[0].Wrong)

	require.Len(t, result.Facts, 1, "facts under 10 chars are dropped")
	require.InDelta(t, 0.6, result.Facts[0].Confidence, 1e-9)

	require.Len(t, result.Questions, 1)
}

func TestExtractParsesUserIdentity(t *testing.T) {
	mock := llm.NewMock(`{
  "entities": [],
  "user_identity": {"name": "Alice", "occupation": "data engineer", "current_project": "Trading Bot", "language": "Rust"}
}`)
	extractor := NewExtractor(mock, nil)

	result := extractor.FromInteraction(context.Background(),
		"hi, I'm Alice, a data engineer building a trading bot in rust",
		"Nice to meet you Alice! Rust is a great fit for that.",
		"s1", "general")

	var user, tech *Node
	for _, n := range result.Entities {
		switch {
		case n.Type == NodePerson && n.Label == "user":
			user = n
		case n.Type == NodeTechnology:
			tech = n
		}
	}
	require.NotNil(t, user, "self-introduction creates the user person node")
	require.Equal(t, "Alice", user.DisplayLabel)
	require.Equal(t, "Alice", user.Properties["name"])
	require.Equal(t, "data engineer", user.Properties["occupation"])
	require.InDelta(t, 0.95, user.Confidence, 1e-9)

	require.NotNil(t, tech)
	require.Equal(t, "rust", tech.Label)
	require.InDelta(t, 0.75, tech.Confidence, 1e-9)

	prefs := map[string]float64{}
	for _, p := range result.Preferences {
		prefs[p.Label] = p.Confidence
	}
	require.InDelta(t, 0.8, prefs["occupation: data engineer"], 1e-9)
	require.InDelta(t, 0.8, prefs["current_project: trading bot"], 1e-9)
}

func TestExtractCapsEntitiesAndPropertyLength(t *testing.T) {
	entities := []string{fmt.Sprintf(
		`{"label": "postgres", "type": "tool", "domain": "coding", "properties": {"notes": %q}}`,
		strings.Repeat("x", 62))}
	for i := 0; i < 11; i++ {
		entities = append(entities, fmt.Sprintf(
			`{"label": "entity%02d", "type": "concept", "domain": "general", "properties": {}}`, i))
	}
	mock := llm.NewMock(`{"entities": [` + strings.Join(entities, ",") + `]}`)
	extractor := NewExtractor(mock, nil)

	result := extractor.FromInteraction(context.Background(),
		"tell me everything about my whole infrastructure setup",
		"here is a very long rundown of every component involved",
		"s1", "coding")

	require.Len(t, result.Entities, 8, "a chatty model cannot flood the graph")
	notes := result.Entities[0].Properties["notes"].(string)
	require.LessOrEqual(t, len(notes), 30)
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	s := "a" + strings.Repeat("日", 10)
	out := truncate(s, 30)
	require.True(t, utf8.ValidString(out))
	require.Equal(t, "a"+strings.Repeat("日", 9), out)
	require.Equal(t, "short", truncate("short", 30))
}

func TestExtractSkipsTrivialExchanges(t *testing.T) {
	mock := llm.NewMock(sampleExtraction)
	extractor := NewExtractor(mock, nil)

	result := extractor.FromInteraction(context.Background(), "hi", "hello!", "s1", "general")
	require.True(t, result.IsEmpty())
	require.Empty(t, mock.Requests, "trivial exchanges must not hit the model")
}

func TestExtractToleratesFencedAndTruncatedJSON(t *testing.T) {
	fenced := "```json\n" + `{"entities": [{"label": "redis", "type": "tool", "domain": "coding", "properties": {}}], "key_facts": ["redis keeps data in memory"` + "\n```"
	mock := llm.NewMock(fenced)
	extractor := NewExtractor(mock, nil)

	result := extractor.FromInteraction(context.Background(),
		"tell me about redis and how it stores data please",
		"redis keeps everything in memory with optional persistence",
		"s1", "coding")

	require.Len(t, result.Entities, 1)
	require.Equal(t, "redis", result.Entities[0].Label)
}

func TestExtractReturnsEmptyOnModelFailure(t *testing.T) {
	mock := llm.NewMock().FailWith(errors.New("provider down"))
	extractor := NewExtractor(mock, nil)

	result := extractor.FromInteraction(context.Background(),
		"a long enough question about distributed systems design",
		"a long enough answer that should normally trigger extraction",
		"s1", "general")
	require.True(t, result.IsEmpty())
}

func TestExtractFromTextCarriesSummary(t *testing.T) {
	mock := llm.NewMock(`{"entities": [], "relationships": [], "key_facts": ["the report covers q3 revenue"], "summary": "quarterly revenue report"}`)
	extractor := NewExtractor(mock, nil)

	result := extractor.FromText(context.Background(), "Q3 revenue grew 14%...", "report.pdf", "general")
	require.Equal(t, "quarterly revenue report", result.Summary)
	require.Len(t, result.Facts, 1)
	require.Equal(t, "report.pdf", result.Facts[0].Sources[0])
}
