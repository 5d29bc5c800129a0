package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"psycho/internal/config"
	"psycho/internal/llm"
)

func newTestIngestor(t *testing.T, responses ...string) (*Ingestor, *Graph) {
	t.Helper()
	g := newTestGraph(t)
	evolver := NewEvolver(g, config.DefaultTuning(), nil)
	extractor := NewExtractor(llm.NewMock(responses...), nil)
	return NewIngestor(g, evolver, extractor, nil, nil, nil), g
}

func TestChunkTextBoundaries(t *testing.T) {
	require.Nil(t, chunkText("too short"), "below the minimum nothing is kept")

	single := strings.Repeat("a sentence about go routines. ", 10)
	require.Len(t, chunkText(single), 1)

	para := strings.Repeat("the scheduler moves goroutines between threads. ", 10)
	long := strings.Join([]string{para, para, para, para, para}, "\n\n")
	chunks := chunkText(long)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		require.GreaterOrEqual(t, len(chunk), MinChunkSize)
	}
}

func TestGuessDomain(t *testing.T) {
	require.Equal(t, "coding", guessDomain("/src/main.go"))
	require.Equal(t, "health", guessDomain("notes/diet_plan.md"))
	require.Equal(t, "science", guessDomain("physics_notes.txt"))
	require.Equal(t, "general", guessDomain("todo.txt"))
}

func TestSupportedExtensions(t *testing.T) {
	require.True(t, SupportedExtension(".md"))
	require.True(t, SupportedExtension(".PDF"), "case insensitive")
	require.False(t, SupportedExtension(".exe"))

	exts := SupportedExtensions()
	require.Contains(t, exts, ".md")
	require.IsType(t, []string{}, exts)
	for i := 1; i < len(exts); i++ {
		require.Less(t, exts[i-1], exts[i], "listing is sorted")
	}
}

func TestIngestTextLinksProvenance(t *testing.T) {
	in, g := newTestIngestor(t,
		`{"entities": [{"label": "tailscale", "type": "tool", "domain": "coding", "properties": {}}], "key_facts": ["tailscale builds a mesh vpn on wireguard"]}`)
	ctx := context.Background()

	text := strings.Repeat("tailscale builds a mesh vpn on top of wireguard. ", 5)
	result := in.IngestText(ctx, text, "notes", "coding")

	require.Empty(t, result.Errors)
	require.Equal(t, "notes", result.SourcePath)
	require.Equal(t, "text", result.SourceType)
	require.Equal(t, 1, result.ChunksProcessed)
	require.NotEmpty(t, result.FileNodeID)
	require.Greater(t, result.NodesAdded, 0)

	entity := g.FindNodeByLabel("tailscale", "")
	require.NotNil(t, entity)
	var linked bool
	for _, neighbor := range g.EdgesFrom(entity.ID) {
		if neighbor.Edge.TargetID == result.FileNodeID && neighbor.Edge.Type == EdgeExtractedFrom {
			linked = true
		}
	}
	require.True(t, linked, "extracted entity should point back at its source node")
}

func TestIngestFileRejectsUnsupportedAndMissing(t *testing.T) {
	in, _ := newTestIngestor(t)
	ctx := context.Background()

	result := in.IngestFile(ctx, filepath.Join(t.TempDir(), "nope.txt"))
	require.NotEmpty(t, result.Errors)

	path := filepath.Join(t.TempDir(), "tool.exe")
	require.NoError(t, os.WriteFile(path, []byte("MZ"), 0o644))
	result = in.IngestFile(ctx, path)
	require.Contains(t, result.Errors[0], "unsupported file type")
}

func TestIngestFileMarkdownCarriesTitle(t *testing.T) {
	in, g := newTestIngestor(t,
		`{"entities": [], "key_facts": ["the home lab runs on a single proxmox host"]}`)
	ctx := context.Background()

	content := "# Home Lab\n\n" + strings.Repeat("the home lab runs on a single proxmox host. ", 5)
	path := filepath.Join(t.TempDir(), "lab.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	result := in.IngestFile(ctx, path)
	require.Empty(t, result.Errors)
	require.Equal(t, 1, result.ChunksProcessed)

	fileNode := g.PeekNode(result.FileNodeID)
	require.NotNil(t, fileNode)
	require.Equal(t, NodeFile, fileNode.Type)
	require.Equal(t, "Home Lab", fileNode.Properties["title"])
}

func TestExtractCSVSummarizesColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.csv")
	require.NoError(t, os.WriteFile(path, []byte("date,distance_km,minutes\n2026-08-01,5.2,31\n2026-08-03,8.0,47\n"), 0o644))

	text, metadata, err := extractCSV(path)
	require.NoError(t, err)
	require.Contains(t, text, "date, distance_km, minutes")
	require.Contains(t, text, "5.2 | 31")
	require.Equal(t, 2, metadata["row_count"])
}

func TestExtractJSONPrettyPrintsAndListsKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"psycho","version":3}`), 0o644))

	text, metadata, err := extractJSON(path)
	require.NoError(t, err)
	require.Contains(t, text, "\"name\": \"psycho\"")
	require.ElementsMatch(t, []string{"name", "version"}, metadata["top_keys"])
}
