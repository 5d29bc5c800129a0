package knowledge

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"psycho/internal/config"
	"psycho/internal/vector"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	index, err := vector.Open("", vector.NewLocalEmbedder(), nil)
	require.NoError(t, err)
	return NewGraph(store, index, config.DefaultTuning(), nil)
}

func addNode(t *testing.T, g *Graph, nodeType NodeType, label string, confidence float64) *Node {
	t.Helper()
	node := NewNode(nodeType, label, "coding", nil, confidence, "test")
	g.UpsertNode(context.Background(), node)
	return node
}

func TestUpsertNodeReinforcesSameLabelAndType(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	first := NewNode(NodeTechnology, "Rust", "coding", map[string]any{"paradigm": "systems"}, 0.5, "s1")
	id := g.UpsertNode(ctx, first)

	second := NewNode(NodeTechnology, "rust", "coding", map[string]any{"year": "2015"}, 0.5, "s2")
	sameID := g.UpsertNode(ctx, second)

	require.Equal(t, id, sameID)
	node := g.PeekNode(id)
	require.InDelta(t, 0.53, node.Confidence, 1e-9)
	require.ElementsMatch(t, []string{"s1", "s2"}, node.Sources)
	require.Equal(t, "systems", node.Properties["paradigm"])
	require.Equal(t, "2015", node.Properties["year"])
	require.Equal(t, "Rust", node.DisplayLabel)
}

func TestUpdateNodeAccessors(t *testing.T) {
	g := newTestGraph(t)
	node := addNode(t, g, NodeFact, "the sky is blue", 0.5)

	require.False(t, g.UpdateNode("missing", func(n *Node) { n.Confidence = 0 }))
	require.True(t, g.UpdateNode(node.ID, func(n *Node) { n.Properties["shade"] = "azure" }))
	require.Equal(t, "azure", g.PeekNode(node.ID).Properties["shade"])

	id, ok := g.UpdateNodeByLabel("The Sky Is Blue", "", func(n *Node) { n.UpdateConfidence(0.1) })
	require.True(t, ok)
	require.Equal(t, node.ID, id)
	require.InDelta(t, 0.6, g.PeekNode(node.ID).Confidence, 1e-9)

	_, ok = g.UpdateNodeByLabel("not there", "", func(n *Node) {})
	require.False(t, ok)
}

func TestReadAccessorsReturnCopies(t *testing.T) {
	g := newTestGraph(t)
	node := addNode(t, g, NodeFact, "copy on read", 0.5)

	peeked := g.PeekNode(node.ID)
	peeked.Properties["scribble"] = true
	peeked.Confidence = 0.01
	require.NotContains(t, g.PeekNode(node.ID).Properties, "scribble")
	require.InDelta(t, 0.5, g.PeekNode(node.ID).Confidence, 1e-9)

	found := g.FindNodeByLabel("copy on read", NodeFact)
	found.Properties["scribble"] = true
	require.NotContains(t, g.PeekNode(node.ID).Properties, "scribble")
}

func TestConfidenceClampedToBounds(t *testing.T) {
	node := NewNode(NodeFact, "water boils at 100c", "general", nil, 0.9)
	node.UpdateConfidence(0.5)
	require.Equal(t, MaxConfidence, node.Confidence)

	node.UpdateConfidence(-5)
	require.Equal(t, MinConfidence, node.Confidence)
}

func TestUpsertEdgeDropsOrphansAndReinforcesDuplicates(t *testing.T) {
	g := newTestGraph(t)
	a := addNode(t, g, NodeTechnology, "python", 0.5)
	b := addNode(t, g, NodeConcept, "scripting", 0.5)

	g.UpsertEdge(NewEdge(a.ID, "missing", EdgeIsA, 0.6))
	require.Empty(t, g.EdgesFrom(a.ID))

	g.UpsertEdge(NewEdge(a.ID, b.ID, EdgeIsA, 0.6))
	g.UpsertEdge(NewEdge(a.ID, b.ID, EdgeIsA, 0.6))

	edges := g.EdgesFrom(a.ID)
	require.Len(t, edges, 1)
	require.InDelta(t, 1.1, edges[0].Edge.Weight, 1e-9)
	require.InDelta(t, 0.63, edges[0].Edge.Confidence, 1e-9)
}

func TestContextForQueryExpandsOneHop(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	python := addNode(t, g, NodeTechnology, "python", 0.9)
	asyncio := addNode(t, g, NodeTechnology, "asyncio", 0.8)
	tea := addNode(t, g, NodePreference, "drinks green tea", 0.7)
	_ = tea
	g.UpsertEdge(NewEdge(asyncio.ID, python.ID, EdgePartOf, 0.7))

	items := g.ContextForQuery(ctx, "python asyncio concurrency", 5)
	require.NotEmpty(t, items)

	seen := make(map[string]bool)
	for _, item := range items {
		seen[item.Node.Label] = true
	}
	require.True(t, seen["python"])
	require.True(t, seen["asyncio"], "one-hop neighbor should be pulled in")
}

func TestContextForQuerySkipsDeprecated(t *testing.T) {
	g := newTestGraph(t)
	node := addNode(t, g, NodeFact, "the sky is green", 0.6)
	g.DeprecateNode(node.ID, "corrected")

	items := g.ContextForQuery(context.Background(), "sky color", 5)
	for _, item := range items {
		require.NotEqual(t, node.ID, item.Node.ID)
	}
}

func TestMergeNodesRedirectsEdgesAndDeprecates(t *testing.T) {
	g := newTestGraph(t)
	keep := addNode(t, g, NodeTechnology, "postgresql", 0.8)
	drop := addNode(t, g, NodeTechnology, "postgres db", 0.6)
	other := addNode(t, g, NodeConcept, "databases", 0.7)
	g.UpsertEdge(NewEdge(drop.ID, other.ID, EdgeRelatesTo, 0.6))

	g.MergeNodes(keep.ID, drop.ID)

	require.InDelta(t, 0.7, g.PeekNode(keep.ID).Confidence, 1e-9)
	require.True(t, g.PeekNode(drop.ID).Deprecated)
	require.Contains(t, g.PeekNode(drop.ID).DeprecationReason, "merged into")
	require.True(t, g.HasEdge(keep.ID, other.ID), "outgoing edge should be redirected")
	require.True(t, g.HasEdge(keep.ID, drop.ID), "similar_to record should remain")
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	index, err := vector.Open("", vector.NewLocalEmbedder(), nil)
	require.NoError(t, err)

	g := NewGraph(store, index, config.DefaultTuning(), nil)
	a := addNode(t, g, NodeTechnology, "go", 0.8)
	b := addNode(t, g, NodeConcept, "concurrency", 0.7)
	g.UpsertEdge(NewEdge(a.ID, b.ID, EdgeRelatesTo, 0.6))
	require.NoError(t, g.Save())

	store2, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	index2, err := vector.Open("", vector.NewLocalEmbedder(), nil)
	require.NoError(t, err)
	g2 := NewGraph(store2, index2, config.DefaultTuning(), nil)
	require.NoError(t, g2.Load())

	stats := g2.GetStats()
	require.Equal(t, 2, stats.TotalNodes)
	require.Equal(t, 1, stats.TotalEdges)
	require.NotNil(t, g2.FindNodeByLabel("go", NodeTechnology))

	meta := store2.Metadata()
	require.Equal(t, 2, meta.TotalNodes)
	require.Equal(t, 2, meta.ActiveNodes)
}

func TestEvolutionHistoryCapped(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	for i := 0; i < maxEvolutionHistory+25; i++ {
		require.NoError(t, store.RecordEvolutionEvent("maintenance", nil))
	}
	meta := store.Metadata()
	require.Len(t, meta.EvolutionHistory, maxEvolutionHistory)
}

func TestPageRankFavorsWellConnectedNodes(t *testing.T) {
	g := newTestGraph(t)
	hub := addNode(t, g, NodeConcept, "hub", 0.5)
	var spokes []*Node
	for _, label := range []string{"spoke one", "spoke two", "spoke three", "spoke four"} {
		spokes = append(spokes, addNode(t, g, NodeConcept, label, 0.5))
	}
	for _, spoke := range spokes {
		g.UpsertEdge(NewEdge(spoke.ID, hub.ID, EdgeRelatesTo, 0.6))
	}

	ranks := g.ComputePageRank()
	require.NotEmpty(t, ranks)
	for _, spoke := range spokes {
		require.Greater(t, ranks[hub.ID], ranks[spoke.ID])
	}

	var sum float64
	for _, score := range ranks {
		sum += score
	}
	require.InDelta(t, 1.0, sum, 1e-3)
}

func TestConfidenceLabelBands(t *testing.T) {
	require.Equal(t, "HIGH", ConfidenceLabel(0.8))
	require.Equal(t, "MEDIUM", ConfidenceLabel(0.5))
	require.Equal(t, "LOW", ConfidenceLabel(0.2))
	require.Equal(t, "UNCERTAIN", ConfidenceLabel(0.1))
}

func TestNodeToText(t *testing.T) {
	node := NewNode(NodeTechnology, "Python", "coding", map[string]any{"paradigm": "OOP"}, 0.5)
	text := node.ToText()
	require.True(t, strings.HasPrefix(text, "technology: Python"))
	require.Contains(t, text, "domain: coding")
	require.Contains(t, text, "paradigm: OOP")

	plain := NewNode(NodeFact, "some fact", "general", nil, 0.5)
	require.NotContains(t, plain.ToText(), "domain:")
}

func TestExportCypherAndD3(t *testing.T) {
	g := newTestGraph(t)
	a := addNode(t, g, NodeTechnology, "redis", 0.7)
	b := addNode(t, g, NodeConcept, "caching", 0.6)
	g.UpsertEdge(NewEdge(a.ID, b.ID, EdgeUsedIn, 0.6))

	nodes, edges := g.Snapshot()
	cypher := g.Store().ExportCypher(nodes, edges)
	require.Contains(t, cypher, "CREATE")
	require.Contains(t, cypher, ":TECHNOLOGY")
	require.Contains(t, cypher, ":USED_IN")

	d3 := g.Store().ExportD3(nodes, edges)
	require.Len(t, d3.Nodes, 2)
	require.Len(t, d3.Links, 1)
}
