package knowledge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"psycho/internal/config"
)

func newTestEvolver(t *testing.T) (*Evolver, *Graph) {
	t.Helper()
	g := newTestGraph(t)
	return NewEvolver(g, config.DefaultTuning(), nil), g
}

func TestIntegrateAddsEntitiesEdgesAndFacts(t *testing.T) {
	evolver, g := newTestEvolver(t)
	ctx := context.Background()

	python := NewNode(NodeTechnology, "python", "coding", nil, 0.5, "s1")
	scripting := NewNode(NodeConcept, "scripting", "coding", nil, 0.5, "s1")
	result := &ExtractionResult{
		Entities: []*Node{python, scripting},
		Edges:    []*Edge{NewEdge(python.ID, scripting.ID, EdgeIsA, 0.6)},
		Facts:    []*Node{NewNode(NodeFact, "python released in 1991", "coding", nil, 0.6, "s1")},
		Source:   "s1",
	}

	stats := evolver.Integrate(ctx, result)
	require.Equal(t, 2, stats.NodesAdded)
	require.Equal(t, 1, stats.EdgesAdded)
	require.Equal(t, 1, stats.FactsAdded)
	require.True(t, g.HasEdge(python.ID, scripting.ID))
}

func TestIntegrateReSeenEntityGetsConsistencyBoost(t *testing.T) {
	evolver, g := newTestEvolver(t)
	ctx := context.Background()

	existing := addNode(t, g, NodeTechnology, "rust", 0.5)

	again := NewNode(NodeTechnology, "rust", "coding", nil, 0.5, "s2")
	stats := evolver.Integrate(ctx, &ExtractionResult{Entities: []*Node{again}, Source: "s2"})

	require.Equal(t, 1, stats.NodesUpdated)
	require.Zero(t, stats.NodesAdded)
	require.InDelta(t, 0.55, g.PeekNode(existing.ID).Confidence, 1e-9)
}

func TestIntegrateCorrectionDropsWrongAndLinksCorrect(t *testing.T) {
	evolver, g := newTestEvolver(t)
	ctx := context.Background()

	wrong := addNode(t, g, NodeFact, "python released in 1995", 0.6)
	correct := addNode(t, g, NodeFact, "python released in 1991", 0.6)

	stats := evolver.Integrate(ctx, &ExtractionResult{
		Corrections: []Correction{{
			Wrong:       "python released in 1995",
			Correct:     "python released in 1991",
			Explanation: "release year was wrong",
		}},
		Source: "s1",
	})

	require.Equal(t, 1, stats.CorrectionsApplied)
	require.InDelta(t, 0.2, g.PeekNode(wrong.ID).Confidence, 1e-9)
	require.Equal(t, "release year was wrong", g.PeekNode(wrong.ID).Properties["correction_note"])
	require.True(t, g.HasEdge(correct.ID, wrong.ID))
}

func TestIntegrateUserPersonNodeMergesIdentity(t *testing.T) {
	evolver, g := newTestEvolver(t)
	ctx := context.Background()

	seed := NewNode(NodePerson, "user", "general", nil, 0.5, "s1")
	g.UpsertNode(ctx, seed)

	sighting := NewNode(NodePerson, "user", "general", map[string]any{"timezone": "CET"}, 0.5, "s2")
	sighting.DisplayLabel = "Alex"
	stats := evolver.Integrate(ctx, &ExtractionResult{Entities: []*Node{sighting}, Source: "s2"})

	require.Equal(t, 1, stats.NodesUpdated)
	node := g.PeekNode(seed.ID)
	require.Equal(t, "Alex", node.DisplayLabel)
	require.Equal(t, "CET", node.Properties["timezone"])
	require.InDelta(t, 0.55, node.Confidence, 1e-9)
}

func TestIntegrateConcurrentReSightingsLoseNoUpdates(t *testing.T) {
	evolver, g := newTestEvolver(t)
	ctx := context.Background()

	seed := addNode(t, g, NodeTechnology, "kubernetes", 0.5)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		source := fmt.Sprintf("s%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			again := NewNode(NodeTechnology, "kubernetes", "coding", nil, 0.5, source)
			evolver.Integrate(ctx, &ExtractionResult{Entities: []*Node{again}, Source: source})
		}()
	}
	wg.Wait()

	tuning := config.DefaultTuning()
	node := g.PeekNode(seed.ID)
	require.InDelta(t, 0.5+workers*tuning.ConsistentDelta, node.Confidence, 1e-9)
	require.Len(t, node.Sources, workers+1, "every sighting's source survives")
}

func TestConcurrentBoostsSerialize(t *testing.T) {
	evolver, g := newTestEvolver(t)
	node := addNode(t, g, NodeFact, "the cache lives in redis", 0.5)

	const workers = 4
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evolver.BoostUsedNodes([]string{node.ID})
		}()
	}
	wg.Wait()

	tuning := config.DefaultTuning()
	require.InDelta(t, 0.5+workers*tuning.UsedDelta, g.PeekNode(node.ID).Confidence, 1e-9)
}

func TestPruneLowConfidenceDeprecates(t *testing.T) {
	evolver, g := newTestEvolver(t)
	weak := addNode(t, g, NodeFact, "barely believed thing", 0.5)
	weak.Confidence = 0.04
	strong := addNode(t, g, NodeFact, "well supported thing", 0.8)

	pruned := evolver.PruneLowConfidence()
	require.Equal(t, 1, pruned)
	require.True(t, g.PeekNode(weak.ID).Deprecated)
	require.Contains(t, g.PeekNode(weak.ID).DeprecationReason, "confidence below threshold")
	require.False(t, g.PeekNode(strong.ID).Deprecated)
}

func TestApplyTimeDecayOnlyAfterIdleDay(t *testing.T) {
	evolver, g := newTestEvolver(t)
	fresh := addNode(t, g, NodeFact, "seen just now", 0.5)
	stale := addNode(t, g, NodeFact, "seen ten days ago", 0.5)
	stale.LastAccessed = nowf() - 10*86400

	decayed := evolver.ApplyTimeDecay()
	require.Equal(t, 1, decayed)
	require.InDelta(t, 0.5, g.PeekNode(fresh.ID).Confidence, 1e-9)
	require.InDelta(t, 0.5-0.001*10, g.PeekNode(stale.ID).Confidence, 1e-4)
}

func TestFindAndMergeDuplicatesKeepsHigherConfidence(t *testing.T) {
	evolver, g := newTestEvolver(t)
	strong := addNode(t, g, NodeTechnology, "postgresql", 0.8)
	weak := addNode(t, g, NodeTechnology, "postgresql.", 0.5)
	unrelated := addNode(t, g, NodeTechnology, "redis", 0.7)

	merged := evolver.FindAndMergeDuplicates()
	require.Equal(t, 1, merged)
	require.True(t, g.PeekNode(weak.ID).Deprecated)
	require.False(t, g.PeekNode(strong.ID).Deprecated)
	require.False(t, g.PeekNode(unrelated.ID).Deprecated)
}

func TestLabelSimilarity(t *testing.T) {
	require.Equal(t, 1.0, labelSimilarity("python", "python"))
	require.Greater(t, labelSimilarity("postgresql", "postgresql."), 0.92)
	require.Less(t, labelSimilarity("postgresql", "redis"), 0.5)
	require.Equal(t, 0.0, labelSimilarity("abc", ""))
}

func TestAddInferredEdgesTransitiveRelatesTo(t *testing.T) {
	evolver, g := newTestEvolver(t)
	a := addNode(t, g, NodeConcept, "asyncio", 0.6)
	b := addNode(t, g, NodeConcept, "event loop", 0.6)
	c := addNode(t, g, NodeConcept, "concurrency", 0.6)
	g.UpsertEdge(NewEdge(a.ID, b.ID, EdgeRelatesTo, 0.6))
	g.UpsertEdge(NewEdge(b.ID, c.ID, EdgeRelatesTo, 0.6))

	inferred := evolver.AddInferredEdges([]string{a.ID})
	require.Equal(t, 1, inferred)
	require.True(t, g.HasEdge(a.ID, c.ID))

	edges := g.EdgesFrom(a.ID)
	var found *Edge
	for _, n := range edges {
		if n.Node.ID == c.ID {
			found = n.Edge
		}
	}
	require.NotNil(t, found)
	require.InDelta(t, 0.3, found.Confidence, 1e-9)
	require.Equal(t, true, found.Properties["inferred"])
}

func TestRunFullMaintenanceSavesAndRecordsEvent(t *testing.T) {
	evolver, g := newTestEvolver(t)
	addNode(t, g, NodeFact, "keep me around", 0.8)
	weak := addNode(t, g, NodeFact, "about to go", 0.5)
	weak.Confidence = 0.02

	result, err := evolver.RunFullMaintenance()
	require.NoError(t, err)
	require.Equal(t, 1, result.Pruned)

	meta := g.Store().Metadata()
	require.NotEmpty(t, meta.EvolutionHistory)
	last := meta.EvolutionHistory[len(meta.EvolutionHistory)-1]
	require.Equal(t, "maintenance", last.Type)
	require.Less(t, time.Since(time.Unix(int64(last.Timestamp), 0)), time.Minute)
}
