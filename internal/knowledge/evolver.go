package knowledge

import (
	"context"
	"fmt"

	"psycho/internal/config"
	"psycho/internal/logging"
)

// IntegrationStats summarizes what one extraction pass changed.
type IntegrationStats struct {
	NodesAdded         int `json:"nodes_added"`
	NodesUpdated       int `json:"nodes_updated"`
	EdgesAdded         int `json:"edges_added"`
	FactsAdded         int `json:"facts_added"`
	PreferencesAdded   int `json:"preferences_added"`
	CorrectionsApplied int `json:"corrections_applied"`
}

// Empty reports whether the integration changed nothing.
func (s IntegrationStats) Empty() bool {
	return s.NodesAdded == 0 && s.NodesUpdated == 0 && s.EdgesAdded == 0 &&
		s.FactsAdded == 0 && s.PreferencesAdded == 0 && s.CorrectionsApplied == 0
}

// MaintenanceResult summarizes a full maintenance sweep.
type MaintenanceResult struct {
	Pruned  int `json:"pruned"`
	Merged  int `json:"merged"`
	Decayed int `json:"decayed"`
}

// Evolver applies extraction results to the graph and keeps it healthy:
// confidence updates, decay, deduplication, pruning, and edge inference.
// Every mutation goes through the graph's locked update methods so evolver
// calls are safe from concurrent background extractions.
type Evolver struct {
	graph  *Graph
	tuning config.Tuning
	logger logging.Logger
}

// NewEvolver binds the evolution rules to a graph.
func NewEvolver(graph *Graph, tuning config.Tuning, logger logging.Logger) *Evolver {
	return &Evolver{graph: graph, tuning: tuning, logger: logging.OrNop(logger)}
}

// Integrate folds an extraction result into the graph. Re-seen nodes gain a
// small consistency boost, corrections drop the wrong belief hard, and a
// burst of new nodes triggers a PageRank refresh.
func (e *Evolver) Integrate(ctx context.Context, result *ExtractionResult) IntegrationStats {
	var stats IntegrationStats
	if result == nil || result.IsEmpty() {
		return stats
	}
	g := e.graph

	for _, node := range result.Entities {
		incoming := node

		// The user's own person node keeps a single identity; new sightings
		// merge into it and may upgrade the display name.
		if node.Type == NodePerson && node.Label == "user" {
			id, ok := g.UpdateNodeByLabel("user", NodePerson, func(existing *Node) {
				existing.UpdateConfidence(0.05)
				for k, v := range incoming.Properties {
					existing.Properties[k] = v
				}
				if incoming.DisplayLabel != "" && incoming.DisplayLabel != "user" {
					existing.DisplayLabel = incoming.DisplayLabel
				}
			})
			if ok {
				node.ID = id
				stats.NodesUpdated++
				continue
			}
			g.UpsertNode(ctx, node)
			stats.NodesAdded++
			continue
		}

		id, ok := g.UpdateNodeByLabel(node.Label, node.Type, func(existing *Node) {
			existing.UpdateConfidence(e.tuning.ConsistentDelta)
			for _, src := range incoming.Sources {
				existing.AddSource(src)
			}
			for k, v := range incoming.Properties {
				if _, has := existing.Properties[k]; !has {
					existing.Properties[k] = v
				}
			}
		})
		if ok {
			// Redirect the extractor's provisional id so edges resolve.
			node.ID = id
			stats.NodesUpdated++
		} else {
			g.UpsertNode(ctx, node)
			stats.NodesAdded++
		}
	}

	for _, edge := range result.Edges {
		if g.PeekNode(edge.SourceID) != nil && g.PeekNode(edge.TargetID) != nil {
			g.UpsertEdge(edge)
			stats.EdgesAdded++
		}
	}

	for _, fact := range result.Facts {
		if _, ok := g.UpdateNodeByLabel(fact.Label, "", func(existing *Node) {
			existing.UpdateConfidence(e.tuning.ConsistentDelta)
		}); !ok {
			g.UpsertNode(ctx, fact)
			stats.FactsAdded++
		}
	}

	for _, pref := range result.Preferences {
		if _, ok := g.UpdateNodeByLabel(pref.Label, NodePreference, func(existing *Node) {
			existing.UpdateConfidence(0.05)
		}); !ok {
			g.UpsertNode(ctx, pref)
			stats.PreferencesAdded++
		}
	}

	for _, question := range result.Questions {
		if g.FindNodeByLabel(question.Label, NodeQuestion) == nil {
			g.UpsertNode(ctx, question)
		}
	}

	for _, correction := range result.Corrections {
		note := correction.Explanation
		if note == "" {
			note = "User corrected this"
		}
		var wrongLabel string
		var wrongConf float64
		wrongID, wrongFound := g.UpdateNodeByLabel(correction.Wrong, "", func(wrong *Node) {
			wrong.UpdateConfidence(e.tuning.CorrectDelta)
			wrong.Properties["correction_note"] = note
			wrongLabel, wrongConf = wrong.DisplayLabel, wrong.Confidence
		})
		if wrongFound {
			e.logger.Info("correction applied: %q confidence now %.2f", wrongLabel, wrongConf)
			stats.CorrectionsApplied++
		}

		if wrongFound {
			if correct := g.FindNodeByLabel(correction.Correct, ""); correct != nil {
				edge := NewEdge(correct.ID, wrongID, EdgeCorrects, 0.9)
				edge.Properties = map[string]any{"explanation": correction.Explanation}
				g.UpsertEdge(edge)
			}
		} else {
			g.UpdateNodeByLabel(correction.Correct, "", func(correct *Node) {
				correct.UpdateConfidence(e.tuning.ConfirmDelta)
			})
		}
	}

	if stats.NodesAdded > 3 {
		g.ComputePageRank()
	}
	if !stats.Empty() {
		e.logger.Debug("graph evolution: +%d nodes, ~%d updated, +%d edges, %d corrections",
			stats.NodesAdded, stats.NodesUpdated, stats.EdgesAdded, stats.CorrectionsApplied)
	}
	return stats
}

// ConfirmNodes boosts nodes the user explicitly confirmed.
func (e *Evolver) ConfirmNodes(nodeIDs []string) {
	for _, id := range nodeIDs {
		e.graph.UpdateNode(id, func(node *Node) {
			node.Touch()
			node.UpdateConfidence(e.tuning.ConfirmDelta)
		})
	}
}

// CorrectNode drops confidence on a node the user corrected.
func (e *Evolver) CorrectNode(nodeID, correctionNote string) {
	var label string
	var conf float64
	ok := e.graph.UpdateNode(nodeID, func(node *Node) {
		node.Touch()
		node.UpdateConfidence(e.tuning.CorrectDelta)
		if correctionNote != "" {
			node.Properties["correction_note"] = correctionNote
		}
		label, conf = node.DisplayLabel, node.Confidence
	})
	if ok {
		e.logger.Info("node corrected: %q conf=%.2f", label, conf)
	}
}

// BoostUsedNodes slightly rewards nodes that informed a response.
func (e *Evolver) BoostUsedNodes(nodeIDs []string) {
	for _, id := range nodeIDs {
		e.graph.UpdateNode(id, func(node *Node) {
			node.Touch()
			node.UpdateConfidence(e.tuning.UsedDelta)
		})
	}
}

// ApplyTimeDecay slowly erodes confidence of nodes idle for more than a
// day. Returns the number of nodes decayed.
func (e *Evolver) ApplyTimeDecay() int {
	now := nowf()
	decayed := 0
	for _, stat := range e.graph.ActiveNodeStats() {
		daysIdle := (now - stat.LastAccessed) / 86400
		if daysIdle > 1 {
			e.graph.UpdateNode(stat.ID, func(node *Node) {
				node.UpdateConfidence(-e.tuning.DecayPerDay * daysIdle)
			})
			decayed++
		}
	}
	if decayed > 0 {
		e.logger.Debug("time decay applied to %d nodes", decayed)
	}
	return decayed
}

// PruneLowConfidence deprecates active nodes that fell below the floor.
// Returns the number of nodes deprecated.
func (e *Evolver) PruneLowConfidence() int {
	pruned := 0
	for _, stat := range e.graph.ActiveNodeStats() {
		if stat.Confidence < e.tuning.MinConfidence {
			e.graph.DeprecateNode(stat.ID, formatPruneReason(stat.Confidence))
			pruned++
		}
	}
	if pruned > 0 {
		e.logger.Info("pruned %d low-confidence nodes", pruned)
	}
	return pruned
}

// FindAndMergeDuplicates merges same-type nodes with nearly identical
// labels, keeping the higher-confidence node. Returns merge count.
func (e *Evolver) FindAndMergeDuplicates() int {
	nodes := e.graph.ActiveNodeStats()
	merged := 0
	droppedIDs := make(map[string]struct{})

	for i, a := range nodes {
		if _, gone := droppedIDs[a.ID]; gone {
			continue
		}
		for _, b := range nodes[i+1:] {
			if _, gone := droppedIDs[b.ID]; gone {
				continue
			}
			if a.Type != b.Type {
				continue
			}
			if labelSimilarity(a.Label, b.Label) < e.tuning.MergeThreshold {
				continue
			}
			keepID, dropID := a.ID, b.ID
			if b.Confidence > a.Confidence {
				keepID, dropID = b.ID, a.ID
			}
			e.graph.MergeNodes(keepID, dropID)
			droppedIDs[dropID] = struct{}{}
			merged++
			e.logger.Info("merged duplicate: %q ~ %q", a.Label, b.Label)
		}
	}
	return merged
}

// AddInferredEdges derives transitive relates_to edges from two-hop paths
// starting at the given nodes. Returns the number of edges added.
func (e *Evolver) AddInferredEdges(nodeIDs []string) int {
	inferred := 0
	g := e.graph
	for _, id := range nodeIDs {
		if g.PeekNode(id) == nil {
			continue
		}
		for _, hop1 := range g.EdgesFrom(id) {
			for _, hop2 := range g.EdgesFrom(hop1.Node.ID) {
				if hop2.Edge.Type != EdgeRelatesTo {
					continue
				}
				if hop2.Node.ID == id || g.HasEdge(id, hop2.Node.ID) {
					continue
				}
				edge := NewEdge(id, hop2.Node.ID, EdgeRelatesTo, e.tuning.InferredBase)
				edge.Properties = map[string]any{"inferred": true}
				g.UpsertEdge(edge)
				inferred++
			}
		}
	}
	if inferred > 0 {
		e.logger.Debug("inferred %d new edges", inferred)
	}
	return inferred
}

// RunFullMaintenance prunes, merges, decays, rescores, and saves. Called
// during post-session reflection; the result lands in the evolution
// history.
func (e *Evolver) RunFullMaintenance() (MaintenanceResult, error) {
	result := MaintenanceResult{
		Pruned:  e.PruneLowConfidence(),
		Merged:  e.FindAndMergeDuplicates(),
		Decayed: e.ApplyTimeDecay(),
	}
	e.graph.ComputePageRank()
	if err := e.graph.Save(); err != nil {
		return result, err
	}
	err := e.graph.Store().RecordEvolutionEvent("maintenance", map[string]any{
		"pruned":  result.Pruned,
		"merged":  result.Merged,
		"decayed": result.Decayed,
	})
	return result, err
}

func formatPruneReason(conf float64) string {
	return fmt.Sprintf("confidence below threshold (%.3f)", conf)
}
