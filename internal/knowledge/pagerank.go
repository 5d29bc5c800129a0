package knowledge

import "math"

const (
	pagerankDamping   = 0.85
	pagerankMaxIter   = 100
	pagerankTolerance = 1e-6
)

// ComputePageRank scores node importance by power iteration over the edge
// structure. Dangling nodes redistribute their mass uniformly, matching the
// standard formulation. Graphs with fewer than two nodes are skipped.
func (g *Graph) ComputePageRank() map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.nodes)
	if n < 2 {
		return nil
	}

	ids := make([]string, 0, n)
	for id := range g.nodes {
		ids = append(ids, id)
	}

	rank := make(map[string]float64, n)
	for _, id := range ids {
		rank[id] = 1.0 / float64(n)
	}

	for iter := 0; iter < pagerankMaxIter; iter++ {
		next := make(map[string]float64, n)
		base := (1 - pagerankDamping) / float64(n)
		for _, id := range ids {
			next[id] = base
		}

		var danglingMass float64
		for _, id := range ids {
			targets := g.out[id]
			if len(targets) == 0 {
				danglingMass += rank[id]
				continue
			}
			share := pagerankDamping * rank[id] / float64(len(targets))
			for targetID := range targets {
				next[targetID] += share
			}
		}
		if danglingMass > 0 {
			spread := pagerankDamping * danglingMass / float64(n)
			for _, id := range ids {
				next[id] += spread
			}
		}

		var delta float64
		for _, id := range ids {
			delta += math.Abs(next[id] - rank[id])
		}
		rank = next
		if delta < pagerankTolerance*float64(n) {
			break
		}
	}

	g.pagerank = rank
	out := make(map[string]float64, n)
	for id, score := range rank {
		out[id] = score
	}
	return out
}

// PageRankOf returns a node's current score, defaulting for unscored nodes.
func (g *Graph) PageRankOf(id string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if score, ok := g.pagerank[id]; ok {
		return score
	}
	return 0.01
}
