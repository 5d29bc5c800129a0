package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"psycho/internal/config"
	"psycho/internal/logging"
	"psycho/internal/vector"
)

// VectorIndex is the semantic lookup surface the graph needs. *vector.Store
// satisfies it.
type VectorIndex interface {
	Add(ctx context.Context, collection, id, text string, metadata map[string]string) error
	Search(ctx context.Context, collection, query string, topK int, where map[string]string) ([]vector.Hit, error)
	Delete(ctx context.Context, collection string, ids ...string) error
}

// Neighbor pairs a connected node with the edge reaching it.
type Neighbor struct {
	Node *Node
	Edge *Edge
}

// ContextItem is one ranked retrieval result with its outgoing edges.
type ContextItem struct {
	Node  *Node
	Edges []Neighbor
}

// Stats summarizes graph health.
type Stats struct {
	TotalNodes        int            `json:"total_nodes"`
	ActiveNodes       int            `json:"active_nodes"`
	DeprecatedNodes   int            `json:"deprecated_nodes"`
	TotalEdges        int            `json:"total_edges"`
	NodeTypes         map[string]int `json:"node_types"`
	AverageConfidence float64        `json:"average_confidence"`
	Contradictions    int            `json:"contradictions"`
}

// Graph is the agent's persistent, self-evolving knowledge base. An
// in-memory directed graph backs traversal; the vector index backs semantic
// seed lookup; FileStore backs persistence.
type Graph struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	out      map[string]map[string]*Edge
	in       map[string]map[string]*Edge
	pagerank map[string]float64
	dirty    bool

	store  *FileStore
	index  VectorIndex
	tuning config.Tuning
	logger logging.Logger
}

// NewGraph wires the graph to its persistence and semantic index.
func NewGraph(store *FileStore, index VectorIndex, tuning config.Tuning, logger logging.Logger) *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		out:      make(map[string]map[string]*Edge),
		in:       make(map[string]map[string]*Edge),
		pagerank: make(map[string]float64),
		store:    store,
		index:    index,
		tuning:   tuning,
		logger:   logging.OrNop(logger),
	}
}

// Load reads the saved graph into memory. Edges referencing missing nodes
// are skipped.
func (g *Graph) Load() error {
	snapshot, err := g.store.Load()
	if err != nil {
		return err
	}
	if snapshot == nil {
		g.logger.Info("no saved knowledge graph, starting fresh")
		return nil
	}

	g.mu.Lock()
	for id, node := range snapshot.Nodes {
		if node == nil || id == "" {
			continue
		}
		if node.Properties == nil {
			node.Properties = map[string]any{}
		}
		g.nodes[id] = node
	}
	loadedEdges := 0
	for _, edge := range snapshot.Edges {
		if edge == nil {
			continue
		}
		if _, ok := g.nodes[edge.SourceID]; !ok {
			continue
		}
		if _, ok := g.nodes[edge.TargetID]; !ok {
			continue
		}
		g.addEdgeLocked(edge)
		loadedEdges++
	}
	nodeCount := len(g.nodes)
	g.mu.Unlock()

	if nodeCount > 0 {
		g.ComputePageRank()
	}
	g.logger.Info("knowledge graph loaded: %d nodes, %d edges", nodeCount, loadedEdges)
	return nil
}

// Save persists the current graph state. The snapshot handed to the store
// is a deep copy so serialization runs outside the lock.
func (g *Graph) Save() error {
	g.mu.Lock()
	nodes := make(map[string]*Node, len(g.nodes))
	for id, node := range g.nodes {
		nodes[id] = node.Clone()
	}
	edges := g.edgesLocked()
	g.dirty = false
	g.mu.Unlock()
	return g.store.Save(nodes, edges)
}

// Dirty reports whether the graph changed since the last save.
func (g *Graph) Dirty() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dirty
}

// Store exposes the persistence layer for exports and evolution history.
func (g *Graph) Store() *FileStore { return g.store }

// Snapshot returns deep copies of the node map and edge list for export.
func (g *Graph) Snapshot() (map[string]*Node, []*Edge) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make(map[string]*Node, len(g.nodes))
	for id, node := range g.nodes {
		nodes[id] = node.Clone()
	}
	return nodes, g.edgesLocked()
}

// UpsertNode adds a node, or reinforces the existing node with the same
// normalized label and type. Returns the canonical node id.
func (g *Graph) UpsertNode(ctx context.Context, node *Node) string {
	g.mu.Lock()
	existing := g.findByLabelLocked(node.Label, node.Type)
	if existing != nil {
		existing.UpdateConfidence(0.03)
		for _, src := range node.Sources {
			existing.AddSource(src)
		}
		for k, v := range node.Properties {
			if _, ok := existing.Properties[k]; !ok {
				existing.Properties[k] = v
			}
		}
		g.dirty = true
		id, label, conf := existing.ID, existing.DisplayLabel, existing.Confidence
		g.mu.Unlock()
		g.logger.Debug("node reinforced: %q conf=%.2f", label, conf)
		return id
	}
	g.nodes[node.ID] = node
	g.dirty = true
	snapshot := node.Clone()
	g.mu.Unlock()

	g.indexNode(ctx, snapshot)
	g.logger.Debug("node added: [%s] %q", snapshot.Type, snapshot.DisplayLabel)
	return snapshot.ID
}

// GetNode returns a copy of a node by id and marks it accessed. Mutating
// the copy does not change the graph; use UpdateNode for that.
func (g *Graph) GetNode(id string) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[id]
	if !ok {
		return nil
	}
	node.Touch()
	return node.Clone()
}

// PeekNode returns a copy of a node without touching access stats.
func (g *Graph) PeekNode(id string) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id].Clone()
}

// UpdateNode applies fn to a node while the graph lock is held. Confidence,
// source, and property mutations must go through here (or UpdateNodeByLabel)
// so that concurrent extraction and reflection writers never touch a node
// unlocked. Returns false when the id is unknown.
func (g *Graph) UpdateNode(id string, fn func(*Node)) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[id]
	if !ok {
		return false
	}
	fn(node)
	g.dirty = true
	return true
}

// UpdateNodeByLabel finds a node by normalized label and applies fn under
// the graph lock. A zero-value type matches any type. Returns the matched
// node id and whether a node matched.
func (g *Graph) UpdateNodeByLabel(label string, nodeType NodeType, fn func(*Node)) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	node := g.findByLabelLocked(strings.ToLower(strings.TrimSpace(label)), nodeType)
	if node == nil {
		return "", false
	}
	fn(node)
	g.dirty = true
	return node.ID, true
}

// NodeStat is a scalar view of a node used by maintenance sweeps that walk
// the whole graph without pinning live pointers.
type NodeStat struct {
	ID           string
	Type         NodeType
	Label        string
	DisplayLabel string
	Domain       string
	Confidence   float64
	LastAccessed float64
}

// ActiveNodeStats returns stat snapshots for every non-deprecated node.
func (g *Graph) ActiveNodeStats() []NodeStat {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]NodeStat, 0, len(g.nodes))
	for _, node := range g.nodes {
		if node.Deprecated {
			continue
		}
		out = append(out, NodeStat{
			ID:           node.ID,
			Type:         node.Type,
			Label:        node.Label,
			DisplayLabel: node.DisplayLabel,
			Domain:       node.Domain,
			Confidence:   node.Confidence,
			LastAccessed: node.LastAccessed,
		})
	}
	return out
}

// FindNodeByLabel looks a node up by normalized label and returns a copy.
// A zero-value type matches any type.
func (g *Graph) FindNodeByLabel(label string, nodeType NodeType) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findByLabelLocked(strings.ToLower(strings.TrimSpace(label)), nodeType).Clone()
}

// FindNodesByType returns copies of every node of one type.
func (g *Graph) FindNodesByType(nodeType NodeType) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Node
	for _, node := range g.nodes {
		if node.Type == nodeType {
			out = append(out, node.Clone())
		}
	}
	return out
}

// SearchNodesByLabelPrefix returns copies of active nodes whose label
// starts with prefix.
func (g *Graph) SearchNodesByLabelPrefix(prefix string) []*Node {
	prefix = strings.ToLower(prefix)
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Node
	for _, node := range g.nodes {
		if !node.Deprecated && strings.HasPrefix(node.Label, prefix) {
			out = append(out, node.Clone())
		}
	}
	return out
}

// ActiveNodes returns copies of all non-deprecated nodes.
func (g *Graph) ActiveNodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		if !node.Deprecated {
			out = append(out, node.Clone())
		}
	}
	return out
}

// DeprecateNode soft-deletes a node, keeping it for history.
func (g *Graph) DeprecateNode(id, reason string) {
	g.mu.Lock()
	node, ok := g.nodes[id]
	if !ok {
		g.mu.Unlock()
		return
	}
	node.Deprecated = true
	node.DeprecationReason = reason
	node.Confidence = clampConfidence(node.Confidence - 0.4)
	node.LastUpdated = nowf()
	g.dirty = true
	label := node.DisplayLabel
	g.mu.Unlock()
	g.logger.Info("node deprecated: %q (%s)", label, reason)
}

// UpsertEdge adds an edge, or reinforces an existing one of the same type
// between the same pair. Edges to unknown nodes are dropped.
func (g *Graph) UpsertEdge(edge *Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[edge.SourceID]; !ok {
		return
	}
	if _, ok := g.nodes[edge.TargetID]; !ok {
		return
	}
	if existing, ok := g.out[edge.SourceID][edge.TargetID]; ok && existing.Type == edge.Type {
		existing.Reinforce()
		g.dirty = true
		return
	}
	g.addEdgeLocked(edge)
	g.dirty = true
}

// EdgesFrom returns outgoing neighbors, skipping deprecated targets. Nodes
// and edges are copies so callers can read them after the lock is released.
func (g *Graph) EdgesFrom(id string) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Neighbor
	for targetID, edge := range g.out[id] {
		target := g.nodes[targetID]
		if target != nil && !target.Deprecated {
			out = append(out, Neighbor{Node: target.Clone(), Edge: edge.Clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Edge.Confidence > out[j].Edge.Confidence })
	return out
}

// EdgesTo returns incoming neighbors as copies, skipping deprecated sources.
func (g *Graph) EdgesTo(id string) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Neighbor
	for sourceID, edge := range g.in[id] {
		source := g.nodes[sourceID]
		if source != nil && !source.Deprecated {
			out = append(out, Neighbor{Node: source.Clone(), Edge: edge.Clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Edge.Confidence > out[j].Edge.Confidence })
	return out
}

// HasEdge reports whether a directed edge exists between two ids.
func (g *Graph) HasEdge(sourceID, targetID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.out[sourceID][targetID]
	return ok
}

// ContextForQuery runs hybrid retrieval: semantic seed search, one-hop
// expansion in both directions, then scoring by confidence, PageRank, and
// recency.
func (g *Graph) ContextForQuery(ctx context.Context, query string, topK int) []ContextItem {
	if topK <= 0 {
		topK = 12
	}
	g.mu.RLock()
	empty := len(g.nodes) == 0
	g.mu.RUnlock()
	if empty {
		return nil
	}

	seedIDs := g.semanticSearchNodes(ctx, query, 8)

	g.mu.RLock()
	candidates := make(map[string]struct{}, len(seedIDs)*3)
	for _, id := range seedIDs {
		if _, ok := g.nodes[id]; !ok {
			continue
		}
		candidates[id] = struct{}{}
		for targetID := range g.out[id] {
			candidates[targetID] = struct{}{}
		}
		for sourceID := range g.in[id] {
			candidates[sourceID] = struct{}{}
		}
	}

	now := nowf()
	type scored struct {
		score float64
		node  *Node
	}
	ranked := make([]scored, 0, len(candidates))
	for id := range candidates {
		node := g.nodes[id]
		if node == nil || node.Deprecated {
			continue
		}
		daysIdle := (now - node.LastAccessed) / 86400
		recency := math.Exp2(-daysIdle / g.tuning.RecencyHalfLife)
		pr, ok := g.pagerank[id]
		if !ok {
			pr = 0.01
		}
		score := g.tuning.RankConfidence*node.Confidence +
			g.tuning.RankPageRank*min(pr*100, 1.0) +
			g.tuning.RankRecency*recency
		ranked = append(ranked, scored{score: score, node: node})
	}
	g.mu.RUnlock()

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	g.mu.Lock()
	snapshots := make([]*Node, 0, len(ranked))
	for _, entry := range ranked {
		entry.node.Touch()
		snapshots = append(snapshots, entry.node.Clone())
	}
	g.mu.Unlock()

	items := make([]ContextItem, 0, len(snapshots))
	for _, node := range snapshots {
		items = append(items, ContextItem{Node: node, Edges: g.EdgesFrom(node.ID)})
	}
	return items
}

// FindContradictions lists node pairs joined by a contradicts edge.
func (g *Graph) FindContradictions() [][2]*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out [][2]*Node
	for sourceID, targets := range g.out {
		for targetID, edge := range targets {
			if edge.Type != EdgeContradicts {
				continue
			}
			src, tgt := g.nodes[sourceID], g.nodes[targetID]
			if src != nil && tgt != nil {
				out = append(out, [2]*Node{src.Clone(), tgt.Clone()})
			}
		}
	}
	return out
}

// MergeNodes folds mergeID into keepID: confidence is averaged, sources and
// properties union, edges are redirected, and the merged node is deprecated
// with a similar_to edge left as the historical record.
func (g *Graph) MergeNodes(keepID, mergeID string) string {
	g.mu.Lock()
	keep, merge := g.nodes[keepID], g.nodes[mergeID]
	if keep == nil || merge == nil || keepID == mergeID {
		g.mu.Unlock()
		return keepID
	}

	keep.Confidence = (keep.Confidence + merge.Confidence) / 2
	for _, src := range merge.Sources {
		keep.AddSource(src)
	}
	for k, v := range merge.Properties {
		if _, ok := keep.Properties[k]; !ok {
			keep.Properties[k] = v
		}
	}
	keep.LastUpdated = nowf()

	type redirect struct {
		sourceID, targetID string
		edge               *Edge
	}
	var redirects []redirect
	for sourceID, edge := range g.in[mergeID] {
		if sourceID != keepID {
			redirects = append(redirects, redirect{sourceID, keepID, edge})
		}
	}
	for targetID, edge := range g.out[mergeID] {
		if targetID != keepID {
			redirects = append(redirects, redirect{keepID, targetID, edge})
		}
	}
	for _, r := range redirects {
		moved := NewEdge(r.sourceID, r.targetID, r.edge.Type, r.edge.Confidence)
		moved.Weight = r.edge.Weight
		moved.Properties = r.edge.Properties
		if existing, ok := g.out[r.sourceID][r.targetID]; ok && existing.Type == moved.Type {
			existing.Reinforce()
		} else if _, srcOK := g.nodes[r.sourceID]; srcOK {
			g.addEdgeLocked(moved)
		}
	}

	record := NewEdge(keepID, mergeID, EdgeSimilarTo, 0.9)
	record.Properties = map[string]any{"reason": "merged"}
	if _, ok := g.out[keepID][mergeID]; !ok {
		g.addEdgeLocked(record)
	}

	keepLabel, mergeLabel := keep.DisplayLabel, merge.DisplayLabel
	g.dirty = true
	g.mu.Unlock()

	g.DeprecateNode(mergeID, fmt.Sprintf("merged into %s", keepLabel))
	g.logger.Info("merged %q into %q", mergeLabel, keepLabel)
	return keepID
}

// GetStats computes graph health statistics.
func (g *Graph) GetStats() Stats {
	contradictions := len(g.FindContradictions())
	g.mu.RLock()
	defer g.mu.RUnlock()
	stats := Stats{NodeTypes: make(map[string]int), Contradictions: contradictions}
	var confSum float64
	edgeCount := 0
	for _, targets := range g.out {
		edgeCount += len(targets)
	}
	for _, node := range g.nodes {
		stats.TotalNodes++
		if node.Deprecated {
			stats.DeprecatedNodes++
			continue
		}
		stats.ActiveNodes++
		stats.NodeTypes[string(node.Type)]++
		confSum += node.Confidence
	}
	stats.TotalEdges = edgeCount
	if stats.ActiveNodes > 0 {
		stats.AverageConfidence = math.Round(confSum/float64(stats.ActiveNodes)*1000) / 1000
	}
	return stats
}

// TopNodes returns the n most important active nodes by confidence times
// PageRank.
func (g *Graph) TopNodes(n int) []*Node {
	g.mu.RLock()
	needPR := len(g.pagerank) == 0 && len(g.nodes) >= 2
	g.mu.RUnlock()
	if needPR {
		g.ComputePageRank()
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make([]*Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		if !node.Deprecated {
			nodes = append(nodes, node.Clone())
		}
	}
	score := func(node *Node) float64 {
		pr, ok := g.pagerank[node.ID]
		if !ok {
			pr = 0.01
		}
		return node.Confidence * pr
	}
	sort.Slice(nodes, func(i, j int) bool { return score(nodes[i]) > score(nodes[j]) })
	if len(nodes) > n {
		nodes = nodes[:n]
	}
	return nodes
}

func (g *Graph) findByLabelLocked(label string, nodeType NodeType) *Node {
	for _, node := range g.nodes {
		if node.Label == label && (nodeType == "" || node.Type == nodeType) {
			return node
		}
	}
	return nil
}

func (g *Graph) addEdgeLocked(edge *Edge) {
	if g.out[edge.SourceID] == nil {
		g.out[edge.SourceID] = make(map[string]*Edge)
	}
	if g.in[edge.TargetID] == nil {
		g.in[edge.TargetID] = make(map[string]*Edge)
	}
	g.out[edge.SourceID][edge.TargetID] = edge
	g.in[edge.TargetID][edge.SourceID] = edge
}

func (g *Graph) edgesLocked() []*Edge {
	var edges []*Edge
	for _, targets := range g.out {
		for _, edge := range targets {
			edges = append(edges, edge.Clone())
		}
	}
	return edges
}

func (g *Graph) indexNode(ctx context.Context, node *Node) {
	if g.index == nil {
		return
	}
	docID := "gnode_" + node.ID
	err := g.index.Add(ctx, vector.CollectionGraphNodes, docID, node.ToText(), map[string]string{
		"node_id": node.ID,
		"type":    string(node.Type),
		"label":   node.Label,
		"domain":  node.Domain,
	})
	if err != nil {
		g.logger.Warn("failed to index node %q: %v", node.Label, err)
		return
	}
	g.mu.Lock()
	if live, ok := g.nodes[node.ID]; ok {
		live.EmbeddingID = docID
	}
	g.mu.Unlock()
}

func (g *Graph) semanticSearchNodes(ctx context.Context, query string, k int) []string {
	if g.index == nil {
		return nil
	}
	hits, err := g.index.Search(ctx, vector.CollectionGraphNodes, query, k, nil)
	if err != nil {
		g.logger.Warn("semantic node search failed: %v", err)
		return nil
	}
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		if id, ok := hit.Metadata["node_id"]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
