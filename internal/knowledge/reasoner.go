package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// Caps on the graph block injected into the system prompt.
	maxContextChars  = 2400
	maxNodesInPrompt = 12
)

// Reasoner retrieves relevant graph context and formats it for prompt
// injection or terminal display.
type Reasoner struct {
	graph *Graph
}

// NewReasoner binds formatting to a graph.
func NewReasoner(graph *Graph) *Reasoner {
	return &Reasoner{graph: graph}
}

// ContextForPrompt builds the knowledge block for the system prompt.
// Returns an empty string when the graph has nothing relevant.
func (r *Reasoner) ContextForPrompt(ctx context.Context, query string) string {
	if len(r.graph.ActiveNodes()) == 0 {
		return ""
	}
	items := r.graph.ContextForQuery(ctx, query, maxNodesInPrompt)
	if len(items) == 0 {
		return ""
	}

	header := fmt.Sprintf("\n─── KNOWLEDGE GRAPH (%d relevant nodes) ───", len(items))
	lines := []string{header}
	total := len(header)
	included := 0

	for _, item := range items {
		chunk := formatNodeLine(item.Node)
		if edgeLine := formatEdgeLine(item.Edges); edgeLine != "" {
			chunk += "\n" + edgeLine
		}
		if total+len(chunk) > maxContextChars {
			lines = append(lines, fmt.Sprintf("  ... and %d more", len(items)-included))
			break
		}
		lines = append(lines, chunk)
		total += len(chunk)
		included++
	}

	lines = append(lines, strings.Repeat("─", 35))
	lines = append(lines, "Use this knowledge naturally. Hedge on MEDIUM/LOW confidence items.")
	return strings.Join(lines, "\n")
}

// RelevantNodes returns ranked nodes without formatting.
func (r *Reasoner) RelevantNodes(ctx context.Context, query string, topK int) []*Node {
	items := r.graph.ContextForQuery(ctx, query, topK)
	nodes := make([]*Node, 0, len(items))
	for _, item := range items {
		nodes = append(nodes, item.Node)
	}
	return nodes
}

// FullGraphSummary formats the whole-graph overview used by the /graph
// command.
func (r *Reasoner) FullGraphSummary(maxNodes int) string {
	if maxNodes <= 0 {
		maxNodes = 30
	}
	stats := r.graph.GetStats()
	top := r.graph.TopNodes(maxNodes)

	lines := []string{
		"Knowledge Graph Summary",
		fmt.Sprintf("  Active nodes:  %d", stats.ActiveNodes),
		fmt.Sprintf("  Total edges:   %d", stats.TotalEdges),
		fmt.Sprintf("  Avg confidence: %.2f", stats.AverageConfidence),
		fmt.Sprintf("  Contradictions: %d", stats.Contradictions),
		"",
		"Top Nodes by Importance:",
	}
	for _, node := range top {
		domain := ""
		if node.Domain != "general" {
			domain = " [" + node.Domain + "]"
		}
		lines = append(lines, fmt.Sprintf("  %s [%s] %s%s",
			ConfidenceBar(node.Confidence, 8), node.Type, node.DisplayLabel, domain))
	}
	return strings.Join(lines, "\n")
}

// NodeDetail formats one node with properties, provenance, and edges for
// inspection.
func (r *Reasoner) NodeDetail(node *Node) string {
	lines := []string{
		fmt.Sprintf("[%s] %s", strings.ToUpper(string(node.Type)), node.DisplayLabel),
		"  Confidence: " + node.ConfidenceDisplay(),
		"  Domain:     " + node.Domain,
		"  Created:    " + time.Unix(int64(node.CreatedAt), 0).Format("2006-01-02"),
		fmt.Sprintf("  Accessed:   %dx", node.AccessCount),
	}
	if len(node.Properties) > 0 {
		lines = append(lines, "  Properties:")
		for k, v := range node.Properties {
			lines = append(lines, fmt.Sprintf("    %s: %v", k, v))
		}
	}
	if len(node.Sources) > 0 {
		sources := make([]string, 0, 3)
		for _, s := range node.Sources {
			if len(sources) == 3 {
				break
			}
			sources = append(sources, truncate(s, 20))
		}
		lines = append(lines, "  Sources: "+strings.Join(sources, ", "))
	}
	if node.Deprecated {
		lines = append(lines, "  DEPRECATED: "+node.DeprecationReason)
	}

	if out := r.graph.EdgesFrom(node.ID); len(out) > 0 {
		lines = append(lines, "  Outgoing edges:")
		for i, n := range out {
			if i == 5 {
				break
			}
			lines = append(lines, fmt.Sprintf("    → [%s] %s (%.2f)", n.Edge.Type, n.Node.DisplayLabel, n.Edge.Confidence))
		}
	}
	if in := r.graph.EdgesTo(node.ID); len(in) > 0 {
		lines = append(lines, "  Incoming edges:")
		for i, n := range in {
			if i == 5 {
				break
			}
			lines = append(lines, fmt.Sprintf("    ← [%s] %s (%.2f)", n.Edge.Type, n.Node.DisplayLabel, n.Edge.Confidence))
		}
	}
	return strings.Join(lines, "\n")
}

func formatNodeLine(node *Node) string {
	conf := fmt.Sprintf("%s %s %.2f", ConfidenceLabel(node.Confidence), ConfidenceBar(node.Confidence, 8), node.Confidence)
	domain := ""
	if node.Domain != "general" {
		domain = " [" + node.Domain + "]"
	}
	desc := ""
	if d, ok := node.Properties["description"].(string); ok && d != "" {
		desc = " — " + d
	}
	return fmt.Sprintf("• [%s] %s%s (%s)%s", strings.ToUpper(string(node.Type)), node.DisplayLabel, desc, conf, domain)
}

func formatEdgeLine(edges []Neighbor) string {
	if len(edges) == 0 {
		return ""
	}
	parts := make([]string, 0, 4)
	for i, n := range edges {
		if i == 4 {
			break
		}
		parts = append(parts, fmt.Sprintf("%s: %s", n.Edge.Type, n.Node.DisplayLabel))
	}
	return "  └─ " + strings.Join(parts, " | ")
}
