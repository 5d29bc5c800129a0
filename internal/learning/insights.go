package learning

import (
	"context"
	"fmt"
	"strings"

	"psycho/internal/jsonx"
	"psycho/internal/knowledge"
	"psycho/internal/llm"
	"psycho/internal/logging"
)

const insightSystemPrompt = "You are a precise knowledge analysis engine. " +
	"Output ONLY valid JSON. Never add explanations."

const insightPrompt = `You are analyzing an agent's knowledge graph to derive insights.

The agent knows these things (with confidence scores):
%s

Recent session summary:
%s

Based on patterns and connections in this knowledge, generate insights.
An insight is something that can be INFERRED from combining multiple facts,
not just restating what's already known.

Examples of good insights:
- "User consistently uses Python for async work + prefers minimal deps -> likely values pragmatism over perfection"
- "User asked about both asyncio and threading -> probably debugging a concurrency issue"
- "Multiple health questions about sleep + performance -> optimizing for productivity"

Output JSON only:
{
  "insights": [
    {
      "insight": "derived understanding",
      "basis": "which facts it's derived from",
      "confidence": 0.0-1.0,
      "domain": "domain",
      "actionable": "how the agent should behave differently based on this"
    }
  ]
}

Rules:
- Generate 2-5 insights maximum
- Only include insights with confidence >= 0.4
- Insights must be SPECIFIC to this user, not generic
- Return empty array if no meaningful insights can be derived
- Output ONLY the JSON object`

// InsightGenerator mines the graph and session history for derived
// understanding. Insights land back in the graph as concept nodes so they
// compound across sessions.
type InsightGenerator struct {
	client llm.Client
	graph  *knowledge.Graph
	logger logging.Logger
}

// NewInsightGenerator wires the model to the graph.
func NewInsightGenerator(client llm.Client, graph *knowledge.Graph, logger logging.Logger) *InsightGenerator {
	return &InsightGenerator{client: client, graph: graph, logger: logging.OrNop(logger)}
}

// Generate derives insights from the current graph state and adds them as
// nodes. Graphs with fewer than five nodes are skipped; there is nothing
// to combine yet.
func (g *InsightGenerator) Generate(ctx context.Context, sessionSummary string, maxNodes int) ([]*knowledge.Node, error) {
	if maxNodes <= 0 {
		maxNodes = 30
	}
	top := g.graph.TopNodes(maxNodes)
	if len(top) < 5 {
		g.logger.Debug("too few graph nodes for insight generation")
		return nil, nil
	}

	if sessionSummary == "" {
		sessionSummary = "No summary available."
	}
	prompt := fmt.Sprintf(insightPrompt, buildKnowledgeSummary(top), sessionSummary)

	resp, err := g.client.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		System:      insightSystemPrompt,
		MaxTokens:   1024,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("insight generation: %w", err)
	}

	cleaned, err := jsonx.Repair(jsonx.StripFences(resp.Content))
	if err != nil {
		return nil, fmt.Errorf("insight output unparseable: %w", err)
	}
	var payload struct {
		Insights []struct {
			Insight    string  `json:"insight"`
			Basis      string  `json:"basis"`
			Confidence float64 `json:"confidence"`
			Domain     string  `json:"domain"`
			Actionable string  `json:"actionable"`
		} `json:"insights"`
	}
	if err := jsonx.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("decode insights: %w", err)
	}

	var added []*knowledge.Node
	for _, item := range payload.Insights {
		if item.Insight == "" || item.Confidence < 0.4 {
			continue
		}
		confidence := item.Confidence
		if confidence > 0.75 {
			confidence = 0.75
		}
		node := knowledge.NewNode(knowledge.NodeConcept, truncate(item.Insight, 200),
			item.Domain, map[string]any{
				"basis":        item.Basis,
				"actionable":   item.Actionable,
				"generated_by": "insight_generator",
			}, confidence, "reflection")
		g.graph.UpsertNode(ctx, node)
		added = append(added, node)
		g.logger.Debug("insight added: %q", truncate(item.Insight, 60))
	}
	g.logger.Info("generated %d insights from %d graph nodes", len(added), len(top))
	return added, nil
}

func buildKnowledgeSummary(nodes []*knowledge.Node) string {
	byType := make(map[string][]*knowledge.Node)
	var order []string
	for _, node := range nodes {
		key := string(node.Type)
		if _, seen := byType[key]; !seen {
			order = append(order, key)
		}
		byType[key] = append(byType[key], node)
	}

	var lines []string
	for _, nodeType := range order {
		lines = append(lines, "\n["+strings.ToUpper(nodeType)+"]")
		for i, node := range byType[nodeType] {
			if i == 8 {
				break
			}
			props := ""
			for k, v := range node.Properties {
				props = fmt.Sprintf(" (%s: %s)", k, truncate(fmt.Sprintf("%v", v), 30))
				break
			}
			lines = append(lines, fmt.Sprintf("  - %s%s [conf=%.2f, domain=%s]",
				node.DisplayLabel, props, node.Confidence, node.Domain))
		}
	}
	return strings.Join(lines, "\n")
}
