// Package knowledge implements the confidence-scored knowledge graph: typed
// nodes and edges, JSON persistence, semantic indexing, LLM extraction, and
// the evolution rules that keep the graph healthy over time.
package knowledge

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NodeType classifies what a graph node represents.
type NodeType string

const (
	NodeConcept    NodeType = "concept"
	NodeEntity     NodeType = "entity"
	NodePerson     NodeType = "person"
	NodeFact       NodeType = "fact"
	NodePreference NodeType = "preference"
	NodeSkill      NodeType = "skill"
	NodeMistake    NodeType = "mistake"
	NodeQuestion   NodeType = "question"
	NodeDomain     NodeType = "domain"
	NodeTopic      NodeType = "topic"
	NodeFile       NodeType = "file"
	NodeEvent      NodeType = "event"
	NodeTechnology NodeType = "technology"
)

// NodeTypes lists every valid node type.
var NodeTypes = []NodeType{
	NodeConcept, NodeEntity, NodePerson, NodeFact, NodePreference,
	NodeSkill, NodeMistake, NodeQuestion, NodeDomain, NodeTopic,
	NodeFile, NodeEvent, NodeTechnology,
}

// ValidNodeType reports whether s names a known node type.
func ValidNodeType(s string) bool {
	for _, t := range NodeTypes {
		if string(t) == s {
			return true
		}
	}
	return false
}

// EdgeType classifies the directed relationship between two nodes.
type EdgeType string

const (
	EdgeIsA           EdgeType = "is_a"
	EdgeHasProperty   EdgeType = "has_property"
	EdgePartOf        EdgeType = "part_of"
	EdgeRelatesTo     EdgeType = "relates_to"
	EdgeDependsOn     EdgeType = "depends_on"
	EdgeCauses        EdgeType = "causes"
	EdgeUsedIn        EdgeType = "used_in"
	EdgeSimilarTo     EdgeType = "similar_to"
	EdgeContradicts   EdgeType = "contradicts"
	EdgeSupports      EdgeType = "supports"
	EdgeCorrects      EdgeType = "corrects"
	EdgePreferredBy   EdgeType = "preferred_by"
	EdgeKnows         EdgeType = "knows"
	EdgeDislikes      EdgeType = "dislikes"
	EdgeExtractedFrom EdgeType = "extracted_from"
	EdgeInferredFrom  EdgeType = "inferred_from"
	EdgeMentionedIn   EdgeType = "mentioned_in"
	EdgeAuthoredBy    EdgeType = "authored_by"
	EdgeContains      EdgeType = "contains"
)

// Confidence bounds for every node in the graph. Nothing is ever fully
// certain and nothing drops to zero; pruning handles the floor.
const (
	MinConfidence = 0.05
	MaxConfidence = 0.95
)

// ConfidenceLabel maps a confidence score to a coarse display band.
func ConfidenceLabel(conf float64) string {
	switch {
	case conf >= 0.8:
		return "HIGH"
	case conf >= 0.5:
		return "MEDIUM"
	case conf >= 0.2:
		return "LOW"
	}
	return "UNCERTAIN"
}

// ConfidenceBar renders a fixed-width block bar for a confidence score.
func ConfidenceBar(conf float64, width int) string {
	if width <= 0 {
		width = 10
	}
	filled := int(conf*float64(width) + 0.5)
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// Node is one unit of knowledge. Label is the normalized lowercase form used
// for lookups; DisplayLabel keeps the original casing.
type Node struct {
	ID                string         `json:"id"`
	Type              NodeType       `json:"type"`
	Label             string         `json:"label"`
	DisplayLabel      string         `json:"display_label"`
	Properties        map[string]any `json:"properties"`
	Confidence        float64        `json:"confidence"`
	CreatedAt         float64        `json:"created_at"`
	LastAccessed      float64        `json:"last_accessed"`
	LastUpdated       float64        `json:"last_updated"`
	AccessCount       int            `json:"access_count"`
	Domain            string         `json:"domain"`
	Sources           []string       `json:"sources"`
	EmbeddingID       string         `json:"embedding_id"`
	Deprecated        bool           `json:"deprecated"`
	DeprecationReason string         `json:"deprecation_reason"`
}

// NewNode builds a node with a fresh id and normalized label.
func NewNode(nodeType NodeType, label, domain string, properties map[string]any, confidence float64, sources ...string) *Node {
	if properties == nil {
		properties = map[string]any{}
	}
	if domain == "" {
		domain = "general"
	}
	ts := nowf()
	return &Node{
		ID:           uuid.NewString(),
		Type:         nodeType,
		Label:        strings.ToLower(strings.TrimSpace(label)),
		DisplayLabel: strings.TrimSpace(label),
		Properties:   properties,
		Confidence:   confidence,
		CreatedAt:    ts,
		LastAccessed: ts,
		LastUpdated:  ts,
		Domain:       domain,
		Sources:      sources,
	}
}

// Touch marks the node as accessed.
func (n *Node) Touch() {
	n.LastAccessed = nowf()
	n.AccessCount++
}

// UpdateConfidence applies a delta, clamped to [MinConfidence, MaxConfidence].
func (n *Node) UpdateConfidence(delta float64) {
	n.Confidence = clampConfidence(n.Confidence + delta)
	n.LastUpdated = nowf()
}

// AddSource records a provenance source once.
func (n *Node) AddSource(source string) {
	for _, s := range n.Sources {
		if s == source {
			return
		}
	}
	n.Sources = append(n.Sources, source)
}

// ToText renders the compact text form used for semantic indexing.
func (n *Node) ToText() string {
	parts := []string{fmt.Sprintf("%s: %s", n.Type, n.DisplayLabel)}
	if n.Domain != "general" {
		parts = append(parts, "domain: "+n.Domain)
	}
	count := 0
	for k, v := range n.Properties {
		if count >= 3 {
			break
		}
		parts = append(parts, fmt.Sprintf("%s: %v", k, v))
		count++
	}
	return strings.Join(parts, " | ")
}

// Clone returns a deep copy of the node, safe to read after the graph lock
// is released.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	dup := *n
	dup.Properties = make(map[string]any, len(n.Properties))
	for k, v := range n.Properties {
		dup.Properties[k] = v
	}
	dup.Sources = append([]string(nil), n.Sources...)
	return &dup
}

// ConfidenceDisplay formats the score for inspection output.
func (n *Node) ConfidenceDisplay() string {
	return fmt.Sprintf("%s %.2f [%s]", ConfidenceBar(n.Confidence, 10), n.Confidence, ConfidenceLabel(n.Confidence))
}

// Edge is a directed, typed relationship. Weight counts reinforcement.
type Edge struct {
	SourceID       string         `json:"source_id"`
	TargetID       string         `json:"target_id"`
	Type           EdgeType       `json:"type"`
	Confidence     float64        `json:"confidence"`
	Weight         float64        `json:"weight"`
	Properties     map[string]any `json:"properties"`
	CreatedAt      float64        `json:"created_at"`
	LastReinforced float64        `json:"last_reinforced"`
}

// NewEdge builds an edge between two node ids.
func NewEdge(sourceID, targetID string, edgeType EdgeType, confidence float64) *Edge {
	ts := nowf()
	return &Edge{
		SourceID:       sourceID,
		TargetID:       targetID,
		Type:           edgeType,
		Confidence:     confidence,
		Weight:         1.0,
		Properties:     map[string]any{},
		CreatedAt:      ts,
		LastReinforced: ts,
	}
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Properties = make(map[string]any, len(e.Properties))
	for k, v := range e.Properties {
		dup.Properties[k] = v
	}
	return &dup
}

// Reinforce strengthens the edge after it is observed again.
func (e *Edge) Reinforce() {
	e.Weight += 0.1
	e.Confidence = min(MaxConfidence, e.Confidence+0.03)
	e.LastReinforced = nowf()
}

func clampConfidence(conf float64) float64 {
	if conf < MinConfidence {
		return MinConfidence
	}
	if conf > MaxConfidence {
		return MaxConfidence
	}
	return conf
}

func nowf() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
