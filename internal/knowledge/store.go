package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"psycho/internal/jsonx"
	"psycho/internal/logging"
)

const (
	graphFileName    = "knowledge_graph.json"
	metadataFileName = "graph_metadata.json"

	// Serialized graph format version.
	graphSchemaVersion = 2

	// Evolution history kept in metadata, oldest entries dropped first.
	maxEvolutionHistory = 200
)

// GraphSnapshot is the on-disk graph format.
type GraphSnapshot struct {
	SchemaVersion int              `json:"schema_version"`
	SavedAt       float64          `json:"saved_at"`
	Nodes         map[string]*Node `json:"nodes"`
	Edges         []*Edge          `json:"edges"`
}

// EvolutionEvent is one entry in the graph's change history.
type EvolutionEvent struct {
	Timestamp float64        `json:"timestamp"`
	Type      string         `json:"type"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Metadata carries graph statistics and the evolution history.
type Metadata struct {
	SchemaVersion     int              `json:"schema_version"`
	CreatedAt         float64          `json:"created_at"`
	LastSaved         float64          `json:"last_saved"`
	TotalNodes        int              `json:"total_nodes"`
	TotalEdges        int              `json:"total_edges"`
	ActiveNodes       int              `json:"active_nodes"`
	NodeTypeCounts    map[string]int   `json:"node_type_counts"`
	AverageConfidence float64          `json:"average_confidence"`
	EvolutionHistory  []EvolutionEvent `json:"evolution_history"`
}

// FileStore persists the knowledge graph and its metadata as JSON files
// under one directory. Writes go through a temp file and rename so a crash
// mid-save never leaves a truncated graph behind.
type FileStore struct {
	dir      string
	graphDst string
	metaDst  string
	logger   logging.Logger
}

// NewFileStore prepares dir for graph persistence.
func NewFileStore(dir string, logger logging.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create graph dir: %w", err)
	}
	return &FileStore{
		dir:      dir,
		graphDst: filepath.Join(dir, graphFileName),
		metaDst:  filepath.Join(dir, metadataFileName),
		logger:   logging.OrNop(logger),
	}, nil
}

// Save writes the snapshot and refreshes metadata stats.
func (s *FileStore) Save(nodes map[string]*Node, edges []*Edge) error {
	snapshot := GraphSnapshot{
		SchemaVersion: graphSchemaVersion,
		SavedAt:       nowf(),
		Nodes:         nodes,
		Edges:         edges,
	}
	if err := writeJSON(s.graphDst, snapshot); err != nil {
		return fmt.Errorf("save graph: %w", err)
	}

	meta := s.Metadata()
	meta.SchemaVersion = graphSchemaVersion
	meta.LastSaved = nowf()
	meta.TotalNodes = len(nodes)
	meta.TotalEdges = len(edges)
	if meta.CreatedAt == 0 {
		meta.CreatedAt = nowf()
	}

	active := 0
	typeCounts := make(map[string]int)
	var confSum float64
	for _, node := range nodes {
		if !node.Deprecated {
			active++
		}
		typeCounts[string(node.Type)]++
		confSum += node.Confidence
	}
	meta.ActiveNodes = active
	meta.NodeTypeCounts = typeCounts
	if len(nodes) > 0 {
		meta.AverageConfidence = confSum / float64(len(nodes))
	} else {
		meta.AverageConfidence = 0
	}

	if err := writeJSON(s.metaDst, meta); err != nil {
		return fmt.Errorf("save graph metadata: %w", err)
	}
	s.logger.Debug("graph saved: %d nodes, %d edges", len(nodes), len(edges))
	return nil
}

// Load reads the saved snapshot. A missing file returns (nil, nil) so a
// first run starts from an empty graph.
func (s *FileStore) Load() (*GraphSnapshot, error) {
	raw, err := os.ReadFile(s.graphDst)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	var snapshot GraphSnapshot
	if err := jsonx.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	s.logger.Info("graph loaded: %d nodes, %d edges", len(snapshot.Nodes), len(snapshot.Edges))
	return &snapshot, nil
}

// Metadata reads the metadata file; a missing or corrupt file yields a
// zero-value Metadata rather than an error.
func (s *FileStore) Metadata() Metadata {
	var meta Metadata
	raw, err := os.ReadFile(s.metaDst)
	if err != nil {
		return meta
	}
	if err := jsonx.Unmarshal(raw, &meta); err != nil {
		s.logger.Warn("graph metadata unreadable, resetting: %v", err)
		return Metadata{}
	}
	return meta
}

// RecordEvolutionEvent appends one event to the metadata history, keeping
// only the most recent entries.
func (s *FileStore) RecordEvolutionEvent(eventType string, detail map[string]any) error {
	meta := s.Metadata()
	meta.EvolutionHistory = append(meta.EvolutionHistory, EvolutionEvent{
		Timestamp: nowf(),
		Type:      eventType,
		Detail:    detail,
	})
	if len(meta.EvolutionHistory) > maxEvolutionHistory {
		meta.EvolutionHistory = meta.EvolutionHistory[len(meta.EvolutionHistory)-maxEvolutionHistory:]
	}
	if err := writeJSON(s.metaDst, meta); err != nil {
		return fmt.Errorf("record evolution event: %w", err)
	}
	return nil
}

// ExportCypher renders the graph as Neo4j CREATE statements.
func (s *FileStore) ExportCypher(nodes map[string]*Node, edges []*Edge) string {
	var b strings.Builder
	b.WriteString("// PsychoPortal Knowledge Graph\n")
	for id, node := range nodes {
		fmt.Fprintf(&b, "CREATE (n%s:%s {id: '%s', label: '%s', confidence: %.3f})\n",
			shortID(id), strings.ToUpper(string(node.Type)), id,
			strings.ReplaceAll(node.Label, "'", "\\'"), node.Confidence)
	}
	for _, edge := range edges {
		rel := strings.ToUpper(strings.ReplaceAll(string(edge.Type), "-", "_"))
		fmt.Fprintf(&b, "CREATE (n%s)-[:%s {confidence: %.3f}]->(n%s)\n",
			shortID(edge.SourceID), rel, edge.Confidence, shortID(edge.TargetID))
	}
	return b.String()
}

// D3Node and D3Link are the visualization export shapes.
type D3Node struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Domain     string  `json:"domain"`
	Deprecated bool    `json:"deprecated"`
}

type D3Link struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type D3Graph struct {
	Nodes []D3Node `json:"nodes"`
	Links []D3Link `json:"links"`
}

// ExportD3 renders the graph in a force-layout friendly shape.
func (s *FileStore) ExportD3(nodes map[string]*Node, edges []*Edge) D3Graph {
	out := D3Graph{Nodes: make([]D3Node, 0, len(nodes)), Links: make([]D3Link, 0, len(edges))}
	for id, node := range nodes {
		out.Nodes = append(out.Nodes, D3Node{
			ID:         id,
			Label:      node.DisplayLabel,
			Type:       string(node.Type),
			Confidence: node.Confidence,
			Domain:     node.Domain,
			Deprecated: node.Deprecated,
		})
	}
	for _, edge := range edges {
		out.Links = append(out.Links, D3Link{
			Source:     edge.SourceID,
			Target:     edge.TargetID,
			Type:       string(edge.Type),
			Confidence: edge.Confidence,
		})
	}
	return out
}

func writeJSON(dst string, v any) error {
	raw, err := jsonx.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
