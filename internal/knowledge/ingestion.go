package knowledge

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"gopkg.in/yaml.v3"

	"psycho/internal/jsonx"
	"psycho/internal/llm"
	"psycho/internal/logging"
)

// Chunking parameters for ingested text.
const (
	ChunkSize    = 1500
	ChunkOverlap = 200
	MinChunkSize = 100
)

const maxPDFPages = 50

var supportedExtensions = map[string]bool{
	".txt": true, ".md": true, ".rst": true, ".org": true, ".tex": true,
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".go": true, ".rs": true, ".java": true, ".cpp": true, ".c": true,
	".h": true, ".cs": true, ".rb": true, ".php": true, ".swift": true,
	".kt": true, ".sh": true, ".bash": true, ".zsh": true, ".fish": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".csv": true, ".xml": true,
	".pdf": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
}

var imageMediaTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

var codeExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".go": true, ".rs": true,
	".java": true, ".cpp": true, ".c": true,
}

const imageIngestionPrompt = `Analyze this image completely and extract ALL knowledge from it.

Cover everything:
1. All visible text — read every word, number, label, caption exactly as written
2. Diagrams, charts, graphs — describe what they show and what data they contain
3. Screenshots of code or terminals — transcribe the code/output verbatim
4. People, objects, scenes — describe with full detail
5. UI/interfaces — describe every element, button, and label
6. Mathematical formulas or symbols — describe them precisely
7. Any relationships, patterns, or conclusions that can be inferred

Be exhaustive. Every piece of information matters for a knowledge graph.`

// IngestionResult reports what one file or text block contributed.
type IngestionResult struct {
	SourcePath      string   `json:"source_path"`
	SourceType      string   `json:"source_type"`
	ChunksProcessed int      `json:"chunks_processed"`
	NodesAdded      int      `json:"nodes_added"`
	EdgesAdded      int      `json:"edges_added"`
	FactsAdded      int      `json:"facts_added"`
	Errors          []string `json:"errors,omitempty"`
	FileNodeID      string   `json:"file_node_id,omitempty"`
	ElapsedSeconds  float64  `json:"elapsed_seconds"`
}

// Summary is the one-line ingest report.
func (r *IngestionResult) Summary() string {
	return fmt.Sprintf("%s: %d chunks → %d nodes, %d edges, %d facts in %.1fs",
		r.SourcePath, r.ChunksProcessed, r.NodesAdded, r.EdgesAdded, r.FactsAdded, r.ElapsedSeconds)
}

func (r *IngestionResult) fail(msg string) *IngestionResult {
	r.Errors = append(r.Errors, msg)
	return r
}

// SupportedExtension reports whether the ingestor can read files with the
// given extension (leading dot, any case).
func SupportedExtension(ext string) bool {
	return supportedExtensions[strings.ToLower(ext)]
}

// SupportedExtensions lists every readable extension, sorted.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ChunkMemory stores ingested chunks for semantic recall. The memory
// manager's semantic tier satisfies it.
type ChunkMemory interface {
	StoreInteraction(ctx context.Context, sessionID, userMessage, agentResponse, domain, interactionID string) (string, error)
}

// Ingestor turns files and raw text into graph knowledge: format-aware
// text extraction, overlapping chunking, LLM extraction per chunk,
// integration through the evolver, and provenance edges back to a FILE
// node.
type Ingestor struct {
	graph     *Graph
	evolver   *Evolver
	extractor *Extractor
	memory    ChunkMemory
	vision    llm.Client
	logger    logging.Logger
}

func NewIngestor(graph *Graph, evolver *Evolver, extractor *Extractor, memory ChunkMemory, vision llm.Client, logger logging.Logger) *Ingestor {
	return &Ingestor{
		graph:     graph,
		evolver:   evolver,
		extractor: extractor,
		memory:    memory,
		vision:    vision,
		logger:    logging.OrNop(logger),
	}
}

// IngestFile processes one file end to end. Errors are accumulated in the
// result rather than aborting the whole ingest.
func (in *Ingestor) IngestFile(ctx context.Context, path string) *IngestionResult {
	start := time.Now()
	ext := strings.ToLower(filepath.Ext(path))
	result := &IngestionResult{SourcePath: path, SourceType: ext}
	defer func() { result.ElapsedSeconds = time.Since(start).Seconds() }()

	info, err := os.Stat(path)
	if err != nil {
		return result.fail("file not found: " + path)
	}
	if !supportedExtensions[ext] {
		return result.fail("unsupported file type: " + ext)
	}

	in.logger.Info("ingesting file: %s", path)

	text, metadata, err := in.extractText(ctx, path, ext)
	if err != nil {
		return result.fail(err.Error())
	}
	if text == "" {
		return result.fail("no text extracted")
	}

	domain := guessDomain(path)
	properties := map[string]any{
		"path":       path,
		"extension":  ext,
		"size_bytes": info.Size(),
	}
	for k, v := range metadata {
		properties[k] = v
	}
	fileNode := NewNode(NodeFile, strings.ToLower(filepath.Base(path)), domain, properties, 0.9, path)
	result.FileNodeID = in.graph.UpsertNode(ctx, fileNode)

	chunks := chunkText(text)
	result.ChunksProcessed = len(chunks)
	in.logger.Info("  %d chunks to process from %s", len(chunks), filepath.Base(path))

	for i, chunk := range chunks {
		in.processChunk(ctx, chunk, fmt.Sprintf("%s:chunk%d", filepath.Base(path), i+1),
			domain, result.FileNodeID, result)
	}

	if in.memory != nil {
		_, err := in.memory.StoreInteraction(ctx, "file_ingestion",
			"File: "+filepath.Base(path), truncate(text, 1000), domain,
			"file_"+truncate(result.FileNodeID, 8))
		if err != nil {
			in.logger.Warn("chunk memory store failed: %v", err)
		}
	}

	if err := in.graph.Save(); err != nil {
		result.fail("graph save: " + err.Error())
	}

	in.logger.Info("ingestion complete: %s", result.Summary())
	return result
}

// IngestFolder recursively ingests every supported file under root.
func (in *Ingestor) IngestFolder(ctx context.Context, root string) []*IngestionResult {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		in.logger.Error("not a directory: %s", root)
		return nil
	}

	var paths []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if supportedExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	in.logger.Info("found %d files in %s", len(paths), root)

	results := make([]*IngestionResult, 0, len(paths))
	for _, path := range paths {
		results = append(results, in.IngestFile(ctx, path))
	}
	return results
}

// IngestText processes raw text, e.g. pasted content or an API payload.
func (in *Ingestor) IngestText(ctx context.Context, text, sourceName, domain string) *IngestionResult {
	start := time.Now()
	if sourceName == "" {
		sourceName = "manual_input"
	}
	if domain == "" {
		domain = "general"
	}
	result := &IngestionResult{SourcePath: sourceName, SourceType: "text"}
	defer func() { result.ElapsedSeconds = time.Since(start).Seconds() }()

	textNode := NewNode(NodeFile, strings.ToLower(sourceName), domain,
		map[string]any{"type": "raw_text", "length": len(text)}, 0.8, sourceName)
	result.FileNodeID = in.graph.UpsertNode(ctx, textNode)

	chunks := chunkText(text)
	result.ChunksProcessed = len(chunks)
	for i, chunk := range chunks {
		in.processChunk(ctx, chunk, fmt.Sprintf("%s:chunk%d", sourceName, i+1),
			domain, result.FileNodeID, result)
	}

	if err := in.graph.Save(); err != nil {
		result.fail("graph save: " + err.Error())
	}
	return result
}

// processChunk extracts from one chunk, integrates, and links provenance.
func (in *Ingestor) processChunk(ctx context.Context, chunk, sourceName, domain, fileNodeID string, result *IngestionResult) {
	extraction := in.extractor.FromText(ctx, chunk, sourceName, domain)
	stats := in.evolver.Integrate(ctx, extraction)
	result.NodesAdded += stats.NodesAdded
	result.EdgesAdded += stats.EdgesAdded
	result.FactsAdded += stats.FactsAdded

	var extracted []*Node
	extracted = append(extracted, extraction.Entities...)
	extracted = append(extracted, extraction.Facts...)
	extracted = append(extracted, extraction.Preferences...)
	for _, node := range extracted {
		existing := in.graph.FindNodeByLabel(node.Label, "")
		if existing == nil {
			continue
		}
		in.graph.UpsertEdge(NewEdge(existing.ID, fileNodeID, EdgeExtractedFrom, 0.8))
	}

	if in.memory != nil && len(chunk) >= MinChunkSize {
		_, err := in.memory.StoreInteraction(ctx, "file_ingestion",
			"From "+sourceName+":", truncate(chunk, 500), domain, "")
		if err != nil {
			in.logger.Debug("chunk memory store failed: %v", err)
		}
	}
}

// extractText reads a file in a format-aware way and returns text plus
// format metadata for the FILE node.
func (in *Ingestor) extractText(ctx context.Context, path, ext string) (string, map[string]any, error) {
	if _, ok := imageMediaTypes[ext]; ok {
		return in.extractImage(ctx, path, ext)
	}
	switch ext {
	case ".pdf":
		return extractPDF(path)
	case ".json":
		return extractJSON(path)
	case ".yaml", ".yml":
		return extractYAML(path)
	case ".csv":
		return extractCSV(path)
	case ".md", ".rst", ".org":
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", nil, err
		}
		metadata := map[string]any{}
		if m := markdownTitleRe.FindSubmatch(raw); m != nil {
			metadata["title"] = strings.TrimSpace(string(m[1]))
		}
		return string(raw), metadata, nil
	default:
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", nil, err
		}
		return string(raw), map[string]any{}, nil
	}
}

var markdownTitleRe = regexp.MustCompile(`^#+ (.+)`)

// extractImage runs the vision model over the image and uses its full
// description as the ingestable text.
func (in *Ingestor) extractImage(ctx context.Context, path, ext string) (string, map[string]any, error) {
	if in.vision == nil {
		return "", nil, fmt.Errorf("vision not available for image ingestion")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	mediaType := imageMediaTypes[ext]
	description, err := in.vision.CompleteWithImage(ctx, llm.ImageRequest{
		Image:     data,
		MediaType: mediaType,
		Prompt:    imageIngestionPrompt,
		MaxTokens: llm.DefaultMaxTokens,
	})
	if err != nil {
		return "", nil, fmt.Errorf("image extraction: %w", err)
	}
	return description, map[string]any{
		"format":           "image",
		"media_type":       mediaType,
		"size_bytes":       len(data),
		"vision_extracted": true,
	}, nil
}

func extractPDF(path string) (string, map[string]any, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("open pdf: %w", err)
	}
	defer func() { _ = f.Close() }()

	total := reader.NumPage()
	var pages []string
	for i := 1; i <= total && i <= maxPDFPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil || text == "" {
			continue
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n\n"), map[string]any{
		"format":     "pdf",
		"page_count": total,
	}, nil
}

func extractJSON(path string) (string, map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	var data any
	if err := jsonx.Unmarshal(raw, &data); err != nil {
		return string(raw), map[string]any{"format": "json"}, nil
	}
	pretty, err := jsonx.MarshalIndent(data, "", "  ")
	if err != nil {
		return string(raw), map[string]any{"format": "json"}, nil
	}
	metadata := map[string]any{"format": "json"}
	if obj, ok := data.(map[string]any); ok {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			if len(keys) >= 10 {
				break
			}
			keys = append(keys, k)
		}
		metadata["top_keys"] = keys
	}
	return truncate(string(pretty), 5000), metadata, nil
}

func extractYAML(path string) (string, map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	var data any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return string(raw), map[string]any{"format": "yaml"}, nil
	}
	return truncate(fmt.Sprintf("%v", data), 5000), map[string]any{"format": "yaml"}, nil
}

func extractCSV(path string) (string, map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil || len(rows) == 0 {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return "", nil, readErr
		}
		return string(raw), map[string]any{"format": "csv"}, nil
	}

	headers := rows[0]
	sample := rows[1:]
	if len(sample) > 5 {
		sample = sample[:5]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "CSV file: %s\nColumns: %s\nSample rows:\n",
		filepath.Base(path), strings.Join(headers, ", "))
	for _, row := range sample {
		if len(row) > 10 {
			row = row[:10]
		}
		b.WriteString("  " + strings.Join(row, " | ") + "\n")
	}
	return b.String(), map[string]any{
		"format":    "csv",
		"columns":   headers,
		"row_count": len(rows) - 1,
	}, nil
}

var paragraphSplitRe = regexp.MustCompile(`\n{2,}`)

// chunkText splits text into overlapping chunks, preferring paragraph
// boundaries. Short leftovers below MinChunkSize are dropped.
func chunkText(text string) []string {
	if len(text) <= ChunkSize {
		if len(text) >= MinChunkSize {
			return []string{text}
		}
		return nil
	}

	var chunks []string
	current := ""
	for _, para := range paragraphSplitRe.Split(text, -1) {
		if len(current)+len(para) <= ChunkSize {
			current += para + "\n\n"
			continue
		}
		if len(current) >= MinChunkSize {
			chunks = append(chunks, strings.TrimSpace(current))
		}
		overlap := current
		if len(overlap) > ChunkOverlap {
			overlap = overlap[len(overlap)-ChunkOverlap:]
		}
		current = overlap + para + "\n\n"
	}
	if trimmed := strings.TrimSpace(current); trimmed != "" && len(current) >= MinChunkSize {
		chunks = append(chunks, trimmed)
	}
	return chunks
}

func guessDomain(path string) string {
	name := strings.ToLower(filepath.Base(path))
	ext := strings.ToLower(filepath.Ext(path))

	if codeExtensions[ext] {
		return "coding"
	}
	for _, k := range []string{"health", "diet", "nutrition", "exercise", "medical"} {
		if strings.Contains(name, k) {
			return "health"
		}
	}
	for _, k := range []string{"math", "calculus", "algebra", "statistics"} {
		if strings.Contains(name, k) {
			return "math"
		}
	}
	for _, k := range []string{"science", "physics", "chemistry", "biology"} {
		if strings.Contains(name, k) {
			return "science"
		}
	}
	return "general"
}
