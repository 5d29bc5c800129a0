package learning

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"psycho/internal/logging"
	"psycho/internal/storage"
	"psycho/internal/vector"
)

const (
	maxWarningsInPrompt     = 3
	minSimilarityForWarning = 0.55
)

// MistakeTracker records confirmed agent errors and surfaces warnings
// before similar questions come up again. SQLite keeps the full records;
// the vector index holds the triggering question for similarity search.
type MistakeTracker struct {
	db      *storage.DB
	vectors *vector.Store
	logger  logging.Logger
}

// NewMistakeTracker wires the two storage layers.
func NewMistakeTracker(db *storage.DB, vectors *vector.Store, logger logging.Logger) *MistakeTracker {
	return &MistakeTracker{db: db, vectors: vectors, logger: logging.OrNop(logger)}
}

// RecordMistake persists a confirmed mistake and indexes the question that
// triggered it.
func (t *MistakeTracker) RecordMistake(ctx context.Context, sessionID, userInput, agentResponse, correction, domain, errorPattern string) (string, error) {
	mistake := &storage.Mistake{
		SessionID:     sessionID,
		UserInput:     userInput,
		AgentResponse: truncate(agentResponse, 500),
		Correction:    truncate(correction, 300),
		Domain:        domain,
		ErrorPattern:  errorPattern,
	}
	if err := t.db.InsertMistake(ctx, mistake); err != nil {
		return "", err
	}

	err := t.vectors.Add(ctx, vector.CollectionMistakes, mistake.ID, userInput, map[string]string{
		"mistake_id":     mistake.ID,
		"correction":     truncate(correction, 200),
		"agent_response": truncate(agentResponse, 200),
		"domain":         domain,
		"error_pattern":  errorPattern,
	})
	if err != nil {
		t.logger.Warn("mistake indexed in sqlite only: %v", err)
	}

	t.logger.Info("mistake recorded [%s]: %q corrected to %q",
		shortID(mistake.ID), truncate(userInput, 60), truncate(correction, 60))
	return mistake.ID, nil
}

// WarningsFor returns formatted warnings for past mistakes similar to the
// incoming question, most similar first. Each surfaced mistake has its
// similar count bumped for analytics.
func (t *MistakeTracker) WarningsFor(ctx context.Context, userMessage string) []string {
	hits, err := t.vectors.Search(ctx, vector.CollectionMistakes, userMessage, maxWarningsInPrompt, nil)
	if err != nil {
		t.logger.Debug("mistake similarity search failed: %v", err)
		return nil
	}

	var warnings []string
	for _, hit := range hits {
		if hit.Relevance < minSimilarityForWarning {
			continue
		}
		warnings = append(warnings, fmt.Sprintf(
			"• Previously, when asked '%s', you said something incorrect. The correct answer is: '%s'",
			truncate(hit.Text, 80), truncate(hit.Metadata["correction"], 120)))

		if id := hit.Metadata["mistake_id"]; id != "" {
			if err := t.db.BumpMistakeSimilarCount(ctx, id); err != nil {
				t.logger.Debug("bump similar count: %v", err)
			}
		}
	}
	if len(warnings) > 0 {
		t.logger.Debug("found %d relevant mistake warnings", len(warnings))
	}
	return warnings
}

// BuildWarningBlock formats warnings as a system prompt section.
func (t *MistakeTracker) BuildWarningBlock(warnings []string) string {
	if len(warnings) == 0 {
		return ""
	}
	lines := []string{"\n─── KNOWN FAILURE PATTERNS — AVOID THESE MISTAKES ───"}
	lines = append(lines, warnings...)
	lines = append(lines,
		"These are documented past errors. Think carefully before responding to similar questions.\n───────────────────────────────────")
	return strings.Join(lines, "\n")
}

// Mistakes lists recorded mistakes, optionally filtered by domain.
func (t *MistakeTracker) Mistakes(ctx context.Context, domain string, limit int) ([]*storage.Mistake, error) {
	return t.db.ListMistakes(ctx, domain, limit)
}

// Stats reports totals and the most error-prone domain.
func (t *MistakeTracker) Stats(ctx context.Context) (map[string]any, error) {
	total, topDomain, err := t.db.MistakeStats(ctx)
	if err != nil {
		return nil, err
	}
	if topDomain == "" {
		topDomain = "—"
	}
	return map[string]any{
		"total_mistakes":     total,
		"most_common_domain": topDomain,
		"semantic_indexed":   t.vectors.Count(vector.CollectionMistakes),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
