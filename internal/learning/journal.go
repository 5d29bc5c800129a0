package learning

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"psycho/internal/jsonx"
	"psycho/internal/knowledge"
	"psycho/internal/logging"
)

// Reflection is the synthesized output of a post-session reflection pass.
type Reflection struct {
	SessionSummary      string       `json:"session_summary"`
	KeyLearnings        []Learning   `json:"key_learnings"`
	CorrectionsDetected []Correction `json:"corrections_detected"`
	PatternsObserved    []Pattern    `json:"patterns_observed"`
	KnowledgeGaps       []Gap        `json:"knowledge_gaps"`
	Insights            []Insight    `json:"insights"`
	QualityScore        float64      `json:"quality_score"`
}

type Learning struct {
	Fact       string  `json:"fact"`
	Domain     string  `json:"domain"`
	Confidence float64 `json:"confidence"`
}

type Correction struct {
	Wrong   string `json:"wrong"`
	Correct string `json:"correct"`
}

type Pattern struct {
	Pattern     string `json:"pattern"`
	Implication string `json:"implication"`
}

type Gap struct {
	Topic           string `json:"topic"`
	WhyInsufficient string `json:"why_insufficient"`
}

type Insight struct {
	Insight string `json:"insight"`
	Basis   string `json:"basis"`
}

// JournalEntry is the persisted record of one session.
type JournalEntry struct {
	SessionID           string                     `json:"session_id"`
	Date                string                     `json:"date"`
	StartedAt           string                     `json:"started_at"`
	EndedAt             string                     `json:"ended_at"`
	DurationMinutes     float64                    `json:"duration_minutes"`
	MessageCount        int                        `json:"message_count"`
	QualityScore        float64                    `json:"quality_score"`
	Summary             string                     `json:"summary"`
	KeyLearnings        []Learning                 `json:"key_learnings"`
	CorrectionsDetected []Correction               `json:"corrections_detected"`
	PatternsObserved    []Pattern                  `json:"patterns_observed"`
	KnowledgeGaps       []Gap                      `json:"knowledge_gaps"`
	Insights            []Insight                  `json:"insights"`
	GraphChanges        knowledge.IntegrationStats `json:"graph_changes"`
}

// Journal writes per-session records under one directory, one JSON file for
// machines and one Markdown file for humans.
type Journal struct {
	dir    string
	logger logging.Logger
}

// NewJournal prepares the journal directory.
func NewJournal(dir string, logger logging.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &Journal{dir: dir, logger: logging.OrNop(logger)}, nil
}

// Write records one session and returns the JSON file path.
func (j *Journal) Write(sessionID string, startedAt time.Time, reflection *Reflection, graphChanges knowledge.IntegrationStats, messageCount int) (string, error) {
	endedAt := time.Now()
	dateStr := endedAt.Format("2006-01-02")
	stem := dateStr + "_" + sessionID
	jsonPath := filepath.Join(j.dir, stem+".json")
	mdPath := filepath.Join(j.dir, stem+".md")

	if reflection == nil {
		reflection = &Reflection{}
	}
	entry := JournalEntry{
		SessionID:           sessionID,
		Date:                dateStr,
		StartedAt:           startedAt.Format("15:04:05"),
		EndedAt:             endedAt.Format("15:04:05"),
		DurationMinutes:     round1(endedAt.Sub(startedAt).Minutes()),
		MessageCount:        messageCount,
		QualityScore:        reflection.QualityScore,
		Summary:             reflection.SessionSummary,
		KeyLearnings:        reflection.KeyLearnings,
		CorrectionsDetected: reflection.CorrectionsDetected,
		PatternsObserved:    reflection.PatternsObserved,
		KnowledgeGaps:       reflection.KnowledgeGaps,
		Insights:            reflection.Insights,
		GraphChanges:        graphChanges,
	}

	raw, err := jsonx.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode journal: %w", err)
	}
	if err := os.WriteFile(jsonPath, raw, 0o644); err != nil {
		return "", fmt.Errorf("write journal: %w", err)
	}
	if err := os.WriteFile(mdPath, []byte(entry.Markdown()), 0o644); err != nil {
		return "", fmt.Errorf("write journal markdown: %w", err)
	}
	j.logger.Info("session journal written: %s", jsonPath)
	return jsonPath, nil
}

// Latest loads the n most recent journal entries, newest first.
func (j *Journal) Latest(n int) []JournalEntry {
	matches, err := filepath.Glob(filepath.Join(j.dir, "*.json"))
	if err != nil {
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	if len(matches) > n {
		matches = matches[:n]
	}
	var entries []JournalEntry
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry JournalEntry
		if err := jsonx.Unmarshal(raw, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// Markdown renders the human-readable form.
func (e *JournalEntry) Markdown() string {
	quality := e.QualityScore
	emoji := "🔴"
	if quality > 0.75 {
		emoji = "🟢"
	} else if quality > 0.5 {
		emoji = "🟡"
	}
	bars := knowledge.ConfidenceBar(quality, 10)

	lines := []string{
		fmt.Sprintf("# Session Journal — %s @ %s", e.Date, e.StartedAt),
		"",
		"## Overview",
		"| | |",
		"|---|---|",
		fmt.Sprintf("| **Session ID** | `%s` |", e.SessionID),
		fmt.Sprintf("| **Duration** | %.1f minutes |", e.DurationMinutes),
		fmt.Sprintf("| **Messages** | %d |", e.MessageCount),
		fmt.Sprintf("| **Quality** | %s %s %.2f |", emoji, bars, quality),
		"",
	}

	if e.Summary != "" {
		lines = append(lines, "## Summary", e.Summary, "")
	}
	if len(e.KeyLearnings) > 0 {
		lines = append(lines, "## Key Learnings")
		for _, l := range e.KeyLearnings {
			domain := ""
			if l.Domain != "" {
				domain = fmt.Sprintf(" `[%s]`", l.Domain)
			}
			lines = append(lines, fmt.Sprintf("- %s%s _(confidence: %.2f)_", l.Fact, domain, l.Confidence))
		}
		lines = append(lines, "")
	}
	if len(e.CorrectionsDetected) > 0 {
		lines = append(lines, "## Corrections Detected")
		for _, c := range e.CorrectionsDetected {
			lines = append(lines, fmt.Sprintf("- ~~%s~~ → **%s**", c.Wrong, c.Correct))
		}
		lines = append(lines, "")
	}
	if len(e.Insights) > 0 {
		lines = append(lines, "## Insights")
		for _, ins := range e.Insights {
			lines = append(lines, "- "+ins.Insight)
			if ins.Basis != "" {
				lines = append(lines, "  _Based on: "+ins.Basis+"_")
			}
		}
		lines = append(lines, "")
	}
	if len(e.PatternsObserved) > 0 {
		lines = append(lines, "## Patterns Observed")
		for _, p := range e.PatternsObserved {
			lines = append(lines, "- "+p.Pattern)
			if p.Implication != "" {
				lines = append(lines, "  → _"+p.Implication+"_")
			}
		}
		lines = append(lines, "")
	}
	if len(e.KnowledgeGaps) > 0 {
		lines = append(lines, "## Knowledge Gaps")
		for _, g := range e.KnowledgeGaps {
			lines = append(lines, fmt.Sprintf("- **%s**: %s", g.Topic, g.WhyInsufficient))
		}
		lines = append(lines, "")
	}
	if !e.GraphChanges.Empty() {
		lines = append(lines,
			"## Graph Evolution",
			fmt.Sprintf("| Nodes added | %d |", e.GraphChanges.NodesAdded),
			fmt.Sprintf("| Edges added | %d |", e.GraphChanges.EdgesAdded),
			fmt.Sprintf("| Facts added | %d |", e.GraphChanges.FactsAdded),
			fmt.Sprintf("| Corrections | %d |", e.GraphChanges.CorrectionsApplied),
			"",
		)
	}

	lines = append(lines, "---", "_Generated by PsychoPortal · "+e.Date+"_")
	return strings.Join(lines, "\n")
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
