package domains

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"psycho/internal/logging"
	"psycho/internal/storage"
)

// MetricMatch is one health measurement found in free text.
type MetricMatch struct {
	MetricType string  `json:"type"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Raw        string  `json:"raw"`
}

var metricPatterns = []struct {
	metricType string
	re         *regexp.Regexp
	unit       string
}{
	{"weight", regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(kg|lbs?|pounds?|kilograms?)`), "kg"},
	{"sleep", regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:hours?|hrs?)\s*(?:of\s*)?sleep`), "hours"},
	{"sleep", regexp.MustCompile(`(?i)slept\s*(?:for\s*)?(\d+(?:\.\d+)?)\s*(?:hours?|hrs?)`), "hours"},
	{"calories", regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:kcal|calories?|cals?)`), "kcal"},
	{"calories", regexp.MustCompile(`(?i)(?:ate|eaten|consumed)\s*(?:about\s*)?(\d+)\s*(?:kcal|calories?)`), "kcal"},
	{"steps", regexp.MustCompile(`(?i)(\d[\d,]*)\s*steps?`), "steps"},
	{"steps", regexp.MustCompile(`(?i)walked\s*(?:about\s*)?(\d[\d,]*)\s*steps?`), "steps"},
	{"water", regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:liters?|litres?|l)\s*(?:of\s*)?water`), "liters"},
	{"water", regexp.MustCompile(`(?i)drank\s*(\d+)\s*(?:glasses?|cups?)\s*(?:of\s*)?water`), "glasses"},
	{"heart_rate", regexp.MustCompile(`(?i)heart\s*rate\s*(?:of\s*|was\s*|:?\s*)(\d+)`), "bpm"},
	{"heart_rate", regexp.MustCompile(`(?i)(\d+)\s*bpm`), "bpm"},
	{"mood", regexp.MustCompile(`(?i)mood\s*(?:is\s*|was\s*|:?\s*)(\d+)(?:\s*/\s*10)?`), "/10"},
	{"mood", regexp.MustCompile(`(?i)feeling\s*(?:like\s*)?(?:a\s*)?(\d+)(?:\s*/\s*10)`), "/10"},
	{"body_fat", regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*%\s*(?:body\s*)?fat`), "%"},
	{"exercise_min", regexp.MustCompile(`(?i)(\d+)\s*(?:minutes?|mins?)\s*(?:of\s*)?(?:exercise|workout|training|running|cycling)`), "minutes"},
}

// ExtractMetrics finds health measurements in text, one per metric type
// (first match wins).
func ExtractMetrics(text string) []MetricMatch {
	seen := map[string]bool{}
	var unique []MetricMatch
	for _, p := range metricPatterns {
		if seen[p.metricType] {
			continue
		}
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		seen[p.metricType] = true
		unique = append(unique, MetricMatch{
			MetricType: p.metricType,
			Value:      value,
			Unit:       p.unit,
			Raw:        m[0],
		})
	}
	return unique
}

// MetricSummary aggregates one metric type over a window.
type MetricSummary struct {
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
	Unit  string  `json:"unit"`
}

// HealthTracker logs measurements and aggregates trends.
type HealthTracker struct {
	db     *storage.DB
	logger logging.Logger
}

// NewHealthTracker wires the tracker.
func NewHealthTracker(db *storage.DB, logger logging.Logger) *HealthTracker {
	return &HealthTracker{db: db, logger: logging.OrNop(logger)}
}

// Log records one measurement.
func (t *HealthTracker) Log(ctx context.Context, metric *storage.HealthMetric) error {
	metric.Notes = truncate(metric.Notes, 200)
	if err := t.db.InsertHealthMetric(ctx, metric); err != nil {
		return err
	}
	t.logger.Info("health metric logged: %s=%g%s", metric.MetricType, metric.Value, metric.Unit)
	return nil
}

// Recent returns the latest measurements of one type.
func (t *HealthTracker) Recent(ctx context.Context, metricType string, limit int) ([]*storage.HealthMetric, error) {
	return t.db.ListHealthMetrics(ctx, metricType, limit)
}

// Summary aggregates all metrics logged in the last N days, keyed by type.
func (t *HealthTracker) Summary(ctx context.Context, days int) (map[string]MetricSummary, error) {
	metrics, err := t.db.ListHealthMetrics(ctx, "", 500)
	if err != nil {
		return nil, err
	}
	since := storage.Timestamp(time.Now().AddDate(0, 0, -days))

	summary := map[string]MetricSummary{}
	for _, m := range metrics {
		if m.Timestamp < since {
			continue
		}
		s, ok := summary[m.MetricType]
		if !ok {
			s = MetricSummary{Min: m.Value, Max: m.Value, Unit: m.Unit}
		}
		if m.Value < s.Min {
			s.Min = m.Value
		}
		if m.Value > s.Max {
			s.Max = m.Value
		}
		s.Avg = (s.Avg*float64(s.Count) + m.Value) / float64(s.Count+1)
		s.Count++
		summary[m.MetricType] = s
	}
	return summary, nil
}

// HealthHandler auto-logs metrics mentioned in user messages and injects a
// trend summary into the system prompt.
type HealthHandler struct {
	tracker *HealthTracker
	logger  logging.Logger
}

// NewHealthHandler wires the handler.
func NewHealthHandler(db *storage.DB, logger logging.Logger) *HealthHandler {
	return &HealthHandler{tracker: NewHealthTracker(db, logger), logger: logging.OrNop(logger)}
}

func (h *HealthHandler) Name() string { return DomainHealth }

// Tracker exposes the underlying tracker for the API layer.
func (h *HealthHandler) Tracker() *HealthTracker { return h.tracker }

func (h *HealthHandler) SystemAddendum() string {
	return "For health questions:\n" +
		"- Reference any logged metrics naturally (\"Based on your logged weight of X...\")\n" +
		"- Be encouraging but realistic — never shame body weight or food choices\n" +
		"- Always recommend consulting a professional for medical decisions\n" +
		"- Use metric units by default (kg, km, liters)"
}

func (h *HealthHandler) PromptContext(ctx context.Context, sessionID string) (string, error) {
	summary, err := h.tracker.Summary(ctx, 30)
	if err != nil || len(summary) == 0 {
		return "", err
	}
	types := make([]string, 0, len(summary))
	for t := range summary {
		types = append(types, t)
	}
	sort.Strings(types)

	lines := []string{"\n─── HEALTH METRICS (last 30 days) ───"}
	for _, t := range types {
		s := summary[t]
		lines = append(lines, fmt.Sprintf("  %s: avg=%.2f%s (min=%g, max=%g, n=%d)",
			t, s.Avg, s.Unit, s.Min, s.Max, s.Count))
	}
	lines = append(lines, "─────────────────────────────────────")
	return strings.Join(lines, "\n"), nil
}

func (h *HealthHandler) PostProcess(ctx context.Context, ex Exchange, response string) (*Result, error) {
	result := NewResult(DomainHealth)
	metrics := ExtractMetrics(ex.UserMessage)

	var logged []MetricMatch
	for _, m := range metrics {
		err := h.tracker.Log(ctx, &storage.HealthMetric{
			MetricType: m.MetricType,
			Value:      m.Value,
			Unit:       m.Unit,
			Notes:      ex.UserMessage,
			SessionID:  ex.SessionID,
		})
		if err != nil {
			return result, err
		}
		logged = append(logged, m)
		result.AddAction(fmt.Sprintf("Logged %s: %g%s", m.MetricType, m.Value, m.Unit))
	}

	if len(logged) > 0 {
		var parts []string
		for _, m := range logged {
			parts = append(parts, fmt.Sprintf("%s: %g%s", m.MetricType, m.Value, m.Unit))
		}
		result.AddExtra("  Logged: " + strings.Join(parts, ", "))
	}
	result.StructuredData["logged_metrics"] = logged
	return result, nil
}
