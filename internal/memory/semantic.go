package memory

import (
	"context"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"psycho/internal/logging"
	"psycho/internal/storage"
	"psycho/internal/vector"
)

// Recalled is a past interaction surfaced by similarity search.
type Recalled struct {
	UserMessage   string  `json:"user_message"`
	AgentResponse string  `json:"agent_response"`
	Domain        string  `json:"domain"`
	Timestamp     float64 `json:"timestamp"`
	Relevance     float64 `json:"relevance"`
	SessionID     string  `json:"session_id"`
}

// RecalledFact is a stored fact surfaced by similarity search.
type RecalledFact struct {
	Content    string  `json:"content"`
	Domain     string  `json:"domain"`
	Confidence float64 `json:"confidence"`
	Relevance  float64 `json:"relevance"`
}

// Semantic retrieves past interactions and facts by meaning rather than
// keywords: "asyncio issues we talked about" finds the python async
// conversation however it was phrased.
type Semantic struct {
	store  *vector.Store
	logger logging.Logger
}

// NewSemantic wraps a vector store.
func NewSemantic(store *vector.Store, logger logging.Logger) *Semantic {
	return &Semantic{store: store, logger: logging.OrNop(logger)}
}

// StoreInteraction embeds one full turn. Both sides of the exchange go into
// the embedded text so either phrasing can recall it later.
func (s *Semantic) StoreInteraction(ctx context.Context, sessionID, userMessage, agentResponse, domain, interactionID string) (string, error) {
	if interactionID == "" {
		interactionID = uuid.NewString()
	}
	text := fmt.Sprintf("User: %s\nAssistant: %s", userMessage, truncate(agentResponse, 500))
	err := s.store.Add(ctx, vector.CollectionInteractions, interactionID, text, map[string]string{
		"session_id":     sessionID,
		"user_message":   truncate(userMessage, 500),
		"agent_response": truncate(agentResponse, 500),
		"domain":         domain,
		"timestamp":      fmt.Sprintf("%.3f", storage.Timestamp(time.Now())),
	})
	if err != nil {
		return "", fmt.Errorf("semantic store interaction: %w", err)
	}
	return interactionID, nil
}

// SearchInteractions returns past turns above minRelevance, best first. An
// empty domain searches everything.
func (s *Semantic) SearchInteractions(ctx context.Context, query string, topK int, domain string, minRelevance float64) ([]Recalled, error) {
	var where map[string]string
	if domain != "" {
		where = map[string]string{"domain": domain}
	}
	hits, err := s.store.Search(ctx, vector.CollectionInteractions, query, topK, where)
	if err != nil {
		return nil, err
	}
	results := make([]Recalled, 0, len(hits))
	for _, hit := range hits {
		if hit.Relevance < minRelevance {
			continue
		}
		ts, _ := strconv.ParseFloat(hit.Metadata["timestamp"], 64)
		results = append(results, Recalled{
			UserMessage:   hit.Metadata["user_message"],
			AgentResponse: hit.Metadata["agent_response"],
			Domain:        metaOr(hit.Metadata, "domain", "general"),
			Timestamp:     ts,
			Relevance:     hit.Relevance,
			SessionID:     hit.Metadata["session_id"],
		})
	}
	s.logger.Debug("semantic search %q: %d/%d above threshold", truncate(query, 40), len(results), topK)
	return results, nil
}

// StoreFact indexes a fact for similarity recall.
func (s *Semantic) StoreFact(ctx context.Context, factID, content, domain string, confidence float64) error {
	return s.store.Add(ctx, vector.CollectionFacts, factID, content, map[string]string{
		"domain":     domain,
		"confidence": fmt.Sprintf("%.2f", confidence),
		"timestamp":  fmt.Sprintf("%.3f", storage.Timestamp(time.Now())),
	})
}

// SearchFacts returns relevant stored facts above minRelevance.
func (s *Semantic) SearchFacts(ctx context.Context, query string, topK int, minRelevance float64) ([]RecalledFact, error) {
	hits, err := s.store.Search(ctx, vector.CollectionFacts, query, topK, nil)
	if err != nil {
		return nil, err
	}
	results := make([]RecalledFact, 0, len(hits))
	for _, hit := range hits {
		if hit.Relevance < minRelevance {
			continue
		}
		confidence, _ := strconv.ParseFloat(hit.Metadata["confidence"], 64)
		results = append(results, RecalledFact{
			Content:    hit.Text,
			Domain:     metaOr(hit.Metadata, "domain", "general"),
			Confidence: confidence,
			Relevance:  hit.Relevance,
		})
	}
	return results, nil
}

// Stats reports per-collection document counts.
func (s *Semantic) Stats() map[string]int {
	return s.store.Stats()
}

func metaOr(meta map[string]string, key, fallback string) string {
	if v, ok := meta[key]; ok && v != "" {
		return v
	}
	return fallback
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
