package memory

import (
	"context"
	"fmt"

	"psycho/internal/config"
	"psycho/internal/logging"
	"psycho/internal/storage"
	"psycho/internal/vector"
)

// Relevance floor for semantic recall injected into prompts.
const DefaultMinRelevance = 0.35

// Manager coordinates the four memory tiers. Recording an interaction fans
// out to every tier; retrieval prefers semantic recall and falls back to
// keyword search when the vector index comes up empty.
type Manager struct {
	ShortTerm *ShortTerm
	Semantic  *Semantic
	Episodic  *Episodic

	db     *storage.DB
	cfg    *config.Config
	logger logging.Logger
}

// NewManager wires the tiers together.
func NewManager(ctx context.Context, cfg *config.Config, db *storage.DB, vectors *vector.Store, logger logging.Logger) (*Manager, error) {
	logger = logging.OrNop(logger)
	episodic, err := NewEpisodic(ctx, db, logger)
	if err != nil {
		return nil, fmt.Errorf("init episodic memory: %w", err)
	}
	return &Manager{
		ShortTerm: NewShortTerm(cfg.MaxShortTermMessages),
		Semantic:  NewSemantic(vectors, logger),
		Episodic:  episodic,
		db:        db,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// DB exposes the long-term store.
func (m *Manager) DB() *storage.DB { return m.db }

// AddInteraction records a completed turn in every tier.
func (m *Manager) AddInteraction(ctx context.Context, sessionID, userMessage, agentResponse, domain string, tokensUsed int) error {
	m.ShortTerm.Add(userMessage, agentResponse)

	interaction := &storage.Interaction{
		SessionID:     sessionID,
		UserMessage:   userMessage,
		AgentResponse: agentResponse,
		Domain:        domain,
		TokensUsed:    tokensUsed,
	}
	if err := m.db.InsertInteraction(ctx, interaction); err != nil {
		return err
	}

	if _, err := m.Semantic.StoreInteraction(ctx, sessionID, userMessage, agentResponse, domain, interaction.ID); err != nil {
		m.logger.Warn("semantic store failed, interaction kept in sqlite only: %v", err)
	}

	_, err := m.Episodic.LogEvent(ctx, sessionID, storage.EventInteraction, map[string]any{
		"user":   truncate(userMessage, 200),
		"domain": domain,
	}, domain, 0.5)
	if err != nil {
		m.logger.Warn("episodic log failed: %v", err)
	}

	m.logger.Debug("interaction recorded: %d chars in, %d chars out", len(userMessage), len(agentResponse))
	return nil
}

// RetrieveContext finds past interactions relevant to query. Semantic
// recall runs first; keyword search covers the cold-start window before
// the vector index has anything useful.
func (m *Manager) RetrieveContext(ctx context.Context, query, domain string) ([]Recalled, error) {
	limit := m.cfg.MaxContextMemories
	if limit <= 0 {
		limit = 5
	}
	recalled, err := m.Semantic.SearchInteractions(ctx, query, limit, domain, DefaultMinRelevance)
	if err != nil {
		m.logger.Warn("semantic retrieval failed, falling back to keyword search: %v", err)
	}
	if len(recalled) > 0 {
		return recalled, nil
	}

	interactions, err := m.db.SearchInteractions(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	fallback := make([]Recalled, 0, len(interactions))
	for _, it := range interactions {
		fallback = append(fallback, Recalled{
			UserMessage:   it.UserMessage,
			AgentResponse: it.AgentResponse,
			Domain:        it.Domain,
			Timestamp:     it.Timestamp,
			SessionID:     it.SessionID,
		})
	}
	return fallback, nil
}

// RecentHistory returns the last N interactions from long-term memory.
func (m *Manager) RecentHistory(ctx context.Context, limit int) ([]*storage.Interaction, error) {
	return m.db.RecentInteractions(ctx, limit)
}

// Stats aggregates counts across all tiers.
func (m *Manager) Stats(ctx context.Context) (map[string]any, error) {
	stats, err := m.db.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(stats)+3)
	for k, v := range stats {
		out[k] = v
	}
	out["short_term_turns"] = m.ShortTerm.Len()
	for collection, count := range m.Semantic.Stats() {
		out["vector_"+collection] = count
	}
	if events, err := m.Episodic.Count(ctx); err == nil {
		out["total_events"] = events
	}
	return out, nil
}
