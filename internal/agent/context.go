// Package agent is the interaction core: every user message runs through a
// perceive, think, act, learn cycle that touches personality, domain
// routing, signal detection, all four memory tiers, the knowledge graph,
// and the proactive layer.
package agent

import (
	"time"

	"github.com/google/uuid"

	"psycho/internal/domains"
	"psycho/internal/learning"
	"psycho/internal/memory"
)

// Context accumulates everything one turn produced, from the raw user
// message through retrieval to the final response and token counts.
type Context struct {
	SessionID     string
	InteractionID string
	UserMessage   string
	AgentResponse string
	Domain        string

	RetrievedMemories []memory.Recalled
	GraphContext      string
	MistakeWarnings   []string
	DomainContext     string
	ReminderContext   string

	SignalType     learning.SignalType
	IsCorrection   bool
	IsConfirmation bool

	SearchQuery   string
	SearchResults string

	ImageData      []byte
	ImageMediaType string

	InputTokens  int
	OutputTokens int
	StartedAt    time.Time
	CompletedAt  time.Time

	DomainResult *domains.Result
}

func newTurnContext(sessionID, userMessage string) *Context {
	return &Context{
		SessionID:     sessionID,
		InteractionID: uuid.NewString(),
		UserMessage:   userMessage,
		Domain:        domains.DomainGeneral,
		SignalType:    learning.SignalNone,
		StartedAt:     time.Now(),
	}
}

// MarkComplete stamps the turn's end time.
func (c *Context) MarkComplete() {
	c.CompletedAt = time.Now()
}

// LatencyMS is the wall time of the turn in milliseconds.
func (c *Context) LatencyMS() float64 {
	if c.CompletedAt.IsZero() {
		return 0
	}
	return float64(c.CompletedAt.Sub(c.StartedAt)) / float64(time.Millisecond)
}

// TotalTokens is input plus output token usage.
func (c *Context) TotalTokens() int {
	return c.InputTokens + c.OutputTokens
}
