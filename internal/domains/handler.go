// Package domains routes each user message into one of four intelligence
// domains (coding, health, tasks, general) and runs domain-specific
// post-processing on the model's response: code block extraction and
// execution, health metric logging, automatic task creation.
package domains

import "context"

// Domain names. DomainGeneral is the fallback.
const (
	DomainCoding  = "coding"
	DomainHealth  = "health"
	DomainTasks   = "tasks"
	DomainGeneral = "general"
)

// All lists every routable domain.
var All = []string{DomainCoding, DomainHealth, DomainTasks, DomainGeneral}

// Exchange is the slice of interaction state handlers need: who is talking
// and what they said. Handlers never see the rest of the pipeline.
type Exchange struct {
	SessionID   string
	UserMessage string
	Domain      string
}

// CodeBlock is a fenced block lifted from a markdown response.
type CodeBlock struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Result is what a handler produced from one exchange: side effects taken,
// extra display content, and structured data for the API layer.
type Result struct {
	Domain         string         `json:"domain"`
	StructuredData map[string]any `json:"structured_data,omitempty"`
	DisplayExtras  []string       `json:"display_extras,omitempty"`
	ActionsTaken   []string       `json:"actions_taken,omitempty"`
	Suggestions    []string       `json:"suggestions,omitempty"`
	CodeBlocks     []CodeBlock    `json:"code_blocks,omitempty"`
}

// NewResult returns an empty result for the given domain.
func NewResult(domain string) *Result {
	return &Result{Domain: domain, StructuredData: map[string]any{}}
}

// AddAction records a side effect the handler performed.
func (r *Result) AddAction(action string) {
	r.ActionsTaken = append(r.ActionsTaken, action)
}

// AddExtra queues extra display content shown after the response.
func (r *Result) AddExtra(extra string) {
	r.DisplayExtras = append(r.DisplayExtras, extra)
}

// Empty reports whether the handler did anything worth surfacing.
func (r *Result) Empty() bool {
	return r == nil || (len(r.ActionsTaken) == 0 && len(r.DisplayExtras) == 0)
}

// Handler is one domain's processing hooks around the model call.
type Handler interface {
	// Name returns the domain this handler owns.
	Name() string

	// SystemAddendum returns extra system prompt instructions for this
	// domain, or "" when none apply. Keep it short.
	SystemAddendum() string

	// PromptContext returns domain state injected into the system prompt
	// (pending tasks, recent health metrics), or "".
	PromptContext(ctx context.Context, sessionID string) (string, error)

	// PostProcess runs after the model response: extract structured data
	// and trigger side effects. Must be fast.
	PostProcess(ctx context.Context, ex Exchange, response string) (*Result, error)
}
