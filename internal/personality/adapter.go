package personality

import (
	"fmt"
	"regexp"
	"sync"

	"psycho/internal/knowledge"
	"psycho/internal/logging"
)

// Mood detection patterns, checked in order: stress wins over excitement.
var (
	stressRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(stressed|overwhelmed|anxious|frustrated|stuck|lost|confused|struggling)\b`),
		regexp.MustCompile(`(?i)\b(ugh|argh|ffs|wtf|damn|dammit|exhausted|burnt out|burnout)\b`),
		regexp.MustCompile(`(?i)(don't know what|have no idea|can't figure|nothing works)`),
	}
	excitementRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(excited|amazing|awesome|great news|finally|nailed it|got it working)\b`),
		regexp.MustCompile(`!!+|😄|🎉|🔥|🚀`),
	}
	tiredRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(tired|sleepy|up late|stayed up|exhausted|no sleep|barely slept)\b`),
	}
)

// DetectMood classifies emotional signals in a message, or "".
func DetectMood(message string) string {
	for _, re := range stressRes {
		if re.MatchString(message) {
			return "stressed/frustrated"
		}
	}
	for _, re := range excitementRes {
		if re.MatchString(message) {
			return "excited/energized"
		}
	}
	for _, re := range tiredRes {
		if re.MatchString(message) {
			return "tired/low energy"
		}
	}
	return ""
}

// Adapter owns the trait state and produces the personality sections
// injected into every system prompt. The user profile is rebuilt from the
// graph every few interactions.
type Adapter struct {
	mu           sync.Mutex
	traits       *Traits
	graph        *knowledge.Graph
	profile      *UserProfile
	path         string
	interactions int
	sessions     int
	logger       logging.Logger
}

// NewAdapter loads traits from path (or defaults) and binds the graph.
func NewAdapter(path string, graph *knowledge.Graph, logger logging.Logger) *Adapter {
	return &Adapter{
		traits: LoadTraits(path),
		graph:  graph,
		path:   path,
		logger: logging.OrNop(logger),
	}
}

// Traits returns the live trait state.
func (a *Adapter) Traits() *Traits {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.traits
}

// SetGraph rebinds the knowledge graph and invalidates the cached profile.
func (a *Adapter) SetGraph(graph *knowledge.Graph) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.graph = graph
	a.profile = nil
}

// IncrementInteraction bumps the counter and refreshes the user profile
// every fifth interaction.
func (a *Adapter) IncrementInteraction() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interactions++
	if a.interactions%5 == 0 {
		a.profile = nil
	}
}

// IncrementSession bumps the session counter.
func (a *Adapter) IncrementSession() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions++
}

// PromptSections returns the (personality, user adaptation) blocks for the
// system prompt. Mood signals from the current message are folded into the
// adaptation block.
func (a *Adapter) PromptSections(userMessage string) (string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.profile == nil {
		a.profile = ProfileFromGraph(a.graph)
	}
	a.profile.InteractionCount = maxInt(a.profile.InteractionCount, a.interactions)
	a.profile.TotalSessions = a.sessions
	a.profile.UpdateRelationshipDepth()

	if userMessage != "" {
		if mood := DetectMood(userMessage); mood != "" {
			a.profile.RecentMood = []string{mood}
		} else {
			a.profile.RecentMood = nil
		}
	}

	return a.traits.PromptSegment(), a.profile.PromptSegment()
}

// IsTraitCommand reports whether the message looks like a personality
// adjustment.
func (a *Adapter) IsTraitCommand(userMessage string) bool {
	return IsTraitCommand(userMessage)
}

// ApplyTraitCommands parses and applies trait adjustments, persisting the
// result. Returns human-readable change descriptions.
func (a *Adapter) ApplyTraitCommands(userMessage string) []string {
	commands := DetectTraitCommands(userMessage)
	if len(commands) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var changes []string
	for _, cmd := range commands {
		old, _ := a.traits.Get(cmd.Trait)
		if cmd.Absolute {
			if a.traits.Set(cmd.Trait, cmd.Value) {
				changes = append(changes, fmt.Sprintf("%s adjusted: %s → %s",
					DisplayName(cmd.Trait), formatPct(old), formatPct(cmd.Value)))
			}
		} else if a.traits.Adjust(cmd.Trait, cmd.Delta) {
			now, _ := a.traits.Get(cmd.Trait)
			direction := "↑"
			if cmd.Delta < 0 {
				direction = "↓"
			}
			changes = append(changes, fmt.Sprintf("%s %s: %s → %s",
				DisplayName(cmd.Trait), direction, formatPct(old), formatPct(now)))
		}
	}

	if len(changes) > 0 && a.path != "" {
		if err := a.traits.Save(a.path); err != nil {
			a.logger.Warn("personality save failed: %v", err)
		} else {
			a.logger.Info("personality saved after adjustments: %v", changes)
		}
	}
	return changes
}

// Save persists the current trait state.
func (a *Adapter) Save() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.path == "" {
		return nil
	}
	return a.traits.Save(a.path)
}

// StatusLine is a single-line trait summary.
func (a *Adapter) StatusLine() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.traits.StatusLine()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
