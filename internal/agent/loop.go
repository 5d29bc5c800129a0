package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"psycho/internal/async"
	"psycho/internal/domains"
	"psycho/internal/knowledge"
	"psycho/internal/learning"
	"psycho/internal/llm"
	"psycho/internal/logging"
	"psycho/internal/memory"
	"psycho/internal/metrics"
	"psycho/internal/personality"
	"psycho/internal/proactive"
	"psycho/internal/tokens"
	"psycho/internal/websearch"
)

// Loop runs the per-message interaction cycle:
//
//  1. Personality trait command detection ("set humor to 90%")
//  2. Domain classification
//  3. Signal detection (correction / confirmation)
//  4. Real-time confidence update on signal
//  5. Parallel retrieval: semantic memory + mistake warnings
//  6. Knowledge graph context
//  7. Domain context + upcoming reminders
//  8. Web search when the message needs live data
//  9. System prompt assembly + LLM call (or stream)
//  10. Domain post-processing (code run / metric log / task create)
//  11. Reminder creation if detected in the message
//  12. Memory write across all tiers
//  13. Background knowledge extraction + graph evolution
type Loop struct {
	sessionID string
	client    llm.Client
	memory    *memory.Manager
	graph     *knowledge.Graph
	evolver   *knowledge.Evolver
	extractor *knowledge.Extractor
	reasoner  *knowledge.Reasoner
	mistakes  *learning.MistakeTracker

	router      *domains.Router
	handlers    map[string]domains.Handler
	personality *personality.Adapter
	reminders   *proactive.ReminderManager
	calendar    *proactive.CalendarManager
	checkin     *proactive.CheckinEngine
	search      *websearch.Client

	extractionEnabled bool
	metrics           *metrics.Collector
	logger            logging.Logger

	// Post-turn extraction runs on a single bounded worker so graph
	// evolution is serialized and a chatty session cannot pile up
	// goroutines.
	tasks *async.Queue

	mu                 sync.Mutex
	lastDomain         string
	lastSearchQuery    string
	lastDomainResult   *domains.Result
	personalityChanges []string
}

// LoopDeps carries the wiring for a Loop. Router, handlers, personality,
// proactive managers, and search are all optional.
type LoopDeps struct {
	SessionID string
	Client    llm.Client
	Memory    *memory.Manager
	Graph     *knowledge.Graph
	Evolver   *knowledge.Evolver
	Extractor *knowledge.Extractor
	Reasoner  *knowledge.Reasoner
	Mistakes  *learning.MistakeTracker

	Router      *domains.Router
	Handlers    map[string]domains.Handler
	Personality *personality.Adapter
	Reminders   *proactive.ReminderManager
	Calendar    *proactive.CalendarManager
	Checkin     *proactive.CheckinEngine
	Search      *websearch.Client

	ExtractionEnabled bool
	Metrics           *metrics.Collector
	Logger            logging.Logger
}

func NewLoop(deps LoopDeps) *Loop {
	return &Loop{
		sessionID:         deps.SessionID,
		client:            deps.Client,
		memory:            deps.Memory,
		graph:             deps.Graph,
		evolver:           deps.Evolver,
		extractor:         deps.Extractor,
		reasoner:          deps.Reasoner,
		mistakes:          deps.Mistakes,
		router:            deps.Router,
		handlers:          deps.Handlers,
		personality:       deps.Personality,
		reminders:         deps.Reminders,
		calendar:          deps.Calendar,
		checkin:           deps.Checkin,
		search:            deps.Search,
		extractionEnabled: deps.ExtractionEnabled,
		metrics:           deps.Metrics,
		logger:            logging.OrNop(deps.Logger),
		lastDomain:        domains.DomainGeneral,
		tasks:             async.NewQueue(logging.OrNop(deps.Logger), "extract-and-evolve", extractionQueueSize),
	}
}

// extractionQueueSize bounds how many turns can wait for background
// extraction before the oldest is forgotten.
const extractionQueueSize = 32

// Process runs the full pipeline for one message and returns the completed
// turn. LLM failures produce an apologetic response rather than an error.
func (l *Loop) Process(ctx context.Context, userMessage string) *Context {
	turn := newTurnContext(l.sessionID, userMessage)
	l.prepare(ctx, turn)

	req := llm.Request{
		Messages:  l.buildMessages(turn),
		System:    l.buildSystemPrompt(turn, time.Now()),
		MaxTokens: llm.DefaultMaxTokens,
	}
	resp, err := l.client.Complete(ctx, req)
	if err != nil {
		l.logger.Error("llm call failed: %v", err)
		turn.AgentResponse = llmFailureMessage(err)
	} else {
		turn.AgentResponse = resp.Content
		turn.InputTokens = resp.InputTokens
		turn.OutputTokens = resp.OutputTokens
	}

	l.finalize(ctx, turn)
	return turn
}

// StreamProcess is the streaming variant; tokens go to onToken as they
// arrive and the assembled turn is returned once the stream ends.
func (l *Loop) StreamProcess(ctx context.Context, userMessage string, onToken llm.TokenHandler) *Context {
	turn := newTurnContext(l.sessionID, userMessage)
	l.prepare(ctx, turn)

	req := llm.Request{
		Messages:  l.buildMessages(turn),
		System:    l.buildSystemPrompt(turn, time.Now()),
		MaxTokens: llm.DefaultMaxTokens,
	}
	resp, err := l.client.Stream(ctx, req, onToken)
	if resp != nil {
		turn.AgentResponse = resp.Content
		turn.InputTokens = resp.InputTokens
		turn.OutputTokens = resp.OutputTokens
	}
	if err != nil {
		l.logger.Error("llm stream failed: %v", err)
		errText := fmt.Sprintf("\n\nStream error: %v", err)
		turn.AgentResponse += errText
		if onToken != nil {
			_ = onToken(errText)
		}
	}

	l.finalize(ctx, turn)
	return turn
}

// ProcessWithImage runs the vision pipeline. The provider's vision call is
// not streamed, so the whole response is emitted through onToken at once.
func (l *Loop) ProcessWithImage(ctx context.Context, userMessage string, image []byte, mediaType string, onToken llm.TokenHandler) *Context {
	if userMessage == "" {
		userMessage = "Describe and analyse this image in detail."
	}
	turn := newTurnContext(l.sessionID, userMessage)
	turn.ImageData = image
	turn.ImageMediaType = mediaType
	l.prepare(ctx, turn)

	content, err := l.client.CompleteWithImage(ctx, llm.ImageRequest{
		Image:     image,
		MediaType: mediaType,
		Prompt:    userMessage,
		System:    l.buildSystemPrompt(turn, time.Now()),
		MaxTokens: llm.DefaultMaxTokens,
	})
	if err != nil {
		l.logger.Error("vision call failed: %v", err)
		content = llmFailureMessage(err)
	}
	turn.AgentResponse = content
	if onToken != nil {
		_ = onToken(content)
	}

	l.finalize(ctx, turn)
	return turn
}

// Agent name assignment patterns ("your name is Vera", "I'll call you Max").
var agentNameRes = []*regexp.Regexp{
	regexp.MustCompile(`your name is\s+([a-z][a-z0-9_-]{0,30})`),
	regexp.MustCompile(`call you\s+([a-z][a-z0-9_-]{0,30})`),
	regexp.MustCompile(`you(?:'re| are) (?:now |called )?([a-z][a-z0-9_-]{0,30})`),
	regexp.MustCompile(`from now on[,.]?\s+(?:you(?:'re| are)|your name is)\s+([a-z][a-z0-9_-]{0,30})`),
	regexp.MustCompile(`(?:name|call) (?:you|yourself)\s+([a-z][a-z0-9_-]{0,30})`),
}

var nameStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "my": true,
	"your": true, "their": true, "its": true, "our": true,
}

func detectAgentNameAssignment(userMessage string) string {
	msg := strings.ToLower(userMessage)
	for _, re := range agentNameRes {
		if m := re.FindStringSubmatch(msg); m != nil {
			name := strings.TrimSpace(m[1])
			if !nameStopwords[name] {
				return strings.ToUpper(name[:1]) + name[1:]
			}
		}
	}
	return ""
}

// AgentName returns the user-assigned name, or the default.
func (l *Loop) AgentName() string {
	if l.graph != nil {
		for _, p := range l.graph.FindNodesByType(knowledge.NodePreference) {
			if !p.Deprecated && strings.HasPrefix(p.Label, "agent_name:") {
				if v := stringProp(p.Properties, "value"); v != "" {
					return v
				}
			}
		}
	}
	return DefaultAgentName
}

func (l *Loop) storeAgentName(ctx context.Context, name string) {
	node := knowledge.NewNode(knowledge.NodePreference, "agent_name:"+strings.ToLower(name),
		"general", map[string]any{"value": name}, 0.95, "user_assignment")
	l.graph.UpsertNode(ctx, node)
	if err := l.graph.Save(); err != nil {
		l.logger.Warn("could not persist agent name: %v", err)
		return
	}
	l.logger.Info("agent name stored: %s", name)
}

func (l *Loop) userName() string {
	if l.graph == nil {
		return ""
	}
	if user := l.graph.FindNodeByLabel("user", knowledge.NodePerson); user != nil {
		if name := stringProp(user.Properties, "name"); name != "" && strings.ToLower(name) != "user" {
			return name
		}
	}
	return ""
}

// prepare builds the full retrieval context before the LLM call.
func (l *Loop) prepare(ctx context.Context, turn *Context) {
	if name := detectAgentNameAssignment(turn.UserMessage); name != "" && l.graph != nil {
		l.storeAgentName(ctx, name)
	}

	var changes []string
	if l.personality != nil && l.personality.IsTraitCommand(turn.UserMessage) {
		changes = l.personality.ApplyTraitCommands(turn.UserMessage)
		if len(changes) > 0 {
			l.logger.Info("personality adjusted: %v", changes)
		}
	}
	l.mu.Lock()
	l.personalityChanges = changes
	l.mu.Unlock()

	if l.router != nil {
		turn.Domain = l.router.Classify(ctx, turn.UserMessage)
	}

	signal := learning.DetectSignal(turn.UserMessage)
	turn.SignalType = signal.Type
	switch signal.Type {
	case learning.SignalCorrection:
		turn.IsCorrection = true
		l.handleCorrectionSignal(turn.UserMessage)
		if l.checkin != nil {
			l.checkin.RecordStress()
		}
	case learning.SignalConfirmation:
		turn.IsConfirmation = true
		l.handleConfirmationSignal(ctx)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		recalled, err := l.memory.RetrieveContext(groupCtx, turn.UserMessage, "")
		if err != nil {
			l.logger.Warn("memory retrieval failed: %v", err)
			return nil
		}
		turn.RetrievedMemories = recalled
		return nil
	})
	group.Go(func() error {
		turn.MistakeWarnings = l.mistakes.WarningsFor(groupCtx, turn.UserMessage)
		return nil
	})
	_ = group.Wait()

	turn.GraphContext = l.reasoner.ContextForPrompt(ctx, turn.UserMessage)
	turn.DomainContext = l.domainContext(ctx, turn)
	turn.ReminderContext = l.reminderContext(ctx)

	if l.search != nil && websearch.ShouldSearch(turn.UserMessage) {
		query := websearch.ExtractQuery(turn.UserMessage)
		if results := l.search.Search(ctx, query); len(results) > 0 {
			turn.SearchQuery = query
			turn.SearchResults = websearch.FormatResults(results, query)
			l.logger.Debug("web search injected: %d results for %q", len(results), query)
		}
	}
}

func (l *Loop) buildSystemPrompt(turn *Context, now time.Time) string {
	personalitySection, userAdaptation := "", ""
	if l.personality != nil {
		personalitySection, userAdaptation = l.personality.PromptSections(turn.UserMessage)
	}

	parts := []string{renderBasePrompt(l.AgentName(), personalitySection, userAdaptation, buildUserProfile(l.graph))}
	parts = append(parts, currentDateLine(now))

	if handler := l.handlers[turn.Domain]; handler != nil {
		if addendum := handler.SystemAddendum(); addendum != "" {
			parts = append(parts, addendum)
		}
	}
	if turn.DomainContext != "" {
		parts = append(parts, turn.DomainContext)
	}
	if turn.SearchResults != "" {
		parts = append(parts, turn.SearchResults)
	}
	if turn.GraphContext != "" {
		parts = append(parts, turn.GraphContext)
	}
	if len(turn.MistakeWarnings) > 0 {
		parts = append(parts, l.mistakes.BuildWarningBlock(turn.MistakeWarnings))
	}

	if len(turn.RetrievedMemories) > 0 {
		parts = append(parts, "\n─── RELEVANT PAST CONTEXT ───")
		for _, mem := range turn.RetrievedMemories {
			tag := memoryRecallTag(mem.Relevance)
			parts = append(parts, formatRecalledMemory(tag, mem.UserMessage, mem.AgentResponse))
		}
		parts = append(parts, "─────────────────────────────")
	}

	if turn.ReminderContext != "" {
		parts = append(parts, turn.ReminderContext)
	}

	if turn.IsCorrection {
		parts = append(parts, correctionInstruction)
	}

	l.mu.Lock()
	changes := l.personalityChanges
	l.mu.Unlock()
	if len(changes) > 0 {
		parts = append(parts, fmt.Sprintf(
			"\nPERSONALITY UPDATE: Just applied trait adjustments: %s. "+
				"Acknowledge this naturally in your response — keep it brief and in-character.",
			strings.Join(changes, " | ")))
	}

	if l.checkin != nil {
		if kind := l.checkin.ShouldCheckin(0, now); kind != "" {
			block := l.checkin.GenerateCheckinContext(kind, proactive.CheckinContext{UserName: l.userName()})
			if block != "" {
				parts = append(parts, block)
				l.checkin.RecordCheckinSent(kind, "", now)
			}
		}
	}

	return strings.Join(parts, "\n\n")
}

func (l *Loop) buildMessages(turn *Context) []llm.Message {
	messages := l.memory.ShortTerm.Messages()
	return append(messages, llm.Message{Role: llm.RoleUser, Content: turn.UserMessage})
}

func (l *Loop) domainContext(ctx context.Context, turn *Context) string {
	handler := l.handlers[turn.Domain]
	if handler == nil {
		return ""
	}
	block, err := handler.PromptContext(ctx, turn.SessionID)
	if err != nil {
		l.logger.Debug("domain context failed for %s: %v", turn.Domain, err)
		return ""
	}
	return block
}

// reminderContext surfaces reminders due within a day so the assistant can
// mention them naturally.
func (l *Loop) reminderContext(ctx context.Context) string {
	if l.reminders == nil {
		return ""
	}
	now := time.Now()
	upcoming, err := l.reminders.Upcoming(ctx, now, 24*time.Hour)
	if err != nil {
		l.logger.Debug("reminder context failed: %v", err)
		return ""
	}
	due, err := l.reminders.Due(ctx, now)
	if err == nil {
		upcoming = append(due, upcoming...)
	}
	if len(upcoming) == 0 {
		return ""
	}
	block := l.reminders.PromptBlock(upcoming, now)
	if block == "" {
		return ""
	}
	return reminderContextHeader + "\n" + block
}

// finalize runs everything after the LLM call: domain post-processing,
// proactive extraction, memory writes, and background graph evolution.
func (l *Loop) finalize(ctx context.Context, turn *Context) {
	turn.MarkComplete()

	// Streaming providers don't always report usage; estimate so budgets
	// and metrics stay meaningful.
	if turn.OutputTokens == 0 && turn.AgentResponse != "" {
		turn.OutputTokens = tokens.Count(turn.AgentResponse)
	}

	if handler := l.handlers[turn.Domain]; handler != nil {
		result, err := handler.PostProcess(ctx, domains.Exchange{
			SessionID:   turn.SessionID,
			UserMessage: turn.UserMessage,
			Domain:      turn.Domain,
		}, turn.AgentResponse)
		if err != nil {
			l.logger.Warn("domain handler failed (%s): %v", turn.Domain, err)
		} else {
			turn.DomainResult = result
		}
	}

	l.handleProactiveExtraction(ctx, turn)

	err := l.memory.AddInteraction(ctx, l.sessionID, turn.UserMessage, turn.AgentResponse,
		turn.Domain, turn.TotalTokens())
	if err != nil {
		l.logger.Warn("memory write failed: %v", err)
	}

	if l.extractionEnabled {
		userMessage, agentResponse := turn.UserMessage, turn.AgentResponse
		domain, isCorrection := turn.Domain, turn.IsCorrection
		dropped := l.tasks.Submit(func() {
			l.extractAndEvolve(context.Background(), userMessage, agentResponse, domain, isCorrection)
		})
		if dropped {
			l.logger.Warn("extraction queue full, oldest pending turn dropped")
		}
	}

	if l.personality != nil {
		l.personality.IncrementInteraction()
	}

	l.mu.Lock()
	l.lastDomain = turn.Domain
	l.lastSearchQuery = turn.SearchQuery
	l.lastDomainResult = turn.DomainResult
	l.mu.Unlock()

	l.metrics.RecordTurn(turn.Domain, string(turn.SignalType),
		turn.CompletedAt.Sub(turn.StartedAt), turn.InputTokens, turn.OutputTokens)
	if turn.SearchQuery != "" {
		l.metrics.RecordSearch()
	}

	l.logger.Debug("interaction: %dt %.0fms domain=%s signal=%s",
		turn.TotalTokens(), turn.LatencyMS(), turn.Domain, turn.SignalType)
}

// handleProactiveExtraction auto-creates reminders the user asked for in
// passing, without explicit domain routing.
func (l *Loop) handleProactiveExtraction(ctx context.Context, turn *Context) {
	if l.reminders == nil {
		return
	}
	req := proactive.ExtractReminderFromMessage(turn.UserMessage, time.Now())
	if req == nil {
		return
	}
	reminder, err := l.reminders.Create(ctx, req.Title, req.Due, req.Notes,
		"", req.Priority, l.sessionID)
	if err != nil {
		l.logger.Debug("reminder extraction skipped: %v", err)
		return
	}
	l.logger.Info("auto-created reminder: %q", reminder.Title)
}

// handleCorrectionSignal drops confidence on the corrected topic
// immediately, before the background extraction pass.
func (l *Loop) handleCorrectionSignal(userMessage string) {
	turns := l.memory.ShortTerm.Turns()
	if len(turns) == 0 {
		return
	}
	hint := learning.ExtractCorrectionTarget(userMessage)
	if hint == "" {
		return
	}
	node := l.graph.FindNodeByLabel(truncate(strings.ToLower(hint), 80), "")
	if node == nil {
		l.logger.Debug("correction target %q not in graph yet; background extraction will capture it",
			truncate(hint, 40))
		return
	}
	l.evolver.CorrectNode(node.ID, "User correction: "+truncate(hint, 100))
	l.logger.Info("real-time correction applied: %q", node.DisplayLabel)
}

// handleConfirmationSignal boosts the nodes behind the last response the
// user just confirmed.
func (l *Loop) handleConfirmationSignal(ctx context.Context) {
	turns := l.memory.ShortTerm.Turns()
	if len(turns) == 0 {
		return
	}
	lastResponse := turns[len(turns)-1].Assistant
	items := l.graph.ContextForQuery(ctx, truncate(lastResponse, 200), 3)
	if len(items) == 0 {
		return
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.Node.ID)
	}
	l.evolver.ConfirmNodes(ids)
	l.logger.Debug("confirmation: boosted %d nodes", len(ids))
}

// extractAndEvolve is the background learning pass after each turn.
func (l *Loop) extractAndEvolve(ctx context.Context, userMessage, agentResponse, domain string, isCorrection bool) {
	extraction := l.extractor.FromInteraction(ctx, userMessage, agentResponse, l.sessionID, domain)
	if extraction == nil || extraction.IsEmpty() {
		return
	}

	stats := l.evolver.Integrate(ctx, extraction)

	if isCorrection {
		for _, corr := range extraction.Corrections {
			if corr.Wrong == "" || corr.Correct == "" {
				continue
			}
			_, err := l.mistakes.RecordMistake(ctx, l.sessionID,
				truncate(userMessage, 400), truncate(corr.Wrong, 400),
				truncate(corr.Correct, 300), domain, "")
			if err != nil {
				l.logger.Debug("mistake record failed: %v", err)
			}
		}
	}

	if stats.NodesAdded > 0 || stats.FactsAdded > 0 {
		if err := l.graph.Save(); err != nil {
			l.logger.Warn("graph save failed after evolution: %v", err)
		} else {
			l.logger.Debug("graph evolved: +%d nodes, +%d facts", stats.NodesAdded, stats.FactsAdded)
		}
	}

	if l.personality != nil && stats.PreferencesAdded > 0 {
		l.personality.SetGraph(l.graph)
	}
}

// WaitBackground blocks until queued background extractions finish.
// Tests and shutdown use it.
func (l *Loop) WaitBackground() {
	l.tasks.Wait()
}

// Close drains the extraction queue and stops its worker.
func (l *Loop) Close() {
	l.tasks.Close()
}

// LastDomain is the domain of the most recent turn.
func (l *Loop) LastDomain() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastDomain
}

// LastSearchQuery is the query of the most recent web search, if any.
func (l *Loop) LastSearchQuery() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSearchQuery
}

// LastDomainResult is the most recent domain post-processing output.
func (l *Loop) LastDomainResult() *domains.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastDomainResult
}

// LastPersonalityChanges lists trait adjustments applied on the last turn.
func (l *Loop) LastPersonalityChanges() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.personalityChanges
}

func llmFailureMessage(err error) string {
	return fmt.Sprintf("I ran into an error: %v\nCheck your API key / Ollama connection and try again.", err)
}
