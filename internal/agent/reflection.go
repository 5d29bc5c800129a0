package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"psycho/internal/jsonx"
	"psycho/internal/knowledge"
	"psycho/internal/learning"
	"psycho/internal/llm"
	"psycho/internal/logging"
	"psycho/internal/memory"
	"psycho/internal/storage"
)

const reflectionSystemPrompt = "You are a precise self-evaluation engine for an AI assistant. " +
	"Output ONLY valid JSON. Be honest about mistakes and gaps."

const reflectionPrompt = `You are reviewing your performance in a conversation session to learn and improve.

Session interactions (most recent first):
%s

Your current knowledge about the topics discussed:
%s

Provide a thorough learning review as JSON:
{
  "session_summary": "2-3 sentence summary of what happened this session",
  "quality_score": 0.0,
  "key_learnings": [
    {"fact": "specific thing learned about the user or the world", "domain": "domain", "confidence": 0.8}
  ],
  "corrections_detected": [
    {"wrong": "what I believed or said that was wrong", "correct": "the correction", "context": "what the conversation was about", "user_input_that_triggered": "the message that surfaced it"}
  ],
  "patterns_observed": [
    {"pattern": "recurring behavior or topic", "implication": "what it suggests for future sessions"}
  ],
  "knowledge_gaps": [
    {"topic": "topic I handled poorly", "why_insufficient": "what was missing"}
  ],
  "insights": [
    {"insight": "non-obvious conclusion from combining session facts", "basis": "the facts it rests on", "confidence": 0.7}
  ],
  "nodes_to_boost": ["knowledge labels that proved accurate and useful"],
  "nodes_to_drop": ["knowledge labels that proved wrong or stale"]
}

Rules:
- Be specific: "user prefers tabs over spaces in Go" beats "user has coding preferences"
- corrections_detected: only include EXPLICIT corrections by the user
- quality_score: 1.0 = perfect responses; 0.0 = consistently wrong
- Return ONLY the JSON object, no other text`

// ReflectionResult summarizes one end-of-session learning pass.
type ReflectionResult struct {
	Reflection         *learning.Reflection
	NodesBoosted       int
	NodesDropped       int
	CorrectionsApplied int
	FactsAdded         int
	MistakesRecorded   int
	Maintenance        knowledge.MaintenanceResult
	JournalPath        string
}

// IsMeaningful reports whether the pass produced anything worth surfacing.
func (r *ReflectionResult) IsMeaningful() bool {
	if r == nil || r.Reflection == nil {
		return false
	}
	return r.Reflection.SessionSummary != "" ||
		len(r.Reflection.KeyLearnings) > 0 ||
		len(r.Reflection.CorrectionsDetected) > 0 ||
		len(r.Reflection.Insights) > 0
}

// DisplaySummary is the one-line session recap shown on shutdown.
func (r *ReflectionResult) DisplaySummary() string {
	if r == nil || r.Reflection == nil {
		return "No reflection produced."
	}
	return fmt.Sprintf("Quality: %.2f · Learnings: %d · Corrections: %d · Insights: %d · Graph nodes added: %d",
		r.Reflection.QualityScore, len(r.Reflection.KeyLearnings),
		len(r.Reflection.CorrectionsDetected), len(r.Reflection.Insights), r.FactsAdded)
}

// rawReflection carries fields the model emits beyond what the journal
// persists: per-correction context and the boost/drop label lists.
type rawReflection struct {
	SessionSummary string  `json:"session_summary"`
	QualityScore   float64 `json:"quality_score"`
	KeyLearnings   []struct {
		Fact       string  `json:"fact"`
		Domain     string  `json:"domain"`
		Confidence float64 `json:"confidence"`
	} `json:"key_learnings"`
	CorrectionsDetected []struct {
		Wrong     string `json:"wrong"`
		Correct   string `json:"correct"`
		Context   string `json:"context"`
		Triggered string `json:"user_input_that_triggered"`
	} `json:"corrections_detected"`
	PatternsObserved []struct {
		Pattern     string `json:"pattern"`
		Implication string `json:"implication"`
	} `json:"patterns_observed"`
	KnowledgeGaps []struct {
		Topic           string `json:"topic"`
		WhyInsufficient string `json:"why_insufficient"`
	} `json:"knowledge_gaps"`
	Insights []struct {
		Insight    string  `json:"insight"`
		Basis      string  `json:"basis"`
		Confidence float64 `json:"confidence"`
	} `json:"insights"`
	NodesToBoost []string `json:"nodes_to_boost"`
	NodesToDrop  []string `json:"nodes_to_drop"`
}

// ReflectionEngine runs the end-of-session review: synthesize a self
// evaluation, fold its findings back into the graph and the mistake log,
// run graph maintenance, and journal the session.
type ReflectionEngine struct {
	client   llm.Client
	memory   *memory.Manager
	graph    *knowledge.Graph
	evolver  *knowledge.Evolver
	reasoner *knowledge.Reasoner
	mistakes *learning.MistakeTracker
	insights *learning.InsightGenerator
	journal  *learning.Journal
	logger   logging.Logger
}

func NewReflectionEngine(client llm.Client, mem *memory.Manager, graph *knowledge.Graph,
	evolver *knowledge.Evolver, reasoner *knowledge.Reasoner, mistakes *learning.MistakeTracker,
	insights *learning.InsightGenerator, journal *learning.Journal, logger logging.Logger) *ReflectionEngine {
	return &ReflectionEngine{
		client:   client,
		memory:   mem,
		graph:    graph,
		evolver:  evolver,
		reasoner: reasoner,
		mistakes: mistakes,
		insights: insights,
		journal:  journal,
		logger:   logging.OrNop(logger),
	}
}

// Run executes the full reflection pass for a session. An empty session
// returns an empty result without calling the model.
func (e *ReflectionEngine) Run(ctx context.Context, sessionID string, startedAt time.Time) (*ReflectionResult, error) {
	result := &ReflectionResult{Reflection: &learning.Reflection{}}

	interactions, err := e.memory.RecentHistory(ctx, 25)
	if err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}
	if len(interactions) == 0 {
		e.logger.Debug("nothing to reflect on, session was empty")
		return result, nil
	}

	graphContext := e.graphContextFor(ctx, interactions)

	raw, err := e.synthesize(ctx, interactions, graphContext)
	if err != nil {
		return nil, err
	}
	result.Reflection = convertReflection(raw)

	e.applyGraphUpdates(ctx, raw, sessionID, result)
	result.MistakesRecorded = e.recordMistakes(ctx, raw, sessionID, interactions[0].Domain)

	if e.insights != nil {
		nodes, err := e.insights.Generate(ctx, raw.SessionSummary, 25)
		if err != nil {
			e.logger.Warn("insight generation failed: %v", err)
		}
		for _, node := range nodes {
			result.Reflection.Insights = append(result.Reflection.Insights, learning.Insight{
				Insight: node.DisplayLabel,
				Basis:   "knowledge graph synthesis",
			})
		}
	}

	maintenance, err := e.evolver.RunFullMaintenance()
	if err != nil {
		e.logger.Warn("graph maintenance failed, saving anyway: %v", err)
		if saveErr := e.graph.Save(); saveErr != nil {
			e.logger.Error("graph save failed after maintenance error: %v", saveErr)
		}
	}
	result.Maintenance = maintenance

	if e.journal != nil {
		path, err := e.journal.Write(sessionID, startedAt, result.Reflection, knowledge.IntegrationStats{
			NodesAdded:         result.FactsAdded,
			NodesUpdated:       result.NodesBoosted,
			FactsAdded:         result.FactsAdded,
			CorrectionsApplied: result.CorrectionsApplied + result.NodesDropped,
		}, len(interactions))
		if err != nil {
			e.logger.Warn("journal write failed: %v", err)
		} else {
			result.JournalPath = path
		}
	}

	e.logger.Info("reflection complete: %s", result.DisplaySummary())
	return result, nil
}

// graphContextFor pulls what the graph already knows about the session's
// opening topics, so the model can judge its own recall.
func (e *ReflectionEngine) graphContextFor(ctx context.Context, interactions []*storage.Interaction) string {
	var topics []string
	for i, it := range interactions {
		if i >= 3 {
			break
		}
		topics = append(topics, truncate(it.UserMessage, 100))
	}
	return e.reasoner.ContextForPrompt(ctx, strings.Join(topics, " "))
}

func (e *ReflectionEngine) synthesize(ctx context.Context, interactions []*storage.Interaction, graphContext string) (*rawReflection, error) {
	var blocks []string
	for i, it := range interactions {
		if i >= 20 {
			break
		}
		blocks = append(blocks, fmt.Sprintf("User: %s\nAgent: %s",
			truncate(it.UserMessage, 200), truncate(it.AgentResponse, 300)))
	}
	interactionText := truncate(strings.Join(blocks, "\n\n---\n\n"), 4000)

	if graphContext == "" {
		graphContext = "(knowledge graph is empty)"
	}
	prompt := fmt.Sprintf(reflectionPrompt, interactionText, truncate(graphContext, 1500))

	resp, err := e.client.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		System:      reflectionSystemPrompt,
		MaxTokens:   2048,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("reflection call: %w", err)
	}

	cleaned, err := jsonx.Repair(jsonx.StripFences(resp.Content))
	if err != nil {
		return nil, fmt.Errorf("reflection output unparseable: %w", err)
	}
	var raw rawReflection
	if err := jsonx.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("reflection decode: %w", err)
	}
	return &raw, nil
}

// applyGraphUpdates folds the review's verdicts back into the graph:
// confirmed labels gain confidence, wrong ones are deprecated, and new
// learnings become fact nodes.
func (e *ReflectionEngine) applyGraphUpdates(ctx context.Context, raw *rawReflection, sessionID string, result *ReflectionResult) {
	for _, label := range raw.NodesToBoost {
		node := e.graph.FindNodeByLabel(strings.ToLower(strings.TrimSpace(label)), "")
		if node == nil {
			continue
		}
		e.evolver.ConfirmNodes([]string{node.ID})
		result.NodesBoosted++
	}

	for _, label := range raw.NodesToDrop {
		node := e.graph.FindNodeByLabel(strings.ToLower(strings.TrimSpace(label)), "")
		if node == nil {
			continue
		}
		e.evolver.CorrectNode(node.ID, "Detected as incorrect in reflection")
		result.NodesDropped++
	}

	for _, learningItem := range raw.KeyLearnings {
		if len(learningItem.Fact) <= 10 {
			continue
		}
		confidence := learningItem.Confidence
		if confidence <= 0 {
			confidence = 0.6
		}
		node := knowledge.NewNode(knowledge.NodeFact, truncate(learningItem.Fact, 200),
			learningItem.Domain, nil, confidence, "reflection_"+sessionID)
		e.graph.UpsertNode(ctx, node)
		result.FactsAdded++
	}

	for _, corr := range raw.CorrectionsDetected {
		wrong := e.graph.FindNodeByLabel(strings.ToLower(strings.TrimSpace(corr.Wrong)), "")
		if wrong == nil {
			continue
		}
		e.evolver.CorrectNode(wrong.ID, "Corrected in reflection: "+truncate(corr.Correct, 100))
		result.CorrectionsApplied++

		// When the corrected belief is itself in the graph, link the pair
		// so retrieval can surface the replacement.
		if correct := e.graph.FindNodeByLabel(strings.ToLower(strings.TrimSpace(corr.Correct)), ""); correct != nil {
			edge := knowledge.NewEdge(correct.ID, wrong.ID, knowledge.EdgeCorrects, 0.9)
			if corr.Context != "" {
				edge.Properties = map[string]any{"context": corr.Context}
			}
			e.graph.UpsertEdge(edge)
		}
	}
}

func (e *ReflectionEngine) recordMistakes(ctx context.Context, raw *rawReflection, sessionID, domain string) int {
	if e.mistakes == nil {
		return 0
	}
	recorded := 0
	for _, corr := range raw.CorrectionsDetected {
		if corr.Wrong == "" || corr.Correct == "" {
			continue
		}
		trigger := corr.Triggered
		if trigger == "" {
			trigger = corr.Wrong
		}
		_, err := e.mistakes.RecordMistake(ctx, sessionID,
			truncate(trigger, 400), truncate(corr.Wrong, 400),
			truncate(corr.Correct, 300), domain, truncate(corr.Context, 200))
		if err != nil {
			e.logger.Debug("reflection mistake record failed: %v", err)
			continue
		}
		recorded++
	}
	return recorded
}

func convertReflection(raw *rawReflection) *learning.Reflection {
	out := &learning.Reflection{
		SessionSummary: raw.SessionSummary,
		QualityScore:   raw.QualityScore,
	}
	for _, l := range raw.KeyLearnings {
		out.KeyLearnings = append(out.KeyLearnings, learning.Learning{
			Fact: l.Fact, Domain: l.Domain, Confidence: l.Confidence,
		})
	}
	for _, c := range raw.CorrectionsDetected {
		out.CorrectionsDetected = append(out.CorrectionsDetected, learning.Correction{
			Wrong: c.Wrong, Correct: c.Correct,
		})
	}
	for _, p := range raw.PatternsObserved {
		out.PatternsObserved = append(out.PatternsObserved, learning.Pattern{
			Pattern: p.Pattern, Implication: p.Implication,
		})
	}
	for _, g := range raw.KnowledgeGaps {
		out.KnowledgeGaps = append(out.KnowledgeGaps, learning.Gap{
			Topic: g.Topic, WhyInsufficient: g.WhyInsufficient,
		})
	}
	for _, i := range raw.Insights {
		out.Insights = append(out.Insights, learning.Insight{
			Insight: i.Insight, Basis: i.Basis,
		})
	}
	return out
}
