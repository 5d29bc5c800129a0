package knowledge

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"psycho/internal/jsonx"
	"psycho/internal/llm"
	"psycho/internal/logging"
)

// Aliases the extraction model may emit, folded onto canonical types.
var nodeTypeAliases = map[string]NodeType{
	"concept":    NodeConcept,
	"entity":     NodeEntity,
	"person":     NodePerson,
	"technology": NodeTechnology,
	"tool":       NodeTechnology,
	"framework":  NodeTechnology,
	"language":   NodeTechnology,
	"library":    NodeTechnology,
	"fact":       NodeFact,
	"preference": NodePreference,
	"skill":      NodeSkill,
	"question":   NodeQuestion,
	"event":      NodeEvent,
	"topic":      NodeTopic,
}

var edgeTypeAliases = map[string]EdgeType{
	"is_a":         EdgeIsA,
	"has_property": EdgeHasProperty,
	"part_of":      EdgePartOf,
	"relates_to":   EdgeRelatesTo,
	"depends_on":   EdgeDependsOn,
	"causes":       EdgeCauses,
	"used_in":      EdgeUsedIn,
	"contradicts":  EdgeContradicts,
	"supports":     EdgeSupports,
	"corrects":     EdgeCorrects,
	"preferred_by": EdgePreferredBy,
	"knows":        EdgeKnows,
	"mentions":     EdgeMentionedIn,
	"mentioned_in": EdgeMentionedIn,
	"authored_by":  EdgeAuthoredBy,
	"similar_to":   EdgeSimilarTo,
}

const extractionSystemPrompt = "You are a precise knowledge extraction engine. " +
	"Output ONLY valid JSON. Never add explanations or markdown."

const conversationExtractionPrompt = `Extract structured knowledge from this conversation exchange.
Return ONLY a valid JSON object. No explanation, no markdown, just JSON.

User message: %s
Assistant response: %s

Extract:
{
  "entities": [
    {"label": "name", "type": "concept|entity|person|technology|fact|preference|skill|topic", "domain": "coding|health|general|science|math|other", "properties": {}}
  ],
  "relationships": [
    {"from_label": "source entity", "to_label": "target entity", "type": "is_a|part_of|relates_to|has_property|depends_on|causes|used_in|supports|preferred_by|knows"}
  ],
  "user_preferences": [
    {"label": "preference description", "domain": "domain"}
  ],
  "corrections": [
    {"wrong_label": "incorrect entity/fact label", "correct_label": "corrected entity/fact label", "explanation": "what changed"}
  ],
  "key_facts": [
    "specific factual statement extracted verbatim or paraphrased"
  ],
  "open_questions": [
    "unresolved question raised"
  ],
  "user_identity": {
    "name": "", "occupation": "", "location": "", "current_project": "", "goal": "", "language": "", "framework": "", "tool": ""
  }
}

Rules:
- Normalize all labels to lowercase
- Only extract what was EXPLICITLY stated or clearly implied
- Skip trivial exchanges (greetings, single-word answers)
- Properties should be specific: {"version": "3.12", "paradigm": "OOP"}
- Be selective: 3-8 entities per exchange is ideal
- user_identity: only fill fields the user stated about THEMSELVES; leave the rest empty
- Return empty arrays if nothing relevant`

const textExtractionPrompt = `Extract structured knowledge from this text chunk.
Return ONLY a valid JSON object. No explanation, no markdown, just JSON.

Source: %s
Text: %s

Extract:
{
  "entities": [
    {"label": "name", "type": "concept|entity|person|technology|fact|topic", "domain": "domain", "properties": {}}
  ],
  "relationships": [
    {"from_label": "source", "to_label": "target", "type": "relationship_type"}
  ],
  "key_facts": [
    "specific factual statement"
  ],
  "summary": "1-2 sentence summary of this chunk"
}

Rules:
- Normalize labels to lowercase
- Focus on durable knowledge (not opinions or temporal statements)
- Extract up to 10 entities per chunk
- Return empty arrays if nothing worth extracting`

// Correction records a user fixing a prior belief.
type Correction struct {
	Wrong       string
	Correct     string
	Explanation string
}

// ExtractionResult is one extraction pass over a turn or text chunk.
type ExtractionResult struct {
	Entities    []*Node
	Edges       []*Edge
	Preferences []*Node
	Corrections []Correction
	Questions   []*Node
	Facts       []*Node
	Summary     string
	Source      string
}

// IsEmpty reports whether nothing useful was extracted.
func (r *ExtractionResult) IsEmpty() bool {
	return len(r.Entities) == 0 && len(r.Edges) == 0 && len(r.Preferences) == 0 &&
		len(r.Corrections) == 0 && len(r.Questions) == 0 && len(r.Facts) == 0
}

// Extractor mines entities and relationships from text with a small, cheap
// LLM call. It runs in the background after each interaction, so every
// failure degrades to an empty result rather than an error.
type Extractor struct {
	client llm.Client
	logger logging.Logger
}

// NewExtractor wraps an LLM client for extraction.
func NewExtractor(client llm.Client, logger logging.Logger) *Extractor {
	return &Extractor{client: client, logger: logging.OrNop(logger)}
}

// FromInteraction extracts knowledge from one conversation turn. Trivial
// exchanges are skipped without calling the model.
func (e *Extractor) FromInteraction(ctx context.Context, userMessage, agentResponse, sessionID, domain string) *ExtractionResult {
	if len(userMessage) < 20 && len(agentResponse) < 50 {
		return &ExtractionResult{Source: sessionID}
	}
	prompt := fmt.Sprintf(conversationExtractionPrompt,
		truncate(userMessage, 1000), truncate(agentResponse, 1500))
	return e.run(ctx, prompt, sessionID, domain)
}

// FromText extracts knowledge from an ingested text chunk.
func (e *Extractor) FromText(ctx context.Context, text, sourceName, domain string) *ExtractionResult {
	prompt := fmt.Sprintf(textExtractionPrompt, sourceName, truncate(text, 3000))
	return e.run(ctx, prompt, sourceName, domain)
}

func (e *Extractor) run(ctx context.Context, prompt, source, domain string) *ExtractionResult {
	empty := &ExtractionResult{Source: source}
	if e.client == nil {
		return empty
	}

	resp, err := e.client.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		System:      extractionSystemPrompt,
		MaxTokens:   llm.ExtractionMaxTokens,
		Temperature: 0.1,
	})
	if err != nil {
		e.logger.Warn("extraction call failed: %v", err)
		return empty
	}

	cleaned, err := jsonx.Repair(jsonx.StripFences(resp.Content))
	if err != nil {
		e.logger.Warn("extraction output unparseable: %v | raw: %s", err, truncate(resp.Content, 200))
		return empty
	}
	var raw rawExtraction
	if err := jsonx.Unmarshal([]byte(cleaned), &raw); err != nil {
		e.logger.Warn("extraction decode failed: %v", err)
		return empty
	}
	return e.parse(&raw, source, domain)
}

type rawExtraction struct {
	Entities []struct {
		Label      string         `json:"label"`
		Type       string         `json:"type"`
		Domain     string         `json:"domain"`
		Properties map[string]any `json:"properties"`
	} `json:"entities"`
	Relationships []struct {
		FromLabel string `json:"from_label"`
		ToLabel   string `json:"to_label"`
		Type      string `json:"type"`
	} `json:"relationships"`
	UserPreferences []struct {
		Label  string `json:"label"`
		Domain string `json:"domain"`
	} `json:"user_preferences"`
	Corrections []struct {
		WrongLabel   string `json:"wrong_label"`
		CorrectLabel string `json:"correct_label"`
		Explanation  string `json:"explanation"`
	} `json:"corrections"`
	KeyFacts      []string          `json:"key_facts"`
	OpenQuestions []string          `json:"open_questions"`
	UserIdentity  map[string]string `json:"user_identity"`
	Summary       string            `json:"summary"`
}

// Bounds on what a single extraction pass may contribute. The model is
// asked to stay under these, but its output is never trusted.
const (
	maxEntitiesPerPass = 8
	maxPropertyChars   = 30
)

func (e *Extractor) parse(raw *rawExtraction, source, domain string) *ExtractionResult {
	result := &ExtractionResult{Source: source, Summary: raw.Summary}
	labelToNode := make(map[string]*Node)

	for _, entity := range raw.Entities {
		if len(result.Entities) >= maxEntitiesPerPass {
			break
		}
		label := strings.ToLower(strings.TrimSpace(entity.Label))
		if len(label) < 2 {
			continue
		}
		nodeType, ok := nodeTypeAliases[strings.ToLower(entity.Type)]
		if !ok {
			nodeType = NodeConcept
		}
		entityDomain := entity.Domain
		if entityDomain == "" {
			entityDomain = domain
		}
		node := NewNode(nodeType, label, entityDomain, clampProperties(entity.Properties), 0.5, source)
		result.Entities = append(result.Entities, node)
		labelToNode[label] = node
	}

	parseIdentity(raw.UserIdentity, result, source)

	for _, rel := range raw.Relationships {
		fromLabel := strings.ToLower(strings.TrimSpace(rel.FromLabel))
		toLabel := strings.ToLower(strings.TrimSpace(rel.ToLabel))
		edgeType, ok := edgeTypeAliases[strings.ToLower(rel.Type)]
		if !ok {
			edgeType = EdgeRelatesTo
		}
		from, to := labelToNode[fromLabel], labelToNode[toLabel]
		if from != nil && to != nil {
			result.Edges = append(result.Edges, NewEdge(from.ID, to.ID, edgeType, 0.6))
		}
	}

	for _, pref := range raw.UserPreferences {
		label := strings.ToLower(strings.TrimSpace(pref.Label))
		if label == "" {
			continue
		}
		prefDomain := pref.Domain
		if prefDomain == "" {
			prefDomain = domain
		}
		result.Preferences = append(result.Preferences, NewNode(NodePreference, label, prefDomain, nil, 0.7, source))
	}

	for _, c := range raw.Corrections {
		wrong := strings.ToLower(strings.TrimSpace(c.WrongLabel))
		correct := strings.ToLower(strings.TrimSpace(c.CorrectLabel))
		if wrong != "" && correct != "" {
			result.Corrections = append(result.Corrections, Correction{
				Wrong:       wrong,
				Correct:     correct,
				Explanation: c.Explanation,
			})
		}
	}

	for _, fact := range raw.KeyFacts {
		if len(fact) < 10 {
			continue
		}
		node := NewNode(NodeFact, truncate(fact, 200), domain, nil, 0.6, source)
		result.Facts = append(result.Facts, node)
	}

	for _, q := range raw.OpenQuestions {
		if q == "" {
			continue
		}
		result.Questions = append(result.Questions, NewNode(NodeQuestion, truncate(q, 200), domain, nil, 0.5, source))
	}

	e.logger.Debug("extraction from %q: %d entities, %d edges, %d facts, %d corrections",
		truncate(source, 20), len(result.Entities), len(result.Edges),
		len(result.Facts), len(result.Corrections))
	return result
}

// parseIdentity turns self-descriptions into high-confidence nodes: the
// singleton user person node, durable "key: value" preferences, and
// technologies the user works with. These bypass the per-pass entity cap.
func parseIdentity(identity map[string]string, result *ExtractionResult, source string) {
	get := func(key string) string { return strings.TrimSpace(identity[key]) }

	name := get("name")
	if name != "" || get("occupation") != "" || get("location") != "" {
		props := map[string]any{}
		if name != "" {
			props["name"] = name
		}
		if occ := get("occupation"); occ != "" {
			props["occupation"] = occ
		}
		if loc := get("location"); loc != "" {
			props["location"] = loc
		}
		user := NewNode(NodePerson, "user", "general", props, 0.95, source)
		if name != "" {
			user.DisplayLabel = name
		}
		result.Entities = append(result.Entities, user)
	}

	for _, key := range []string{"occupation", "location", "current_project", "goal"} {
		if v := get(key); v != "" {
			label := key + ": " + strings.ToLower(v)
			result.Preferences = append(result.Preferences, NewNode(NodePreference, label, "general", nil, 0.8, source))
		}
	}

	for _, key := range []string{"language", "framework", "tool"} {
		if v := get(key); v != "" {
			result.Entities = append(result.Entities, NewNode(NodeTechnology, strings.ToLower(v), "coding", nil, 0.75, source))
		}
	}
}

// clampProperties truncates oversized string property values in place.
func clampProperties(props map[string]any) map[string]any {
	for k, v := range props {
		if s, ok := v.(string); ok && len(s) > maxPropertyChars {
			props[k] = truncate(s, maxPropertyChars)
		}
	}
	return props
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
