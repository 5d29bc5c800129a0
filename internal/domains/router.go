package domains

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"psycho/internal/jsonx"
	"psycho/internal/llm"
	"psycho/internal/logging"
)

const routerCacheSize = 256

const routerPrompt = `Classify this message into exactly one domain.

Message: %s

Domains:
- coding: programming, software engineering, debugging, algorithms, code review, tech tools
- health: nutrition, diet, fitness, exercise, sleep, weight, medical, wellness, mental health
- tasks: todos, reminders, planning, scheduling, goals, productivity, deadlines
- general: everything else (questions, conversation, knowledge, writing, math)

Return only JSON: {"domain": "coding|health|tasks|general", "confidence": 0.0-1.0}`

// Keyword shortcuts cover the obvious cases without spending a model call.
var domainKeywords = map[string][]string{
	DomainCoding: {
		"python", "javascript", "typescript", "java", "c++", "rust", "golang", "code",
		"function", "class", "bug", "error", "exception", "debug", "git", "github",
		"api", "database", "sql", "async", "await", "import", "library", "framework",
		"deploy", "docker", "kubernetes", "algorithm", "refactor", "test", "unittest",
		"def ", "const ", "var ", "let ", "fn ", "func ", "import ", "from ",
	},
	DomainHealth: {
		"weight", "kg", "lbs", "calories", "calorie", "sleep", "slept", "exercise",
		"workout", "gym", "run", "walk", "diet", "nutrition", "meal", "eat", "ate",
		"drink", "water", "steps", "bmi", "heart rate", "mood", "stress", "anxiety",
		"tired", "fatigue", "protein", "carb", "fat", "vitamin", "supplement",
		"health", "medical", "doctor", "pain", "sick",
	},
	DomainTasks: {
		"remind", "reminder", "todo", "to do", "to-do", "task", "plan", "schedule",
		"deadline", "due", "finish", "complete", "done", "priority", "urgent",
		"tomorrow", "next week", "don't forget", "need to", "have to", "should",
		"appointment", "meeting", "call", "follow up",
	},
}

// Router classifies user messages into domains. Keyword matching first, an
// LRU cache of past classifications, then a cheap model call for the
// ambiguous remainder.
type Router struct {
	client llm.Client
	cache  *lru.Cache[string, string]
	logger logging.Logger
}

// NewRouter builds a router around the given model client.
func NewRouter(client llm.Client, logger logging.Logger) *Router {
	cache, _ := lru.New[string, string](routerCacheSize)
	return &Router{client: client, cache: cache, logger: logging.OrNop(logger)}
}

// Classify returns the domain for a user message. Never fails; ambiguity
// falls through to general.
func (r *Router) Classify(ctx context.Context, userMessage string) string {
	cacheKey := strings.ToLower(truncate(userMessage, 100))
	if domain, ok := r.cache.Get(cacheKey); ok {
		return domain
	}

	domain := keywordClassify(userMessage)
	if domain == DomainGeneral && len(userMessage) > 15 {
		domain = r.modelClassify(ctx, userMessage)
	}

	r.cache.Add(cacheKey, domain)
	r.logger.Debug("domain %q for %q", domain, truncate(userMessage, 50))
	return domain
}

func keywordClassify(message string) string {
	msg := strings.ToLower(message)
	best, bestScore := DomainGeneral, 0
	for _, domain := range []string{DomainCoding, DomainHealth, DomainTasks} {
		score := 0
		for _, kw := range domainKeywords[domain] {
			if strings.Contains(msg, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = domain, score
		}
	}
	if bestScore >= 1 {
		return best
	}
	return DomainGeneral
}

func (r *Router) modelClassify(ctx context.Context, userMessage string) string {
	resp, err := r.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf(routerPrompt, truncate(userMessage, 300)),
		}},
		System:      "Output ONLY valid JSON. No explanation.",
		MaxTokens:   50,
		Temperature: 0.01,
	})
	if err != nil {
		r.logger.Debug("domain classify failed, using general: %v", err)
		return DomainGeneral
	}

	var payload struct {
		Domain     string  `json:"domain"`
		Confidence float64 `json:"confidence"`
	}
	if err := jsonx.Unmarshal([]byte(jsonx.StripFences(resp.Content)), &payload); err != nil {
		r.logger.Debug("domain classify unparseable, using general: %v", err)
		return DomainGeneral
	}
	for _, domain := range All {
		if payload.Domain == domain {
			return domain
		}
	}
	return DomainGeneral
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
