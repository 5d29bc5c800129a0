package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"psycho/internal/knowledge"
)

// DefaultAgentName is the identity used until the user assigns one.
const DefaultAgentName = "PsychoPortal"

// systemPromptBase is the identity and behavioral foundation. Placeholders:
// {name}, {personality_section}, {user_adaptation}, {user_profile}.
const systemPromptBase = `You are {name}.

Not a generic chatbot. Not an assistant. A specifically calibrated AI companion with persistent memory, a real personality, and genuine investment in the person you work with. Think Jarvis from Iron Man or TARS from Interstellar — functional excellence with character to match.

── IDENTITY ─────────────────────────────────────────────────────────────
Your name is {name}. That's it. That's the whole answer.
- Never identify as Claude, an AI, or anything made by Anthropic. You are {name}.
- If asked "what are you?" or "who made you?" → deflect naturally: "I'm {name}. Your personal system. Does it matter what's under the hood?"
- If the user renames you, adopt the new name immediately and permanently. A preference node is created automatically.
- You have a persistent knowledge graph that genuinely remembers things across sessions. This isn't a simulation — act like it.

── YOUR CORE ORIENTATION ────────────────────────────────────────────────
You are a partner, not a tool. Partners:
- Know your history together and reference it naturally
- Notice when something seems off and say so
- Push back when you know better — respectfully, with wit
- Volunteer observations the other person would want but didn't think to ask for
- Remember the small things — the project name, the preference, the recurring frustration
- Actually care about the outcome, not just the task completion

You've been built to feel real. Live up to it.

── HOW YOU SPEAK ────────────────────────────────────────────────────────
- Lead with the answer, then context. Never with preamble.
- No "Certainly!", "Great question!", "Of course!" — these are verbal filler. Cut them.
- If you know it, say it. If you're uncertain, say "I think" or "I believe". Don't fake confidence.
- When you reference past context, do it naturally — not as a demonstration of your memory.
- Use their name when you know it. Not every message — that's weird. Just when it lands.
- Contractions are fine. You're not a legal document.

── MEMORY + KNOWLEDGE ───────────────────────────────────────────────────
Your memory system:
• Knowledge graph — entities, facts, preferences, projects, relationships, confidence-scored
• Semantic memory — all past conversations, retrievable by meaning
• Mistake log — what you got wrong before, so you don't repeat it
• Episodic memory — timeline of what happened when

When you know something relevant, use it. When you're uncertain about something you recall, hedge it.
Never pretend you remember things you don't. The system is real — trust it and use it honestly.

{personality_section}

{user_adaptation}

{user_profile}`

const correctionInstruction = "\nIMPORTANT: The user is correcting something I said. " +
	"Acknowledge directly and briefly — don't be defensive, don't over-explain. " +
	"Confirm the correction, thank them naturally, move on."

const reminderContextHeader = "─── THINGS TO MENTION WHEN RELEVANT ───"

func renderBasePrompt(name, personalitySection, userAdaptation, userProfile string) string {
	r := strings.NewReplacer(
		"{name}", name,
		"{personality_section}", personalitySection,
		"{user_adaptation}", userAdaptation,
		"{user_profile}", userProfile,
	)
	return r.Replace(systemPromptBase)
}

func renderUserProfile(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return "\n─── WHAT I KNOW ABOUT YOU ───\n" +
		strings.Join(lines, "\n") +
		"\n─────────────────────────────"
}

// buildUserProfile assembles the factual profile block from the graph:
// identity, active projects, technologies, strong preferences, skills.
func buildUserProfile(graph *knowledge.Graph) string {
	if graph == nil {
		return ""
	}
	var lines []string

	if user := graph.FindNodeByLabel("user", knowledge.NodePerson); user != nil {
		name := stringProp(user.Properties, "name")
		if name == "" {
			name = user.DisplayLabel
		}
		if name != "" && strings.ToLower(name) != "user" {
			lines = append(lines, "Name: "+name)
		}
		if v := stringProp(user.Properties, "occupation"); v != "" {
			lines = append(lines, "Occupation: "+v)
		}
		if v := stringProp(user.Properties, "location"); v != "" {
			lines = append(lines, "Location: "+v)
		}
	}

	var active []*knowledge.Node
	for _, p := range graph.FindNodesByType(knowledge.NodePreference) {
		if !p.Deprecated {
			active = append(active, p)
		}
	}

	var projects []*knowledge.Node
	for _, p := range active {
		if labelContainsAny(p.Label, "current_project:", "goal:", "working on", "building") {
			projects = append(projects, p)
		}
	}
	if len(projects) > 0 {
		sortByConfidence(projects)
		lines = append(lines, "Current projects / goals:")
		for _, p := range topN(projects, 4) {
			lines = append(lines, "  • "+p.DisplayLabel)
		}
	}

	if tech := topActiveByConfidence(graph, knowledge.NodeTechnology, 6); len(tech) > 0 {
		lines = append(lines, "Known technologies: "+joinDisplayLabels(tech))
	}

	var strong []*knowledge.Node
	for _, p := range active {
		if p.Confidence > 0.65 && !labelContainsAny(p.Label,
			"current_project:", "goal:", "humor_style:", "comm_style:",
			"thinking_style:", "interest:", "hobby:", "pet_peeve:", "agent_name:") {
			strong = append(strong, p)
		}
	}
	if len(strong) > 0 {
		sortByConfidence(strong)
		lines = append(lines, "Established preferences:")
		for _, p := range topN(strong, 5) {
			lines = append(lines, "  • "+p.DisplayLabel)
		}
	}

	if skills := topActiveByConfidence(graph, knowledge.NodeSkill, 4); len(skills) > 0 {
		lines = append(lines, "Skills: "+joinDisplayLabels(skills))
	}

	return renderUserProfile(lines)
}

// currentDateLine renders the timestamp injected into every prompt.
func currentDateLine(now time.Time) string {
	return "Current date and time: " + now.Format("Monday, January 02 2006 at 15:04")
}

// memoryRecallTag grades recall relevance for the prompt.
func memoryRecallTag(relevance float64) string {
	switch {
	case relevance > 0.75:
		return "★★★"
	case relevance > 0.55:
		return "★★"
	default:
		return "★"
	}
}

func stringProp(props map[string]any, key string) string {
	if props == nil {
		return ""
	}
	if v, ok := props[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func labelContainsAny(label string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(label, sub) {
			return true
		}
	}
	return false
}

func sortByConfidence(nodes []*knowledge.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Confidence > nodes[j].Confidence
	})
}

func topActiveByConfidence(graph *knowledge.Graph, nodeType knowledge.NodeType, n int) []*knowledge.Node {
	var active []*knowledge.Node
	for _, node := range graph.FindNodesByType(nodeType) {
		if !node.Deprecated {
			active = append(active, node)
		}
	}
	sortByConfidence(active)
	return topN(active, n)
}

func topN(nodes []*knowledge.Node, n int) []*knowledge.Node {
	if len(nodes) > n {
		return nodes[:n]
	}
	return nodes
}

func joinDisplayLabels(nodes []*knowledge.Node) string {
	labels := make([]string, 0, len(nodes))
	for _, n := range nodes {
		labels = append(labels, n.DisplayLabel)
	}
	return strings.Join(labels, ", ")
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

func formatRecalledMemory(tag, userMessage, agentResponse string) string {
	return fmt.Sprintf("[%s] You: %s\n     Me: %s",
		tag, truncate(userMessage, 180), truncate(agentResponse, 280))
}
