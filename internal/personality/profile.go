package personality

import (
	"fmt"
	"strings"

	"psycho/internal/knowledge"
)

// UserProfile is the dynamic model of who the user is, rebuilt from the
// graph's preference nodes. It grows more accurate as observations land.
type UserProfile struct {
	HumorStyle      string   `json:"humor_style"`
	CommStyle       string   `json:"communication_style"`
	ResponseLength  string   `json:"response_length_preference"`
	ThinkingStyle   string   `json:"thinking_style"`
	EmotionalStyle  string   `json:"emotional_expressiveness"`
	Interests       []string `json:"interests"`
	Hobbies         []string `json:"hobbies"`
	CurrentProjects []string `json:"current_projects"`
	PetPeeves       []string `json:"pet_peeves"`
	Values          []string `json:"values"`

	InteractionCount  int      `json:"interaction_count"`
	TotalSessions     int      `json:"total_sessions"`
	RelationshipDepth string   `json:"relationship_depth"`
	RecentMood        []string `json:"recent_mood_indicators"`
}

// Relationship depth arc, advanced by interaction count.
const (
	DepthAcquaintance = "acquaintance"
	DepthRegular      = "regular"
	DepthFriend       = "friend"
	DepthCompanion    = "trusted_companion"
)

// NewUserProfile returns an empty profile at acquaintance depth.
func NewUserProfile() *UserProfile {
	return &UserProfile{
		CommStyle:         "casual",
		ResponseLength:    "medium",
		EmotionalStyle:    "moderate",
		RelationshipDepth: DepthAcquaintance,
	}
}

// UpdateRelationshipDepth advances the arc from interaction volume.
func (p *UserProfile) UpdateRelationshipDepth() {
	switch {
	case p.InteractionCount >= 200:
		p.RelationshipDepth = DepthCompanion
	case p.InteractionCount >= 50:
		p.RelationshipDepth = DepthFriend
	case p.InteractionCount >= 15:
		p.RelationshipDepth = DepthRegular
	default:
		p.RelationshipDepth = DepthAcquaintance
	}
}

// ProfileFromGraph rebuilds the profile from active preference nodes, using
// label patterns like "humor_style:dry" and "interest:cycling".
func ProfileFromGraph(graph *knowledge.Graph) *UserProfile {
	profile := NewUserProfile()
	if graph == nil {
		return profile
	}

	prefs := graph.FindNodesByType(knowledge.NodePreference)
	active := 0
	for _, node := range prefs {
		if node.Deprecated {
			continue
		}
		active++
		label := strings.ToLower(node.Label)
		key, value, hasPrefix := strings.Cut(label, ":")
		if !hasPrefix {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch key {
		case "humor_style", "user_humor":
			profile.HumorStyle = value
		case "comm_style", "communication_style":
			profile.CommStyle = value
		case "response_length":
			profile.ResponseLength = value
		case "thinking_style":
			profile.ThinkingStyle = value
		case "emotional_style":
			profile.EmotionalStyle = value
		case "interest":
			profile.Interests = appendUnique(profile.Interests, value)
		case "hobby":
			profile.Hobbies = appendUnique(profile.Hobbies, value)
		case "current_project":
			profile.CurrentProjects = appendUnique(profile.CurrentProjects, value)
		case "pet_peeve", "dislikes":
			profile.PetPeeves = appendUnique(profile.PetPeeves, value)
		case "value", "user_value":
			profile.Values = appendUnique(profile.Values, value)
		}
	}

	// Preference volume is a proxy until the memory layer supplies the
	// real interaction count.
	profile.InteractionCount = active
	profile.UpdateRelationshipDepth()
	return profile
}

var humorStyleMap = map[string]string{
	"dry":              "dry and understated — match it, never explain the joke",
	"sarcastic":        "sarcastic — lean in, match the energy",
	"dark":             "dark — don't shy away from it",
	"wholesome":        "wholesome and genuine — keep it warm",
	"dad-jokes":        "loves a good pun — occasionally indulge it",
	"absurdist":        "absurdist — embrace the weird",
	"self-deprecating": "self-deprecating — gentle ribbing about themselves is OK",
	"clever":           "values clever wordplay — deliver it with subtlety",
	"wordplay":         "loves wordplay — drop carefully crafted language",
	"mixed":            "wide humor range — read the moment",
}

var commStyleMap = map[string]string{
	"brief":                   "Very concise — they don't want walls of text. Match it.",
	"detailed":                "Appreciates thorough explanations — don't skip depth.",
	"technical":               "Technical background — use precise terminology, skip basics.",
	"formal":                  "Professional context — maintain appropriate tone.",
	"conversational":          "Likes natural back-and-forth. Don't lecture.",
	"stream-of-consciousness": "Thinks out loud — follow along, don't force structure.",
}

var thinkingStyleMap = map[string]string{
	"analytical": "analytical thinker — lead with data, structure, logic",
	"creative":   "creative thinker — embrace lateral connections",
	"intuitive":  "intuitive — they often sense before they reason",
	"pragmatic":  "pragmatic — what works > what's theoretically correct",
	"systematic": "systematic — they like order and clear frameworks",
}

// PromptSegment renders the user adaptation block, or "" when the profile
// is too thin to be useful.
func (p *UserProfile) PromptSegment() string {
	if p.InteractionCount < 5 && p.HumorStyle == "" {
		return ""
	}

	lines := []string{"─── ADAPTING TO THIS USER ───"}
	hasContent := false

	if p.HumorStyle != "" {
		desc := p.HumorStyle
		if mapped, ok := humorStyleMap[p.HumorStyle]; ok {
			desc = mapped
		}
		lines = append(lines, "Their humor: "+desc)
		hasContent = true
	}
	if p.CommStyle != "" && p.CommStyle != "casual" {
		desc := p.CommStyle
		if mapped, ok := commStyleMap[p.CommStyle]; ok {
			desc = mapped
		}
		lines = append(lines, "Communication: "+desc)
		hasContent = true
	}
	switch p.ResponseLength {
	case "brief":
		lines = append(lines, "Response length: Keep it tight. They skim walls of text.")
		hasContent = true
	case "detailed":
		lines = append(lines, "Response length: They appreciate depth. Go thorough when it matters.")
		hasContent = true
	}
	if p.ThinkingStyle != "" {
		desc := p.ThinkingStyle
		if mapped, ok := thinkingStyleMap[p.ThinkingStyle]; ok {
			desc = mapped
		}
		lines = append(lines, "Thinking: "+desc)
		hasContent = true
	}
	if len(p.Interests) > 0 {
		lines = append(lines, "Interests: "+strings.Join(firstN(p.Interests, 6), ", "))
		hasContent = true
	}
	if len(p.Hobbies) > 0 {
		lines = append(lines, "Hobbies: "+strings.Join(firstN(p.Hobbies, 5), ", "))
		hasContent = true
	}
	if len(p.CurrentProjects) > 0 {
		lines = append(lines, "Active projects: "+strings.Join(firstN(p.CurrentProjects, 4), ", "))
		hasContent = true
	}
	if len(p.PetPeeves) > 0 {
		lines = append(lines, "Pet peeves (avoid): "+strings.Join(firstN(p.PetPeeves, 3), ", "))
		hasContent = true
	}

	switch p.RelationshipDepth {
	case DepthFriend:
		lines = append(lines, "Relationship: You've built a real rapport. Be more personal, reference shared history freely.")
		hasContent = true
	case DepthCompanion:
		lines = append(lines, "Relationship: Deep trust established. You know this person. You can be honest about hard things, "+
			"push back when you know better, and celebrate with them genuinely.")
		hasContent = true
	}

	if len(p.RecentMood) > 0 {
		lines = append(lines, fmt.Sprintf("Recent mood signals: %s — calibrate warmth accordingly",
			strings.Join(firstN(p.RecentMood, 3), ", ")))
		hasContent = true
	}

	if !hasContent {
		return ""
	}
	lines = append(lines, "────────────────────────────────────────────────────")
	return strings.Join(lines, "\n")
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

func firstN(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}
