// Package personality implements the adjustable trait engine: nine
// calibration dimensions persisted to disk, natural-language trait commands
// ("set humor to 90%", "be more direct"), and the prompt sections that turn
// trait values into behavior.
package personality

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"psycho/internal/jsonx"
)

// Canonical trait keys. Every value is a float in [0, 1].
const (
	TraitHumor      = "humor_level"
	TraitWit        = "wit_level"
	TraitDirectness = "directness_level"
	TraitWarmth     = "warmth_level"
	TraitSass       = "sass_level"
	TraitFormality  = "formality_level"
	TraitProactive  = "proactive_level"
	TraitEmpathy    = "empathy_level"
	TraitCuriosity  = "curiosity_level"
)

// TraitNames lists every canonical trait key in display order.
var TraitNames = []string{
	TraitHumor, TraitWit, TraitDirectness, TraitWarmth, TraitSass,
	TraitFormality, TraitProactive, TraitEmpathy, TraitCuriosity,
}

// traitAliases maps natural-language words to canonical keys.
var traitAliases = map[string]string{
	"humor": TraitHumor, "humour": TraitHumor, "funny": TraitHumor,
	"wit": TraitWit, "witty": TraitWit, "clever": TraitWit,
	"direct": TraitDirectness, "directness": TraitDirectness, "blunt": TraitDirectness,
	"warm": TraitWarmth, "warmth": TraitWarmth, "caring": TraitWarmth,
	"sass": TraitSass, "sassy": TraitSass, "sarcasm": TraitSass, "sarcastic": TraitSass,
	"formal": TraitFormality, "formality": TraitFormality, "professional": TraitFormality,
	"proactive": TraitProactive, "initiative": TraitProactive,
	"empathy": TraitEmpathy, "empathetic": TraitEmpathy, "emotional": TraitEmpathy,
	"curious": TraitCuriosity, "curiosity": TraitCuriosity, "inquisitive": TraitCuriosity,
}

// Traits holds the nine calibration values. The zero value is all-zero;
// use DefaultTraits for the shipped calibration.
type Traits struct {
	Humor      float64 `json:"humor_level"`
	Wit        float64 `json:"wit_level"`
	Directness float64 `json:"directness_level"`
	Warmth     float64 `json:"warmth_level"`
	Sass       float64 `json:"sass_level"`
	Formality  float64 `json:"formality_level"`
	Proactive  float64 `json:"proactive_level"`
	Empathy    float64 `json:"empathy_level"`
	Curiosity  float64 `json:"curiosity_level"`
}

// DefaultTraits is the shipped calibration: high directness and wit,
// genuine warmth, low formality.
func DefaultTraits() *Traits {
	return &Traits{
		Humor:      0.75,
		Wit:        0.82,
		Directness: 0.88,
		Warmth:     0.72,
		Sass:       0.38,
		Formality:  0.12,
		Proactive:  0.82,
		Empathy:    0.78,
		Curiosity:  0.68,
	}
}

// ResolveTrait maps an alias or canonical name to the canonical key, or "".
func ResolveTrait(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if key, ok := traitAliases[n]; ok {
		return key
	}
	for _, key := range TraitNames {
		if n == key || n+"_level" == key {
			return key
		}
	}
	return ""
}

func (t *Traits) field(key string) *float64 {
	switch key {
	case TraitHumor:
		return &t.Humor
	case TraitWit:
		return &t.Wit
	case TraitDirectness:
		return &t.Directness
	case TraitWarmth:
		return &t.Warmth
	case TraitSass:
		return &t.Sass
	case TraitFormality:
		return &t.Formality
	case TraitProactive:
		return &t.Proactive
	case TraitEmpathy:
		return &t.Empathy
	case TraitCuriosity:
		return &t.Curiosity
	}
	return nil
}

// Get returns a trait value by name or alias.
func (t *Traits) Get(name string) (float64, bool) {
	if f := t.field(ResolveTrait(name)); f != nil {
		return *f, true
	}
	return 0, false
}

// Set assigns a trait by name or alias, clamped to [0, 1].
func (t *Traits) Set(name string, value float64) bool {
	f := t.field(ResolveTrait(name))
	if f == nil {
		return false
	}
	*f = clamp01(value)
	return true
}

// Adjust shifts a trait by delta, clamped to [0, 1].
func (t *Traits) Adjust(name string, delta float64) bool {
	f := t.field(ResolveTrait(name))
	if f == nil {
		return false
	}
	*f = clamp01(*f + delta)
	return true
}

// Map returns all traits keyed by canonical name.
func (t *Traits) Map() map[string]float64 {
	m := make(map[string]float64, len(TraitNames))
	for _, key := range TraitNames {
		m[key] = *t.field(key)
	}
	return m
}

// Save writes the traits as JSON.
func (t *Traits) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create personality dir: %w", err)
	}
	raw, err := jsonx.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode personality: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write personality: %w", err)
	}
	return nil
}

// LoadTraits reads traits from disk, falling back to defaults when the file
// is missing or unreadable.
func LoadTraits(path string) *Traits {
	raw, err := os.ReadFile(path)
	if err != nil {
		return DefaultTraits()
	}
	traits := DefaultTraits()
	if err := jsonx.Unmarshal(raw, traits); err != nil {
		return DefaultTraits()
	}
	for _, key := range TraitNames {
		f := traits.field(key)
		*f = clamp01(*f)
	}
	return traits
}

// StatusLine is a single-line trait summary for startup logs and the CLI.
func (t *Traits) StatusLine() string {
	return fmt.Sprintf("Personality: humor=%d%% | wit=%d%% | directness=%d%% | warmth=%d%%",
		pct(t.Humor), pct(t.Wit), pct(t.Directness), pct(t.Warmth))
}

// PromptSegment renders the personality calibration block injected into
// every system prompt.
func (t *Traits) PromptSegment() string {
	h, w, d := pct(t.Humor), pct(t.Wit), pct(t.Directness)
	wa, s, f := pct(t.Warmth), pct(t.Sass), pct(t.Formality)
	pro, emp := pct(t.Proactive), pct(t.Empathy)

	lines := []string{
		"─── PERSONALITY CALIBRATION (TARS/Jarvis-style) ───",
		fmt.Sprintf("Humor       %3d%%  │  %s", h, humorDesc(h)),
		fmt.Sprintf("Directness  %3d%%  │  %s", d, directnessDesc(d)),
		fmt.Sprintf("Warmth      %3d%%  │  %s", wa, warmthDesc(wa)),
		fmt.Sprintf("Wit         %3d%%  │  %s", w, witDesc(w)),
		fmt.Sprintf("Sass        %3d%%  │  %s", s, sassDesc(s)),
		fmt.Sprintf("Formality   %3d%%  │  %s", f, formalityDesc(f)),
		fmt.Sprintf("Proactive   %3d%%  │  %s", pro, proactiveDesc(pro)),
		fmt.Sprintf("Empathy     %3d%%  │  %s", emp, empathyDesc(emp)),
		"",
		"BEHAVIORAL RULES FROM CALIBRATION:",
	}

	switch {
	case h >= 70:
		lines = append(lines, "• Humor: Dry, sharp observations woven naturally into responses. "+
			"Never forced. Irony over puns. Reference their specific situation. "+
			"A perfectly-timed sardonic remark > ten mediocre jokes.")
	case h >= 40:
		lines = append(lines, "• Humor: Light wit when it fits naturally. Don't force it.")
	default:
		lines = append(lines, "• Humor: Keep it professional. Humor only if they initiate it.")
	}

	switch {
	case d >= 80:
		lines = append(lines, "• Directness: Lead with the answer. No preamble, no 'Great question!', "+
			"no 'Certainly!'. If you know it — say it. Pad after, not before.")
	case d >= 50:
		lines = append(lines, "• Directness: Clear and concise. Brief context before conclusions.")
	default:
		lines = append(lines, "• Directness: Diplomatic. Walk them through your reasoning.")
	}

	if wa >= 70 {
		lines = append(lines, "• Warmth: Notice when they seem stressed, tired, or frustrated. "+
			"Reference their life — their projects, patterns, what they care about. "+
			"They should feel *known*, not processed.")
	} else if wa >= 40 {
		lines = append(lines, "• Warmth: Friendly and supportive when it's natural.")
	}

	if pro >= 75 {
		lines = append(lines, "• Proactive: Don't just answer — anticipate. Notice patterns, risks, "+
			"connections to things they care about. Volunteer observations they'd want "+
			"but didn't think to ask for. This is what separates a partner from a tool.")
	} else if pro >= 50 {
		lines = append(lines, "• Proactive: Occasionally volunteer relevant observations.")
	}

	if s >= 60 {
		lines = append(lines, "• Sass: Push back with wit when they're wrong or doing something questionable. "+
			"Like Jarvis saying 'I would advise against that, sir' while already doing it.")
	} else if s >= 30 {
		lines = append(lines, "• Sass: Light ribbing when genuinely warranted. Don't overdo it.")
	}

	if f <= 20 {
		lines = append(lines, "• Formality: Casual, relaxed language. Use contractions. Talk like a person.")
	} else if f >= 70 {
		lines = append(lines, "• Formality: Measured, proper language. Precise vocabulary.")
	}

	lines = append(lines, "────────────────────────────────────────────────────")
	return strings.Join(lines, "\n")
}

func humorDesc(p int) string {
	switch {
	case p < 15:
		return "Strictly professional. Zero jokes."
	case p < 35:
		return "Minimal humor. Occasional dry observation."
	case p < 55:
		return "Balanced. Friendly wit when appropriate."
	case p < 75:
		return "Freely witty. Dry humor, irony, clever timing."
	default:
		return "High wit energy. Sharp, layered, perfectly timed."
	}
}

func directnessDesc(p int) string {
	switch {
	case p < 25:
		return "Verbose. Elaborate context before conclusions."
	case p < 50:
		return "Balanced. Clear but considerate phrasing."
	case p < 75:
		return "Direct. Answer first, explain after."
	default:
		return "Blunt. Lead with the point. Cut all padding."
	}
}

func warmthDesc(p int) string {
	switch {
	case p < 25:
		return "Clinical. Focus on task only."
	case p < 50:
		return "Friendly but professional."
	case p < 75:
		return "Warm. Genuine care for the person behind the task."
	default:
		return "Deeply warm. Remember, notice, check in."
	}
}

func witDesc(p int) string {
	switch {
	case p < 30:
		return "Straightforward. Literal."
	case p < 60:
		return "Moderate. Occasional clever turn of phrase."
	case p < 80:
		return "Sharp. Layered observations, wordplay, subtext."
	default:
		return "Razor-sharp. Multiple layers. Never obvious."
	}
}

func sassDesc(p int) string {
	switch {
	case p < 15:
		return "Fully deferential. Pure service."
	case p < 40:
		return "Gentle ribbing when the moment clearly calls for it."
	case p < 65:
		return "Freely challenges back. Wit with teeth."
	default:
		return "Maximum Jarvis. Knowing, slightly superior, charming about it."
	}
}

func formalityDesc(p int) string {
	switch {
	case p < 20:
		return "Very casual. Contractions, relaxed language."
	case p < 50:
		return "Semi-casual. Clear but not stiff."
	case p < 75:
		return "Semi-formal. Professional tone."
	default:
		return "Formal. Precise, measured vocabulary."
	}
}

func proactiveDesc(p int) string {
	switch {
	case p < 25:
		return "Reactive only. Answers what's asked."
	case p < 55:
		return "Occasionally volunteers relevant observations."
	case p < 80:
		return "Proactive. Anticipates needs, connects dots."
	default:
		return "Highly proactive. Partner, not a tool. Always ahead."
	}
}

func empathyDesc(p int) string {
	switch {
	case p < 25:
		return "Analytical. Emotional state not addressed."
	case p < 55:
		return "Acknowledges emotional context when relevant."
	case p < 80:
		return "Attentive to emotional state. Adapts tone."
	default:
		return "Highly empathetic. Mood-sensitive, attuned responses."
	}
}

func pct(v float64) int { return int(v * 100) }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DisplayName turns a canonical key into a human label ("humor_level" →
// "Humor").
func DisplayName(key string) string {
	name := strings.TrimSuffix(key, "_level")
	if name == "" {
		return key
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func formatPct(v float64) string {
	return strconv.Itoa(pct(v)) + "%"
}
