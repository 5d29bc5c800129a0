package personality

import (
	"regexp"
	"strconv"
	"strings"
)

// TraitCommand is one parsed personality adjustment. Either Value is set
// (absolute) or Delta (relative).
type TraitCommand struct {
	Trait    string
	Value    float64
	Delta    float64
	Absolute bool
}

var (
	setValueRes = []*regexp.Regexp{
		regexp.MustCompile(`set\s+(?:your\s+)?(\w+)\s+to\s+(\d+(?:\.\d+)?)%?`),
		regexp.MustCompile(`turn\s+(?:the\s+)?(\w+)\s+(?:up|down)\s+to\s+(\d+(?:\.\d+)?)%?`),
		regexp.MustCompile(`(\w+)\s+(?:at|calibrated at|to)\s+(\d+(?:\.\d+)?)%`),
		regexp.MustCompile(`(\w+)\s+(\d+)%`),
	}
	moreRe = regexp.MustCompile(`be\s+(?:a\s+(?:bit|little)\s+)?more\s+(\w+)`)
	lessRe = regexp.MustCompile(`be\s+(?:a\s+(?:bit|little)\s+)?less\s+(\w+)`)
	dialRe = regexp.MustCompile(`dial\s+(up|down)\s+(?:the\s+)?(\w+)`)
)

var commandHintWords = []string{"set", "dial", "turn", "be more", "be less", "adjust"}

var traitHintWords = []string{
	"humor", "humour", "wit", "direct", "warm", "sass", "formal",
	"proactive", "empathy", "personality", "calibrat",
}

var pctRe = regexp.MustCompile(`\d+%`)

// IsTraitCommand is a cheap pre-check before full parsing.
func IsTraitCommand(message string) bool {
	msg := strings.ToLower(message)
	hasTrait := false
	for _, w := range traitHintWords {
		if strings.Contains(msg, w) {
			hasTrait = true
			break
		}
	}
	if !hasTrait {
		return false
	}
	for _, w := range commandHintWords {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return pctRe.MatchString(msg)
}

// DetectTraitCommands parses all personality adjustments in a message.
// "set humor to 90%" yields an absolute command; "be more direct" and
// "dial down the sass" yield ±0.20 deltas.
func DetectTraitCommands(message string) []TraitCommand {
	msg := strings.ToLower(strings.TrimSpace(message))
	var commands []TraitCommand
	seen := map[string]bool{}

	add := func(cmd TraitCommand) {
		key := cmd.Trait
		if cmd.Absolute {
			key += "=abs"
		}
		if !seen[key] {
			seen[key] = true
			commands = append(commands, cmd)
		}
	}

	for _, re := range setValueRes {
		for _, m := range re.FindAllStringSubmatch(msg, -1) {
			trait := ResolveTrait(m[1])
			if trait == "" {
				continue
			}
			value, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				continue
			}
			if value > 1 {
				value /= 100
			}
			add(TraitCommand{Trait: trait, Value: clamp01(value), Absolute: true})
		}
	}

	for _, m := range moreRe.FindAllStringSubmatch(msg, -1) {
		if trait := ResolveTrait(m[1]); trait != "" {
			add(TraitCommand{Trait: trait, Delta: 0.20})
		}
	}
	for _, m := range lessRe.FindAllStringSubmatch(msg, -1) {
		if trait := ResolveTrait(m[1]); trait != "" {
			add(TraitCommand{Trait: trait, Delta: -0.20})
		}
	}
	for _, m := range dialRe.FindAllStringSubmatch(msg, -1) {
		trait := ResolveTrait(m[2])
		if trait == "" {
			continue
		}
		delta := 0.20
		if m[1] == "down" {
			delta = -0.20
		}
		add(TraitCommand{Trait: trait, Delta: delta})
	}

	return commands
}
