// Package learning closes the feedback loop: real-time signal detection in
// user messages, mistake tracking with prompt warnings, insight derivation
// from the knowledge graph, and session journals.
package learning

import (
	"regexp"
	"strings"
)

// SignalType classifies the feedback carried by a user message.
type SignalType string

const (
	SignalNone         SignalType = "none"
	SignalCorrection   SignalType = "correction"
	SignalConfirmation SignalType = "confirmation"
	SignalFrustration  SignalType = "frustration"
)

// Signal is a detected feedback signal with detection confidence.
type Signal struct {
	Type       SignalType `json:"type"`
	Confidence float64    `json:"confidence"`
	Snippet    string     `json:"snippet,omitempty"`
}

var strongCorrectionRe = regexp.MustCompile(`(?i)\b(` +
	`wrong|incorrect|not right|not true|that'?s (not|wrong|incorrect)|` +
	`you'?re wrong|you (are|were) (wrong|incorrect|mistaken)|` +
	`that is (wrong|incorrect|not right|false)|` +
	`actually[,\s]|actually it'?s|actually that'?s|` +
	`no[,!]\s|nope[,!]?\s|that'?s not|it'?s not|it is not|` +
	`correction:|wrong:|mistake:|fix:|no[,]? the (correct|right|actual)` +
	`)`)

var moderateCorrectionRe = regexp.MustCompile(`(?i)\b(` +
	`should be|the (correct|right|actual|proper) (answer|version|value|way) is|` +
	`you (meant|said) .{0,30} but it'?s|` +
	`not .{0,20} but .{0,20}|` +
	`i think you.{0,20}wrong|` +
	`that'?s (a )?mistake|` +
	`let me (correct|clarify|fix)` +
	`)`)

var strongConfirmationRe = regexp.MustCompile(`(?i)\b(` +
	`yes[,!]?\s|yeah[,!]?\s|yep[,!]?\s|yup[,!]?\s|` +
	`correct[,!]?(\s|$)|right[,!]?(\s|$)|exactly[,!]?(\s|$)|` +
	`that'?s (right|correct|exactly|it|perfect)|` +
	`you'?re right|you (are|were) right|` +
	`perfect|exactly right|spot on|precisely|` +
	`good (job|answer|response|point)|` +
	`(that|this) is (correct|right|accurate)` +
	`)`)

var frustrationRe = regexp.MustCompile(`(?i)\b(` +
	`this is (useless|terrible|bad|awful|wrong)|` +
	`you keep (getting|making|saying)|` +
	`how (many|much) times|` +
	`(not )?again[!?]|` +
	`come on[!?]|seriously[!?]` +
	`)`)

// DetectSignal classifies a user message. Regex only, no model call, so it
// runs on every turn before the LLM is consulted. Corrections outrank
// confirmations: "no, that's not right" must never read as agreement.
func DetectSignal(userMessage string) Signal {
	msg := strings.TrimSpace(userMessage)
	if len(msg) < 4 {
		return Signal{Type: SignalNone}
	}

	if m := strongCorrectionRe.FindString(msg); m != "" {
		return Signal{Type: SignalCorrection, Confidence: 0.85, Snippet: m}
	}
	if m := moderateCorrectionRe.FindString(msg); m != "" {
		return Signal{Type: SignalCorrection, Confidence: 0.65, Snippet: m}
	}
	if m := strongConfirmationRe.FindString(msg); m != "" {
		return Signal{Type: SignalConfirmation, Confidence: 0.75, Snippet: m}
	}
	if m := frustrationRe.FindString(msg); m != "" {
		return Signal{Type: SignalFrustration, Confidence: 0.6, Snippet: m}
	}
	return Signal{Type: SignalNone}
}

var correctionTargetRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)actually[,\s]+(.{10,100}?)(?:[.!?]|$)`),
	regexp.MustCompile(`(?i)it'?s\s+(.{5,80}?)(?:[.!?]|$)`),
	regexp.MustCompile(`(?i)the (?:correct|right|actual) (?:answer|value|version) is\s+(.{5,80}?)(?:[.!?]|$)`),
	regexp.MustCompile(`(?i)should be\s+(.{5,80}?)(?:[.!?]|$)`),
	regexp.MustCompile(`(?i)not .{0,30}? but\s+(.{5,80}?)(?:[.!?]|$)`),
}

// ExtractCorrectionTarget pulls the corrected value out of a correction
// message when the phrasing allows it. Returns "" when unclear.
func ExtractCorrectionTarget(userMessage string) string {
	for _, re := range correctionTargetRes {
		if m := re.FindStringSubmatch(userMessage); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
