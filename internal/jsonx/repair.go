package jsonx

import (
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrUnrepairable reports that a model response could not be coerced to JSON.
var ErrUnrepairable = errors.New("jsonx: response is not repairable JSON")

const maxTailScan = 200

// StripFences removes markdown code fences around a model response.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

// Repair coerces a model response into valid JSON text.
//
// Order of attempts: parse as-is, library repair, then trim the tail inward
// (up to 200 characters) closing any open objects and arrays. Truncated
// streaming output usually recovers on the third path.
func Repair(raw string) (string, error) {
	s := StripFences(raw)
	if s == "" {
		return "", ErrUnrepairable
	}
	if Valid([]byte(s)) {
		return s, nil
	}
	if fixed, err := jsonrepair.JSONRepair(s); err == nil && Valid([]byte(fixed)) {
		return fixed, nil
	}
	for cut := 0; cut <= maxTailScan && cut < len(s); cut++ {
		prefix := strings.TrimRight(s[:len(s)-cut], ", \t\n")
		if prefix == "" {
			break
		}
		candidate := prefix + closers(prefix)
		if Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	return "", ErrUnrepairable
}

// closers returns the closing brackets needed to balance s, ignoring
// brackets inside string literals.
func closers(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, c)
			}
		case '}', ']':
			if !inString && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	out := make([]byte, 0, len(stack)+1)
	if inString {
		out = append(out, '"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out = append(out, '}')
		} else {
			out = append(out, ']')
		}
	}
	return string(out)
}
