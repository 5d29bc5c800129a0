package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriterLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "test", LevelInfo)

	logger.Debug("hidden %d", 1)
	logger.Info("visible %d", 2)
	logger.Error("also visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %q", out)
	}
	if !strings.Contains(out, "visible 2") || !strings.Contains(out, "also visible") {
		t.Fatalf("missing expected lines: %q", out)
	}
	if !strings.Contains(out, "[test]") {
		t.Fatalf("missing component tag: %q", out)
	}
}

func TestMultiFansOutAndSkipsNil(t *testing.T) {
	var a, b bytes.Buffer
	logger := Multi(NewWriter(&a, "a", LevelDebug), nil, NewWriter(&b, "b", LevelDebug))

	logger.Info("hello")

	if !strings.Contains(a.String(), "hello") || !strings.Contains(b.String(), "hello") {
		t.Fatalf("expected both sinks to receive the line")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("OrNop(nil) must not be nil")
	}
	var typed *writerLogger
	OrNop(typed).Info("must not panic")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"unknown": LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
