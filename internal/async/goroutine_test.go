package async

import (
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, format)
	_ = args
}

func (l *recordingLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func TestGoRecoversPanic(t *testing.T) {
	logger := &recordingLogger{}
	done := make(chan struct{})

	Go(logger, "boom", func() {
		defer close(done)
		panic("kaput")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("goroutine did not finish")
	}

	// Recover runs after the deferred close; give it a beat.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		lines := logger.snapshot()
		if len(lines) == 1 && strings.Contains(lines[0], "recovered panic in %s task") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("panic was not logged: %v", logger.snapshot())
}

func TestGoNilLoggerDoesNotCrash(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "", func() {
		defer close(done)
		panic("ignored")
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("goroutine did not finish")
	}
}
