package async

import (
	"strings"
	"sync"
	"testing"
)

func TestQueueRunsTasksInOrder(t *testing.T) {
	q := NewQueue(nil, "test", 8)
	var mu sync.Mutex
	var ran []int

	for i := 1; i <= 5; i++ {
		i := i
		q.Submit(func() {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
		})
	}
	q.Wait()
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 5 {
		t.Fatalf("expected 5 tasks, ran %v", ran)
	}
	for i, v := range ran {
		if v != i+1 {
			t.Fatalf("tasks ran out of order: %v", ran)
		}
	}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	q := NewQueue(nil, "test", 2)
	started := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	var ran []int

	// Park the worker so later submissions pile up in the pending list.
	q.Submit(func() {
		close(started)
		<-release
	})
	<-started

	var droppedAny bool
	for i := 1; i <= 3; i++ {
		i := i
		if q.Submit(func() {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
		}) {
			droppedAny = true
		}
	}
	close(release)
	q.Wait()
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	if !droppedAny {
		t.Fatalf("expected an overflow drop")
	}
	if len(ran) != 2 || ran[0] != 2 || ran[1] != 3 {
		t.Fatalf("expected the oldest pending task dropped, ran %v", ran)
	}
}

func TestQueueRecoversTaskPanic(t *testing.T) {
	logger := &recordingLogger{}
	q := NewQueue(logger, "learn", 4)

	q.Submit(func() { panic("kaput") })
	q.Submit(func() {})
	q.Wait()
	q.Close()

	lines := logger.snapshot()
	if len(lines) != 1 || !strings.Contains(lines[0], "recovered panic in %s task") {
		t.Fatalf("panic was not logged: %v", lines)
	}
}

func TestQueueSubmitAfterCloseIsNoop(t *testing.T) {
	q := NewQueue(nil, "test", 4)
	q.Close()
	if q.Submit(func() { t.Error("task ran after close") }) {
		t.Fatalf("closed queue reported a drop")
	}
	q.Wait()
}
