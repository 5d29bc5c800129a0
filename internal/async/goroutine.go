// Package async guards the agent's background work: panic-recovered
// goroutines for fire-and-forget jobs and a bounded single-worker queue
// for the post-turn learning pipeline.
package async

import "runtime/debug"

// PanicLogger is the slice of the logging interface background work needs.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go starts fn on its own goroutine. A panic inside fn is logged and
// swallowed instead of killing the process, so one bad background job
// cannot take the agent down.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover is the shared deferred handler behind Go and the Queue worker.
func Recover(logger PanicLogger, name string) {
	r := recover()
	if r == nil || logger == nil {
		return
	}
	if name == "" {
		name = "background"
	}
	logger.Error("recovered panic in %s task: %v\n%s", name, r, debug.Stack())
}
