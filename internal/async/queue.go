package async

import "sync"

// Queue runs submitted tasks one at a time on a single worker goroutine.
// The pending list is bounded: when it fills up the oldest waiting task is
// dropped, so a burst of submissions degrades by forgetting old work rather
// than by piling up goroutines. The single worker also means tasks sharing
// mutable state never run concurrently with each other.
type Queue struct {
	logger PanicLogger
	name   string
	limit  int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	running bool
	closed  bool
	done    chan struct{}
}

// NewQueue starts the worker. Capacity caps the number of waiting tasks.
func NewQueue(logger PanicLogger, name string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 16
	}
	q := &Queue{logger: logger, name: name, limit: capacity, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.work()
	return q
}

// Submit queues fn for the worker. When the queue is full the oldest
// waiting task is discarded; the return value reports whether that
// happened. Submitting after Close is a no-op.
func (q *Queue) Submit(fn func()) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if len(q.pending) >= q.limit {
		q.pending = q.pending[1:]
		dropped = true
	}
	q.pending = append(q.pending, fn)
	q.cond.Broadcast()
	return dropped
}

// Wait blocks until every queued task has finished.
func (q *Queue) Wait() {
	q.mu.Lock()
	for len(q.pending) > 0 || q.running {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// Close drains what is already queued, stops the worker, and returns once
// it has exited. Later Close calls return immediately.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) work() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending = q.pending[1:]
		q.running = true
		q.mu.Unlock()

		q.run(fn)

		q.mu.Lock()
		q.running = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

func (q *Queue) run(fn func()) {
	defer Recover(q.logger, q.name)
	fn()
}
