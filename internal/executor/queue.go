package executor

import "sync"

// taskQueue is a thread-safe unbounded FIFO of tasks.
//
// Producers are transport readers, timers and application goroutines; the
// only consumer is the Run loop. The signal channel lets Run wait for work
// and for cancellation in the same select.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []Task
	closed bool
	signal chan struct{} // buffered, size 1
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]Task, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// push appends t. It returns false once the queue is closed.
func (q *taskQueue) push(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)

	// Non-blocking: one pending signal covers any number of pushes.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// pop removes the front task without blocking.
func (q *taskQueue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	// Release the closure so its captures can be collected.
	q.tasks[0] = nil
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return t, true
}

// wait returns a channel that fires when tasks may be available. It is
// closed, and so always ready, once the queue is closed.
func (q *taskQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *taskQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// close refuses further pushes and wakes the consumer. Tasks already
// queued are still handed out by pop.
func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
