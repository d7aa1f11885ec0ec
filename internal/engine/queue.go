package engine

import "sync"

// eventQueue is a thread-safe FIFO queue of event names.
//
// Collaborator callbacks (hardware completion handlers, timers) run on
// their own goroutines; they push event names here and the scheduler's
// host loop drains them and applies Notify one at a time. The queue is
// unbounded so a burst of completions never blocks a hardware callback.
//
// A buffered signal channel (size 1, coalescing) lets the host loop wait
// for events and context cancellation in one select.
type eventQueue struct {
	mu     sync.Mutex
	events []string
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]string, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event name to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(event string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, event)

	// Non-blocking signal; the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns ("", false) if the queue is empty.
func (q *eventQueue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return "", false
	}

	e := q.events[0]
	if len(q.events) == 1 {
		// Last element: reset to empty slice, keeping capacity
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel closes when the queue is closed, waking all waiters.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether the queue has been closed.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
