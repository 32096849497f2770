package loop

import (
	"sync"
	"time"
)

// eventQueue is a thread-safe FIFO queue of events.
//
// The queue is unbounded so handlers can post follow-on events without
// blocking the loop goroutine (re-entrant posting).
//
// Thread-safety covers external posting (application threads, driver worker
// goroutines) while the loop's Run iteration dequeues. The queue is the only
// structure in this package designed for concurrent access.
//
// A buffered signal channel enables bounded-timeout waiting in the Run loop
// without busy-polling.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine, including the loop goroutine.
// Never blocks the caller. Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if the queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the payload pointers don't outlive the event.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		// Last element - reset to empty slice with original capacity
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// DequeueTimeout dequeues the front event, blocking up to d.
// Returns (Event{}, false) on timeout or on a closed, drained queue; the
// caller treats false as the heartbeat that still drives a timer scan.
func (q *eventQueue) DequeueTimeout(d time.Duration) (Event, bool) {
	deadline := time.NewTimer(d)
	defer deadline.Stop()

	for {
		if e, ok := q.TryDequeue(); ok {
			return e, true
		}

		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Event{}, false
		}

		select {
		case <-deadline.C:
			return Event{}, false
		case <-q.signal:
			// Signal received (or channel closed) - loop back to TryDequeue.
			// One signal may cover several enqueues.
		}
	}
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return // Already closed
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
}
