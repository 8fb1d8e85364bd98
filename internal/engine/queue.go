package engine

import (
	"encoding/json"
	"sync"

	"github.com/roach88/duet/internal/scenario"
	"github.com/roach88/duet/internal/transport"
)

// eventKind distinguishes the inputs a Client reacts to.
type eventKind int

const (
	eventLoad eventKind = iota + 1
	eventJoin
	eventStatus
	eventBroadcast
	eventPresence
	eventRosterFlush
	eventChoose
	eventEdit
	eventLeave
)

func (k eventKind) String() string {
	switch k {
	case eventLoad:
		return "load"
	case eventJoin:
		return "join"
	case eventStatus:
		return "status"
	case eventBroadcast:
		return "broadcast"
	case eventPresence:
		return "presence"
	case eventRosterFlush:
		return "roster"
	case eventChoose:
		return "choose"
	case eventEdit:
		return "edit"
	case eventLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// event is one queued input. Only the fields for its kind are set.
type event struct {
	kind eventKind

	doc *scenario.Document

	status transport.Status
	err    error

	name    string
	payload json.RawMessage

	index int
	text  string
	id    string
}

// eventQueue is a thread-safe FIFO queue for events.
//
// Transport callbacks and local actions enqueue from any goroutine; the
// owning Client's Run loop (or Drain) is the only consumer.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}

	e := q.events[0]
	q.events[0] = event{} // release payload and document references

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// It is closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops further enqueues and wakes waiters. Events already queued
// can still be dequeued.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
