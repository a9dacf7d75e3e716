package engine

import (
	"sync"

	"github.com/roach88/rulecore/internal/factstore"
)

// NotificationType distinguishes the work a notification asks for.
type NotificationType int

const (
	// NotifyFact re-propagates the current value of a fact handle.
	NotifyFact NotificationType = iota + 1
	// NotifyTimers runs the real-time jobs that have fallen due.
	NotifyTimers
	// NotifyWake only wakes a waiting FireUntilHalt, for example after Halt.
	NotifyWake
)

// Notification is a request routed to the goroutine driving a session.
type Notification struct {
	Type   NotificationType
	Handle *factstore.Handle
}

// notificationQueue is a thread-safe FIFO of notifications.
//
// Producers on other goroutines (the real-time timer dispatcher, Halt,
// reactive fact wrappers) enqueue; the session drains the queue between
// firings on its own goroutine. That keeps every mutation of session state
// on the single writer.
//
// The queue uses a channel for signaling so FireUntilHalt can wait with a
// context.
type notificationQueue struct {
	mu     sync.Mutex
	items  []Notification
	closed bool
	signal chan struct{} // buffered, size 1
}

func newNotificationQueue() *notificationQueue {
	return &notificationQueue{
		items:  make([]Notification, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a notification. Returns false once the queue is closed.
func (q *notificationQueue) Enqueue(n Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, n)

	// Non-blocking: the buffer of 1 coalesces signals
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns every queued notification in FIFO order.
func (q *notificationQueue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = make([]Notification, 0, cap(out))
	return out
}

// Wait returns a channel that signals when notifications may be available.
// It is closed when the queue is closed.
func (q *notificationQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *notificationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further notifications and wakes every waiter.
func (q *notificationQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.signal)
}
