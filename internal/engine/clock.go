package engine

import "sync/atomic"

// PropagationClock numbers the changes made to a session.
//
// Every insert, update and delete takes the next number. Handles record the
// number of their last change and activations record the number of the
// change that created or refreshed them; the agenda orders by it.
//
// Thread-safety: safe for concurrent use, although a session only calls it
// from its driving goroutine.
type PropagationClock struct {
	seq atomic.Int64
}

// NewPropagationClock creates a clock starting at 0.
func NewPropagationClock() *PropagationClock {
	return &PropagationClock{}
}

// NewPropagationClockAt creates a clock resuming at start. Used by Restore.
func NewPropagationClockAt(start int64) *PropagationClock {
	c := &PropagationClock{}
	c.seq.Store(start)
	return c
}

// Next returns the next propagation number.
func (c *PropagationClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last number handed out.
func (c *PropagationClock) Current() int64 {
	return c.seq.Load()
}
