package network

import (
	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/ir"
)

// Tuple is one path of bindings from the network root to a node: a chain of
// fact handles, one per condition position. Not, exists and accumulate
// positions hold no handle; accumulate positions carry the aggregate value.
//
// Tuples are compared by pointer. Two tuples binding the same handles are
// still distinct instances and are retracted independently.
type Tuple struct {
	parent *Tuple
	handle *factstore.Handle
	value  ir.IRValue
	index  int
	node   NodeID
	layout *layout
	seq    int64
	dead   bool
}

// Size returns the number of condition positions bound by the tuple.
func (t *Tuple) Size() int { return t.index + 1 }

// Node returns the node that produced the tuple.
func (t *Tuple) Node() NodeID { return t.node }

// Seq orders tuples by creation within one Memory.
func (t *Tuple) Seq() int64 { return t.seq }

// Live reports whether the tuple is still held by its node.
func (t *Tuple) Live() bool { return !t.dead }

func (t *Tuple) at(i int) *Tuple {
	for c := t; c != nil; c = c.parent {
		if c.index == i {
			return c
		}
	}
	return nil
}

// Get returns the handle bound at position i, or nil for positions without one.
func (t *Tuple) Get(i int) *factstore.Handle {
	if c := t.at(i); c != nil {
		return c.handle
	}
	return nil
}

// Handles returns the bound handles by position; unbound positions are nil.
func (t *Tuple) Handles() []*factstore.Handle {
	out := make([]*factstore.Handle, t.Size())
	for c := t; c != nil; c = c.parent {
		out[c.index] = c.handle
	}
	return out
}

// HandleIDs returns the handle IDs by position, 0 for unbound positions.
func (t *Tuple) HandleIDs() []int64 {
	out := make([]int64, t.Size())
	for c := t; c != nil; c = c.parent {
		if c.handle != nil {
			out[c.index] = c.handle.ID()
		}
	}
	return out
}

// Ref returns the handle bound to a pattern variable.
func (t *Tuple) Ref(name string) (ir.FactRef, bool) {
	h := t.Handle(name)
	if h == nil {
		return nil, false
	}
	return h, true
}

// Handle is Ref with the concrete handle type.
func (t *Tuple) Handle(name string) *factstore.Handle {
	if t.layout == nil {
		return nil
	}
	i, ok := t.layout.facts[name]
	if !ok || i > t.index {
		return nil
	}
	return t.Get(i)
}

// Value returns the result bound to an accumulate variable.
func (t *Tuple) Value(name string) (ir.IRValue, bool) {
	if t.layout == nil {
		return nil, false
	}
	i, ok := t.layout.values[name]
	if !ok || i > t.index {
		return nil, false
	}
	c := t.at(i)
	if c == nil || c.value == nil {
		return nil, false
	}
	return c.value, true
}

// Vars returns the variable names by position, "" for unnamed positions.
func (t *Tuple) Vars() []string {
	if t.layout == nil {
		return nil
	}
	return append([]string(nil), t.layout.names[:t.Size()]...)
}

// Contains reports whether a handle is bound anywhere in the tuple.
func (t *Tuple) Contains(h *factstore.Handle) bool {
	for c := t; c != nil; c = c.parent {
		if c.handle == h {
			return true
		}
	}
	return false
}

var _ ir.Bindings = (*Tuple)(nil)
