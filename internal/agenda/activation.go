// Package agenda orders ready rule matches and hands them out for firing.
//
// Activations live in agenda groups. The group on top of the focus stack is
// the only one fired from; when it empties it is popped and the next group
// below takes over, down to MAIN which is never popped. Within a group the
// order is salience (descending), recency (ascending), rule declaration
// order (ascending) and finally insertion sequence.
package agenda

import (
	"fmt"

	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/network"
)

// State is the lifecycle position of an activation.
type State int

const (
	// StateIdle activations are off the agenda and may be queued.
	StateIdle State = iota
	// StateQueued activations wait on the agenda.
	StateQueued
	// StateFired activations were popped for firing. They may be queued again
	// when their match changes.
	StateFired
	// StateCancelled activations belong to a match that no longer exists, or
	// were cleared. They are never queued again.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StateFired:
		return "fired"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Activation is a fireable (rule, tuple) pair.
type Activation struct {
	Rule      *ir.RuleSpec
	Tuple     *network.Tuple
	Salience  int
	Recency   int64
	DeclOrder int

	seq   int64
	state State
	index int // position in the group heap, -1 when not queued
	group *Group
	fires int
}

// New creates an activation for a complete match.
func New(term *network.Terminal, t *network.Tuple, recency int64) *Activation {
	return &Activation{
		Rule:      term.Rule,
		Tuple:     t,
		Salience:  term.Rule.Salience,
		Recency:   recency,
		DeclOrder: term.DeclOrder,
		index:     -1,
	}
}

// Seq is the agenda-wide insertion number of the last queueing.
func (a *Activation) Seq() int64 { return a.seq }

func (a *Activation) State() State { return a.state }

// Fires counts how often the activation was popped for firing.
func (a *Activation) Fires() int { return a.fires }

// Key identifies the activation by rule and bound handle IDs.
func (a *Activation) Key() string {
	return ir.MatchKey(a.Rule.Name, a.Tuple.HandleIDs())
}

func (a *Activation) String() string {
	return network.Describe(a.Rule.Name, a.Tuple)
}

// before reports whether a fires ahead of b within one group.
func before(a, b *Activation) bool {
	if a.Salience != b.Salience {
		return a.Salience > b.Salience
	}
	if a.Recency != b.Recency {
		return a.Recency < b.Recency
	}
	if a.DeclOrder != b.DeclOrder {
		return a.DeclOrder < b.DeclOrder
	}
	return a.seq < b.seq
}

// ConsistencyError is the panic value for a violated agenda invariant.
type ConsistencyError struct {
	Message string
}

func (e *ConsistencyError) Error() string {
	return "agenda consistency: " + e.Message
}
