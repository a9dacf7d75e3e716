package agenda

import (
	"cmp"
	"slices"

	"github.com/roach88/rulecore/internal/ir"
)

// Agenda is the set of queued activations of one session.
// It is not safe for concurrent use.
type Agenda struct {
	groups map[string]*Group
	focus  []*Group // bottom is MAIN
	seq    int64
	size   int
}

// NewAgenda creates an agenda focused on MAIN.
func NewAgenda() *Agenda {
	ag := &Agenda{groups: make(map[string]*Group)}
	ag.focus = []*Group{ag.group(ir.DefaultAgendaGroup)}
	return ag
}

func (ag *Agenda) group(name string) *Group {
	if name == "" {
		name = ir.DefaultAgendaGroup
	}
	g, ok := ag.groups[name]
	if !ok {
		g = &Group{name: name}
		ag.groups[name] = g
	}
	return g
}

// Add queues an activation. Auto-focus rules move their group to the top of
// the focus stack. Adding an activation that is already queued or was
// cancelled violates agenda consistency and panics.
func (ag *Agenda) Add(a *Activation) {
	switch a.state {
	case StateQueued:
		panic(&ConsistencyError{Message: "activation " + a.String() + " queued twice"})
	case StateCancelled:
		panic(&ConsistencyError{Message: "cancelled activation " + a.String() + " queued again"})
	}
	ag.seq++
	a.seq = ag.seq
	a.state = StateQueued
	g := ag.group(a.Rule.Group())
	g.push(a)
	ag.size++
	if a.Rule.AutoFocus {
		ag.SetFocus(g.name)
	}
}

// Touch re-sorts a queued activation after its recency or salience changed.
func (ag *Agenda) Touch(a *Activation) {
	if a.state == StateQueued && a.group != nil {
		a.group.fix(a)
	}
}

// Remove takes a queued activation off the agenda without firing it.
// Removing an activation that is not queued is a no-op returning false.
func (ag *Agenda) Remove(a *Activation) bool {
	if a.state != StateQueued {
		return false
	}
	a.group.remove(a)
	a.state = StateIdle
	ag.size--
	return true
}

// Cancel removes the activation, if queued, and marks it dead for good.
func (ag *Agenda) Cancel(a *Activation) bool {
	queued := ag.Remove(a)
	a.state = StateCancelled
	return queued
}

// Next pops the activation to fire next, or returns nil when the group
// stack has nothing left. Empty groups are popped off the focus stack.
func (ag *Agenda) Next() *Activation {
	for {
		top := ag.focus[len(ag.focus)-1]
		if a := top.pop(); a != nil {
			ag.size--
			a.state = StateFired
			a.fires++
			return a
		}
		if len(ag.focus) == 1 {
			return nil
		}
		ag.focus = ag.focus[:len(ag.focus)-1]
	}
}

// Peek returns the activation Next would return without removing it.
func (ag *Agenda) Peek() *Activation {
	for i := len(ag.focus) - 1; i >= 0; i-- {
		if g := ag.focus[i]; g.Len() > 0 {
			return g.h[0]
		}
	}
	return nil
}

// SetFocus pushes a group on top of the focus stack. Focusing the group
// already on top is a no-op.
func (ag *Agenda) SetFocus(name string) {
	g := ag.group(name)
	if ag.focus[len(ag.focus)-1] == g {
		return
	}
	ag.focus = append(ag.focus, g)
}

// Focus returns the name of the group on top of the focus stack.
func (ag *Agenda) Focus() string {
	return ag.focus[len(ag.focus)-1].name
}

// FocusStack returns group names from the bottom of the stack to the top.
func (ag *Agenda) FocusStack() []string {
	out := make([]string, len(ag.focus))
	for i, g := range ag.focus {
		out[i] = g.name
	}
	return out
}

// ClearGroup cancels every activation queued in a group and returns them in
// firing order.
func (ag *Agenda) ClearGroup(name string) []*Activation {
	g, ok := ag.groups[name]
	if !ok {
		return nil
	}
	var out []*Activation
	for a := g.pop(); a != nil; a = g.pop() {
		ag.size--
		a.state = StateCancelled
		out = append(out, a)
	}
	return out
}

// ClearActivationGroup removes every queued activation of rules sharing the
// given activation group, except keep. Removed activations are returned in
// sequence order; they stay eligible for re-queueing.
func (ag *Agenda) ClearActivationGroup(name string, keep *Activation) []*Activation {
	if name == "" {
		return nil
	}
	var out []*Activation
	for _, g := range ag.groups {
		for _, a := range slices.Clone(g.h) {
			if a != keep && a.Rule.ActivationGroup == name {
				out = append(out, a)
			}
		}
	}
	slices.SortFunc(out, func(a, b *Activation) int { return cmp.Compare(a.seq, b.seq) })
	for _, a := range out {
		ag.Remove(a)
	}
	return out
}

// Len returns the number of queued activations across all groups.
func (ag *Agenda) Len() int { return ag.size }

// GroupLen returns the number of queued activations in one group.
func (ag *Agenda) GroupLen(name string) int {
	if g, ok := ag.groups[name]; ok {
		return g.Len()
	}
	return 0
}

// Activations returns every queued activation. Groups on the focus stack
// come first, top down, then the remaining groups by name; each group is
// listed in firing order.
func (ag *Agenda) Activations() []*Activation {
	var names []string
	seen := map[string]bool{}
	for i := len(ag.focus) - 1; i >= 0; i-- {
		n := ag.focus[i].name
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	var rest []string
	for n := range ag.groups {
		if !seen[n] {
			rest = append(rest, n)
		}
	}
	slices.Sort(rest)
	names = append(names, rest...)

	var out []*Activation
	for _, n := range names {
		g := ag.groups[n]
		sorted := slices.Clone(g.h)
		slices.SortFunc(sorted, func(a, b *Activation) int {
			if before(a, b) {
				return -1
			}
			if before(b, a) {
				return 1
			}
			return 0
		})
		out = append(out, sorted...)
	}
	return out
}

// RestoreFocus replaces the focus stack, bottom first. MAIN is kept at the
// bottom whatever the input says.
func (ag *Agenda) RestoreFocus(stack []string) {
	ag.focus = []*Group{ag.group(ir.DefaultAgendaGroup)}
	for _, n := range stack {
		if n == ir.DefaultAgendaGroup && len(ag.focus) == 1 {
			continue
		}
		ag.focus = append(ag.focus, ag.group(n))
	}
}
