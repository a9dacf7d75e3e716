package engine

import (
	"strings"
	"time"

	"github.com/roach88/rulecore/internal/agenda"
	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/network"
)

// RuleContext is handed to a firing consequence. Every mutation propagates
// through the network before the call returns, so later reads in the same
// consequence see its effect.
type RuleContext struct {
	s *Session
	a *agenda.Activation
}

var _ ir.Context = (*RuleContext)(nil)

// Rule returns the firing rule.
func (c *RuleContext) Rule() *ir.RuleSpec { return c.a.Rule }

func (c *RuleContext) RuleName() string { return c.a.Rule.Name }

// Activation returns the firing activation.
func (c *RuleContext) Activation() *agenda.Activation { return c.a }

// Tuple returns the match being fired.
func (c *RuleContext) Tuple() *network.Tuple { return c.a.Tuple }

// Session returns the owning session.
func (c *RuleContext) Session() *Session { return c.s }

func (c *RuleContext) Ref(name string) (ir.FactRef, bool) { return c.a.Tuple.Ref(name) }

func (c *RuleContext) Value(name string) (ir.IRValue, bool) { return c.a.Tuple.Value(name) }

// Handle returns the handle bound to a pattern variable, or nil.
func (c *RuleContext) Handle(name string) *factstore.Handle { return c.a.Tuple.Handle(name) }

// Fact returns the current value of the fact bound to a pattern variable.
func (c *RuleContext) Fact(name string) (ir.Fact, bool) {
	h := c.a.Tuple.Handle(name)
	if h == nil {
		return ir.Fact{}, false
	}
	return h.Fact(), true
}

// Get resolves "$var.field" against a bound fact, or "$var" against an
// accumulate result.
func (c *RuleContext) Get(path string) (ir.IRValue, bool) {
	name, field, hasField := strings.Cut(path, ".")
	if !hasField {
		if v, ok := c.a.Tuple.Value(name); ok {
			return v, true
		}
		if h := c.a.Tuple.Handle(name); h != nil {
			return h.Fact().Fields, true
		}
		return nil, false
	}
	f, ok := c.Fact(name)
	if !ok {
		return nil, false
	}
	return f.Get(field)
}

func (c *RuleContext) CurrentTime() int64 { return c.s.CurrentTime() }

func (c *RuleContext) Insert(f ir.Fact) (ir.FactRef, error) {
	h, err := c.s.Insert(f)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// InsertInto inserts a stated fact into a named entry point.
func (c *RuleContext) InsertInto(entryPoint string, f ir.Fact) (ir.FactRef, error) {
	h, err := c.s.InsertInto(entryPoint, f)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// InsertLogical inserts a fact justified by the firing match. The fact is
// deleted automatically once no match justifies it any more. A value-equal
// logical fact gains this match as another justification; a value-equal
// stated fact is returned as is and nothing is recorded.
func (c *RuleContext) InsertLogical(f ir.Fact) (ir.FactRef, error) {
	h, err := c.s.insertLogical(c.a, f)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (c *RuleContext) Update(ref ir.FactRef, f ir.Fact) error {
	h, err := c.s.resolve(ref)
	if err != nil {
		return usageError("update", err)
	}
	return c.s.Update(h, f)
}

// Modify applies fn to a copy of the referenced fact and updates it.
func (c *RuleContext) Modify(ref ir.FactRef, fn func(ir.Fact) ir.Fact) error {
	h, err := c.s.resolve(ref)
	if err != nil {
		return usageError("modify", err)
	}
	return c.s.Modify(h, fn)
}

func (c *RuleContext) Delete(ref ir.FactRef) error {
	h, err := c.s.resolve(ref)
	if err != nil {
		return usageError("delete", err)
	}
	return c.s.Delete(h)
}

func (c *RuleContext) Halt() { c.s.Halt() }

func (c *RuleContext) SetFocus(group string) { c.s.SetFocus(group) }

// AdvanceTime advances a pseudo clock from inside a consequence. Due jobs
// run before it returns.
func (c *RuleContext) AdvanceTime(d time.Duration) (int64, error) {
	return c.s.AdvanceTime(d)
}

func (s *Session) insertLogical(a *agenda.Activation, f ir.Fact) (*factstore.Handle, error) {
	if err := s.checkLive("insert logical"); err != nil {
		return nil, err
	}
	if a.State() == agenda.StateCancelled {
		return nil, usageError("insert logical", ErrCancelledActivation)
	}
	if f.Type == "" {
		return nil, usageError("insert logical", ErrUntypedFact)
	}
	key, err := ir.FactKey(f)
	if err != nil {
		return nil, usageError("insert logical", err)
	}
	ep := ir.DefaultEntryPoint
	if h, ok := s.facts.FindEqual(ep, key); ok && !s.tms.IsLogical(h) {
		return h, nil
	}
	if h, ok := s.tms.Lookup(ep, key); ok {
		s.tms.Justify(a, h)
		return h, nil
	}

	// The insert may cancel the justifying match, so the justification has
	// to exist before propagation.
	h, err := s.insertDeferred(ep, f)
	if err != nil {
		return nil, err
	}
	s.tms.Justify(a, h)
	s.propagateInserted(h)
	return h, nil
}
