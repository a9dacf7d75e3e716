package network

import (
	"fmt"
	"slices"

	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/ir"
)

// BatchMatch is one complete match found by MatchAll.
type BatchMatch struct {
	Rule      string
	HandleIDs []int64
	Values    []ir.IRValue // accumulate results by position, nil elsewhere
}

// MatchAll evaluates every rule against the given facts from scratch with
// naive nested loops, ignoring the node graph. It is the reference the
// incremental memories are checked against and is far too slow for
// anything else. Results are ordered by declaration order, then handle IDs.
// Collected lists follow handle ID order.
func (net *Network) MatchAll(handles []*factstore.Handle) []BatchMatch {
	hs := sortHandles(slices.Clone(handles))
	var out []BatchMatch
	for _, term := range net.terminals {
		rule := term.Rule
		var rec func(i int, t *Tuple, lay *layout)
		rec = func(i int, t *Tuple, lay *layout) {
			if i == len(rule.Conditions) {
				out = append(out, batchMatch(rule.Name, t))
				return
			}
			size := 0
			if t != nil {
				size = t.Size()
			}
			cond := rule.Conditions[i]
			switch cond.Kind {
			case ir.CondPattern:
				next := lay.extend(cond.Pattern.Bind, false)
				for _, h := range hs {
					if net.batchMatches(cond.Pattern, t, h) {
						rec(i+1, &Tuple{parent: t, handle: h, index: size, layout: next}, next)
					}
				}
			case ir.CondNot, ir.CondExists:
				found := false
				for _, h := range hs {
					if net.batchMatches(cond.Pattern, t, h) {
						found = true
						break
					}
				}
				if found == (cond.Kind == ir.CondExists) {
					next := lay.extend("", false)
					rec(i+1, &Tuple{parent: t, index: size, layout: next}, next)
				}
			case ir.CondAccumulate:
				a := cond.Accumulate
				st := newAccumulation(a.Func)
				for _, h := range hs {
					if net.batchMatches(&a.Source, t, h) {
						_ = st.add(h, a.Field)
					}
				}
				val := st.result()
				for _, r := range a.Result {
					if ok, err := ir.Eval(r.Op, val, r.Value); err != nil || !ok {
						return
					}
				}
				next := lay.extend(a.Bind, true)
				rec(i+1, &Tuple{parent: t, index: size, value: val, layout: next}, next)
			}
		}
		rec(0, nil, nil)
	}
	return out
}

func batchMatch(rule string, t *Tuple) BatchMatch {
	m := BatchMatch{Rule: rule, HandleIDs: t.HandleIDs(), Values: make([]ir.IRValue, t.Size())}
	for c := t; c != nil; c = c.parent {
		m.Values[c.index] = c.value
	}
	return m
}

func (net *Network) batchMatches(p *ir.Pattern, t *Tuple, h *factstore.Handle) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if h.EntryPoint() != p.Entry() || !net.hierarchy.IsA(h.Fact().Type, p.Type) {
		return false
	}
	f := h.Fact()
	for _, c := range p.Alpha {
		v, _ := f.Get(c.Field)
		if res, err := ir.Eval(c.Op, v, c.Value); err != nil || !res {
			return false
		}
	}
	if p.Test != nil {
		if res, err := p.Test(f); err != nil || !res {
			return false
		}
	}
	for _, j := range p.Joins {
		v, _ := f.Get(j.Field)
		if res, err := ir.Eval(j.Op, v, operand(t, j)); err != nil || !res {
			return false
		}
	}
	if p.JoinTest != nil {
		if res, err := p.JoinTest(t, f); err != nil || !res {
			return false
		}
	}
	return true
}

// String renders a match for comparisons in tests and traces.
func (m BatchMatch) String() string {
	s := fmt.Sprintf("%s%v", m.Rule, m.HandleIDs)
	for i, v := range m.Values {
		if v == nil {
			continue
		}
		b, _ := ir.MarshalCanonical(v)
		s += fmt.Sprintf(" $%d=%s", i, b)
	}
	return s
}

// Describe renders a live tuple the way BatchMatch.String renders a batch
// match of the same rule.
func Describe(rule string, t *Tuple) string {
	return batchMatch(rule, t).String()
}
