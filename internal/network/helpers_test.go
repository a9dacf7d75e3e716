package network

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/ir"
)

func noop(ir.Context) error { return nil }

type event struct {
	kind string
	rule string
	desc string
}

// recorder is a Sink that logs every terminal change.
type recorder struct {
	events []event
}

func (r *recorder) MatchCreated(term *Terminal, t *Tuple) {
	r.events = append(r.events, event{"created", term.Rule.Name, Describe(term.Rule.Name, t)})
}

func (r *recorder) MatchUpdated(term *Terminal, t *Tuple) {
	r.events = append(r.events, event{"updated", term.Rule.Name, Describe(term.Rule.Name, t)})
}

func (r *recorder) MatchCancelled(term *Terminal, t *Tuple) {
	r.events = append(r.events, event{"cancelled", term.Rule.Name, Describe(term.Rule.Name, t)})
}

func (r *recorder) take() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.kind + " " + e.desc
	}
	r.events = nil
	return out
}

// fixture drives one Memory against a store the way a session does.
type fixture struct {
	t     *testing.T
	net   *Network
	mem   *Memory
	store *factstore.Store
	rec   *recorder
	errs  []*EvaluationError
}

func newFixture(t *testing.T, types []ir.TypeDecl, rules ...ir.RuleSpec) *fixture {
	t.Helper()
	net, err := BuildRuleBase(&ir.RuleBase{Types: types, Rules: rules})
	require.NoError(t, err)
	return &fixture{t: t, net: net, mem: NewMemory(net), store: factstore.New(net.EntryPoints()...), rec: &recorder{}}
}

func (f *fixture) insert(fact ir.Fact) *factstore.Handle {
	f.t.Helper()
	h, _, err := f.store.Insert(fact, factstore.InsertOptions{Mask: f.net.Mask(fact.Type)})
	require.NoError(f.t, err)
	f.errs = append(f.errs, f.mem.Assert(h, f.rec)...)
	return h
}

func (f *fixture) update(h *factstore.Handle, fact ir.Fact) {
	f.t.Helper()
	require.NoError(f.t, f.store.Update(h, fact))
	f.errs = append(f.errs, f.mem.Update(h, f.rec)...)
}

func (f *fixture) delete(h *factstore.Handle) {
	f.t.Helper()
	require.True(f.t, f.store.Delete(h))
	f.errs = append(f.errs, f.mem.Retract(h, f.rec)...)
}

// live renders the current matches of every rule in the MatchAll format.
func (f *fixture) live() []string {
	var out []string
	for _, term := range f.net.Terminals() {
		for _, t := range f.mem.Matches(term.Rule.Name) {
			out = append(out, Describe(term.Rule.Name, t))
		}
	}
	return out
}

func (f *fixture) batch() []string {
	var out []string
	for _, m := range f.net.MatchAll(f.store.Handles()) {
		out = append(out, m.String())
	}
	return out
}

func pattern(typ, bind string, alpha ...ir.FieldConstraint) ir.Condition {
	return ir.Condition{Kind: ir.CondPattern, Pattern: &ir.Pattern{Type: typ, Bind: bind, Alpha: alpha}}
}

func joined(typ, bind string, joins ...ir.JoinConstraint) ir.Condition {
	return ir.Condition{Kind: ir.CondPattern, Pattern: &ir.Pattern{Type: typ, Bind: bind, Joins: joins}}
}

func eq(field string, v ir.IRValue) ir.FieldConstraint {
	return ir.FieldConstraint{Field: field, Op: ir.OpEq, Value: v}
}

func rule(name string, conds ...ir.Condition) ir.RuleSpec {
	return ir.RuleSpec{Name: name, Conditions: conds, Consequence: noop}
}

func person(name string, age int64) ir.Fact {
	return ir.NewFact("Person", ir.F("name", ir.IRString(name)), ir.F("age", ir.IRInt(age)))
}

func order(id, customer string, total int64) ir.Fact {
	return ir.NewFact("Order",
		ir.F("id", ir.IRString(id)),
		ir.F("customer", ir.IRString(customer)),
		ir.F("total", ir.IRInt(total)))
}

func matchDesc(rule string, ids ...int64) string {
	return fmt.Sprintf("%s%v", rule, ids)
}

func newStoreFor(net *Network) *factstore.Store {
	return factstore.New(net.EntryPoints()...)
}

func factstoreOpts(f *fixture, ep, typ string) factstore.InsertOptions {
	return factstore.InsertOptions{EntryPoint: ep, Mask: f.net.Mask(typ)}
}
