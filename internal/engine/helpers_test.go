package engine

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rulecore/internal/agenda"
	"github.com/roach88/rulecore/internal/factstore"
	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/network"
	"github.com/roach88/rulecore/internal/timer"
)

func noop(ir.Context) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildNet(t *testing.T, types []ir.TypeDecl, rules ...ir.RuleSpec) *network.Network {
	t.Helper()
	net, err := network.BuildRuleBase(&ir.RuleBase{Types: types, Rules: rules})
	require.NoError(t, err)
	return net
}

// newPseudoSession creates a pseudo-clock session starting at t=0 that is
// disposed when the test ends.
func newPseudoSession(t *testing.T, net *network.Network, opts ...Option) *Session {
	t.Helper()
	base := []Option{WithClock(timer.ClockPseudo), WithLogger(discardLogger())}
	s, err := NewSession(net, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(s.Dispose)
	return s
}

func pattern(typ, bind string, alpha ...ir.FieldConstraint) ir.Condition {
	return ir.Condition{Kind: ir.CondPattern, Pattern: &ir.Pattern{Type: typ, Bind: bind, Alpha: alpha}}
}

func notPattern(typ string, alpha ...ir.FieldConstraint) ir.Condition {
	return ir.Condition{Kind: ir.CondNot, Pattern: &ir.Pattern{Type: typ, Alpha: alpha}}
}

func eq(field string, v ir.IRValue) ir.FieldConstraint {
	return ir.FieldConstraint{Field: field, Op: ir.OpEq, Value: v}
}

func ge(field string, v int64) ir.FieldConstraint {
	return ir.FieldConstraint{Field: field, Op: ir.OpGe, Value: ir.IRInt(v)}
}

func rule(name string, then ir.Consequence, conds ...ir.Condition) ir.RuleSpec {
	return ir.RuleSpec{Name: name, Conditions: conds, Consequence: then}
}

func person(name string, age int64) ir.Fact {
	return ir.NewFact("Person", ir.F("name", ir.IRString(name)), ir.F("age", ir.IRInt(age)))
}

func counter(n int64) ir.Fact {
	return ir.NewFact("Counter", ir.F("n", ir.IRInt(n)))
}

func named(typ, name string) ir.Fact {
	return ir.NewFact(typ, ir.F("name", ir.IRString(name)))
}

// fired records consequence calls as "rule:name" using the fact bound to
// the variable p, or just the rule name when p is unbound.
type fired struct {
	calls []string
}

func (f *fired) record(ctx ir.Context) error {
	entry := ctx.RuleName()
	if ref, ok := ctx.Ref("p"); ok {
		entry += ":" + ref.Fact().String("name")
	}
	f.calls = append(f.calls, entry)
	return nil
}

func (f *fired) take() []string {
	out := f.calls
	f.calls = nil
	return out
}

// recordingListener logs session events in order.
type recordingListener struct {
	NoopListener
	events []string
}

func (l *recordingListener) FactInserted(h *factstore.Handle) {
	l.events = append(l.events, "insert "+h.Fact().Describe())
}

func (l *recordingListener) FactDeleted(h *factstore.Handle) {
	l.events = append(l.events, "delete "+h.Fact().Describe())
}

func (l *recordingListener) BeforeFire(a *agenda.Activation) {
	l.events = append(l.events, "fire "+a.String())
}

func (l *recordingListener) AfterFire(a *agenda.Activation, err error) {
	if err != nil {
		l.events = append(l.events, "failed "+a.Rule.Name)
	}
}

func (l *recordingListener) EvaluationFailed(err *network.EvaluationError) {
	l.events = append(l.events, "eval error")
}

func factTypes(s *Session) []string {
	var out []string
	for _, h := range s.Facts() {
		out = append(out, h.Fact().Describe())
	}
	return out
}

func agendaKeys(s *Session) []string {
	var out []string
	for _, a := range s.Agenda() {
		out = append(out, a.String())
	}
	return out
}
