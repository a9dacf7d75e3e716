package compiler

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rulecore/internal/engine"
	"github.com/roach88/rulecore/internal/ir"
	"github.com/roach88/rulecore/internal/timer"
)

// stubBindings resolves variables from fixed maps.
type stubBindings struct {
	facts  map[string]ir.Fact
	values map[string]ir.IRValue
}

type stubRef struct{ f ir.Fact }

func (r stubRef) ID() int64     { return 1 }
func (r stubRef) Fact() ir.Fact { return r.f }
func (b stubBindings) Ref(name string) (ir.FactRef, bool) {
	f, ok := b.facts[name]
	if !ok {
		return nil, false
	}
	return stubRef{f}, true
}
func (b stubBindings) Value(name string) (ir.IRValue, bool) {
	v, ok := b.values[name]
	return v, ok
}

func TestTemplateEval(t *testing.T) {
	b := stubBindings{
		facts: map[string]ir.Fact{
			"p": ir.NewFact("Person", ir.F("name", ir.IRString("ann")), ir.F("age", ir.IRInt(31))),
		},
		values: map[string]ir.IRValue{"n": ir.IRInt(4)},
	}

	tests := []struct {
		name string
		tmpl string
		want ir.IRValue
	}{
		{"literal", "plain", ir.IRString("plain")},
		{"typed field", "${p.age}", ir.IRInt(31)},
		{"string field", "${p.name}", ir.IRString("ann")},
		{"accumulate result", "${n}", ir.IRInt(4)},
		{"whole fact", "${p}", ir.IRObject{"name": ir.IRString("ann"), "age": ir.IRInt(31)}},
		{"mixed text", "${p.name} is ${p.age}", ir.IRString("ann is 31")},
		{"escaped dollar", "$$${n}", ir.IRString("$4")},
		{"lone dollar", "cost: $", ir.IRString("cost: $")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := parseTemplate(tt.tmpl)
			require.NoError(t, err)
			got, err := tmpl.eval(b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplateErrors(t *testing.T) {
	for _, bad := range []string{"${p.name", "${}", "${p.a.b}", "${ p }"} {
		_, err := parseTemplate(bad)
		assert.Error(t, err, bad)
	}

	b := stubBindings{facts: map[string]ir.Fact{"p": ir.NewFact("Person")}}
	tmpl, err := parseTemplate("${p.missing}")
	require.NoError(t, err)
	_, err = tmpl.eval(b)
	assert.ErrorContains(t, err, `Person has no field "missing"`)

	tmpl, err = parseTemplate("${q}")
	require.NoError(t, err)
	_, err = tmpl.eval(b)
	assert.ErrorContains(t, err, `unbound variable "q"`)
}

func TestTemplateRefs(t *testing.T) {
	tmpl, err := parseTemplate("${a.x}-${b}")
	require.NoError(t, err)
	assert.Equal(t, []varRef{{Var: "a", Field: "x"}, {Var: "b"}}, tmpl.refs())
}

func TestConsequenceRejectsIncompleteActions(t *testing.T) {
	for _, a := range []ir.ActionSpec{
		{Kind: ir.ActInsert},
		{Kind: ir.ActModify},
		{Kind: ir.ActDelete},
		{Kind: ir.ActFocus},
		{Kind: "explode"},
		{Kind: ir.ActInsert, Type: "T", Fields: map[string]string{"a": "x"}, Values: ir.IRObject{"a": ir.IRInt(1)}},
	} {
		_, err := Consequence([]ir.ActionSpec{a})
		assert.Error(t, err, "%+v", a)
	}
}

func newSession(t *testing.T, src string) *engine.Session {
	t.Helper()
	rb, errs := CompileString(src, "test.cue")
	require.Empty(t, errs)
	require.Empty(t, Validate(rb))

	s, err := engine.NewSessionFromRuleBase(rb,
		engine.WithClock(timer.ClockPseudo),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	t.Cleanup(s.Dispose)
	return s
}

func factsOf(s *engine.Session, typ string) []ir.Fact {
	var out []ir.Fact
	for _, h := range s.Facts() {
		if h.Fact().Type == typ {
			out = append(out, h.Fact())
		}
	}
	return out
}

func TestConsequenceInsertLogical(t *testing.T) {
	s := newSession(t, `
		rule: adult: {
			when: [{pattern: {type: "Person", bind: "p", where: [{field: "age", op: ">=", value: 18}]}}]
			then: [{insert_logical: {type: "Adult", fields: {
				name:     "${p.name}"
				age:      "${p.age}"
				greeting: "hi ${p.name} (${p.age})"
				active:   true
			}}}]
		}
	`)

	h, err := s.Insert(ir.NewFact("Person", ir.F("name", ir.IRString("ann")), ir.F("age", ir.IRInt(30))))
	require.NoError(t, err)
	n, err := s.FireAll(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	adults := factsOf(s, "Adult")
	require.Len(t, adults, 1)
	assert.Equal(t, ir.IRObject{
		"name":     ir.IRString("ann"),
		"age":      ir.IRInt(30),
		"greeting": ir.IRString("hi ann (30)"),
		"active":   ir.IRBool(true),
	}, adults[0].Fields)

	require.NoError(t, s.Delete(h))
	assert.Empty(t, factsOf(s, "Adult"), "logical fact goes with its justification")
}

func TestConsequenceModifyMergesFields(t *testing.T) {
	s := newSession(t, `
		rule: mark: {
			no_loop: true
			when: [{pattern: {type: "Counter", bind: "c", where: [{field: "done", op: "!=", value: true}]}}]
			then: [{modify: {target: "c", fields: {done: true, label: "count ${c.n}"}}}]
		}
	`)

	_, err := s.Insert(ir.NewFact("Counter", ir.F("n", ir.IRInt(0))))
	require.NoError(t, err)
	n, err := s.FireAll(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counters := factsOf(s, "Counter")
	require.Len(t, counters, 1)
	assert.Equal(t, ir.IRObject{
		"n":     ir.IRInt(0),
		"done":  ir.IRBool(true),
		"label": ir.IRString("count 0"),
	}, counters[0].Fields)
}

func TestConsequenceUpdateReplacesFields(t *testing.T) {
	s := newSession(t, `
		rule: "close-ticket": {
			when: [{pattern: {type: "Ticket", bind: "t", where: [{field: "status", value: "open"}]}}]
			then: [{update: {target: "t", fields: {status: "closed", was: "${t.owner}"}}}]
		}
	`)

	_, err := s.Insert(ir.NewFact("Ticket", ir.F("status", ir.IRString("open")), ir.F("owner", ir.IRString("bo"))))
	require.NoError(t, err)
	_, err = s.FireAll(0)
	require.NoError(t, err)

	tickets := factsOf(s, "Ticket")
	require.Len(t, tickets, 1)
	assert.Equal(t, ir.IRObject{"status": ir.IRString("closed"), "was": ir.IRString("bo")}, tickets[0].Fields)
}

func TestConsequenceDeleteAndHalt(t *testing.T) {
	s := newSession(t, `
		rule: purge: {
			when: [{pattern: {type: "Temp", bind: "x"}}]
			then: [{delete: "x"}, {halt: true}]
		}
	`)

	for i := range 3 {
		_, err := s.Insert(ir.NewFact("Temp", ir.F("i", ir.IRInt(int64(i)))))
		require.NoError(t, err)
	}
	n, err := s.FireAll(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "halt stops after the first firing")
	assert.Len(t, factsOf(s, "Temp"), 2)

	n, err = s.FireAll(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, factsOf(s, "Temp"), 1)
}

func TestConsequenceFocus(t *testing.T) {
	s := newSession(t, `
		rule: start: {
			when: [{pattern: {type: "Go"}}]
			then: [{focus: "later"}, {insert: {type: "Step", fields: {n: 1}}}]
		}
		rule: later: {
			agenda_group: "later"
			when: [{pattern: {type: "Step", bind: "s"}}]
			then: [{insert: {type: "Done", fields: {after: "${s.n}"}}}]
		}
	`)

	_, err := s.Insert(ir.NewFact("Go"))
	require.NoError(t, err)
	n, err := s.FireAll(0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	done := factsOf(s, "Done")
	require.Len(t, done, 1)
	assert.Equal(t, ir.IRInt(1), done[0].Fields["after"])
}

func TestConsequenceAccumulateResult(t *testing.T) {
	s := newSession(t, `
		rule: summarize: {
			when: [
				{pattern: {type: "Sensor", bind: "s"}},
				{accumulate: {
					source: {type: "Reading", join: [{field: "sensor", var: "s.id"}]}
					func:   "count"
					bind:   "n"
				}},
			]
			then: [{insert: {type: "Summary", fields: {sensor: "${s.id}", count: "${n}"}}}]
		}
	`)

	_, err := s.Insert(ir.NewFact("Sensor", ir.F("id", ir.IRString("s1"))))
	require.NoError(t, err)
	for range 2 {
		_, err := s.Insert(ir.NewFact("Reading", ir.F("sensor", ir.IRString("s1"))))
		require.NoError(t, err)
	}
	_, err = s.FireAll(0)
	require.NoError(t, err)

	sums := factsOf(s, "Summary")
	require.Len(t, sums, 1)
	assert.Equal(t, ir.IRObject{"sensor": ir.IRString("s1"), "count": ir.IRInt(2)}, sums[0].Fields)
}

func TestConsequenceMissingFieldFailsFiring(t *testing.T) {
	s := newSession(t, `
		rule: greet: {
			when: [{pattern: {type: "Person", bind: "p"}}]
			then: [{insert: {type: "Greeting", fields: {to: "${p.nickname}"}}}]
		}
	`)

	_, err := s.Insert(ir.NewFact("Person", ir.F("name", ir.IRString("ann"))))
	require.NoError(t, err)
	_, err = s.FireAll(0)
	require.Error(t, err)
	assert.True(t, engine.IsConsequenceError(err))
	assert.ErrorContains(t, err, `Person has no field "nickname"`)
	assert.Empty(t, factsOf(s, "Greeting"))
}
