package compiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rulecore/internal/ir"
)

func noop(ir.Context) error { return nil }

func pat(typ, bind string) ir.Condition {
	return ir.Condition{Kind: ir.CondPattern, Pattern: &ir.Pattern{Type: typ, Bind: bind}}
}

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateValidRuleBase(t *testing.T) {
	rb := &ir.RuleBase{
		Types: []ir.TypeDecl{{Name: "Person"}, {Name: "Adult", Supertypes: []string{"Person"}}},
		Rules: []ir.RuleSpec{{
			Name:       "adult",
			Conditions: []ir.Condition{pat("Person", "p")},
			Actions:    []ir.ActionSpec{{Kind: ir.ActInsertLogical, Type: "Adult", Fields: map[string]string{"name": "${p.name}"}}},
		}},
	}
	assert.Empty(t, Validate(rb))
}

func TestValidateGoConsequenceNeedsNoActions(t *testing.T) {
	rb := &ir.RuleBase{Rules: []ir.RuleSpec{{Name: "r", Conditions: []ir.Condition{pat("T", "")}, Consequence: noop}}}
	assert.Empty(t, Validate(rb))
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		rb   ir.RuleBase
		code string
	}{
		{
			name: "duplicate type",
			rb: ir.RuleBase{
				Types: []ir.TypeDecl{{Name: "T"}, {Name: "T"}},
				Rules: []ir.RuleSpec{{Name: "r", Conditions: []ir.Condition{pat("T", "")}, Consequence: noop}},
			},
			code: ErrDuplicateType,
		},
		{
			name: "unknown supertype",
			rb: ir.RuleBase{
				Types: []ir.TypeDecl{{Name: "T", Supertypes: []string{"Base"}}},
				Rules: []ir.RuleSpec{{Name: "r", Conditions: []ir.Condition{pat("T", "")}, Consequence: noop}},
			},
			code: ErrUnknownSupertype,
		},
		{
			name: "expiry on a fact type",
			rb: ir.RuleBase{
				Types: []ir.TypeDecl{{Name: "T", Expires: time.Second}},
				Rules: []ir.RuleSpec{{Name: "r", Conditions: []ir.Condition{pat("T", "")}, Consequence: noop}},
			},
			code: ErrInvalidEventType,
		},
		{
			name: "duplicate rule",
			rb: ir.RuleBase{Rules: []ir.RuleSpec{
				{Name: "r", Conditions: []ir.Condition{pat("T", "")}, Consequence: noop},
				{Name: "r", Conditions: []ir.Condition{pat("T", "")}, Consequence: noop},
			}},
			code: ErrDuplicateRule,
		},
		{
			name: "no conditions",
			rb:   ir.RuleBase{Rules: []ir.RuleSpec{{Name: "r", Consequence: noop}}},
			code: ErrNoConditions,
		},
		{
			name: "no consequence",
			rb:   ir.RuleBase{Rules: []ir.RuleSpec{{Name: "r", Conditions: []ir.Condition{pat("T", "")}}}},
			code: ErrNoConsequence,
		},
		{
			name: "negated first condition",
			rb: ir.RuleBase{Rules: []ir.RuleSpec{{
				Name:        "r",
				Conditions:  []ir.Condition{{Kind: ir.CondNot, Pattern: &ir.Pattern{Type: "T"}}},
				Consequence: noop,
			}}},
			code: ErrFirstCondition,
		},
		{
			name: "auto focus without group",
			rb: ir.RuleBase{Rules: []ir.RuleSpec{{
				Name: "r", AutoFocus: true, Conditions: []ir.Condition{pat("T", "")}, Consequence: noop,
			}}},
			code: ErrInvalidAttributes,
		},
		{
			name: "undeclared pattern type",
			rb: ir.RuleBase{
				Types: []ir.TypeDecl{{Name: "T"}},
				Rules: []ir.RuleSpec{{Name: "r", Conditions: []ir.Condition{pat("U", "")}, Consequence: noop}},
			},
			code: ErrUnknownType,
		},
		{
			name: "bad operator",
			rb: ir.RuleBase{Rules: []ir.RuleSpec{{
				Name: "r",
				Conditions: []ir.Condition{{Kind: ir.CondPattern, Pattern: &ir.Pattern{
					Type: "T", Alpha: []ir.FieldConstraint{{Field: "x", Op: "~"}},
				}}},
				Consequence: noop,
			}}},
			code: ErrInvalidOperator,
		},
		{
			name: "join on unbound variable",
			rb: ir.RuleBase{Rules: []ir.RuleSpec{{
				Name: "r",
				Conditions: []ir.Condition{
					pat("T", "t"),
					{Kind: ir.CondPattern, Pattern: &ir.Pattern{
						Type: "U", Joins: []ir.JoinConstraint{{Field: "x", Op: ir.OpEq, Var: "q", VarField: "x"}},
					}},
				},
				Consequence: noop,
			}}},
			code: ErrUndefinedVariable,
		},
		{
			name: "variable bound twice",
			rb: ir.RuleBase{Rules: []ir.RuleSpec{{
				Name: "r", Conditions: []ir.Condition{pat("T", "x"), pat("U", "x")}, Consequence: noop,
			}}},
			code: ErrDuplicateBinding,
		},
		{
			name: "sum without field",
			rb: ir.RuleBase{Rules: []ir.RuleSpec{{
				Name: "r",
				Conditions: []ir.Condition{
					pat("T", "t"),
					{Kind: ir.CondAccumulate, Accumulate: &ir.Accumulate{Source: ir.Pattern{Type: "U"}, Func: ir.AccSum, Bind: "s"}},
				},
				Consequence: noop,
			}}},
			code: ErrInvalidAccumulate,
		},
		{
			name: "undeclared entry point",
			rb: ir.RuleBase{Rules: []ir.RuleSpec{{
				Name:        "r",
				Conditions:  []ir.Condition{{Kind: ir.CondPattern, Pattern: &ir.Pattern{Type: "T", EntryPoint: "audit"}}},
				Consequence: noop,
			}}},
			code: ErrUnknownEntryPoint,
		},
		{
			name: "interval without period",
			rb: ir.RuleBase{Rules: []ir.RuleSpec{{
				Name: "r", Timer: &ir.TimerSpec{Kind: ir.TimerInterval}, Conditions: []ir.Condition{pat("T", "")}, Consequence: noop,
			}}},
			code: ErrInvalidTimer,
		},
		{
			name: "duration on a non-event",
			rb: ir.RuleBase{
				Types: []ir.TypeDecl{{Name: "T"}},
				Rules: []ir.RuleSpec{{
					Name:        "r",
					Durations:   []ir.DurationSpec{{Duration: time.Second, EventVar: "t"}},
					Conditions:  []ir.Condition{pat("T", "t")},
					Consequence: noop,
				}},
			},
			code: ErrInvalidTimer,
		},
		{
			name: "modify without target",
			rb: ir.RuleBase{Rules: []ir.RuleSpec{{
				Name: "r", Conditions: []ir.Condition{pat("T", "t")}, Actions: []ir.ActionSpec{{Kind: ir.ActModify}},
			}}},
			code: ErrInvalidAction,
		},
		{
			name: "delete of an accumulate result",
			rb: ir.RuleBase{Rules: []ir.RuleSpec{{
				Name: "r",
				Conditions: []ir.Condition{
					pat("T", "t"),
					{Kind: ir.CondAccumulate, Accumulate: &ir.Accumulate{Source: ir.Pattern{Type: "U"}, Func: ir.AccCount, Bind: "n"}},
				},
				Actions: []ir.ActionSpec{{Kind: ir.ActDelete, Target: "n"}},
			}}},
			code: ErrUndefinedVariable,
		},
		{
			name: "template on unbound variable",
			rb: ir.RuleBase{Rules: []ir.RuleSpec{{
				Name:       "r",
				Conditions: []ir.Condition{pat("T", "t")},
				Actions:    []ir.ActionSpec{{Kind: ir.ActInsert, Type: "U", Fields: map[string]string{"a": "${x.a}"}}},
			}}},
			code: ErrUndefinedVariable,
		},
		{
			name: "malformed template",
			rb: ir.RuleBase{Rules: []ir.RuleSpec{{
				Name:       "r",
				Conditions: []ir.Condition{pat("T", "t")},
				Actions:    []ir.ActionSpec{{Kind: ir.ActInsert, Type: "U", Fields: map[string]string{"a": "${t.a"}}},
			}}},
			code: ErrInvalidTemplate,
		},
		{
			name: "unknown clock",
			rb: ir.RuleBase{
				Session: ir.SessionConfig{Clock: "sundial"},
				Rules:   []ir.RuleSpec{{Name: "r", Conditions: []ir.Condition{pat("T", "")}, Consequence: noop}},
			},
			code: ErrInvalidSession,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&tt.rb)
			require.NotEmpty(t, errs)
			assert.Contains(t, codes(errs), tt.code, "got %v", errs)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	rb := &ir.RuleBase{
		Types: []ir.TypeDecl{{Name: "T"}},
		Rules: []ir.RuleSpec{
			{Name: "a", Conditions: []ir.Condition{pat("U", "")}, Consequence: noop},
			{Name: "b"},
		},
	}
	errs := Validate(rb)
	assert.Equal(t, []string{ErrUnknownType, ErrNoConditions, ErrNoConsequence}, codes(errs))
	assert.Equal(t, "rule.a.when[0].type", errs[0].Field)
}

func TestValidationErrorFormat(t *testing.T) {
	e := ValidationError{Field: "rule.r.when", Message: "rule has no conditions", Code: ErrNoConditions}
	assert.Equal(t, "[E106] rule.r.when: rule has no conditions", e.Error())

	e.Line = 4
	assert.Equal(t, "[E106] line 4: rule.r.when: rule has no conditions", e.Error())
}
