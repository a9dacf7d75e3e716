package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEval(t *testing.T) {
	tests := []struct {
		name        string
		op          Op
		left, right IRValue
		want        bool
	}{
		{"eq", OpEq, IRInt(3), IRInt(3), true},
		{"ne", OpNe, IRInt(3), IRInt(4), true},
		{"lt", OpLt, IRInt(3), IRInt(4), true},
		{"ge equal", OpGe, IRString("b"), IRString("b"), true},
		{"gt false", OpGt, IRInt(1), IRInt(2), false},
		{"contains array", OpContains, IRArray{IRInt(1), IRInt(2)}, IRInt(2), true},
		{"contains substring", OpContains, IRString("rulecore"), IRString("core"), true},
		{"in", OpIn, IRString("b"), IRArray{IRString("a"), IRString("b")}, true},
		{"exists present", OpExists, IRInt(0), nil, true},
		{"exists null", OpExists, IRNull{}, nil, false},
		{"missing eq", OpEq, nil, IRInt(1), false},
		{"missing ne", OpNe, nil, IRInt(1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(tt.op, tt.left, tt.right)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalIncomparable(t *testing.T) {
	_, err := Eval(OpLt, IRInt(1), IRString("x"))
	assert.ErrorIs(t, err, ErrIncomparable)
}

func TestConstraintKey(t *testing.T) {
	a := FieldConstraint{Field: "age", Op: OpGe, Value: IRInt(18)}
	b := FieldConstraint{Field: "age", Op: OpGe, Value: IRInt(18)}
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, `age >= 18`, a.Key())
}
