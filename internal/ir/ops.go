package ir

import (
	"fmt"
	"strings"
)

// Op is a comparison operator usable in declarative constraints.
type Op string

const (
	OpEq       Op = "=="
	OpNe       Op = "!="
	OpLt       Op = "<"
	OpLe       Op = "<="
	OpGt       Op = ">"
	OpGe       Op = ">="
	OpContains Op = "contains" // array element or substring
	OpIn       Op = "in"       // left is an element of the right array
	OpExists   Op = "exists"   // field present and not null; Value ignored
)

// ValidOps lists the operators accepted by the compiler and network builder.
var ValidOps = map[Op]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true,
	OpContains: true, OpIn: true, OpExists: true,
}

// Eval applies op to a field value (left) and an operand (right).
// A missing left value only satisfies != against a present right value.
// Ordered operators on mismatched kinds return an error wrapping
// ErrIncomparable so the caller can report it against the offending fact.
func Eval(op Op, left, right IRValue) (bool, error) {
	if op == OpExists {
		if left == nil {
			return false, nil
		}
		_, isNull := left.(IRNull)
		return !isNull, nil
	}
	if left == nil {
		return op == OpNe && right != nil, nil
	}

	switch op {
	case OpEq:
		return Equal(left, right), nil
	case OpNe:
		return !Equal(left, right), nil
	case OpLt, OpLe, OpGt, OpGe:
		c, err := Compare(left, right)
		if err != nil {
			return false, err
		}
		switch op {
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case OpContains:
		switch l := left.(type) {
		case IRArray:
			for _, e := range l {
				if Equal(e, right) {
					return true, nil
				}
			}
			return false, nil
		case IRString:
			r, ok := right.(IRString)
			if !ok {
				return false, fmt.Errorf("%w: contains on string needs a string operand, got %s", ErrIncomparable, KindOf(right))
			}
			return strings.Contains(string(l), string(r)), nil
		}
		return false, fmt.Errorf("%w: contains on %s", ErrIncomparable, KindOf(left))
	case OpIn:
		arr, ok := right.(IRArray)
		if !ok {
			return false, fmt.Errorf("%w: in needs an array operand, got %s", ErrIncomparable, KindOf(right))
		}
		for _, e := range arr {
			if Equal(left, e) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

// Key renders a constraint canonically, used to share identical filters.
func (c FieldConstraint) Key() string {
	v, err := MarshalCanonical(c.Value)
	if err != nil {
		v = []byte(fmt.Sprintf("%v", c.Value))
	}
	return c.Field + " " + string(c.Op) + " " + string(v)
}

// Key renders a join constraint canonically.
func (j JoinConstraint) Key() string {
	return j.Field + " " + string(j.Op) + " " + j.Var + "." + j.VarField
}
