package compiler

import (
	"slices"
	"time"

	"cuelang.org/go/cue"

	"github.com/roach88/rulecore/internal/ir"
)

func lookup(v cue.Value, path string) cue.Value {
	return v.LookupPath(cue.ParsePath(path))
}

// irValue converts a concrete CUE value into an IRValue.
// Floats are forbidden, as everywhere else in the value model.
func irValue(v cue.Value) (ir.IRValue, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for iter.Next() {
			e, err := irValue(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, e)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			e, err := irValue(iter.Value())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = e
		}
		return obj, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, errorAt(v, "value", "floats are forbidden - use int instead")
	default:
		return nil, errorAt(v, "value", "unsupported value kind: %v", v.IncompleteKind())
	}
}

func optString(v cue.Value, field string) (string, error) {
	f := lookup(v, field)
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optInt(v cue.Value, field string) (int, error) {
	f := lookup(v, field)
	if !f.Exists() {
		return 0, nil
	}
	n, err := f.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return int(n), nil
}

func optBool(v cue.Value, field string) (bool, error) {
	f := lookup(v, field)
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// optDuration accepts a Go duration string ("1m30s") or an int of
// milliseconds.
func optDuration(v cue.Value, field string) (time.Duration, error) {
	f := lookup(v, field)
	if !f.Exists() {
		return 0, nil
	}
	if f.IncompleteKind() == cue.IntKind {
		ms, err := f.Int64()
		if err != nil {
			return 0, formatCUEError(err)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	s, err := f.String()
	if err != nil {
		return 0, formatCUEError(err)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errorAt(f, field, "invalid duration %q", s)
	}
	return d, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	f := lookup(v, field)
	if !f.Exists() {
		return nil, nil
	}
	iter, err := f.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// checkFields rejects labels outside allowed, catching misspelt attributes
// that would otherwise be silently ignored.
func checkFields(v cue.Value, field string, allowed ...string) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		label := iter.Label()
		if !slices.Contains(allowed, label) {
			return errorAt(iter.Value(), field, "unknown field %q", label)
		}
	}
	return nil
}

// single returns the only label of a one-field struct, used for the tagged
// condition and action forms.
func single(v cue.Value, field string) (string, cue.Value, error) {
	iter, err := v.Fields()
	if err != nil {
		return "", cue.Value{}, formatCUEError(err)
	}
	var (
		label string
		val   cue.Value
		n     int
	)
	for iter.Next() {
		label, val = iter.Label(), iter.Value()
		n++
	}
	if n != 1 {
		return "", cue.Value{}, errorAt(v, field, "expected exactly one key, found %d", n)
	}
	return label, val, nil
}
