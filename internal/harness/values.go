package harness

import (
	"fmt"

	"github.com/roach88/rulecore/internal/ir"
)

// ConvertFields converts YAML-decoded fields to an ir.IRObject.
// This handles YAML-parsed values and converts them to proper IRValue types.
func ConvertFields(args map[string]any) (ir.IRObject, error) {
	if args == nil {
		return ir.IRObject{}, nil
	}

	result := make(ir.IRObject)
	for key, val := range args {
		irVal, err := convertToIRValue(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		result[key] = irVal
	}
	return result, nil
}

// convertToIRValue converts a YAML-parsed value to an IRValue.
// YAML null becomes IRNull so facts can carry explicit absent values.
func convertToIRValue(val any) (ir.IRValue, error) {
	if val == nil {
		return ir.IRNull{}, nil
	}

	switch v := val.(type) {
	case string:
		return ir.IRString(v), nil
	case int:
		return ir.IRInt(int64(v)), nil
	case int64:
		return ir.IRInt(v), nil
	case float64:
		// Integral floats come from JSON-style inputs; real fractions are rejected
		if v == float64(int64(v)) {
			return ir.IRInt(int64(v)), nil
		}
		return nil, fmt.Errorf("floats are forbidden in IR: %v", v)
	case bool:
		return ir.IRBool(v), nil
	case []any:
		arr := make(ir.IRArray, len(v))
		for i, elem := range v {
			irElem, err := convertToIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]any:
		obj, err := ConvertFields(v)
		if err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", val)
	}
}

// matchFields reports whether every expected field is present in actual
// with an equal value. Extra fields in actual are ignored.
func matchFields(actual ir.IRObject, expected map[string]any) (bool, error) {
	want, err := ConvertFields(expected)
	if err != nil {
		return false, err
	}
	for _, key := range want.SortedKeys() {
		got, ok := actual[key]
		if !ok || !ir.Equal(got, want[key]) {
			return false, nil
		}
	}
	return true, nil
}

// formatFields renders fields as canonical JSON for error messages.
func formatFields(fields ir.IRObject) string {
	data, err := ir.MarshalCanonical(fields)
	if err != nil {
		return fmt.Sprintf("%v", map[string]ir.IRValue(fields))
	}
	return string(data)
}
