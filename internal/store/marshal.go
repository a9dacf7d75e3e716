package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/rulecore/internal/ir"
)

// marshalFields converts fact fields to canonical JSON TEXT for storage.
func marshalFields(fields ir.IRObject) (string, error) {
	if fields == nil {
		fields = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses canonical JSON TEXT to IRObject.
// Uses ir.IRObject.UnmarshalJSON which keeps large integers exact.
func unmarshalFields(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return obj, nil
}

// marshalHandles stores a handle id list as a JSON array.
func marshalHandles(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal handles: %w", err)
	}
	return string(data), nil
}

// unmarshalHandles returns nil for an empty list, matching how snapshots
// leave Handles unset on expiry jobs.
func unmarshalHandles(data string) ([]int64, error) {
	var ids []int64
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal handles: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

func marshalFocus(focus []string) (string, error) {
	if focus == nil {
		focus = []string{}
	}
	data, err := json.Marshal(focus)
	if err != nil {
		return "", fmt.Errorf("marshal focus: %w", err)
	}
	return string(data), nil
}

func unmarshalFocus(data string) ([]string, error) {
	var focus []string
	if err := json.Unmarshal([]byte(data), &focus); err != nil {
		return nil, fmt.Errorf("unmarshal focus: %w", err)
	}
	return focus, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
