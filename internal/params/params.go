// Package params implements parameter normalization and the ordered
// precedence merge used by the chart processing pipeline.
package params

import (
	"fmt"
	"strings"
)

// ActionParamPrefix marks keys that belong to the action-parameter
// namespace when both kinds travel in one flat override map.
const ActionParamPrefix = "_ap_"

// StringParams is the normalized parameter shape: every value is a string
// slice, single values are wrapped during normalization.
type StringParams map[string][]string

// Clone returns a deep copy. Merges must never mutate a caller's map in
// place, so every precedence step starts from a clone.
func (p StringParams) Clone() StringParams {
	if p == nil {
		return nil
	}
	out := make(StringParams, len(p))
	for k, v := range p {
		vv := make([]string, len(v))
		copy(vv, v)
		out[k] = vv
	}
	return out
}

// WrapValue converts an arbitrary exported value into the normalized
// []string form. Slices keep their element order; scalars are wrapped.
func WrapValue(v any) []string {
	switch val := v.(type) {
	case nil:
		return []string{""}
	case string:
		return []string{val}
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, stringify(item))
		}
		return out
	default:
		return []string{stringify(val)}
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return fmt.Sprintf("%t", val)
	case float64:
		// JSON numbers decode as float64; keep integral values clean.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Normalize splits a flat override map into regular params and action
// params (keys carrying the action-param prefix), wrapping every value.
func Normalize(overrides map[string]any) (params StringParams, actionParams StringParams) {
	params = StringParams{}
	actionParams = StringParams{}
	for key, value := range overrides {
		if name, ok := strings.CutPrefix(key, ActionParamPrefix); ok {
			actionParams[name] = WrapValue(value)
			continue
		}
		params[key] = WrapValue(value)
	}
	return params, actionParams
}

// ToActionParams prefixes every action-param key so the merged response
// params map can carry both namespaces without collisions.
func ToActionParams(actionParams StringParams) StringParams {
	out := make(StringParams, len(actionParams))
	for key, value := range actionParams {
		vv := make([]string, len(value))
		copy(vv, value)
		out[ActionParamPrefix+key] = vv
	}
	return out
}
