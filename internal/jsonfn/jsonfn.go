// Package jsonfn serializes config trees that may carry function values.
// Tab scripts can export functions (as source text) inside chart configs;
// the extended serializer round-trips them, the strict serializer drops
// them, and Clean blanks them out of a tree entirely.
package jsonfn

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Func is a function value travelling through a config tree as source
// text. The sandbox runtime produces Func values when a tab exports a
// function; serialization mode decides whether they survive.
type Func string

var arrowFnRe = regexp.MustCompile(`^\s*(?:async\s+)?\([^)]*\)\s*=>`)

// IsFunctionSource reports whether a raw string holds function source
// text, matching the revival rule of the extended serializer.
func IsFunctionSource(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "function") || arrowFnRe.MatchString(s)
}

// Marshal serializes v with function round-tripping: Func values are
// emitted as plain strings holding their source text, which Unmarshal
// revives back into Func.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(encodeFuncs(v))
}

// MarshalStrict serializes v without functions: Func values disappear from
// maps and become empty strings inside arrays, matching the behavior of a
// function-free serializer.
func MarshalStrict(v any) ([]byte, error) {
	return json.Marshal(dropFuncs(v))
}

// Unmarshal decodes data and revives function-looking strings into Func.
func Unmarshal(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return reviveFuncs(v), nil
}

// Revive walks an already-decoded value tree and converts
// function-looking strings into Func in place. Used when values cross the
// sandbox boundary as plain data rather than serialized bytes.
func Revive(v any) any {
	return reviveFuncs(v)
}

// Clean returns a copy of v with every Func (and every function-looking
// string) replaced by an empty string. Used when function execution is
// disabled for editor charts so no function source leaks to the client.
func Clean(v any) any {
	switch val := v.(type) {
	case Func:
		return ""
	case string:
		if IsFunctionSource(val) {
			return ""
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Clean(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Clean(item)
		}
		return out
	default:
		return v
	}
}

func encodeFuncs(v any) any {
	switch val := v.(type) {
	case Func:
		return string(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = encodeFuncs(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = encodeFuncs(item)
		}
		return out
	default:
		return v
	}
}

func dropFuncs(v any) any {
	switch val := v.(type) {
	case Func:
		return ""
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if _, isFn := item.(Func); isFn {
				continue
			}
			out[k] = dropFuncs(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = dropFuncs(item)
		}
		return out
	default:
		return v
	}
}

func reviveFuncs(v any) any {
	switch val := v.(type) {
	case string:
		if IsFunctionSource(val) {
			return Func(val)
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = reviveFuncs(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = reviveFuncs(item)
		}
		return val
	default:
		return v
	}
}
