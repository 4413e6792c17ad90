// Package merge provides the deep-merge strategies used when combining tab
// exports with script-declared config overrides. All functions return new
// values; inputs are never mutated.
package merge

import "maps"

// Deep recursively merges src into a copy of dst. Maps merge per key,
// slices merge index-wise (the longer slice's tail survives), and any
// other src value replaces the dst value.
func Deep(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	maps.Copy(out, dst)
	for key, srcVal := range src {
		if dstVal, ok := out[key]; ok {
			out[key] = deepValue(dstVal, srcVal)
		} else {
			out[key] = cloneValue(srcVal)
		}
	}
	return out
}

func deepValue(a, b any) any {
	if b == nil {
		return cloneValue(a)
	}
	switch bv := b.(type) {
	case map[string]any:
		if av, ok := a.(map[string]any); ok {
			return Deep(av, bv)
		}
	case []any:
		if av, ok := a.([]any); ok {
			return deepSlice(av, bv)
		}
	}
	return cloneValue(b)
}

func deepSlice(a, b []any) []any {
	size := len(a)
	if len(b) > size {
		size = len(b)
	}
	out := make([]any, size)
	for i := range out {
		switch {
		case i >= len(a):
			out[i] = cloneValue(b[i])
		case i >= len(b):
			out[i] = cloneValue(a[i])
		default:
			out[i] = deepValue(a[i], b[i])
		}
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
