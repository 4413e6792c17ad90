package merge

import "maps"

// WithBroadcast merges src into a copy of dst like Deep, but resolves
// array-vs-object conflicts by broadcasting the object across every array
// element. This covers library configs where, for example, one side
// declares a single xAxis object and the other an array of axes.
func WithBroadcast(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	maps.Copy(out, dst)
	for key, srcVal := range src {
		dstVal, ok := out[key]
		if !ok {
			out[key] = cloneValue(srcVal)
			continue
		}
		if merged, ok := broadcast(dstVal, srcVal); ok {
			out[key] = merged
		} else if merged, ok := broadcast(srcVal, dstVal); ok {
			out[key] = merged
		} else {
			out[key] = broadcastValue(dstVal, srcVal)
		}
	}
	return out
}

// broadcastValue is deepValue with the broadcast conflict policy applied
// at every nesting level.
func broadcastValue(a, b any) any {
	if b == nil {
		return cloneValue(a)
	}
	switch bv := b.(type) {
	case map[string]any:
		if av, ok := a.(map[string]any); ok {
			return WithBroadcast(av, bv)
		}
	case []any:
		if av, ok := a.([]any); ok {
			return deepSlice(av, bv)
		}
	}
	return cloneValue(b)
}

// broadcast merges object b into every element of array a. Returns false
// when the shapes do not match the array/object pair.
func broadcast(a, b any) (any, bool) {
	arr, ok := a.([]any)
	if !ok {
		return nil, false
	}
	obj, ok := b.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make([]any, len(arr))
	for i, item := range arr {
		if itemMap, ok := item.(map[string]any); ok {
			out[i] = Deep(itemMap, obj)
		} else {
			out[i] = cloneValue(item)
		}
	}
	return out, true
}
