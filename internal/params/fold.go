package params

// Source is one ordered origin of parameter values. The pipeline applies
// sources strictly in slice order, so a later source wins every key it
// sets. Precedence is therefore a data-driven table rather than scattered
// mutation across stages.
type Source struct {
	// Name identifies the origin for logs ("defaults", "caller",
	// "params-tab", "js-tab", "ui-tab").
	Name string
	// Values holds raw exported values; they are wrapped on application.
	Values map[string]any
}

// Fold applies the override sources to params in order, last writer wins
// per key. Keys already present in used are kept pointing at the effective
// value so declared defaults stay in sync with final params.
func Fold(params, used StringParams, sources ...Source) {
	for _, src := range sources {
		for key, value := range src.Values {
			wrapped := WrapValue(value)
			params[key] = wrapped
			if used != nil {
				if _, ok := used[key]; ok {
					used[key] = wrapped
				}
			}
		}
	}
}

// Apply sets script-requested overrides on both params and usedParams.
// Script overrides always register the key as used.
func Apply(params, used StringParams, override map[string]any) {
	if len(override) == 0 {
		return
	}
	for key, value := range override {
		wrapped := WrapValue(value)
		params[key] = wrapped
		if used != nil {
			used[key] = wrapped
		}
	}
}

// ApplyAction merges script-requested action-param overrides, returning
// the updated map. A nil base is allocated on first use.
func ApplyAction(actionParams StringParams, override map[string]any) StringParams {
	if len(override) == 0 {
		return actionParams
	}
	if actionParams == nil {
		actionParams = StringParams{}
	}
	for key, value := range override {
		actionParams[key] = WrapValue(value)
	}
	return actionParams
}

// SyncUsed re-points every used-param key at the effective value from
// params. The Params tab exports only defaults; after caller overrides are
// merged the used map must reflect what actually took effect.
func SyncUsed(params, used StringParams) {
	for key := range used {
		if value, ok := params[key]; ok {
			used[key] = value
		}
	}
}
