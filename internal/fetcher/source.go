package fetcher

import (
	"fmt"
	"time"
)

// Source is one named external-data request descriptor exported by the
// Sources tab. A tab may export either a bare URL string or a structured
// descriptor.
type Source struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// Data is an optional request body for POST-style sources.
	Data any `json:"data,omitempty"`
	// UI marks the source as needed by UI-only requests.
	UI bool `json:"ui,omitempty"`
	// HideInInspector excludes the source from per-source display info.
	HideInInspector bool `json:"hideInInspector,omitempty"`
}

// Result is the per-source fetch outcome. Body feeds downstream stages;
// the remaining metadata is retained for response assembly.
type Result struct {
	Body       any           `json:"body,omitempty"`
	Status     int           `json:"status"`
	Latency    time.Duration `json:"latency"`
	Size       int64         `json:"size"`
	URL        string        `json:"url,omitempty"`
	DataURL    string        `json:"dataUrl,omitempty"`
	UISourceID string        `json:"uiSourceId,omitempty"`
}

// ParseSources converts the raw Sources tab exports into descriptors.
// String entries become GET sources; structured entries decode field by
// field. Entries of any other shape are rejected.
func ParseSources(exports any) (map[string]Source, error) {
	raw, ok := exports.(map[string]any)
	if !ok {
		if exports == nil {
			return map[string]Source{}, nil
		}
		return nil, fmt.Errorf("%w: sources tab exported %T", ErrBadSources, exports)
	}

	out := make(map[string]Source, len(raw))
	for name, entry := range raw {
		switch val := entry.(type) {
		case string:
			out[name] = Source{URL: val}
		case map[string]any:
			src, err := parseSource(val)
			if err != nil {
				return nil, fmt.Errorf("%w: source %q: %w", ErrBadSources, name, err)
			}
			out[name] = src
		default:
			return nil, fmt.Errorf("%w: source %q has type %T", ErrBadSources, name, entry)
		}
	}
	return out, nil
}

func parseSource(raw map[string]any) (Source, error) {
	src := Source{}
	url, ok := raw["url"].(string)
	if !ok || url == "" {
		return src, fmt.Errorf("missing url")
	}
	src.URL = url
	if method, ok := raw["method"].(string); ok {
		src.Method = method
	}
	if headers, ok := raw["headers"].(map[string]any); ok {
		src.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			src.Headers[k] = fmt.Sprintf("%v", v)
		}
	}
	src.Data = raw["data"]
	if ui, ok := raw["ui"].(bool); ok {
		src.UI = ui
	}
	if hide, ok := raw["hideInInspector"].(bool); ok {
		src.HideInInspector = hide
	}
	return src, nil
}

// FilterUIOnly keeps only the sources flagged for UI requests.
func FilterUIOnly(sources map[string]Source) map[string]Source {
	out := make(map[string]Source, len(sources))
	for name, src := range sources {
		if src.UI {
			out[name] = src
		}
	}
	return out
}
