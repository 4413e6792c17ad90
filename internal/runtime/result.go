package runtime

import (
	"fmt"
	"time"

	"github.com/akrasnov87/charts-engine/internal/jsonfn"
)

// LogItem is one console-output fragment. Type is "string" for plain text
// and "json" for serialized structured values.
type LogItem struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Metadata is the script-declared side channel of one execution: param and
// config overrides, export metadata, and queued host calls.
type Metadata struct {
	UserParamsOverride       map[string]any
	UserActionParamsOverride map[string]any
	UserConfigOverride       map[string]any
	LibraryConfigOverride    map[string]any
	Extra                    map[string]any
	ExportFilename           string
	ChartsInsights           any
	SideMarkdown             string
	DataSourcesInfos         map[string]any
}

// Result is the outcome of one successful tab execution.
type Result struct {
	Name            string
	Exports         any
	Logs            [][]LogItem
	Meta            Metadata
	ExecutionTiming time.Duration
}

type hostCall struct {
	handle uint64
	args   []any
}

// decodeResult unpacks the envelope map returned by the wrapped script.
// Console rows are not part of the envelope; they flow through the host
// log sink during execution.
func decodeResult(value any) (exports any, meta Metadata, calls []hostCall, err error) {
	envelope, ok := value.(map[string]any)
	if !ok {
		return nil, meta, nil, fmt.Errorf("%w: %T", ErrResultShape, value)
	}

	exports = jsonfn.Revive(envelope["exports"])

	rawMeta, _ := envelope["meta"].(map[string]any)
	meta = decodeMetadata(rawMeta)
	calls, err = decodeHostCalls(rawMeta)
	return exports, meta, calls, err
}

func decodeMetadata(raw map[string]any) Metadata {
	if raw == nil {
		return Metadata{}
	}
	meta := Metadata{
		UserParamsOverride:       toMap(raw["userParamsOverride"]),
		UserActionParamsOverride: toMap(raw["userActionParamsOverride"]),
		UserConfigOverride:       reviveMap(raw["userConfigOverride"]),
		LibraryConfigOverride:    reviveMap(raw["libraryConfigOverride"]),
		Extra:                    toMap(raw["extra"]),
		DataSourcesInfos:         toMap(raw["dataSourcesInfos"]),
		ChartsInsights:           raw["chartsInsights"],
	}
	if s, ok := raw["exportFilename"].(string); ok {
		meta.ExportFilename = s
	}
	if s, ok := raw["sideMarkdown"].(string); ok {
		meta.SideMarkdown = s
	}
	return meta
}

func decodeHostCalls(raw map[string]any) ([]hostCall, error) {
	if raw == nil {
		return nil, nil
	}
	entries, ok := raw["hostCalls"].([]any)
	if !ok || len(entries) == 0 {
		return nil, nil
	}
	calls := make([]hostCall, 0, len(entries))
	for _, rawEntry := range entries {
		entry, ok := rawEntry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: host call entry %T", ErrResultShape, rawEntry)
		}
		id, ok := toUint64(entry["handle"])
		if !ok {
			return nil, fmt.Errorf("%w: host call handle %v", ErrResultShape, entry["handle"])
		}
		args, _ := entry["args"].([]any)
		// Function-valued arguments arrive as source text and are
		// reconstructed on the host side.
		for i, arg := range args {
			args[i] = jsonfn.Revive(arg)
		}
		calls = append(calls, hostCall{handle: id, args: args})
	}
	return calls, nil
}

func toMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func reviveMap(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	revived, _ := jsonfn.Revive(m).(map[string]any)
	return revived
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	default:
		return 0, false
	}
}
