package processor

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/akrasnov87/charts-engine/internal/builder"
	"github.com/akrasnov87/charts-engine/internal/runtime"
)

// Sentinels for numeric values JSON cannot represent. Clients decode them
// back into the originals when rendering console output.
const (
	specialNaN         = "__special_value__NaN"
	specialInfinity    = "__special_value__Infinity"
	specialNegInfinity = "__special_value__-Infinity"
)

// modulesLogKey groups shared-module console output in the serialized log
// object, separate from the per-tab keys.
const modulesLogKey = "modules"

// failedLogKey receives the partial logs of a tab that failed without a
// known name.
const failedLogKey = "failed"

// requestLogs accumulates console output per tab plus the shared-module
// output for one request.
type requestLogs struct {
	tabs             map[string][][]runtime.LogItem
	modules          [][]runtime.LogItem
	modulesCollected bool
}

func newRequestLogs() *requestLogs {
	return &requestLogs{tabs: map[string][][]runtime.LogItem{}}
}

func (l *requestLogs) set(tab string, rows [][]runtime.LogItem) {
	if len(rows) == 0 {
		return
	}
	l.tabs[tab] = rows
}

// setFailed records the partial logs of a failed tab under its name.
func (l *requestLogs) setFailed(tab string, rows [][]runtime.LogItem) {
	if len(rows) == 0 {
		return
	}
	if tab == "" {
		tab = failedLogKey
	}
	l.tabs[tab] = rows
}

// collectModules prefixes each module's log lines with its name and moves
// them into the shared module section. Runs at most once per request so a
// failure path after normal collection does not duplicate lines.
func (l *requestLogs) collectModules(modules map[string]*builder.ChartBuilderResult) {
	if l.modulesCollected || len(modules) == 0 {
		return
	}
	l.modulesCollected = true

	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, row := range modules[name].Logs {
			prefixed := append(
				[]runtime.LogItem{{Type: "string", Value: fmt.Sprintf("[%s]", name)}},
				row...,
			)
			l.modules = append(l.modules, prefixed)
		}
	}
}

// stringify serializes the accumulated logs as a single JSON object.
// Non-representable numeric values become sentinel strings; the optional
// formatter transforms every value. Serialization failures degrade to an
// empty string rather than failing the request.
func (l *requestLogs) stringify(formatter func(string) string) string {
	payload := map[string]any{
		modulesLogKey: encodeLogRows(l.modules, formatter),
	}
	for tab, rows := range l.tabs {
		payload[tab] = encodeLogRows(rows, formatter)
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(out)
}

func encodeLogRows(rows [][]runtime.LogItem, formatter func(string) string) []any {
	encoded := make([]any, 0, len(rows))
	for _, row := range rows {
		line := make([]any, 0, len(row))
		for _, item := range row {
			line = append(line, map[string]any{
				"type":  item.Type,
				"value": encodeLogValue(item, formatter),
			})
		}
		encoded = append(encoded, line)
	}
	return encoded
}

func encodeLogValue(item runtime.LogItem, formatter func(string) string) string {
	value := item.Value
	if item.Type == "number" {
		switch value {
		case "NaN":
			value = specialNaN
		case "Infinity", "+Inf":
			value = specialInfinity
		case "-Infinity", "-Inf":
			value = specialNegInfinity
		}
	}
	if formatter != nil {
		value = formatter(value)
	}
	return value
}
