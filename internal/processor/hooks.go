package processor

import (
	"context"
	"time"

	"github.com/akrasnov87/charts-engine/internal/chartconfig"
)

// InitParams is passed to Hooks.Init before any tab executes.
type InitParams struct {
	Config   *chartconfig.ChartConfig
	EditMode bool
}

// Hooks lets the host observe and gate the request lifecycle. Init runs
// before module resolution; a failure aborts the pipeline with a
// HOOKS_ERROR response.
type Hooks interface {
	Init(ctx context.Context, p InitParams) error

	// LogsFormatter returns an optional per-value transform applied when
	// serializing request logs. Nil means identity.
	LogsFormatter() func(string) string
}

// HookError is a structured Init failure. Its fields are copied into the
// error response body; any other Init error produces the generic unhandled
// hooks failure.
type HookError struct {
	Message    string
	StatusCode int
	Details    map[string]any
}

func (e *HookError) Error() string {
	return e.Message
}

// NopHooks is the default no-op lifecycle implementation.
type NopHooks struct{}

func (NopHooks) Init(context.Context, InitParams) error { return nil }
func (NopHooks) LogsFormatter() func(string) string     { return nil }

// CodeExecutedEvent reports one Prepare-tab execution, including the
// timeout path where the tab never finished.
type CodeExecutedEvent struct {
	ID        string
	RequestID string
	Latency   time.Duration
}

// TabsExecutedEvent reports the assembled tab outputs just before
// serialization.
type TabsExecutedEvent struct {
	EntryID       string
	Config        map[string]any
	LibraryConfig map[string]any
	ProcessedData any
	SourceData    map[string]any
}

// TelemetryCallbacks are optional per-request observation points. Nil
// members are skipped.
type TelemetryCallbacks struct {
	OnCodeExecuted func(CodeExecutedEvent)
	OnTabsExecuted func(TabsExecutedEvent)
}

func (t TelemetryCallbacks) codeExecuted(ev CodeExecutedEvent) {
	if t.OnCodeExecuted != nil {
		t.OnCodeExecuted(ev)
	}
}

func (t TelemetryCallbacks) tabsExecuted(ev TabsExecutedEvent) {
	if t.OnTabsExecuted != nil {
		t.OnTabsExecuted(ev)
	}
}
