package builder

import (
	"time"

	"github.com/akrasnov87/charts-engine/internal/runtime"
)

// RuntimeMetadata is the script-declared side channel of one tab
// execution, surfaced to the orchestrator for precedence merging and
// response assembly.
type RuntimeMetadata struct {
	UserParamsOverride       map[string]any
	UserActionParamsOverride map[string]any
	UserConfigOverride       map[string]any
	LibraryConfigOverride    map[string]any
	Extra                    map[string]any
	ExportFilename           string
	ChartsInsights           any
	SideMarkdown             string
	DataSourcesInfos         map[string]any

	// Error holds a tab execution failure. Stages return it here
	// instead of failing outright so the orchestrator can attach logs
	// and classify centrally.
	Error error
}

// ChartBuilderResult is the outcome of one tab execution.
type ChartBuilderResult struct {
	Name            string
	Exports         any
	Logs            [][]runtime.LogItem
	RuntimeMetadata RuntimeMetadata
	ExecutionTiming time.Duration
}

func resultFromRun(run *runtime.Result) *ChartBuilderResult {
	return &ChartBuilderResult{
		Name:    run.Name,
		Exports: run.Exports,
		Logs:    run.Logs,
		RuntimeMetadata: RuntimeMetadata{
			UserParamsOverride:       run.Meta.UserParamsOverride,
			UserActionParamsOverride: run.Meta.UserActionParamsOverride,
			UserConfigOverride:       run.Meta.UserConfigOverride,
			LibraryConfigOverride:    run.Meta.LibraryConfigOverride,
			Extra:                    run.Meta.Extra,
			ExportFilename:           run.Meta.ExportFilename,
			ChartsInsights:           run.Meta.ChartsInsights,
			SideMarkdown:             run.Meta.SideMarkdown,
			DataSourcesInfos:         run.Meta.DataSourcesInfos,
		},
		ExecutionTiming: run.ExecutionTiming,
	}
}

// failedResult wraps an execution error so its partial logs and timing
// still reach the processor's log storage.
func failedResult(name string, err error) *ChartBuilderResult {
	result := &ChartBuilderResult{Name: name}
	result.RuntimeMetadata.Error = err
	if execErr, ok := runtime.AsExecutionError(err); ok {
		result.Logs = execErr.Logs
		result.ExecutionTiming = execErr.ExecutionTiming
	}
	return result
}
