// Package builder executes a chart's tabs through the sandbox runtime in
// the fixed pipeline order, resolving and caching shared modules once per
// request.
package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/akrasnov87/charts-engine/internal/chartconfig"
	"github.com/akrasnov87/charts-engine/internal/fetcher"
	"github.com/akrasnov87/charts-engine/internal/params"
	"github.com/akrasnov87/charts-engine/internal/runtime"
)

// BuilderTypeEditor marks the script-authored chart builder kind.
const BuilderTypeEditor = "CHART_EDITOR"

// ScriptRunner abstracts the sandbox runtime for stage execution.
type ScriptRunner interface {
	Run(
		ctx context.Context,
		script runtime.Script,
		globals map[string]any,
		callbacks map[string]runtime.Callback,
		timeout time.Duration,
	) (*runtime.Result, error)
}

// ModuleResolver locates the source of a named shared-library module.
// Lookup failures should be reported as *ModuleLookupError so access
// problems map onto the right deps-resolve reason.
type ModuleResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// ParamsInput feeds the Params stage.
type ParamsInput struct {
	Params       params.StringParams
	UsedParams   params.StringParams
	ActionParams params.StringParams
}

// StageInput feeds the data-dependent stages.
type StageInput struct {
	Params       params.StringParams
	UsedParams   params.StringParams
	ActionParams params.StringParams
	Data         map[string]any
	Sources      map[string]*fetcher.Result
	WidgetConfig map[string]any
}

// ChartBuilder is the per-request tab execution pipeline consumed by the
// orchestrator.
type ChartBuilder interface {
	Type() string
	BuildModules(ctx context.Context, onModuleBuild func(name string, timing time.Duration)) (map[string]*ChartBuilderResult, error)
	BuildShared() error
	BuildParams(ctx context.Context, in ParamsInput) (*ChartBuilderResult, error)
	BuildUrls(ctx context.Context, in StageInput) (*ChartBuilderResult, error)
	BuildChartLibraryConfig(ctx context.Context, in StageInput) (*ChartBuilderResult, error)
	BuildChartConfig(ctx context.Context, in StageInput) (*ChartBuilderResult, error)
	BuildChart(ctx context.Context, in StageInput) (*ChartBuilderResult, error)
	BuildUI(ctx context.Context, in StageInput) (*ChartBuilderResult, error)
	Dispose()
}

// SandboxBuilder runs tabs through the sandbox runtime.
type SandboxBuilder struct {
	config   *chartconfig.ChartConfig
	runner   ScriptRunner
	resolver ModuleResolver
	logger   *slog.Logger
	timeout  time.Duration

	moduleExports map[string]any
	shared        map[string]any

	disposeOnce sync.Once
	disposed    bool
}

// Options configures a SandboxBuilder.
type Options struct {
	// TabTimeout bounds each tab execution; zero means the runtime
	// default.
	TabTimeout time.Duration
}

// New creates a SandboxBuilder for one request.
func New(
	config *chartconfig.ChartConfig,
	runner ScriptRunner,
	resolver ModuleResolver,
	handler slog.Handler,
	opts Options,
) *SandboxBuilder {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &SandboxBuilder{
		config:        config,
		runner:        runner,
		resolver:      resolver,
		logger:        slog.New(handler).With("component", "chart-builder", "chart", config.ID()),
		timeout:       opts.TabTimeout,
		moduleExports: map[string]any{},
		shared:        map[string]any{},
	}
}

// Type identifies the builder kind.
func (b *SandboxBuilder) Type() string {
	return BuilderTypeEditor
}

// BuildModules resolves and executes every shared module the chart's tabs
// reference, caching exports for all subsequent stages. onModuleBuild is
// invoked per module with its execution timing.
func (b *SandboxBuilder) BuildModules(
	ctx context.Context,
	onModuleBuild func(name string, timing time.Duration),
) (map[string]*ChartBuilderResult, error) {
	if b.disposed {
		return nil, ErrDisposed
	}

	names := b.config.RequiredModules()
	results := make(map[string]*ChartBuilderResult, len(names))

	for _, name := range names {
		code, err := b.resolver.Resolve(ctx, name)
		if err != nil {
			var lookupErr *ModuleLookupError
			if errors.As(err, &lookupErr) {
				return nil, depsErrorFromLookup(lookupErr)
			}
			return nil, &DepsResolveError{
				Filename:   name,
				Reason:     "internal error",
				Underlying: err,
			}
		}

		run, err := b.runner.Run(ctx, runtime.Script{Name: name, Code: code}, map[string]any{
			"shared":  b.shared,
			"modules": b.moduleExports,
		}, nil, b.timeout)
		if err != nil {
			reason := "internal error"
			if execErr, ok := runtime.AsExecutionError(err); ok && execErr.StackTrace != "" {
				reason = execErr.StackTrace
			}
			return nil, &DepsResolveError{
				Filename:   name,
				Reason:     reason,
				Underlying: err,
			}
		}

		results[name] = resultFromRun(run)
		b.moduleExports[name] = run.Exports
		if onModuleBuild != nil {
			onModuleBuild(name, run.ExecutionTiming)
		}
	}

	return results, nil
}

// BuildShared parses the Shared tab as JSON. The parsed object is injected
// into every subsequent tab execution.
func (b *SandboxBuilder) BuildShared() error {
	if b.disposed {
		return ErrDisposed
	}
	if b.config.Tabs.Shared == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(b.config.Tabs.Shared), &b.shared); err != nil {
		return fmt.Errorf("%w: %w", ErrSharedTab, err)
	}
	return nil
}

// BuildParams executes the Params tab with the caller overrides visible.
func (b *SandboxBuilder) BuildParams(ctx context.Context, in ParamsInput) (*ChartBuilderResult, error) {
	return b.runTab(ctx, chartconfig.TabParams, b.config.Tabs.Params, map[string]any{
		"params":       paramsToAny(in.Params),
		"usedParams":   paramsToAny(in.UsedParams),
		"actionParams": paramsToAny(in.ActionParams),
	})
}

// BuildUrls executes the Sources tab with the resolved params.
func (b *SandboxBuilder) BuildUrls(ctx context.Context, in StageInput) (*ChartBuilderResult, error) {
	return b.runTab(ctx, chartconfig.TabSources, b.config.Tabs.Sources, b.stageGlobals(in))
}

// BuildChartLibraryConfig executes the library-config tab. A chart
// without one returns nil; the orchestrator substitutes an empty config.
func (b *SandboxBuilder) BuildChartLibraryConfig(ctx context.Context, in StageInput) (*ChartBuilderResult, error) {
	if b.config.Tabs.Highcharts == "" {
		return nil, nil
	}
	return b.runTab(ctx, chartconfig.TabHighcharts, b.config.Tabs.Highcharts, b.stageGlobals(in))
}

// BuildChartConfig executes the Config tab.
func (b *SandboxBuilder) BuildChartConfig(ctx context.Context, in StageInput) (*ChartBuilderResult, error) {
	return b.runTab(ctx, chartconfig.TabConfig, b.config.Tabs.Config, b.stageGlobals(in))
}

// BuildChart executes the Prepare (JS) tab, which sees the raw source
// results in addition to the extracted data payload.
func (b *SandboxBuilder) BuildChart(ctx context.Context, in StageInput) (*ChartBuilderResult, error) {
	return b.runTab(ctx, chartconfig.TabPrepare, b.config.Tabs.Prepare, b.stageGlobals(in))
}

// BuildUI executes the Controls tab.
func (b *SandboxBuilder) BuildUI(ctx context.Context, in StageInput) (*ChartBuilderResult, error) {
	return b.runTab(ctx, chartconfig.TabControls, b.config.Tabs.Controls, b.stageGlobals(in))
}

// Dispose releases builder resources. Idempotent; the orchestrator calls
// it on every exit path.
func (b *SandboxBuilder) Dispose() {
	b.disposeOnce.Do(func() {
		b.disposed = true
		b.moduleExports = nil
		b.shared = nil
		b.logger.Debug("Builder disposed")
	})
}

func (b *SandboxBuilder) runTab(
	ctx context.Context,
	name, code string,
	globals map[string]any,
) (*ChartBuilderResult, error) {
	if b.disposed {
		return nil, ErrDisposed
	}
	if code == "" {
		// Absent tabs behave as a script exporting an empty object.
		return &ChartBuilderResult{Name: name, Exports: map[string]any{}}, nil
	}

	run, err := b.runner.Run(ctx, runtime.Script{Name: name, Code: code}, globals, nil, b.timeout)
	if err != nil {
		if _, ok := runtime.AsExecutionError(err); ok {
			return failedResult(name, err), nil
		}
		return nil, fmt.Errorf("%w: tab %q: %w", ErrBuilder, name, err)
	}

	return resultFromRun(run), nil
}

func (b *SandboxBuilder) stageGlobals(in StageInput) map[string]any {
	globals := map[string]any{
		"params":       paramsToAny(in.Params),
		"usedParams":   paramsToAny(in.UsedParams),
		"actionParams": paramsToAny(in.ActionParams),
		"shared":       b.shared,
		"modules":      b.moduleExports,
	}
	if in.Data != nil {
		globals["data"] = in.Data
	}
	if in.Sources != nil {
		sources := make(map[string]any, len(in.Sources))
		for name, result := range in.Sources {
			sources[name] = map[string]any{
				"status":  result.Status,
				"size":    result.Size,
				"latency": result.Latency.Milliseconds(),
				"url":     result.URL,
			}
		}
		globals["sources"] = sources
	}
	if in.WidgetConfig != nil {
		globals["widgetConfig"] = in.WidgetConfig
	}
	return globals
}

func paramsToAny(p params.StringParams) map[string]any {
	out := make(map[string]any, len(p))
	for key, values := range p {
		items := make([]any, len(values))
		for i, v := range values {
			items[i] = v
		}
		out[key] = items
	}
	return out
}
