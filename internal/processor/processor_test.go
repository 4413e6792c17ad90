package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akrasnov87/charts-engine/internal/builder"
	"github.com/akrasnov87/charts-engine/internal/chartconfig"
	"github.com/akrasnov87/charts-engine/internal/chartsengine"
	"github.com/akrasnov87/charts-engine/internal/fetcher"
	"github.com/akrasnov87/charts-engine/internal/params"
	"github.com/akrasnov87/charts-engine/internal/runtime"
)

// fakeBuilder scripts the per-stage outcomes and records the stage inputs
// the orchestrator passes in.
type fakeBuilder struct {
	modules       map[string]*builder.ChartBuilderResult
	modulesErr    error
	sharedErr     error
	paramsResult  *builder.ChartBuilderResult
	sourcesResult *builder.ChartBuilderResult
	libraryResult *builder.ChartBuilderResult
	configResult  *builder.ChartBuilderResult
	jsResult      *builder.ChartBuilderResult
	uiResult      *builder.ChartBuilderResult

	stages   []string
	jsParams params.StringParams
	disposed int
}

func (f *fakeBuilder) Type() string { return builder.BuilderTypeEditor }

func (f *fakeBuilder) BuildModules(_ context.Context, onModuleBuild func(string, time.Duration)) (map[string]*builder.ChartBuilderResult, error) {
	f.stages = append(f.stages, "modules")
	if f.modulesErr != nil {
		return nil, f.modulesErr
	}
	if onModuleBuild != nil {
		for name := range f.modules {
			onModuleBuild(name, time.Millisecond)
		}
	}
	return f.modules, nil
}

func (f *fakeBuilder) BuildShared() error {
	f.stages = append(f.stages, "shared")
	return f.sharedErr
}

func (f *fakeBuilder) BuildParams(context.Context, builder.ParamsInput) (*builder.ChartBuilderResult, error) {
	f.stages = append(f.stages, "params")
	return orEmpty(f.paramsResult, chartconfig.TabParams), nil
}

func (f *fakeBuilder) BuildUrls(context.Context, builder.StageInput) (*builder.ChartBuilderResult, error) {
	f.stages = append(f.stages, "sources")
	return orEmpty(f.sourcesResult, chartconfig.TabSources), nil
}

func (f *fakeBuilder) BuildChartLibraryConfig(context.Context, builder.StageInput) (*builder.ChartBuilderResult, error) {
	f.stages = append(f.stages, "library")
	return f.libraryResult, nil
}

func (f *fakeBuilder) BuildChartConfig(context.Context, builder.StageInput) (*builder.ChartBuilderResult, error) {
	f.stages = append(f.stages, "config")
	return orEmpty(f.configResult, chartconfig.TabConfig), nil
}

func (f *fakeBuilder) BuildChart(_ context.Context, in builder.StageInput) (*builder.ChartBuilderResult, error) {
	f.stages = append(f.stages, "js")
	// Snapshot: the orchestrator mutates the shared params map after this
	// stage returns.
	f.jsParams = in.Params.Clone()
	return orEmpty(f.jsResult, chartconfig.TabPrepare), nil
}

func (f *fakeBuilder) BuildUI(context.Context, builder.StageInput) (*builder.ChartBuilderResult, error) {
	f.stages = append(f.stages, "ui")
	return orEmpty(f.uiResult, chartconfig.TabControls), nil
}

func (f *fakeBuilder) Dispose() { f.disposed++ }

func orEmpty(result *builder.ChartBuilderResult, name string) *builder.ChartBuilderResult {
	if result != nil {
		return result
	}
	return &builder.ChartBuilderResult{Name: name, Exports: map[string]any{}}
}

// fakeFetcher replays canned per-source results.
type fakeFetcher struct {
	results map[string]*fetcher.Result
	err     error
	fetched map[string]fetcher.Source
	reqCtx  fetcher.RequestContext
}

func (f *fakeFetcher) Fetch(
	_ context.Context,
	sources map[string]fetcher.Source,
	reqCtx *fetcher.RequestContext,
) (map[string]*fetcher.Result, error) {
	f.fetched = sources
	f.reqCtx = *reqCtx
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]*fetcher.Result{}
	for name := range sources {
		if result, ok := f.results[name]; ok {
			copied := *result
			out[name] = &copied
		}
	}
	return out, nil
}

type fakeMarkdown struct{ err error }

func (f *fakeMarkdown) Render(text, _ string) (string, map[string]any, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return "<p>" + text + "</p>", map[string]any{"headings": []any{}}, nil
}

func graphConfig() *chartconfig.ChartConfig {
	return &chartconfig.ChartConfig{
		Key:     "reports/sales",
		EntryID: "entry-1",
		RevID:   "rev-3",
		Type:    chartconfig.TypeGraphNode,
		Tabs:    chartconfig.Tabs{Prepare: "1"},
	}
}

func newTestProcessor(t *testing.T, cfg Config) *Processor {
	t.Helper()
	if cfg.Fetcher == nil {
		cfg.Fetcher = &fakeFetcher{}
	}
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func TestProcessSuccess(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{results: map[string]*fetcher.Result{
		"sales": {Body: map[string]any{"rows": []any{1.0, 2.0}}, Status: 200, Size: 64, URL: "https://api.test/sales"},
	}}
	fb := &fakeBuilder{
		paramsResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabParams,
			Exports: map[string]any{"region": "eu", "limit": 10.0},
		},
		sourcesResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabSources,
			Exports: map[string]any{"sales": "https://api.test/sales"},
		},
		jsResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabPrepare,
			Exports: map[string]any{"series": []any{"a"}},
		},
	}
	p := newTestProcessor(t, Config{Fetcher: fetch})

	success, failure := p.Process(context.Background(), Request{
		Config:  graphConfig(),
		Builder: fb,
		Params:  map[string]any{"region": "us"},
	})
	require.Nil(t, failure)
	require.NotNil(t, success)

	// Caller override beats the Params-tab default; untouched defaults
	// survive.
	assert.Equal(t, []string{"us"}, success.Params["region"])
	assert.Equal(t, []string{"10"}, success.Params["limit"])
	assert.Equal(t, []string{"us"}, success.UsedParams["region"])
	assert.Equal(t, []string{"eu"}, success.DefaultParams["region"])

	assert.Equal(t, map[string]any{"series": []any{"a"}}, success.Data)
	assert.Contains(t, success.Sources, "sales")
	assert.Equal(t, "entry-1", success.ID)
	assert.Equal(t, "reports/sales", success.Key)
	assert.Equal(t, "rev-3", success.RevID)
	require.NotNil(t, success.StorageConfig)
	assert.Equal(t, "entry-1", success.StorageConfig.EntryID)

	assert.Equal(t, 1, fb.disposed)
	assert.Equal(t,
		[]string{"modules", "shared", "params", "sources", "library", "config", "js", "ui"},
		fb.stages,
	)
}

func TestProcessIncludeConfig(t *testing.T) {
	t.Parallel()

	run := func(t *testing.T, features FeatureSet, include bool) *SuccessResponse {
		t.Helper()
		p := newTestProcessor(t, Config{Features: features})
		success, failure := p.Process(context.Background(), Request{
			Config:          graphConfig(),
			Builder:         &fakeBuilder{},
			ResponseOptions: ResponseOptions{IncludeConfig: include},
		})
		require.Nil(t, failure)
		return success
	}

	t.Run("feature_and_option_set", func(t *testing.T) {
		success := run(t, FeatureSet{ResponseConfig: true}, true)
		require.NotNil(t, success.StorageConfig)
		assert.Equal(t, "entry-1", success.StorageConfig.EntryID)
		assert.NotEmpty(t, success.StorageConfig.Tabs.Prepare, "full config carries the tab scripts")
	})

	t.Run("option_without_feature", func(t *testing.T) {
		success := run(t, FeatureSet{}, true)
		require.NotNil(t, success.StorageConfig)
		assert.Equal(t, "entry-1", success.StorageConfig.EntryID)
		assert.Equal(t, "reports/sales", success.StorageConfig.Key)
		assert.Empty(t, success.StorageConfig.Tabs, "identity fields only, no tab scripts")
	})

	t.Run("feature_without_option", func(t *testing.T) {
		success := run(t, FeatureSet{ResponseConfig: true}, false)
		require.NotNil(t, success.StorageConfig)
		assert.Empty(t, success.StorageConfig.Tabs, "identity fields only, no tab scripts")
	})
}

func TestProcessParamPrecedence(t *testing.T) {
	t.Parallel()

	// defaults -> caller -> Params tab override -> JS tab override ->
	// UI tab override; last writer wins.
	fb := &fakeBuilder{
		paramsResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabParams,
			Exports: map[string]any{"p": "default"},
			RuntimeMetadata: builder.RuntimeMetadata{
				UserParamsOverride: map[string]any{"p": "params-tab"},
			},
		},
		jsResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabPrepare,
			Exports: map[string]any{},
			RuntimeMetadata: builder.RuntimeMetadata{
				UserParamsOverride: map[string]any{"p": "js-tab"},
			},
		},
		uiResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabControls,
			Exports: map[string]any{},
			RuntimeMetadata: builder.RuntimeMetadata{
				UserParamsOverride: map[string]any{"p": "ui-tab"},
			},
		},
	}
	p := newTestProcessor(t, Config{})

	success, failure := p.Process(context.Background(), Request{
		Config:  graphConfig(),
		Builder: fb,
		Params:  map[string]any{"p": "caller"},
	})
	require.Nil(t, failure)
	assert.Equal(t, []string{"ui-tab"}, success.Params["p"])
	assert.Equal(t, []string{"ui-tab"}, success.UsedParams["p"])

	// The Prepare tab observed the params-tab value; its own override and
	// the UI tab's land afterwards.
	assert.Equal(t, []string{"params-tab"}, fb.jsParams["p"])
}

func TestProcessActionParams(t *testing.T) {
	t.Parallel()

	fb := &fakeBuilder{}
	p := newTestProcessor(t, Config{})

	success, failure := p.Process(context.Background(), Request{
		Config:  graphConfig(),
		Builder: fb,
		Params:  map[string]any{"_ap_selected": "north", "region": "eu"},
	})
	require.Nil(t, failure)
	assert.Equal(t, []string{"north"}, success.ActionParams["selected"])
	// Action params re-enter the merged params map under the prefix.
	assert.Equal(t, []string{"north"}, success.Params["_ap_selected"])
	assert.Equal(t, []string{"eu"}, success.Params["region"])
}

func TestProcessHooksError(t *testing.T) {
	t.Parallel()

	t.Run("structured hook error", func(t *testing.T) {
		t.Parallel()
		hooks := &stubHooks{initErr: &HookError{
			Message:    "embedding token rejected",
			StatusCode: 403,
		}}
		p := newTestProcessor(t, Config{Hooks: hooks})

		_, failure := p.Process(context.Background(), Request{Config: graphConfig(), Builder: &fakeBuilder{}})
		require.NotNil(t, failure)
		assert.Equal(t, chartsengine.CodeHooksError, failure.Failure.Code)
		assert.Equal(t, "embedding token rejected", failure.Failure.Message)
		assert.Equal(t, 403, failure.StatusCode())
	})

	t.Run("unknown init failure", func(t *testing.T) {
		t.Parallel()
		hooks := &stubHooks{initErr: errors.New("boom")}
		p := newTestProcessor(t, Config{Hooks: hooks})

		_, failure := p.Process(context.Background(), Request{Config: graphConfig(), Builder: &fakeBuilder{}})
		require.NotNil(t, failure)
		assert.Equal(t, chartsengine.CodeHooksError, failure.Failure.Code)
		assert.Equal(t, "Unhandled error init hooks", failure.Failure.Message)
		assert.Equal(t, "boom", failure.Failure.Debug["message"])
	})
}

type stubHooks struct {
	initErr   error
	formatter func(string) string
}

func (s *stubHooks) Init(context.Context, InitParams) error { return s.initErr }
func (s *stubHooks) LogsFormatter() func(string) string     { return s.formatter }

func TestProcessDepsResolveError(t *testing.T) {
	t.Parallel()

	fb := &fakeBuilder{modulesErr: &builder.DepsResolveError{
		Filename: "date-utils",
		Reason:   "not found",
		Status:   404,
	}}
	p := newTestProcessor(t, Config{})

	_, failure := p.Process(context.Background(), Request{Config: graphConfig(), Builder: fb})
	require.NotNil(t, failure)
	assert.Equal(t, chartsengine.CodeDepsResolveError, failure.Failure.Code)
	assert.Equal(t,
		"Error resolving module (date-utils): not found",
		failure.Failure.Details["stackTrace"],
	)
	assert.Equal(t, 404, failure.StatusCode())
	assert.Equal(t, 1, fb.disposed)
}

func TestProcessSharedTabError(t *testing.T) {
	t.Parallel()

	fb := &fakeBuilder{sharedErr: builder.ErrSharedTab}
	p := newTestProcessor(t, Config{})

	_, failure := p.Process(context.Background(), Request{
		Config:          graphConfig(),
		Builder:         fb,
		ResponseOptions: ResponseOptions{IncludeLogs: true},
	})
	require.NotNil(t, failure)
	assert.Equal(t, chartsengine.CodeRuntimeError, failure.Failure.Code)
	assert.Equal(t, "Invalid JSON in Shared tab", failure.Failure.Details["description"])
	assert.Contains(t, failure.LogsV2, "Invalid JSON in Shared tab")
}

func TestProcessRuntimeError(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{results: map[string]*fetcher.Result{
		"sales": {Body: "ok", Status: 200, URL: "https://api.test/sales"},
	}}
	fb := &fakeBuilder{
		sourcesResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabSources,
			Exports: map[string]any{"sales": "https://api.test/sales"},
		},
		jsResult: &builder.ChartBuilderResult{
			Name: chartconfig.TabPrepare,
			Logs: [][]runtime.LogItem{{{Type: "string", Value: "about to fail"}}},
			RuntimeMetadata: builder.RuntimeMetadata{
				Error: &runtime.ExecutionError{
					Code:       chartsengine.CodeRuntimeError,
					TabName:    chartconfig.TabPrepare,
					StackTrace: "undefined variable at line 4",
					Logs:       [][]runtime.LogItem{{{Type: "string", Value: "about to fail"}}},
				},
			},
		},
	}
	p := newTestProcessor(t, Config{Fetcher: fetch})

	_, failure := p.Process(context.Background(), Request{
		Config:          graphConfig(),
		Builder:         fb,
		ResponseOptions: ResponseOptions{IncludeLogs: true},
	})
	require.NotNil(t, failure)
	assert.Equal(t, chartsengine.CodeRuntimeError, failure.Failure.Code)
	assert.Equal(t, chartsengine.DefaultRuntimeErrorStatus, failure.StatusCode())
	assert.Equal(t, "undefined variable at line 4", failure.Failure.Details["stackTrace"])
	assert.Equal(t, chartconfig.TabPrepare, failure.Failure.Details["tabName"])
	// Already-fetched sources ride along on runtime failures.
	assert.Contains(t, failure.Sources, "sales")
	assert.Contains(t, failure.LogsV2, "about to fail")
	assert.Equal(t, 1, fb.disposed)
}

func TestProcessRuntimeTimeout(t *testing.T) {
	t.Parallel()

	var codeExecuted []CodeExecutedEvent
	fb := &fakeBuilder{
		jsResult: &builder.ChartBuilderResult{
			Name: chartconfig.TabPrepare,
			RuntimeMetadata: builder.RuntimeMetadata{
				Error: &runtime.ExecutionError{
					Code:            chartsengine.CodeRuntimeTimeoutError,
					TabName:         chartconfig.TabPrepare,
					ExecutionTiming: 250 * time.Millisecond,
				},
			},
		},
	}
	p := newTestProcessor(t, Config{
		Telemetry: TelemetryCallbacks{
			OnCodeExecuted: func(ev CodeExecutedEvent) { codeExecuted = append(codeExecuted, ev) },
		},
	})

	_, failure := p.Process(context.Background(), Request{
		Config:    graphConfig(),
		Builder:   fb,
		RequestID: "req-7",
	})
	require.NotNil(t, failure)
	assert.Equal(t, chartsengine.CodeRuntimeTimeoutError, failure.Failure.Code)
	assert.Equal(t, chartsengine.DefaultRuntimeTimeoutStatus, failure.StatusCode())

	// The successful-run event plus the timeout event both fire.
	require.NotEmpty(t, codeExecuted)
	last := codeExecuted[len(codeExecuted)-1]
	assert.Equal(t, "entry-1:reports/sales", last.ID)
	assert.Equal(t, "req-7", last.RequestID)
	assert.Equal(t, 250*time.Millisecond, last.Latency)
}

func TestProcessDataFetchingError(t *testing.T) {
	t.Parallel()

	sources := &builder.ChartBuilderResult{
		Name: chartconfig.TabSources,
		Exports: map[string]any{
			"a": "https://api.test/a",
			"b": "https://api.test/b",
		},
	}

	t.Run("aggregate failure keeps classification", func(t *testing.T) {
		t.Parallel()
		fetch := &fakeFetcher{err: &fetcher.AggregateError{
			SourceErrors: map[string]*fetcher.SourceError{
				"a": {Status: 404, URL: "https://api.test/a"},
				"b": {Status: 400, URL: "https://api.test/b"},
			},
			StatusCode: 400,
		}}
		p := newTestProcessor(t, Config{Fetcher: fetch})

		_, failure := p.Process(context.Background(), Request{
			Config:  graphConfig(),
			Builder: &fakeBuilder{sourcesResult: sources},
		})
		require.NotNil(t, failure)
		assert.Equal(t, chartsengine.CodeDataFetchingError, failure.Failure.Code)
		assert.Equal(t, 400, failure.StatusCode())
		assert.Contains(t, failure.Failure.Details, "sources")
	})

	t.Run("all forbidden maps to entry forbidden", func(t *testing.T) {
		t.Parallel()
		fetch := &fakeFetcher{err: &fetcher.AggregateError{
			SourceErrors: map[string]*fetcher.SourceError{
				"a": {Status: 403},
				"b": {Status: 403},
			},
			StatusCode: 400,
		}}
		p := newTestProcessor(t, Config{Fetcher: fetch})

		_, failure := p.Process(context.Background(), Request{
			Config:  graphConfig(),
			Builder: &fakeBuilder{sourcesResult: sources},
		})
		require.NotNil(t, failure)
		assert.Equal(t, chartsengine.CodeEntryForbidden, failure.Failure.Code)
	})

	t.Run("unclassified failure is opaque", func(t *testing.T) {
		t.Parallel()
		fetch := &fakeFetcher{err: errors.New("socket closed")}
		p := newTestProcessor(t, Config{Fetcher: fetch})

		_, failure := p.Process(context.Background(), Request{
			Config:  graphConfig(),
			Builder: &fakeBuilder{sourcesResult: sources},
		})
		require.NotNil(t, failure)
		assert.True(t, failure.Opaque)

		encoded, err := json.Marshal(failure)
		require.NoError(t, err)
		assert.JSONEq(t, `{"error": "Internal fetching error"}`, string(encoded))
	})
}

func TestProcessUIOnly(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{results: map[string]*fetcher.Result{
		"filters": {Body: []any{"north"}, Status: 200},
	}}
	fb := &fakeBuilder{
		sourcesResult: &builder.ChartBuilderResult{
			Name: chartconfig.TabSources,
			Exports: map[string]any{
				"sales":   map[string]any{"url": "https://api.test/sales"},
				"filters": map[string]any{"url": "https://api.test/filters", "ui": true},
			},
		},
		uiResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabControls,
			Exports: []any{map[string]any{"type": "select", "param": "region"}},
		},
	}
	p := newTestProcessor(t, Config{Fetcher: fetch})

	success, failure := p.Process(context.Background(), Request{
		Config:  graphConfig(),
		Builder: fb,
		UIOnly:  true,
	})
	require.Nil(t, failure)
	assert.NotContains(t, fb.stages, "config")
	assert.NotContains(t, fb.stages, "js")
	assert.Contains(t, fb.stages, "ui")

	// Only UI-flagged sources were fetched.
	assert.Contains(t, fetch.fetched, "filters")
	assert.NotContains(t, fetch.fetched, "sales")

	assert.NotNil(t, success.UIScheme)
	assert.Nil(t, success.Data)
	assert.Empty(t, success.Config)
}

func TestProcessUIScheme(t *testing.T) {
	t.Parallel()

	t.Run("private params disable controls", func(t *testing.T) {
		t.Parallel()
		control := map[string]any{"type": "select", "param": "secret"}
		fb := &fakeBuilder{
			uiResult: &builder.ChartBuilderResult{
				Name:    chartconfig.TabControls,
				Exports: []any{control},
			},
		}
		p := newTestProcessor(t, Config{})

		success, failure := p.Process(context.Background(), Request{
			Config:  graphConfig(),
			Builder: fb,
			Secure:  SecureConfig{PrivateParams: []string{"secret"}},
		})
		require.Nil(t, failure)
		require.NotNil(t, success.UIScheme)
		assert.Equal(t, true, control["disabled"])
	})

	t.Run("controls without overlay set notOverlayControls", func(t *testing.T) {
		t.Parallel()
		fb := &fakeBuilder{
			configResult: &builder.ChartBuilderResult{
				Name:    chartconfig.TabConfig,
				Exports: map[string]any{},
			},
			uiResult: &builder.ChartBuilderResult{
				Name:    chartconfig.TabControls,
				Exports: []any{map[string]any{"type": "select", "param": "region"}},
			},
		}
		p := newTestProcessor(t, Config{})

		success, failure := p.Process(context.Background(), Request{
			Config:  graphConfig(),
			Builder: fb,
		})
		require.Nil(t, failure)

		var resultConfig map[string]any
		require.NoError(t, json.Unmarshal([]byte(success.Config), &resultConfig))
		assert.Equal(t, true, resultConfig["notOverlayControls"])
	})
}

func TestProcessConfigMerging(t *testing.T) {
	t.Parallel()

	fb := &fakeBuilder{
		libraryResult: &builder.ChartBuilderResult{
			Name: chartconfig.TabHighcharts,
			Exports: map[string]any{
				"xAxis": []any{
					map[string]any{"min": 0.0},
					map[string]any{"min": 10.0},
				},
			},
		},
		configResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabConfig,
			Exports: map[string]any{"title": "Sales", "overlayControls": true},
		},
		jsResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabPrepare,
			Exports: map[string]any{},
			RuntimeMetadata: builder.RuntimeMetadata{
				UserConfigOverride:    map[string]any{"title": "Sales (EU)"},
				LibraryConfigOverride: map[string]any{"xAxis": map[string]any{"gridLineWidth": 1.0}},
			},
		},
	}
	p := newTestProcessor(t, Config{})

	success, failure := p.Process(context.Background(), Request{
		Config:  graphConfig(),
		Builder: fb,
	})
	require.Nil(t, failure)

	var resultConfig map[string]any
	require.NoError(t, json.Unmarshal([]byte(success.Config), &resultConfig))
	assert.Equal(t, "Sales (EU)", resultConfig["title"])

	// Object-vs-array merges broadcast the object over every element.
	var libraryConfig map[string]any
	require.NoError(t, json.Unmarshal([]byte(success.LibraryConfig), &libraryConfig))
	xAxis, ok := libraryConfig["xAxis"].([]any)
	require.True(t, ok)
	require.Len(t, xAxis, 2)
	for _, axis := range xAxis {
		assert.Equal(t, 1.0, axis.(map[string]any)["gridLineWidth"])
	}
}

func TestProcessExtraMetadata(t *testing.T) {
	t.Parallel()

	fb := &fakeBuilder{
		jsResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabPrepare,
			Exports: map[string]any{},
			RuntimeMetadata: builder.RuntimeMetadata{
				Extra:          map[string]any{"datasets": []any{"d1"}},
				ExportFilename: "sales-report",
				SideMarkdown:   "## Notes",
			},
		},
	}
	p := newTestProcessor(t, Config{})

	success, failure := p.Process(context.Background(), Request{Config: graphConfig(), Builder: fb})
	require.Nil(t, failure)
	assert.Equal(t, []any{"d1"}, success.Extra["datasets"])
	assert.Equal(t, "sales-report", success.Extra["exportFilename"])
	assert.Equal(t, "## Notes", success.Extra["sideMarkdown"])
}

func TestProcessMarkdownChart(t *testing.T) {
	t.Parallel()

	cfg := graphConfig()
	cfg.Type = chartconfig.TypeMarkdownNode

	fb := &fakeBuilder{
		jsResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabPrepare,
			Exports: map[string]any{"markdown": "# Title"},
		},
	}
	p := newTestProcessor(t, Config{Markdown: &fakeMarkdown{}})

	success, failure := p.Process(context.Background(), Request{Config: cfg, Builder: fb})
	require.Nil(t, failure)

	data, ok := success.Data.(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, data, "markdown")
	assert.Equal(t, "<p># Title</p>", data["html"])
	assert.Contains(t, data, "meta")
}

func TestProcessMarkdownRenderFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	cfg := graphConfig()
	cfg.Type = chartconfig.TypeMarkdownNode

	fb := &fakeBuilder{
		jsResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabPrepare,
			Exports: map[string]any{"markdown": "# Title"},
		},
	}
	p := newTestProcessor(t, Config{Markdown: &fakeMarkdown{err: errors.New("render failed")}})

	success, failure := p.Process(context.Background(), Request{Config: cfg, Builder: fb})
	require.Nil(t, failure)
	data := success.Data.(map[string]any)
	assert.Equal(t, "# Title", data["markdown"])
}

func TestProcessComments(t *testing.T) {
	t.Parallel()

	comments := &stubComments{payload: []any{map[string]any{"text": "release"}}}
	fb := &fakeBuilder{
		jsResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabPrepare,
			Exports: map[string]any{},
		},
	}
	p := newTestProcessor(t, Config{
		Comments: comments,
		Features: FeatureSet{ChartComments: true},
	})

	success, failure := p.Process(context.Background(), Request{Config: graphConfig(), Builder: fb})
	require.Nil(t, failure)
	assert.Equal(t, comments.payload, success.Comments)
	assert.Equal(t, "reports/sales", comments.lastRequest.ChartName)
}

func TestProcessCommentsFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(t, Config{
		Comments: &stubComments{err: errors.New("comments api down")},
		Features: FeatureSet{ChartComments: true},
	})

	success, failure := p.Process(context.Background(), Request{Config: graphConfig(), Builder: &fakeBuilder{}})
	require.Nil(t, failure)
	assert.Nil(t, success.Comments)
}

type stubComments struct {
	payload     any
	err         error
	lastRequest CommentsRequest
}

func (s *stubComments) PrepareComments(_ context.Context, req CommentsRequest) (any, error) {
	s.lastRequest = req
	if s.err != nil {
		return nil, s.err
	}
	return s.payload, nil
}

func TestProcessForbiddenFields(t *testing.T) {
	t.Parallel()

	fb := &fakeBuilder{
		jsResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabPrepare,
			Exports: map[string]any{"series": []any{}},
		},
	}
	p := newTestProcessor(t, Config{})

	success, failure := p.Process(context.Background(), Request{
		Config:          graphConfig(),
		Builder:         fb,
		Params:          map[string]any{"region": "eu"},
		ResponseOptions: ResponseOptions{IncludeLogs: true},
		Secure: SecureConfig{ForbiddenFields: []string{
			"config", "data", "logs_v2", "params", "defaultParams",
			"timings", "key", "id", "type", "revId", "_confStorageConfig",
			"no_such_field",
		}},
	})
	require.Nil(t, failure)
	assert.Empty(t, success.Config)
	assert.Nil(t, success.Data)
	assert.Empty(t, success.LogsV2)
	assert.Nil(t, success.Params)
	assert.Nil(t, success.DefaultParams)
	assert.Equal(t, Timings{}, success.Timings)
	assert.Empty(t, success.Key)
	assert.Empty(t, success.ID)
	assert.Empty(t, success.Type)
	assert.Empty(t, success.RevID)
	assert.Nil(t, success.StorageConfig)

	// fields not named in the denylist keep their values
	assert.NotEmpty(t, success.LibraryConfig)
	assert.NotNil(t, success.UsedParams)
}

func TestProcessContextHeader(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{}
	fb := &fakeBuilder{
		sourcesResult: &builder.ChartBuilderResult{
			Name:    chartconfig.TabSources,
			Exports: map[string]any{"sales": "https://api.test/sales"},
		},
	}
	p := newTestProcessor(t, Config{Fetcher: fetch})

	_, failure := p.Process(context.Background(), Request{
		Config:  graphConfig(),
		Builder: fb,
		Context: fetcher.RequestContext{SubrequestHeaders: map[string]string{
			"x-request-id": "req-1",
			"x-chart-kind": "widget",
		}},
	})
	require.Nil(t, failure)

	var blob map[string]any
	require.NoError(t, json.Unmarshal(
		[]byte(fetch.reqCtx.SubrequestHeaders[fetcher.ContextHeader]), &blob,
	))
	assert.Equal(t, "entry-1", blob["chartId"])
	assert.Equal(t, "widget", blob["chartKind"])
}

func TestProcessOversizeError(t *testing.T) {
	t.Parallel()

	oversize := chartsengine.NewEngineError(chartsengine.CodeRowsNumberOversize, "too many rows")
	oversize.Details = map[string]any{"rows": 2000000.0}
	fb := &fakeBuilder{
		jsResult: &builder.ChartBuilderResult{
			Name:            chartconfig.TabPrepare,
			RuntimeMetadata: builder.RuntimeMetadata{Error: oversize},
		},
	}
	p := newTestProcessor(t, Config{})

	_, failure := p.Process(context.Background(), Request{Config: graphConfig(), Builder: fb})
	require.NotNil(t, failure)
	assert.Equal(t, chartsengine.CodeRowsNumberOversize, failure.Failure.Code)
	assert.Equal(t, chartsengine.DefaultOversizeErrorStatus, failure.StatusCode())
	assert.Equal(t, map[string]any{"rows": 2000000.0}, failure.Failure.Details)
}

func TestProcessScriptRaisedOversize(t *testing.T) {
	t.Parallel()

	// a sandbox failure pre-classified as an oversize code keeps that
	// code instead of folding into RUNTIME_ERROR
	fb := &fakeBuilder{
		jsResult: &builder.ChartBuilderResult{
			Name: chartconfig.TabPrepare,
			RuntimeMetadata: builder.RuntimeMetadata{Error: &runtime.ExecutionError{
				Code:    chartsengine.CodeTableOversize,
				TabName: chartconfig.TabPrepare,
			}},
		},
	}
	p := newTestProcessor(t, Config{})

	_, failure := p.Process(context.Background(), Request{Config: graphConfig(), Builder: fb})
	require.NotNil(t, failure)
	assert.Equal(t, chartsengine.CodeTableOversize, failure.Failure.Code)
	assert.Equal(t, chartsengine.DefaultOversizeErrorStatus, failure.StatusCode())
	assert.Equal(t, chartconfig.TabPrepare, failure.Failure.Details["tabName"])
}
