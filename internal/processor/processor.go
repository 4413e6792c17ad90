// Package processor orchestrates one chart-processing request: lifecycle
// hooks, module resolution, tab execution in pipeline order, external data
// fetching, precedence merging, and response assembly. Every request runs
// through a finite state machine so stage ordering is enforced rather than
// implied.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/robbyt/go-loglater"

	"github.com/akrasnov87/charts-engine/internal/builder"
	"github.com/akrasnov87/charts-engine/internal/chartconfig"
	"github.com/akrasnov87/charts-engine/internal/chartsengine"
	"github.com/akrasnov87/charts-engine/internal/fetcher"
	"github.com/akrasnov87/charts-engine/internal/jsonfn"
	"github.com/akrasnov87/charts-engine/internal/merge"
	"github.com/akrasnov87/charts-engine/internal/params"
	"github.com/akrasnov87/charts-engine/internal/processor/finitestate"
	"github.com/akrasnov87/charts-engine/internal/runtime"
)

// DataFetcher retrieves the chart's external sources.
type DataFetcher interface {
	Fetch(
		ctx context.Context,
		sources map[string]fetcher.Source,
		reqCtx *fetcher.RequestContext,
	) (map[string]*fetcher.Result, error)
}

// MarkdownRenderer converts markdown-chart output to HTML.
type MarkdownRenderer interface {
	Render(text, lang string) (html string, meta map[string]any, err error)
}

// CommentsRequest describes one comments lookup for a graph chart.
type CommentsRequest struct {
	ChartName string
	Config    any
	Data      any
	Params    params.StringParams
	Headers   map[string]string
}

// CommentsProvider resolves chart comments. Failures are logged, never
// surfaced: comments are strictly best-effort.
type CommentsProvider interface {
	PrepareComments(ctx context.Context, req CommentsRequest) (any, error)
}

// Config assembles a Processor.
type Config struct {
	Fetcher   DataFetcher
	Hooks     Hooks
	Markdown  MarkdownRenderer
	Comments  CommentsProvider
	Features  FeatureSet
	Telemetry TelemetryCallbacks
	Handler   slog.Handler
}

// Processor runs chart requests end to end.
type Processor struct {
	fetcher   DataFetcher
	hooks     Hooks
	markdown  MarkdownRenderer
	comments  CommentsProvider
	features  FeatureSet
	telemetry TelemetryCallbacks
	handler   slog.Handler
}

// New creates a Processor. A fetcher is required; every other collaborator
// has a no-op default.
func New(cfg Config) (*Processor, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("processor: fetcher is required")
	}
	if cfg.Hooks == nil {
		cfg.Hooks = NopHooks{}
	}
	if cfg.Handler == nil {
		cfg.Handler = slog.Default().Handler()
	}
	return &Processor{
		fetcher:   cfg.Fetcher,
		hooks:     cfg.Hooks,
		markdown:  cfg.Markdown,
		comments:  cfg.Comments,
		features:  cfg.Features,
		telemetry: cfg.Telemetry,
		handler:   cfg.Handler,
	}, nil
}

// ResponseOptions controls which optional sections the response carries.
type ResponseOptions struct {
	IncludeLogs   bool
	IncludeConfig bool
}

// Request is one chart-processing invocation.
type Request struct {
	Config  *chartconfig.ChartConfig
	Builder builder.ChartBuilder

	// Params is the caller's flat override map; action params travel in
	// the same map under the action-param prefix.
	Params       map[string]any
	WidgetConfig map[string]any

	// UIOnly skips the Config and Prepare tabs and fetches only
	// UI-flagged sources.
	UIOnly   bool
	EditMode bool

	RequestID string
	UserLang  string
	Context   fetcher.RequestContext

	// ConfigResolving is how long the caller spent resolving the stored
	// chart config; echoed back in the response timings.
	ConfigResolving time.Duration

	ResponseOptions ResponseOptions
	Secure          SecureConfig

	// DisableJSONFn is the per-caller opt-out of function-preserving
	// config serialization.
	DisableJSONFn bool
}

// run carries the mutable state of one Process invocation.
type run struct {
	p       *Processor
	req     Request
	logger  *slog.Logger
	machine finitestate.Machine
	logs    *requestLogs

	modules         map[string]*builder.ChartBuilderResult
	resolvedSources map[string]*fetcher.Result
	hiddenSources   map[string]bool
	timings         Timings
}

// Process executes the request. Exactly one of the returned responses is
// non-nil. The builder is disposed on every exit path.
func (p *Processor) Process(ctx context.Context, req Request) (*SuccessResponse, *ErrorResponse) {
	collector := loglater.NewLogCollector(p.handler)
	logger := slog.New(collector).With(
		"id", uuid.Must(uuid.NewV6()),
		"requestId", req.RequestID,
		"chart", req.Config.ID(),
	)

	machine, err := finitestate.New(collector)
	if err != nil {
		logger.Error("Failed to create pipeline state machine", "error", err)
		return nil, internalError(err)
	}

	r := &run{
		p:       p,
		req:     req,
		logger:  logger,
		machine: machine,
		logs:    newRequestLogs(),
		timings: Timings{ConfigResolving: req.ConfigResolving.Milliseconds()},
	}

	defer req.Builder.Dispose()

	success, failure := r.execute(ctx)
	if failure != nil {
		_ = machine.Transition(finitestate.StateError)
		return nil, failure
	}
	_ = machine.Transition(finitestate.StateDone)
	return success, nil
}

func (r *run) execute(ctx context.Context) (*SuccessResponse, *ErrorResponse) {
	cfg := r.req.Config

	// Lifecycle hooks gate the whole pipeline.
	_ = r.machine.Transition(finitestate.StateHooksInit)
	if failure := r.initHooks(ctx); failure != nil {
		return nil, failure
	}

	// Shared library modules.
	start := time.Now()
	modules, err := r.req.Builder.BuildModules(ctx, func(name string, timing time.Duration) {
		r.logger.Info("Module executed", "module", name, "duration", timing)
	})
	if err != nil {
		r.logger.Error("Module resolution failed", "error", err)
		return nil, r.depsResolveFailure(err)
	}
	r.modules = modules
	_ = r.machine.Transition(finitestate.StateModulesBuilt)
	r.logger.Info("Modules resolved", "duration", time.Since(start))

	// Shared tab.
	if err := r.req.Builder.BuildShared(); err != nil {
		r.logger.Error("Shared tab parsing failed", "error", err)
		r.logs.set(chartconfig.TabShared, [][]runtime.LogItem{
			{{Type: "string", Value: "Invalid JSON in Shared tab"}},
		})
		return nil, r.withLogs(&ErrorResponse{Failure: &ErrorBody{
			Code:    chartsengine.CodeRuntimeError,
			Details: map[string]any{"description": "Invalid JSON in Shared tab"},
			Debug:   map[string]any{"message": chartsengine.MessageFromUnknownError(err)},
		}})
	}
	_ = r.machine.Transition(finitestate.StateSharedParsed)

	// Params stage with the fixed precedence fold.
	callerParams, callerActionParams := params.Normalize(r.req.Params)

	paramsResult, err := r.req.Builder.BuildParams(ctx, builder.ParamsInput{
		Params:       callerParams,
		UsedParams:   params.StringParams{},
		ActionParams: callerActionParams,
	})
	if err != nil {
		return nil, internalError(err)
	}
	r.logs.set(chartconfig.TabParams, paramsResult.Logs)
	if tabErr := paramsResult.RuntimeMetadata.Error; tabErr != nil {
		return nil, r.executionFailure(tabErr)
	}

	// The Params tab exports only defaults; caller overrides win, then
	// script-requested overrides win over everything so far.
	defaults, _ := paramsResult.Exports.(map[string]any)
	used := params.StringParams{}
	for key, value := range defaults {
		used[key] = params.WrapValue(value)
	}
	effective := used.Clone()
	params.Fold(effective, used, params.Source{Name: "caller", Values: anyParams(callerParams)})
	params.SyncUsed(effective, used)
	params.Apply(effective, used, paramsResult.RuntimeMetadata.UserParamsOverride)
	actionParams := callerActionParams.Clone()
	actionParams = params.ApplyAction(actionParams, paramsResult.RuntimeMetadata.UserActionParamsOverride)
	params.Resolve(effective)
	_ = r.machine.Transition(finitestate.StateParamsResolved)

	stage := builder.StageInput{
		Params:       effective,
		UsedParams:   used,
		ActionParams: callerActionParams,
		WidgetConfig: r.req.WidgetConfig,
	}

	// Sources tab.
	start = time.Now()
	sourcesResult, err := r.req.Builder.BuildUrls(ctx, stage)
	if err != nil {
		return nil, internalError(err)
	}
	r.logs.set(chartconfig.TabSources, sourcesResult.Logs)
	r.logger.Info("Sources tab executed", "duration", time.Since(start))
	if tabErr := sourcesResult.RuntimeMetadata.Error; tabErr != nil {
		return nil, r.executionFailure(tabErr)
	}
	_ = r.machine.Transition(finitestate.StateSourcesResolved)

	// External data.
	data, failure := r.fetchData(ctx, sourcesResult.Exports)
	if failure != nil {
		return nil, failure
	}
	stage.Data = data
	_ = r.machine.Transition(finitestate.StateDataFetched)

	// Chart library config tab.
	libraryResult, err := r.req.Builder.BuildChartLibraryConfig(ctx, stage)
	if err != nil {
		return nil, internalError(err)
	}
	libraryConfig := map[string]any{}
	if libraryResult != nil {
		r.logs.set(chartconfig.TabHighcharts, libraryResult.Logs)
		if tabErr := libraryResult.RuntimeMetadata.Error; tabErr != nil {
			return nil, r.executionFailure(tabErr)
		}
		if exports, ok := libraryResult.Exports.(map[string]any); ok {
			libraryConfig = exports
		}
	}
	_ = r.machine.Transition(finitestate.StateLibraryConfigBuilt)

	userConfig := map[string]any{}
	var jsResult *builder.ChartBuilderResult
	var processedData any
	if !r.req.UIOnly {
		configResult, err := r.req.Builder.BuildChartConfig(ctx, stage)
		if err != nil {
			return nil, internalError(err)
		}
		r.logs.set(chartconfig.TabConfig, configResult.Logs)
		if tabErr := configResult.RuntimeMetadata.Error; tabErr != nil {
			return nil, r.executionFailure(tabErr)
		}
		if exports, ok := configResult.Exports.(map[string]any); ok {
			userConfig = exports
		}
		_ = r.machine.Transition(finitestate.StateConfigBuilt)

		start = time.Now()
		jsStage := stage
		jsStage.Sources = r.resolvedSources
		jsResult, err = r.req.Builder.BuildChart(ctx, jsStage)
		if err != nil {
			return nil, internalError(err)
		}
		r.timings.JSExecution = time.Since(start).Milliseconds()
		r.p.telemetry.codeExecuted(CodeExecutedEvent{
			ID:        fmt.Sprintf("%s:%s", cfg.EntryID, cfg.Key),
			RequestID: r.req.RequestID,
			Latency:   time.Since(start),
		})

		processedData = jsResult.Exports
		r.logs.set(chartconfig.TabPrepare, jsResult.Logs)
		if tabErr := jsResult.RuntimeMetadata.Error; tabErr != nil {
			return nil, r.executionFailure(tabErr)
		}

		// Editor.updateParams() from the Prepare tab wins over everything
		// merged so far.
		params.Apply(effective, used, jsResult.RuntimeMetadata.UserParamsOverride)
		actionParams = params.ApplyAction(actionParams, jsResult.RuntimeMetadata.UserActionParamsOverride)
		_ = r.machine.Transition(finitestate.StateJSExecuted)
	}

	// Controls tab.
	uiResult, err := r.req.Builder.BuildUI(ctx, stage)
	if err != nil {
		return nil, internalError(err)
	}
	r.logs.set(chartconfig.TabControls, uiResult.Logs)
	if tabErr := uiResult.RuntimeMetadata.Error; tabErr != nil {
		return nil, r.executionFailure(tabErr)
	}
	uiScheme := extractUIScheme(uiResult.Exports)
	r.disablePrivateControls(uiScheme)
	params.Apply(effective, used, uiResult.RuntimeMetadata.UserParamsOverride)
	actionParams = params.ApplyAction(actionParams, uiResult.RuntimeMetadata.UserActionParamsOverride)
	_ = r.machine.Transition(finitestate.StateUIBuilt)

	if uiScheme != nil && !r.req.UIOnly && !truthy(userConfig["overlayControls"]) {
		userConfig["notOverlayControls"] = true
	}

	r.logs.collectModules(r.modules)

	// Response assembly.
	defaultParams, _ := params.Normalize(defaults)
	responseParams := effective.Clone()
	for key, value := range params.ToActionParams(actionParams) {
		responseParams[key] = value
	}

	result := &SuccessResponse{
		Sources:       r.sourcesPayload(nil),
		UIScheme:      uiScheme,
		Params:        responseParams,
		UsedParams:    used,
		ActionParams:  actionParams,
		WidgetConfig:  r.req.WidgetConfig,
		DefaultParams: defaultParams,
		Extra:         map[string]any{},
		Timings:       r.timings,
	}
	if r.req.ResponseOptions.IncludeLogs {
		result.LogsV2 = r.logs.stringify(r.p.hooks.LogsFormatter())
	}

	if !r.req.UIOnly && jsResult != nil {
		if failure := r.assembleChartOutput(ctx, result, jsResult, userConfig, libraryConfig, processedData, effective, data); failure != nil {
			return nil, failure
		}
	}

	result.Key = cfg.Key
	result.ID = cfg.EntryID
	result.Type = cfg.Type
	result.RevID = cfg.RevID
	// The stored config is echoed back only when the deployment enables it
	// and the caller asks; everyone else gets the identity fields alone.
	if r.p.features.ResponseConfig && r.req.ResponseOptions.IncludeConfig {
		result.StorageConfig = cfg
	} else {
		result.StorageConfig = &chartconfig.ChartConfig{
			Key:     cfg.Key,
			EntryID: cfg.EntryID,
			RevID:   cfg.RevID,
			Type:    cfg.Type,
		}
	}

	r.redactForbiddenFields(result)

	_ = r.machine.Transition(finitestate.StateAssembled)
	return result, nil
}

func (r *run) initHooks(ctx context.Context) *ErrorResponse {
	err := r.p.hooks.Init(ctx, InitParams{
		Config:   r.req.Config,
		EditMode: r.req.EditMode,
	})
	if err == nil {
		return nil
	}
	r.logger.Error("Hooks init failed", "error", err)

	var hookErr *HookError
	if errors.As(err, &hookErr) {
		return &ErrorResponse{Failure: &ErrorBody{
			Code:       chartsengine.CodeHooksError,
			Message:    hookErr.Message,
			StatusCode: hookErr.StatusCode,
			Details:    hookErr.Details,
		}}
	}
	return &ErrorResponse{Failure: &ErrorBody{
		Code:    chartsengine.CodeHooksError,
		Message: "Unhandled error init hooks",
		Debug:   map[string]any{"message": chartsengine.MessageFromUnknownError(err)},
	}}
}

func (r *run) depsResolveFailure(err error) *ErrorResponse {
	if de, ok := builder.AsDepsResolveError(err); ok {
		body := &ErrorBody{
			Code: chartsengine.CodeDepsResolveError,
			Details: map[string]any{
				"stackTrace": fmt.Sprintf("Error resolving module (%s): %s", de.Filename, de.Reason),
			},
			Debug: map[string]any{"message": chartsengine.MessageFromUnknownError(err)},
		}
		if de.Status != 0 {
			body.StatusCode = de.Status
		}
		return &ErrorResponse{Failure: body}
	}
	return &ErrorResponse{Failure: &ErrorBody{
		Code: chartsengine.CodeDepsResolveError,
		Details: map[string]any{
			"stackTrace": "Error resolving required modules: internal error",
		},
		Debug: map[string]any{"message": chartsengine.MessageFromUnknownError(err)},
	}}
}

// fetchData parses the Sources tab exports, filters UI-only sources when
// requested, stamps the chart identity into the subrequest context header
// and fetches everything. The extracted bodies feed later stages; the
// remaining per-source metadata is kept for the response.
func (r *run) fetchData(ctx context.Context, exports any) (map[string]any, *ErrorResponse) {
	sources, err := fetcher.ParseSources(exports)
	if err != nil {
		r.logger.Error("Error fetching sources", "error", err)
		r.logs.collectModules(r.modules)
		return nil, &ErrorResponse{Opaque: true, Failure: &ErrorBody{Message: "Internal fetching error"}}
	}
	if r.req.UIOnly {
		sources = fetcher.FilterUIOnly(sources)
	}

	r.hiddenSources = map[string]bool{}
	for name, src := range sources {
		if src.HideInInspector {
			r.hiddenSources[name] = true
		}
	}

	reqCtx := r.req.Context
	if headers := reqCtx.SubrequestHeaders; headers != nil {
		contextValue, err := fetcher.BuildContextHeader(
			headers[fetcher.ContextHeader],
			r.req.Config.ID(),
			headers["x-chart-kind"],
		)
		if err == nil {
			cloned := make(map[string]string, len(headers))
			for k, v := range headers {
				cloned[k] = v
			}
			cloned[fetcher.ContextHeader] = contextValue
			reqCtx.SubrequestHeaders = cloned
		}
	}

	start := time.Now()
	resolved, err := r.p.fetcher.Fetch(ctx, sources, &reqCtx)
	if err != nil {
		r.logger.Error("Error fetching sources", "error", err)
		r.logs.collectModules(r.modules)
		agg, ok := fetcher.AsAggregateError(err)
		if !ok {
			return nil, &ErrorResponse{Opaque: true, Failure: &ErrorBody{Message: "Internal fetching error"}}
		}

		body := &ErrorBody{
			Code:       chartsengine.CodeDataFetchingError,
			Details:    map[string]any{"sources": agg.SourceErrors},
			StatusCode: agg.StatusCode,
			Debug:      map[string]any{"message": chartsengine.MessageFromUnknownError(err)},
		}
		if code, ok := entryAccessCode(agg); ok {
			body.Code = code
		}
		return nil, r.withLogs(&ErrorResponse{Failure: body})
	}
	if len(resolved) > 0 {
		r.timings.DataFetching = time.Since(start).Milliseconds()
	}

	r.resolvedSources = resolved
	data := make(map[string]any, len(resolved))
	for name, result := range resolved {
		data[name] = result.Body
		result.Body = nil
	}
	return data, nil
}

// assembleChartOutput merges the Config and library-config tab exports with
// the Prepare tab's overrides and serializes them, then runs the
// best-effort comments and markdown post-processing.
func (r *run) assembleChartOutput(
	ctx context.Context,
	result *SuccessResponse,
	jsResult *builder.ChartBuilderResult,
	userConfig, libraryConfig map[string]any,
	processedData any,
	effective params.StringParams,
	data map[string]any,
) *ErrorResponse {
	cfg := r.req.Config
	result.Data = processedData

	resultConfig := merge.Deep(userConfig, jsResult.RuntimeMetadata.UserConfigOverride)
	resultLibraryConfig := merge.WithBroadcast(libraryConfig, jsResult.RuntimeMetadata.LibraryConfigOverride)

	r.p.telemetry.tabsExecuted(TabsExecutedEvent{
		EntryID:       cfg.EntryID,
		Config:        resultConfig,
		LibraryConfig: resultLibraryConfig,
		ProcessedData: processedData,
		SourceData:    data,
	})

	if !r.p.features.jsAndHTMLAllowed(cfg.CreatedAt) {
		resultConfig["enableJsAndHtml"] = false
	}
	enableJsAndHtml := truthy(resultConfig["enableJsAndHtml"])
	disableJSONFn := r.p.features.NoJSONFn || r.req.DisableJSONFn || !enableJsAndHtml

	if r.req.Builder.Type() == builder.BuilderTypeEditor && disableJSONFn {
		resultConfig, _ = jsonfn.Clean(resultConfig).(map[string]any)
		resultLibraryConfig, _ = jsonfn.Clean(resultLibraryConfig).(map[string]any)
	}

	marshal := jsonfn.Marshal
	if disableJSONFn {
		marshal = jsonfn.MarshalStrict
	}
	if encoded, err := marshal(resultConfig); err == nil {
		result.Config = string(encoded)
	}
	if encoded, err := marshal(resultLibraryConfig); err == nil {
		result.LibraryConfig = string(encoded)
	}

	result.PublicAuthor = cfg.Author

	meta := jsResult.RuntimeMetadata
	if meta.Extra != nil {
		result.Extra = meta.Extra
	}
	result.Extra["chartsInsights"] = meta.ChartsInsights
	result.Extra["sideMarkdown"] = meta.SideMarkdown
	if meta.ExportFilename != "" {
		result.Extra["exportFilename"] = meta.ExportFilename
	}

	result.Sources = r.sourcesPayload(meta.DataSourcesInfos)

	r.prepareComments(ctx, result, resultConfig, effective)
	r.renderMarkdown(result)
	return nil
}

// prepareComments resolves chart comments for graph types. Any failure is
// logged and swallowed.
func (r *run) prepareComments(
	ctx context.Context,
	result *SuccessResponse,
	resultConfig map[string]any,
	effective params.StringParams,
) {
	cfg := r.req.Config
	if !r.p.features.ChartComments || r.p.comments == nil || !cfg.Type.HasComments() {
		return
	}

	// Wizard charts are addressed by entry id, node charts by key.
	chartName := cfg.Key
	if cfg.Type == chartconfig.TypeGraphWizardNode {
		chartName = cfg.EntryID
	}

	comments, err := r.p.comments.PrepareComments(ctx, CommentsRequest{
		ChartName: chartName,
		Config:    resultConfig["comments"],
		Data:      result.Data,
		Params:    effective,
		Headers:   r.req.Context.SubrequestHeaders,
	})
	if err != nil {
		r.logger.Error("Error preparing comments", "error", err)
		return
	}
	result.Comments = comments
}

// renderMarkdown replaces the markdown payload of markdown charts with
// rendered HTML. Any failure is logged and swallowed.
func (r *run) renderMarkdown(result *SuccessResponse) {
	if !r.req.Config.Type.IsMarkdown() || r.p.markdown == nil {
		return
	}

	data, ok := result.Data.(map[string]any)
	if !ok {
		r.logger.Error("Error render markdown", "error", errors.New("empty markdown or html"))
		return
	}
	text, _ := data["markdown"].(string)
	if text == "" {
		text, _ = data["html"].(string)
	}
	if text == "" {
		r.logger.Error("Error render markdown", "error", errors.New("empty markdown or html"))
		return
	}

	html, meta, err := r.p.markdown.Render(text, r.req.UserLang)
	if err != nil {
		r.logger.Error("Error render markdown", "error", err)
		return
	}
	delete(data, "markdown")
	data["html"] = html
	data["meta"] = meta
}

// executionFailure maps a failed tab execution onto the terminal error
// response: oversize codes keep their details, runtime errors carry the
// prepared stack trace and any fetched sources, timeouts still report the
// execution to telemetry.
func (r *run) executionFailure(err error) *ErrorResponse {
	r.logger.Error("Run failed", "error", err)
	r.logs.collectModules(r.modules)

	execErr, isExec := runtime.AsExecutionError(err)
	if isExec {
		r.logs.setFailed(execErr.TabName, execErr.Logs)
	}

	if ee, ok := chartsengine.AsEngineError(err); ok && ee.Code.IsOversize() {
		return r.withLogs(&ErrorResponse{Failure: &ErrorBody{
			Code:       ee.Code,
			Details:    ee.Details,
			StatusCode: chartsengine.DefaultOversizeErrorStatus,
		}})
	}
	if isExec && execErr.Code.IsOversize() {
		return r.withLogs(&ErrorResponse{Failure: &ErrorBody{
			Code:       execErr.Code,
			Details:    map[string]any{"tabName": execErr.TabName},
			StatusCode: chartsengine.DefaultOversizeErrorStatus,
		}})
	}

	if isExec && execErr.IsTimeout() {
		r.p.telemetry.codeExecuted(CodeExecutedEvent{
			ID:        fmt.Sprintf("%s:%s", r.req.Config.EntryID, r.req.Config.Key),
			RequestID: r.req.RequestID,
			Latency:   execErr.ExecutionTiming,
		})
		return r.withLogs(&ErrorResponse{Failure: &ErrorBody{
			Code:       chartsengine.CodeRuntimeTimeoutError,
			StatusCode: chartsengine.DefaultRuntimeTimeoutStatus,
		}})
	}

	response := &ErrorResponse{Failure: &ErrorBody{
		Code:       chartsengine.CodeRuntimeError,
		StatusCode: chartsengine.DefaultRuntimeErrorStatus,
		Details:    map[string]any{},
	}}
	if isExec {
		response.Failure.Details["stackTrace"] = execErr.StackTrace
		response.Failure.Details["tabName"] = execErr.TabName
	} else {
		response.Failure.Debug = map[string]any{
			"message": chartsengine.MessageFromUnknownError(err),
		}
	}
	if r.resolvedSources != nil {
		response.Sources = r.sourcesPayload(nil)
	}
	return r.withLogs(response)
}

func (r *run) withLogs(response *ErrorResponse) *ErrorResponse {
	if r.req.ResponseOptions.IncludeLogs {
		response.LogsV2 = r.logs.stringify(r.p.hooks.LogsFormatter())
	}
	return response
}

// sourcesPayload converts the fetched source metadata to the response
// shape, merging any script-declared per-source display info and dropping
// sources flagged as hidden.
func (r *run) sourcesPayload(infos map[string]any) map[string]any {
	out := make(map[string]any, len(r.resolvedSources))
	for name, result := range r.resolvedSources {
		if r.hiddenSources[name] {
			continue
		}
		entry := map[string]any{
			"status":  result.Status,
			"latency": result.Latency.Milliseconds(),
			"size":    result.Size,
			"url":     result.URL,
		}
		if info, ok := infos[name].(map[string]any); ok {
			entry = merge.Deep(entry, info)
		}
		out[name] = entry
	}
	return out
}

func (r *run) disablePrivateControls(uiScheme any) {
	if uiScheme == nil || len(r.req.Secure.PrivateParams) == 0 {
		return
	}
	private := map[string]bool{}
	for _, name := range r.req.Secure.PrivateParams {
		private[name] = true
	}

	controls, _ := uiScheme.([]any)
	if wrapper, ok := uiScheme.(map[string]any); ok {
		controls, _ = wrapper["controls"].([]any)
	}
	for _, rawControl := range controls {
		control, ok := rawControl.(map[string]any)
		if !ok {
			continue
		}
		if param, _ := control["param"].(string); private[param] {
			control["disabled"] = true
		}
	}
}

// redactForbiddenFields strips the named response fields. Every serialized
// field of the success payload can be denylisted; unknown names are
// ignored.
func (r *run) redactForbiddenFields(result *SuccessResponse) {
	for _, field := range r.req.Secure.ForbiddenFields {
		switch field {
		case "sources":
			result.Sources = nil
		case "uiScheme":
			result.UIScheme = nil
		case "params":
			result.Params = nil
		case "usedParams":
			result.UsedParams = nil
		case "actionParams":
			result.ActionParams = nil
		case "widgetConfig":
			result.WidgetConfig = nil
		case "defaultParams":
			result.DefaultParams = nil
		case "extra":
			result.Extra = nil
		case "timings":
			result.Timings = Timings{}
		case "data":
			result.Data = nil
		case "config":
			result.Config = ""
		case "highchartsConfig":
			result.LibraryConfig = ""
		case "publicAuthor":
			result.PublicAuthor = ""
		case "comments":
			result.Comments = nil
		case "logs_v2":
			result.LogsV2 = ""
		case "key":
			result.Key = ""
		case "id":
			result.ID = ""
		case "type":
			result.Type = ""
		case "revId":
			result.RevID = ""
		case "_confStorageConfig":
			result.StorageConfig = nil
		}
	}
}

// extractUIScheme accepts the Controls tab exports when they are a control
// list or an object wrapping one.
func extractUIScheme(exports any) any {
	switch val := exports.(type) {
	case []any:
		return val
	case map[string]any:
		if controls, ok := val["controls"].([]any); ok && controls != nil {
			return val
		}
	}
	return nil
}

// entryAccessCode maps a fetch failure where every source was denied or
// missing onto the entry-level access codes.
func entryAccessCode(agg *fetcher.AggregateError) (chartsengine.ErrorCode, bool) {
	if len(agg.SourceErrors) == 0 {
		return "", false
	}
	all := func(status int) bool {
		for _, srcErr := range agg.SourceErrors {
			if srcErr.Status != status {
				return false
			}
		}
		return true
	}
	if all(403) {
		return chartsengine.CodeEntryForbidden, true
	}
	if all(404) {
		return chartsengine.CodeEntryNotFound, true
	}
	return "", false
}

func internalError(err error) *ErrorResponse {
	return &ErrorResponse{Failure: &ErrorBody{
		Code:       chartsengine.CodeRuntimeError,
		StatusCode: chartsengine.DefaultRuntimeErrorStatus,
		Debug:      map[string]any{"message": chartsengine.MessageFromUnknownError(err)},
	}}
}

func anyParams(p params.StringParams) map[string]any {
	out := make(map[string]any, len(p))
	for key, value := range p {
		out[key] = value
	}
	return out
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case nil:
		return false
	default:
		return true
	}
}
