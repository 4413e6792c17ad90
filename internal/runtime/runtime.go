// Package runtime executes tab scripts in isolation using go-polyscript's
// Risor engine. Each call carries its own wall-clock deadline; scripts see
// only the globals explicitly injected for their stage, and everything
// crossing the boundary is plain data.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robbyt/go-polyscript/engines/risor"
	"github.com/robbyt/go-polyscript/platform/constants"
	"github.com/robbyt/go-polyscript/platform/data"
	"github.com/robbyt/go-polyscript/platform/script/loader"

	"github.com/akrasnov87/charts-engine/internal/chartsengine"
)

// DefaultTimeout bounds a tab execution when the caller does not set one.
const DefaultTimeout = 5 * time.Second

// Script is one tab script submitted for execution.
type Script struct {
	// Name is the tab name, used in logs, error details, and stack
	// trace annotations.
	Name string
	// Code is the author's script source.
	Code string
}

// Runtime compiles and executes tab scripts. Safe for sequential reuse
// across the stages of one request; the handle table is request-scoped.
type Runtime struct {
	handler slog.Handler
	logger  *slog.Logger
	handles *handleTable
}

// New creates a Runtime that logs through the given handler.
func New(handler slog.Handler) *Runtime {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &Runtime{
		handler: handler,
		logger:  slog.New(handler).With("component", "sandbox"),
		handles: newHandleTable(),
	}
}

// LiveHandles reports the number of callback handles not yet disposed.
func (r *Runtime) LiveHandles() int {
	return r.handles.size()
}

// Run executes one tab script with the given globals and host callbacks
// under the deadline. It returns the decoded result or a typed
// *ExecutionError (RUNTIME_ERROR or RUNTIME_TIMEOUT_ERROR).
func (r *Runtime) Run(
	ctx context.Context,
	script Script,
	globals map[string]any,
	callbacks map[string]Callback,
	timeout time.Duration,
) (*Result, error) {
	if script.Code == "" {
		return nil, fmt.Errorf("%w: tab %q", ErrEmptyScript, script.Name)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	scriptLoader, err := loader.NewFromString(wrapScript(script.Code))
	if err != nil {
		return nil, fmt.Errorf("%w: tab %q: %w", ErrCompilation, script.Name, err)
	}

	evaluator, err := risor.FromRisorLoader(r.handler, scriptLoader)
	if err != nil {
		// Compile errors belong to the script author, so they surface
		// as runtime errors with rewritten line numbers.
		return nil, &ExecutionError{
			Code:       chartsengine.CodeRuntimeError,
			TabName:    script.Name,
			StackTrace: prepareStackTrace(err.Error(), preambleLines),
			Underlying: err,
		}
	}

	handleIDs := map[string]any{}
	registered := make([]uint64, 0, len(callbacks))
	for name, cb := range callbacks {
		id := r.handles.register(cb)
		handleIDs[name] = int64(id)
		registered = append(registered, id)
	}
	defer func() {
		for _, id := range registered {
			r.handles.release(id)
		}
	}()

	if globals == nil {
		globals = map[string]any{}
	}
	if len(handleIDs) > 0 {
		globals["__handles__"] = handleIDs
	}

	// The sink is called from inside the sandbox on every console.log,
	// so partial output survives a throw or a missed deadline.
	sink := &logSink{}
	globals[consoleSinkKey] = sink.capture

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	contextProvider := data.NewContextProvider(constants.EvalData)
	enrichedCtx, err := contextProvider.AddDataToContext(timeoutCtx, globals)
	if err != nil {
		return nil, fmt.Errorf("%w: tab %q: failed to add globals: %w", ErrRuntime, script.Name, err)
	}

	start := time.Now()
	evalResult, err := evaluator.Eval(enrichedCtx)
	duration := time.Since(start)

	if err != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded {
			r.logger.Warn("Script execution timed out",
				"tab", script.Name,
				"timeout", timeout,
			)
			return nil, &ExecutionError{
				Code:            chartsengine.CodeRuntimeTimeoutError,
				TabName:         script.Name,
				Logs:            sink.snapshot(),
				ExecutionTiming: duration,
				Underlying:      err,
			}
		}
		r.logger.Debug("Script execution failed",
			"tab", script.Name,
			"error", err,
			"duration", duration,
		)
		// Scripts signal size-limit violations by raising errors that
		// name one of the oversize codes.
		code := chartsengine.CodeRuntimeError
		if oversize, ok := chartsengine.OversizeCodeIn(err.Error()); ok {
			code = oversize
		}
		return nil, &ExecutionError{
			Code:            code,
			TabName:         script.Name,
			StackTrace:      prepareStackTrace(err.Error(), preambleLines),
			Logs:            sink.snapshot(),
			ExecutionTiming: duration,
			Underlying:      err,
		}
	}

	exports, meta, calls, err := decodeResult(evalResult.Interface())
	if err != nil {
		return nil, fmt.Errorf("tab %q: %w", script.Name, err)
	}

	if err := r.runHostCalls(ctx, script.Name, calls); err != nil {
		return nil, err
	}

	r.logger.Debug("Script executed", "tab", script.Name, "duration", duration)

	return &Result{
		Name:            script.Name,
		Exports:         exports,
		Logs:            sink.snapshot(),
		Meta:            meta,
		ExecutionTiming: duration,
	}, nil
}

// runHostCalls invokes the host callbacks the script queued during
// execution. Each pending call retains its handle until the invocation
// completes, so a handle outlives the eval only while calls reference it.
func (r *Runtime) runHostCalls(ctx context.Context, tabName string, calls []hostCall) error {
	for _, call := range calls {
		if !r.handles.retain(call.handle) {
			return fmt.Errorf("%w: tab %q handle %d", ErrUnknownHandle, tabName, call.handle)
		}
	}
	for _, call := range calls {
		cb, ok := r.handles.get(call.handle)
		if !ok {
			return fmt.Errorf("%w: tab %q handle %d", ErrUnknownHandle, tabName, call.handle)
		}
		_, err := cb(ctx, call.args)
		r.handles.release(call.handle)
		if err != nil {
			return &ExecutionError{
				Code:       chartsengine.CodeRuntimeError,
				TabName:    tabName,
				StackTrace: fmt.Sprintf("host call failed: %v", err),
				Underlying: err,
			}
		}
	}
	return nil
}
