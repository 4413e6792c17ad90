package runtime

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akrasnov87/charts-engine/internal/chartsengine"
	"github.com/akrasnov87/charts-engine/internal/jsonfn"
)

func TestWrapScript(t *testing.T) {
	t.Parallel()

	wrapped := wrapScript(`{"region": ["eu"]}`)

	assert.True(t, strings.HasPrefix(wrapped, scriptPreamble))
	assert.True(t, strings.HasSuffix(wrapped, scriptTail))
	assert.Contains(t, wrapped, `{"region": ["eu"]}`)

	// the offset used for stack trace rewriting must match the actual
	// number of injected lines ahead of user code
	prefix := wrapped[:strings.Index(wrapped, `{"region"`)]
	assert.Equal(t, preambleLines, strings.Count(prefix, "\n"))
}

func TestRunScript(t *testing.T) {
	t.Parallel()

	r := New(nil)
	script := Script{Name: "Params", Code: `
console.log("starting", {"region": params.get("region")})
Editor.updateParams({"region": ["us"]})
Editor.setExportFilename("sales.xlsx")
return {"title": "sales", "count": 2}
`}

	result, err := r.Run(t.Context(), script, map[string]any{
		"params": map[string]any{"region": []string{"eu"}},
	}, nil, 5*time.Second)
	require.NoError(t, err)

	exports, ok := result.Exports.(map[string]any)
	require.True(t, ok, "exports cross the boundary as a plain map")
	assert.Equal(t, "sales", exports["title"])
	assert.EqualValues(t, 2, exports["count"])

	assert.Equal(t, map[string]any{"region": []any{"us"}}, result.Meta.UserParamsOverride)
	assert.Equal(t, "sales.xlsx", result.Meta.ExportFilename)

	require.Len(t, result.Logs, 1)
	require.Len(t, result.Logs[0], 2)
	assert.Equal(t, LogItem{Type: "string", Value: "starting"}, result.Logs[0][0])
	assert.Equal(t, "json", result.Logs[0][1].Type)
	assert.Contains(t, result.Logs[0][1].Value, "eu")

	assert.Equal(t, 0, r.LiveHandles())
}

func TestRunScriptError(t *testing.T) {
	t.Parallel()

	r := New(nil)
	script := Script{Name: "Prepare", Code: `
console.log("about to fail")
throw "broken tab"
`}

	_, err := r.Run(t.Context(), script, nil, nil, 5*time.Second)
	execErr, ok := AsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, chartsengine.CodeRuntimeError, execErr.Code)
	assert.Equal(t, "Prepare", execErr.TabName)

	// console output emitted before the throw survives the failure
	require.Len(t, execErr.Logs, 1)
	assert.Equal(t, LogItem{Type: "string", Value: "about to fail"}, execErr.Logs[0][0])
}

func TestRunScriptOversizeError(t *testing.T) {
	t.Parallel()

	r := New(nil)
	script := Script{Name: "Prepare", Code: `throw "TABLE_OVERSIZE: 4000000 cells"`}

	_, err := r.Run(t.Context(), script, nil, nil, 5*time.Second)
	execErr, ok := AsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, chartsengine.CodeTableOversize, execErr.Code)
}

func TestRunScriptTimeout(t *testing.T) {
	t.Parallel()

	r := New(nil)
	script := Script{Name: "Prepare", Code: `
console.log("before the spin")
range(2000000000).each(i => i)
return {}
`}

	_, err := r.Run(t.Context(), script, nil, nil, 100*time.Millisecond)
	execErr, ok := AsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, chartsengine.CodeRuntimeTimeoutError, execErr.Code)
	assert.True(t, execErr.IsTimeout())

	// rows logged before the deadline still reach the caller
	require.Len(t, execErr.Logs, 1)
	assert.Equal(t, LogItem{Type: "string", Value: "before the spin"}, execErr.Logs[0][0])
}

func TestRunScriptCompileError(t *testing.T) {
	t.Parallel()

	r := New(nil)
	script := Script{Name: "Config", Code: `let = nothing here parses`}

	_, err := r.Run(t.Context(), script, nil, nil, time.Second)
	execErr, ok := AsExecutionError(err)
	require.True(t, ok)
	assert.Equal(t, chartsengine.CodeRuntimeError, execErr.Code)
	assert.NotEmpty(t, execErr.StackTrace)
}

func TestRunScriptHostCall(t *testing.T) {
	t.Parallel()

	r := New(nil)
	script := Script{Name: "Sources", Code: `
Editor.callHost(__handles__.get("notify"), ["payload", 7])
return {}
`}

	var got []any
	callbacks := map[string]Callback{
		"notify": func(_ context.Context, args []any) (any, error) {
			got = args
			return nil, nil
		},
	}

	_, err := r.Run(t.Context(), script, nil, callbacks, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "payload", got[0])
	assert.EqualValues(t, 7, got[1])

	assert.Equal(t, 0, r.LiveHandles(), "handles are released after the run")
}

func TestRunScriptEmpty(t *testing.T) {
	t.Parallel()

	r := New(nil)
	_, err := r.Run(t.Context(), Script{Name: "Params"}, nil, nil, time.Second)
	require.ErrorIs(t, err, ErrEmptyScript)
}

func TestPrepareStackTrace(t *testing.T) {
	t.Parallel()

	offset := 10

	tests := []struct {
		name  string
		trace string
		want  string
	}{
		{
			name:  "line word form shifted",
			trace: "error: undefined variable (line 15)",
			want:  "error: undefined variable (line 5)",
		},
		{
			name:  "colon form shifted keeping column",
			trace: "main.risor:12:4: type error",
			want:  "main.risor:2:4: type error",
		},
		{
			name:  "preamble frames dropped",
			trace: "error at line 15\nat line 3\nat line 11",
			want:  "error at line 5\nat line 1",
		},
		{
			name:  "no line info untouched",
			trace: "some opaque failure",
			want:  "some opaque failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, prepareStackTrace(tt.trace, offset))
		})
	}
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	sink := &logSink{}
	assert.Nil(t, sink.snapshot())

	sink.capture([]any{
		map[string]any{"type": "string", "value": "hello"},
		map[string]any{"type": "json", "value": `{"a":1}`},
		"not a log item",
	})
	sink.capture([]any{
		map[string]any{"type": "number", "value": int64(3)},
	})

	rows := sink.snapshot()
	require.Len(t, rows, 2)
	assert.Equal(t, []LogItem{
		{Type: "string", Value: "hello"},
		{Type: "json", Value: `{"a":1}`},
	}, rows[0])
	assert.Equal(t, []LogItem{{Type: "number", Value: "3"}}, rows[1])
}

func TestDecodeResult(t *testing.T) {
	t.Parallel()

	envelope := map[string]any{
		"exports": map[string]any{
			"title":     "sales",
			"formatter": "function (v) { return v; }",
		},
		"meta": map[string]any{
			"userParamsOverride": map[string]any{"region": "us"},
			"exportFilename":     "sales.xlsx",
			"hostCalls": []any{
				map[string]any{"handle": int64(3), "args": []any{"x"}},
			},
		},
	}

	exports, meta, calls, err := decodeResult(envelope)
	require.NoError(t, err)

	m := exports.(map[string]any)
	assert.Equal(t, "sales", m["title"])
	assert.Equal(t, jsonfn.Func("function (v) { return v; }"), m["formatter"],
		"function-valued exports are revived from source text")

	assert.Equal(t, map[string]any{"region": "us"}, meta.UserParamsOverride)
	assert.Equal(t, "sales.xlsx", meta.ExportFilename)

	require.Len(t, calls, 1)
	assert.Equal(t, uint64(3), calls[0].handle)
	assert.Equal(t, []any{"x"}, calls[0].args)
}

func TestDecodeResultRejectsNonMap(t *testing.T) {
	t.Parallel()

	_, _, _, err := decodeResult("not an envelope")
	require.ErrorIs(t, err, ErrResultShape)
}

func TestDecodeResultBadHandle(t *testing.T) {
	t.Parallel()

	envelope := map[string]any{
		"exports": nil,
		"meta": map[string]any{
			"hostCalls": []any{
				map[string]any{"handle": "nope"},
			},
		},
	}
	_, _, _, err := decodeResult(envelope)
	require.ErrorIs(t, err, ErrResultShape)
}

func TestHandleTableRefCounting(t *testing.T) {
	t.Parallel()

	table := newHandleTable()
	id := table.register(func(context.Context, []any) (any, error) { return nil, nil })
	assert.Equal(t, 1, table.size())

	require.True(t, table.retain(id))
	table.release(id)
	assert.Equal(t, 1, table.size(), "still referenced by pending call")

	table.release(id)
	assert.Equal(t, 0, table.size(), "disposed once no reference remains")

	assert.False(t, table.retain(id), "disposed handles cannot be revived")
	_, ok := table.get(id)
	assert.False(t, ok)
}

func TestRunHostCalls(t *testing.T) {
	t.Parallel()

	r := New(nil)

	var got []any
	id := r.handles.register(func(_ context.Context, args []any) (any, error) {
		got = args
		return nil, nil
	})

	err := r.runHostCalls(t.Context(), "Params", []hostCall{{handle: id, args: []any{"a", float64(2)}}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", float64(2)}, got)

	// the call's base reference is still held by the caller
	assert.Equal(t, 1, r.LiveHandles())
	r.handles.release(id)
	assert.Equal(t, 0, r.LiveHandles())
}

func TestRunHostCallsUnknownHandle(t *testing.T) {
	t.Parallel()

	r := New(nil)
	err := r.runHostCalls(t.Context(), "Params", []hostCall{{handle: 42}})
	require.ErrorIs(t, err, ErrUnknownHandle)
}

func TestExecutionErrorClassification(t *testing.T) {
	t.Parallel()

	timeoutErr := &ExecutionError{Code: chartsengine.CodeRuntimeTimeoutError, TabName: "Prepare"}
	assert.True(t, timeoutErr.IsTimeout())
	assert.Contains(t, timeoutErr.Error(), "Prepare")

	runtimeErr := &ExecutionError{Code: chartsengine.CodeRuntimeError}
	assert.False(t, runtimeErr.IsTimeout())

	got, ok := AsExecutionError(runtimeErr)
	require.True(t, ok)
	assert.Same(t, runtimeErr, got)

	_, ok = AsExecutionError(ErrEmptyScript)
	assert.False(t, ok)
}
