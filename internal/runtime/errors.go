package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/akrasnov87/charts-engine/internal/chartsengine"
)

var (
	// ErrRuntime is the base error type for sandbox runtime errors.
	ErrRuntime = errors.New("sandbox runtime error")

	// ErrEmptyScript indicates an empty tab script was submitted.
	ErrEmptyScript = fmt.Errorf("%w: empty script", ErrRuntime)

	// ErrCompilation indicates the wrapped script failed to compile.
	ErrCompilation = fmt.Errorf("%w: compilation failed", ErrRuntime)

	// ErrResultShape indicates the script result did not match the
	// envelope protocol.
	ErrResultShape = fmt.Errorf("%w: unexpected result shape", ErrRuntime)

	// ErrUnknownHandle indicates a script-requested host call referenced
	// a handle that was never registered for the call.
	ErrUnknownHandle = fmt.Errorf("%w: unknown callback handle", ErrRuntime)
)

// ExecutionError is the typed failure raised when a tab script throws or
// exceeds its deadline. The orchestrator's top-level handler classifies on
// Code and surfaces StackTrace and TabName to the authoring UI.
type ExecutionError struct {
	Code            chartsengine.ErrorCode
	TabName         string
	StackTrace      string
	Logs            [][]LogItem
	ExecutionTiming time.Duration
	Underlying      error
}

func (e *ExecutionError) Error() string {
	if e.TabName != "" {
		return fmt.Sprintf("%s in tab %q", e.Code, e.TabName)
	}
	return string(e.Code)
}

func (e *ExecutionError) Unwrap() error {
	return e.Underlying
}

// IsTimeout reports whether the error is the timeout class.
func (e *ExecutionError) IsTimeout() bool {
	return e.Code == chartsengine.CodeRuntimeTimeoutError
}

// AsExecutionError extracts an *ExecutionError from err, if present.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
