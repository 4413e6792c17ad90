package chartsengine

import (
	"errors"
	"fmt"
)

var (
	// ErrEngine is the base error type for charts engine errors.
	ErrEngine = errors.New("charts engine error")

	// ErrMissingBuilder indicates that no chart builder was provided.
	ErrMissingBuilder = fmt.Errorf("%w: missing builder", ErrEngine)

	// ErrMissingConfig indicates that no chart config was provided.
	ErrMissingConfig = fmt.Errorf("%w: missing chart config", ErrEngine)

	// ErrDisposed indicates use of a builder after Dispose.
	ErrDisposed = fmt.Errorf("%w: builder disposed", ErrEngine)
)

// EngineError is the structured failure produced by any pipeline stage.
// Code selects the failure class; the remaining fields feed the terminal
// error response.
type EngineError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Details    map[string]any
	Debug      map[string]any

	// TabName is set when the failure originated in a specific tab script.
	TabName string

	// StackTrace is the script-author-visible stack trace, already
	// normalized to the author's line numbering.
	StackTrace string

	// Underlying retains the wrapped cause for logs and debugging.
	Underlying error
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// NewEngineError builds an EngineError with the given code and message.
func NewEngineError(code ErrorCode, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// AsEngineError extracts an *EngineError from err, if present.
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// MessageFromUnknownError mirrors the fallback applied to non-structured
// failures: anything that is not an EngineError surfaces a generic message
// while the real text stays in debug output only.
func MessageFromUnknownError(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
