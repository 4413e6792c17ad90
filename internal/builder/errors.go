package builder

import (
	"errors"
	"fmt"
)

var (
	// ErrBuilder is the base error type for chart builder errors.
	ErrBuilder = errors.New("chart builder error")

	// ErrDisposed indicates a stage was invoked after Dispose.
	ErrDisposed = fmt.Errorf("%w: disposed", ErrBuilder)

	// ErrSharedTab indicates the Shared tab failed to parse as JSON.
	ErrSharedTab = fmt.Errorf("%w: invalid JSON in Shared tab", ErrBuilder)
)

// ModuleLookupError reports a failed shared-module resolution. Status
// distinguishes access-denied and not-found lookups from transport
// failures.
type ModuleLookupError struct {
	Name   string
	Status int
	Err    error
}

func (e *ModuleLookupError) Error() string {
	return fmt.Sprintf("module %q lookup failed (status %d)", e.Name, e.Status)
}

func (e *ModuleLookupError) Unwrap() error {
	return e.Err
}

// DepsResolveError is raised when shared-module resolution or execution
// fails; the orchestrator translates it into a DEPS_RESOLVE_ERROR
// response.
type DepsResolveError struct {
	// Filename names the failing module when known.
	Filename string
	// Reason is the author-facing reason string.
	Reason string
	// Status carries the lookup HTTP status, when one was observed.
	Status int
	// Underlying retains the cause.
	Underlying error
}

func (e *DepsResolveError) Error() string {
	return fmt.Sprintf("error resolving module (%s): %s", e.Filename, e.Reason)
}

func (e *DepsResolveError) Unwrap() error {
	return e.Underlying
}

// AsDepsResolveError extracts a *DepsResolveError from err, if present.
func AsDepsResolveError(err error) (*DepsResolveError, bool) {
	var de *DepsResolveError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func depsErrorFromLookup(err *ModuleLookupError) *DepsResolveError {
	reason := "internal error"
	switch err.Status {
	case 403:
		reason = "access denied"
	case 404:
		reason = "not found"
	}
	return &DepsResolveError{
		Filename:   err.Name,
		Reason:     reason,
		Status:     err.Status,
		Underlying: err,
	}
}
