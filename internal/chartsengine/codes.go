// Package chartsengine defines the shared error taxonomy and status code
// defaults used across the chart processing pipeline.
package chartsengine

import "strings"

// ErrorCode identifies one of the fixed engine failure classes. Every error
// that reaches a caller carries exactly one of these codes.
type ErrorCode string

const (
	CodeHooksError          ErrorCode = "HOOKS_ERROR"
	CodeDepsResolveError    ErrorCode = "DEPS_RESOLVE_ERROR"
	CodeConfigLoadingError  ErrorCode = "CONFIG_LOADING_ERROR"
	CodeDataFetchingError   ErrorCode = "DATA_FETCHING_ERROR"
	CodeEntryForbidden      ErrorCode = "ENTRY_FORBIDDEN"
	CodeEntryNotFound       ErrorCode = "ENTRY_NOT_FOUND"
	CodeRowsNumberOversize  ErrorCode = "ROWS_NUMBER_OVERSIZE"
	CodeSegmentsOversize    ErrorCode = "SEGMENTS_OVERSIZE"
	CodeTableOversize       ErrorCode = "TABLE_OVERSIZE"
	CodeRuntimeError        ErrorCode = "RUNTIME_ERROR"
	CodeRuntimeTimeoutError ErrorCode = "RUNTIME_TIMEOUT_ERROR"

	// Per-source fetch size-limit codes. These appear inside a source error
	// map and influence the aggregate status classification.
	CodeRequestSizeLimitExceeded     ErrorCode = "REQUEST_SIZE_LIMIT_EXCEEDED"
	CodeAllRequestsSizeLimitExceeded ErrorCode = "ALL_REQUESTS_SIZE_LIMIT_EXCEEDED"
)

// Default HTTP status codes attached to terminal error responses.
const (
	DefaultRuntimeErrorStatus      = 500
	DefaultRuntimeTimeoutStatus    = 504
	DefaultOversizeErrorStatus     = 413
	DefaultSourceFetchingStatus400 = 400
	DefaultSourceFetchingStatus500 = 500
	DefaultSourceSizeLimitStatus   = 413
)

// IsOversize reports whether the code belongs to the oversize class.
func (c ErrorCode) IsOversize() bool {
	switch c {
	case CodeRowsNumberOversize, CodeSegmentsOversize, CodeTableOversize:
		return true
	}
	return false
}

// OversizeCodeIn scans a script error message for an oversize code. Chart
// scripts signal size-limit violations by raising errors that name the
// code, so classification happens on the message text.
func OversizeCodeIn(message string) (ErrorCode, bool) {
	for _, code := range []ErrorCode{
		CodeRowsNumberOversize, CodeSegmentsOversize, CodeTableOversize,
	} {
		if strings.Contains(message, string(code)) {
			return code, true
		}
	}
	return "", false
}

// IsSizeLimit reports whether the code signals a per-source fetch size
// limit violation.
func (c ErrorCode) IsSizeLimit() bool {
	return c == CodeRequestSizeLimitExceeded || c == CodeAllRequestsSizeLimitExceeded
}

func (c ErrorCode) String() string {
	return string(c)
}
