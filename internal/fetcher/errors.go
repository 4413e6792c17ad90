package fetcher

import (
	"errors"
	"fmt"

	"github.com/akrasnov87/charts-engine/internal/chartsengine"
)

var (
	// ErrFetcher is the base error type for data fetcher errors.
	ErrFetcher = errors.New("data fetcher error")

	// ErrBadSources indicates the Sources tab exported an unusable shape.
	ErrBadSources = fmt.Errorf("%w: invalid sources", ErrFetcher)
)

// SourceError is the per-source failure record. Status carries the
// upstream HTTP status when one was observed; Code is set for size-limit
// violations.
type SourceError struct {
	Code    chartsengine.ErrorCode `json:"code,omitempty"`
	Status  int                    `json:"status,omitempty"`
	Message string                 `json:"message,omitempty"`
	URL     string                 `json:"url,omitempty"`
}

func (e *SourceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (status %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("fetch failed (status %d): %s", e.Status, e.Message)
}

// AggregateError reports that one or more sources failed. StatusCode holds
// the aggregate classification computed over all failed sources.
type AggregateError struct {
	SourceErrors map[string]*SourceError
	StatusCode   int
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("fetching failed for %d source(s)", len(e.SourceErrors))
}

// AsAggregateError extracts an *AggregateError from err, if present.
func AsAggregateError(err error) (*AggregateError, bool) {
	var ae *AggregateError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// classify folds the per-source failures into one status code:
//
//  1. any size-limit violation wins outright;
//  2. otherwise, if every failure carries a status strictly between 399
//     and 500, the aggregate is the 400-class default;
//  3. otherwise (including failures with no status at all) the aggregate
//     is the 500-class default.
func classify(sourceErrors map[string]*SourceError) int {
	maybe400 := false
	maybe500 := false
	for _, srcErr := range sourceErrors {
		if srcErr.Code.IsSizeLimit() {
			return chartsengine.DefaultSourceSizeLimitStatus
		}
		if srcErr.Status > 399 && srcErr.Status < 500 {
			maybe400 = true
		} else {
			maybe500 = true
		}
	}
	if maybe400 && !maybe500 {
		return chartsengine.DefaultSourceFetchingStatus400
	}
	return chartsengine.DefaultSourceFetchingStatus500
}
