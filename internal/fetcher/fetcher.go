// Package fetcher performs the external data fetches declared by a
// chart's Sources tab: concurrent bounded fan-out, header and auth
// propagation, per-request and cumulative size limits, and per-source
// error tracking with an aggregate status classification.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"resty.dev/v3"

	"github.com/akrasnov87/charts-engine/internal/chartsengine"
)

const (
	// DefaultConcurrency bounds the per-request fetch fan-out.
	DefaultConcurrency = 5
	// DefaultRequestSizeLimit caps one source response body.
	DefaultRequestSizeLimit = 100 << 20
	// DefaultTotalSizeLimit caps the sum of all response bodies.
	DefaultTotalSizeLimit = 500 << 20
	// DefaultTimeout bounds one source fetch.
	DefaultTimeout = 90 * time.Second
	// DefaultRetryCount retries transient upstream failures.
	DefaultRetryCount = 1
)

// ContextHeader carries the chart identity and caller context blob to
// subrequests.
const ContextHeader = "x-dl-context"

// proxiedHeaders is the fixed allow-list of caller headers forwarded to
// sources.
var proxiedHeaders = []string{
	"x-request-id",
	"x-dl-context",
	"accept-language",
	"x-timezone-offset",
}

// RequestContext carries the per-request identity propagated to every
// source fetch.
type RequestContext struct {
	SubrequestHeaders map[string]string
	IAMToken          string
	UserID            string
	UserLogin         string
	WorkbookID        string
}

// Options configures a Fetcher. Zero values fall back to package defaults.
type Options struct {
	Concurrency      int
	RequestSizeLimit int64
	TotalSizeLimit   int64
	Timeout          time.Duration
	// RetryCount sets transient-failure retries; negative disables them.
	RetryCount int

	// Headers are static headers attached to every source request,
	// overridable per source.
	Headers map[string]string
}

// Fetcher fetches chart sources over HTTP.
type Fetcher struct {
	client           *resty.Client
	logger           *slog.Logger
	concurrency      int
	requestSizeLimit int64
	totalSizeLimit   int64
}

// New creates a Fetcher logging through the given handler.
func New(handler slog.Handler, opts Options) *Fetcher {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.RequestSizeLimit <= 0 {
		opts.RequestSizeLimit = DefaultRequestSizeLimit
	}
	if opts.TotalSizeLimit <= 0 {
		opts.TotalSizeLimit = DefaultTotalSizeLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryCount == 0 {
		opts.RetryCount = DefaultRetryCount
	} else if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount)
	if len(opts.Headers) > 0 {
		client.SetHeaders(opts.Headers)
	}

	return &Fetcher{
		client:           client,
		logger:           slog.New(handler).With("component", "data-fetcher"),
		concurrency:      opts.Concurrency,
		requestSizeLimit: opts.RequestSizeLimit,
		totalSizeLimit:   opts.TotalSizeLimit,
	}
}

// Close releases the underlying HTTP client.
func (f *Fetcher) Close() error {
	return f.client.Close()
}

// Fetch retrieves every source concurrently. On success the returned map
// has one Result per source. If any source fails, the error is an
// *AggregateError carrying the per-source failure map and the classified
// status code; results for sources that did succeed are still returned.
func (f *Fetcher) Fetch(
	ctx context.Context,
	sources map[string]Source,
	reqCtx *RequestContext,
) (map[string]*Result, error) {
	if reqCtx == nil {
		reqCtx = &RequestContext{}
	}

	var (
		mu           sync.Mutex
		totalFetched atomic.Int64
		results      = make(map[string]*Result, len(sources))
		sourceErrors = map[string]*SourceError{}
	)

	g := new(errgroup.Group)
	g.SetLimit(f.concurrency)

	for name, src := range sources {
		g.Go(func() error {
			result, srcErr := f.fetchOne(ctx, src, reqCtx, &totalFetched)
			mu.Lock()
			defer mu.Unlock()
			if srcErr != nil {
				f.logger.Warn("Source fetch failed",
					"source", name,
					"status", srcErr.Status,
					"code", srcErr.Code,
				)
				sourceErrors[name] = srcErr
				return nil
			}
			results[name] = result
			return nil
		})
	}

	// Sibling fetches never abort each other; the group is only a
	// fan-in barrier.
	_ = g.Wait()

	if len(sourceErrors) > 0 {
		return results, &AggregateError{
			SourceErrors: sourceErrors,
			StatusCode:   classify(sourceErrors),
		}
	}
	return results, nil
}

func (f *Fetcher) fetchOne(
	ctx context.Context,
	src Source,
	reqCtx *RequestContext,
	totalFetched *atomic.Int64,
) (*Result, *SourceError) {
	req := f.client.R().SetContext(ctx)

	for _, header := range proxiedHeaders {
		if value, ok := reqCtx.SubrequestHeaders[header]; ok {
			req.SetHeader(header, value)
		}
	}
	for key, value := range src.Headers {
		req.SetHeader(key, value)
	}
	if reqCtx.IAMToken != "" {
		req.SetHeader("x-iam-token", reqCtx.IAMToken)
	}
	if reqCtx.UserID != "" {
		req.SetHeader("x-user-id", reqCtx.UserID)
	}
	if reqCtx.UserLogin != "" {
		req.SetHeader("x-user-login", reqCtx.UserLogin)
	}
	if reqCtx.WorkbookID != "" {
		req.SetHeader("x-workbook-id", reqCtx.WorkbookID)
	}

	method := strings.ToUpper(src.Method)
	if method == "" {
		method = http.MethodGet
	}
	if src.Data != nil {
		req.SetHeader("content-type", "application/json")
		req.SetBody(src.Data)
	}

	start := time.Now()
	resp, err := req.Execute(method, src.URL)
	latency := time.Since(start)

	if err != nil {
		return nil, &SourceError{
			Message: err.Error(),
			URL:     src.URL,
		}
	}

	body := resp.Bytes()
	size := int64(len(body))

	if size > f.requestSizeLimit {
		return nil, &SourceError{
			Code:   chartsengine.CodeRequestSizeLimitExceeded,
			Status: resp.StatusCode(),
			URL:    src.URL,
		}
	}
	if totalFetched.Add(size) > f.totalSizeLimit {
		return nil, &SourceError{
			Code:   chartsengine.CodeAllRequestsSizeLimitExceeded,
			Status: resp.StatusCode(),
			URL:    src.URL,
		}
	}

	if resp.StatusCode() >= 400 {
		return nil, &SourceError{
			Status:  resp.StatusCode(),
			Message: truncate(string(body), 1024),
			URL:     src.URL,
		}
	}

	return &Result{
		Body:    decodeBody(body),
		Status:  resp.StatusCode(),
		Latency: latency,
		Size:    size,
		URL:     src.URL,
	}, nil
}

// decodeBody prefers structured JSON; anything else flows through as text.
func decodeBody(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	return string(body)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// BuildContextHeader merges the caller-supplied context blob with the
// chart identity, producing the subrequest context header value.
func BuildContextHeader(existing, chartID, chartKind string) (string, error) {
	blob := map[string]any{}
	if existing != "" {
		if err := json.Unmarshal([]byte(existing), &blob); err != nil {
			return "", fmt.Errorf("%w: invalid context header: %w", ErrFetcher, err)
		}
	}
	blob["chartId"] = chartID
	if chartKind != "" {
		blob["chartKind"] = chartKind
	}
	encoded, err := json.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetcher, err)
	}
	return string(encoded), nil
}
