// Package comments resolves chart comments from the comments service.
// Lookups are best-effort: the processor logs failures and returns the
// chart without comments.
package comments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"resty.dev/v3"

	"github.com/akrasnov87/charts-engine/internal/processor"
)

// ErrComments is the base error type for comments client errors.
var ErrComments = errors.New("comments client error")

// DefaultTimeout bounds one comments lookup; comments must never stall a
// chart response.
const DefaultTimeout = 5 * time.Second

// Options configures a Client.
type Options struct {
	// BaseURL is the comments service root, e.g. "https://comments.svc".
	BaseURL string
	Timeout time.Duration
}

// Client fetches matched comments over HTTP.
type Client struct {
	client  *resty.Client
	logger  *slog.Logger
	baseURL string
}

// New creates a comments Client logging through the given handler.
func New(handler slog.Handler, opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrComments)
	}
	if handler == nil {
		handler = slog.Default().Handler()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		client:  resty.New().SetTimeout(opts.Timeout),
		logger:  slog.New(handler).With("component", "comments-client"),
		baseURL: opts.BaseURL,
	}, nil
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error {
	return c.client.Close()
}

// PrepareComments fetches the comments matching the chart's feed and
// current parameters.
func (c *Client) PrepareComments(ctx context.Context, req processor.CommentsRequest) (any, error) {
	payload := map[string]any{
		"feed":   req.ChartName,
		"params": req.Params,
	}
	if req.Config != nil {
		payload["config"] = req.Config
	}

	httpReq := c.client.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetBody(payload)
	for key, value := range req.Headers {
		httpReq.SetHeader(key, value)
	}

	resp, err := httpReq.Post(c.baseURL + "/v1/comments/matched")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrComments, err)
	}
	if resp.StatusCode() >= 400 {
		c.logger.Warn("Comments lookup failed",
			"feed", req.ChartName,
			"status", resp.StatusCode(),
		)
		return nil, fmt.Errorf("%w: status %d", ErrComments, resp.StatusCode())
	}

	var comments any
	if err := json.Unmarshal(resp.Bytes(), &comments); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrComments, err)
	}
	return comments, nil
}
