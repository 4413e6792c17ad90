// Package settings loads engine runtime settings from TOML with
// environment variable interpolation.
package settings

import (
	"errors"
	"fmt"
	"time"

	"github.com/akrasnov87/charts-engine/internal/comments"
	"github.com/akrasnov87/charts-engine/internal/fetcher"
)

var ErrSettings = errors.New("settings error")

// Settings is the engine configuration file. All fields are optional;
// zero values fall back to package defaults downstream.
type Settings struct {
	Modules  Modules  `toml:"modules"`
	Sandbox  Sandbox  `toml:"sandbox"`
	Fetcher  Fetcher  `toml:"fetcher"`
	Comments Comments `toml:"comments"`
}

// Modules locates shared library module scripts.
type Modules struct {
	Dir string `toml:"dir" env_interpolation:"yes"`
}

// Sandbox bounds script execution.
type Sandbox struct {
	TabTimeout string `toml:"tab_timeout"`

	tabTimeout time.Duration
}

// Fetcher configures the data-fetching stage.
type Fetcher struct {
	Concurrency      int               `toml:"concurrency"`
	RequestSizeLimit int64             `toml:"request_size_limit"`
	TotalSizeLimit   int64             `toml:"total_size_limit"`
	RetryCount       int               `toml:"retry_count"`
	Timeout          string            `toml:"timeout"`
	Headers          map[string]string `toml:"headers" env_interpolation:"yes"`

	timeout time.Duration
}

// Comments configures the optional comments service client.
type Comments struct {
	BaseURL string `toml:"base_url" env_interpolation:"yes"`
	Timeout string `toml:"timeout"`

	timeout time.Duration
}

// Validate parses duration strings and checks value ranges. It must run
// after interpolation so durations may come from the environment too.
func (s *Settings) Validate() error {
	var errs []error

	parse := func(name, raw string, dst *time.Duration) {
		if raw == "" {
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: negative duration %s", name, d))
			return
		}
		*dst = d
	}

	parse("sandbox.tab_timeout", s.Sandbox.TabTimeout, &s.Sandbox.tabTimeout)
	parse("fetcher.timeout", s.Fetcher.Timeout, &s.Fetcher.timeout)
	parse("comments.timeout", s.Comments.Timeout, &s.Comments.timeout)

	if s.Fetcher.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("fetcher.concurrency: must not be negative"))
	}
	if s.Fetcher.RequestSizeLimit < 0 {
		errs = append(errs, fmt.Errorf("fetcher.request_size_limit: must not be negative"))
	}
	if s.Fetcher.TotalSizeLimit < 0 {
		errs = append(errs, fmt.Errorf("fetcher.total_size_limit: must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrSettings, errors.Join(errs...))
	}
	return nil
}

// TabTimeout returns the parsed per-tab execution deadline, zero when
// unset.
func (s *Settings) TabTimeout() time.Duration {
	return s.Sandbox.tabTimeout
}

// FetcherOptions maps the settings onto fetcher options.
func (s *Settings) FetcherOptions() fetcher.Options {
	return fetcher.Options{
		Concurrency:      s.Fetcher.Concurrency,
		RequestSizeLimit: s.Fetcher.RequestSizeLimit,
		TotalSizeLimit:   s.Fetcher.TotalSizeLimit,
		Timeout:          s.Fetcher.timeout,
		RetryCount:       s.Fetcher.RetryCount,
		Headers:          s.Fetcher.Headers,
	}
}

// CommentsEnabled reports whether a comments service is configured.
func (s *Settings) CommentsEnabled() bool {
	return s.Comments.BaseURL != ""
}

// CommentsOptions maps the settings onto comments client options.
func (s *Settings) CommentsOptions() comments.Options {
	return comments.Options{
		BaseURL: s.Comments.BaseURL,
		Timeout: s.Comments.timeout,
	}
}
