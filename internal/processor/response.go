package processor

import (
	"encoding/json"

	"github.com/akrasnov87/charts-engine/internal/chartconfig"
	"github.com/akrasnov87/charts-engine/internal/chartsengine"
	"github.com/akrasnov87/charts-engine/internal/params"
)

// Timings reports stage durations in milliseconds.
type Timings struct {
	ConfigResolving int64 `json:"configResolving,omitempty"`
	DataFetching    int64 `json:"dataFetching,omitempty"`
	JSExecution     int64 `json:"jsExecution,omitempty"`
}

// SuccessResponse is the assembled chart response.
type SuccessResponse struct {
	Sources       map[string]any           `json:"sources"`
	UIScheme      any                      `json:"uiScheme"`
	Params        params.StringParams      `json:"params"`
	UsedParams    params.StringParams      `json:"usedParams"`
	ActionParams  params.StringParams      `json:"actionParams,omitempty"`
	WidgetConfig  map[string]any           `json:"widgetConfig,omitempty"`
	DefaultParams params.StringParams      `json:"defaultParams"`
	Extra         map[string]any           `json:"extra"`
	Timings       Timings                  `json:"timings"`
	Data          any                      `json:"data,omitempty"`
	Config        string                   `json:"config,omitempty"`
	LibraryConfig string                   `json:"highchartsConfig,omitempty"`
	PublicAuthor  string                   `json:"publicAuthor,omitempty"`
	Comments      any                      `json:"comments,omitempty"`
	LogsV2        string                   `json:"logs_v2,omitempty"`
	Key           string                   `json:"key,omitempty"`
	ID            string                   `json:"id,omitempty"`
	Type          chartconfig.Type         `json:"type,omitempty"`
	RevID         string                   `json:"revId,omitempty"`
	StorageConfig *chartconfig.ChartConfig `json:"_confStorageConfig,omitempty"`
}

// ErrorBody is the structured error payload of a failed request.
type ErrorBody struct {
	Code       chartsengine.ErrorCode `json:"code,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Details    map[string]any         `json:"details,omitempty"`
	Debug      map[string]any         `json:"debug,omitempty"`
	StatusCode int                    `json:"statusCode,omitempty"`
}

// ErrorResponse is returned when the pipeline fails. Opaque responses hide
// every detail behind a fixed message, used when an unclassified internal
// failure must not leak to the caller.
type ErrorResponse struct {
	Failure *ErrorBody     `json:"error"`
	LogsV2  string         `json:"logs_v2,omitempty"`
	Sources map[string]any `json:"sources,omitempty"`

	// Opaque replaces the whole error payload with Failure.Message.
	Opaque bool `json:"-"`
}

// StatusCode returns the HTTP status for the response, defaulting to 500.
func (e *ErrorResponse) StatusCode() int {
	if e.Failure != nil && e.Failure.StatusCode != 0 {
		return e.Failure.StatusCode
	}
	return chartsengine.DefaultRuntimeErrorStatus
}

// MarshalJSON collapses opaque responses to a bare error string.
func (e *ErrorResponse) MarshalJSON() ([]byte, error) {
	if e.Opaque {
		message := "Internal fetching error"
		if e.Failure != nil && e.Failure.Message != "" {
			message = e.Failure.Message
		}
		return json.Marshal(map[string]any{"error": message})
	}
	type plain ErrorResponse
	return json.Marshal((*plain)(e))
}
