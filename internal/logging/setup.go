// Package logging builds the slog handlers used across the engine: a
// human-oriented text handler for interactive use and a JSON handler for
// server deployments.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Format selects the handler encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// NewHandler builds a handler for the given format and level. An unknown
// format falls back to text.
func NewHandler(format Format, level string, writer io.Writer) slog.Handler {
	if format == FormatJSON {
		return NewJSONHandler(level, writer)
	}
	return NewTextHandler(level, writer)
}

// NewTextHandler configures a styled text handler. The trace level enables
// caller reporting for debugging the pipeline stages.
func NewTextHandler(level string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stderr
	}

	reportCaller := false
	reportTimestamp := false
	lvl := log.InfoLevel
	switch strings.ToLower(level) {
	case "trace":
		reportCaller = true
		reportTimestamp = true
		lvl = log.DebugLevel
	case "debug":
		reportTimestamp = true
		lvl = log.DebugLevel
	case "info":
		lvl = log.InfoLevel
	case "warn", "warning":
		lvl = log.WarnLevel
	case "error":
		lvl = log.ErrorLevel
	}

	return log.NewWithOptions(writer, log.Options{
		ReportTimestamp: reportTimestamp,
		ReportCaller:    reportCaller,
		Level:           lvl,
	})
}

// NewJSONHandler configures a JSON handler for structured log collection.
func NewJSONHandler(level string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stdout
	}

	addSource := false
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "trace":
		addSource = true
		lvl = slog.LevelDebug
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: addSource,
	})
}

// SetDefault installs a handler as the process default logger.
func SetDefault(format Format, level string, writer io.Writer) {
	slog.SetDefault(slog.New(NewHandler(format, level, writer)))
}
