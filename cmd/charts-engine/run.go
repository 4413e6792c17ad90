package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v3"

	"github.com/akrasnov87/charts-engine/internal/builder"
	"github.com/akrasnov87/charts-engine/internal/chartconfig"
	"github.com/akrasnov87/charts-engine/internal/comments"
	"github.com/akrasnov87/charts-engine/internal/fetcher"
	"github.com/akrasnov87/charts-engine/internal/markdown"
	"github.com/akrasnov87/charts-engine/internal/processor"
	"github.com/akrasnov87/charts-engine/internal/runtime"
	"github.com/akrasnov87/charts-engine/internal/settings"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute a chart configuration and print the response",
		ArgsUsage: "<chart.toml>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "param",
				Usage: "Parameter override (key=value, repeatable)",
			},
			&cli.StringFlag{
				Name:  "settings",
				Usage: "Engine settings file (TOML)",
			},
			&cli.StringFlag{
				Name:  "modules-dir",
				Usage: "Directory holding shared library module scripts",
			},
			&cli.DurationFlag{
				Name:  "tab-timeout",
				Usage: "Per-tab execution deadline",
			},
			&cli.BoolFlag{
				Name:  "ui-only",
				Usage: "Build only the UI controls (skips Config and Prepare tabs)",
			},
			&cli.BoolFlag{
				Name:  "include-logs",
				Usage: "Attach serialized tab logs to the response",
			},
			&cli.BoolFlag{
				Name:  "include-config",
				Usage: "Attach the stored chart config to the response",
			},
			&cli.BoolFlag{
				Name:  "preview",
				Usage: "Render the chart's side markdown in the terminal",
			},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() < 1 {
		return fmt.Errorf("chart config path required")
	}

	cfg, err := chartconfig.LoadFile(cmd.Args().Get(0))
	if err != nil {
		return fmt.Errorf("failed to load chart config: %w", err)
	}

	overrides, err := parseParams(cmd.StringSlice("param"))
	if err != nil {
		return err
	}

	engineSettings := &settings.Settings{}
	if path := cmd.String("settings"); path != "" {
		engineSettings, err = settings.LoadFile(path)
		if err != nil {
			return err
		}
	}
	modulesDir := cmd.String("modules-dir")
	if modulesDir == "" {
		modulesDir = engineSettings.Modules.Dir
	}
	tabTimeout := cmd.Duration("tab-timeout")
	if tabTimeout <= 0 {
		tabTimeout = engineSettings.TabTimeout()
	}

	handler := slog.Default().Handler()

	dataFetcher := fetcher.New(handler, engineSettings.FetcherOptions())
	defer func() { _ = dataFetcher.Close() }()

	procConfig := processor.Config{
		Fetcher:  dataFetcher,
		Markdown: markdown.New(),
		Handler:  handler,
	}
	// The CLI is its own operator, so asking for the config enables the
	// echo feature too.
	procConfig.Features.ResponseConfig = cmd.Bool("include-config")
	if engineSettings.CommentsEnabled() {
		commentsClient, err := comments.New(handler, engineSettings.CommentsOptions())
		if err != nil {
			return err
		}
		defer func() { _ = commentsClient.Close() }()
		procConfig.Comments = commentsClient
		procConfig.Features.ChartComments = true
	}

	proc, err := processor.New(procConfig)
	if err != nil {
		return err
	}

	chartBuilder := builder.New(
		cfg,
		runtime.New(handler),
		dirResolver{dir: modulesDir},
		handler,
		builder.Options{TabTimeout: tabTimeout},
	)

	success, failure := proc.Process(ctx, processor.Request{
		Config:  cfg,
		Builder: chartBuilder,
		Params:  overrides,
		UIOnly:  cmd.Bool("ui-only"),
		ResponseOptions: processor.ResponseOptions{
			IncludeLogs:   cmd.Bool("include-logs"),
			IncludeConfig: cmd.Bool("include-config"),
		},
	})

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	if failure != nil {
		if err := encoder.Encode(failure); err != nil {
			return err
		}
		return cli.Exit("", 1)
	}
	if err := encoder.Encode(success); err != nil {
		return err
	}

	if cmd.Bool("preview") {
		if err := renderPreview(success); err != nil {
			slog.Warn("Preview rendering failed", "error", err)
		}
	}
	return nil
}

// parseParams converts repeated key=value flags into the processor's flat
// override map; repeated keys accumulate into a list.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := map[string]any{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		switch existing := out[key].(type) {
		case nil:
			out[key] = value
		case string:
			out[key] = []string{existing, value}
		case []string:
			out[key] = append(existing, value)
		}
	}
	return out, nil
}

// renderPreview prints the chart's side markdown styled for the terminal.
func renderPreview(success *processor.SuccessResponse) error {
	text, _ := success.Extra["sideMarkdown"].(string)
	if text == "" {
		return nil
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return err
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stderr, rendered)
	return nil
}
