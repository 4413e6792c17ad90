package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/akrasnov87/charts-engine/internal/chartconfig"
	"github.com/akrasnov87/charts-engine/internal/fancy"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate a chart configuration file",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return fmt.Errorf("chart config path required")
			}

			configPath := cmd.Args().Get(0)
			cfg, err := chartconfig.LoadFile(configPath)
			if err != nil {
				return fmt.Errorf("failed to load chart config: %w", err)
			}

			fmt.Printf("Chart config %s is valid\n\n", configPath)
			fmt.Println(fancy.ChartTree(cfg))
			return nil
		},
	}
}
