package main

import (
	"fmt"

	"github.com/akrasnov87/charts-engine/internal/logging"
	"github.com/akrasnov87/charts-engine/internal/logging/writers"
)

// setupLogger installs the process default logger from the global CLI
// flags.
func setupLogger(format, level, output string) error {
	writer, err := writers.Open(output)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	logging.SetDefault(logging.Format(format), level, writer)
	return nil
}
