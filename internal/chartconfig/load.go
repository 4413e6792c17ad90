package chartconfig

import (
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load decodes a chart config from TOML.
func Load(r io.Reader) (*ChartConfig, error) {
	var cfg ChartConfig
	decoder := toml.NewDecoder(r)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChartConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and decodes a chart config file.
func LoadFile(path string) (*ChartConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChartConfig, err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}
