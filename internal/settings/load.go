package settings

import (
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/akrasnov87/charts-engine/internal/interpolation"
)

// Load decodes engine settings from TOML, expands environment references
// in tagged fields, and validates the result.
func Load(r io.Reader) (*Settings, error) {
	var s Settings
	decoder := toml.NewDecoder(r)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSettings, err)
	}
	if err := interpolation.Apply(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSettings, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads and decodes a settings file.
func LoadFile(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSettings, err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}
