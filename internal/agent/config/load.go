package config

import (
	"fmt"

	"github.com/yndnr/farmsync-go/internal/infra/confloader"
)

// Load builds the configuration from the defaults, the file at path, the
// environment and overrides, then verifies it. An empty path uses
// DefaultPath and tolerates its absence.
func Load(path string, overrides map[string]any) (*Config, error) {
	optional := path == ""
	if optional {
		path = DefaultPath()
	}

	l := confloader.NewLoader(confloader.WithConfigFile(path, optional))
	cfg := Default()
	if err := l.Load(cfg); err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if err := l.LoadMap(overrides); err != nil {
			return nil, err
		}
		if err := l.Unmarshal(cfg); err != nil {
			return nil, err
		}
	}
	if err := Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
