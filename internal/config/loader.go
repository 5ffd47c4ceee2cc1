package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads forge.yaml from configDir (if present), expands environment
// variables, merges it over the built-in defaults, and validates the
// result. A missing config file is not an error — the defaults alone are a
// valid configuration.
func Load(configDir string) (*Config, error) {
	cfg := Defaults()

	path := filepath.Join(configDir, "forge.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("no forge.yaml found, using defaults", "path", path)
		} else {
			return nil, NewLoadError(path, err)
		}
	} else {
		data = ExpandEnv(data)
		var fromFile Config
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
		if err := mergo.Merge(cfg, fromFile, mergo.WithOverride); err != nil {
			return nil, NewLoadError(path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
