package config

// This file implements YAML config file loading. The file overlays
// DefaultConfig; a preset (when not "balanced") overlays the file; CLI
// flags bind last in the cli package.

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load builds a Config from defaults, an optional YAML file, and a named
// preset. An empty path skips file loading entirely; a missing file at an
// explicit path is an error (the user asked for it).
func Load(path string, preset Preset) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if preset != "" && preset != PresetBalanced {
		if err := cfg.ApplyPreset(preset); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Save writes the current configuration as YAML, for `config init` style
// bootstrapping and for tests.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file %s: %w", path, err)
	}
	return nil
}
