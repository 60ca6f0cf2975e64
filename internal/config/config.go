// Package config loads lumen.yaml, the optional project file that
// configures the local store path, REPL behavior, and which native
// plugins are available.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of lumen.yaml.
type Config struct {
	Store   StoreConfig             `yaml:"store"`
	REPL    REPLConfig               `yaml:"repl"`
	Plugins map[string]PluginConfig `yaml:"plugins"`
}

type StoreConfig struct {
	// Path is the sqlite file backing store_open/store_put/store_get.
	// An empty path means in-memory, not persisted across runs.
	Path string `yaml:"path"`
}

type REPLConfig struct {
	// Disassemble prints each compiled chunk before running it.
	Disassemble bool `yaml:"disassemble"`
}

// PluginConfig points a table_* native's plugin name at its executable.
type PluginConfig struct {
	Executable string `yaml:"executable"`
}

func Default() *Config {
	return &Config{
		Store: StoreConfig{Path: "lumen.db"},
		Plugins: map[string]PluginConfig{
			"dynamodb": {Executable: "lumen-plugin-dynamodb"},
		},
	}
}

// Load reads path if it exists, merging found values over Default().
// A missing file is not an error: Lumen runs fine with no config.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
