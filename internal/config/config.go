// Package config loads the application configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoggingConfig controls the diagnostic log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// APIConfig holds the HTTP API listen settings.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// UIConfig holds the terminal UI settings.
type UIConfig struct {
	RefreshMS   int  `yaml:"refresh_ms"`
	PreferNames bool `yaml:"prefer_names"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	API     APIConfig     `yaml:"api"`
	UI      UIConfig      `yaml:"ui"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		API:     APIConfig{Listen: ":8080"},
		UI:      UIConfig{RefreshMS: 100, PreferNames: true},
	}
}

// Load reads the configuration from a YAML file. Keys absent from the
// file keep their default values.
func Load(filePath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if cfg.UI.RefreshMS <= 0 {
		cfg.UI.RefreshMS = Default().UI.RefreshMS
	}
	return cfg, nil
}
