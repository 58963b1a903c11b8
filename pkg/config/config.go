// Package config loads, defaults, validates and materializes the datamart
// configuration.
//
// Each pluggable backend defines its own configuration shape; the Config
// struct carries type-tagged sections and only the section matching the
// selected type is decoded, by the factory functions in factories.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete datamart configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DATAMART_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Spaces locates the authoritative filesystem tree
	Spaces SpacesConfig `mapstructure:"spaces"`

	// Payload specifies the payload store type and type-specific
	// configuration
	Payload PayloadConfig `mapstructure:"payload"`

	// Index specifies the search index backend configuration
	Index IndexConfig `mapstructure:"index"`

	// Metrics toggles Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: trace, debug, info, warn, error (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=trace debug info warn error TRACE DEBUG INFO WARN ERROR"`

	// Pretty enables human-readable console output instead of JSON
	Pretty bool `mapstructure:"pretty"`

	// Output specifies where logs are written: stdout, stderr, or a file
	// path
	Output string `mapstructure:"output" validate:"required"`
}

// SpacesConfig locates the spaces root directory.
type SpacesConfig struct {
	// Root is the directory holding one subdirectory per space.
	Root string `mapstructure:"root" validate:"required"`
}

// PayloadConfig specifies payload store configuration.
//
// The Type field determines which backend is used; only the corresponding
// type-specific section is decoded.
type PayloadConfig struct {
	// Type specifies which payload backend to use.
	// Valid values: fs, s3
	Type string `mapstructure:"type" validate:"required,oneof=fs s3"`

	// FS contains filesystem-specific configuration.
	// Only used when Type = "fs"
	FS map[string]any `mapstructure:"fs"`

	// S3 contains S3-specific configuration.
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// IndexConfig specifies the search index backend configuration.
type IndexConfig struct {
	// Type specifies the index backend.
	// Valid values: badger
	Type string `mapstructure:"type" validate:"required,oneof=badger"`

	// Badger contains BadgerDB-specific configuration.
	Badger map[string]any `mapstructure:"badger"`
}

// MetricsConfig toggles metrics collection.
type MetricsConfig struct {
	// Enabled initializes the Prometheus registry when true
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses the default
//     location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variable support and config file
// search.
//
// Environment variables use the DATAMART_ prefix and underscores.
// Example: DATAMART_LOGGING_LEVEL=debug
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DATAMART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is acceptable; defaults apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path, preferring
// XDG_CONFIG_HOME, then ~/.config, then the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "datamart")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "datamart")
}
