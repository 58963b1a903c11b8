package config

import (
	"path/filepath"
	"strings"
)

// Default values applied to any configuration field left unset.
const (
	// DefaultLogLevel is the default minimum log level.
	DefaultLogLevel = "info"

	// DefaultLogOutput is the default log destination.
	DefaultLogOutput = "stderr"

	// DefaultSpacesRoot is the default spaces root directory.
	DefaultSpacesRoot = "./spaces"

	// DefaultPayloadType is the default payload backend.
	DefaultPayloadType = "fs"

	// DefaultIndexType is the default index backend.
	DefaultIndexType = "badger"
)

// ApplyDefaults fills in defaults for any missing values and normalizes
// the log level to lowercase.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}

	if cfg.Spaces.Root == "" {
		cfg.Spaces.Root = DefaultSpacesRoot
	}

	if cfg.Payload.Type == "" {
		cfg.Payload.Type = DefaultPayloadType
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = DefaultIndexType
	}

	// The badger index lives next to the spaces tree unless placed
	// explicitly.
	if cfg.Index.Badger == nil {
		cfg.Index.Badger = map[string]any{}
	}
	if _, ok := cfg.Index.Badger["path"]; !ok {
		cfg.Index.Badger["path"] = filepath.Join(cfg.Spaces.Root, ".index")
	}
}
