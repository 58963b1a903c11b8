package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetDefaultConfig returns a fully-defaulted configuration.
func GetDefaultConfig() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// InitConfig writes a commented starter configuration file at the default
// location and returns its path. Fails when the file exists, unless force
// is set.
func InitConfig(force bool) (string, error) {
	configPath := filepath.Join(getConfigDir(), "config.yaml")
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath writes a commented starter configuration file at an
// explicit path, creating parent directories as needed.
func InitConfigToPath(configPath string, force bool) error {
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use force to overwrite)", configPath)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders the configuration as YAML with a section
// comment above each block, so the starter file doubles as documentation.
func generateYAMLWithComments(cfg *Config) (string, error) {
	sections := []struct {
		comment string
		key     string
		value   any
	}{
		{"Log output: level (trace..error), pretty console rendering, destination (stdout, stderr or a file path).",
			"logging", cfg.Logging},
		{"Spaces root: the authoritative filesystem tree, one subdirectory per space.",
			"spaces", cfg.Spaces},
		{"Payload store: fs (companions next to their metadata) or s3.",
			"payload", cfg.Payload},
		{"Search index backend. The badger index can be rebuilt from the filesystem at any time.",
			"index", cfg.Index},
		{"Prometheus metrics collection.",
			"metrics", cfg.Metrics},
	}

	var b strings.Builder
	b.WriteString("# datamart configuration file\n")
	b.WriteString("# Environment variables (DATAMART_*) override any value below,\n")
	b.WriteString("# e.g. DATAMART_LOGGING_LEVEL=debug.\n")

	for _, section := range sections {
		b.WriteString("\n# ")
		b.WriteString(section.comment)
		b.WriteString("\n")

		raw, err := yaml.Marshal(map[string]any{section.key: section.value})
		if err != nil {
			return "", fmt.Errorf("failed to render %s section: %w", section.key, err)
		}
		b.Write(raw)
	}
	return b.String(), nil
}
