package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

var validLogLevels = map[string]bool{
	"": true, "debug": true, "info": true, "warn": true, "error": true,
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging: invalid level: %s", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging: invalid format: %s", cfg.Logging.Format)
	}

	if len(cfg.Redis.Addresses) == 0 {
		return fmt.Errorf("redis: at least one address is required")
	}
	for i, addr := range cfg.Redis.Addresses {
		if addr == "" {
			return fmt.Errorf("redis: address %d is empty", i)
		}
	}
	if cfg.Redis.DB < 0 {
		return fmt.Errorf("redis: db must be >= 0")
	}
	if cfg.Redis.DB != 0 && len(cfg.Redis.Addresses) > 1 && cfg.Redis.MasterName == "" {
		return fmt.Errorf("redis: db selection is not supported in cluster mode")
	}
	if cfg.Redis.PoolSize < 0 {
		return fmt.Errorf("redis: pool_size must be >= 0")
	}
	if cfg.Redis.ReadyTimeout <= 0 {
		return fmt.Errorf("redis: ready_timeout must be > 0")
	}

	if cfg.Cache.ScanCount <= 0 {
		return fmt.Errorf("cache: scan_count must be > 0")
	}
	if cfg.Cache.OpTimeout < 0 {
		return fmt.Errorf("cache: op_timeout must be >= 0")
	}

	if cfg.Server.Address == "" {
		return fmt.Errorf("server: address is required")
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server: max_body_bytes must be > 0")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server: shutdown_timeout must be > 0")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics: path must start with /")
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing: sample_rate must be between 0 and 1")
		}
	}

	return nil
}
