// Package config loads the weave configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/weave/internal/observability"
)

// Config is the top-level configuration.
type Config struct {
	Store   StoreConfig             `yaml:"store"`
	Engine  EngineConfig            `yaml:"engine"`
	Logging observability.LogConfig `yaml:"logging"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite", "postgres".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file (sqlite backend only).
	Path string `yaml:"path"`

	// DSN is the Postgres connection string (postgres backend only).
	DSN string `yaml:"dsn"`

	// BusyTimeout bounds SQLite lock waits.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// EngineConfig holds engine defaults.
type EngineConfig struct {
	// Model is the default model ID for token estimates.
	Model string `yaml:"model"`

	// Renderer is the default output format: "xml", "markdown" or "toml".
	Renderer string `yaml:"renderer"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:     "memory",
			Path:        "weave.db",
			BusyTimeout: 5 * time.Second,
		},
		Engine: EngineConfig{
			Model:    "claude-3-5-sonnet-latest",
			Renderer: "xml",
		},
		Logging: observability.LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays WEAVE_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("WEAVE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("WEAVE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("WEAVE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("WEAVE_STORE_BUSY_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Store.BusyTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("WEAVE_MODEL"); v != "" {
		cfg.Engine.Model = v
	}
	if v := os.Getenv("WEAVE_RENDERER"); v != "" {
		cfg.Engine.Renderer = v
	}
	if v := os.Getenv("WEAVE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WEAVE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store: sqlite backend requires a path")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store: postgres backend requires a dsn")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}

	switch c.Engine.Renderer {
	case "", "xml", "markdown", "md", "toml":
	default:
		return fmt.Errorf("engine: unknown renderer %q", c.Engine.Renderer)
	}
	return nil
}
