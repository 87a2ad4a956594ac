package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Store.Backend != "memory" {
		t.Errorf("backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Engine.Renderer != "xml" {
		t.Errorf("renderer = %q, want xml", cfg.Engine.Renderer)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.yaml")
	content := `
store:
  backend: sqlite
  path: /tmp/weave-test.db
  busy_timeout: 2s
engine:
  model: gpt-4o
  renderer: markdown
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.Path != "/tmp/weave-test.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Store.BusyTimeout != 2*time.Second {
		t.Errorf("busy timeout = %v, want 2s", cfg.Store.BusyTimeout)
	}
	if cfg.Engine.Model != "gpt-4o" || cfg.Engine.Renderer != "markdown" {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WEAVE_STORE_BACKEND", "sqlite")
	t.Setenv("WEAVE_STORE_PATH", "/tmp/env.db")
	t.Setenv("WEAVE_MODEL", "haiku")
	t.Setenv("WEAVE_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.Path != "/tmp/env.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Engine.Model != "haiku" {
		t.Errorf("model = %q", cfg.Engine.Model)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"memory ok", func(c *Config) { c.Store.Backend = "memory" }, false},
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }, true},
		{"sqlite without path", func(c *Config) { c.Store.Backend = "sqlite"; c.Store.Path = "" }, true},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = "postgres" }, true},
		{"postgres with dsn", func(c *Config) {
			c.Store.Backend = "postgres"
			c.Store.DSN = "postgres://localhost/weave"
		}, false},
		{"unknown renderer", func(c *Config) { c.Engine.Renderer = "html" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
