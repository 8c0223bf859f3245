package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ryazanovegor/oliva-space/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default(".")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Storage.Driver != "json" {
		t.Fatalf("default driver: %q", cfg.Storage.Driver)
	}
	if !cfg.Bot.Enabled {
		t.Fatalf("bot should default to enabled")
	}
}

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
storage:
  driver: sqlite
  path: /var/lib/oliva/oliva.db
http:
  addr: 0.0.0.0:8080
  public_url: https://oliva.example
bot:
  enabled: false
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.HTTP.Addr != "0.0.0.0:8080" || cfg.Bot.Enabled {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestFromYAMLRejectsBadDriver(t *testing.T) {
	_, err := config.FromYAML([]byte(`
storage:
  driver: bolt
  path: x
http:
  addr: :80
`))
	if err == nil {
		t.Fatalf("expected driver validation error")
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("missing file should fall back to default: %v", err)
	}
	if cfg.Storage.Driver != "json" {
		t.Fatalf("fallback config: %+v", cfg)
	}

	if err := os.WriteFile(filepath.Join(dir, "oliva.yml"), []byte(config.GenerateDefault(dir)), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("load written default: %v", err)
	}
	if cfg.Storage.Path != filepath.Join(dir, "data", "oliva.json") {
		t.Fatalf("storage path: %q", cfg.Storage.Path)
	}
}

func TestLoadMissingFileMentionsInit(t *testing.T) {
	_, err := config.Load(t.TempDir())
	if err == nil {
		t.Fatalf("expected error for missing config")
	}
}
