package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_TypedGetters(t *testing.T) {
	path := writeConfig(t, `
[node]
alias = "alice"
listen = "127.0.0.1:8776"
seeds = ["seed1.example:8776", "seed2.example:8776"]

[sync]
fetch_timeout_seconds = 15
enabled = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.String("node.alias", "anon"); got != "alice" {
		t.Fatalf("alias = %q", got)
	}
	if got := cfg.String("node.missing", "fallback"); got != "fallback" {
		t.Fatalf("default = %q", got)
	}
	if got := cfg.Int("sync.fetch_timeout_seconds", 30); got != 15 {
		t.Fatalf("timeout = %d", got)
	}
	if got := cfg.Int("sync.missing", 30); got != 30 {
		t.Fatalf("int default = %d", got)
	}
	if !cfg.Bool("sync.enabled", false) {
		t.Fatal("enabled = false")
	}
	seeds := cfg.Strings("node.seeds")
	if len(seeds) != 2 || seeds[0] != "seed1.example:8776" {
		t.Fatalf("seeds = %v", seeds)
	}
	if cfg.Strings("node.missing") != nil {
		t.Fatal("missing array not nil")
	}
}

func TestGetters_MistypedFallBack(t *testing.T) {
	path := writeConfig(t, `
[node]
alias = 42
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.String("node.alias", "anon"); got != "anon" {
		t.Fatalf("mistyped value leaked: %q", got)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if got := cfg.String("node.alias", "anon"); got != "anon" {
		t.Fatalf("empty config returned %q", got)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	// The starter file must parse.
	if _, err := Load(path); err != nil {
		t.Fatalf("starter config does not parse: %v", err)
	}
	// A second write must refuse to clobber.
	if err := WriteDefault(path); err == nil {
		t.Fatal("expected error overwriting existing config")
	}
}
