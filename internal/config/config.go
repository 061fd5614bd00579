// Package config loads the node's TOML configuration. A Config is an
// explicit value passed to the components that need it, so multiple nodes
// (or tests) can coexist in one process.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
)

const configRelPath = ".config/loom/config.toml"

// DefaultPath returns ~/.config/loom/config.toml, or "" if the home
// directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, configRelPath)
}

// Config holds the parsed TOML tree with typed accessors.
type Config struct {
	tree *toml.Tree
}

// Load reads a TOML config file.
func Load(path string) (*Config, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return &Config{tree: tree}, nil
}

// LoadOrDefault loads path if it exists, otherwise returns built-in defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		tree, _ := toml.Load("")
		return &Config{tree: tree}, nil
	}
	return Load(path)
}

// WriteDefault writes a commented starter config to path, failing if one
// already exists.
func WriteDefault(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	starter := `# loom node configuration

[node]
# alias = "alice"
# listen = "127.0.0.1:8776"
# log_level = "info"

[sync]
# fetch_timeout_seconds = 30
# announce_timeout_seconds = 10
`
	return os.WriteFile(path, []byte(starter), 0644)
}

// String returns the string value at key, or def if absent or mistyped.
func (c *Config) String(key, def string) string {
	raw := c.tree.Get(key)
	if raw == nil {
		return def
	}
	if val, ok := raw.(string); ok {
		return val
	}
	return def
}

// Int returns the integer value at key, or def if absent or mistyped.
func (c *Config) Int(key string, def int) int {
	raw := c.tree.Get(key)
	if raw == nil {
		return def
	}
	if val, ok := raw.(int64); ok {
		return int(val)
	}
	return def
}

// Bool returns the boolean value at key, or def if absent or mistyped.
func (c *Config) Bool(key string, def bool) bool {
	raw := c.tree.Get(key)
	if raw == nil {
		return def
	}
	if val, ok := raw.(bool); ok {
		return val
	}
	return def
}

// Strings returns the string array at key, or nil if absent.
func (c *Config) Strings(key string) []string {
	raw := c.tree.Get(key)
	if raw == nil {
		return nil
	}
	if val, ok := raw.([]string); ok {
		return val
	}
	if vals, ok := raw.([]interface{}); ok {
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
