// Package settings holds the process-wide configuration shared by every
// project: the recent-projects list and free-form preferences.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

// MaxRecent bounds the recent-projects list.
const MaxRecent = 10

// Config is the on-disk process configuration.
type Config struct {
	Version int               `yaml:"version"`
	Recent  []string          `yaml:"recent,omitempty"`
	Prefs   map[string]string `yaml:"prefs,omitempty"`

	path string
}

const version = 1

// DefaultPath is $XDG_CONFIG_HOME/arcscope/config.yaml or the platform
// equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "arcscope", "config.yaml"), nil
}

// Load reads the config at path. A missing file yields an empty config
// that Save will create.
func Load(path string) (*Config, error) {
	c := &Config{Version: version, path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if c.Version > version {
		return nil, fmt.Errorf("config %s: version %d is newer than supported %d", path, c.Version, version)
	}
	c.Version = version
	c.path = path
	return c, nil
}

// Path returns the file the config is saved to.
func (c *Config) Path() string { return c.path }

// Save writes the config atomically, creating its directory.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no path")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// AddRecent moves dir to the front of the recent list.
func (c *Config) AddRecent(dir string) {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	c.Recent = slices.DeleteFunc(c.Recent, func(s string) bool { return s == dir })
	c.Recent = slices.Insert(c.Recent, 0, dir)
	if len(c.Recent) > MaxRecent {
		c.Recent = c.Recent[:MaxRecent]
	}
}

// RemoveRecent drops dir from the recent list.
func (c *Config) RemoveRecent(dir string) {
	c.Recent = slices.DeleteFunc(c.Recent, func(s string) bool { return s == dir })
}

// Get returns a preference.
func (c *Config) Get(key string) (string, bool) {
	v, ok := c.Prefs[key]
	return v, ok
}

// Set stores a preference.
func (c *Config) Set(key, value string) {
	if c.Prefs == nil {
		c.Prefs = map[string]string{}
	}
	c.Prefs[key] = value
}

// Delete removes a preference. Deleting a missing key is a no-op.
func (c *Config) Delete(key string) { delete(c.Prefs, key) }

// Keys returns the preference keys, sorted.
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.Prefs))
	for k := range c.Prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
