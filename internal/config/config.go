// Package config loads the optional YAML configuration file. Values
// here are defaults only; command line flags always win.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/polidog/kilar/pkg/errdefs"
)

// Config carries file-backed defaults for the command line.
type Config struct {
	Profile        string
	UpdateInterval time.Duration
	CommandTimeout time.Duration
	History        string
	NoColor        bool
}

// fileConfig is the on-disk shape. Durations are strings so users can
// write "5s" instead of nanosecond counts.
type fileConfig struct {
	Profile        string `yaml:"profile"`
	UpdateInterval string `yaml:"update_interval"`
	CommandTimeout string `yaml:"command_timeout"`
	History        string `yaml:"history"`
	NoColor        bool   `yaml:"no_color"`
}

// DefaultPath returns $XDG_CONFIG_HOME/kilar/config.yaml, falling back
// to ~/.config when XDG_CONFIG_HOME is unset. Empty when no home
// directory can be determined.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "kilar", "config.yaml")
}

// Load reads the config file at path. An empty path means the default
// location, where a missing file is not an error; a path the user named
// explicitly must exist.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path == "" {
		return Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, errdefs.WrapIO(err, "read config")
	}

	var fc fileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return Config{}, errdefs.ParseFailuref("config %s: %v", path, err)
	}

	cfg := Config{Profile: fc.Profile, History: fc.History, NoColor: fc.NoColor}
	if cfg.UpdateInterval, err = duration(fc.UpdateInterval, path, "update_interval"); err != nil {
		return Config{}, err
	}
	if cfg.CommandTimeout, err = duration(fc.CommandTimeout, path, "command_timeout"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func duration(s, path, key string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errdefs.ParseFailuref("config %s: %s: %v", path, key, err)
	}
	if d <= 0 {
		return 0, errdefs.ParseFailuref("config %s: %s must be positive", path, key)
	}
	return d, nil
}
