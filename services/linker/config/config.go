// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the optional per-corpus configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the configuration file resolved against the corpus
// root (or the working directory for daemon use).
const ConfigFileName = "stexlink.config.yaml"

// WatchConfig tunes watch-mode rebuilds.
type WatchConfig struct {
	// DebounceSeconds is the minimum interval between rebuilds.
	DebounceSeconds int `yaml:"debounce_seconds" validate:"gte=0,lte=3600"`
}

// ServeConfig tunes the HTTP daemon.
type ServeConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the corpus configuration. Every field is optional; the
// zero value plus defaults is a working setup.
type Config struct {
	// Root overrides the corpus root (normally taken from MATHHUB).
	Root string `yaml:"root"`
	// Filter and Ignore are comma-separated glob patterns selecting
	// which archives participate in linking.
	Filter string `yaml:"filter"`
	Ignore string `yaml:"ignore"`
	// Workers bounds parallel document parsing; 0 means NumCPU.
	Workers int `yaml:"workers" validate:"gte=0,lte=512"`
	// CacheDir holds the doc-info and snapshot database. Empty selects
	// the per-user default cache directory.
	CacheDir string `yaml:"cache_dir"`
	// NoCache disables the persistent doc-info cache entirely.
	NoCache bool        `yaml:"no_cache"`
	Watch   WatchConfig `yaml:"watch"`
	Serve   ServeConfig `yaml:"serve"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Watch: WatchConfig{DebounceSeconds: 2},
		Serve: ServeConfig{Addr: ":8591"},
	}
}

// Load reads the configuration file from dir. A missing file yields
// the defaults and a nil error; a malformed or invalid file is an
// error.
func Load(dir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// EffectiveWorkers resolves the worker count, defaulting to NumCPU.
func (c *Config) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// EffectiveCacheDir resolves the cache directory, defaulting to
// ~/.cache/stexlink.
func (c *Config) EffectiveCacheDir() (string, error) {
	if c.CacheDir != "" {
		return c.CacheDir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving user cache directory: %w", err)
	}
	return filepath.Join(base, "stexlink"), nil
}
