// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Watch.DebounceSeconds != 2 {
		t.Errorf("debounce = %d, want default 2", cfg.Watch.DebounceSeconds)
	}
	if cfg.Serve.Addr != ":8591" {
		t.Errorf("addr = %q, want default :8591", cfg.Serve.Addr)
	}
	if cfg.Workers != 0 {
		t.Errorf("workers = %d, want 0", cfg.Workers)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := writeConfig(t, `
filter: "smglom/*"
ignore: "*/private"
workers: 4
no_cache: true
watch:
  debounce_seconds: 10
serve:
  addr: ":9000"
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Filter != "smglom/*" {
		t.Errorf("filter = %q, want smglom/*", cfg.Filter)
	}
	if cfg.Ignore != "*/private" {
		t.Errorf("ignore = %q, want */private", cfg.Ignore)
	}
	if cfg.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Workers)
	}
	if !cfg.NoCache {
		t.Error("no_cache should be true")
	}
	if cfg.Watch.DebounceSeconds != 10 {
		t.Errorf("debounce = %d, want 10", cfg.Watch.DebounceSeconds)
	}
	if cfg.Serve.Addr != ":9000" {
		t.Errorf("addr = %q, want :9000", cfg.Serve.Addr)
	}
}

func TestLoad_PartialFileKeepsRemainingDefaults(t *testing.T) {
	dir := writeConfig(t, "workers: 2\n")
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 2 {
		t.Errorf("workers = %d, want 2", cfg.Workers)
	}
	if cfg.Serve.Addr != ":8591" {
		t.Errorf("addr = %q, want default to survive partial file", cfg.Serve.Addr)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := writeConfig(t, "workers: [not a number\n")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestLoad_ValidationRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative workers", "workers: -1\n"},
		{"too many workers", "workers: 4096\n"},
		{"negative debounce", "watch:\n  debounce_seconds: -5\n"},
		{"huge debounce", "watch:\n  debounce_seconds: 9999\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, tt.content)
			if _, err := Load(dir); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEffectiveWorkers(t *testing.T) {
	cfg := Default()
	if got := cfg.EffectiveWorkers(); got < 1 {
		t.Errorf("default workers = %d, want at least 1", got)
	}
	cfg.Workers = 3
	if got := cfg.EffectiveWorkers(); got != 3 {
		t.Errorf("workers = %d, want 3", got)
	}
}

func TestEffectiveCacheDir(t *testing.T) {
	cfg := Default()
	cfg.CacheDir = "/tmp/override"
	dir, err := cfg.EffectiveCacheDir()
	if err != nil {
		t.Fatalf("EffectiveCacheDir: %v", err)
	}
	if dir != "/tmp/override" {
		t.Errorf("dir = %q, want override", dir)
	}

	cfg.CacheDir = ""
	dir, err = cfg.EffectiveCacheDir()
	if err != nil {
		t.Fatalf("EffectiveCacheDir: %v", err)
	}
	if filepath.Base(dir) != "stexlink" {
		t.Errorf("default dir = %q, want a stexlink subdirectory", dir)
	}
}
