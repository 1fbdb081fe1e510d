// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command stexlink links an sTeX corpus from the command line: it
// builds the dependency graph, resolves verbalizations against the
// symbols in scope, and answers queries about the result.
//
// Usage:
//
//	stexlink build
//	stexlink symbols "example-symbol"
//	stexlink resolve --file /path/to/doc.en.tex --offset 1234 "example-symbol"
//	stexlink deps /path/to/doc.en.tex
//	stexlink snapshot save
//	stexlink watch
//
// The corpus root comes from --root or the MATHHUB environment
// variable; an optional stexlink.config.yaml at the root refines the
// defaults.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/glossarium/stexlink/services/linker/config"
	"github.com/glossarium/stexlink/services/linker/mathhub"
)

// Persistent flag values shared by every subcommand.
var (
	rootFlag     string
	logLevelFlag string
	filterFlag   string
	ignoreFlag   string
	workersFlag  int
	noCacheFlag  bool
	cacheDirFlag string
	jsonFlag     bool
)

var rootCmd = &cobra.Command{
	Use:               "stexlink",
	Short:             "Link and query an sTeX corpus",
	SilenceUsage:      true,
	PersistentPreRun:  setupEnvironment,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlag, "root", "", "corpus root (defaults to $MATHHUB)")
	pf.StringVar(&logLevelFlag, "log-level", "warn", "log level: debug, info, warn, error")
	pf.StringVar(&filterFlag, "filter", "", "comma-separated archive glob patterns to include")
	pf.StringVar(&ignoreFlag, "ignore", "", "comma-separated archive glob patterns to exclude")
	pf.IntVar(&workersFlag, "workers", 0, "parallel document loads (0 = NumCPU)")
	pf.BoolVar(&noCacheFlag, "no-cache", false, "disable the persistent document cache")
	pf.StringVar(&cacheDirFlag, "cache-dir", "", "cache directory (defaults to the user cache dir)")
	pf.BoolVar(&jsonFlag, "json", false, "machine-readable output where supported")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupEnvironment loads .env and configures logging before any
// command runs.
func setupEnvironment(_ *cobra.Command, _ []string) {
	_ = godotenv.Load()

	level := slog.LevelWarn
	switch strings.ToLower(logLevelFlag) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// corpusEnv is everything a subcommand needs to work on the corpus.
// close must be called when done; it shuts the cache database.
type corpusEnv struct {
	root  string
	cfg   *config.Config
	mh    *mathhub.MathHub
	db    *badger.DB
	close func()
}

// openEnv resolves the root, loads the optional config file and opens
// the cache database. Flags override config file values. The corpus
// itself is not scanned; openCorpus does that on top.
func openEnv() (*corpusEnv, error) {
	root := rootFlag
	if root == "" {
		root = os.Getenv("MATHHUB")
	}
	if root == "" {
		return nil, fmt.Errorf("no corpus root: pass --root or set MATHHUB")
	}
	// Snapshot scoping and document keys work on the absolute root, the
	// same normalization mathhub.New applies.
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving corpus root: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if filterFlag != "" {
		cfg.Filter = filterFlag
	}
	if ignoreFlag != "" {
		cfg.Ignore = ignoreFlag
	}
	if workersFlag > 0 {
		cfg.Workers = workersFlag
	}
	if noCacheFlag {
		cfg.NoCache = true
	}
	if cacheDirFlag != "" {
		cfg.CacheDir = cacheDirFlag
	}

	env := &corpusEnv{root: root, cfg: cfg, close: func() {}}
	if !cfg.NoCache {
		env.db = openCacheDB(cfg)
		if env.db != nil {
			env.close = func() {
				if err := env.db.Close(); err != nil {
					slog.Warn("closing cache database", slog.String("error", err.Error()))
				}
			}
		}
	}
	return env, nil
}

// openCorpus is openEnv plus corpus discovery.
func openCorpus() (*corpusEnv, error) {
	env, err := openEnv()
	if err != nil {
		return nil, err
	}

	mhOpts := []mathhub.Option{
		mathhub.WithFilter(env.cfg.Filter, env.cfg.Ignore),
		mathhub.WithWorkers(env.cfg.EffectiveWorkers()),
	}
	if env.db != nil {
		cache, err := mathhub.NewDocCache(env.db)
		if err == nil {
			mhOpts = append(mhOpts, mathhub.WithDocCache(cache))
		}
	}
	mh, err := mathhub.New(env.root, mhOpts...)
	if err != nil {
		env.close()
		return nil, err
	}
	env.mh = mh
	return env, nil
}

// openCacheDB opens the badger database, degrading to no cache with a
// warning when that fails (another stexlink process may hold the lock).
func openCacheDB(cfg *config.Config) *badger.DB {
	dir, err := cfg.EffectiveCacheDir()
	if err != nil {
		slog.Warn("cache directory unavailable, caching disabled", slog.String("error", err.Error()))
		return nil
	}
	path := filepath.Join(dir, "db")
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		slog.Warn("cache database unavailable, caching disabled",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}
	return db
}

// mustOpenEnv is openEnv for commands where failure is fatal. Used by
// cache and snapshot maintenance commands that never touch the corpus.
func mustOpenEnv() *corpusEnv {
	env, err := openEnv()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	return env
}

// mustOpenCorpus is openCorpus for commands where failure is fatal.
func mustOpenCorpus() *corpusEnv {
	env, err := openCorpus()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	return env
}
