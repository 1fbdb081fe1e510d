// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command stexlinkd starts the stexlink corpus linker server.
//
// The server discovers an sTeX corpus, links it into a symbol graph and
// serves queries over HTTP. A file watcher rebuilds the graph when
// source files change, so editors and CI jobs always query fresh
// resolutions.
//
// Usage:
//
//	go run ./cmd/stexlinkd -root /path/to/MathHub
//	go run ./cmd/stexlinkd -addr :9090
//
// With the MATHHUB environment variable set:
//
//	MATHHUB=/path/to/MathHub go run ./cmd/stexlinkd
//
// With OTLP trace export:
//
//	OTEL_EXPORTER_OTLP_ENDPOINT=localhost:4317 go run ./cmd/stexlinkd
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8591/healthz
//
//	# Corpus statistics
//	curl http://localhost:8591/api/v1/linker/stats | jq
//
//	# Symbols by name
//	curl 'http://localhost:8591/api/v1/linker/symbols?name=prime' | jq
//
//	# Resolve a verbalization at a file offset
//	curl 'http://localhost:8591/api/v1/linker/resolve?path=/corpus/doc.en.tex&offset=120&name=prime' | jq
//
//	# Force a rebuild
//	curl -X POST http://localhost:8591/api/v1/linker/rebuild
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/glossarium/stexlink/services/linker"
	"github.com/glossarium/stexlink/services/linker/config"
	"github.com/glossarium/stexlink/services/linker/graph"
	"github.com/glossarium/stexlink/services/linker/mathhub"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func main() {
	root := flag.String("root", "", "Corpus root directory (defaults to $MATHHUB)")
	addr := flag.String("addr", "", "Listen address (defaults to config, then :8591)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	debug := flag.Bool("debug", false, "Enable debug mode (verbose logs, stdout telemetry)")
	noCache := flag.Bool("no-cache", false, "Disable the on-disk document cache and snapshot store")
	watch := flag.Bool("watch", true, "Rebuild automatically when source files change")
	flag.Parse()

	_ = godotenv.Load()

	setupLogging(*logLevel, *debug)

	// Set Gin mode
	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation so callers can correlate rebuilds and
	// queries with their own distributed traces.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := setupTelemetry(ctx, *debug)
	if err != nil {
		slog.Warn("Telemetry setup incomplete, continuing without exporters",
			slog.String("error", err.Error()))
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	corpusRoot := *root
	if corpusRoot == "" {
		corpusRoot = os.Getenv("MATHHUB")
	}
	if corpusRoot == "" {
		slog.Error("No corpus root: pass -root or set MATHHUB")
		os.Exit(1)
	}

	cfg, err := config.Load(corpusRoot)
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *noCache {
		cfg.NoCache = true
	}
	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = cfg.Serve.Addr
	}

	// Open the cache BadgerDB for parsed-document and snapshot persistence.
	// Graceful degradation: if unavailable, every build parses from scratch
	// and the snapshot endpoints report 501.
	var db *badger.DB
	if !cfg.NoCache {
		cacheDir, err := cfg.EffectiveCacheDir()
		if err != nil {
			slog.Warn("Cache directory unavailable, document cache and snapshots disabled",
				slog.String("error", err.Error()))
		} else {
			dir := filepath.Join(cacheDir, "db")
			opened, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
			if err != nil {
				slog.Warn("Cache BadgerDB unavailable, document cache and snapshots disabled",
					slog.String("path", dir),
					slog.String("error", err.Error()))
			} else {
				db = opened
				slog.Info("Cache BadgerDB opened", slog.String("path", dir))
			}
		}
	}

	mhOpts := []mathhub.Option{
		mathhub.WithFilter(cfg.Filter, cfg.Ignore),
		mathhub.WithWorkers(cfg.EffectiveWorkers()),
	}
	if db != nil {
		cache, err := mathhub.NewDocCache(db)
		if err != nil {
			slog.Warn("Document cache unavailable", slog.String("error", err.Error()))
		} else {
			mhOpts = append(mhOpts, mathhub.WithDocCache(cache))
		}
	}
	mh, err := mathhub.New(corpusRoot, mhOpts...)
	if err != nil {
		slog.Error("Failed to open corpus", slog.String("error", err.Error()))
		os.Exit(1)
	}

	svcOpts := []linker.ServiceOption{
		linker.WithBuilder(graph.NewBuilder()),
	}
	if db != nil {
		store, err := graph.NewSnapshotStore(db, mh.Root())
		if err != nil {
			slog.Warn("Snapshot store unavailable", slog.String("error", err.Error()))
		} else {
			svcOpts = append(svcOpts, linker.WithSnapshotStore(store))
		}
	}
	svc := linker.NewService(mh, svcOpts...)

	// Build in the background so the server accepts requests immediately.
	// Query endpoints return 503 until the first build lands.
	go func() {
		if _, err := svc.Rebuild(ctx, false); err != nil {
			slog.Error("Initial corpus build failed", slog.String("error", err.Error()))
		}
	}()

	if *watch {
		debounce := time.Duration(cfg.Watch.DebounceSeconds) * time.Second
		w := mathhub.NewWatcher(mh, svc.HandleCorpusChange, mathhub.WithRebuildInterval(debounce))
		go func() {
			if err := w.Run(ctx); err != nil {
				slog.Warn("File watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	router := linker.NewRouter(svc, slog.Default())

	printBanner(listenAddr, corpusRoot, db != nil)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down stexlinkd")
		cancel()
		if db != nil {
			if err := db.Close(); err != nil {
				slog.Warn("Failed to close cache BadgerDB", slog.String("error", err.Error()))
			}
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
		os.Exit(0)
	}()

	slog.Info("Starting stexlinkd", slog.String("address", listenAddr), slog.String("root", corpusRoot))
	if err := router.Run(listenAddr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// setupLogging installs the process-wide slog default. Terminals get the
// text handler, everything else gets JSON lines.
func setupLogging(level string, debug bool) {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if debug {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// printBanner prints the startup banner with quick-start examples.
func printBanner(addr, root string, cacheEnabled bool) {
	cacheStatus := "DISABLED (builds parse from scratch, no snapshots)"
	if cacheEnabled {
		cacheStatus = "ENABLED (documents and snapshots persisted)"
	}

	host := addr
	if len(host) > 0 && host[0] == ':' {
		host = "localhost" + host
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                         STEXLINK SERVER                           ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Symbol linking and verbalization resolution for sTeX corpora.    ║
║  Corpus: %-56s ║
║  Cache:  %-56s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://%s/healthz                                      │  ║
║  │                                                             │  ║
║  │ # Corpus statistics                                         │  ║
║  │ curl http://%s/api/v1/linker/stats | jq                     │  ║
║  │                                                             │  ║
║  │ # Look up symbols by name                                   │  ║
║  │ curl 'http://%s/api/v1/linker/symbols?name=prime' | jq      │  ║
║  │                                                             │  ║
║  │ # Force a rebuild                                           │  ║
║  │ curl -X POST http://%s/api/v1/linker/rebuild                │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Health: /healthz, /metrics                                   ║
║  ├── Query: /stats, /warnings, /symbols, /resolve, /scope         ║
║  ├── Graph: /chain, /files/*path                                  ║
║  └── Admin: /rebuild, /snapshots, /snapshots/diff                 ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, root, cacheStatus, host, host, host, host)
}
