// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// doccache_dump inspects the stexlink cache database.
//
// The cache persists parsed document info between runs so that unchanged
// files skip the scanner, and holds resolution snapshots saved by the
// snapshot commands. This tool opens the database read-only and prints a
// human-readable summary: cached documents with their module and
// verbalization counts, stored snapshots, and which snapshot each
// corpus's latest pointer refers to.
//
// Usage:
//
//	doccache_dump [--path /path/to/cache/db]
//
// If --path is not given, reads STEXLINK_CACHE_DIR from the environment,
// falling back to the user cache directory (~/.cache/stexlink/db on
// Linux).
//
// Exit codes:
//
//	0 — success (including "empty cache" which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/glossarium/stexlink/services/linker/graph"
	"github.com/glossarium/stexlink/services/linker/mathhub"
)

func main() {
	pathFlag := flag.String("path", "", "Path to the cache BadgerDB directory (overrides STEXLINK_CACHE_DIR env var)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		if dir := os.Getenv("STEXLINK_CACHE_DIR"); dir != "" {
			dbPath = filepath.Join(dir, "db")
		}
	}
	if dbPath == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			fatalf("cannot resolve user cache directory: %v", err)
		}
		dbPath = filepath.Join(base, "stexlink", "db")
	}

	fmt.Printf("Cache path: %s\n", dbPath)

	// Check existence before trying to open — gives a cleaner error message
	// than BadgerDB's "no such file or directory" buried in a long error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Cache directory does not exist. No build has populated the cache yet.")
		fmt.Println("Run `stexlink build` or start stexlinkd against a corpus to create it.")
		os.Exit(0)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(nil). // suppress BadgerDB internal logs
		WithReadOnly(true)

	db, err := badger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	docs, snaps, latest, err := collect(db)
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(docs) == 0 && len(snaps) == 0 {
		fmt.Println("\nCache is empty.")
		os.Exit(0)
	}

	printDocs(docs)
	printSnapshots(snaps, latest)

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	fmt.Printf("Summary: %d cached document%s, %d snapshot%s, cache path: %s\n",
		len(docs), plural(len(docs), "", "s"),
		len(snaps), plural(len(snaps), "", "s"),
		dbPath)
}

// docEntry is one decoded doc-info cache entry, or its decode error.
type docEntry struct {
	key       string
	rawSize   int
	entry     mathhub.DocCacheEntry
	decodeErr error
}

func collect(db *badger.DB) (docs []docEntry, snaps []graph.SnapshotMeta, latest map[string]string, err error) {
	latest = make(map[string]string)
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(mathhub.DocCacheKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			e := docEntry{key: string(item.Key())}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				docs = append(docs, e)
				continue
			}
			e.rawSize = len(raw)

			body, err := gunzip(raw)
			if err != nil {
				e.decodeErr = fmt.Errorf("gunzip: %w", err)
				docs = append(docs, e)
				continue
			}
			if err := json.Unmarshal(body, &e.entry); err != nil {
				e.decodeErr = fmt.Errorf("json decode: %w", err)
			}
			docs = append(docs, e)
		}

		prefix = []byte(graph.SnapshotMetaKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy snapshot meta: %w", err)
			}
			var meta graph.SnapshotMeta
			if err := json.Unmarshal(raw, &meta); err != nil {
				fmt.Fprintf(os.Stderr, "doccache_dump: skipping undecodable snapshot meta %s: %v\n",
					it.Item().Key(), err)
				continue
			}
			snaps = append(snaps, meta)
		}

		// One latest pointer per corpus scope; absent keys just mean no
		// snapshot was ever saved for that corpus.
		prefix = []byte(graph.SnapshotLatestPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				continue
			}
			scope := strings.TrimPrefix(string(it.Item().Key()), graph.SnapshotLatestPrefix)
			latest[scope] = string(val)
		}

		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return docs, snaps, latest, nil
}

func printDocs(docs []docEntry) {
	if len(docs) == 0 {
		fmt.Println("\nNo cached documents.")
		return
	}

	fmt.Printf("\nFound %d cached document%s:\n", len(docs), plural(len(docs), "", "s"))
	fmt.Println(strings.Repeat("─", 80))

	for i, d := range docs {
		fmt.Printf("\n[%d] Key:      %s\n", i+1, d.key)
		fmt.Printf("    Raw size: %s\n", formatBytes(d.rawSize))
		if d.decodeErr != nil {
			fmt.Printf("    DECODE ERROR: %v\n", d.decodeErr)
			continue
		}
		e := d.entry
		fmt.Printf("    Path:     %s\n", e.Path)
		fmt.Printf("    Modified: %s\n", time.UnixMilli(e.ModTimeMilli).Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("    Schema:   v%d\n", e.SchemaVersion)
		if e.Info != nil {
			mods := e.Info.AllModules()
			fmt.Printf("    Content:  %d module%s, %d verbalization%s, %d byte%s\n",
				len(mods), plural(len(mods), "", "s"),
				len(e.Info.Verbalizations), plural(len(e.Info.Verbalizations), "", "s"),
				e.Info.Length, plural(e.Info.Length, "", "s"))
		}
	}
}

func printSnapshots(snaps []graph.SnapshotMeta, latest map[string]string) {
	if len(snaps) == 0 {
		fmt.Println("\nNo snapshots stored.")
		return
	}

	fmt.Printf("\nFound %d snapshot%s:\n", len(snaps), plural(len(snaps), "", "s"))
	fmt.Println(strings.Repeat("─", 80))

	for _, m := range snaps {
		marker := " "
		if m.ID == latest[m.CorpusHash] {
			marker = "*"
		}
		fmt.Printf("%s %s  %s  docs=%d modules=%d symbols=%d resolutions=%d",
			marker, m.ID,
			m.CreatedAt.Format(time.RFC3339),
			m.Documents, m.Modules, m.Symbols, m.Resolutions)
		if m.CorpusRoot != "" {
			fmt.Printf("  corpus=%s", m.CorpusRoot)
		}
		fmt.Println()
	}
	if len(latest) > 0 {
		fmt.Println("\n(* = latest for its corpus)")
	}
}

// gunzip must match the doc cache's compression exactly.
func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "doccache_dump: "+format+"\n", args...)
	os.Exit(1)
}
