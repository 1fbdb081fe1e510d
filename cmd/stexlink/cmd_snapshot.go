// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/glossarium/stexlink/services/linker/graph"
	"github.com/glossarium/stexlink/services/linker/mathhub"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Store, list, diff and delete linked-corpus snapshots",
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Link the corpus and store the result as a snapshot",
	Args:  cobra.NoArgs,
	Run:   runSnapshotSaveCommand,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots",
	Args:  cobra.NoArgs,
	Run:   runSnapshotListCommand,
}

var snapshotDiffCmd = &cobra.Command{
	Use:   "diff <from> <to>",
	Short: "Compare the resolutions of two snapshots ('latest' works as an id)",
	Args:  cobra.ExactArgs(2),
	Run:   runSnapshotDiffCommand,
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored snapshot",
	Args:  cobra.ExactArgs(1),
	Run:   runSnapshotDeleteCommand,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the document cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show document cache statistics",
	Args:  cobra.NoArgs,
	Run:   runCacheInfoCommand,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached document",
	Args:  cobra.NoArgs,
	Run:   runCacheClearCommand,
}

func init() {
	snapshotCmd.AddCommand(snapshotSaveCmd, snapshotListCmd, snapshotDiffCmd, snapshotDeleteCmd)
	cacheCmd.AddCommand(cacheInfoCmd, cacheClearCmd)
	rootCmd.AddCommand(snapshotCmd, cacheCmd)
}

// snapshotStore opens the store over the corpus cache database; fatal
// without one.
func snapshotStore(env *corpusEnv) *graph.SnapshotStore {
	if env.db == nil {
		log.Fatalf("Error: snapshots need the cache database (remove --no-cache)")
	}
	store, err := graph.NewSnapshotStore(env.db, env.root)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	return store
}

func runSnapshotSaveCommand(cmd *cobra.Command, _ []string) {
	env := mustOpenCorpus()
	defer env.close()

	res := linkCorpus(cmd.Context(), env)
	meta, err := snapshotStore(env).Save(res.Linker)
	if err != nil {
		log.Fatalf("Error: saving snapshot: %v", err)
	}
	fmt.Printf("Snapshot %s stored: %d documents, %d symbols, %d resolutions\n",
		meta.ID, meta.Documents, meta.Symbols, meta.Resolutions)
}

func runSnapshotListCommand(_ *cobra.Command, _ []string) {
	env := mustOpenEnv()
	defer env.close()

	metas, err := snapshotStore(env).List()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if jsonFlag {
		printJSON(metas)
		return
	}
	if len(metas) == 0 {
		fmt.Println("No snapshots stored")
		return
	}
	for _, m := range metas {
		fmt.Printf("%s  %s  docs=%d symbols=%d resolutions=%d\n",
			m.ID, m.CreatedAt.Format(time.RFC3339), m.Documents, m.Symbols, m.Resolutions)
	}
}

func runSnapshotDiffCommand(_ *cobra.Command, args []string) {
	env := mustOpenEnv()
	defer env.close()
	store := snapshotStore(env)

	load := func(id string) *graph.SerializedLinker {
		var sl *graph.SerializedLinker
		var err error
		if id == "latest" {
			sl, err = store.LoadLatest()
		} else {
			sl, err = store.Load(id)
		}
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		return sl
	}
	diff := graph.DiffSnapshots(load(args[0]), load(args[1]))
	if jsonFlag {
		printJSON(diff)
		return
	}
	if diff.Empty() {
		fmt.Printf("No resolution changes (%d matched)\n", diff.Matched)
		return
	}
	for _, ch := range diff.Gained {
		fmt.Printf("+ %s [%d,%d) %q -> %s in %s\n",
			ch.Verb.Path, ch.Verb.Span.Start, ch.Verb.Span.End, ch.Verb.SymbolName, ch.To.Symbol, ch.To.Module)
	}
	for _, ch := range diff.Lost {
		fmt.Printf("- %s [%d,%d) %q (was %s in %s)\n",
			ch.Verb.Path, ch.Verb.Span.Start, ch.Verb.Span.End, ch.Verb.SymbolName, ch.From.Symbol, ch.From.Module)
	}
	for _, ch := range diff.Moved {
		fmt.Printf("~ %s [%d,%d) %q: %s -> %s\n",
			ch.Verb.Path, ch.Verb.Span.Start, ch.Verb.Span.End, ch.Verb.SymbolName, ch.From.Module, ch.To.Module)
	}
	fmt.Printf("%d gained, %d lost, %d moved, %d matched\n",
		len(diff.Gained), len(diff.Lost), len(diff.Moved), diff.Matched)
}

func runSnapshotDeleteCommand(_ *cobra.Command, args []string) {
	env := mustOpenEnv()
	defer env.close()

	if err := snapshotStore(env).Delete(args[0]); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("Snapshot %s deleted\n", args[0])
}

func runCacheInfoCommand(_ *cobra.Command, _ []string) {
	env := mustOpenEnv()
	defer env.close()
	if env.db == nil {
		log.Fatalf("Error: no cache database open")
	}
	cache, err := mathhub.NewDocCache(env.db)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	n, err := cache.EntryCount()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("Cached documents: %d\n", n)
}

func runCacheClearCommand(_ *cobra.Command, _ []string) {
	env := mustOpenEnv()
	defer env.close()
	if env.db == nil {
		log.Fatalf("Error: no cache database open")
	}
	cache, err := mathhub.NewDocCache(env.db)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if err := cache.Clear(); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Println("Document cache cleared")
}
