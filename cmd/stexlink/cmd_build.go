// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/glossarium/stexlink/services/linker/graph"
	"github.com/glossarium/stexlink/services/linker/mathhub"
)

var (
	buildSaveSnapshot bool
	buildShowWarnings bool
	exportOutPath     string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Link the corpus and report statistics",
	Args:  cobra.NoArgs,
	Run:   runBuildCommand,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Link the corpus and print statistics only",
	Args:  cobra.NoArgs,
	Run:   runStatsCommand,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Link the corpus and write the serialized graph as JSON",
	Args:  cobra.NoArgs,
	Run:   runExportCommand,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Link the corpus and relink whenever source files change",
	Args:  cobra.NoArgs,
	Run:   runWatchCommand,
}

func init() {
	buildCmd.Flags().BoolVar(&buildSaveSnapshot, "save-snapshot", false, "store a snapshot of the result")
	buildCmd.Flags().BoolVar(&buildShowWarnings, "warnings", false, "list every linking diagnostic")
	exportCmd.Flags().StringVar(&exportOutPath, "out", "-", "output file ('-' for stdout)")
	rootCmd.AddCommand(buildCmd, statsCmd, exportCmd, watchCmd)
}

// linkCorpus builds the graph over an opened corpus.
func linkCorpus(ctx context.Context, env *corpusEnv) *graph.BuildResult {
	res, err := graph.NewBuilder().Build(ctx, env.mh)
	if err != nil {
		log.Fatalf("Error: linking failed: %v", err)
	}
	return res
}

func runBuildCommand(cmd *cobra.Command, _ []string) {
	env := mustOpenCorpus()
	defer env.close()

	res := linkCorpus(cmd.Context(), env)
	printStats(res)

	if buildShowWarnings {
		for _, w := range res.Warnings {
			fmt.Printf("  [%s] %s\n", w.Code, w.Message)
		}
		if res.Incomplete {
			fmt.Println("  (diagnostic list truncated)")
		}
	}

	if buildSaveSnapshot {
		if env.db == nil {
			log.Fatalf("Error: --save-snapshot needs the cache database (remove --no-cache)")
		}
		store, err := graph.NewSnapshotStore(env.db, env.root)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		meta, err := store.Save(res.Linker)
		if err != nil {
			log.Fatalf("Error: saving snapshot: %v", err)
		}
		fmt.Printf("Snapshot %s stored (%d resolutions)\n", meta.ID, meta.Resolutions)
	}
}

func runStatsCommand(cmd *cobra.Command, _ []string) {
	env := mustOpenCorpus()
	defer env.close()
	printStats(linkCorpus(cmd.Context(), env))
}

func printStats(res *graph.BuildResult) {
	if jsonFlag {
		out, err := json.MarshalIndent(res.Stats, "", "  ")
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		fmt.Println(string(out))
		return
	}
	s := res.Stats
	fmt.Printf("Documents:      %d (%d loaded from source)\n", s.Documents, s.LoadedDocuments)
	fmt.Printf("Modules:        %d (%d structures)\n", s.Modules, s.Structures)
	fmt.Printf("Symbols:        %d\n", s.Symbols)
	fmt.Printf("Verbalizations: %d (%d resolved, %d unresolved, %d ambiguous)\n",
		s.Verbalizations, s.Resolved, s.Unresolved, s.Ambiguous)
	fmt.Printf("Edges:          %d file, %d module\n", s.FileEdges, s.ModuleEdges)
	if s.Cycles > 0 {
		fmt.Printf("Cycles:         %d\n", s.Cycles)
	}
	fmt.Printf("Took:           %s\n", s.Duration.Round(time.Millisecond))
	if n := len(res.Warnings); n > 0 && !buildShowWarnings {
		fmt.Printf("Diagnostics:    %d (rerun with --warnings to list)\n", n)
	}
}

func runExportCommand(cmd *cobra.Command, _ []string) {
	env := mustOpenCorpus()
	defer env.close()

	res := linkCorpus(cmd.Context(), env)
	data, err := json.MarshalIndent(res.Linker.Serialize(), "", "  ")
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if exportOutPath == "-" || exportOutPath == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(exportOutPath, data, 0o644); err != nil {
		log.Fatalf("Error: writing %s: %v", exportOutPath, err)
	}
	fmt.Printf("Wrote %s\n", exportOutPath)
}

func runWatchCommand(cmd *cobra.Command, _ []string) {
	env := mustOpenCorpus()
	defer env.close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res := linkCorpus(ctx, env)
	printStats(res)

	onChange := func(ctx context.Context, changed []string) {
		fmt.Printf("\n%d file(s) changed, relinking...\n", len(changed))
		env.mh.Update()
		r, err := graph.NewBuilder().Build(ctx, env.mh)
		if err != nil {
			log.Printf("relink failed: %v", err)
			return
		}
		printStats(r)
	}
	w := mathhub.NewWatcher(env.mh, onChange,
		mathhub.WithRebuildInterval(time.Duration(env.cfg.Watch.DebounceSeconds)*time.Second))

	fmt.Println("\nWatching for changes (Ctrl+C to stop)")
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Error: watcher failed: %v", err)
	}
}
