// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/glossarium/stexlink/services/linker/graph"
)

var (
	symbolsVerbs  bool
	symbolsLang   string
	resolveFile   string
	resolveOffset int
	resolveHint   string
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols <name>",
	Short: "List every symbol with the given name across the corpus",
	Args:  cobra.ExactArgs(1),
	Run:   runSymbolsCommand,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <name>",
	Short: "Resolve a symbol name at a position, the way verbalization linking does",
	Args:  cobra.ExactArgs(1),
	Run:   runResolveCommand,
}

var depsCmd = &cobra.Command{
	Use:   "deps <file>",
	Short: "Show a document's imports, modules and their import closures",
	Args:  cobra.ExactArgs(1),
	Run:   runDepsCommand,
}

var verbsCmd = &cobra.Command{
	Use:   "verbs <file>",
	Short: "Show a document's verbalizations and what they resolved to",
	Args:  cobra.ExactArgs(1),
	Run:   runVerbsCommand,
}

func init() {
	symbolsCmd.Flags().BoolVar(&symbolsVerbs, "verbalizations", false, "also list each symbol's verbalization occurrences")
	symbolsCmd.Flags().StringVar(&symbolsLang, "lang", "", "restrict listed verbalizations to one language")
	resolveCmd.Flags().StringVar(&resolveFile, "file", "", "document the reference occurs in (required)")
	resolveCmd.Flags().IntVar(&resolveOffset, "offset", 0, "byte offset of the reference")
	resolveCmd.Flags().StringVar(&resolveHint, "hint", "", "module path hint ('path?name' disambiguation)")
	_ = resolveCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(symbolsCmd, resolveCmd, depsCmd, verbsCmd)
}

func runSymbolsCommand(cmd *cobra.Command, args []string) {
	env := mustOpenCorpus()
	defer env.close()

	lk := linkCorpus(cmd.Context(), env).Linker
	syms := lk.SymbolsByName(args[0])
	if jsonFlag {
		if symbolsVerbs {
			type symbolWithVerbs struct {
				graph.SymbolInfo
				Verbalizations []graph.VerbInfo `json:"verbalizations,omitempty"`
			}
			out := make([]symbolWithVerbs, len(syms))
			for i, s := range syms {
				out[i] = symbolWithVerbs{s, lk.VerbalizationsOf(s, symbolsLang)}
			}
			printJSON(out)
			return
		}
		printJSON(syms)
		return
	}
	if len(syms) == 0 {
		fmt.Printf("No symbol named %q in the corpus\n", args[0])
		return
	}
	for _, s := range syms {
		fmt.Printf("%s\t%s\t%s [%d,%d)\n", s.Name, s.Module.Name, s.Module.Path, s.Decl.Start, s.Decl.End)
		if !symbolsVerbs {
			continue
		}
		for _, v := range lk.VerbalizationsOf(s, symbolsLang) {
			fmt.Printf("  %q (%s) %s [%d,%d)\n", v.Text, v.Lang, v.Path, v.Span.Start, v.Span.End)
		}
	}
}

func runResolveCommand(cmd *cobra.Command, args []string) {
	env := mustOpenCorpus()
	defer env.close()

	lk := linkCorpus(cmd.Context(), env).Linker
	path := absPath(resolveFile)
	cands := lk.ResolveAt(path, resolveOffset, args[0], resolveHint)
	if jsonFlag {
		printJSON(cands)
		return
	}
	switch len(cands) {
	case 0:
		fmt.Printf("No symbol %q in scope at %s:%d\n", args[0], path, resolveOffset)
	case 1:
		s := cands[0]
		fmt.Printf("%s -> %s (%s)\n", s.Name, s.Module.Name, s.Module.Path)
	default:
		fmt.Printf("Ambiguous: %d candidates\n", len(cands))
		for _, s := range cands {
			fmt.Printf("  %s in %s (%s)\n", s.Name, s.Module.Name, s.Module.Path)
		}
	}
}

func runDepsCommand(cmd *cobra.Command, args []string) {
	env := mustOpenCorpus()
	defer env.close()

	lk := linkCorpus(cmd.Context(), env).Linker
	path := absPath(args[0])
	if jsonFlag {
		fv, ok := lk.File(path)
		if !ok {
			log.Fatalf("Error: %s is not part of the linked corpus", path)
		}
		printJSON(fv)
		return
	}

	imports, ok := lk.FileImports(path)
	if !ok {
		log.Fatalf("Error: %s is not part of the linked corpus", path)
	}
	fmt.Printf("%s\n", path)
	if len(imports) == 0 {
		fmt.Println("  imports: none")
	} else {
		fmt.Println("  imports:")
		for _, imp := range imports {
			fmt.Printf("    %s\n", imp)
		}
	}
	mods, _ := lk.ModulesIn(path)
	for _, m := range mods {
		kind := "module"
		if m.IsStructure {
			kind = "structure"
		}
		fmt.Printf("  %s %s\n", kind, m.Name)
		closure, _ := lk.TransitiveImports(path, m.Name)
		for _, ref := range closure {
			if ref.Name == m.Name && ref.Path == path {
				continue
			}
			fmt.Printf("    -> %s (%s)\n", ref.Name, ref.Path)
		}
	}
}

func runVerbsCommand(cmd *cobra.Command, args []string) {
	env := mustOpenCorpus()
	defer env.close()

	lk := linkCorpus(cmd.Context(), env).Linker
	path := absPath(args[0])
	verbs, ok := lk.VerbalizationsIn(path)
	if !ok {
		log.Fatalf("Error: %s is not part of the linked corpus", path)
	}
	if jsonFlag {
		printJSON(verbs)
		return
	}
	for _, v := range verbs {
		target := "(unresolved)"
		if v.Symbol != nil {
			target = fmt.Sprintf("%s in %s", v.Symbol.Name, v.Symbol.Module.Name)
		}
		marker := " "
		if v.Defining {
			marker = "*"
		}
		fmt.Printf("%s[%d,%d) %q -> %s\n", marker, v.Span.Start, v.Span.End, v.Text, target)
	}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Println(string(out))
}

// absPath normalizes a user-supplied document path; the graph keys
// documents by absolute path.
func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
