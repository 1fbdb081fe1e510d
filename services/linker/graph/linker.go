// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph builds and queries the symbolic link structure of an
// sTeX corpus: which files import which, which modules are in scope
// over which byte ranges, how structures inherit from each other, and
// which declared symbol each verbalization occurrence refers to.
package graph

import (
	"github.com/glossarium/stexlink/services/linker/stex"
)

// ModuleKey identifies one module occurrence: the document that
// declares it and its full (slash-joined) name.
type ModuleKey struct {
	Doc  int
	Name string
}

// SymbolKey identifies one symbol declaration within its module.
type SymbolKey struct {
	Module int
	Sym    stex.Symbol
}

// VerbKey identifies one verbalization occurrence within its document.
type VerbKey struct {
	Doc  int
	Verb stex.Verbalization
}

// AvailableModule records that a module's symbols are usable over a
// byte range of some document.
type AvailableModule struct {
	Module int
	Range  stex.Span
}

// Linker is the fully linked view of a corpus. It is produced by
// Builder.Build and is immutable afterwards.
//
// Description:
//
//	All entities (documents, modules, symbols, verbalizations) are
//	interned to dense integers; the maps below are keyed by those
//	identifiers. Document identifiers are assigned in corpus iteration
//	order, everything else in first-touch order during linking, which
//	makes every identifier-ordered iteration deterministic for a given
//	corpus state.
//
// Thread Safety:
//
//	A Linker is safe for concurrent readers. It must not be mutated
//	after Build returns; a corpus change means building a new Linker.
type Linker struct {
	// corpusRoot is the MathHub root the corpus was linked from.
	corpusRoot string

	docs    *Intifier[string]
	modules *Intifier[ModuleKey]
	symbols *Intifier[SymbolKey]
	verbs   *Intifier[VerbKey]

	// docLang holds the language tag per document identifier.
	docLang []string

	// fileImports is the file-level dependency graph: importing
	// document to imported documents.
	fileImports map[int]map[int]struct{}
	// moduleImports is the module-level import graph (exporting imports
	// only; \usemodule does not appear here).
	moduleImports map[int]map[int]struct{}
	// fileModules lists the modules declared in a document, in
	// declaration order; moduleFile is the reverse direction.
	fileModules map[int][]int
	moduleFile  map[int]int
	// availableRanges lists, per document, every module whose symbols
	// are in scope somewhere in it, with the byte range of validity.
	availableRanges map[int][]AvailableModule

	// moduleSymbols lists a module's symbol identifiers; symbolModule
	// is the reverse direction. symbolsByName collects, across the
	// whole corpus, every symbol sharing a name, in registration order.
	moduleSymbols map[int][]int
	symbolModule  map[int]int
	symbolsByName map[string][]int

	// Structure bookkeeping: structures are modules, keyed here by
	// their bare declared name. structParent maps a structure module to
	// its smallest enclosing module; structDeps holds the resolved
	// extstructure dependencies.
	structsByName map[string][]int
	structNames   map[int]string
	structParent  map[int]int
	structDeps    map[int][]int

	// transitive maps a module to its transitive import closure,
	// including itself. Structure modules additionally absorb the
	// closures of their structure dependencies.
	transitive map[int]map[int]struct{}

	// verbSymbol records the unique resolution of a verbalization;
	// symbolVerbs is the reverse direction.
	verbSymbol  map[int]int
	symbolVerbs map[int][]int

	// topoOrder lists all document identifiers, dependencies first.
	topoOrder []int
}

func newLinker() *Linker {
	return &Linker{
		docs:            NewIntifier[string](),
		modules:         NewIntifier[ModuleKey](),
		symbols:         NewIntifier[SymbolKey](),
		verbs:           NewIntifier[VerbKey](),
		fileImports:     make(map[int]map[int]struct{}),
		moduleImports:   make(map[int]map[int]struct{}),
		fileModules:     make(map[int][]int),
		moduleFile:      make(map[int]int),
		availableRanges: make(map[int][]AvailableModule),
		moduleSymbols:   make(map[int][]int),
		symbolModule:    make(map[int]int),
		symbolsByName:   make(map[string][]int),
		structsByName:   make(map[string][]int),
		structNames:     make(map[int]string),
		structParent:    make(map[int]int),
		structDeps:      make(map[int][]int),
		transitive:      make(map[int]map[int]struct{}),
		verbSymbol:      make(map[int]int),
		symbolVerbs:     make(map[int][]int),
	}
}

// transitiveOf returns the closure of mid. Modules that never went
// through closure computation (targets living outside the linked
// corpus slice) degrade to a closure of just themselves.
func (lk *Linker) transitiveOf(mid int) map[int]struct{} {
	if ti, ok := lk.transitive[mid]; ok {
		return ti
	}
	return map[int]struct{}{mid: {}}
}

// inTransitive reports whether want is in the closure of mid.
func (lk *Linker) inTransitive(mid, want int) bool {
	if mid == want {
		return true
	}
	_, ok := lk.transitive[mid][want]
	return ok
}
