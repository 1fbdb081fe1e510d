// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"slices"
	"strings"

	"github.com/glossarium/stexlink/services/linker/stex"
)

// ModuleRef names a module for callers outside the graph: the document
// that declares it plus its full name.
type ModuleRef struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	IsStructure bool   `json:"is_structure,omitempty"`
}

// SymbolInfo describes one declared symbol.
type SymbolInfo struct {
	ID     int       `json:"id"`
	Name   string    `json:"name"`
	Module ModuleRef `json:"module"`
	Decl   stex.Span `json:"decl"`
}

// VerbInfo describes one verbalization occurrence, with its resolution
// if the linker found a unique one.
type VerbInfo struct {
	ID         int         `json:"id"`
	Path       string      `json:"path"`
	SymbolName string      `json:"symbol_name"`
	PathHint   string      `json:"path_hint,omitempty"`
	Text       string      `json:"text"`
	Lang       string      `json:"lang"`
	Span       stex.Span   `json:"span"`
	Defining   bool        `json:"defining,omitempty"`
	Symbol     *SymbolInfo `json:"symbol,omitempty"`
}

// FileView bundles everything the linker knows about one document.
type FileView struct {
	Path           string      `json:"path"`
	Lang           string      `json:"lang"`
	Imports        []string    `json:"imports,omitempty"`
	Modules        []ModuleRef `json:"modules,omitempty"`
	Verbalizations []VerbInfo  `json:"verbalizations,omitempty"`
}

// CorpusRoot returns the MathHub root the corpus was linked from.
func (lk *Linker) CorpusRoot() string { return lk.corpusRoot }

// NumDocuments returns the number of documents in the graph, including
// documents pulled in only as dependency targets.
func (lk *Linker) NumDocuments() int { return lk.docs.Len() }

// NumModules returns the number of declared modules (structures
// included).
func (lk *Linker) NumModules() int { return len(lk.moduleFile) }

// NumSymbols returns the number of declared symbols.
func (lk *Linker) NumSymbols() int { return lk.symbols.Len() }

// NumVerbalizations returns the number of verbalization occurrences.
func (lk *Linker) NumVerbalizations() int { return lk.verbs.Len() }

// Documents returns all document paths in identifier order.
func (lk *Linker) Documents() []string {
	out := make([]string, lk.docs.Len())
	for i := range out {
		out[i] = lk.docs.Unintify(i)
	}
	return out
}

// DocumentID returns the identifier of a document path.
func (lk *Linker) DocumentID(path string) (int, bool) {
	return lk.docs.Lookup(path)
}

// TopoOrder returns all document paths, dependencies first.
func (lk *Linker) TopoOrder() []string {
	out := make([]string, len(lk.topoOrder))
	for i, id := range lk.topoOrder {
		out[i] = lk.docs.Unintify(id)
	}
	return out
}

// FileImports returns the paths a document imports, sorted by document
// identifier.
func (lk *Linker) FileImports(path string) ([]string, bool) {
	id, ok := lk.docs.Lookup(path)
	if !ok {
		return nil, false
	}
	var out []string
	for _, dep := range sortedKeys(lk.fileImports[id]) {
		out = append(out, lk.docs.Unintify(dep))
	}
	return out, true
}

// ModulesIn returns the modules a document declares, in declaration
// order.
func (lk *Linker) ModulesIn(path string) ([]ModuleRef, bool) {
	id, ok := lk.docs.Lookup(path)
	if !ok {
		return nil, false
	}
	var out []ModuleRef
	for _, mid := range lk.fileModules[id] {
		out = append(out, lk.moduleRef(mid))
	}
	return out, true
}

// Symbols returns every symbol in the corpus in identifier order.
func (lk *Linker) Symbols() []SymbolInfo {
	out := make([]SymbolInfo, 0, lk.symbols.Len())
	for sid := 0; sid < lk.symbols.Len(); sid++ {
		out = append(out, lk.symbolInfo(sid))
	}
	return out
}

// SymbolsByName returns every symbol with the given name across the
// corpus, in registration order.
func (lk *Linker) SymbolsByName(name string) []SymbolInfo {
	seen := make(map[int]struct{})
	var out []SymbolInfo
	for _, sid := range lk.symbolsByName[name] {
		if _, dup := seen[sid]; dup {
			continue
		}
		seen[sid] = struct{}{}
		out = append(out, lk.symbolInfo(sid))
	}
	return out
}

// SymbolsOfModule returns the symbols declared by one module.
func (lk *Linker) SymbolsOfModule(path, moduleName string) ([]SymbolInfo, bool) {
	id, ok := lk.docs.Lookup(path)
	if !ok {
		return nil, false
	}
	mid, ok := lk.modules.Lookup(ModuleKey{Doc: id, Name: moduleName})
	if !ok {
		return nil, false
	}
	var out []SymbolInfo
	for _, sid := range lk.moduleSymbols[mid] {
		out = append(out, lk.symbolInfo(sid))
	}
	return out, true
}

// TransitiveImports returns the import closure of one module, sorted by
// module identifier. The module itself is included.
func (lk *Linker) TransitiveImports(path, moduleName string) ([]ModuleRef, bool) {
	id, ok := lk.docs.Lookup(path)
	if !ok {
		return nil, false
	}
	mid, ok := lk.modules.Lookup(ModuleKey{Doc: id, Name: moduleName})
	if !ok {
		return nil, false
	}
	var out []ModuleRef
	for _, m := range sortedKeys(lk.transitiveOf(mid)) {
		out = append(out, lk.moduleRef(m))
	}
	return out, true
}

// AvailableAt returns the modules directly available at a byte offset
// of a document, sorted by module identifier.
func (lk *Linker) AvailableAt(path string, offset int) []ModuleRef {
	id, ok := lk.docs.Lookup(path)
	if !ok {
		return nil
	}
	set := make(map[int]struct{})
	for _, am := range lk.availableRanges[id] {
		if am.Range.Contains(offset) {
			set[am.Module] = struct{}{}
		}
	}
	var out []ModuleRef
	for _, mid := range sortedKeys(set) {
		out = append(out, lk.moduleRef(mid))
	}
	return out
}

// SymbolsInScopeAt returns every symbol usable at a byte offset of a
// document: the symbols of all modules reachable through the
// availability ranges covering that offset, sorted by symbol
// identifier.
func (lk *Linker) SymbolsInScopeAt(path string, offset int) []SymbolInfo {
	id, ok := lk.docs.Lookup(path)
	if !ok {
		return nil
	}
	mods := make(map[int]struct{})
	for _, am := range lk.availableRanges[id] {
		if !am.Range.Contains(offset) {
			continue
		}
		for mid := range lk.transitiveOf(am.Module) {
			mods[mid] = struct{}{}
		}
	}
	syms := make(map[int]struct{})
	for mid := range mods {
		for _, sid := range lk.moduleSymbols[mid] {
			syms[sid] = struct{}{}
		}
	}
	var out []SymbolInfo
	for _, sid := range sortedKeys(syms) {
		out = append(out, lk.symbolInfo(sid))
	}
	return out
}

// SymbolInScopeAt reports whether one symbol is usable at a byte offset
// of a document: some availability range covering the offset must reach
// the symbol's declaring module through its closure.
func (lk *Linker) SymbolInScopeAt(path string, offset int, symbolID int) bool {
	id, ok := lk.docs.Lookup(path)
	if !ok || symbolID < 0 || symbolID >= lk.symbols.Len() {
		return false
	}
	target := lk.symbolModule[symbolID]
	for _, am := range lk.availableRanges[id] {
		if am.Range.Contains(offset) && lk.inTransitive(am.Module, target) {
			return true
		}
	}
	return false
}

// ResolveAt resolves a symbol name at a byte offset of a document the
// same way verbalization linking does, returning all candidates that
// survive scope and hint filtering, sorted by symbol identifier. One
// element means a unique resolution.
func (lk *Linker) ResolveAt(path string, offset int, name, hint string) []SymbolInfo {
	id, ok := lk.docs.Lookup(path)
	if !ok {
		return nil
	}
	byModule := make(map[int]int)
	for _, sid := range lk.symbolsByName[name] {
		byModule[lk.symbolModule[sid]] = sid
	}
	final := make(map[int]struct{})
	for _, am := range lk.availableRanges[id] {
		if !am.Range.Contains(offset) {
			continue
		}
		for mid := range lk.transitiveOf(am.Module) {
			if sid, ok := byModule[mid]; ok {
				final[sid] = struct{}{}
			}
		}
	}
	if hint != "" {
		for sid := range final {
			if !strings.HasSuffix(lk.modules.Unintify(lk.symbolModule[sid]).Name, hint) {
				delete(final, sid)
			}
		}
	}
	var out []SymbolInfo
	for _, sid := range sortedKeys(final) {
		out = append(out, lk.symbolInfo(sid))
	}
	return out
}

// VerbalizationsIn returns the verbalization occurrences of one
// document in occurrence order, with resolutions attached.
func (lk *Linker) VerbalizationsIn(path string) ([]VerbInfo, bool) {
	id, ok := lk.docs.Lookup(path)
	if !ok {
		return nil, false
	}
	var out []VerbInfo
	for vid := 0; vid < lk.verbs.Len(); vid++ {
		if lk.verbs.Unintify(vid).Doc != id {
			continue
		}
		out = append(out, lk.verbInfo(vid))
	}
	return out, true
}

// VerbalizationsOf returns the verbalization occurrences that resolve
// to the given symbol, in linking order. A non-empty lang keeps only
// occurrences in that language.
func (lk *Linker) VerbalizationsOf(sym SymbolInfo, lang string) []VerbInfo {
	var out []VerbInfo
	for _, vid := range lk.symbolVerbs[sym.ID] {
		vi := lk.verbInfo(vid)
		if lang != "" && vi.Lang != lang {
			continue
		}
		out = append(out, vi)
	}
	return out
}

// File returns the full view of one document.
func (lk *Linker) File(path string) (*FileView, bool) {
	id, ok := lk.docs.Lookup(path)
	if !ok {
		return nil, false
	}
	fv := &FileView{
		Path: path,
		Lang: lk.docLang[id],
	}
	fv.Imports, _ = lk.FileImports(path)
	fv.Modules, _ = lk.ModulesIn(path)
	fv.Verbalizations, _ = lk.VerbalizationsIn(path)
	return fv, true
}

// ImportChain explains why a symbol is in scope at a position: the
// shortest module import path from some module available there to the
// symbol's declaring module. The first element is the available module,
// the last one declares the symbol.
func (lk *Linker) ImportChain(path string, offset int, symbolID int) ([]ModuleRef, bool) {
	id, ok := lk.docs.Lookup(path)
	if !ok || symbolID < 0 || symbolID >= lk.symbols.Len() {
		return nil, false
	}
	target := lk.symbolModule[symbolID]
	for _, am := range lk.availableRanges[id] {
		if !am.Range.Contains(offset) {
			continue
		}
		if !lk.inTransitive(am.Module, target) {
			continue
		}
		if chain := lk.shortestImportPath(am.Module, target); chain != nil {
			out := make([]ModuleRef, len(chain))
			for i, mid := range chain {
				out[i] = lk.moduleRef(mid)
			}
			return out, true
		}
	}
	return nil, false
}

// shortestImportPath runs a breadth-first search from one module to
// another over import edges and structure dependencies.
func (lk *Linker) shortestImportPath(from, to int) []int {
	if from == to {
		return []int{from}
	}
	parent := map[int]int{from: from}
	queue := []int{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := sortedKeys(lk.moduleImports[cur])
		next = append(next, lk.structDeps[cur]...)
		for _, n := range next {
			if _, seen := parent[n]; seen {
				continue
			}
			parent[n] = cur
			if n == to {
				var chain []int
				for at := to; ; at = parent[at] {
					chain = append(chain, at)
					if at == from {
						break
					}
				}
				slices.Reverse(chain)
				return chain
			}
			queue = append(queue, n)
		}
	}
	return nil
}

func (lk *Linker) moduleRef(mid int) ModuleRef {
	key := lk.modules.Unintify(mid)
	_, isStruct := lk.structNames[mid]
	return ModuleRef{
		Path:        lk.docs.Unintify(key.Doc),
		Name:        key.Name,
		IsStructure: isStruct,
	}
}

func (lk *Linker) symbolInfo(sid int) SymbolInfo {
	key := lk.symbols.Unintify(sid)
	return SymbolInfo{
		ID:     sid,
		Name:   key.Sym.Name,
		Module: lk.moduleRef(key.Module),
		Decl:   key.Sym.Decl,
	}
}

func (lk *Linker) verbInfo(vid int) VerbInfo {
	key := lk.verbs.Unintify(vid)
	vi := VerbInfo{
		ID:         vid,
		Path:       lk.docs.Unintify(key.Doc),
		SymbolName: key.Verb.SymbolName,
		PathHint:   key.Verb.PathHint,
		Text:       key.Verb.Text,
		Lang:       key.Verb.Lang,
		Span:       key.Verb.Macro,
		Defining:   key.Verb.Defining,
	}
	if sid, ok := lk.verbSymbol[vid]; ok {
		info := lk.symbolInfo(sid)
		vi.Symbol = &info
	}
	return vi
}
