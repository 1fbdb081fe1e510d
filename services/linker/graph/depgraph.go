// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"fmt"

	"github.com/glossarium/stexlink/services/linker/mathhub"
	"github.com/glossarium/stexlink/services/linker/stex"
)

// collect walks every corpus document once, interning documents,
// modules and symbols and recording file edges, module edges and
// availability ranges. \usestructure references are only queued here;
// they need closures and therefore resolve in a later phase.
func (st *buildState) collect(ctx context.Context) {
	st.structMods = make(map[int]*stex.ModuleInfo)

	for _, d := range st.mh.Documents() {
		id := st.intifyDoc(d)
		if _, ok := st.lk.fileImports[id]; !ok {
			st.lk.fileImports[id] = make(map[int]struct{})
		}
		info := d.DocInfo(ctx)
		st.infos[id] = info

		for _, dep := range info.Dependencies {
			st.processDep(ctx, d, id, dep, -1)
		}
		for _, m := range info.AllModules() {
			mid := st.registerModule(id, m)
			for _, dep := range m.Dependencies {
				st.processDep(ctx, d, id, dep, mid)
			}
		}
	}
}

// registerModule interns a module declaration and records its symbols.
// A module may already carry an identifier if some earlier document
// imported it; registration itself still happens exactly once, in the
// declaring document's pass.
func (st *buildState) registerModule(docID int, m *stex.ModuleInfo) int {
	lk := st.lk
	mid := lk.modules.Intify(ModuleKey{Doc: docID, Name: m.Name})

	if _, seen := lk.moduleFile[mid]; !seen {
		lk.moduleFile[mid] = docID
		lk.fileModules[docID] = append(lk.fileModules[docID], mid)
		if m.IsStructure {
			lk.structsByName[m.StructName] = append(lk.structsByName[m.StructName], mid)
			lk.structNames[mid] = m.StructName
			st.structIDs = append(st.structIDs, mid)
			st.structMods[mid] = m
		}
	}

	// A module's own symbols are in scope throughout its body.
	lk.availableRanges[docID] = append(lk.availableRanges[docID],
		AvailableModule{Module: mid, Range: m.Valid})

	for _, sym := range m.Symbols {
		sid := lk.symbols.Intify(SymbolKey{Module: mid, Sym: sym})
		if _, ok := lk.symbolModule[sid]; !ok {
			lk.symbolModule[sid] = mid
			lk.moduleSymbols[mid] = append(lk.moduleSymbols[mid], sid)
		}
		lk.symbolsByName[sym.Name] = append(lk.symbolsByName[sym.Name], sid)
	}
	return mid
}

// processDep records the graph effects of one dependency declared in
// doc docID. srcMod is the identifier of the innermost module the
// declaration sits in, or -1 at document level.
//
// Non-TeX targets are metadata only. A plain import adds a file edge
// always and, between modules, a module edge plus an availability
// range. A \usemodule adds only an availability range: the target
// becomes usable here but is not re-exported, so the import closure
// must not see it.
func (st *buildState) processDep(ctx context.Context, src *mathhub.Document, docID int, dep stex.Dependency, srcMod int) {
	if dep.IsUseStruct() {
		st.pendingUses = append(st.pendingUses, pendingStructUse{doc: docID, dep: dep})
		return
	}
	if dep.TargetNoTeX() {
		return
	}

	tdoc, tmod := st.mh.ResolveDependency(ctx, src, dep)
	if tdoc == nil {
		st.warn(WarnUnresolvedDep, src.Path(),
			fmt.Sprintf("unresolved dependency on %s in %s", dep.Archive+"/"+dep.FileHint, src.Path()))
		return
	}
	tid := st.intifyDoc(tdoc)

	if dep.IsUse() && tmod != nil {
		tmid := st.lk.modules.Intify(ModuleKey{Doc: tid, Name: tmod.Name})
		st.lk.availableRanges[docID] = append(st.lk.availableRanges[docID],
			AvailableModule{Module: tmid, Range: dep.Scope})
		return
	}

	st.addFileEdge(docID, tid)
	if srcMod >= 0 && tmod != nil {
		tmid := st.lk.modules.Intify(ModuleKey{Doc: tid, Name: tmod.Name})
		st.addModuleEdge(srcMod, tmid)
		st.lk.availableRanges[docID] = append(st.lk.availableRanges[docID],
			AvailableModule{Module: tmid, Range: dep.Scope})
	}
}

func (st *buildState) addFileEdge(from, to int) {
	set := st.lk.fileImports[from]
	if set == nil {
		set = make(map[int]struct{})
		st.lk.fileImports[from] = set
	}
	if _, ok := set[to]; !ok {
		set[to] = struct{}{}
		st.stats.FileEdges++
	}
}

func (st *buildState) addModuleEdge(from, to int) {
	set := st.lk.moduleImports[from]
	if set == nil {
		set = make(map[int]struct{})
		st.lk.moduleImports[from] = set
	}
	if _, ok := set[to]; !ok {
		set[to] = struct{}{}
		st.stats.ModuleEdges++
	}
}
