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
	"slices"

	"github.com/glossarium/stexlink/services/linker/stex"
)

// linkStructures wires structure inheritance. It runs after the module
// closures exist, in three steps: discover each structure's enclosing
// module and resolve extstructure dependency names against the scope at
// the declaration site; propagate inherited content by folding each
// dependency's closure into the structure's own; and finally resolve
// the queued \usestructure references, which make a structure's symbols
// available over the reference scope.
func (st *buildState) linkStructures(ctx context.Context) {
	st.discoverParents()
	st.resolveStructDeps()
	st.propagateStructClosures()
	st.applyPendingUses()
}

// discoverParents finds, for every structure, the smallest module whose
// span encloses the structure's declaration. The scanner does not keep
// parent pointers, so this walks the module tree of the declaring
// document.
func (st *buildState) discoverParents() {
	lk := st.lk
	for _, mid := range st.structIDs {
		docID := lk.moduleFile[mid]
		m := st.structMods[mid]
		parent := enclosingModule(st.infos[docID], m)
		if parent == nil {
			// The scanner only materializes structures inside modules,
			// so a missing parent means a span bug upstream.
			st.warn(WarnUnresolvedStructDep, lk.docs.Unintify(docID),
				fmt.Sprintf("structure %s has no enclosing module", m.Name))
			continue
		}
		pid, ok := lk.modules.Lookup(ModuleKey{Doc: docID, Name: parent.Name})
		if !ok {
			continue
		}
		lk.structParent[mid] = pid
	}
}

// enclosingModule returns the innermost module in root that strictly
// contains target, or nil.
func enclosingModule(root stex.Container, target *stex.ModuleInfo) *stex.ModuleInfo {
	var best *stex.ModuleInfo
	cur := root
	for {
		var next *stex.ModuleInfo
		for _, child := range cur.Children() {
			if child == target {
				continue
			}
			if child.Valid.Covers(target.Valid) {
				next = child
				break
			}
		}
		if next == nil {
			return best
		}
		best = next
		cur = next
	}
}

// resolveStructDeps maps every extstructure dependency name to a
// concrete structure module.
func (st *buildState) resolveStructDeps() {
	lk := st.lk
	// Candidate lists are scanned lowest identifier first.
	for name, cands := range lk.structsByName {
		slices.Sort(cands)
		lk.structsByName[name] = cands
	}

	for _, mid := range st.structIDs {
		m := st.structMods[mid]
		if len(m.StructDeps) == 0 {
			continue
		}
		docID := lk.moduleFile[mid]
		for _, depName := range m.StructDeps {
			target, ok := st.findStructure(docID, m.Valid.Start, depName)
			if !ok {
				st.warn(WarnUnresolvedStructDep, lk.docs.Unintify(docID),
					fmt.Sprintf("no structure %q in scope for extstructure %s in %s",
						depName, m.StructName, lk.docs.Unintify(docID)))
				continue
			}
			lk.structDeps[mid] = append(lk.structDeps[mid], target)
		}
	}
}

// findStructure resolves a structure name at a byte position of a
// document: among all structures with that name, the first (lowest
// identifier) whose enclosing module is importable through some module
// available at that position wins.
func (st *buildState) findStructure(docID, pos int, name string) (int, bool) {
	lk := st.lk
	var avail []int
	for _, am := range lk.availableRanges[docID] {
		if am.Range.Contains(pos) {
			avail = append(avail, am.Module)
		}
	}
	for _, cand := range lk.structsByName[name] {
		parent, ok := lk.structParent[cand]
		if !ok {
			continue
		}
		for _, m := range avail {
			if lk.inTransitive(m, parent) {
				return cand, true
			}
		}
	}
	return 0, false
}

// propagateStructClosures folds each structure dependency's closure
// into the structure's own transitive set, dependencies first. The
// structure graph shares the module namespace, so symbol resolution
// needs no special casing afterwards: a structure in scope brings its
// whole inheritance chain with it.
func (st *buildState) propagateStructClosures() {
	lk := st.lk
	nodes := slices.Clone(st.structIDs)
	slices.Sort(nodes)
	onCycle := func(mid int) {
		st.stats.Cycles++
		st.errorw(WarnStructCycle, lk.docs.Unintify(lk.moduleFile[mid]),
			fmt.Sprintf("Circular structure inheritance detected (involving %s)", lk.modules.Unintify(mid).Name))
	}
	order := topoSort(nodes, func(mid int) []int { return lk.structDeps[mid] }, onCycle)

	for _, mid := range order {
		if len(lk.structDeps[mid]) == 0 {
			continue
		}
		ti := lk.transitive[mid]
		if ti == nil {
			ti = map[int]struct{}{mid: {}}
			lk.transitive[mid] = ti
		}
		for _, dep := range lk.structDeps[mid] {
			for x := range lk.transitiveOf(dep) {
				ti[x] = struct{}{}
			}
		}
	}
}

// applyPendingUses resolves the \usestructure references queued during
// collection. A match makes the structure available from the reference
// to the end of the enclosing scope; no match is diagnosed and skipped.
func (st *buildState) applyPendingUses() {
	lk := st.lk
	for _, pu := range st.pendingUses {
		name := pu.dep.ModuleName
		target, ok := st.findStructure(pu.doc, pu.dep.Intro.Start, name)
		if !ok {
			st.warn(WarnNoStructure, lk.docs.Unintify(pu.doc),
				fmt.Sprintf("No structure found for \\usestructure{%s} in %s", name, lk.docs.Unintify(pu.doc)))
			continue
		}
		lk.availableRanges[pu.doc] = append(lk.availableRanges[pu.doc],
			AvailableModule{Module: target, Range: pu.dep.Scope})
	}
}
