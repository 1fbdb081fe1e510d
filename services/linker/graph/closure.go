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
)

// sortFiles orders all documents dependencies-first. Back edges are
// diagnosed per occurrence and then ignored, so a cyclic corpus still
// links; the files on the cycle just see incomplete closures.
func (st *buildState) sortFiles(ctx context.Context) {
	lk := st.lk
	nodes := make([]int, lk.docs.Len())
	for i := range nodes {
		nodes[i] = i
	}
	succ := func(id int) []int {
		return sortedKeys(lk.fileImports[id])
	}
	onCycle := func(id int) {
		st.stats.Cycles++
		st.errorw(WarnCycle, lk.docs.Unintify(id),
			fmt.Sprintf("Circular dependency detected (involving %s)", lk.docs.Unintify(id)))
	}
	lk.topoOrder = topoSort(nodes, succ, onCycle)
}

// computeClosures fills the transitive import closure of every module.
// Files are visited dependencies-first, so an imported module's closure
// is normally complete by the time an importer needs it; on a broken
// cycle the importer degrades to seeing just the imported module
// itself.
func (st *buildState) computeClosures(ctx context.Context) {
	lk := st.lk
	for _, docID := range lk.topoOrder {
		mids := slices.Clone(lk.fileModules[docID])
		slices.Sort(mids)
		for _, mid := range mids {
			ti := map[int]struct{}{mid: {}}
			for _, dep := range sortedKeys(lk.moduleImports[mid]) {
				if depTI, ok := lk.transitive[dep]; ok {
					for x := range depTI {
						ti[x] = struct{}{}
					}
				} else {
					ti[dep] = struct{}{}
				}
			}
			lk.transitive[mid] = ti
		}
	}
}
