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
	"strings"

	"github.com/glossarium/stexlink/services/linker/stex"
)

// resolveVerbalizations links every verbalization occurrence to the
// symbol it names, if exactly one qualifies.
//
// Candidates are all symbols sharing the verbalization's name anywhere
// in the corpus, narrowed to the modules reachable through some
// availability range that overlaps the occurrence. A path hint narrows
// further to modules whose full name ends in the hint. Zero candidates
// and more than one are both diagnosed and left unlinked; there is no
// tie-break for symbols, ambiguity is the author's to fix.
func (st *buildState) resolveVerbalizations(ctx context.Context) {
	lk := st.lk
	for docID := 0; docID < lk.docs.Len(); docID++ {
		info := st.info(ctx, docID)
		if info == nil {
			continue
		}
		path := lk.docs.Unintify(docID)
		for _, verb := range info.Verbalizations {
			vid := lk.verbs.Intify(VerbKey{Doc: docID, Verb: verb})
			st.resolveVerb(docID, path, vid, verb)
		}
	}
}

func (st *buildState) resolveVerb(docID int, path string, vid int, verb stex.Verbalization) {
	lk := st.lk

	// Same-named symbols across the corpus, collapsed to one per
	// module. Registration order makes the collapse deterministic: a
	// module redeclaring a name keeps the later declaration.
	byModule := make(map[int]int)
	for _, sid := range lk.symbolsByName[verb.SymbolName] {
		byModule[lk.symbolModule[sid]] = sid
	}

	final := make(map[int]struct{})
	for _, am := range lk.availableRanges[docID] {
		if !am.Range.Overlaps(verb.Macro) {
			continue
		}
		for mid := range lk.transitiveOf(am.Module) {
			if sid, ok := byModule[mid]; ok {
				final[sid] = struct{}{}
			}
		}
	}

	if verb.PathHint != "" {
		for sid := range final {
			modName := lk.modules.Unintify(lk.symbolModule[sid]).Name
			if !strings.HasSuffix(modName, verb.PathHint) {
				delete(final, sid)
			}
		}
	}

	switch len(final) {
	case 0:
		st.stats.Unresolved++
		st.warn(WarnNoSymbol, path,
			fmt.Sprintf("No symbol found for verbalization %q in %s", verb.SymbolName, path))
	case 1:
		for sid := range final {
			lk.verbSymbol[vid] = sid
			lk.symbolVerbs[sid] = append(lk.symbolVerbs[sid], vid)
		}
		st.stats.Resolved++
	default:
		st.stats.Ambiguous++
		st.warn(WarnAmbiguousSymbol, path,
			fmt.Sprintf("Multiple symbols found for verbalization %q in %s", verb.SymbolName, path))
	}
}
