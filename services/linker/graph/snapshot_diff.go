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

// ResolutionRef identifies one verbalization occurrence across
// snapshots by document path and occurrence data rather than by the
// snapshot-local identifier, so two snapshots of the same corpus can be
// matched up.
type ResolutionRef struct {
	Path       string    `json:"path"`
	Span       stex.Span `json:"span"`
	SymbolName string    `json:"symbol_name"`
	Text       string    `json:"text"`
}

// ResolutionTarget names the symbol a verbalization resolved to.
type ResolutionTarget struct {
	Path   string `json:"path"`
	Module string `json:"module"`
	Symbol string `json:"symbol"`
}

// ResolutionChange is one difference between two snapshots: From is
// nil for a newly resolved occurrence, To is nil for one that lost its
// resolution, and both are set when the target moved.
type ResolutionChange struct {
	Verb ResolutionRef     `json:"verb"`
	From *ResolutionTarget `json:"from,omitempty"`
	To   *ResolutionTarget `json:"to,omitempty"`
}

// SnapshotDiff is the comparison of two snapshots' resolutions.
type SnapshotDiff struct {
	From    string             `json:"from"`
	To      string             `json:"to"`
	Gained  []ResolutionChange `json:"gained,omitempty"`
	Lost    []ResolutionChange `json:"lost,omitempty"`
	Moved   []ResolutionChange `json:"moved,omitempty"`
	Matched int                `json:"matched"`
}

// Empty reports whether the two snapshots resolve identically.
func (d *SnapshotDiff) Empty() bool {
	return len(d.Gained) == 0 && len(d.Lost) == 0 && len(d.Moved) == 0
}

type verbIdentity struct {
	path string
	verb stex.Verbalization
}

// DiffSnapshots compares the verbalization resolutions of two
// snapshots. Occurrences are matched by document path and occurrence
// content; a file edit that shifts byte offsets therefore reads as a
// lost plus a gained resolution, which is the honest answer without
// re-reading the sources.
func DiffSnapshots(from, to *SerializedLinker) *SnapshotDiff {
	d := &SnapshotDiff{From: from.ContentHash(), To: to.ContentHash()}

	older := resolutionMap(from)
	newer := resolutionMap(to)

	for id, target := range older {
		newTarget, ok := newer[id]
		switch {
		case !ok:
			d.Lost = append(d.Lost, ResolutionChange{Verb: refOf(id), From: target})
		case *newTarget != *target:
			d.Moved = append(d.Moved, ResolutionChange{Verb: refOf(id), From: target, To: newTarget})
		default:
			d.Matched++
		}
	}
	for id, target := range newer {
		if _, ok := older[id]; !ok {
			d.Gained = append(d.Gained, ResolutionChange{Verb: refOf(id), To: target})
		}
	}

	sortChanges(d.Gained)
	sortChanges(d.Lost)
	sortChanges(d.Moved)
	return d
}

// resolutionMap flattens a snapshot's resolutions into
// identity-to-target form.
func resolutionMap(s *SerializedLinker) map[verbIdentity]*ResolutionTarget {
	out := make(map[verbIdentity]*ResolutionTarget, len(s.Resolutions))
	for _, res := range s.Resolutions {
		if res.Verb < 0 || res.Verb >= len(s.Verbs) {
			continue
		}
		if res.Symbol < 0 || res.Symbol >= len(s.Symbols) {
			continue
		}
		sv := s.Verbs[res.Verb]
		if sv.Doc < 0 || sv.Doc >= len(s.Documents) {
			continue
		}
		sym := s.Symbols[res.Symbol]
		if sym.Module < 0 || sym.Module >= len(s.Modules) {
			continue
		}
		mod := s.Modules[sym.Module]
		if mod.Doc < 0 || mod.Doc >= len(s.Documents) {
			continue
		}
		id := verbIdentity{path: s.Documents[sv.Doc].Path, verb: sv.Verb}
		out[id] = &ResolutionTarget{
			Path:   s.Documents[mod.Doc].Path,
			Module: mod.Name,
			Symbol: sym.Name,
		}
	}
	return out
}

func refOf(id verbIdentity) ResolutionRef {
	return ResolutionRef{
		Path:       id.path,
		Span:       id.verb.Macro,
		SymbolName: id.verb.SymbolName,
		Text:       id.verb.Text,
	}
}

func sortChanges(changes []ResolutionChange) {
	slices.SortFunc(changes, func(a, b ResolutionChange) int {
		if c := strings.Compare(a.Verb.Path, b.Verb.Path); c != 0 {
			return c
		}
		if c := a.Verb.Span.Start - b.Verb.Span.Start; c != 0 {
			return c
		}
		return strings.Compare(a.Verb.SymbolName, b.Verb.SymbolName)
	})
}
