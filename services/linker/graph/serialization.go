// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/glossarium/stexlink/services/linker/stex"
)

// SnapshotSchemaVersion is bumped whenever the serialized layout
// changes incompatibly; stored snapshots with another version are
// rejected on load.
const SnapshotSchemaVersion = 1

// SerializedDocument is one document in a snapshot. Indexes into the
// Documents slice stand in for document identifiers everywhere else.
type SerializedDocument struct {
	Path string `json:"path"`
	Lang string `json:"lang,omitempty"`
}

// SerializedModule is one module occurrence; Doc indexes Documents.
type SerializedModule struct {
	Doc        int    `json:"doc"`
	Name       string `json:"name"`
	StructName string `json:"struct_name,omitempty"`
}

// SerializedSymbol is one symbol declaration; Module indexes Modules.
type SerializedSymbol struct {
	Module int       `json:"module"`
	Name   string    `json:"name"`
	Decl   stex.Span `json:"decl"`
}

// SerializedVerb is one verbalization occurrence; Doc indexes
// Documents.
type SerializedVerb struct {
	Doc  int                `json:"doc"`
	Verb stex.Verbalization `json:"verb"`
}

// SerializedEdge is a directed edge between two indexes.
type SerializedEdge struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// SerializedRange makes a module's symbols available over a byte range
// of a document.
type SerializedRange struct {
	Doc    int       `json:"doc"`
	Module int       `json:"module"`
	Range  stex.Span `json:"range"`
}

// SerializedResolution links a verbalization to the symbol it resolved
// to.
type SerializedResolution struct {
	Verb   int `json:"verb"`
	Symbol int `json:"symbol"`
}

// SerializedLinker is the persistent form of a linked corpus. It is
// self-contained: inspecting or diffing a snapshot needs no access to
// the corpus it was built from.
//
// Everything is emitted in identifier order, so serializing the same
// linked state twice yields byte-identical JSON and therefore the same
// content hash.
type SerializedLinker struct {
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	CorpusRoot    string    `json:"corpus_root,omitempty"`

	Documents     []SerializedDocument   `json:"documents"`
	Modules       []SerializedModule     `json:"modules"`
	Symbols       []SerializedSymbol     `json:"symbols"`
	Verbs         []SerializedVerb       `json:"verbs"`
	FileImports   []SerializedEdge       `json:"file_imports,omitempty"`
	ModuleImports []SerializedEdge       `json:"module_imports,omitempty"`
	Ranges        []SerializedRange      `json:"ranges,omitempty"`
	Resolutions   []SerializedResolution `json:"resolutions,omitempty"`
	TopoOrder     []int                  `json:"topo_order,omitempty"`
}

// Serialize converts the linker to its persistent form.
func (lk *Linker) Serialize() *SerializedLinker {
	s := &SerializedLinker{
		SchemaVersion: SnapshotSchemaVersion,
		CreatedAt:     time.Now().UTC(),
		CorpusRoot:    lk.corpusRoot,
	}

	s.Documents = make([]SerializedDocument, lk.docs.Len())
	for i := range s.Documents {
		s.Documents[i] = SerializedDocument{Path: lk.docs.Unintify(i), Lang: lk.docLang[i]}
	}

	s.Modules = make([]SerializedModule, lk.modules.Len())
	for i := range s.Modules {
		key := lk.modules.Unintify(i)
		s.Modules[i] = SerializedModule{
			Doc:        key.Doc,
			Name:       key.Name,
			StructName: lk.structNames[i],
		}
	}

	s.Symbols = make([]SerializedSymbol, lk.symbols.Len())
	for i := range s.Symbols {
		key := lk.symbols.Unintify(i)
		s.Symbols[i] = SerializedSymbol{Module: key.Module, Name: key.Sym.Name, Decl: key.Sym.Decl}
	}

	s.Verbs = make([]SerializedVerb, lk.verbs.Len())
	for i := range s.Verbs {
		key := lk.verbs.Unintify(i)
		s.Verbs[i] = SerializedVerb{Doc: key.Doc, Verb: key.Verb}
	}

	for from := 0; from < lk.docs.Len(); from++ {
		for _, to := range sortedKeys(lk.fileImports[from]) {
			s.FileImports = append(s.FileImports, SerializedEdge{From: from, To: to})
		}
	}
	for from := 0; from < lk.modules.Len(); from++ {
		for _, to := range sortedKeys(lk.moduleImports[from]) {
			s.ModuleImports = append(s.ModuleImports, SerializedEdge{From: from, To: to})
		}
	}
	for doc := 0; doc < lk.docs.Len(); doc++ {
		for _, am := range lk.availableRanges[doc] {
			s.Ranges = append(s.Ranges, SerializedRange{Doc: doc, Module: am.Module, Range: am.Range})
		}
	}
	for vid := 0; vid < lk.verbs.Len(); vid++ {
		if sid, ok := lk.verbSymbol[vid]; ok {
			s.Resolutions = append(s.Resolutions, SerializedResolution{Verb: vid, Symbol: sid})
		}
	}
	s.TopoOrder = append([]int(nil), lk.topoOrder...)
	return s
}

// ContentHash returns a short hex digest over the linked content,
// ignoring volatile fields like CreatedAt. Two builds of an unchanged
// corpus hash identically.
func (s *SerializedLinker) ContentHash() string {
	shadow := struct {
		Documents   []SerializedDocument   `json:"documents"`
		Modules     []SerializedModule     `json:"modules"`
		Symbols     []SerializedSymbol     `json:"symbols"`
		Verbs       []SerializedVerb       `json:"verbs"`
		Resolutions []SerializedResolution `json:"resolutions"`
	}{s.Documents, s.Modules, s.Symbols, s.Verbs, s.Resolutions}
	data, err := json.Marshal(shadow)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
