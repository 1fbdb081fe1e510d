// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stex holds the parsed facts about sTeX documents: declared
// modules and structures, their symbols, dependency records (imports,
// uses, inputs), and verbalization occurrences. The types here are the
// contract between the scanner and the linker; they carry byte spans
// rather than AST nodes so that a DocInfo can be cached and compared
// independently of how it was produced.
package stex

// DepFlag is a bit set describing how a dependency behaves during
// linking.
type DepFlag uint8

const (
	// DepLib marks a dependency on library content (resolved under lib/
	// instead of source/).
	DepLib DepFlag = 1 << iota
	// DepUse marks a non-exporting import: the target becomes visible
	// locally but is not propagated to importers.
	DepUse
	// DepNoTeX marks a dependency whose target is not a TeX file
	// (graphics, listings). No graph edge is built for it.
	DepNoTeX
	// DepInput marks file inclusion (inputref-style) rather than a
	// module import.
	DepInput
	// DepUseStruct marks a \usestructure reference, resolved in a later
	// linking phase.
	DepUseStruct
)

// Has reports whether all bits of mask are set.
func (f DepFlag) Has(mask DepFlag) bool { return f&mask == mask }

// Dependency records one dependency edge declared in a document: the
// target archive, an optional file hint and module name, behavior flags,
// the span over which the dependency is in effect (Scope) and the span
// of the declaring macro itself (Intro).
//
// The archive name is always filled in by the scanner; dependencies on
// archives that are not locally installed keep their metadata and are
// skipped at link time instead of being dropped here.
type Dependency struct {
	Archive    string  `json:"archive"`
	FileHint   string  `json:"file_hint,omitempty"`
	ModuleName string  `json:"module_name,omitempty"`
	Flags      DepFlag `json:"flags"`
	Scope      Span    `json:"scope"`
	Intro      Span    `json:"intro"`
	// RelativeOK permits resolving FileHint relative to the directory of
	// the declaring file when the archive-rooted lookup fails.
	RelativeOK bool `json:"relative_ok,omitempty"`
}

// IsLib reports whether the target lives under the archive's lib/ tree.
func (d Dependency) IsLib() bool { return d.Flags.Has(DepLib) }

// IsUse reports whether the dependency is a non-exporting import.
func (d Dependency) IsUse() bool { return d.Flags.Has(DepUse) }

// IsUseStruct reports whether the dependency is a \usestructure reference.
func (d Dependency) IsUseStruct() bool { return d.Flags.Has(DepUseStruct) }

// TargetNoTeX reports whether the target is not a TeX file.
func (d Dependency) TargetNoTeX() bool { return d.Flags.Has(DepNoTeX) }

// IsInput reports whether the dependency inlines a file rather than
// importing a module.
func (d Dependency) IsInput() bool { return d.Flags.Has(DepInput) }

// Symbol is one declared symbol. Decl is the span of the declaring
// macro. Symbols are unique per module by name; the same name may recur
// across modules.
type Symbol struct {
	Name string `json:"name"`
	Decl Span   `json:"decl"`
}

// Verbalization is one occurrence of a symbol reference in running
// text. PathHint disambiguates same-named symbols: for "foo/bar?baz"
// the hint is "foo/bar" and the symbol name is "baz".
type Verbalization struct {
	SymbolName string `json:"symbol_name"`
	PathHint   string `json:"path_hint,omitempty"`
	Text       string `json:"text"`
	Lang       string `json:"lang"`
	Macro      Span   `json:"macro"`
	Defining   bool   `json:"defining,omitempty"`
}

// ModuleInfo describes one declared module. Structures (mathstructure,
// extstructure) are represented as specialized modules: IsStructure is
// set, StructName holds the declared structure name, and StructDeps
// lists the structure dependency names from an extstructure header.
//
// Name reflects submodule nesting with slashes ("parent/child");
// structure modules are named "{parent}/{structname}-module".
type ModuleInfo struct {
	Name         string        `json:"name"`
	Valid        Span          `json:"valid"`
	StructName   string        `json:"struct_name,omitempty"`
	Dependencies []Dependency  `json:"dependencies,omitempty"`
	Symbols      []Symbol      `json:"symbols,omitempty"`
	Modules      []*ModuleInfo `json:"modules,omitempty"`
	IsStructure  bool          `json:"is_structure,omitempty"`
	StructDeps   []string      `json:"struct_deps,omitempty"`
}

// ValidSpan returns the byte range the module covers.
func (m *ModuleInfo) ValidSpan() Span { return m.Valid }

// Children returns the directly nested modules.
func (m *ModuleInfo) Children() []*ModuleInfo { return m.Modules }

// SelfAndDescendants returns the module followed by all nested modules
// in declaration order.
func (m *ModuleInfo) SelfAndDescendants() []*ModuleInfo {
	out := []*ModuleInfo{m}
	for _, child := range m.Modules {
		out = append(out, child.SelfAndDescendants()...)
	}
	return out
}

// FlattenedDependencies returns the module's dependencies followed by
// those of all nested modules.
func (m *ModuleInfo) FlattenedDependencies() []Dependency {
	out := append([]Dependency(nil), m.Dependencies...)
	for _, child := range m.Modules {
		out = append(out, child.FlattenedDependencies()...)
	}
	return out
}

// DocInfo is everything the scanner extracted from one document at one
// point in time: the language tag, top-level dependencies, the module
// tree, and the flat list of verbalization occurrences.
//
// A DocInfo is immutable once finalized. Re-parsing a document produces
// a fresh DocInfo; nothing updates one in place.
type DocInfo struct {
	// ModTimeMilli is the source file's modification time (Unix
	// milliseconds) at scan time, used for cache invalidation.
	ModTimeMilli   int64           `json:"mod_time_milli"`
	Lang           string          `json:"lang"`
	Length         int             `json:"length"`
	Dependencies   []Dependency    `json:"dependencies,omitempty"`
	Modules        []*ModuleInfo   `json:"modules,omitempty"`
	Verbalizations []Verbalization `json:"verbalizations,omitempty"`

	moduleByName map[string]*ModuleInfo
}

// ValidSpan returns the span of the whole document.
func (di *DocInfo) ValidSpan() Span { return Span{Start: 0, End: di.Length} }

// Children returns the top-level modules.
func (di *DocInfo) Children() []*ModuleInfo { return di.Modules }

// AllModules returns every module declared in the document, including
// nested modules and structures, in declaration order.
func (di *DocInfo) AllModules() []*ModuleInfo {
	var out []*ModuleInfo
	for _, m := range di.Modules {
		out = append(out, m.SelfAndDescendants()...)
	}
	return out
}

// FlattenedDependencies returns the document-level dependencies
// followed by those of every module.
func (di *DocInfo) FlattenedDependencies() []Dependency {
	out := append([]Dependency(nil), di.Dependencies...)
	for _, m := range di.Modules {
		out = append(out, m.FlattenedDependencies()...)
	}
	return out
}

// Module returns the module with the given full (slash-joined) name,
// or nil. Finalize must have been called first.
func (di *DocInfo) Module(name string) *ModuleInfo {
	return di.moduleByName[name]
}

// Finalize builds the name lookup table. It must be called once after
// construction (the scanner does this) and again after deserializing a
// cached DocInfo.
func (di *DocInfo) Finalize() {
	di.moduleByName = make(map[string]*ModuleInfo)
	for _, m := range di.AllModules() {
		di.moduleByName[m.Name] = m
	}
}

// Container is implemented by DocInfo and ModuleInfo, the two kinds of
// scope that can enclose a module declaration. It lets the linker walk
// for a structure's smallest enclosing module without caring which kind
// of node it is looking at.
type Container interface {
	ValidSpan() Span
	Children() []*ModuleInfo
}
