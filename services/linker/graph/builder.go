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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/glossarium/stexlink/services/linker/mathhub"
	"github.com/glossarium/stexlink/services/linker/stex"
)

const defaultWarningLimit = 1000

// WarningCode classifies a linking diagnostic.
type WarningCode string

const (
	// WarnCycle is emitted once per back edge found in the file
	// dependency graph.
	WarnCycle WarningCode = "cycle"
	// WarnStructCycle is emitted for back edges in the structure
	// inheritance graph.
	WarnStructCycle WarningCode = "structure-cycle"
	// WarnUnresolvedDep marks a dependency whose target file could not
	// be found in the corpus.
	WarnUnresolvedDep WarningCode = "unresolved-dependency"
	// WarnUnresolvedStructDep marks an extstructure dependency whose
	// name matched no structure in scope.
	WarnUnresolvedStructDep WarningCode = "unresolved-structure-dependency"
	// WarnNoStructure marks a \usestructure that matched no structure
	// in scope.
	WarnNoStructure WarningCode = "no-structure"
	// WarnNoSymbol marks a verbalization with no symbol candidate in
	// scope.
	WarnNoSymbol WarningCode = "no-symbol"
	// WarnAmbiguousSymbol marks a verbalization with more than one
	// symbol candidate left after filtering.
	WarnAmbiguousSymbol WarningCode = "ambiguous-symbol"
)

// Warning is one recoverable linking diagnostic. Linking never fails on
// corpus content; everything wrong with the input surfaces here (and in
// the logs) while the build carries on.
type Warning struct {
	Code    WarningCode `json:"code"`
	Path    string      `json:"path,omitempty"`
	Message string      `json:"message"`
}

// BuildStats summarizes one build.
type BuildStats struct {
	Documents       int           `json:"documents"`
	LoadedDocuments int           `json:"loaded_documents"`
	Modules         int           `json:"modules"`
	Structures      int           `json:"structures"`
	Symbols         int           `json:"symbols"`
	Verbalizations  int           `json:"verbalizations"`
	FileEdges       int           `json:"file_edges"`
	ModuleEdges     int           `json:"module_edges"`
	Resolved        int           `json:"resolved"`
	Unresolved      int           `json:"unresolved"`
	Ambiguous       int           `json:"ambiguous"`
	Cycles          int           `json:"cycles"`
	Duration        time.Duration `json:"duration_ns"`
}

// BuildResult carries the linked graph together with everything the
// build wants to report about how it went.
type BuildResult struct {
	Linker   *Linker
	Stats    BuildStats
	Warnings []Warning
	// Incomplete is set when the warning list was truncated at the
	// builder's limit. The Linker itself is still fully built; only the
	// report is partial.
	Incomplete bool
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithBuildLogger sets the logger for build diagnostics.
func WithBuildLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithWarningLimit caps the number of warnings kept in the BuildResult.
// Diagnostics beyond the cap are still logged.
func WithWarningLimit(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.warnLimit = n
		}
	}
}

// Builder turns a corpus into a Linker.
//
// Description:
//
//	A build runs in phases: load all document facts, collect the
//	dependency graph and register every module and symbol, order the
//	files dependencies-first, compute transitive import closures, link
//	structure inheritance, and finally resolve verbalizations against
//	the symbols in scope. Each phase only reads what earlier phases
//	produced.
//
// Thread Safety:
//
//	A Builder holds no per-build state and may be reused; Build itself
//	must not run concurrently against the same MathHub because document
//	loading mutates it.
type Builder struct {
	logger    *slog.Logger
	warnLimit int
}

// NewBuilder creates a Builder with the given options applied.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		logger:    slog.Default(),
		warnLimit: defaultWarningLimit,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build links the corpus and returns the result. Only context
// cancellation and load failures abort a build; problems in the corpus
// itself become warnings.
func (b *Builder) Build(ctx context.Context, mh *mathhub.MathHub) (*BuildResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "graph.Build",
		trace.WithAttributes(attribute.String("stexlink.corpus_root", mh.Root())))
	defer span.End()

	loaded, err := mh.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading corpus documents: %w", err)
	}

	st := &buildState{
		b:  b,
		mh: mh,
		lk: newLinker(),
	}
	st.lk.corpusRoot = mh.Root()
	st.stats.LoadedDocuments = loaded

	phases := []struct {
		name string
		run  func(context.Context)
	}{
		{"collect", st.collect},
		{"toposort", st.sortFiles},
		{"closures", st.computeClosures},
		{"structures", st.linkStructures},
		{"resolve", st.resolveVerbalizations},
	}
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("build canceled before %s phase: %w", p.name, err)
		}
		_, phaseSpan := tracer.Start(ctx, "graph.Build/"+p.name)
		p.run(ctx)
		phaseSpan.End()
	}

	st.stats.Documents = st.lk.docs.Len()
	st.stats.Modules = len(st.lk.moduleFile)
	st.stats.Structures = len(st.structIDs)
	st.stats.Symbols = st.lk.symbols.Len()
	st.stats.Verbalizations = st.lk.verbs.Len()
	st.stats.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("stexlink.documents", st.stats.Documents),
		attribute.Int("stexlink.symbols", st.stats.Symbols),
		attribute.Int("stexlink.resolved", st.stats.Resolved),
		attribute.Int("stexlink.warnings", len(st.warnings)),
	)
	recordBuildMetrics(ctx, st.stats)

	b.logger.Info("corpus linked",
		slog.Int("documents", st.stats.Documents),
		slog.Int("modules", st.stats.Modules),
		slog.Int("symbols", st.stats.Symbols),
		slog.Int("verbalizations", st.stats.Verbalizations),
		slog.Int("resolved", st.stats.Resolved),
		slog.Int("unresolved", st.stats.Unresolved),
		slog.Int("ambiguous", st.stats.Ambiguous),
		slog.Duration("took", st.stats.Duration))

	return &BuildResult{
		Linker:     st.lk,
		Stats:      st.stats,
		Warnings:   st.warnings,
		Incomplete: st.truncated,
	}, nil
}

// buildState is the working set of one build.
type buildState struct {
	b  *Builder
	mh *mathhub.MathHub
	lk *Linker

	// docs and infos are aligned with document identifiers.
	docs  []*mathhub.Document
	infos []*stex.DocInfo

	// structIDs lists structure module identifiers in registration
	// order; structMods keeps their declarations at hand.
	structIDs  []int
	structMods map[int]*stex.ModuleInfo

	// pendingUses collects \usestructure references during the collect
	// phase; they resolve only after structure closures exist.
	pendingUses []pendingStructUse

	warnings  []Warning
	truncated bool
	stats     BuildStats
}

type pendingStructUse struct {
	doc int
	dep stex.Dependency
}

// intifyDoc interns a document and grows the aligned slices.
func (st *buildState) intifyDoc(d *mathhub.Document) int {
	id := st.lk.docs.Intify(d.Path())
	for len(st.docs) <= id {
		st.docs = append(st.docs, nil)
		st.infos = append(st.infos, nil)
		st.lk.docLang = append(st.lk.docLang, "")
	}
	if st.docs[id] == nil {
		st.docs[id] = d
		st.lk.docLang[id] = d.Lang()
	}
	return id
}

// info returns the document facts for id, loading them on demand for
// documents that entered the graph only as dependency targets.
func (st *buildState) info(ctx context.Context, id int) *stex.DocInfo {
	if st.infos[id] == nil && st.docs[id] != nil {
		st.infos[id] = st.docs[id].DocInfo(ctx)
	}
	return st.infos[id]
}

func (st *buildState) warn(code WarningCode, path, msg string) {
	st.b.logger.Warn(msg, slog.String("code", string(code)), slog.String("path", path))
	st.keep(code, path, msg)
}

func (st *buildState) errorw(code WarningCode, path, msg string) {
	st.b.logger.Error(msg, slog.String("code", string(code)), slog.String("path", path))
	st.keep(code, path, msg)
}

func (st *buildState) keep(code WarningCode, path, msg string) {
	if len(st.warnings) >= st.b.warnLimit {
		st.truncated = true
		return
	}
	st.warnings = append(st.warnings, Warning{Code: code, Path: path, Message: msg})
}
