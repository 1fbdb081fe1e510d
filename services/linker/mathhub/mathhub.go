// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mathhub manages a corpus of sTeX archives on disk: archive
// discovery below a MathHub root, manifests, document enumeration,
// path-reference resolution between archives, parallel parsing and a
// persistent doc-info cache. The linker consumes a MathHub as a frozen
// snapshot; Update rescans when the filesystem changed.
package mathhub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/glossarium/stexlink/services/linker/stex"
)

// ErrNoRoot is returned when no corpus root is configured and the
// MATHHUB environment variable is unset.
var ErrNoRoot = errors.New("no corpus root: MATHHUB environment variable not set")

// Option configures a MathHub instance.
type Option func(*MathHub)

// WithLogger sets the logger for corpus operations.
func WithLogger(logger *slog.Logger) Option {
	return func(mh *MathHub) {
		if logger != nil {
			mh.logger = logger
		}
	}
}

// WithScanner replaces the default document scanner.
func WithScanner(s *stex.Scanner) Option {
	return func(mh *MathHub) {
		if s != nil {
			mh.scanner = s
		}
	}
}

// WithDocCache attaches a persistent doc-info cache.
func WithDocCache(c *DocCache) Option {
	return func(mh *MathHub) { mh.cache = c }
}

// WithFilter restricts which archives contribute documents to linking.
// Both arguments are comma-separated glob patterns matched against
// archive names; empty strings mean "everything" and "nothing".
func WithFilter(filter, ignore string) Option {
	return func(mh *MathHub) { mh.filter = MakeFilter(filter, ignore) }
}

// WithWorkers sets the parallel parse worker count.
func WithWorkers(n int) Option {
	return func(mh *MathHub) {
		if n > 0 {
			mh.workers = n
		}
	}
}

// MathHub is the corpus: every git repository found below the root,
// keyed by archive name.
//
// Thread Safety:
//
//	A MathHub is not safe for concurrent mutation. Callers rebuild or
//	Update it from a single goroutine and treat it as read-only while a
//	linker build is running (LoadAll parallelizes internally with
//	disjoint writes).
type MathHub struct {
	root    string
	logger  *slog.Logger
	scanner *stex.Scanner
	cache   *DocCache
	filter  func(string) bool
	workers int

	archives map[string]*Archive
	byPath   map[string]*Document // absolute path -> document
}

// New creates a MathHub rooted at root (or $MATHHUB when root is
// empty) and performs the initial archive scan.
func New(root string, opts ...Option) (*MathHub, error) {
	if root == "" {
		root = os.Getenv("MATHHUB")
	}
	if root == "" {
		return nil, ErrNoRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving corpus root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("corpus root %s is not a directory", abs)
	}

	mh := &MathHub{
		root:     abs,
		logger:   slog.Default(),
		workers:  runtime.NumCPU(),
		filter:   MakeFilter("", ""),
		archives: make(map[string]*Archive),
		byPath:   make(map[string]*Document),
	}
	for _, opt := range opts {
		opt(mh)
	}
	if mh.scanner == nil {
		mh.scanner = stex.NewScanner(stex.WithScannerLogger(mh.logger))
	}
	mh.Update()
	return mh, nil
}

// Root returns the absolute corpus root directory.
func (mh *MathHub) Root() string { return mh.root }

// Update rescans the corpus: discovers archives (git repositories
// below the root), drops vanished ones, and refreshes each remaining
// archive's file list and manifest.
func (mh *MathHub) Update() {
	mh.logger.Info("scanning archives", slog.String("root", mh.root))

	stillNeeded := make(map[string]bool)
	for _, dir := range discoverGitRepos(mh.root) {
		rel, err := filepath.Rel(mh.root, dir)
		if err != nil {
			continue
		}
		relSlash := filepath.ToSlash(rel)
		probe := newArchive(mh, dir, relSlash)
		name := probe.Name()
		if _, ok := mh.archives[name]; !ok {
			mh.archives[name] = probe
		}
		stillNeeded[name] = true
	}
	for name := range mh.archives {
		if !stillNeeded[name] {
			delete(mh.archives, name)
		}
	}

	mh.byPath = make(map[string]*Document)
	for _, a := range mh.archives {
		a.update()
		for _, d := range a.docs {
			mh.byPath[d.path] = d
		}
	}

	mh.logger.Info("archive scan complete", slog.Int("archives", len(mh.archives)))
}

// Archive returns the archive with the given name, or nil.
func (mh *MathHub) Archive(name string) *Archive {
	return mh.archives[name]
}

// Archives returns all discovered archives sorted by name.
func (mh *MathHub) Archives() []*Archive {
	out := make([]*Archive, 0, len(mh.archives))
	for _, a := range mh.archives {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// StexArchives returns the sTeX archives that pass the configured
// filter, sorted by name.
func (mh *MathHub) StexArchives() []*Archive {
	var out []*Archive
	for _, a := range mh.Archives() {
		if a.IsStexArchive() && mh.filter(a.Name()) {
			out = append(out, a)
		}
	}
	return out
}

// Documents returns every document of every filtered sTeX archive in a
// deterministic order (archives by name, documents by path). The
// linker relies on this order for reproducible integer assignment.
func (mh *MathHub) Documents() []*Document {
	var out []*Document
	for _, a := range mh.StexArchives() {
		out = append(out, a.Documents()...)
	}
	return out
}

// Document returns the document with the given absolute path, or nil.
func (mh *MathHub) Document(absPath string) *Document {
	return mh.byPath[absPath]
}

// ResolveDependency resolves a dependency declared in src to its
// target document and, when the dependency names one, the target
// module.
//
// Description:
//
//	Mirrors the reference resolution rules: the target archive must be
//	locally present; the file hint is resolved below source/ (or lib/
//	for library dependencies) trying a module-suffixed path first, then
//	the plain hint; failing that, hints marked relative are retried
//	relative to the declaring file's directory within the same archive.
//
// Returns:
//
//	(nil, nil) when the target cannot be resolved; (doc, nil) when the
//	file resolves but the named module is absent or none was named.
func (mh *MathHub) ResolveDependency(ctx context.Context, src *Document, dep stex.Dependency) (*Document, *stex.ModuleInfo) {
	if dep.FileHint == "" {
		return nil, nil
	}
	arch := mh.Archive(dep.Archive)
	if arch == nil {
		return nil, nil
	}
	topDir := "source"
	if dep.IsLib() {
		topDir = "lib"
	}
	lang := src.DocInfo(ctx).Lang

	var resolved string
	var ok bool
	if dep.ModuleName != "" {
		resolved, ok = arch.ResolvePathRef(dep.FileHint+"/"+dep.ModuleName, topDir, lang)
	}
	if !ok {
		resolved, ok = arch.ResolvePathRef(dep.FileHint, topDir, lang)
	}
	if !ok && dep.RelativeOK && arch == src.archive {
		srcDir := path.Dir(src.SourceRelPath())
		if srcDir == "." {
			srcDir = ""
		}
		rel := path.Join(srcDir, dep.FileHint)
		resolved, ok = arch.ResolvePathRef(rel, topDir, lang)
		if !ok && dep.ModuleName != "" {
			resolved, ok = arch.ResolvePathRef(rel+"/"+dep.ModuleName, topDir, lang)
		}
	}
	if !ok {
		return nil, nil
	}

	doc := mh.Document(resolved)
	if doc == nil {
		return nil, nil
	}
	if dep.ModuleName == "" {
		return doc, nil
	}
	return doc, doc.DocInfo(ctx).Module(dep.ModuleName)
}

// discoverGitRepos walks below root collecting directories that carry
// a .git entry, without descending into repositories. Unreadable
// directories are skipped.
func discoverGitRepos(root string) []string {
	var out []string
	var walk func(dir string)
	walk = func(dir string) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			sub := filepath.Join(dir, e.Name())
			if gitInfo, err := os.Stat(filepath.Join(sub, ".git")); err == nil && gitInfo.IsDir() {
				out = append(out, sub)
				continue
			}
			walk(sub)
		}
	}
	walk(root)
	sort.Strings(out)
	return out
}

// MakeFilter builds an archive-name predicate from comma-separated
// glob pattern lists. An empty filter admits everything; ignore
// patterns veto matches.
func MakeFilter(filter, ignore string) func(string) bool {
	if filter == "" && ignore == "" {
		return func(string) bool { return true }
	}
	filterPats := splitPatterns(filter)
	if len(filterPats) == 0 {
		filterPats = []string{"*"}
	}
	ignorePats := splitPatterns(ignore)
	return func(name string) bool {
		for _, p := range filterPats {
			if !globMatch(p, name) {
				continue
			}
			for _, ip := range ignorePats {
				if globMatch(ip, name) {
					return false
				}
			}
			return true
		}
		return false
	}
}

func splitPatterns(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func globMatch(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
