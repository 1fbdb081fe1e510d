// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mathhub

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// resolveCacheSize bounds the per-archive path-resolution cache. Path
// references are resolved for every dependency of every document, so
// the cache is sized generously.
const resolveCacheSize = 1 << 16

// archiveTopDirs are the directories that hold TeX sources.
var archiveTopDirs = []string{"source", "lib"}

// Archive is one MathHub repository on disk: a git-managed directory
// with an optional META-INF/MANIFEST.MF and TeX sources under source/
// and lib/.
type Archive struct {
	mh      *MathHub
	path    string // absolute archive root
	relPath string // slash path relative to the MathHub root

	manifest    Manifest
	manifestErr error

	docs         map[string]*Document // rel path (slash) -> document
	resolveCache *lru.Cache[resolveKey, string]

	logger *slog.Logger
}

type resolveKey struct {
	ref    string
	topDir string
	lang   string
}

func newArchive(mh *MathHub, absPath, relPath string) *Archive {
	cache, _ := lru.New[resolveKey, string](resolveCacheSize)
	a := &Archive{
		mh:           mh,
		path:         absPath,
		relPath:      relPath,
		docs:         make(map[string]*Document),
		resolveCache: cache,
		logger:       mh.logger,
	}
	a.loadManifest()
	return a
}

func (a *Archive) loadManifest() {
	a.manifest, a.manifestErr = LoadManifest(filepath.Join(a.path, filepath.FromSlash(manifestRelPath)))
}

// Path returns the archive's absolute root directory.
func (a *Archive) Path() string { return a.path }

// Name returns the archive name: the manifest's id when present,
// otherwise the path relative to the MathHub root.
func (a *Archive) Name() string {
	if a.manifestErr != nil {
		return a.relPath
	}
	if id := a.manifest.ID(); id != "" {
		return id
	}
	a.logger.Warn("archive manifest has no id", slog.String("path", a.path), slog.String("using", a.relPath))
	return a.relPath
}

// Manifest returns the parsed manifest, or nil when the archive has
// none.
func (a *Archive) Manifest() Manifest {
	if a.manifestErr != nil {
		return nil
	}
	return a.manifest
}

// IsStexArchive reports whether the manifest declares format "stex".
// Only sTeX archives contribute documents to linking; other git
// repositories under the root remain addressable as dependency targets.
func (a *Archive) IsStexArchive() bool {
	return a.manifestErr == nil && a.manifest.Format() == "stex"
}

// Documents returns the archive's documents sorted by path.
func (a *Archive) Documents() []*Document {
	out := make([]*Document, 0, len(a.docs))
	for _, d := range a.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// Document returns the document at the given path relative to the
// archive root (e.g. "source/sets/set.en.tex"), or nil.
func (a *Archive) Document(relPath string) *Document {
	return a.docs[relPath]
}

// update rescans the archive's TeX files: new files are added, stale
// in-memory DocInfos invalidated, vanished files dropped. The manifest
// is re-read and the resolution cache reset.
func (a *Archive) update() {
	a.loadManifest()
	a.resolveCache.Purge()

	stillNeeded := make(map[string]bool)
	a.eachTeXFile(func(relPath, absPath string) {
		stillNeeded[relPath] = true
		if doc, ok := a.docs[relPath]; ok {
			doc.InvalidateIfOutdated()
			return
		}
		a.docs[relPath] = newDocument(a, absPath, relPath)
	})
	for relPath := range a.docs {
		if !stillNeeded[relPath] {
			delete(a.docs, relPath)
		}
	}
}

// eachTeXFile walks source/ and lib/ for regular .tex files, skipping
// symlinks and dotfiles.
func (a *Archive) eachTeXFile(fn func(relPath, absPath string)) {
	for _, top := range archiveTopDirs {
		root := filepath.Join(a.path, top)
		_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // tolerate missing source/ or lib/
			}
			if d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".tex") {
				return nil
			}
			rel, relErr := filepath.Rel(a.path, p)
			if relErr != nil {
				return nil
			}
			fn(filepath.ToSlash(rel), p)
			return nil
		})
	}
}

// ResolvePathRef resolves a file reference from a dependency to an
// absolute path below the archive's topDir ("source" or "lib").
//
// Description:
//
//	The reference may omit the .tex extension or the language segment;
//	the fallback chain tries, in order: the exact path, the path with
//	".tex" appended, a "{name}.{lang}.tex" sibling (any language when
//	lang is "*"), and finally "{name}.en.tex" for non-English source
//	languages. Results, including misses, are memoized per archive.
//
// Returns:
//
//	The resolved absolute path and true, or "" and false when nothing
//	matches.
func (a *Archive) ResolvePathRef(ref, topDir, lang string) (string, bool) {
	if ref == "" {
		return "", false
	}
	key := resolveKey{ref: ref, topDir: topDir, lang: lang}
	if cached, ok := a.resolveCache.Get(key); ok {
		return cached, cached != ""
	}
	resolved := a.resolvePathRefUncached(ref, topDir, lang)
	a.resolveCache.Add(key, resolved)
	return resolved, resolved != ""
}

func (a *Archive) resolvePathRefUncached(ref, topDir, lang string) string {
	base := filepath.Join(a.path, topDir)
	p1 := filepath.Join(base, filepath.FromSlash(ref))
	if isFile(p1) {
		return p1
	}
	p2 := p1 + ".tex"
	if isFile(p2) {
		return p2
	}
	dir, name := filepath.Split(p1)
	langPat := lang
	if langPat == "" {
		langPat = "*"
	}
	matches, err := filepath.Glob(filepath.Join(dir, name+"."+langPat+".tex"))
	if err == nil && len(matches) > 0 {
		sort.Strings(matches)
		return matches[0]
	}
	if lang != "*" && lang != "en" && lang != "" {
		p3 := p1 + ".en.tex"
		if isFile(p3) {
			return p3
		}
	}
	return ""
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
