// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mathhub

import (
	"context"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/glossarium/stexlink/services/linker/stex"
)

// Document is one TeX file inside an archive. Its parsed DocInfo is
// computed lazily and dropped when the file changes on disk; a missing
// or unreadable file degrades to an empty DocInfo rather than an error,
// so corpus inconsistencies never stop a linker build.
type Document struct {
	archive *Archive
	path    string // absolute
	relPath string // slash path relative to the archive root ("source/...")

	docInfo *stex.DocInfo
}

func newDocument(a *Archive, absPath, relPath string) *Document {
	return &Document{archive: a, path: absPath, relPath: relPath}
}

// Path returns the document's absolute path.
func (d *Document) Path() string { return d.path }

// RelPath returns the path relative to the archive root, slash
// separated (e.g. "source/sets/set.en.tex").
func (d *Document) RelPath() string { return d.relPath }

// SourceRelPath returns the path below the archive's source/ or lib/
// directory.
func (d *Document) SourceRelPath() string {
	_, rest, found := strings.Cut(d.relPath, "/")
	if !found {
		return d.relPath
	}
	return rest
}

// Archive returns the owning archive.
func (d *Document) Archive() *Archive { return d.archive }

// Lang returns the document language derived from the filename.
func (d *Document) Lang() string { return stex.LangFromFilename(path.Base(d.relPath)) }

// Loaded reports whether a DocInfo is held in memory.
func (d *Document) Loaded() bool { return d.docInfo != nil }

// DocInfo returns the parsed facts for the document, computing them on
// first use. The result is shared and must be treated as read-only.
func (d *Document) DocInfo(ctx context.Context) *stex.DocInfo {
	if d.docInfo == nil {
		d.docInfo = d.parse(ctx)
	}
	return d.docInfo
}

// InvalidateIfOutdated drops the in-memory DocInfo when the file has
// been modified since it was computed (or no longer exists).
func (d *Document) InvalidateIfOutdated() {
	if d.docInfo == nil {
		return
	}
	info, err := os.Stat(d.path)
	if err != nil || info.ModTime().UnixMilli() > d.docInfo.ModTimeMilli {
		d.docInfo = nil
	}
}

// parse produces a fresh DocInfo, consulting the persistent cache
// first. It never fails: unreadable files yield an empty DocInfo.
func (d *Document) parse(ctx context.Context) *stex.DocInfo {
	logger := d.archive.logger

	var modMilli int64
	if info, err := os.Stat(d.path); err == nil {
		modMilli = info.ModTime().UnixMilli()
	}

	if cache := d.archive.mh.cache; cache != nil {
		if cached, ok := cache.Get(d.path, modMilli); ok {
			return cached
		}
	}

	src, err := os.ReadFile(d.path)
	if err != nil {
		logger.Error("file not readable", slog.String("path", d.path), slog.String("error", err.Error()))
		src = nil
	}

	info, err := d.archive.mh.scanner.Scan(ctx, stex.ScanRequest{
		Path:        d.path,
		RelPath:     d.SourceRelPath(),
		ArchiveName: d.archive.Name(),
		Source:      src,
	})
	if err != nil {
		logger.Error("scan failed", slog.String("path", d.path), slog.String("error", err.Error()))
		info = &stex.DocInfo{Lang: d.Lang()}
		info.Finalize()
	}
	info.ModTimeMilli = modMilli

	if cache := d.archive.mh.cache; cache != nil {
		if err := cache.Put(d.path, info); err != nil {
			logger.Warn("doc-info cache write failed", slog.String("path", d.path), slog.String("error", err.Error()))
		}
	}
	return info
}
