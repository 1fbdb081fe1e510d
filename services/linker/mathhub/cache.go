// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mathhub

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/glossarium/stexlink/services/linker/stex"
)

const (
	// DocCacheKeyPrefix namespaces doc-info entries within the cache
	// database. cmd/doccache_dump depends on this value.
	DocCacheKeyPrefix = "stexlink:docinfo:"

	// docCacheSchemaVersion invalidates cached entries whenever the
	// scanner's output format changes. Bump on any DocInfo change.
	docCacheSchemaVersion = 1
)

// DocCacheEntry is the stored form of one cached DocInfo.
type DocCacheEntry struct {
	SchemaVersion int           `json:"schema_version"`
	Path          string        `json:"path"`
	ModTimeMilli  int64         `json:"mod_time_milli"`
	Info          *stex.DocInfo `json:"info"`
}

// DocCacheOption configures a DocCache.
type DocCacheOption func(*DocCache)

// WithDocCacheLogger sets the cache logger.
func WithDocCacheLogger(logger *slog.Logger) DocCacheOption {
	return func(c *DocCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// DocCache persists parsed DocInfos in BadgerDB so that unchanged
// documents survive process restarts without a re-parse. Values are
// gzip-compressed JSON keyed by a hash of the document path; entries
// are ignored when the schema version or the file's modification time
// no longer match.
type DocCache struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewDocCache creates a cache on top of an open BadgerDB handle. The
// caller owns the handle's lifecycle.
func NewDocCache(db *badger.DB, opts ...DocCacheOption) (*DocCache, error) {
	if db == nil {
		return nil, errors.New("doc cache requires a database handle")
	}
	c := &DocCache{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the cached DocInfo for path when it matches the given
// modification time and the current schema version.
func (c *DocCache) Get(path string, modTimeMilli int64) (*stex.DocInfo, bool) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docCacheKey(path))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("doc-info cache read failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil, false
	}

	decompressed, err := gunzipBytes(raw)
	if err != nil {
		c.logger.Warn("doc-info cache entry corrupt", slog.String("path", path), slog.String("error", err.Error()))
		return nil, false
	}
	var entry DocCacheEntry
	if err := json.Unmarshal(decompressed, &entry); err != nil {
		c.logger.Warn("doc-info cache entry corrupt", slog.String("path", path), slog.String("error", err.Error()))
		return nil, false
	}
	if entry.SchemaVersion != docCacheSchemaVersion || entry.ModTimeMilli != modTimeMilli || entry.Info == nil {
		return nil, false
	}
	entry.Info.Finalize()
	return entry.Info, true
}

// Put stores a DocInfo under the document's path.
func (c *DocCache) Put(path string, info *stex.DocInfo) error {
	entry := DocCacheEntry{
		SchemaVersion: docCacheSchemaVersion,
		Path:          path,
		ModTimeMilli:  info.ModTimeMilli,
		Info:          info,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding doc-info cache entry: %w", err)
	}
	compressed, err := gzipBytes(raw)
	if err != nil {
		return fmt.Errorf("compressing doc-info cache entry: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(docCacheKey(path), compressed)
	})
}

// Clear drops every doc-info entry.
func (c *DocCache) Clear() error {
	return c.db.DropPrefix([]byte(DocCacheKeyPrefix))
}

// EntryCount returns the number of cached doc-infos.
func (c *DocCache) EntryCount() (int, error) {
	count := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(DocCacheKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func docCacheKey(path string) []byte {
	sum := sha256.Sum256([]byte(path))
	return []byte(DocCacheKeyPrefix + hex.EncodeToString(sum[:])[:16])
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
