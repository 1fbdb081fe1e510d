// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

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
	"slices"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Snapshot storage layout. The cache database may be shared by several
// corpora, so every key carries a corpus segment derived from the root
// path. Bodies are content-addressed: saving an unchanged corpus twice
// stores one snapshot.
//
//	stexlink:snapshot:{corpusHash}:{id}      -> gzip(JSON(SerializedLinker))
//	stexlink:snapshot-meta:{corpusHash}:{id} -> JSON(SnapshotMeta)
//	stexlink:snapshot-latest:{corpusHash}    -> id
const (
	SnapshotKeyPrefix     = "stexlink:snapshot:"
	SnapshotMetaKeyPrefix = "stexlink:snapshot-meta:"
	SnapshotLatestPrefix  = "stexlink:snapshot-latest:"
)

// ErrSnapshotNotFound is returned for lookups of unknown snapshot ids.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotMeta is the small, always-loaded part of a stored snapshot.
type SnapshotMeta struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	SchemaVersion  int       `json:"schema_version"`
	CorpusRoot     string    `json:"corpus_root,omitempty"`
	CorpusHash     string    `json:"corpus_hash,omitempty"`
	Documents      int       `json:"documents"`
	Modules        int       `json:"modules"`
	Symbols        int       `json:"symbols"`
	Verbalizations int       `json:"verbalizations"`
	Resolutions    int       `json:"resolutions"`
}

// corpusScope derives the key segment grouping one corpus's snapshots.
func corpusScope(corpusRoot string) string {
	sum := sha256.Sum256([]byte(corpusRoot))
	return hex.EncodeToString(sum[:])[:16]
}

// SnapshotStoreOption configures a SnapshotStore.
type SnapshotStoreOption func(*SnapshotStore)

// WithSnapshotLogger sets the logger for store diagnostics.
func WithSnapshotLogger(logger *slog.Logger) SnapshotStoreOption {
	return func(s *SnapshotStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// SnapshotStore persists serialized linker states in a badger database
// so that corpus states can be compared across time. A store handle is
// bound to one corpus; it never sees another corpus's snapshots even
// when the database is shared.
type SnapshotStore struct {
	db     *badger.DB
	root   string
	scope  string
	logger *slog.Logger
}

// NewSnapshotStore wraps an open badger database for one corpus root.
func NewSnapshotStore(db *badger.DB, corpusRoot string, opts ...SnapshotStoreOption) (*SnapshotStore, error) {
	if db == nil {
		return nil, errors.New("snapshot store requires an open database")
	}
	if corpusRoot == "" {
		return nil, errors.New("snapshot store requires a corpus root")
	}
	s := &SnapshotStore{
		db:     db,
		root:   corpusRoot,
		scope:  corpusScope(corpusRoot),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SnapshotStore) dataKey(id string) []byte {
	return []byte(SnapshotKeyPrefix + s.scope + ":" + id)
}

func (s *SnapshotStore) metaKey(id string) []byte {
	return []byte(SnapshotMetaKeyPrefix + s.scope + ":" + id)
}

func (s *SnapshotStore) latestKey() []byte {
	return []byte(SnapshotLatestPrefix + s.scope)
}

// Save stores a snapshot of the linker and returns its metadata. The
// snapshot id is the content hash, so saving an identical state is
// idempotent.
func (s *SnapshotStore) Save(lk *Linker) (*SnapshotMeta, error) {
	sl := lk.Serialize()
	return s.SaveSerialized(sl)
}

// SaveSerialized stores an already-serialized snapshot.
func (s *SnapshotStore) SaveSerialized(sl *SerializedLinker) (*SnapshotMeta, error) {
	id := sl.ContentHash()
	if id == "" {
		return nil, errors.New("computing snapshot content hash")
	}
	meta := &SnapshotMeta{
		ID:             id,
		CreatedAt:      sl.CreatedAt,
		SchemaVersion:  sl.SchemaVersion,
		CorpusRoot:     s.root,
		CorpusHash:     s.scope,
		Documents:      len(sl.Documents),
		Modules:        len(sl.Modules),
		Symbols:        len(sl.Symbols),
		Verbalizations: len(sl.Verbs),
		Resolutions:    len(sl.Resolutions),
	}

	body, err := json.Marshal(sl)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}
	packed, err := gzipSnapshot(body)
	if err != nil {
		return nil, fmt.Errorf("compressing snapshot: %w", err)
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot meta: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(s.dataKey(id), packed); err != nil {
			return err
		}
		if err := txn.Set(s.metaKey(id), metaBytes); err != nil {
			return err
		}
		return txn.Set(s.latestKey(), []byte(id))
	})
	if err != nil {
		return nil, fmt.Errorf("storing snapshot %s: %w", id, err)
	}
	s.logger.Info("snapshot stored",
		slog.String("id", id),
		slog.Int("documents", meta.Documents),
		slog.Int("resolutions", meta.Resolutions))
	return meta, nil
}

// Load returns the snapshot with the given id.
func (s *SnapshotStore) Load(id string) (*SerializedLinker, error) {
	var packed []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.dataKey(id))
		if err != nil {
			return err
		}
		packed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", id, err)
	}
	body, err := gunzipSnapshot(packed)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot %s: %w", id, err)
	}
	var sl SerializedLinker
	if err := json.Unmarshal(body, &sl); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot %s: %w", id, err)
	}
	if sl.SchemaVersion != SnapshotSchemaVersion {
		return nil, fmt.Errorf("snapshot %s has schema version %d, want %d",
			id, sl.SchemaVersion, SnapshotSchemaVersion)
	}
	return &sl, nil
}

// LatestID returns the id of the most recently saved snapshot.
func (s *SnapshotStore) LatestID() (string, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.latestKey())
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id = string(val)
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrSnapshotNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading latest snapshot pointer: %w", err)
	}
	return id, nil
}

// LoadLatest returns the most recently saved snapshot.
func (s *SnapshotStore) LoadLatest() (*SerializedLinker, error) {
	id, err := s.LatestID()
	if err != nil {
		return nil, err
	}
	return s.Load(id)
}

// List returns the metadata of all stored snapshots, oldest first.
func (s *SnapshotStore) List() ([]SnapshotMeta, error) {
	var metas []SnapshotMeta
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(SnapshotMetaKeyPrefix + s.scope + ":")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var meta SnapshotMeta
			if err := json.Unmarshal(val, &meta); err != nil {
				s.logger.Warn("skipping undecodable snapshot meta",
					slog.String("key", string(it.Item().Key())),
					slog.String("error", err.Error()))
				continue
			}
			metas = append(metas, meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	slices.SortFunc(metas, func(a, b SnapshotMeta) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return metas, nil
}

// Delete removes a snapshot. Deleting the latest one clears the latest
// pointer.
func (s *SnapshotStore) Delete(id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(s.metaKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(s.dataKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(s.metaKey(id)); err != nil {
			return err
		}
		item, err := txn.Get(s.latestKey())
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		latest, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(latest) == id {
			return txn.Delete(s.latestKey())
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", id, err)
	}
	return nil
}

func gzipSnapshot(data []byte) ([]byte, error) {
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

func gunzipSnapshot(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
