// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"errors"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("opening in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T) *SnapshotStore {
	t.Helper()
	store, err := NewSnapshotStore(newTestDB(t), "/corpus", WithSnapshotLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	return store
}

func TestNewSnapshotStore_RequiresDB(t *testing.T) {
	if _, err := NewSnapshotStore(nil, "/corpus"); err == nil {
		t.Error("expected error for nil database")
	}
	if _, err := NewSnapshotStore(newTestDB(t), ""); err == nil {
		t.Error("expected error for empty corpus root")
	}
}

func TestSnapshotStore_SaveAndLoad(t *testing.T) {
	c, _ := algebraCorpus(t)
	res := c.link(t)
	store := newTestStore(t)

	meta, err := store.Save(res.Linker)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if meta.Documents != 4 || meta.Modules != 3 || meta.Symbols != 5 {
		t.Errorf("meta = %+v", meta)
	}
	if meta.Resolutions != res.Stats.Resolved {
		t.Errorf("meta.Resolutions = %d, want %d", meta.Resolutions, res.Stats.Resolved)
	}
	if meta.CorpusRoot != "/corpus" || len(meta.CorpusHash) != 16 {
		t.Errorf("corpus binding = %q / %q", meta.CorpusRoot, meta.CorpusHash)
	}

	loaded, err := store.Load(meta.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ContentHash() != meta.ID {
		t.Errorf("loaded hash %s != stored id %s", loaded.ContentHash(), meta.ID)
	}

	latest, err := store.LatestID()
	if err != nil {
		t.Fatalf("LatestID: %v", err)
	}
	if latest != meta.ID {
		t.Errorf("latest = %s, want %s", latest, meta.ID)
	}

	fromLatest, err := store.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if fromLatest.ContentHash() != meta.ID {
		t.Errorf("LoadLatest hash %s != stored id %s", fromLatest.ContentHash(), meta.ID)
	}
}

func TestSnapshotStore_SaveIsIdempotent(t *testing.T) {
	c, _ := algebraCorpus(t)
	lk := c.link(t).Linker
	store := newTestStore(t)

	first, err := store.Save(lk)
	if err != nil {
		t.Fatalf("first Save: %v", err)
	}
	second, err := store.Save(lk)
	if err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("ids differ: %s vs %s", first.ID, second.ID)
	}
	metas, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 1 {
		t.Errorf("List returned %d snapshots, want 1", len(metas))
	}
}

func TestSnapshotStore_ListOldestFirst(t *testing.T) {
	store := newTestStore(t)

	older := testSnapshot(SerializedResolution{Verb: 0, Symbol: 0})
	newer := testSnapshot(SerializedResolution{Verb: 1, Symbol: 2})
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)

	if _, err := store.SaveSerialized(newer); err != nil {
		t.Fatalf("save newer: %v", err)
	}
	if _, err := store.SaveSerialized(older); err != nil {
		t.Fatalf("save older: %v", err)
	}

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("List returned %d snapshots, want 2", len(metas))
	}
	if !metas[0].CreatedAt.Before(metas[1].CreatedAt) {
		t.Errorf("list not oldest first: %v then %v", metas[0].CreatedAt, metas[1].CreatedAt)
	}
}

func TestSnapshotStore_Delete(t *testing.T) {
	store := newTestStore(t)
	meta, err := store.SaveSerialized(testSnapshot(SerializedResolution{Verb: 0, Symbol: 0}))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := store.Delete(meta.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(meta.ID); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Load after delete = %v, want ErrSnapshotNotFound", err)
	}
	// Deleting the latest snapshot clears the pointer.
	if _, err := store.LatestID(); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("LatestID after delete = %v, want ErrSnapshotNotFound", err)
	}
	if err := store.Delete("0123456789abcdef"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Delete unknown = %v, want ErrSnapshotNotFound", err)
	}
}

func TestSnapshotStore_DeleteKeepsOtherLatest(t *testing.T) {
	store := newTestStore(t)
	first, err := store.SaveSerialized(testSnapshot(SerializedResolution{Verb: 0, Symbol: 0}))
	if err != nil {
		t.Fatalf("save first: %v", err)
	}
	second, err := store.SaveSerialized(testSnapshot(SerializedResolution{Verb: 1, Symbol: 2}))
	if err != nil {
		t.Fatalf("save second: %v", err)
	}

	if err := store.Delete(first.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	latest, err := store.LatestID()
	if err != nil {
		t.Fatalf("LatestID: %v", err)
	}
	if latest != second.ID {
		t.Errorf("latest = %s, want %s", latest, second.ID)
	}
}

func TestSnapshotStore_LoadUnknown(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Load("feedfacedeadbeef"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Load = %v, want ErrSnapshotNotFound", err)
	}
	if _, err := store.LatestID(); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("LatestID on empty store = %v, want ErrSnapshotNotFound", err)
	}
	if _, err := store.LoadLatest(); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("LoadLatest on empty store = %v, want ErrSnapshotNotFound", err)
	}
}

func TestSnapshotStore_ScopedByCorpusRoot(t *testing.T) {
	db := newTestDB(t)
	algebra, err := NewSnapshotStore(db, "/corpora/algebra", WithSnapshotLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	topology, err := NewSnapshotStore(db, "/corpora/topology", WithSnapshotLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}

	meta, err := algebra.SaveSerialized(testSnapshot(SerializedResolution{Verb: 0, Symbol: 0}))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	// The two corpora share one database but neither sees the other's keys.
	metas, err := topology.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("List returned %d snapshots from another corpus", len(metas))
	}
	if _, err := topology.Load(meta.ID); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Load from another corpus = %v, want ErrSnapshotNotFound", err)
	}
	if _, err := topology.LatestID(); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("LatestID from another corpus = %v, want ErrSnapshotNotFound", err)
	}
	if _, err := algebra.Load(meta.ID); err != nil {
		t.Errorf("Load in the owning corpus: %v", err)
	}
}

func TestSnapshotStore_RejectsForeignSchema(t *testing.T) {
	store := newTestStore(t)
	foreign := testSnapshot(SerializedResolution{Verb: 0, Symbol: 0})
	foreign.SchemaVersion = SnapshotSchemaVersion + 7

	meta, err := store.SaveSerialized(foreign)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Load(meta.ID); err == nil {
		t.Error("loaded a snapshot with a foreign schema version")
	}
}
