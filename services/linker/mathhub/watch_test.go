// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mathhub

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// startWatcher runs a watcher over the corpus and returns the batch
// channel plus the Run error channel. The watcher stops with the test.
func startWatcher(t *testing.T, mh *MathHub) (chan []string, chan error, context.CancelFunc) {
	t.Helper()
	batches := make(chan []string, 8)
	w := NewWatcher(mh, func(_ context.Context, changed []string) {
		batches <- changed
	}, WithWatcherLogger(quietLogger()), WithRebuildInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return batches, done, cancel
}

// touchUntilBatch rewrites files until a change batch arrives. The
// first write can race with watch registration, and writes must be
// spaced wider than the debounce window or the quiet timer never
// fires.
func touchUntilBatch(t *testing.T, batches chan []string, touch func()) []string {
	t.Helper()
	for attempt := 0; attempt < 10; attempt++ {
		touch()
		select {
		case changed := <-batches:
			return changed
		case <-time.After(1500 * time.Millisecond):
		}
	}
	t.Fatal("no change batch arrived")
	return nil
}

func TestWatcher_ReportsChangedTexFiles(t *testing.T) {
	c := newCorpus(t)
	c.addArchive("smglom/sets", stexManifest("smglom/sets"))
	target := c.addFile("smglom/sets/source/set.en.tex", moduleSource("set"))
	decoy := c.addFile("smglom/sets/source/notes.txt", "scratch")
	mh := c.open(t)

	batches, done, cancel := startWatcher(t, mh)
	changed := touchUntilBatch(t, batches, func() {
		if err := os.WriteFile(target, []byte(moduleSource("set")), 0o644); err != nil {
			t.Fatalf("touching %s: %v", target, err)
		}
		if err := os.WriteFile(decoy, []byte("more scratch"), 0o644); err != nil {
			t.Fatalf("touching %s: %v", decoy, err)
		}
	})

	found := false
	for _, p := range changed {
		if p == target {
			found = true
		}
		if strings.HasSuffix(p, ".txt") {
			t.Errorf("batch contains non-TeX file %s", p)
		}
	}
	if !found {
		t.Errorf("batch = %v, want it to contain %s", changed, target)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	c := newCorpus(t)
	c.addArchive("smglom/sets", stexManifest("smglom/sets"))
	existing := c.addFile("smglom/sets/source/set.en.tex", moduleSource("set"))
	mh := c.open(t)

	batches, _, _ := startWatcher(t, mh)

	// Prime on an existing file first so the directory creation below
	// cannot race with watch registration.
	touchUntilBatch(t, batches, func() {
		if err := os.WriteFile(existing, []byte(moduleSource("set")), 0o644); err != nil {
			t.Fatalf("touching %s: %v", existing, err)
		}
	})

	fresh := filepath.Join(c.root, "smglom", "sets", "source", "relations", "order.en.tex")
	if err := os.MkdirAll(filepath.Dir(fresh), 0o755); err != nil {
		t.Fatalf("creating directory: %v", err)
	}
	time.Sleep(600 * time.Millisecond) // let the watcher pick up the new directory

	changed := touchUntilBatch(t, batches, func() {
		if err := os.WriteFile(fresh, []byte(moduleSource("order")), 0o644); err != nil {
			t.Fatalf("writing %s: %v", fresh, err)
		}
	})
	deadline := time.After(10 * time.Second)
	for {
		for _, p := range changed {
			if p == fresh {
				return
			}
		}
		select {
		case changed = <-batches:
		case <-deadline:
			t.Fatalf("no batch mentioned %s", fresh)
		}
	}
}
