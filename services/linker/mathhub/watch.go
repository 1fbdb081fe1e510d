// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mathhub

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

const (
	// watchQuietPeriod is how long the event stream must be silent
	// before a batch of changes is reported. Editors tend to produce
	// several events per save.
	watchQuietPeriod = 500 * time.Millisecond

	// defaultRebuildInterval caps how often the change callback fires.
	defaultRebuildInterval = 2 * time.Second
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRebuildInterval sets the minimum interval between change
// callbacks.
func WithRebuildInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// Watcher observes the corpus source trees and reports batches of
// changed TeX files. Events are debounced over a quiet period and the
// callback rate is capped, so editor save storms and bulk git
// operations trigger one rebuild, not hundreds.
type Watcher struct {
	mh       *MathHub
	onChange func(ctx context.Context, changed []string)
	logger   *slog.Logger
	limiter  *rate.Limiter
}

// NewWatcher creates a watcher for the given corpus. onChange receives
// the sorted absolute paths of changed .tex files.
func NewWatcher(mh *MathHub, onChange func(ctx context.Context, changed []string), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		mh:       mh,
		onChange: onChange,
		logger:   mh.logger,
		limiter:  rate.NewLimiter(rate.Every(defaultRebuildInterval), 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks watching the corpus until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer fsw.Close()

	watched := 0
	for _, a := range w.mh.StexArchives() {
		for _, top := range archiveTopDirs {
			watched += w.addRecursive(fsw, filepath.Join(a.Path(), top))
		}
	}
	w.logger.Info("watching corpus", slog.Int("directories", watched))

	pending := make(map[string]bool)
	quiet := time.NewTimer(watchQuietPeriod)
	if !quiet.Stop() {
		<-quiet.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.addRecursive(fsw, ev.Name)
					continue
				}
			}
			base := filepath.Base(ev.Name)
			if !strings.HasSuffix(base, ".tex") || strings.HasPrefix(base, ".") {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				pending[ev.Name] = true
				quiet.Reset(watchQuietPeriod)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filesystem watch error", slog.String("error", err.Error()))

		case <-quiet.C:
			if len(pending) == 0 {
				continue
			}
			if err := w.limiter.Wait(ctx); err != nil {
				return err
			}
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			pending = make(map[string]bool)
			w.logger.Info("corpus changed", slog.Int("files", len(changed)))
			w.onChange(ctx, changed)
		}
	}
}

// addRecursive watches dir and every directory below it, returning how
// many were added. Missing directories are tolerated.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) int {
	added := 0
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := fsw.Add(p); err != nil {
			w.logger.Warn("cannot watch directory", slog.String("dir", p), slog.String("error", err.Error()))
			return nil
		}
		added++
		return nil
	})
	return added
}
