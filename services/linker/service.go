// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package linker exposes a linked sTeX corpus over HTTP and keeps it
// fresh across rebuilds.
package linker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glossarium/stexlink/services/linker/graph"
	"github.com/glossarium/stexlink/services/linker/mathhub"
)

// ErrBuildInProgress is returned when a rebuild is requested while one
// is already running.
var ErrBuildInProgress = errors.New("a rebuild is already in progress")

// ErrNotReady is returned by queries before the first successful build.
var ErrNotReady = errors.New("corpus not linked yet")

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBuilder overrides the default graph builder.
func WithBuilder(b *graph.Builder) ServiceOption {
	return func(s *Service) {
		if b != nil {
			s.builder = b
		}
	}
}

// WithSnapshotStore enables the snapshot endpoints. Without a store the
// service still links and serves queries; snapshot requests fail with a
// clear error.
func WithSnapshotStore(store *graph.SnapshotStore) ServiceOption {
	return func(s *Service) {
		s.snaps = store
	}
}

// Status describes the service's current linking state.
type Status struct {
	Ready        bool             `json:"ready"`
	Building     bool             `json:"building"`
	BuiltAt      time.Time        `json:"built_at,omitzero"`
	Stats        graph.BuildStats `json:"stats"`
	WarningCount int              `json:"warning_count"`
	Incomplete   bool             `json:"incomplete,omitempty"`
}

// Service owns the corpus and the current linked graph.
//
// Description:
//
//	Queries read an immutable Linker value swapped in whole after each
//	successful build, so request handlers never observe a half-built
//	graph. Rebuilds are serialized; a second trigger while one runs is
//	rejected rather than queued, because the running build will already
//	pick up the corpus state that prompted it.
//
// Thread Safety:
//
//	All exported methods are safe for concurrent use. Only Rebuild
//	mutates the underlying MathHub, and at most one Rebuild runs at a
//	time.
type Service struct {
	mh      *mathhub.MathHub
	builder *graph.Builder
	snaps   *graph.SnapshotStore
	logger  *slog.Logger

	building atomic.Bool

	mu         sync.RWMutex
	lk         *graph.Linker
	stats      graph.BuildStats
	warnings   []graph.Warning
	incomplete bool
	builtAt    time.Time
}

// NewService creates a Service over an initialized corpus. No build
// happens here; call Rebuild (or let the daemon do it) before serving
// queries.
func NewService(mh *mathhub.MathHub, opts ...ServiceOption) *Service {
	s := &Service{
		mh:      mh,
		builder: graph.NewBuilder(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MathHub returns the underlying corpus.
func (s *Service) MathHub() *mathhub.MathHub { return s.mh }

// Linker returns the current linked graph, if one exists.
func (s *Service) Linker() (*graph.Linker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lk, s.lk != nil
}

// Warnings returns the diagnostics of the last build.
func (s *Service) Warnings() []graph.Warning {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warnings
}

// Status reports the current linking state.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Ready:        s.lk != nil,
		Building:     s.building.Load(),
		BuiltAt:      s.builtAt,
		Stats:        s.stats,
		WarningCount: len(s.warnings),
		Incomplete:   s.incomplete,
	}
}

// SnapshotStore returns the snapshot store, if one is configured.
func (s *Service) SnapshotStore() (*graph.SnapshotStore, bool) {
	return s.snaps, s.snaps != nil
}

// Rebuild relinks the corpus and swaps in the new graph. With
// updateCorpus set it first rescans the corpus root for added, changed
// and removed files.
func (s *Service) Rebuild(ctx context.Context, updateCorpus bool) (*graph.BuildResult, error) {
	if !s.building.CompareAndSwap(false, true) {
		return nil, ErrBuildInProgress
	}
	defer s.building.Store(false)

	if updateCorpus {
		s.mh.Update()
	}
	res, err := s.builder.Build(ctx, s.mh)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lk = res.Linker
	s.stats = res.Stats
	s.warnings = res.Warnings
	s.incomplete = res.Incomplete
	s.builtAt = time.Now()
	s.mu.Unlock()
	return res, nil
}

// HandleCorpusChange is the watcher callback: it relinks after a batch
// of file changes. A rebuild already in flight covers the change, so
// that case is only logged.
func (s *Service) HandleCorpusChange(ctx context.Context, changed []string) {
	s.logger.Info("corpus changed, relinking", slog.Int("files", len(changed)))
	if _, err := s.Rebuild(ctx, true); err != nil {
		if errors.Is(err, ErrBuildInProgress) {
			s.logger.Debug("skipping rebuild, one is already running")
			return
		}
		s.logger.Error("rebuild after corpus change failed", slog.String("error", err.Error()))
	}
}

// SaveSnapshot persists the current linked graph.
func (s *Service) SaveSnapshot() (*graph.SnapshotMeta, error) {
	if s.snaps == nil {
		return nil, errors.New("no snapshot store configured")
	}
	lk, ok := s.Linker()
	if !ok {
		return nil, ErrNotReady
	}
	return s.snaps.Save(lk)
}
