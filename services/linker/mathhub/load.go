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
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/glossarium/stexlink/services/linker/stex"
)

// parallelLoadThreshold is the pending-document count above which
// LoadAll parses in parallel. Small batches are not worth the
// goroutine overhead.
const parallelLoadThreshold = 50

// LoadAll parses every document that has no in-memory DocInfo yet and
// returns how many were loaded. Parsing is embarrassingly parallel
// (one file, no shared mutable state); results are scattered to
// workers and gathered back before any of them become visible.
func (mh *MathHub) LoadAll(ctx context.Context) (int, error) {
	var pending []*Document
	for _, d := range mh.Documents() {
		if !d.Loaded() {
			pending = append(pending, d)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}
	mh.logger.Info("loading document information", slog.Int("documents", len(pending)))

	if len(pending) < parallelLoadThreshold {
		for _, d := range pending {
			if err := ctx.Err(); err != nil {
				return 0, fmt.Errorf("document load canceled: %w", err)
			}
			d.DocInfo(ctx)
		}
		return len(pending), nil
	}

	infos := make([]*stex.DocInfo, len(pending))
	var processed atomic.Int64

	progressDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-progressDone:
				return
			case <-ticker.C:
				mh.logger.Info("loading document information",
					slog.Int64("processed", processed.Load()),
					slog.Int("total", len(pending)))
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, mh.workers)
	for i, d := range pending {
		i, d := i, d
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			infos[i] = d.parse(gctx)
			processed.Add(1)
			return nil
		})
	}
	err := g.Wait()
	close(progressDone)
	if err != nil {
		return 0, fmt.Errorf("parallel document load: %w", err)
	}

	for i, d := range pending {
		d.docInfo = infos[i]
	}
	mh.logger.Info("finished loading document information", slog.Int("documents", len(pending)))
	return len(pending), nil
}
