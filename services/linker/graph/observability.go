// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/glossarium/stexlink/services/linker/graph"

var tracer = otel.Tracer(instrumentationName)

var (
	meter = otel.Meter(instrumentationName)

	buildsTotal, _ = meter.Int64Counter("stexlink.builds.total",
		metric.WithDescription("Completed corpus link builds"))
	buildDuration, _ = meter.Float64Histogram("stexlink.build.duration",
		metric.WithDescription("Corpus link build duration"),
		metric.WithUnit("s"))
	documentsGauge, _ = meter.Int64Gauge("stexlink.corpus.documents",
		metric.WithDescription("Documents in the linked corpus"))
	symbolsGauge, _ = meter.Int64Gauge("stexlink.corpus.symbols",
		metric.WithDescription("Symbols in the linked corpus"))
	resolvedGauge, _ = meter.Int64Gauge("stexlink.corpus.resolved_verbalizations",
		metric.WithDescription("Verbalizations with a unique resolution"))
	unresolvedGauge, _ = meter.Int64Gauge("stexlink.corpus.unresolved_verbalizations",
		metric.WithDescription("Verbalizations with zero or ambiguous resolution"))
)

func recordBuildMetrics(ctx context.Context, stats BuildStats) {
	buildsTotal.Add(ctx, 1)
	buildDuration.Record(ctx, stats.Duration.Seconds())
	documentsGauge.Record(ctx, int64(stats.Documents))
	symbolsGauge.Record(ctx, int64(stats.Symbols))
	resolvedGauge.Record(ctx, int64(stats.Resolved))
	unresolvedGauge.Record(ctx, int64(stats.Unresolved+stats.Ambiguous))
}
