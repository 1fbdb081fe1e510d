// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// setupTelemetry installs the global OTel trace and meter providers.
//
// Description:
//
//	Traces go to an OTLP gRPC collector when OTEL_EXPORTER_OTLP_ENDPOINT
//	is set, or to stdout in debug mode, and are dropped otherwise. Metrics
//	always flow into the Prometheus registry behind /metrics; debug mode
//	additionally prints them to stdout every 30 seconds. The graph package
//	creates its instruments against the global meter before this runs,
//	which is fine: the otel globals delegate to providers registered later.
//
// The returned function flushes and shuts down every exporter that was
// installed. It is safe to call even when setup partially failed.
func setupTelemetry(ctx context.Context, debug bool) (func(context.Context) error, error) {
	res := resource.NewSchemaless(
		semconv.ServiceName("stexlinkd"),
	)

	var shutdowns []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	var spanExporter sdktrace.SpanExporter
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		exp, err := otlptracegrpc.New(ctx)
		if err != nil {
			return shutdown, err
		}
		spanExporter = exp
	} else if debug {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return shutdown, err
		}
		spanExporter = exp
	}
	if spanExporter != nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spanExporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	// The Prometheus exporter registers with the default registry, which
	// is what promhttp serves on /metrics.
	promExporter, err := otelprom.New()
	if err != nil {
		return shutdown, err
	}
	meterOpts := []sdkmetric.Option{
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	}
	if debug {
		stdoutExp, err := stdoutmetric.New()
		if err != nil {
			return shutdown, err
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(stdoutExp, sdkmetric.WithInterval(30*time.Second)),
		))
	}
	mp := sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetMeterProvider(mp)
	shutdowns = append(shutdowns, mp.Shutdown)

	return shutdown, nil
}
