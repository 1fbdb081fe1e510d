// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package linker

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const requestIDHeader = "X-Request-ID"

// NewRouter builds the HTTP engine for a Service: recovery, request
// identifiers, tracing, an access log, and all API routes.
func NewRouter(svc *Service, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(otelgin.Middleware("stexlinkd"))
	r.Use(accessLogMiddleware(logger))
	RegisterRoutes(r, svc)
	return r
}

// RegisterRoutes attaches the service's endpoints to an engine.
func RegisterRoutes(r *gin.Engine, svc *Service) {
	r.GET("/healthz", svc.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1/linker")
	api.GET("/stats", svc.handleStats)
	api.GET("/warnings", svc.handleWarnings)
	api.GET("/symbols", svc.handleSymbols)
	api.GET("/symbols/resolve", svc.handleResolve)
	api.GET("/scope", svc.handleScope)
	api.GET("/chain", svc.handleChain)
	api.GET("/files/*path", svc.handleFile)
	api.POST("/rebuild", svc.handleRebuild)
	api.GET("/snapshots", svc.handleSnapshotList)
	api.POST("/snapshots", svc.handleSnapshotCreate)
	api.GET("/snapshots/diff", svc.handleSnapshotDiff)
}

// requestIDMiddleware assigns every request an identifier, honoring one
// the client already sent.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// accessLogMiddleware writes one structured line per request.
func accessLogMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)),
			slog.String("request_id", c.GetString("request_id")))
	}
}
