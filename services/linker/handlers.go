// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package linker

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/glossarium/stexlink/services/linker/graph"
)

const defaultSymbolLimit = 100

// ErrorResponse is the uniform error body of the HTTP API.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func abortError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code})
}

// currentLinker fetches the linked graph or aborts with 503.
func (s *Service) currentLinker(c *gin.Context) (*graph.Linker, bool) {
	lk, ok := s.Linker()
	if !ok {
		abortError(c, http.StatusServiceUnavailable, "not_ready", ErrNotReady.Error())
		return nil, false
	}
	return lk, true
}

func (s *Service) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ready": s.Status().Ready})
}

func (s *Service) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Status())
}

func (s *Service) handleWarnings(c *gin.Context) {
	if _, ok := s.currentLinker(c); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"warnings": s.Warnings()})
}

// handleSymbols looks up symbols by name across the corpus.
func (s *Service) handleSymbols(c *gin.Context) {
	lk, ok := s.currentLinker(c)
	if !ok {
		return
	}
	name := c.Query("name")
	if name == "" {
		abortError(c, http.StatusBadRequest, "missing_name", "query parameter 'name' is required")
		return
	}
	syms := lk.SymbolsByName(name)
	if lang := c.Query("lang"); lang != "" {
		var kept []graph.SymbolInfo
		for _, sym := range syms {
			if len(lk.VerbalizationsOf(sym, lang)) > 0 {
				kept = append(kept, sym)
			}
		}
		syms = kept
	}
	if limit := intQuery(c, "limit", defaultSymbolLimit); len(syms) > limit {
		syms = syms[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"symbols": syms})
}

// handleResolve answers "what does this name mean at this position".
func (s *Service) handleResolve(c *gin.Context) {
	lk, ok := s.currentLinker(c)
	if !ok {
		return
	}
	path := c.Query("path")
	name := c.Query("name")
	if path == "" || name == "" {
		abortError(c, http.StatusBadRequest, "missing_params", "query parameters 'path' and 'name' are required")
		return
	}
	offset := intQuery(c, "offset", 0)
	candidates := lk.ResolveAt(path, offset, name, c.Query("hint"))
	c.JSON(http.StatusOK, gin.H{
		"candidates": candidates,
		"unique":     len(candidates) == 1,
	})
}

// handleScope lists every symbol usable at a position.
func (s *Service) handleScope(c *gin.Context) {
	lk, ok := s.currentLinker(c)
	if !ok {
		return
	}
	path := c.Query("path")
	if path == "" {
		abortError(c, http.StatusBadRequest, "missing_path", "query parameter 'path' is required")
		return
	}
	offset := intQuery(c, "offset", 0)
	c.JSON(http.StatusOK, gin.H{
		"modules": lk.AvailableAt(path, offset),
		"symbols": lk.SymbolsInScopeAt(path, offset),
	})
}

// handleChain explains how a symbol reaches a position.
func (s *Service) handleChain(c *gin.Context) {
	lk, ok := s.currentLinker(c)
	if !ok {
		return
	}
	path := c.Query("path")
	if path == "" {
		abortError(c, http.StatusBadRequest, "missing_path", "query parameter 'path' is required")
		return
	}
	symbolID, err := strconv.Atoi(c.Query("symbol"))
	if err != nil {
		abortError(c, http.StatusBadRequest, "bad_symbol", "query parameter 'symbol' must be a symbol id")
		return
	}
	chain, ok := lk.ImportChain(path, intQuery(c, "offset", 0), symbolID)
	if !ok {
		abortError(c, http.StatusNotFound, "no_chain", "symbol is not in scope at that position")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chain": chain})
}

// handleFile returns the linked view of one document. The wildcard
// parameter carries the document's absolute path.
func (s *Service) handleFile(c *gin.Context) {
	lk, ok := s.currentLinker(c)
	if !ok {
		return
	}
	path := c.Param("path")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	fv, ok := lk.File(path)
	if !ok {
		abortError(c, http.StatusNotFound, "unknown_file", "document is not part of the linked corpus")
		return
	}
	c.JSON(http.StatusOK, fv)
}

func (s *Service) handleRebuild(c *gin.Context) {
	res, err := s.Rebuild(c.Request.Context(), true)
	if err != nil {
		if errors.Is(err, ErrBuildInProgress) {
			abortError(c, http.StatusConflict, "build_in_progress", err.Error())
			return
		}
		abortError(c, http.StatusInternalServerError, "build_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":      res.Stats,
		"warnings":   len(res.Warnings),
		"incomplete": res.Incomplete,
	})
}

func (s *Service) handleSnapshotList(c *gin.Context) {
	store, ok := s.SnapshotStore()
	if !ok {
		abortError(c, http.StatusNotImplemented, "no_snapshot_store", "snapshot storage is not configured")
		return
	}
	metas, err := store.List()
	if err != nil {
		abortError(c, http.StatusInternalServerError, "snapshot_list_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": metas})
}

func (s *Service) handleSnapshotCreate(c *gin.Context) {
	meta, err := s.SaveSnapshot()
	if err != nil {
		switch {
		case errors.Is(err, ErrNotReady):
			abortError(c, http.StatusServiceUnavailable, "not_ready", err.Error())
		default:
			abortError(c, http.StatusInternalServerError, "snapshot_failed", err.Error())
		}
		return
	}
	c.JSON(http.StatusCreated, meta)
}

// handleSnapshotDiff compares two stored snapshots. Either id may be
// the literal "latest".
func (s *Service) handleSnapshotDiff(c *gin.Context) {
	store, ok := s.SnapshotStore()
	if !ok {
		abortError(c, http.StatusNotImplemented, "no_snapshot_store", "snapshot storage is not configured")
		return
	}
	fromID, toID := c.Query("from"), c.Query("to")
	if fromID == "" || toID == "" {
		abortError(c, http.StatusBadRequest, "missing_params", "query parameters 'from' and 'to' are required")
		return
	}
	load := func(id string) (*graph.SerializedLinker, bool) {
		if id == "latest" {
			latest, err := store.LatestID()
			if err != nil {
				abortError(c, http.StatusNotFound, "unknown_snapshot", "no snapshots stored yet")
				return nil, false
			}
			id = latest
		}
		sl, err := store.Load(id)
		if err != nil {
			status := http.StatusInternalServerError
			code := "snapshot_load_failed"
			if errors.Is(err, graph.ErrSnapshotNotFound) {
				status, code = http.StatusNotFound, "unknown_snapshot"
			}
			abortError(c, status, code, err.Error())
			return nil, false
		}
		return sl, true
	}
	from, ok := load(fromID)
	if !ok {
		return
	}
	to, ok := load(toID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, graph.DiffSnapshots(from, to))
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
