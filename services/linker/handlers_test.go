// Copyright (C) 2025 The stexlink authors (glossarium.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package linker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/glossarium/stexlink/services/linker/graph"
)

func newTestRouter(t *testing.T, svc *Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(svc, quietLogger())
}

func doRequest(t *testing.T, r http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

func wantAPIError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %q)", w.Code, status, w.Body.String())
	}
	var er ErrorResponse
	decodeJSON(t, w, &er)
	if er.Code != code {
		t.Errorf("error code = %q, want %q", er.Code, code)
	}
}

func apiURL(endpoint string, params url.Values) string {
	u := "/api/v1/linker" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func offsetIn(t *testing.T, path, needle string) int {
	t.Helper()
	src, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	off := strings.Index(string(src), needle)
	if off < 0 {
		t.Fatalf("%q not found in %s", needle, path)
	}
	return off
}

func mustRebuild(t *testing.T, svc *Service) {
	t.Helper()
	if _, err := svc.Rebuild(context.Background(), false); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
}

func TestRouter_Healthz(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(t, svc)

	w := doRequest(t, r, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Status string `json:"status"`
		Ready  bool   `json:"ready"`
	}
	decodeJSON(t, w, &body)
	if body.Status != "ok" || body.Ready {
		t.Errorf("body = %+v, want ok and not ready", body)
	}

	mustRebuild(t, svc)
	w = doRequest(t, r, http.MethodGet, "/healthz")
	decodeJSON(t, w, &body)
	if !body.Ready {
		t.Error("ready = false after a successful build")
	}
}

func TestRouter_QueriesBeforeFirstBuild(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(t, svc)

	endpoints := []string{
		"/warnings",
		"/symbols?name=derivative",
		"/symbols/resolve?path=/x&name=derivative",
		"/scope?path=/x",
		"/chain?path=/x&symbol=0",
		"/files/some/doc.en.tex",
	}
	for _, ep := range endpoints {
		t.Run(ep, func(t *testing.T) {
			w := doRequest(t, r, http.MethodGet, "/api/v1/linker"+ep)
			wantAPIError(t, w, http.StatusServiceUnavailable, "not_ready")
		})
	}
}

func TestRouter_Stats(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(t, svc)

	// Stats reports state rather than querying the graph, so it answers
	// before the first build too.
	w := doRequest(t, r, http.MethodGet, apiURL("/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var status Status
	decodeJSON(t, w, &status)
	if status.Ready {
		t.Error("ready = true before any build")
	}

	mustRebuild(t, svc)
	w = doRequest(t, r, http.MethodGet, apiURL("/stats", nil))
	decodeJSON(t, w, &status)
	if !status.Ready {
		t.Error("ready = false after build")
	}
	if status.Stats.Documents != 2 || status.Stats.Resolved != 1 {
		t.Errorf("stats = %+v, want 2 documents and 1 resolution", status.Stats)
	}
}

func TestRouter_Warnings(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(t, svc)
	mustRebuild(t, svc)

	w := doRequest(t, r, http.MethodGet, apiURL("/warnings", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Warnings []graph.Warning `json:"warnings"`
	}
	decodeJSON(t, w, &body)
	if len(body.Warnings) != 0 {
		t.Errorf("warnings = %v, want none for a clean corpus", body.Warnings)
	}
}

func TestRouter_Symbols(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(t, svc)
	mustRebuild(t, svc)

	w := doRequest(t, r, http.MethodGet, apiURL("/symbols", url.Values{"name": {"derivative"}}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Symbols []graph.SymbolInfo `json:"symbols"`
	}
	decodeJSON(t, w, &body)
	if len(body.Symbols) != 1 {
		t.Fatalf("symbols = %v, want one match", body.Symbols)
	}
	if got := body.Symbols[0]; got.Name != "derivative" || got.Module.Name != "derivative" {
		t.Errorf("symbol = %+v", got)
	}

	w = doRequest(t, r, http.MethodGet, apiURL("/symbols", nil))
	wantAPIError(t, w, http.StatusBadRequest, "missing_name")

	w = doRequest(t, r, http.MethodGet, apiURL("/symbols", url.Values{"name": {"derivative"}, "limit": {"0"}}))
	decodeJSON(t, w, &body)
	if len(body.Symbols) != 0 {
		t.Errorf("symbols = %v, want limit 0 to truncate everything", body.Symbols)
	}

	// lang keeps only symbols verbalized in that language.
	w = doRequest(t, r, http.MethodGet, apiURL("/symbols", url.Values{"name": {"derivative"}, "lang": {"en"}}))
	decodeJSON(t, w, &body)
	if len(body.Symbols) != 1 {
		t.Errorf("symbols lang=en = %v, want one", body.Symbols)
	}
	w = doRequest(t, r, http.MethodGet, apiURL("/symbols", url.Values{"name": {"derivative"}, "lang": {"de"}}))
	decodeJSON(t, w, &body)
	if len(body.Symbols) != 0 {
		t.Errorf("symbols lang=de = %v, want none", body.Symbols)
	}
}

func TestRouter_Resolve(t *testing.T) {
	svc, paths := newTestService(t)
	r := newTestRouter(t, svc)
	mustRebuild(t, svc)
	off := offsetIn(t, paths["page"], "\\sn{derivative}")

	params := url.Values{
		"path":   {paths["page"]},
		"name":   {"derivative"},
		"offset": {strconv.Itoa(off)},
	}
	w := doRequest(t, r, http.MethodGet, apiURL("/symbols/resolve", params))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Candidates []graph.SymbolInfo `json:"candidates"`
		Unique     bool               `json:"unique"`
	}
	decodeJSON(t, w, &body)
	if !body.Unique || len(body.Candidates) != 1 {
		t.Errorf("resolve = %+v, want one unique candidate", body)
	}

	params.Set("name", "integral")
	w = doRequest(t, r, http.MethodGet, apiURL("/symbols/resolve", params))
	decodeJSON(t, w, &body)
	if body.Unique || len(body.Candidates) != 0 {
		t.Errorf("resolve = %+v, want no candidates for an unknown name", body)
	}

	w = doRequest(t, r, http.MethodGet, apiURL("/symbols/resolve", url.Values{"path": {paths["page"]}}))
	wantAPIError(t, w, http.StatusBadRequest, "missing_params")
}

func TestRouter_Scope(t *testing.T) {
	svc, paths := newTestService(t)
	r := newTestRouter(t, svc)
	mustRebuild(t, svc)

	params := url.Values{
		"path":   {paths["page"]},
		"offset": {strconv.Itoa(offsetIn(t, paths["page"], "\\sn{derivative}"))},
	}
	w := doRequest(t, r, http.MethodGet, apiURL("/scope", params))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Modules []graph.ModuleRef  `json:"modules"`
		Symbols []graph.SymbolInfo `json:"symbols"`
	}
	decodeJSON(t, w, &body)
	if len(body.Modules) != 1 || len(body.Symbols) != 2 {
		t.Errorf("scope = %d modules / %d symbols, want 1/2", len(body.Modules), len(body.Symbols))
	}

	// Offset 0 sits on the leading comment, before the import.
	params.Set("offset", "0")
	w = doRequest(t, r, http.MethodGet, apiURL("/scope", params))
	decodeJSON(t, w, &body)
	if len(body.Modules) != 0 || len(body.Symbols) != 0 {
		t.Errorf("scope before the import = %d modules / %d symbols, want none", len(body.Modules), len(body.Symbols))
	}

	w = doRequest(t, r, http.MethodGet, apiURL("/scope", nil))
	wantAPIError(t, w, http.StatusBadRequest, "missing_path")
}

func TestRouter_Chain(t *testing.T) {
	svc, paths := newTestService(t)
	r := newTestRouter(t, svc)
	mustRebuild(t, svc)
	lk, _ := svc.Linker()
	symbolID := lk.SymbolsByName("derivative")[0].ID
	off := offsetIn(t, paths["page"], "\\sn{derivative}")

	params := url.Values{
		"path":   {paths["page"]},
		"offset": {strconv.Itoa(off)},
		"symbol": {strconv.Itoa(symbolID)},
	}
	w := doRequest(t, r, http.MethodGet, apiURL("/chain", params))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", w.Code, w.Body.String())
	}
	var body struct {
		Chain []graph.ModuleRef `json:"chain"`
	}
	decodeJSON(t, w, &body)
	if len(body.Chain) != 1 || body.Chain[0].Name != "derivative" {
		t.Errorf("chain = %+v, want the declaring module itself", body.Chain)
	}

	params.Set("symbol", "999")
	w = doRequest(t, r, http.MethodGet, apiURL("/chain", params))
	wantAPIError(t, w, http.StatusNotFound, "no_chain")

	params.Set("symbol", strconv.Itoa(symbolID))
	params.Set("offset", "0")
	w = doRequest(t, r, http.MethodGet, apiURL("/chain", params))
	wantAPIError(t, w, http.StatusNotFound, "no_chain")

	params.Set("symbol", "derivative")
	w = doRequest(t, r, http.MethodGet, apiURL("/chain", params))
	wantAPIError(t, w, http.StatusBadRequest, "bad_symbol")
}

func TestRouter_File(t *testing.T) {
	svc, paths := newTestService(t)
	r := newTestRouter(t, svc)
	mustRebuild(t, svc)

	w := doRequest(t, r, http.MethodGet, "/api/v1/linker/files"+paths["page"])
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", w.Code, w.Body.String())
	}
	var fv graph.FileView
	decodeJSON(t, w, &fv)
	if fv.Path != paths["page"] || fv.Lang != "en" {
		t.Errorf("view = %+v", fv)
	}
	if len(fv.Verbalizations) != 1 || len(fv.Modules) != 0 {
		t.Errorf("view = %d verbalizations / %d modules, want 1/0", len(fv.Verbalizations), len(fv.Modules))
	}

	w = doRequest(t, r, http.MethodGet, "/api/v1/linker/files"+paths["deriv"])
	decodeJSON(t, w, &fv)
	if len(fv.Modules) != 1 || fv.Modules[0].Name != "derivative" {
		t.Errorf("view = %+v, want the derivative module", fv)
	}

	w = doRequest(t, r, http.MethodGet, "/api/v1/linker/files/no/such/file.en.tex")
	wantAPIError(t, w, http.StatusNotFound, "unknown_file")
}

func TestRouter_Rebuild(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(t, svc)

	w := doRequest(t, r, http.MethodPost, apiURL("/rebuild", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", w.Code, w.Body.String())
	}
	var body struct {
		Stats      graph.BuildStats `json:"stats"`
		Warnings   int              `json:"warnings"`
		Incomplete bool             `json:"incomplete"`
	}
	decodeJSON(t, w, &body)
	if body.Stats.Documents != 2 || body.Warnings != 0 || body.Incomplete {
		t.Errorf("rebuild = %+v", body)
	}

	svc.building.Store(true)
	defer svc.building.Store(false)
	w = doRequest(t, r, http.MethodPost, apiURL("/rebuild", nil))
	wantAPIError(t, w, http.StatusConflict, "build_in_progress")
}

func TestRouter_SnapshotsWithoutStore(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(t, svc)
	mustRebuild(t, svc)

	w := doRequest(t, r, http.MethodGet, apiURL("/snapshots", nil))
	wantAPIError(t, w, http.StatusNotImplemented, "no_snapshot_store")

	w = doRequest(t, r, http.MethodGet, apiURL("/snapshots/diff", url.Values{"from": {"latest"}, "to": {"latest"}}))
	wantAPIError(t, w, http.StatusNotImplemented, "no_snapshot_store")

	w = doRequest(t, r, http.MethodPost, apiURL("/snapshots", nil))
	wantAPIError(t, w, http.StatusInternalServerError, "snapshot_failed")
}

func TestRouter_Snapshots(t *testing.T) {
	store := newTestSnapshotStore(t)
	svc, _ := newTestService(t, WithSnapshotStore(store))
	r := newTestRouter(t, svc)

	w := doRequest(t, r, http.MethodPost, apiURL("/snapshots", nil))
	wantAPIError(t, w, http.StatusServiceUnavailable, "not_ready")

	w = doRequest(t, r, http.MethodGet, apiURL("/snapshots/diff", url.Values{"from": {"latest"}, "to": {"latest"}}))
	wantAPIError(t, w, http.StatusNotFound, "unknown_snapshot")

	mustRebuild(t, svc)

	w = doRequest(t, r, http.MethodPost, apiURL("/snapshots", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %q)", w.Code, w.Body.String())
	}
	var meta graph.SnapshotMeta
	decodeJSON(t, w, &meta)
	if meta.ID == "" || meta.Documents != 2 {
		t.Errorf("meta = %+v", meta)
	}

	w = doRequest(t, r, http.MethodGet, apiURL("/snapshots", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var list struct {
		Snapshots []graph.SnapshotMeta `json:"snapshots"`
	}
	decodeJSON(t, w, &list)
	if len(list.Snapshots) != 1 || list.Snapshots[0].ID != meta.ID {
		t.Errorf("snapshots = %+v, want the one just created", list.Snapshots)
	}

	w = doRequest(t, r, http.MethodGet, apiURL("/snapshots/diff", url.Values{"from": {"latest"}, "to": {meta.ID}}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", w.Code, w.Body.String())
	}
	var diff graph.SnapshotDiff
	decodeJSON(t, w, &diff)
	if !diff.Empty() || diff.Matched != 1 {
		t.Errorf("diff = %+v, want an empty diff with one matched resolution", diff)
	}

	w = doRequest(t, r, http.MethodGet, apiURL("/snapshots/diff", url.Values{"from": {"latest"}}))
	wantAPIError(t, w, http.StatusBadRequest, "missing_params")

	w = doRequest(t, r, http.MethodGet, apiURL("/snapshots/diff", url.Values{"from": {"latest"}, "to": {"0000000000000000"}}))
	wantAPIError(t, w, http.StatusNotFound, "unknown_snapshot")
}

func TestRouter_RequestID(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(t, svc)

	w := doRequest(t, r, http.MethodGet, "/healthz")
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("no request id assigned")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "client-chosen-id")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "client-chosen-id" {
		t.Errorf("request id = %q, want the client's", got)
	}
}

func TestRouter_Metrics(t *testing.T) {
	svc, _ := newTestService(t)
	r := newTestRouter(t, svc)

	w := doRequest(t, r, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("metrics output missing standard collectors")
	}
}
