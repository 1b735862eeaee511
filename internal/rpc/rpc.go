// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rpc implements the four-operation JSON-over-HTTP surface
// (spec §4.14): Ping, IngestManifest, GetDeltaSummary, GetAffectedTests,
// plus a /metrics endpoint. It follows the teacher's cmd/cie/serve.go
// cieServer mux/handler shape (plain net/http ServeMux, JSON request/
// response bodies, http.Error for failures, signal-driven graceful
// shutdown) rather than the gRPC framing the spec treats as an external
// boundary concern.
package rpc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kraklabs/wsrun/internal/wsrunerr"
	"github.com/kraklabs/wsrun/pkg/affected"
	"github.com/kraklabs/wsrun/pkg/ingest"
)

// Version is reported by Ping.
const Version = "0.1.0"

// Server wires the RPC surface to the affected engine and ingestion
// engine. Each handler acquires only the locks those components already
// hold internally, for the minimum span (spec §4.14).
type Server struct {
	affected *affected.Engine
	ingest   *ingest.Engine
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New builds a Server and registers its routes. gatherer backs the
// /metrics endpoint; pass the same registry used to build internal/obs's
// Metrics so process-wide collectors are actually exposed.
func New(affectedEngine *affected.Engine, ingestEngine *ingest.Engine, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{affected: affectedEngine, ingest: ingestEngine, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("/v1/ping", s.handlePing)
	s.mux.HandleFunc("/v1/ingest-manifest", s.handleIngestManifest)
	s.mux.HandleFunc("/v1/delta-summary", s.handleDeltaSummary)
	s.mux.HandleFunc("/v1/affected-tests", s.handleAffectedTests)
	s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s
}

// Handler returns the composed http.Handler for the RPC surface.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)
	writeJSON(w, http.StatusOK, map[string]any{"version": Version})
	s.logger.Info("rpc.ping", "correlation_id", cid)
}

func (s *Server) handleIngestManifest(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, wsrunerr.Invalid("unreadable request body", err), cid, s.logger)
		return
	}

	m, err := ingest.ParseManifest(body)
	if err != nil {
		writeError(w, err, cid, s.logger)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	if err := s.ingest.Ingest(ctx, m); err != nil {
		writeError(w, err, cid, s.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{})
	s.logger.Info("rpc.ingest_manifest", "correlation_id", cid, "workspace_id", m.WorkspaceID, "run_id", m.RunID)
}

func (s *Server) handleDeltaSummary(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)
	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		writeError(w, wsrunerr.Invalid("workspace_id is required", nil), cid, s.logger)
		return
	}
	packageScope := r.URL.Query().Get("package_scope")

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	failures, findings, err := s.ingest.DeltaSummary(ctx, workspaceID, packageScope)
	if err != nil {
		writeError(w, wsrunerr.Internal("compute delta summary", err), cid, s.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"new_findings":        findings.New,
		"fixed_findings":      findings.Fixed,
		"new_test_failures":   failures.New,
		"fixed_test_failures": failures.Fixed,
	})
	s.logger.Info("rpc.delta_summary", "correlation_id", cid, "workspace_id", workspaceID)
}

type affectedTestsRequest struct {
	ForceFull    bool   `json:"force_full"`
	PackageScope string `json:"package_scope"`
}

func (s *Server) handleAffectedTests(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req affectedTestsRequest
	body, err := readBody(r)
	if err == nil && len(body) > 0 {
		if decErr := json.Unmarshal(body, &req); decErr != nil {
			writeError(w, wsrunerr.Invalid("malformed request body", decErr), cid, s.logger)
			return
		}
	}

	resp := s.affected.GetAffectedTests(affected.Request{ForceFull: req.ForceFull, PackageScope: req.PackageScope})

	writeJSON(w, http.StatusOK, map[string]any{
		"test_files":  orEmpty(resp.TestFiles),
		"dirty_files": orEmpty(resp.DirtyFiles),
		"is_full_run": resp.IsFullRun,
	})
	s.logger.Info("rpc.affected_tests", "correlation_id", cid, "state", resp.State)
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error kind to an HTTP status and a short
// human-readable body (spec §7: "every unsuccessful RPC carries a short
// human-readable message").
func writeError(w http.ResponseWriter, err error, correlationID string, logger *slog.Logger) {
	kind := wsrunerr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case wsrunerr.KindInvalidArgument:
		status = http.StatusBadRequest
	case wsrunerr.KindNotFound:
		status = http.StatusNotFound
	case wsrunerr.KindUnimplemented:
		status = http.StatusNotImplemented
	}
	logger.Error("rpc.error", "correlation_id", correlationID, "kind", kind.String(), "error", err)
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func correlationID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
