// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package affected

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kraklabs/wsrun/internal/obs"
	"github.com/kraklabs/wsrun/pkg/depgraph"
	"github.com/kraklabs/wsrun/pkg/dirty"
	"github.com/kraklabs/wsrun/pkg/graphbuild"
	"github.com/kraklabs/wsrun/pkg/importscan"
	"github.com/kraklabs/wsrun/pkg/resolve"
)

// State names the branch of the C8c orchestration state machine a query
// resolved to (spec §4.10).
type State string

const (
	Warming       State = "warming"
	ForceFull     State = "force_full"
	ConfigChanged State = "config_changed"
	DirtyOverflow State = "dirty_overflow"
	GraphOverflow State = "graph_overflow"
	Quiet         State = "quiet"
	Incremental   State = "incremental"
)

// configFileNames are exact names that trigger a full run (spec §6).
var configFileNames = map[string]bool{
	"package.json": true, "package-lock.json": true, "yarn.lock": true,
	"pnpm-lock.yaml": true, "bun.lockb": true, "bun.lock": true, "tsconfig.json": true,
}

func isConfigFile(base string) bool {
	if configFileNames[base] {
		return true
	}
	return strings.HasPrefix(base, "vitest.config.")
}

// Request is the inbound GetAffectedTests call.
type Request struct {
	ForceFull    bool
	PackageScope string
}

// Response is the outbound GetAffectedTests result.
type Response struct {
	TestFiles  []string
	DirtyFiles []string
	IsFullRun  bool
	State      State
}

// Engine composes the graph, dirty tracker, watcher feed, and builder
// readiness into the affected-query orchestration described in spec
// §4.10. Concurrent queries serialize on mu, matching the "single
// mutual-exclusion lock on the Affected state" ordering rule in §5.
type Engine struct {
	mu sync.Mutex

	root     string
	graph    *depgraph.Graph
	dirty    *dirty.Tracker
	resolver *resolve.Resolver
	builder  *graphbuild.Builder
	events   <-chan string
	logger   *slog.Logger
	metrics  *obs.Metrics
}

// New builds an Engine. events is the watcher's output channel; it may
// be nil in tests that drive the dirty tracker directly.
func New(root string, graph *depgraph.Graph, tracker *dirty.Tracker, resolver *resolve.Resolver, builder *graphbuild.Builder, events <-chan string, logger *slog.Logger, metrics *obs.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		root: root, graph: graph, dirty: tracker, resolver: resolver,
		builder: builder, events: events, logger: logger, metrics: metrics,
	}
}

// GetAffectedTests runs the full orchestration: drain pending watcher
// events into the dirty tracker and graph, then evaluate the
// precedence-ordered state machine.
func (e *Engine) GetAffectedTests(req Request) Response {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.drainEvents()

	resp := e.evaluate(req)

	if e.metrics != nil {
		e.metrics.AffectedQueryMS.Observe(float64(time.Since(start).Milliseconds()))
		e.metrics.AffectedQueryTotal.WithLabelValues(string(resp.State)).Inc()
	}
	e.logger.Info("affected.query",
		"state", resp.State, "is_full_run", resp.IsFullRun,
		"dirty_count", len(resp.DirtyFiles), "test_count", len(resp.TestFiles),
	)
	return resp
}

func (e *Engine) drainEvents() {
	for {
		select {
		case p, ok := <-e.events:
			if !ok {
				return
			}
			e.applyEvent(p)
		default:
			return
		}
	}
}

func (e *Engine) applyEvent(p string) {
	base := filepath.Base(p)
	if isConfigFile(base) {
		content, err := os.ReadFile(p)
		if err == nil {
			e.dirty.CheckConfigChange(p, content)
		} else {
			e.dirty.SetConfigChanged(true)
		}
	}
	e.dirty.AddDirty(p)

	if e.builder == nil || !e.builder.Ready() {
		return
	}
	if _, err := os.Stat(p); err != nil {
		e.graph.RemoveFile(p)
		return
	}
	e.reparse(p)
}

func (e *Engine) reparse(p string) {
	content, err := os.ReadFile(p)
	if err != nil {
		e.logger.Warn("affected.reparse_read_failed", "path", p, "error", err)
		return
	}
	lang, ok := importscan.LanguageForExt(strings.ToLower(filepath.Ext(p)))
	if !ok {
		return
	}
	e.graph.AddFile(p)
	specs := importscan.Scan(e.logger, p, content, lang)

	resolved := make([]string, 0, len(specs))
	for _, s := range specs {
		if target, ok := e.resolver.Resolve(p, s.Value); ok {
			e.graph.AddFile(target)
			resolved = append(resolved, target)
		}
	}
	e.graph.UpdateEdges(p, resolved)
}

func (e *Engine) evaluate(req Request) Response {
	if e.builder != nil && !e.builder.Ready() {
		return Response{IsFullRun: true, State: Warming}
	}

	dirtyFiles, overflowed := e.dirty.Drain()
	configChanged := e.dirty.ConfigChanged()

	switch {
	case req.ForceFull:
		return e.fullRun(req.PackageScope, dirtyFiles, ForceFull)
	case configChanged:
		e.dirty.SetConfigChanged(false)
		return e.fullRun(req.PackageScope, dirtyFiles, ConfigChanged)
	case overflowed:
		return e.fullRun(req.PackageScope, dirtyFiles, DirtyOverflow)
	case e.graph.IsOverflow():
		return e.fullRun(req.PackageScope, dirtyFiles, GraphOverflow)
	case len(dirtyFiles) == 0:
		return Response{TestFiles: nil, DirtyFiles: nil, IsFullRun: false, State: Quiet}
	default:
		return e.incremental(req.PackageScope, dirtyFiles)
	}
}

func (e *Engine) fullRun(scope string, dirtyFiles []string, state State) Response {
	tests := e.discoverAllTests(scope)
	return Response{TestFiles: tests, DirtyFiles: dirtyFiles, IsFullRun: true, State: state}
}

func (e *Engine) incremental(scope string, dirtyFiles []string) Response {
	closure := Closure(e.graph, dirtyFiles)

	seen := make(map[string]struct{})
	var tests []string
	for p := range closure {
		if IsTestFile(p) {
			rel, err := filepath.Rel(e.root, p)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if !inScope(rel, scope) {
				continue
			}
			if _, ok := seen[rel]; !ok {
				seen[rel] = struct{}{}
				tests = append(tests, rel)
			}
			continue
		}
		for _, cand := range DiscoverCandidateTests(e.root, p) {
			if !inScope(cand, scope) {
				continue
			}
			if _, ok := seen[cand]; !ok {
				seen[cand] = struct{}{}
				tests = append(tests, cand)
			}
		}
	}
	return Response{TestFiles: tests, DirtyFiles: dirtyFiles, IsFullRun: false, State: Incremental}
}

func (e *Engine) discoverAllTests(scope string) []string {
	var tests []string
	_ = filepath.Walk(e.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		base := filepath.Base(path)
		if info.IsDir() {
			if base == "node_modules" || base == ".git" || (strings.HasPrefix(base, ".") && base != ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsTestFile(path) {
			return nil
		}
		rel, relErr := filepath.Rel(e.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !inScope(rel, scope) {
			return nil
		}
		tests = append(tests, rel)
		return nil
	})
	return tests
}

func inScope(relPath, scope string) bool {
	if scope == "" {
		return true
	}
	return relPath == scope || strings.HasPrefix(relPath, scope+"/")
}
