// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package graphbuild performs the one-shot initial walk of a workspace
// that populates the dependency graph via the import parser and module
// resolver. It is grounded on the teacher's indexing job bootstrap
// (cmd/cie/serve.go's job-tracking pattern and the progress reporting
// convention in internal/obs), adapted to a single bounded background
// walk instead of an on-demand reindex command.
package graphbuild

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kraklabs/wsrun/internal/obs"
	"github.com/kraklabs/wsrun/pkg/depgraph"
	"github.com/kraklabs/wsrun/pkg/importscan"
	"github.com/kraklabs/wsrun/pkg/resolve"
)

// WallClockBudget is the hard time bound on the initial walk (spec §4.7).
const WallClockBudget = 30 * time.Second

// Builder performs the one-shot walk and exposes graph_ready to callers.
type Builder struct {
	root     string
	graph    *depgraph.Graph
	resolver *resolve.Resolver
	logger   *slog.Logger
	metrics  *obs.Metrics

	ready atomic.Bool
}

// New constructs a Builder for root, writing discovered edges into graph
// via resolver.
func New(root string, graph *depgraph.Graph, resolver *resolve.Resolver, logger *slog.Logger, metrics *obs.Metrics) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{root: root, graph: graph, resolver: resolver, logger: logger, metrics: metrics}
}

// Ready reports whether the initial walk has completed (or stopped early
// on overflow/timeout — either way the graph is usable from then on,
// per spec §4.7: "On completion, latches graph_ready = true").
func (b *Builder) Ready() bool { return b.ready.Load() }

// Run executes the bounded walk synchronously; callers that want it in
// the background should invoke Run on its own goroutine.
func (b *Builder) Run() {
	defer b.ready.Store(true)

	deadline := time.Now().Add(WallClockBudget)
	ignore := loadGitignore(b.root)

	files, err := b.discover(ignore)
	if err != nil {
		b.logger.Warn("graphbuild.discover_failed", "error", err)
		return
	}

	bar := obs.BuildProgress(int64(len(files)), "building dependency graph")

	for _, f := range files {
		if time.Now().After(deadline) {
			b.logger.Warn("graphbuild.wall_clock_exceeded", "budget", WallClockBudget)
			break
		}
		if b.graph.IsOverflow() {
			b.logger.Warn("graphbuild.node_overflow")
			break
		}
		b.indexFile(f)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if b.metrics != nil {
		b.metrics.GraphNodes.Set(float64(b.graph.NodeCount()))
		b.metrics.GraphEdges.Set(float64(b.graph.EdgeCount()))
		if b.graph.IsOverflow() {
			b.metrics.GraphOverflowed.Set(1)
		}
	}
}

func (b *Builder) indexFile(path string) {
	if !b.graph.AddFile(path) {
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		b.logger.Warn("graphbuild.read_failed", "path", path, "error", err)
		return
	}
	lang, ok := importscan.LanguageForExt(strings.ToLower(filepath.Ext(path)))
	if !ok {
		return
	}
	specs := importscan.Scan(b.logger, path, content, lang)

	resolved := make([]string, 0, len(specs))
	for _, s := range specs {
		target, ok := b.resolver.Resolve(path, s.Value)
		if !ok {
			continue
		}
		b.graph.AddFile(target)
		resolved = append(resolved, target)
	}
	b.graph.UpdateEdges(path, resolved)
}

var sourceExts = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".mts": true, ".mjs": true, ".cts": true, ".cjs": true,
}

func (b *Builder) discover(ignore []string) ([]string, error) {
	var out []string
	err := filepath.Walk(b.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(b.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		base := filepath.Base(path)

		if info.IsDir() {
			if base == "node_modules" || base == ".git" || (strings.HasPrefix(base, ".") && base != ".") {
				return filepath.SkipDir
			}
			if matchesAny(ignore, rel, base) {
				return filepath.SkipDir
			}
			return nil
		}
		if matchesAny(ignore, rel, base) {
			return nil
		}
		if !sourceExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		canon, cErr := filepath.EvalSymlinks(path)
		if cErr != nil {
			canon = filepath.Clean(path)
		}
		out = append(out, canon)
		return nil
	})
	return out, err
}

func matchesAny(patterns []string, rel, base string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}

func loadGitignore(root string) []string {
	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "/")
		line = strings.TrimSuffix(line, "/")
		if !strings.Contains(line, "*") && !strings.Contains(line, "/") {
			line = "**/" + line
		}
		patterns = append(patterns, line)
	}
	return patterns
}
