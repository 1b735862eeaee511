// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements the wsrun workspace-companion service.
//
// Usage:
//
//	wsrun service <cache_dir> <workspace_root>
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/wsrun/internal/obs"
	"github.com/kraklabs/wsrun/internal/rpc"
	"github.com/kraklabs/wsrun/pkg/affected"
	"github.com/kraklabs/wsrun/pkg/depgraph"
	"github.com/kraklabs/wsrun/pkg/dirty"
	"github.com/kraklabs/wsrun/pkg/graphbuild"
	"github.com/kraklabs/wsrun/pkg/ingest"
	"github.com/kraklabs/wsrun/pkg/resolve"
	"github.com/kraklabs/wsrun/pkg/store"
	"github.com/kraklabs/wsrun/pkg/watch"

	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var version = "dev"

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		verbose     = flag.BoolP("verbose", "v", false, "Enable debug logging")
		tsconfig    = flag.String("tsconfig", "", "Path to a tsconfig.json used for path mapping")
	)
	flag.SetInterspersed(false)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `wsrun - workspace companion service

Usage:
  wsrun service <cache_dir> <workspace_root>

Global Options:
  -v, --verbose    Enable debug logging
  --tsconfig       Path to a tsconfig.json for module path mapping
  -V, --version    Show version and exit
`)
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("wsrun version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) < 1 || args[0] != "service" {
		flag.Usage()
		os.Exit(1)
	}
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "wsrun: service requires <cache_dir> <workspace_root>")
		os.Exit(1)
	}
	cacheDir, workspaceRoot := args[1], args[2]

	fileCfg, err := loadFileConfig(workspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsrun: read wsrun.yaml: %v\n", err)
		os.Exit(1)
	}
	resolvedTsconfig := *tsconfig
	if resolvedTsconfig == "" {
		resolvedTsconfig = fileCfg.Tsconfig
	}
	resolvedVerbose := fileCfg.Verbose
	if flag.CommandLine.Changed("verbose") {
		resolvedVerbose = *verbose
	}

	if err := run(cacheDir, workspaceRoot, resolvedTsconfig, resolvedVerbose); err != nil {
		fmt.Fprintf(os.Stderr, "wsrun: %v\n", err)
		os.Exit(1)
	}
}

func run(cacheDir, workspaceRoot, tsconfigPath string, verbose bool) error {
	logger := obs.NewLogger(verbose)
	registry := prometheus.NewRegistry()
	metrics := obs.NewMetrics(registry)

	if err := os.MkdirAll(filepath.Join(cacheDir, "artifacts"), 0o755); err != nil {
		return fmt.Errorf("create artifacts dir: %w", err)
	}

	resolverCfg := resolve.Config{WorkspaceRoot: workspaceRoot}
	if tsconfigPath != "" {
		baseURL, paths, err := resolve.LoadTSConfigPaths(tsconfigPath)
		if err != nil {
			logger.Warn("main.tsconfig_load_failed", "path", tsconfigPath, "error", err)
		} else {
			resolverCfg.BaseURL = baseURL
			resolverCfg.Paths = paths
		}
	}
	resolver := resolve.New(resolverCfg, logger)

	graph := depgraph.New()
	tracker := dirty.New()

	builder := graphbuild.New(workspaceRoot, graph, resolver, logger, metrics)
	go builder.Run()

	w, err := watch.New(workspaceRoot, logger)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()
	go w.Run()

	affectedEngine := affected.New(workspaceRoot, graph, tracker, resolver, builder, w.Events(), logger, metrics)

	st, err := store.Open(filepath.Join(cacheDir, "db.sqlite"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ingestEngine := ingest.New(st, cacheDir, workspaceRoot, logger)

	server := rpc.New(affectedEngine, ingestEngine, registry, logger)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("bind listener: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	if err := publishPort(cacheDir, port); err != nil {
		return fmt.Errorf("publish port: %w", err)
	}

	httpServer := &http.Server{Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("main.shutting_down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	}()

	logger.Info("main.listening", "port", port, "workspace_root", workspaceRoot, "cache_dir", cacheDir)
	if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// publishPort writes port atomically to <cache_dir>/rust.port via a
// temp-file-then-rename so clients never observe a partial file (spec
// §6, P7).
func publishPort(cacheDir string, port int) error {
	finalPath := filepath.Join(cacheDir, "rust.port")
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, []byte(fmt.Sprintf("%d", port)), 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, finalPath)
}
