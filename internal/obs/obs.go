// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package obs wires up the process-wide observability surface: structured
// logging, the Prometheus registry, and the startup progress indicator.
// It mirrors the teacher CLI's ui.InitColors / slog conventions, adapted
// for a long-lived daemon instead of a one-shot CLI command.
package obs

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	isatty "github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/schollz/progressbar/v3"
)

// NewLogger builds the process slog.Logger. Everything below Info is
// dropped in production; -v raises the level the same way the teacher
// CLI's --verbose flag does.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Metrics holds the Prometheus collectors exposed on /metrics. The
// affected engine updates AffectedQueryMS and AffectedQueryTotal, and the
// graph builder updates GraphNodes, GraphEdges and GraphOverflowed.
// DirtySetSize, DirtyOverflowed and IngestDurationMS are registered but
// nothing updates them, so they always read zero.
type Metrics struct {
	DirtySetSize       prometheus.Gauge
	GraphNodes         prometheus.Gauge
	GraphEdges         prometheus.Gauge
	GraphOverflowed    prometheus.Gauge
	DirtyOverflowed    prometheus.Gauge
	AffectedQueryMS    prometheus.Histogram
	IngestDurationMS   prometheus.Histogram
	AffectedQueryTotal *prometheus.CounterVec
}

// NewMetrics registers all collectors against a fresh registry so tests
// never collide with a package-level default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DirtySetSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "wsrun_dirty_set_size",
			Help: "Number of paths currently in the dirty set.",
		}),
		GraphNodes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "wsrun_graph_nodes",
			Help: "Number of modules currently tracked in the dependency graph.",
		}),
		GraphEdges: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "wsrun_graph_edges",
			Help: "Number of import edges currently tracked in the dependency graph.",
		}),
		GraphOverflowed: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "wsrun_graph_overflow",
			Help: "1 if the dependency graph has latched its node-count overflow guard.",
		}),
		DirtyOverflowed: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "wsrun_dirty_overflow",
			Help: "1 if the dirty tracker has latched its overflow guard.",
		}),
		AffectedQueryMS: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "wsrun_affected_query_duration_ms",
			Help:    "Latency of GetAffectedTests calls in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		IngestDurationMS: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "wsrun_ingest_duration_ms",
			Help:    "Latency of IngestManifest calls in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		AffectedQueryTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "wsrun_affected_query_total",
			Help: "Count of GetAffectedTests calls by resulting state machine branch.",
		}, []string{"state"}),
	}
	return m
}

// IsTTY reports whether w is connected to an interactive terminal, the
// same gate the teacher CLI uses before emitting colored/progress output.
func IsTTY(w *os.File) bool {
	return isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd())
}

// Warnf prints a yellow warning line to stderr when attached to a TTY,
// and a plain line otherwise, matching the teacher's ui.InitColors
// convention of never emitting raw ANSI codes into piped output.
func Warnf(w io.Writer, format string, args ...any) {
	if f, ok := w.(*os.File); ok && IsTTY(f) {
		_, _ = color.New(color.FgYellow).Fprintf(w, format+"\n", args...)
		return
	}
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}

// BuildProgress returns a progress bar for the initial graph build when
// stderr is a TTY, and nil otherwise; callers must nil-check before use.
// description mirrors the teacher's indexing job phase labels.
func BuildProgress(total int64, description string) *progressbar.ProgressBar {
	if !IsTTY(os.Stderr) {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
}
