// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store is the durable relational backing for runs, test
// failures, and findings. It is grounded on the teacher's
// pkg/storage/embedded.go EmbeddedBackend: the same "own a single
// connection behind a mutex, expose idempotent schema setup, commit
// transactionally" shape, retargeted from CozoDB's embedded Datalog
// engine to modernc.org/sqlite's pure-Go relational engine because the
// data model here is genuinely relational (foreign-keyed runs/failures/
// findings with composite indexes), not graph-shaped.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Store owns the single sqlite connection for a cache directory's
// db.sqlite file. All write paths serialize on mu, matching the "store
// connection lock" in the spec's permitted lock order (§5).
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if absent) the sqlite file at path and applies
// any pending forward-only migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run is a single (workspace_id, run_id) execution record.
type Run struct {
	WorkspaceID string
	RunID       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// TestFailure mirrors the test_failures table row (spec §3/§4.11).
type TestFailure struct {
	StableID string
	TestID   string
	File     string
	Message  string
	Package  string
}

// Finding mirrors the findings table row (spec §3/§4.11).
type Finding struct {
	StableID    string
	Tool        string
	Rule        string
	File        string
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
	Message     string
	Package     string
}

// IngestRun performs the entire §4.11 write path inside one transaction:
// insert run, insert failures, insert findings, mark complete, commit. A
// failure at any step rolls back the whole run so partial state is never
// observable.
func (s *Store) IngestRun(ctx context.Context, workspaceID, runID string, startedAt time.Time, failures []TestFailure, findings []Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id := ulid.Make().String()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, workspace_id, run_id, started_at, completed_at) VALUES (?, ?, ?, ?, NULL)`,
		// Fixed-width fraction so started_at sorts correctly as text.
		id, workspaceID, runID, startedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, f := range failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO test_failures (run_id, stable_id, test_id, file, message, package) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, f.StableID, f.TestID, f.File, f.Message, f.Package,
		); err != nil {
			return fmt.Errorf("insert test failure: %w", err)
		}
	}

	for _, fd := range findings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO findings (run_id, stable_id, tool, rule, file, start_line, start_column, end_line, end_column, message, package)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, fd.StableID, fd.Tool, fd.Rule, fd.File, fd.StartLine, fd.StartColumn, fd.EndLine, fd.EndColumn, fd.Message, fd.Package,
		); err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
	}

	completedAt := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET completed_at = ? WHERE id = ?`, completedAt, id); err != nil {
		return fmt.Errorf("mark run complete: %w", err)
	}

	return tx.Commit()
}

// LatestCompletedRuns returns the n most recently started completed runs
// for workspaceID, most recent first.
func (s *Store) LatestCompletedRuns(ctx context.Context, workspaceID string, n int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT workspace_id, run_id, started_at, completed_at FROM runs
		 WHERE workspace_id = ? AND completed_at IS NOT NULL
		 ORDER BY started_at DESC LIMIT ?`,
		workspaceID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var startedAt, completedAt string
		if err := rows.Scan(&r.WorkspaceID, &r.RunID, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		r.StartedAt = t
		ct, err := time.Parse(time.RFC3339Nano, completedAt)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		r.CompletedAt = &ct
		out = append(out, r)
	}
	return out, rows.Err()
}

// TestFailureStableIDs returns the set of stable_ids recorded for runID,
// optionally filtered to rows whose package is packageScope or lies under
// it ("packageScope/...").
func (s *Store) TestFailureStableIDs(ctx context.Context, runID, packageScope string) (map[string]struct{}, error) {
	return s.stableIDs(ctx, "test_failures", runID, packageScope)
}

// FindingStableIDs returns the set of stable_ids recorded for runID,
// optionally filtered to rows whose package is packageScope or lies under
// it ("packageScope/...").
func (s *Store) FindingStableIDs(ctx context.Context, runID, packageScope string) (map[string]struct{}, error) {
	return s.stableIDs(ctx, "findings", runID, packageScope)
}

func (s *Store) stableIDs(ctx context.Context, table, runID, packageScope string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`SELECT stable_id FROM %s WHERE run_id = ?`, table)
	args := []any{runID}
	if packageScope != "" {
		query += ` AND (package = ? OR substr(package, 1, length(?) + 1) = ? || '/')`
		args = append(args, packageScope, packageScope, packageScope)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s stable ids: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stable id: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}
