// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import "fmt"

// migration is one forward-only schema step. Applying an already-applied
// migration is a no-op (idempotent), mirroring the teacher's
// EnsureSchema/migrateCallsCallLine discipline of "probe, then migrate
// by creating the new shape and copying data across" rather than
// in-place ALTERs.
type migration struct {
	version int
	apply   string
}

var migrations = []migration{
	{
		version: 1,
		apply: `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	run_id TEXT NOT NULL UNIQUE,
	started_at TEXT NOT NULL,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_workspace_started ON runs (workspace_id, started_at DESC);

CREATE TABLE IF NOT EXISTS test_failures (
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	stable_id TEXT NOT NULL,
	test_id TEXT NOT NULL,
	file TEXT NOT NULL,
	message TEXT NOT NULL,
	package TEXT NOT NULL DEFAULT '',
	UNIQUE(run_id, stable_id)
);
CREATE INDEX IF NOT EXISTS idx_test_failures_run_stable ON test_failures (run_id, stable_id);
CREATE INDEX IF NOT EXISTS idx_test_failures_run_package ON test_failures (run_id, package);

CREATE TABLE IF NOT EXISTS findings (
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	stable_id TEXT NOT NULL,
	tool TEXT NOT NULL,
	rule TEXT NOT NULL,
	file TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	start_column INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	end_column INTEGER NOT NULL,
	message TEXT NOT NULL,
	package TEXT NOT NULL DEFAULT '',
	UNIQUE(run_id, stable_id)
);
CREATE INDEX IF NOT EXISTS idx_findings_run_stable ON findings (run_id, stable_id);
CREATE INDEX IF NOT EXISTS idx_findings_run_package ON findings (run_id, package);
`,
	},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create migration history table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query migration history: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.apply); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
