// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.sqlite")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	s1, err := Open(path)
	require.NoError(t, err)
	s1.Close()

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
}

func TestIngestRunAndQueryStableIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.IngestRun(ctx, "ws1", "run1", time.Now(), []TestFailure{
		{StableID: "a1", TestID: "t1", File: "src/a.ts", Message: "boom", Package: "pkg-a"},
	}, []Finding{
		{StableID: "f1", Tool: "eslint", Rule: "no-unused-vars", File: "src/a.ts", StartLine: 1, StartColumn: 1, EndLine: 1, EndColumn: 2, Message: "unused", Package: "pkg-a"},
	})
	require.NoError(t, err)

	ids, err := s.TestFailureStableIDs(ctx, "run1", "")
	require.NoError(t, err)
	assert.Contains(t, ids, "a1")

	fids, err := s.FindingStableIDs(ctx, "run1", "")
	require.NoError(t, err)
	assert.Contains(t, fids, "f1")

	runs, err := s.LatestCompletedRuns(ctx, "ws1", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run1", runs[0].RunID)
	assert.NotNil(t, runs[0].CompletedAt)
}

func TestDeltaSummaryTwoRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	require.NoError(t, s.IngestRun(ctx, "ws1", "run1", base, []TestFailure{
		{StableID: "A", TestID: "a", File: "a.ts", Message: "m"},
		{StableID: "B", TestID: "b", File: "b.ts", Message: "m"},
		{StableID: "C", TestID: "c", File: "c.ts", Message: "m"},
	}, nil))

	require.NoError(t, s.IngestRun(ctx, "ws1", "run2", base.Add(time.Minute), []TestFailure{
		{StableID: "B", TestID: "b", File: "b.ts", Message: "m"},
		{StableID: "D", TestID: "d", File: "d.ts", Message: "m"},
	}, nil))

	failures, findings, err := s.DeltaSummary(ctx, "ws1", "")
	require.NoError(t, err)
	assert.Equal(t, Delta{New: 1, Fixed: 2}, failures)
	assert.Equal(t, Delta{}, findings)
}

func TestDeltaSummarySingleRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IngestRun(ctx, "ws1", "run1", time.Now(), []TestFailure{
		{StableID: "A", TestID: "a", File: "a.ts", Message: "m"},
		{StableID: "B", TestID: "b", File: "b.ts", Message: "m"},
		{StableID: "C", TestID: "c", File: "c.ts", Message: "m"},
	}, nil))

	failures, _, err := s.DeltaSummary(ctx, "ws1", "")
	require.NoError(t, err)
	assert.Equal(t, Delta{New: 3, Fixed: 0}, failures)
}

func TestDeltaSummaryEmptyWorkspace(t *testing.T) {
	s := openTestStore(t)
	failures, findings, err := s.DeltaSummary(context.Background(), "unknown-ws", "")
	require.NoError(t, err)
	assert.Equal(t, Delta{}, failures)
	assert.Equal(t, Delta{}, findings)
}

func TestIngestRunRollsBackOnDuplicateStableID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IngestRun(ctx, "ws1", "run1", time.Now(), []TestFailure{
		{StableID: "A", TestID: "a", File: "a.ts", Message: "m"},
	}, nil))

	err := s.IngestRun(ctx, "ws1", "run2", time.Now(), []TestFailure{
		{StableID: "A", TestID: "a", File: "a.ts", Message: "m"},
		{StableID: "A", TestID: "a", File: "a.ts", Message: "m"},
	}, nil)
	assert.Error(t, err)

	runs, err := s.LatestCompletedRuns(ctx, "ws1", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run1", runs[0].RunID)
}
