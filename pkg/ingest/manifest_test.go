// SPDX-License-Identifier: AGPL-3.0-or-later

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/wsrun/internal/wsrunerr"
	"github.com/kraklabs/wsrun/pkg/store"
)

func TestParseManifestValid(t *testing.T) {
	raw := []byte(`{"workspace_id": "ws1", "run_id": "run1", "artifacts": [{"path": "a.json", "kind": "lint"}]}`)
	m, err := ParseManifest(raw)
	require.NoError(t, err)
	assert.Equal(t, "ws1", m.WorkspaceID)
	require.Len(t, m.Artifacts, 1)
	assert.Equal(t, "lint", m.Artifacts[0].Kind)
}

func TestParseManifestRejectsMissingFields(t *testing.T) {
	_, err := ParseManifest([]byte(`{"workspace_id": "ws1"}`))
	require.Error(t, err)
	assert.Equal(t, wsrunerr.KindInvalidArgument, wsrunerr.KindOf(err))
}

func TestParseManifestRejectsUnknownKind(t *testing.T) {
	_, err := ParseManifest([]byte(`{"workspace_id": "ws1", "run_id": "r1", "artifacts": [{"path": "a.json", "kind": "bogus"}]}`))
	require.Error(t, err)
}

func setupEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	cacheDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cacheDir, "artifacts"), 0o755))
	st, err := store.Open(filepath.Join(cacheDir, "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, cacheDir, "", nil), cacheDir
}

func TestIngestEndToEnd(t *testing.T) {
	e, cacheDir := setupEngine(t)
	lintPath := filepath.Join(cacheDir, "artifacts", "lint.json")
	require.NoError(t, os.WriteFile(lintPath, []byte(`[{"filePath":"a.ts","messages":[{"ruleId":"r","severity":2,"line":1,"column":1,"message":"m"}]}]`), 0o644))

	err := e.Ingest(context.Background(), Manifest{
		WorkspaceID: "ws1", RunID: "run1",
		Artifacts: []ArtifactRef{{Path: "lint.json", Kind: "lint"}},
	})
	require.NoError(t, err)

	_, findings, err := e.DeltaSummary(context.Background(), "ws1", "")
	require.NoError(t, err)
	assert.Equal(t, store.Delta{New: 1}, findings)
}

func TestIngestDerivesPackageScopeFromWorkspaceRoot(t *testing.T) {
	cacheDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cacheDir, "artifacts"), 0o755))
	st, err := store.Open(filepath.Join(cacheDir, "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	workspaceRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workspaceRoot, "packages", "web"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspaceRoot, "packages", "web", "package.json"), []byte("{}"), 0o644))

	e := New(st, cacheDir, workspaceRoot, nil)

	lintPath := filepath.Join(cacheDir, "artifacts", "lint.json")
	require.NoError(t, os.WriteFile(lintPath, []byte(`[{"filePath":"packages/web/src/a.ts","messages":[{"ruleId":"r","severity":2,"line":1,"column":1,"message":"m"}]}]`), 0o644))

	require.NoError(t, e.Ingest(context.Background(), Manifest{
		WorkspaceID: "ws1", RunID: "run1",
		Artifacts: []ArtifactRef{{Path: "lint.json", Kind: "lint"}},
	}))

	_, scoped, err := e.DeltaSummary(context.Background(), "ws1", "packages/web")
	require.NoError(t, err)
	assert.Equal(t, store.Delta{New: 1}, scoped)

	_, unscoped, err := e.DeltaSummary(context.Background(), "ws1", "packages/other")
	require.NoError(t, err)
	assert.Equal(t, store.Delta{}, unscoped)
}

func TestIngestRejectsPathEscapingSandbox(t *testing.T) {
	e, cacheDir := setupEngine(t)
	outside := filepath.Join(cacheDir, "evil.json")
	require.NoError(t, os.WriteFile(outside, []byte(`[]`), 0o644))

	err := e.Ingest(context.Background(), Manifest{
		WorkspaceID: "ws1", RunID: "run1",
		Artifacts: []ArtifactRef{{Path: "../evil.json", Kind: "lint"}},
	})
	require.Error(t, err)
	assert.Equal(t, wsrunerr.KindNotFound, wsrunerr.KindOf(err))
}

func TestIngestRejectsMissingFile(t *testing.T) {
	e, _ := setupEngine(t)
	err := e.Ingest(context.Background(), Manifest{
		WorkspaceID: "ws1", RunID: "run1",
		Artifacts: []ArtifactRef{{Path: "missing.json", Kind: "lint"}},
	})
	require.Error(t, err)
	assert.Equal(t, wsrunerr.KindNotFound, wsrunerr.KindOf(err))
}

func TestIngestRejectsOversizedArtifact(t *testing.T) {
	e, cacheDir := setupEngine(t)
	bigPath := filepath.Join(cacheDir, "artifacts", "big.json")
	f, err := os.Create(bigPath)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(MaxArtifactBytes+1))
	require.NoError(t, f.Close())

	err = e.Ingest(context.Background(), Manifest{
		WorkspaceID: "ws1", RunID: "run1",
		Artifacts: []ArtifactRef{{Path: "big.json", Kind: "lint"}},
	})
	require.Error(t, err)
	assert.Equal(t, wsrunerr.KindInvalidArgument, wsrunerr.KindOf(err))
}
