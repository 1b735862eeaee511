// SPDX-License-Identifier: AGPL-3.0-or-later

package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/wsrun/pkg/affected"
	"github.com/kraklabs/wsrun/pkg/depgraph"
	"github.com/kraklabs/wsrun/pkg/dirty"
	"github.com/kraklabs/wsrun/pkg/graphbuild"
	"github.com/kraklabs/wsrun/pkg/ingest"
	"github.com/kraklabs/wsrun/pkg/resolve"
	"github.com/kraklabs/wsrun/pkg/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	cacheDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cacheDir, "artifacts"), 0o755))

	g := depgraph.New()
	tr := dirty.New()
	r := resolve.New(resolve.Config{WorkspaceRoot: root}, nil)
	b := graphbuild.New(root, g, r, nil, nil)
	b.Run()
	aEngine := affected.New(root, g, tr, r, b, nil, nil, nil)

	st, err := store.Open(filepath.Join(cacheDir, "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	iEngine := ingest.New(st, cacheDir, "", nil)

	return New(aEngine, iEngine, prometheus.NewRegistry(), nil)
}

func TestHandlePing(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, Version, body["version"])
}

func TestHandleAffectedTestsQuiet(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/affected-tests", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["is_full_run"])
}

func TestHandleDeltaSummaryRequiresWorkspaceID(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/delta-summary", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIngestManifestInvalid(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest-manifest", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMetrics(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
