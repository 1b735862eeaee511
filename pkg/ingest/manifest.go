// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ingest validates and parses inbound artifact manifests, runs
// the parse-and-store pipeline under the `<cache_dir>/artifacts/`
// sandbox, and composes the delta summary over the store's two most
// recent completed runs. It is grounded on the teacher's
// pkg/ingestion/manifest.go ProjectManifest (atomic validate-then-act
// shape) and hash_delta.go's log-first-then-act discipline, retargeted
// from incremental-reindex bookkeeping to artifact ingestion.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kraklabs/wsrun/internal/wsrunerr"
	"github.com/kraklabs/wsrun/pkg/artifact"
	"github.com/kraklabs/wsrun/pkg/store"
)

// MaxArtifactBytes is the per-file size ceiling (spec §4.13/§6).
const MaxArtifactBytes = 100 * 1024 * 1024

const manifestSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["workspace_id", "run_id", "artifacts"],
	"properties": {
		"workspace_id": {"type": "string"},
		"run_id": {"type": "string"},
		"artifacts": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["path", "kind"],
				"properties": {
					"path": {"type": "string"},
					"kind": {"type": "string", "enum": ["test_runner", "lint"]}
				}
			}
		}
	}
}`

var manifestSchema = mustCompileManifestSchema()

func mustCompileManifestSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("manifest.json", bytes.NewReader([]byte(manifestSchemaJSON))); err != nil {
		panic(fmt.Sprintf("ingest: invalid embedded manifest schema: %v", err))
	}
	return compiler.MustCompile("manifest.json")
}

// ArtifactRef is one manifest entry: a file path and its declared kind.
type ArtifactRef struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

// Manifest is the decoded IngestManifest request body (spec §4.13).
type Manifest struct {
	WorkspaceID string        `json:"workspace_id"`
	RunID       string        `json:"run_id"`
	Artifacts   []ArtifactRef `json:"artifacts"`
}

// ParseManifest validates raw against the manifest JSON schema, then
// decodes it. A schema violation or malformed JSON surfaces as
// wsrunerr.Invalid.
func ParseManifest(raw []byte) (Manifest, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Manifest{}, wsrunerr.Invalid("malformed manifest JSON", err)
	}
	if err := manifestSchema.Validate(generic); err != nil {
		return Manifest{}, wsrunerr.Invalid("manifest does not match required shape", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, wsrunerr.Invalid("malformed manifest JSON", err)
	}
	return m, nil
}

// Engine composes manifest validation, artifact parsing, and the store
// to perform a full ingest, plus delta summary queries.
type Engine struct {
	store         *store.Store
	cacheDir      string
	workspaceRoot string
	logger        *slog.Logger
}

// New builds an Engine rooted at cacheDir, whose `<cacheDir>/artifacts/`
// subdirectory is the sandbox every artifact path must resolve under.
// workspaceRoot is the on-disk workspace used to derive each ingested
// record's package scope (nearest containing package.json); pass "" if
// package derivation is not wanted.
func New(st *store.Store, cacheDir, workspaceRoot string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, cacheDir: cacheDir, workspaceRoot: workspaceRoot, logger: logger}
}

// Ingest validates m per spec §4.13's order, parses every referenced
// artifact, and commits the run transactionally. No partial ingest is
// ever observable: every failure short-circuits before the store write.
func (e *Engine) Ingest(ctx context.Context, m Manifest) error {
	if strings.TrimSpace(m.WorkspaceID) == "" {
		return wsrunerr.Invalid("workspace_id must not be empty", nil)
	}
	if strings.TrimSpace(m.RunID) == "" {
		return wsrunerr.Invalid("run_id must not be empty", nil)
	}

	sandbox := filepath.Join(e.cacheDir, "artifacts")
	var failures []store.TestFailure
	var findings []store.Finding

	for _, a := range m.Artifacts {
		content, err := e.readSandboxed(sandbox, a.Path)
		if err != nil {
			return err
		}

		switch artifact.Kind(a.Kind) {
		case artifact.TestRunner:
			parsed, err := artifact.ParseTestRunnerReport(content, "", e.workspaceRoot)
			if err != nil {
				return wsrunerr.Invalid(fmt.Sprintf("parse test-runner artifact %s", a.Path), err)
			}
			failures = append(failures, parsed...)
		case artifact.Lint:
			parsed, err := artifact.ParseLintReport(content, "", e.workspaceRoot)
			if err != nil {
				return wsrunerr.Invalid(fmt.Sprintf("parse lint artifact %s", a.Path), err)
			}
			findings = append(findings, parsed...)
		default:
			return wsrunerr.Invalid(fmt.Sprintf("unknown artifact kind %q", a.Kind), nil)
		}
	}

	if err := e.store.IngestRun(ctx, m.WorkspaceID, m.RunID, time.Now(), failures, findings); err != nil {
		e.logger.Error("ingest.store_failed", "workspace_id", m.WorkspaceID, "run_id", m.RunID, "error", err)
		return wsrunerr.Internal("commit ingest run", err)
	}
	e.logger.Info("ingest.committed",
		"workspace_id", m.WorkspaceID, "run_id", m.RunID,
		"failures", len(failures), "findings", len(findings),
	)
	return nil
}

// readSandboxed canonicalizes rawPath and rejects it unless it resolves
// under sandbox, then returns its content after the size check (spec
// §4.13, §7's NotFound/InvalidArgument distinction, P6).
func (e *Engine) readSandboxed(sandbox, rawPath string) ([]byte, error) {
	canonSandbox, err := filepath.EvalSymlinks(sandbox)
	if err != nil {
		canonSandbox = filepath.Clean(sandbox)
	}

	candidate := rawPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(sandbox, candidate)
	}
	canon, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return nil, wsrunerr.NotFound(fmt.Sprintf("artifact not found: %s", rawPath), err)
	}

	rel, err := filepath.Rel(canonSandbox, canon)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, wsrunerr.NotFound(fmt.Sprintf("artifact path escapes sandbox: %s", rawPath), nil)
	}

	info, err := os.Stat(canon)
	if err != nil {
		return nil, wsrunerr.NotFound(fmt.Sprintf("artifact not found: %s", rawPath), err)
	}
	if info.Size() > MaxArtifactBytes {
		return nil, wsrunerr.Invalid(fmt.Sprintf("artifact too large: %s", rawPath), nil)
	}

	content, err := os.ReadFile(canon)
	if err != nil {
		return nil, wsrunerr.NotFound(fmt.Sprintf("artifact unreadable: %s", rawPath), err)
	}
	return content, nil
}

// DeltaSummary delegates to the store's set-difference computation
// (spec §4.13).
func (e *Engine) DeltaSummary(ctx context.Context, workspaceID, packageScope string) (failures, findings store.Delta, err error) {
	return e.store.DeltaSummary(ctx, workspaceID, packageScope)
}
