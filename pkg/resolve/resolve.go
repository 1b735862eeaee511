// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package resolve turns an import specifier seen in an importing file
// into the canonical absolute path of the file it refers to, honoring
// extension ordering, directory index files, package export-map
// condition names, and an optional tsconfig path-mapping file. It never
// returns an error to its caller: the teacher's resolver
// (pkg/ingestion/resolver.go) absorbs lookup misses as logged nils
// rather than propagating failures, and this component follows the same
// discipline (spec §4.3: "Resolution failures are logged... never throw
// upward").
package resolve

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Extensions is the fixed try-order for extensionless specifiers.
var Extensions = []string{".ts", ".tsx", ".js", ".jsx", ".mts", ".mjs", ".cts", ".cjs"}

// Conditions is the fixed condition-name preference order consulted
// against package "exports" maps.
var Conditions = []string{"import", "require", "node", "default"}

// PathMapping is a single tsconfig "paths" entry: Pattern may contain a
// single trailing "*" wildcard, Targets are resolved relative to BaseURL.
type PathMapping struct {
	Pattern string
	Targets []string
}

// Config holds the manually-declared resolver configuration (spec §4.3:
// "a declared tsconfig path-mapping file; project references disabled").
type Config struct {
	// WorkspaceRoot is the canonical sandbox boundary: a resolved path
	// that escapes it is rejected (spec §4.3 workspace sandbox clause).
	WorkspaceRoot string
	BaseURL       string
	Paths         []PathMapping
}

// LoadTSConfigPaths reads the "compilerOptions.baseUrl"/"paths" shape out
// of a tsconfig-style JSON file. A missing or malformed file returns the
// read or decode error; the caller decides whether to go on without path
// mapping.
func LoadTSConfigPaths(tsconfigPath string) (baseURL string, paths []PathMapping, err error) {
	data, err := os.ReadFile(tsconfigPath)
	if err != nil {
		return "", nil, err
	}
	var doc struct {
		CompilerOptions struct {
			BaseURL string              `json:"baseUrl"`
			Paths   map[string][]string `json:"paths"`
		} `json:"compilerOptions"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", nil, err
	}
	dir := filepath.Dir(tsconfigPath)
	base := doc.CompilerOptions.BaseURL
	if base == "" {
		base = "."
	}
	base = filepath.Join(dir, base)

	for pattern, targets := range doc.CompilerOptions.Paths {
		paths = append(paths, PathMapping{Pattern: pattern, Targets: targets})
	}
	return base, paths, nil
}

// Resolver resolves specifiers against a fixed Config.
type Resolver struct {
	cfg    Config
	logger *slog.Logger
}

// New builds a Resolver. logger defaults to slog.Default() when nil.
func New(cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, logger: logger}
}

// Resolve resolves specifier spec as imported from file from (canonical,
// absolute). It returns ("", false) on any failure, already logged.
func (r *Resolver) Resolve(from, spec string) (string, bool) {
	var candidate string
	switch {
	case strings.HasPrefix(spec, "."):
		candidate = filepath.Join(filepath.Dir(from), spec)
	case filepath.IsAbs(spec):
		candidate = spec
	default:
		if mapped, ok := r.mapPath(spec); ok {
			candidate = mapped
		} else {
			// Bare specifier with no path mapping: treat as a
			// workspace-relative package directory lookup so
			// monorepo-internal packages still resolve without a
			// full node_modules resolution algorithm (spec names
			// tsconfig path mapping as the only non-relative route;
			// everything else falls through to the same rejection
			// path as a broken relative import).
			candidate = filepath.Join(r.cfg.WorkspaceRoot, "node_modules", spec)
		}
	}

	resolved, ok := r.resolveFileOrIndex(candidate)
	if !ok {
		r.logger.Warn("resolve.miss", "from", from, "spec", spec)
		return "", false
	}

	canon, err := filepath.EvalSymlinks(resolved)
	if err != nil {
		canon = filepath.Clean(resolved)
	}
	if !r.inSandbox(canon) {
		r.logger.Warn("resolve.sandbox_rejected", "from", from, "spec", spec, "resolved", canon)
		return "", false
	}
	return canon, true
}

func (r *Resolver) inSandbox(p string) bool {
	root := filepath.Clean(r.cfg.WorkspaceRoot)
	rel, err := filepath.Rel(root, filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// mapPath applies the longest-matching tsconfig path-mapping entry.
func (r *Resolver) mapPath(spec string) (string, bool) {
	var bestPattern string
	var bestTarget string
	bestLen := -1

	for _, m := range r.cfg.Paths {
		prefix, hasStar := splitWildcard(m.Pattern)
		if hasStar {
			if !strings.HasPrefix(spec, prefix) {
				continue
			}
		} else if spec != m.Pattern {
			continue
		}
		if len(prefix) <= bestLen || len(m.Targets) == 0 {
			continue
		}
		bestLen = len(prefix)
		bestPattern = m.Pattern
		bestTarget = m.Targets[0]
	}
	if bestLen < 0 {
		return "", false
	}

	prefix, hasStar := splitWildcard(bestPattern)
	targetPrefix, targetHasStar := splitWildcard(bestTarget)
	rest := strings.TrimPrefix(spec, prefix)
	target := targetPrefix
	if hasStar && targetHasStar {
		target = targetPrefix + rest
	}
	return filepath.Join(r.cfg.BaseURL, target), true
}

func splitWildcard(pattern string) (prefix string, hasStar bool) {
	idx := strings.IndexByte(pattern, '*')
	if idx < 0 {
		return pattern, false
	}
	return pattern[:idx], true
}

// resolveFileOrIndex tries candidate as an exact file, then with each
// tried extension appended, then as a directory containing an index
// file (also tried across every extension), then consults a package.json
// "exports" map rooted at candidate.
func (r *Resolver) resolveFileOrIndex(candidate string) (string, bool) {
	if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
		return candidate, true
	}
	for _, ext := range Extensions {
		p := candidate + ext
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, true
		}
	}
	if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
		for _, ext := range Extensions {
			p := filepath.Join(candidate, "index"+ext)
			if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
				return p, true
			}
		}
		if p, ok := r.resolvePackageExports(candidate); ok {
			return p, true
		}
	}
	return "", false
}

// resolvePackageExports reads dir/package.json and follows its "exports"
// map (root "." entry only) through the preferred condition names.
func (r *Resolver) resolvePackageExports(dir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return "", false
	}
	var pkg struct {
		Main    string          `json:"main"`
		Exports json.RawMessage `json:"exports"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return "", false
	}

	if len(pkg.Exports) > 0 {
		if target, ok := resolveExportsNode(pkg.Exports, Conditions); ok {
			p := filepath.Join(dir, target)
			if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
				return p, true
			}
		}
	}

	if pkg.Main != "" {
		p := filepath.Join(dir, pkg.Main)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, true
		}
	}
	return "", false
}

// resolveExportsNode descends a package.json "exports" value: either a
// plain string target, a root map keyed by "." to a nested conditions
// object, or a flat conditions object.
func resolveExportsNode(raw json.RawMessage, conditions []string) (string, bool) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, true
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return "", false
	}
	if root, ok := asMap["."]; ok {
		return resolveExportsNode(root, conditions)
	}
	for _, cond := range conditions {
		if v, ok := asMap[cond]; ok {
			return resolveExportsNode(v, conditions)
		}
	}
	return "", false
}
