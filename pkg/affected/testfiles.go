// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package affected

import (
	"os"
	"path/filepath"
	"strings"
)

// testExts is both the recognized test-name suffixes and the set of
// extensions tried when building candidate test file names from a
// source stem (spec §4.9's "<stem><ext>").
var testExts = []string{
	".test.ts", ".test.tsx", ".spec.ts", ".spec.tsx",
	".test.js", ".test.jsx", ".spec.js", ".spec.jsx",
	".test.mts", ".test.mjs", ".spec.mts", ".spec.mjs",
}

// IsTestFile reports whether p is itself a test file by name suffix or
// by containing a __tests__ path component (spec §4.9).
func IsTestFile(p string) bool {
	base := filepath.Base(p)
	for _, suf := range testExts {
		if strings.HasSuffix(base, suf) {
			return true
		}
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == "__tests__" {
			return true
		}
	}
	return false
}

// stem strips the final extension only, so "foo.ts" yields "foo" and
// "foo.d.ts" yields "foo.d". It is only called on non-test files.
func stem(base string) string {
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return base
}

// DiscoverCandidateTests returns the existing test files associated with
// source path p by convention, as workspace-relative forward-slash
// strings, deduplicated across strategies (spec §4.9).
func DiscoverCandidateTests(workspaceRoot, p string) []string {
	if IsTestFile(p) {
		return nil
	}
	dir := filepath.Dir(p)
	base := filepath.Base(p)
	st := stem(base)

	seen := make(map[string]struct{})
	var out []string
	add := func(candidate string) {
		if _, err := os.Stat(candidate); err != nil {
			return
		}
		rel, err := filepath.Rel(workspaceRoot, candidate)
		if err != nil {
			return
		}
		rel = filepath.ToSlash(rel)
		if _, ok := seen[rel]; ok {
			return
		}
		seen[rel] = struct{}{}
		out = append(out, rel)
	}

	// 1. Co-located in the same directory.
	for _, ext := range testExts {
		add(filepath.Join(dir, st+ext))
	}

	// 2. Sibling __tests__ directory under the same parent.
	for _, ext := range testExts {
		add(filepath.Join(dir, "__tests__", st+ext))
	}

	// 3. Workspace-rooted test/ mirror: strip a leading src/ from the
	// source's workspace-relative parent.
	relDir, err := filepath.Rel(workspaceRoot, dir)
	if err == nil {
		mirror := strings.TrimPrefix(filepath.ToSlash(relDir), "src/")
		if filepath.ToSlash(relDir) == "src" {
			mirror = ""
		}
		for _, ext := range testExts {
			add(filepath.Join(workspaceRoot, "test", mirror, st+ext))
		}
	}

	return out
}
