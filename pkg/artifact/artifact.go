// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package artifact decodes the two JSON artifact shapes the ingestion
// pipeline accepts — test-runner reports and lint-tool reports — into
// canonicalized, size-bounded records ready for storage. It follows the
// teacher's dispatch-by-kind decoding pattern (pkg/ingestion/parser.go's
// switch-on-Language dispatch, generalized here to switch-on-artifact-
// kind per spec §9's "tagged variants... not open inheritance" note).
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/wsrun/pkg/pathid"
	"github.com/kraklabs/wsrun/pkg/store"
)

// Kind names a supported artifact shape.
type Kind string

const (
	TestRunner Kind = "test_runner"
	Lint       Kind = "lint"
)

// truncateRunes truncates s to at most max runes without splitting a
// multi-byte codepoint (spec P8), returning the result and whether
// truncation occurred.
func truncateRunes(s string, max int) (string, bool) {
	runes := []rune(s)
	if len(runes) <= max {
		return s, false
	}
	return string(runes[:max]), true
}

func truncateWithEllipsis(s string, max int) string {
	out, truncated := truncateRunes(s, max)
	if !truncated {
		return out
	}
	if max <= 1 {
		return out
	}
	body, _ := truncateRunes(s, max-1)
	return body + "…"
}

func stripWorkspacePrefix(workspaceRoot, p string) string {
	p = pathid.Normalize(p)
	workspaceRoot = pathid.Normalize(workspaceRoot)
	if workspaceRoot != "" && strings.HasPrefix(p, workspaceRoot+"/") {
		p = strings.TrimPrefix(p, workspaceRoot+"/")
	}
	return p
}

// derivePackageScope resolves the package_scope value (spec §3's "package"
// field on TestFailure/Finding) for a record at relFile, by walking up from
// its directory under packageRoot looking for the nearest package.json. It
// returns the slash-separated directory path relative to packageRoot, or ""
// if packageRoot is unset or no package.json is found (the glossary's
// "empty means no filter" case).
func derivePackageScope(packageRoot, relFile string) string {
	if packageRoot == "" {
		return ""
	}
	dir := filepath.Dir(filepath.FromSlash(relFile))
	for {
		candidate := filepath.Join(packageRoot, dir)
		if _, err := os.Stat(filepath.Join(candidate, "package.json")); err == nil {
			if dir == "." {
				return ""
			}
			return filepath.ToSlash(dir)
		}
		if dir == "." || dir == string(filepath.Separator) {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// --- Test-runner JSON (spec §4.12) ---

type testRunnerReport struct {
	TestResults []struct {
		Name             string `json:"name"`
		Status           string `json:"status"`
		Message          string `json:"message"`
		AssertionResults []struct {
			Status          string   `json:"status"`
			Title           string   `json:"title"`
			AncestorTitles  []string `json:"ancestorTitles"`
			FailureMessages []string `json:"failureMessages"`
		} `json:"assertionResults"`
	} `json:"testResults"`
}

const maxMessageChars = 1000

// firstFailureMessage returns the first runner-reported failure message
// for an assertion, or "" if none was reported.
func firstFailureMessage(msgs []string) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[0]
}

// ParseTestRunnerReport decodes a test-runner JSON artifact into
// canonicalized TestFailure records (spec §4.12). packageRoot is the
// on-disk workspace root used to resolve each record's package scope by
// locating its nearest containing package.json; pass "" to leave Package
// unset (e.g. in tests with no real filesystem layout to probe).
func ParseTestRunnerReport(data []byte, workspaceRoot, packageRoot string) ([]store.TestFailure, error) {
	var report testRunnerReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode test runner report: %w", err)
	}

	var out []store.TestFailure
	for _, file := range report.TestResults {
		relFile := stripWorkspacePrefix(workspaceRoot, file.Name)
		pkg := derivePackageScope(packageRoot, relFile)

		sawFailedAssertion := false
		for _, a := range file.AssertionResults {
			if a.Status != "failed" {
				continue
			}
			sawFailedAssertion = true
			testID := a.Title
			if len(a.AncestorTitles) > 0 {
				testID = strings.Join(a.AncestorTitles, " > ") + " > " + a.Title
			}
			out = append(out, store.TestFailure{
				StableID: pathid.StableID("test-failure", relFile, testID),
				TestID:   testID,
				File:     relFile,
				Message:  truncateWithEllipsis(firstFailureMessage(a.FailureMessages), maxMessageChars),
				Package:  pkg,
			})
		}

		if !sawFailedAssertion && file.Status == "failed" && len(file.AssertionResults) == 0 && file.Message != "" {
			testID := relFile + "::file-error"
			out = append(out, store.TestFailure{
				StableID: pathid.StableID("test-failure", relFile, testID),
				TestID:   testID,
				File:     relFile,
				Message:  truncateWithEllipsis(file.Message, maxMessageChars),
				Package:  pkg,
			})
		}
	}
	return out, nil
}

// --- Lint JSON (spec §4.12) ---

type lintMessage struct {
	RuleID    string `json:"ruleId"`
	Severity  int    `json:"severity"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	EndLine   int    `json:"endLine"`
	EndColumn int    `json:"endColumn"`
	Message   string `json:"message"`
}

type lintFileReport struct {
	FilePath string        `json:"filePath"`
	Messages []lintMessage `json:"messages"`
}

const (
	maxRuleChars = 256
	maxFileChars = 4096
	lintSeverityError = 2
)

// ParseLintReport decodes a lint-tool JSON artifact (a top-level array
// of per-file reports) into canonicalized Finding records, keeping only
// severity-2 (error) messages (spec §4.12). packageRoot is the on-disk
// workspace root used to resolve each record's package scope; pass "" to
// leave Package unset.
func ParseLintReport(data []byte, workspaceRoot, packageRoot string) ([]store.Finding, error) {
	var files []lintFileReport
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("decode lint report: %w", err)
	}

	var out []store.Finding
	for _, file := range files {
		relFile := truncateRunesOnly(stripWorkspacePrefix(workspaceRoot, file.FilePath), maxFileChars)
		pkg := derivePackageScope(packageRoot, relFile)
		for _, m := range file.Messages {
			if m.Severity != lintSeverityError {
				continue
			}
			rule := m.RuleID
			if rule == "" {
				rule = "unknown"
			}
			rule = truncateRunesOnly(rule, maxRuleChars)

			line := floorToOne(m.Line)
			col := floorToOne(m.Column)
			endLine := m.EndLine
			if endLine == 0 {
				endLine = line
			} else {
				endLine = floorToOne(endLine)
			}
			endCol := m.EndColumn
			if endCol == 0 {
				endCol = col
			} else {
				endCol = floorToOne(endCol)
			}

			out = append(out, store.Finding{
				StableID:    pathid.StableID("eslint", rule, relFile, itoa(line), itoa(col)),
				Tool:        "eslint",
				Rule:        rule,
				File:        relFile,
				StartLine:   line,
				StartColumn: col,
				EndLine:     endLine,
				EndColumn:   endCol,
				Message:     truncateRunesOnly(m.Message, maxMessageChars),
				Package:     pkg,
			})
		}
	}
	return out, nil
}

func truncateRunesOnly(s string, max int) string {
	out, _ := truncateRunes(s, max)
	return out
}

func floorToOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
