// SPDX-License-Identifier: AGPL-3.0-or-later

package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTestRunnerReportAssertionAndFileError(t *testing.T) {
	raw := []byte(`{
		"testResults": [
			{
				"name": "/ws/src/a.test.ts",
				"status": "failed",
				"assertionResults": [
					{"status": "failed", "title": "does the thing", "ancestorTitles": ["suite", "nested"], "failureMessages": ["expected 1 to equal 2"]},
					{"status": "passed", "title": "ok case", "ancestorTitles": []}
				]
			},
			{
				"name": "/ws/src/b.test.ts",
				"status": "failed",
				"message": "cannot find module",
				"assertionResults": []
			}
		]
	}`)

	failures, err := ParseTestRunnerReport(raw, "/ws", "")
	require.NoError(t, err)
	require.Len(t, failures, 2)

	assert.Equal(t, "src/a.test.ts", failures[0].File)
	assert.Equal(t, "suite > nested > does the thing", failures[0].TestID)
	assert.Equal(t, "expected 1 to equal 2", failures[0].Message)

	assert.Equal(t, "src/b.test.ts", failures[1].File)
	assert.Equal(t, "src/b.test.ts::file-error", failures[1].TestID)
	assert.Equal(t, "cannot find module", failures[1].Message)
}

func TestParseTestRunnerReportDeterministicStableID(t *testing.T) {
	raw := []byte(`{"testResults":[{"name":"a.test.ts","status":"failed","assertionResults":[{"status":"failed","title":"x","ancestorTitles":[]}]}]}`)
	f1, err := ParseTestRunnerReport(raw, "", "")
	require.NoError(t, err)
	f2, err := ParseTestRunnerReport(raw, "", "")
	require.NoError(t, err)
	assert.Equal(t, f1[0].StableID, f2[0].StableID)
	assert.Len(t, f1[0].StableID, 32)
}

func TestParseTestRunnerReportMessageTruncation(t *testing.T) {
	long := strings.Repeat("x", 2000)
	raw := []byte(`{"testResults":[{"name":"a.test.ts","status":"failed","assertionResults":[{"status":"failed","title":"t","ancestorTitles":[],"failureMessages":["` + long + `"]}]}]}`)
	failures, err := ParseTestRunnerReport(raw, "", "")
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, maxMessageChars, len([]rune(failures[0].Message)))
	assert.True(t, strings.HasSuffix(failures[0].Message, "…"))
}

func TestParseTestRunnerReportEmptyFailureMessagesYieldsEmptyMessage(t *testing.T) {
	raw := []byte(`{"testResults":[{"name":"a.test.ts","status":"failed","assertionResults":[{"status":"failed","title":"t","ancestorTitles":[],"failureMessages":[]}]}]}`)
	failures, err := ParseTestRunnerReport(raw, "", "")
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "", failures[0].Message)
}

func TestParseTestRunnerReportDerivesNearestPackageScope(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "packages", "api", "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "packages", "api", "package.json"), []byte("{}"), 0o644))

	raw := []byte(`{"testResults":[{"name":"packages/api/src/a.test.ts","status":"failed","assertionResults":[{"status":"failed","title":"t","ancestorTitles":[]}]}]}`)
	failures, err := ParseTestRunnerReport(raw, "", root)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "packages/api", failures[0].Package)
}

func TestParseTestRunnerReportNoPackageJSONYieldsEmptyScope(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "loose"), 0o755))

	raw := []byte(`{"testResults":[{"name":"loose/a.test.ts","status":"failed","assertionResults":[{"status":"failed","title":"t","ancestorTitles":[]}]}]}`)
	failures, err := ParseTestRunnerReport(raw, "", root)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "", failures[0].Package)
}

func TestParseLintReportDerivesPackageScope(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "packages", "web"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "packages", "web", "package.json"), []byte("{}"), 0o644))

	raw := []byte(`[{"filePath": "packages/web/src/a.ts", "messages": [{"ruleId": "no-unused-vars", "severity": 2, "line": 1, "column": 1, "message": "m"}]}]`)
	findings, err := ParseLintReport(raw, "", root)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "packages/web", findings[0].Package)
}

func TestParseLintReportFiltersSeverityAndFloors(t *testing.T) {
	raw := []byte(`[
		{
			"filePath": "/ws/src/a.ts",
			"messages": [
				{"ruleId": "no-unused-vars", "severity": 2, "line": 0, "column": -1, "message": "unused var"},
				{"ruleId": "prefer-const", "severity": 1, "line": 5, "column": 2, "message": "warning only"}
			]
		}
	]`)

	findings, err := ParseLintReport(raw, "/ws", "")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "no-unused-vars", findings[0].Rule)
	assert.Equal(t, 1, findings[0].StartLine)
	assert.Equal(t, 1, findings[0].StartColumn)
	assert.Equal(t, "src/a.ts", findings[0].File)
}

func TestParseLintReportDefaultsRuleIDAndEndPosition(t *testing.T) {
	raw := []byte(`[{"filePath": "a.ts", "messages": [{"severity": 2, "line": 3, "column": 4, "message": "m"}]}]`)
	findings, err := ParseLintReport(raw, "", "")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "unknown", findings[0].Rule)
	assert.Equal(t, 3, findings[0].EndLine)
	assert.Equal(t, 4, findings[0].EndColumn)
}

func TestParseLintReportRuleAndFileTruncation(t *testing.T) {
	longRule := strings.Repeat("r", 300)
	raw := []byte(`[{"filePath": "a.ts", "messages": [{"ruleId": "` + longRule + `", "severity": 2, "line": 1, "column": 1, "message": "m"}]}]`)
	findings, err := ParseLintReport(raw, "", "")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Len(t, []rune(findings[0].Rule), maxRuleChars)
}

func TestTruncateRunesNeverSplitsCodepoint(t *testing.T) {
	s := strings.Repeat("日", 10)
	out, truncated := truncateRunes(s, 3)
	assert.True(t, truncated)
	assert.Equal(t, 3, len([]rune(out)))
	assert.True(t, len(out) > 0)
}
