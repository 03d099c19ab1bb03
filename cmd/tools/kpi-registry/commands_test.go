// cmd/tools/kpi-registry/commands_test.go
package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"readiness-workers/pkg/registry"
	"readiness-workers/pkg/registry/registrytest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// ==========================
// Test Helper Functions
// ==========================

var now = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func createWorkbook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	rows := [][]interface{}{
		{"Category", "Category Weight", "Sub-Category", "Sub-Category Weight", "KPI ID",
			"KPI / Input (Human Question Format)", "Type", "KPI Base Weight", "Universal/Conditional", "Scoring Logic"},
		{"Team", "1", "Commitment", "1", "fc_fulltime", "Is a founder full time?", "boolean", "1", "Universal",
			"G: eq true | R: eq false"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}

	path := filepath.Join(t.TempDir(), "framework.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

// ==========================
// Command Tests
// ==========================

func TestValidateCmd(t *testing.T) {
	path := writeFile(t, "framework.yaml", registrytest.Framework)

	out, err := run(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "framework test-1 is valid")
	assert.Contains(t, out, "fatal flags:  1")
}

func TestValidateCmd_RejectsInvalidDocument(t *testing.T) {
	path := writeFile(t, "broken.yaml", "framework_version: \"x\"\ncategories: []\n")

	_, err := run(t, "validate", path)
	assert.Error(t, err)
}

func TestValidateCmd_ShippedFramework(t *testing.T) {
	out, err := run(t, "validate", filepath.Join("..", "..", "..", "configs", "kpi-framework.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
}

func TestImportCmd(t *testing.T) {
	workbook := createWorkbook(t)
	outPath := filepath.Join(t.TempDir(), "framework.yaml")

	out, err := run(t, "import", workbook, "--framework-version", "2026.2", "--out", outPath)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote framework 2026.2 (1 kpis)")

	reg, err := registry.LoadFile(outPath)
	require.NoError(t, err)
	_, ok := reg.KPI("fc_fulltime")
	assert.True(t, ok)
}

func TestImportCmd_RequiresVersion(t *testing.T) {
	_, err := run(t, "import", createWorkbook(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--framework-version")
}

func TestApplicableCmd(t *testing.T) {
	path := writeFile(t, "framework.yaml", registrytest.Framework)

	tests := []struct {
		name        string
		args        []string
		contains    []string
		notContains []string
	}{
		{
			name:        "solo founder",
			args:        []string{"--solo"},
			contains:    []string{"+ fc_fulltime_founder", "+ fc_solo_commitment", "- fc_cofounder_equity excluded"},
			notContains: []string{"+ fc_cofounder_equity"},
		},
		{
			name:        "founding team",
			args:        nil,
			contains:    []string{"+ fc_cofounder_equity", "- fc_solo_commitment excluded"},
			notContains: []string{"+ fc_solo_commitment"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"applicable", "--registry", path, "--stage", "idea"}, tt.args...)
			out, err := run(t, args...)
			require.NoError(t, err)
			assert.Contains(t, out, "framework test-1")
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestApplicableCmd_UnknownStage(t *testing.T) {
	path := writeFile(t, "framework.yaml", registrytest.Framework)

	_, err := run(t, "applicable", "--registry", path, "--stage", "series_z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "series_z")
}

func TestScoreCmd_FatalFlag(t *testing.T) {
	path := writeFile(t, "framework.yaml", registrytest.Framework)
	answers := writeFile(t, "answers.json", `{
		"fc_fulltime_founder": false,
		"fc_solo_commitment": {"value": true, "evidenceType": "document_uploaded"},
		"pr_problem_validated": "pilots"
	}`)

	out, err := run(t, "score", "--registry", path, "--stage", "idea", "--solo", "--answers", answers)
	require.NoError(t, err)
	assert.Contains(t, out, "framework test-1")
	assert.Contains(t, out, "fatal flag ff_no_fulltime_founder (critical)")
}

func TestReadAnswers(t *testing.T) {
	path := writeFile(t, "answers.json", `{"a": 3, "b": {"value": "x", "evidenceType": "ca_verified"}, "c": null}`)

	responses, err := readAnswers(path, now)
	require.NoError(t, err)

	assert.Equal(t, 3.0, responses["a"].Value)
	assert.Equal(t, registry.EvidenceSelfReported, responses["a"].EvidenceType)
	assert.Equal(t, now, responses["a"].SubmittedAt)
	assert.Equal(t, "x", responses["b"].Value)
	assert.Equal(t, registry.EvidenceCAVerified, responses["b"].EvidenceType)
	assert.False(t, responses.Answered("c"))
}

func TestHistoryCmd(t *testing.T) {
	tests := []struct {
		name     string
		response string
		contains []string
	}{
		{
			name: "snapshots",
			response: `{"hits":{"hits":[
				{"_source":{"assessmentId":"a-2","score":712,"band":"good","frameworkVersion":"2026.1","publishedAt":"2026-06-02T10:00:00Z"}},
				{"_source":{"assessmentId":"a-1","score":540,"band":"fair","frameworkVersion":"2026.1","publishedAt":"2026-05-01T10:00:00Z","fatalFlags":["ff_runway_critical"]}}
			]}}`,
			contains: []string{
				"2026-06-02T10:00:00Z  712 (good)  framework 2026.1  assessment a-2",
				"fatal flag ff_runway_critical",
			},
		},
		{
			name:     "none published",
			response: `{"hits":{"hits":[]}}`,
			contains: []string{"no published snapshots for startup-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/snapshots/_search", r.URL.Path)
				w.Header().Set("X-Elastic-Product", "Elasticsearch")
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.response))
			}))
			defer server.Close()

			out, err := run(t, "history", "startup-1", "--es-address", server.URL, "--index", "snapshots")
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
		})
	}
}
