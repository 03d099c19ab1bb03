// internal/importer/workbook_test.go
package importer

import (
	"bytes"
	"testing"

	"readiness-workers/internal/common/errors"
	"readiness-workers/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// ==========================
// Test Helper Functions
// ==========================

var header = []interface{}{
	"Category", "Category Weight", "Sub-Category", "Sub-Category Weight", "KPI ID",
	"KPI / Input (Human Question Format)", "Type", "Options", "Range", "KPI Base Weight",
	"Optional", "Stage Multipliers", "Universal/Conditional", "Skip Condition",
	"Scoring Logic", "Scoring Logic (growth)", "Confidence Scoring Method",
	"Fatal Flag", "Fatal Flag Trigger Condition", "Fatal Flag Cap",
}

func validRows() [][]interface{} {
	return [][]interface{}{
		{"Founder & Team", "0.6", "Commitment", "1", "fc_fulltime", "Is a founder full time?", "Boolean",
			"", "", "0.7", "", "", "Universal Core", "",
			"G: eq true | R: eq false", "", "Self-reported: 0.6 | Document upload: 1.0",
			"YES", "eq false", "0.4"},
		{"Founder & Team", "", "Commitment", "", "fc_equity", "Smallest co-founder stake?", "number",
			"", "0..100", "0.3", "", "", "team_only", "",
			"G: gte 20 | Y: gte 10 | R: gte 0", "", "",
			"NO", "", ""},
		{"Market", "0.4", "Validation", "1", "pr_problem", "How was the problem validated?", "enum",
			"none, interviews, pilots", "", "0.6", "", "growth: 1.5", "Universal", "",
			"G: eq pilots | Y: eq interviews | R: eq none", "green: eq pilots | red: in none, interviews", "",
			"", "", ""},
		{},
		{"Market", "", "Validation", "", "pr_plan", "Is there a validation plan?", "boolean",
			"", "", "0.4", "yes", "", "", "pr_problem eq pilots",
			"G: eq true | R: eq false", "", "",
			"", "", ""},
	}
}

func createWorkbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

// ==========================
// Conversion Tests
// ==========================

func TestReadWorkbook_BuildsDocument(t *testing.T) {
	doc, err := ReadWorkbook(createWorkbook(t, validRows()), Options{FrameworkVersion: "2026.1"})
	require.NoError(t, err)

	require.Len(t, doc.Categories, 2)
	team := doc.Categories[0]
	assert.Equal(t, "founder_and_team", team.ID)
	assert.Equal(t, "Founder & Team", team.Name)
	assert.Equal(t, 0.6, team.Weights[registry.StageScale])
	require.Len(t, team.SubCategories, 1)
	require.Len(t, team.SubCategories[0].KPIs, 2)

	fulltime := team.SubCategories[0].KPIs[0]
	assert.Equal(t, registry.TypeBoolean, fulltime.Type)
	assert.True(t, fulltime.Applicability.Universal)
	assert.Equal(t, 0.6, fulltime.Confidence[registry.EvidenceSelfReported])
	require.Len(t, fulltime.Thresholds["default"], 2)
	assert.Equal(t, "green", fulltime.Thresholds["default"][0].Band)
	assert.Equal(t, true, fulltime.Thresholds["default"][0].When.Value)

	equity := team.SubCategories[0].KPIs[1]
	assert.Equal(t, []string{"team_only"}, equity.Applicability.Gates)
	assert.False(t, equity.Applicability.Universal)
	require.NotNil(t, equity.Range)
	assert.Equal(t, 100.0, *equity.Range.Max)

	problem := doc.Categories[1].SubCategories[0].KPIs[0]
	assert.Equal(t, []string{"none", "interviews", "pilots"}, problem.Options)
	assert.Equal(t, 1.5, problem.StageMultipliers[registry.StageGrowth])
	require.Len(t, problem.Thresholds["growth"], 2)
	assert.Equal(t, []interface{}{"none", "interviews"}, problem.Thresholds["growth"][1].When.Values)

	plan := doc.Categories[1].SubCategories[0].KPIs[1]
	assert.True(t, plan.Optional)
	require.Len(t, plan.Applicability.SkipIf, 1)
	assert.Equal(t, "pr_problem", plan.Applicability.SkipIf[0].KPI)

	require.Len(t, doc.FatalFlags, 1)
	assert.Equal(t, "ff_fc_fulltime", doc.FatalFlags[0].ID)
	assert.Equal(t, 0.4, *doc.FatalFlags[0].Cap)
}

func TestReadWorkbook_YAMLLoadsAsRegistry(t *testing.T) {
	doc, err := ReadWorkbook(createWorkbook(t, validRows()), Options{FrameworkVersion: "2026.1"})
	require.NoError(t, err)

	out, err := ToYAML(doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), "framework_version: \"2026.1\"")

	reg, err := registry.Load(out, registry.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "2026.1", reg.Version())
	assert.Len(t, reg.KPIs(), 4)
	_, ok := reg.KPI("pr_plan")
	assert.True(t, ok)
}

func TestReadWorkbook_ReportsEveryBadRow(t *testing.T) {
	rows := validRows()
	rows[0][9] = "heavy"
	rows[1][14] = "G gte 20"
	rows[2][11] = "series_z: 2"

	_, err := ReadWorkbook(createWorkbook(t, rows), Options{})
	require.Error(t, err)

	stdErr, ok := errors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeConfiguration, stdErr.Code)
	assert.Contains(t, stdErr.Details, `row 2: fc_fulltime: base weight "heavy" is not a number`)
	assert.Contains(t, stdErr.Details, "row 3: fc_equity: scoring logic (default)")
	assert.Contains(t, stdErr.Details, `row 4: pr_problem: stage multipliers: unknown stage "series_z"`)
}

func TestReadWorkbook_MissingColumns(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Category", "KPI ID"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"Team", "k1"}))

	_, err := FromFile(f, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing columns: sub-category, type, kpi base weight, scoring logic")
}

// ==========================
// Parsing Tests
// ==========================

func TestComparison(t *testing.T) {
	tests := []struct {
		raw     string
		want    registry.Comparison
		wantErr bool
	}{
		{raw: "eq true", want: registry.Comparison{Op: registry.OpEq, Value: true}},
		{raw: "gte 10000", want: registry.Comparison{Op: registry.OpGte, Value: 10000.0}},
		{raw: "eq early adopters", want: registry.Comparison{Op: registry.OpEq, Value: "early adopters"}},
		{raw: "in a, b", want: registry.Comparison{Op: registry.OpIn, Values: []interface{}{"a", "b"}}},
		{raw: "about 3", wantErr: true},
		{raw: "eq", wantErr: true},
		{raw: "between 1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := comparison(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	between, err := comparison("between 1 5")
	require.NoError(t, err)
	assert.Equal(t, 1.0, *between.Min)
	assert.Equal(t, 5.0, *between.Max)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "founder_and_team", Slug("Founder & Team"))
	assert.Equal(t, "go_to_market", Slug("  Go-to-Market "))
	assert.Equal(t, "unit_economics_2", Slug("Unit Economics (2)"))
}
