// pkg/registry/registry_test.go
package registry_test

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"readiness-workers/internal/common/errors"
	"readiness-workers/pkg/registry"
	"readiness-workers/pkg/registry/registrytest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func mutate(t *testing.T, old, new string) string {
	t.Helper()
	require.Contains(t, registrytest.Framework, old, "fixture no longer contains %q", old)
	return strings.Replace(registrytest.Framework, old, new, 1)
}

func loadErr(t *testing.T, doc string) *errors.StandardError {
	t.Helper()
	reg, err := registry.Load([]byte(doc), registry.FormatYAML)
	require.Error(t, err)
	assert.Nil(t, reg)
	stdErr, ok := errors.AsStandard(err)
	require.True(t, ok, "expected a StandardError, got %T", err)
	assert.Equal(t, errors.ErrCodeConfiguration, stdErr.Code)
	return stdErr
}

func singleSubFramework(kpis string) string {
	return `
framework_version: "mini"
categories:
  - id: only
    weights: {idea: 1, mvp_no_traction: 1, mvp_early_traction: 1, growth: 1, scale: 1}
    sub_categories:
      - id: only_sub
        weight: 1
        kpis:
` + kpis
}

func assertWeightsBalanced(t *testing.T, reg *registry.Registry) {
	t.Helper()
	tol := reg.WeightTolerance()
	for _, stage := range registry.Stages {
		sum := 0.0
		for _, cat := range reg.Categories() {
			sum += cat.WeightFor(stage)
			subSum := 0.0
			for _, sub := range cat.SubCategories {
				subSum += sub.WeightFor(stage)
			}
			assert.LessOrEqual(t, math.Abs(subSum-1), tol, "category %s at %s", cat.ID, stage)
		}
		assert.LessOrEqual(t, math.Abs(sum-1), tol, "stage %s", stage)
	}
}

// ==========================
// Load Tests
// ==========================

func TestLoad_ValidFramework(t *testing.T) {
	reg := registrytest.Load(t)

	assert.Equal(t, "test-1", reg.Version())
	assert.Len(t, reg.KPIs(), 9)
	assert.Len(t, reg.Categories(), 2)
	assert.Equal(t, registry.DefaultWeightTolerance, reg.WeightTolerance())
	assert.Equal(t, registry.ScoreRange{Min: 300, Max: 900}, reg.ScoreRange())

	mrr, ok := reg.KPI("mt_mrr")
	require.True(t, ok)
	assert.Equal(t, "market_traction", mrr.Category())
	assert.Equal(t, "revenue", mrr.SubCategory())
	assert.InDelta(t, 0.9, mrr.EffectiveWeight(registry.StageGrowth), 1e-9)
	assert.InDelta(t, 0.6, mrr.EffectiveWeight(registry.StageIdea), 1e-9)
	assert.InDelta(t, 0.005, mrr.Freshness.DecayRate(), 1e-12)

	sub, ok := reg.SubCategory("revenue")
	require.True(t, ok)
	assert.Equal(t, "market_traction", sub.Category())

	_, ok = reg.KPI("missing")
	assert.False(t, ok)

	flags := reg.FatalFlags()
	require.Len(t, flags, 1)
	assert.Equal(t, registry.SeverityCritical, flags[0].Severity)
	require.Len(t, reg.Dependencies(), 1)
}

func TestLoad_BandsSortedHighestFirst(t *testing.T) {
	doc := singleSubFramework(`
          - id: q
            type: number
            base_weight: 1
            thresholds:
              default:
                - {band: red, when: {op: lt, value: 10}}
                - {band: green, when: {op: gte, value: 50}}
                - {band: amber, score: 0.75, when: {op: gte, value: 30}}
                - {band: yellow, when: {op: gte, value: 10}}
`)
	reg := registrytest.MustLoad(t, doc)
	k, _ := reg.KPI("q")

	var names []string
	for _, b := range k.BandsFor(registry.StageScale) {
		names = append(names, b.Band)
	}
	assert.Equal(t, []string{"green", "amber", "yellow", "red"}, names)
	assert.Equal(t, 1.0, k.TopScore(registry.StageIdea))
}

func TestLoad_BandTiesKeepDocumentOrder(t *testing.T) {
	reg := registrytest.MustLoad(t, singleSubFramework(`
          - id: q
            type: number
            base_weight: 1
            thresholds:
              default:
                - {band: red, when: {op: lt, value: 10}}
                - {band: lime, score: 1, when: {op: gte, value: 80}}
                - {band: green, when: {op: gte, value: 50}}
`))
	k, _ := reg.KPI("q")

	var names []string
	for _, b := range k.BandsFor(registry.StageIdea) {
		names = append(names, b.Band)
	}
	assert.Equal(t, []string{"lime", "green", "red"}, names)
}

func TestLoad_StageSpecificThresholds(t *testing.T) {
	doc := singleSubFramework(`
          - id: q
            type: number
            base_weight: 1
            thresholds:
              default:
                - {band: green, when: {op: gte, value: 10}}
                - {band: red, when: {op: lt, value: 10}}
              growth:
                - {band: green, when: {op: gte, value: 100}}
                - {band: red, when: {op: lt, value: 100}}
`)
	reg := registrytest.MustLoad(t, doc)
	k, _ := reg.KPI("q")

	assert.Equal(t, 10, int(mustFloat(t, k.BandsFor(registry.StageIdea)[0].When.Value)))
	assert.Equal(t, 100, int(mustFloat(t, k.BandsFor(registry.StageGrowth)[0].When.Value)))
}

func TestLoad_CompilesConditions(t *testing.T) {
	reg := registrytest.Load(t)

	mvp, _ := reg.KPI("pr_mvp_live")
	conds := mvp.Conditions()
	require.Len(t, conds, 2)
	assert.Equal(t, registry.ConditionStage, conds[0].Kind)
	assert.Equal(t, registry.StageMVPNoTraction, conds[0].MinStage)
	assert.Equal(t, registry.ConditionAttribute, conds[1].Kind)
	assert.Equal(t, registry.AttrHasMVP, conds[1].Attribute)
	assert.Equal(t, "mvp_dependent", conds[1].Source)

	plan, _ := reg.KPI("pr_validation_plan")
	require.Len(t, plan.Conditions(), 1)
	assert.True(t, plan.Conditions()[0].Skip)
	assert.Equal(t, "pr_problem_validated", plan.Conditions()[0].KPI)

	founder, _ := reg.KPI("fc_fulltime_founder")
	assert.Empty(t, founder.Conditions())
}

func TestLoad_FoldsBusinessModelRules(t *testing.T) {
	reg := registrytest.MustLoad(t, singleSubFramework(`
          - id: q
            type: boolean
            base_weight: 1
            applicability:
              when:
                - {attribute: business_model, op: in, values: [SaaS, " Marketplace"]}
            thresholds:
              default:
                - {band: green, when: {op: eq, value: true}}
`))
	k, _ := reg.KPI("q")
	require.Len(t, k.Conditions(), 1)
	assert.Equal(t, []interface{}{"saas", "marketplace"}, k.Conditions()[0].Compare.Values)
}

func TestLoad_EvaluationOrderFollowsAnswerReferences(t *testing.T) {
	doc := singleSubFramework(`
          - id: a
            type: boolean
            base_weight: 0.5
            applicability:
              skip_if:
                - {kpi: b, op: eq, value: true}
            thresholds:
              default:
                - {band: green, when: {op: eq, value: true}}
          - id: b
            type: boolean
            base_weight: 0.5
            thresholds:
              default:
                - {band: green, when: {op: eq, value: true}}
`)
	reg := registrytest.MustLoad(t, doc)

	var order []string
	for _, k := range reg.EvaluationOrder() {
		order = append(order, k.ID)
	}
	assert.Equal(t, []string{"b", "a"}, order)

	var docOrder []string
	for _, k := range reg.KPIs() {
		docOrder = append(docOrder, k.ID)
	}
	assert.Equal(t, []string{"a", "b"}, docOrder)
}

func TestLoad_JSONDocument(t *testing.T) {
	doc := `{
  "framework_version": "json-1",
  "score_range": {"min": 0, "max": 1000},
  "score_bands": [{"band": "low", "max": 499}, {"band": "high"}],
  "categories": [{
    "id": "c",
    "weights": {"idea": 1, "mvp_no_traction": 1, "mvp_early_traction": 1, "growth": 1, "scale": 1},
    "sub_categories": [{
      "id": "s",
      "weight": 1,
      "kpis": [{
        "id": "k",
        "type": "enum",
        "base_weight": 1,
        "options": ["a", "b"],
        "thresholds": {"default": [
          {"band": "green", "when": {"op": "eq", "value": "a"}},
          {"band": "red", "when": {"op": "in", "values": ["b"]}}
        ]}
      }]
    }]
  }]
}`
	reg, err := registry.Load([]byte(doc), registry.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "json-1", reg.Version())
	assert.Equal(t, "low", reg.Classify(499))
	assert.Equal(t, "high", reg.Classify(500))
}

// ==========================
// Validation Failure Tests
// ==========================

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		old  string
		new  string
		want string
	}{
		{
			name: "kpi weights do not sum to one",
			old:  "base_weight: 0.6",
			new:  "base_weight: 0.7",
			want: "kpi base weights of sub-category revenue",
		},
		{
			name: "category weights do not sum to one",
			old:  "weights: {idea: 0.5, mvp_no_traction: 0.5",
			new:  "weights: {idea: 0.6, mvp_no_traction: 0.5",
			want: "category weights at stage idea",
		},
		{
			name: "sub-category weights do not sum to one",
			old:  "name: Product\n        weight: 0.5",
			new:  "name: Product\n        weight: 0.4",
			want: "sub-category weights of category market_traction",
		},
		{
			name: "duplicate kpi id",
			old:  "id: fc_solo_commitment",
			new:  "id: fc_fulltime_founder",
			want: "kpi fc_fulltime_founder: duplicate id",
		},
		{
			name: "dangling answer reference",
			old:  "{kpi: pr_problem_validated, op: eq, value: pilots}",
			new:  "{kpi: pr_unknown, op: eq, value: pilots}",
			want: `references undefined kpi "pr_unknown"`,
		},
		{
			name: "unknown startup attribute",
			old:  "{min_stage: mvp_no_traction, gates: [mvp_dependent]}",
			new:  "{min_stage: mvp_no_traction, gates: [mvp_dependent], when: [{attribute: headcount, op: gt, value: 3}]}",
			want: `unknown startup attribute "headcount"`,
		},
		{
			name: "stage without thresholds",
			old:  "applicability: {min_stage: mvp_no_traction, gates: [mvp_dependent]}\n            thresholds:\n              default:",
			new:  "applicability: {min_stage: mvp_no_traction, gates: [mvp_dependent]}\n            thresholds:\n              idea:",
			want: "kpi pr_mvp_live thresholds: no default and no bands for stages mvp_no_traction, mvp_early_traction, growth, scale",
		},
		{
			name: "enum band value is not an option",
			old:  "{band: yellow, when: {op: eq, value: interviews}}",
			new:  "{band: yellow, when: {op: eq, value: surveys}}",
			want: `value "surveys" is not a declared option`,
		},
		{
			name: "answer references form a cycle",
			old:  "options: [none, interviews, pilots]\n            applicability: {universal: true}",
			new:  "options: [none, interviews, pilots]\n            applicability:\n              requires:\n                - {kpi: pr_validation_plan, op: eq, value: true}",
			want: "form a cycle among pr_problem_validated, pr_validation_plan",
		},
		{
			name: "fatal flag targets undefined category",
			old:  "target: {scope: overall}",
			new:  "target: {scope: category, id: nope}",
			want: `target references undefined category "nope"`,
		},
		{
			name: "fatal flag trigger type mismatch",
			old:  "trigger: {op: eq, value: false}",
			new:  `trigger: {op: eq, value: "no"}`,
			want: "boolean comparison needs a true/false value",
		},
		{
			name: "dependency on undefined category",
			old:  "category: founder_team\n      when:",
			new:  "category: team_quality\n      when:",
			want: `source references undefined category "team_quality"`,
		},
		{
			name: "score bands not ascending",
			old:  `framework_version: "test-1"`,
			new:  "framework_version: \"test-1\"\nscore_bands:\n  - {band: a, max: 500}\n  - {band: b, max: 400}\n  - {band: c}",
			want: "score band b: cutoff 400 is not ascending",
		},
		{
			name: "composite field undeclared",
			old:  "trigger: {op: eq, value: false}",
			new:  "trigger: {field: hours, op: eq, value: false}",
			want: `field "hours" used on non-composite value`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdErr := loadErr(t, mutate(t, tt.old, tt.new))
			assert.Contains(t, stdErr.Details, tt.want)
		})
	}
}

func TestLoad_SchemaViolation(t *testing.T) {
	stdErr := loadErr(t, mutate(t, "type: enum", "type: multiple_choice"))
	assert.Contains(t, stdErr.Details, "schema:")
}

func TestLoad_MalformedDocument(t *testing.T) {
	stdErr := loadErr(t, "categories: [unterminated")
	assert.Equal(t, errors.ErrCodeConfiguration, stdErr.Code)
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	doc := strings.Replace(registrytest.Framework, "base_weight: 0.6", "base_weight: 0.7", 1)
	doc = strings.Replace(doc, "id: fc_solo_commitment", "id: fc_fulltime_founder", 1)

	stdErr := loadErr(t, doc)
	problems, ok := stdErr.Metadata["problems"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(problems), 2)
}

// ==========================
// Property Tests
// ==========================

func TestValidRegistries_WeightsSumToOne(t *testing.T) {
	assertWeightsBalanced(t, registrytest.Load(t))

	shipped, err := registry.LoadFile(filepath.Join("..", "..", "configs", "kpi-framework.yaml"))
	require.NoError(t, err)
	assertWeightsBalanced(t, shipped)
}

func TestClassify(t *testing.T) {
	reg := registrytest.Load(t)

	tests := []struct {
		score int
		want  string
	}{
		{300, "critical"},
		{400, "critical"},
		{401, "poor"},
		{550, "poor"},
		{680, "fair"},
		{800, "good"},
		{801, "excellent"},
		{900, "excellent"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reg.Classify(tt.score), "score %d", tt.score)
	}
}

// ==========================
// Store Tests
// ==========================

func TestStore_SwapAndReload(t *testing.T) {
	first := registrytest.Load(t)
	store := registry.NewStore(first)
	assert.Same(t, first, store.Current())

	dir := t.TempDir()
	path := filepath.Join(dir, "framework.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(registrytest.Framework, "test-1", "test-2", 1)), 0o600))

	reloaded, err := store.Reload(path)
	require.NoError(t, err)
	assert.Equal(t, "test-2", reloaded.Version())
	assert.Same(t, reloaded, store.Current())

	require.NoError(t, os.WriteFile(path, []byte("framework_version: broken\n"), 0o600))
	_, err = store.Reload(path)
	require.Error(t, err)
	assert.Same(t, reloaded, store.Current(), "failed reload must keep the current snapshot")

	prev := store.Swap(first)
	assert.Same(t, reloaded, prev)
	assert.Same(t, first, store.Current())
}

func TestStore_ReloadMissingFile(t *testing.T) {
	store := registry.NewStore(registrytest.Load(t))
	_, err := store.Reload(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, registry.FormatJSON, registry.FormatFromPath("a/b.JSON"))
	assert.Equal(t, registry.FormatYAML, registry.FormatFromPath("a/b.yml"))
	assert.Equal(t, registry.FormatYAML, registry.FormatFromPath("framework"))
}

func mustFloat(t *testing.T, v interface{}) float64 {
	t.Helper()
	f, ok := registry.ToFloat(v)
	require.True(t, ok)
	return f
}
