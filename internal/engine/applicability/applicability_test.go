// internal/engine/applicability/applicability_test.go
package applicability

import (
	"testing"

	"readiness-workers/internal/models"
	"readiness-workers/pkg/registry"
	"readiness-workers/pkg/registry/registrytest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func createSoloIdeaStartup() *models.Startup {
	return &models.Startup{
		ID:            "startup-1",
		OwnerID:       "owner-1",
		Stage:         registry.StageIdea,
		IsSoloFounder: true,
		HasRevenue:    false,
		HasMVP:        false,
	}
}

func answer(v interface{}) models.Response {
	return models.Response{Value: v, EvidenceType: registry.EvidenceSelfReported}
}

var teamOnly = []string{"fc_cofounder_equity", "fc_cofounder_vesting"}
var soloOnly = []string{"fc_solo_commitment"}

// ==========================
// Core Functionality Tests
// ==========================

func TestApplicableKPIs_SoloIdeaScenario(t *testing.T) {
	reg := registrytest.Load(t)
	startup := createSoloIdeaStartup()
	responses := models.Responses{"fc_fulltime_founder": answer(true)}

	set := ApplicableKPIs(reg, startup, responses)

	assert.Equal(t, []string{
		"fc_fulltime_founder",
		"fc_solo_commitment",
		"pr_problem_validated",
		"pr_validation_plan",
	}, set.IDs())
	for _, id := range []string{"fc_cofounder_equity", "fc_cofounder_vesting", "mt_mrr", "mt_paying_customers", "pr_mvp_live"} {
		assert.False(t, set.Contains(id), "%s should be excluded", id)
	}
}

func TestApplicableKPIs_RevenueToggleKeepsAnswers(t *testing.T) {
	reg := registrytest.Load(t)
	startup := createSoloIdeaStartup()
	responses := models.Responses{"fc_fulltime_founder": answer(true)}

	before := ApplicableKPIs(reg, startup, responses)

	startup.HasRevenue = true
	after := ApplicableKPIs(reg, startup, responses)

	assert.True(t, after.Contains("mt_mrr"))
	assert.True(t, after.Contains("mt_paying_customers"))
	for _, id := range before.IDs() {
		assert.True(t, after.Contains(id), "%s should stay applicable", id)
	}
	assert.True(t, responses.Answered("fc_fulltime_founder"))

	progress := Progress(reg, startup, responses)
	assert.Equal(t, 6, progress.Applicable)
	assert.Equal(t, 1, progress.Answered)
}

func TestApplicableKPIs_Idempotent(t *testing.T) {
	reg := registrytest.Load(t)
	startup := createSoloIdeaStartup()
	startup.HasRevenue = true
	responses := models.Responses{
		"fc_fulltime_founder":  answer(true),
		"pr_problem_validated": answer("pilots"),
	}

	first := ApplicableKPIs(reg, startup, responses)
	second := ApplicableKPIs(reg, startup, responses)
	assert.Equal(t, first.IDs(), second.IDs())
}

func TestApplicableKPIs_SoloToggleOnlyMovesTeamAndSoloKPIs(t *testing.T) {
	reg := registrytest.Load(t)

	for _, stage := range registry.Stages {
		team := &models.Startup{Stage: stage, IsSoloFounder: false, HasRevenue: true, HasMVP: true}
		solo := *team
		solo.IsSoloFounder = true

		teamSet := ApplicableKPIs(reg, team, nil)
		soloSet := ApplicableKPIs(reg, &solo, nil)

		for _, id := range teamOnly {
			assert.True(t, teamSet.Contains(id), "%s at %s", id, stage)
			assert.False(t, soloSet.Contains(id), "%s at %s", id, stage)
		}
		for _, id := range soloOnly {
			assert.False(t, teamSet.Contains(id), "%s at %s", id, stage)
			assert.True(t, soloSet.Contains(id), "%s at %s", id, stage)
		}

		moved := map[string]bool{}
		for _, id := range append(append([]string{}, teamOnly...), soloOnly...) {
			moved[id] = true
		}
		for _, k := range reg.KPIs() {
			if moved[k.ID] {
				continue
			}
			assert.Equal(t, teamSet.Contains(k.ID), soloSet.Contains(k.ID), "%s at %s", k.ID, stage)
		}
	}
}

func TestApplicableKPIs_StageGate(t *testing.T) {
	reg := registrytest.Load(t)
	startup := &models.Startup{Stage: registry.StageIdea, HasMVP: true}

	assert.False(t, ApplicableKPIs(reg, startup, nil).Contains("pr_mvp_live"))

	startup.Stage = registry.StageMVPNoTraction
	assert.True(t, ApplicableKPIs(reg, startup, nil).Contains("pr_mvp_live"))

	startup.Stage = registry.StageScale
	assert.True(t, ApplicableKPIs(reg, startup, nil).Contains("pr_mvp_live"))

	result := Evaluate(reg, startup, registry.StageIdea, nil)
	assert.Equal(t, "stage>=mvp_no_traction", result.Excluded["pr_mvp_live"])
	assert.Contains(t, result.Explain("pr_mvp_live"), "excluded")
	assert.Empty(t, result.Explain("fc_fulltime_founder"))
}

func TestApplicableKPIs_SkipIfFailsOpen(t *testing.T) {
	reg := registrytest.Load(t)
	startup := createSoloIdeaStartup()

	tests := []struct {
		name      string
		responses models.Responses
		want      bool
	}{
		{"referenced kpi unanswered", nil, true},
		{"skip condition not met", models.Responses{"pr_problem_validated": answer("interviews")}, true},
		{"skip condition met", models.Responses{"pr_problem_validated": answer("pilots")}, false},
		{"referenced value has wrong type", models.Responses{"pr_problem_validated": answer(3)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplicableKPIs(reg, startup, tt.responses).Contains("pr_validation_plan")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplicableKPIs_AnswerGateOnInapplicableReference(t *testing.T) {
	doc := `
framework_version: "gates"
categories:
  - id: c
    weights: {idea: 1, mvp_no_traction: 1, mvp_early_traction: 1, growth: 1, scale: 1}
    sub_categories:
      - id: s
        weight: 1
        kpis:
          - id: mrr
            type: number
            base_weight: 0.5
            applicability: {gates: [revenue_dependent]}
            thresholds:
              default:
                - {band: green, when: {op: gte, value: 1}}
          - id: churn
            type: number
            base_weight: 0.25
            applicability:
              requires:
                - {kpi: mrr, op: gt, value: 0}
            thresholds:
              default:
                - {band: green, when: {op: lt, value: 5}}
          - id: saas_nrr
            type: number
            base_weight: 0.25
            applicability:
              gates: [saas_only]
              when:
                - {attribute: has_mvp, op: eq, value: true}
            thresholds:
              default:
                - {band: green, when: {op: gte, value: 100}}
`
	reg := registrytest.MustLoad(t, doc)

	// mrr answered 0 but inapplicable: requires cannot be confirmed, so churn stays in.
	startup := &models.Startup{Stage: registry.StageIdea}
	responses := models.Responses{"mrr": answer(0)}
	assert.True(t, ApplicableKPIs(reg, startup, responses).Contains("churn"))

	startup.HasRevenue = true
	assert.False(t, ApplicableKPIs(reg, startup, responses).Contains("churn"))

	responses["mrr"] = answer(500)
	assert.True(t, ApplicableKPIs(reg, startup, responses).Contains("churn"))

	assert.False(t, ApplicableKPIs(reg, startup, nil).Contains("saas_nrr"))
	startup.BusinessModel = registry.BusinessModelSaaS
	assert.False(t, ApplicableKPIs(reg, startup, nil).Contains("saas_nrr"))
	startup.HasMVP = true
	assert.True(t, ApplicableKPIs(reg, startup, nil).Contains("saas_nrr"))

	for _, model := range []string{"SaaS", " SAAS ", "marketplace"} {
		startup.BusinessModel = model
		assert.Equal(t, model != "marketplace", ApplicableKPIs(reg, startup, nil).Contains("saas_nrr"), model)
	}
}

// ==========================
// Derived View Tests
// ==========================

func TestProgress(t *testing.T) {
	reg := registrytest.Load(t)
	startup := createSoloIdeaStartup()
	responses := models.Responses{
		"fc_fulltime_founder": answer(true),
		"mt_mrr":              answer(100),
	}

	report := Progress(reg, startup, responses)

	assert.Equal(t, 4, report.Applicable)
	assert.Equal(t, 1, report.Answered)
	assert.Equal(t, 25.0, report.Percent)
	require.Len(t, report.Categories, 2)
	assert.Equal(t, CategoryProgress{CategoryID: "founder_team", Applicable: 2, Answered: 1, Percent: 50}, report.Categories[0])
	assert.Equal(t, CategoryProgress{CategoryID: "market_traction", Applicable: 2, Answered: 0, Percent: 0}, report.Categories[1])
}

func TestProgress_RoundsToOneDecimal(t *testing.T) {
	reg := registrytest.Load(t)
	startup := &models.Startup{Stage: registry.StageIdea, IsSoloFounder: false}
	responses := models.Responses{"fc_fulltime_founder": answer(true)}

	report := Progress(reg, startup, responses)
	assert.Equal(t, 3, report.Categories[0].Applicable)
	assert.Equal(t, 33.3, report.Categories[0].Percent)
}

func TestNextUnanswered(t *testing.T) {
	reg := registrytest.Load(t)
	startup := createSoloIdeaStartup()
	responses := models.Responses{"fc_fulltime_founder": answer(true)}

	next := NextUnanswered(reg, startup, responses, 2)
	require.Len(t, next, 2)
	assert.Equal(t, "fc_solo_commitment", next[0].ID)
	assert.Equal(t, "pr_problem_validated", next[1].ID)

	assert.Len(t, NextUnanswered(reg, startup, responses, 0), 3)
}

func TestMissingRequired(t *testing.T) {
	reg := registrytest.Load(t)
	startup := createSoloIdeaStartup()
	result := Evaluate(reg, startup, startup.Stage, models.Responses{"fc_fulltime_founder": answer(true)})

	// pr_validation_plan is optional.
	assert.Equal(t, []string{"fc_solo_commitment", "pr_problem_validated"}, result.MissingRequired())
}

func TestMissingRequired_InvalidStoredValue(t *testing.T) {
	reg := registrytest.Load(t)
	startup := createSoloIdeaStartup()
	result := Evaluate(reg, startup, startup.Stage, models.Responses{
		"fc_fulltime_founder":  answer(true),
		"fc_solo_commitment":   answer("yes"),
		"pr_problem_validated": answer("not-an-option"),
	})

	assert.Equal(t, []string{"fc_solo_commitment", "pr_problem_validated"}, result.MissingRequired())
}

func TestSet_Sorted(t *testing.T) {
	reg := registrytest.Load(t)
	set := ApplicableKPIs(reg, createSoloIdeaStartup(), nil)
	assert.Equal(t, []string{"fc_fulltime_founder", "fc_solo_commitment", "pr_problem_validated", "pr_validation_plan"}, set.Sorted())
	assert.Equal(t, 4, set.Len())
}
