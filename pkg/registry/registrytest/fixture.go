// Package registrytest provides a small, valid KPI framework for tests.
package registrytest

import (
	"testing"

	"readiness-workers/pkg/registry"

	"github.com/stretchr/testify/require"
)

// Framework has two categories with team-only, solo-only, revenue and mvp
// gated KPIs, one skip_if rule, one fatal flag and one dependency rule.
const Framework = `
framework_version: "test-1"
categories:
  - id: founder_team
    name: Founder & Team
    weights: {idea: 0.5, mvp_no_traction: 0.5, mvp_early_traction: 0.5, growth: 0.5, scale: 0.5}
    sub_categories:
      - id: team
        name: Team
        weight: 1.0
        kpis:
          - id: fc_fulltime_founder
            question: Is at least one founder working full time?
            type: boolean
            base_weight: 0.4
            applicability: {universal: true}
            thresholds:
              default:
                - {band: green, when: {op: eq, value: true}}
                - {band: red, when: {op: eq, value: false}}
          - id: fc_solo_commitment
            question: Has the solo founder committed personal capital?
            type: boolean
            base_weight: 0.2
            applicability: {gates: [solo_only]}
            thresholds:
              default:
                - {band: green, when: {op: eq, value: true}}
                - {band: red, when: {op: eq, value: false}}
          - id: fc_cofounder_equity
            question: Smallest co-founder equity stake (percent)?
            type: number
            base_weight: 0.2
            range: {min: 0, max: 100}
            applicability: {gates: [team_only]}
            thresholds:
              default:
                - {band: green, when: {op: gte, value: 20}}
                - {band: yellow, when: {op: gte, value: 10}}
                - {band: red, when: {op: gte, value: 0}}
          - id: fc_cofounder_vesting
            question: Do co-founder shares vest?
            type: boolean
            base_weight: 0.2
            optional: true
            applicability: {gates: [team_only]}
            thresholds:
              default:
                - {band: green, when: {op: eq, value: true}}
                - {band: red, when: {op: eq, value: false}}
  - id: market_traction
    name: Market & Traction
    weights: {idea: 0.5, mvp_no_traction: 0.5, mvp_early_traction: 0.5, growth: 0.5, scale: 0.5}
    sub_categories:
      - id: revenue
        name: Revenue
        weight: 0.5
        kpis:
          - id: mt_mrr
            question: Monthly recurring revenue (USD)?
            type: number
            base_weight: 0.6
            range: {min: 0}
            stage_multipliers: {growth: 1.5, scale: 1.5}
            freshness: {class: default}
            applicability: {gates: [revenue_dependent]}
            thresholds:
              default:
                - {band: green, when: {op: gte, value: 10000}}
                - {band: yellow, when: {op: gte, value: 1000}}
                - {band: red, when: {op: gte, value: 0}}
          - id: mt_paying_customers
            question: Number of paying customers?
            type: number
            base_weight: 0.4
            range: {min: 0}
            applicability: {gates: [revenue_dependent]}
            thresholds:
              default:
                - {band: green, when: {op: gte, value: 10}}
                - {band: yellow, when: {op: gte, value: 3}}
                - {band: red, when: {op: gte, value: 0}}
      - id: product
        name: Product
        weight: 0.5
        kpis:
          - id: pr_mvp_live
            question: Is the MVP live with users?
            type: boolean
            base_weight: 0.5
            applicability: {min_stage: mvp_no_traction, gates: [mvp_dependent]}
            thresholds:
              default:
                - {band: green, when: {op: eq, value: true}}
                - {band: red, when: {op: eq, value: false}}
          - id: pr_problem_validated
            question: How has the problem been validated?
            type: enum
            base_weight: 0.3
            options: [none, interviews, pilots]
            applicability: {universal: true}
            thresholds:
              default:
                - {band: green, when: {op: eq, value: pilots}}
                - {band: yellow, when: {op: eq, value: interviews}}
                - {band: red, when: {op: eq, value: none}}
          - id: pr_validation_plan
            question: Is there a written plan to validate the problem?
            type: boolean
            base_weight: 0.2
            optional: true
            applicability:
              skip_if:
                - {kpi: pr_problem_validated, op: eq, value: pilots}
            thresholds:
              default:
                - {band: green, when: {op: eq, value: true}}
                - {band: red, when: {op: eq, value: false}}
fatal_flags:
  - id: ff_no_fulltime_founder
    kpi: fc_fulltime_founder
    trigger: {op: eq, value: false}
    target: {scope: overall}
    cap: 0.4
    severity: critical
    message: No founder is working full time; commit at least one founder full time.
dependencies:
  - id: dep_weak_team_limits_traction
    source:
      category: founder_team
      when: {op: lt, value: 0.3}
    target: {scope: category, id: market_traction}
    action: multiply
    value: 0.8
    reason: A weak founding team limits how much traction can be credited.
`

// MustLoad parses doc and fails the test on any error.
func MustLoad(t testing.TB, doc string) *registry.Registry {
	t.Helper()
	reg, err := registry.Load([]byte(doc), registry.FormatYAML)
	require.NoError(t, err)
	return reg
}

// Load parses the Framework fixture.
func Load(t testing.TB) *registry.Registry {
	t.Helper()
	return MustLoad(t, Framework)
}
