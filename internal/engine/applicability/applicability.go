// Package applicability decides which KPIs are in scope for a startup given its
// attributes, stage and current answers. Evaluation is pure and keeps no state
// between calls.
package applicability

import (
	"fmt"
	"math"
	"sort"

	"readiness-workers/internal/models"
	"readiness-workers/pkg/registry"
)

// Set is an ordered set of KPI ids in registry document order.
type Set struct {
	ids     []string
	members map[string]bool
}

func newSet() Set {
	return Set{members: map[string]bool{}}
}

func (s Set) Contains(id string) bool { return s.members[id] }
func (s Set) Len() int                { return len(s.ids) }

// IDs returns the members in registry document order.
func (s Set) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := s.IDs()
	sort.Strings(out)
	return out
}

// Result is the outcome of one evaluation pass.
type Result struct {
	Applicable Set
	// Excluded maps each out-of-scope KPI to the first condition that failed.
	Excluded map[string]string

	reg       *registry.Registry
	responses models.Responses
}

// Evaluate runs the applicability interpreter over every KPI. Answer
// conditions are resolved against KPIs evaluated earlier, so the registry's
// evaluation order is used.
func Evaluate(reg *registry.Registry, startup *models.Startup, stage registry.Stage, responses models.Responses) *Result {
	if startup == nil {
		startup = &models.Startup{}
	}

	applicable := make(map[string]bool, len(reg.KPIs()))
	excluded := map[string]string{}
	for _, k := range reg.EvaluationOrder() {
		ok, failed := evaluateKPI(k, startup, stage, responses, applicable)
		applicable[k.ID] = ok
		if !ok {
			excluded[k.ID] = failed
		}
	}

	set := newSet()
	for _, k := range reg.KPIs() {
		if applicable[k.ID] {
			set.ids = append(set.ids, k.ID)
			set.members[k.ID] = true
		}
	}
	return &Result{Applicable: set, Excluded: excluded, reg: reg, responses: responses}
}

// ApplicableKPIs evaluates at the startup's own stage.
func ApplicableKPIs(reg *registry.Registry, startup *models.Startup, responses models.Responses) Set {
	return Evaluate(reg, startup, stageOf(startup), responses).Applicable
}

func stageOf(s *models.Startup) registry.Stage {
	if s == nil {
		return ""
	}
	return s.Stage
}

func evaluateKPI(k *registry.KPI, startup *models.Startup, stage registry.Stage, responses models.Responses, applicable map[string]bool) (bool, string) {
	for _, c := range k.Conditions() {
		if !holds(c, startup, stage, responses, applicable) {
			return false, c.String()
		}
	}
	return true, ""
}

func holds(c registry.Condition, startup *models.Startup, stage registry.Stage, responses models.Responses, applicable map[string]bool) bool {
	switch c.Kind {
	case registry.ConditionStage:
		return stage.Valid() && stage.AtLeast(c.MinStage)

	case registry.ConditionAttribute:
		v, ok := startup.Attribute(c.Attribute)
		if !ok {
			return false
		}
		matched, err := c.Compare.Match(v)
		return err == nil && matched

	case registry.ConditionAnswer:
		// Fail open: a precondition that cannot be confirmed does not exclude.
		if !applicable[c.KPI] || !responses.Answered(c.KPI) {
			return true
		}
		matched, err := c.Compare.Match(responses[c.KPI].Value)
		if err != nil {
			return true
		}
		if c.Skip {
			return !matched
		}
		return matched
	}
	return false
}

// CategoryProgress counts answered applicable KPIs within one category.
type CategoryProgress struct {
	CategoryID string  `json:"categoryId"`
	Applicable int     `json:"applicable"`
	Answered   int     `json:"answered"`
	Percent    float64 `json:"percent"`
}

// ProgressReport is answered ∩ applicable over applicable, overall and per category.
type ProgressReport struct {
	Applicable int                `json:"applicable"`
	Answered   int                `json:"answered"`
	Percent    float64            `json:"percent"`
	Categories []CategoryProgress `json:"categories"`
}

// Progress reports completion against the evaluated applicable set.
func (r *Result) Progress() ProgressReport {
	var report ProgressReport
	for _, cat := range r.reg.Categories() {
		cp := CategoryProgress{CategoryID: cat.ID}
		for _, sub := range cat.SubCategories {
			for _, k := range sub.KPIs {
				if !r.Applicable.Contains(k.ID) {
					continue
				}
				cp.Applicable++
				if r.responses.Answered(k.ID) {
					cp.Answered++
				}
			}
		}
		cp.Percent = percent(cp.Answered, cp.Applicable)
		report.Applicable += cp.Applicable
		report.Answered += cp.Answered
		report.Categories = append(report.Categories, cp)
	}
	report.Percent = percent(report.Answered, report.Applicable)
	return report
}

// NextUnanswered returns up to n applicable, unanswered KPIs in document order.
// n <= 0 returns all of them.
func (r *Result) NextUnanswered(n int) []*registry.KPI {
	var out []*registry.KPI
	for _, id := range r.Applicable.ids {
		if r.responses.Answered(id) {
			continue
		}
		k, _ := r.reg.KPI(id)
		out = append(out, k)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}

// MissingRequired lists applicable, non-optional KPIs without a valid answer.
// A stored value that no longer passes the KPI's type check counts as missing.
func (r *Result) MissingRequired() []string {
	var missing []string
	for _, id := range r.Applicable.ids {
		k, _ := r.reg.KPI(id)
		if !k.Required() {
			continue
		}
		if !r.responses.Answered(id) || k.ValidateValue(r.responses[id].Value) != nil {
			missing = append(missing, id)
		}
	}
	return missing
}

// Progress evaluates at the startup's stage and reports completion.
func Progress(reg *registry.Registry, startup *models.Startup, responses models.Responses) ProgressReport {
	return Evaluate(reg, startup, stageOf(startup), responses).Progress()
}

// NextUnanswered evaluates at the startup's stage and returns the next n questions.
func NextUnanswered(reg *registry.Registry, startup *models.Startup, responses models.Responses, n int) []*registry.KPI {
	return Evaluate(reg, startup, stageOf(startup), responses).NextUnanswered(n)
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*1000) / 10
}

// Explain renders the exclusion reason for id, or "" when it is applicable.
func (r *Result) Explain(id string) string {
	if reason, ok := r.Excluded[id]; ok {
		return fmt.Sprintf("%s excluded: %s", id, reason)
	}
	return ""
}
