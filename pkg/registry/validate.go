// pkg/registry/validate.go
package registry

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type validator struct {
	reg      *Registry
	problems []string
}

func (v *validator) addf(format string, args ...interface{}) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

// index assigns ownership, builds lookup maps and reports duplicate ids.
func (v *validator) index() {
	r := v.reg
	for _, cat := range r.doc.Categories {
		if _, dup := r.categories[cat.ID]; dup {
			v.addf("category %s: duplicate id", cat.ID)
			continue
		}
		r.categories[cat.ID] = cat

		for _, sub := range cat.SubCategories {
			if _, dup := r.subCategories[sub.ID]; dup {
				v.addf("sub-category %s: duplicate id", sub.ID)
				continue
			}
			sub.category = cat.ID
			r.subCategories[sub.ID] = sub

			for _, k := range sub.KPIs {
				if _, dup := r.kpis[k.ID]; dup {
					v.addf("kpi %s: duplicate id", k.ID)
					continue
				}
				k.subCategory = sub.ID
				k.category = cat.ID
				r.kpis[k.ID] = k
				r.kpiOrder = append(r.kpiOrder, k)
			}
		}
	}

	ruleIDs := map[string]bool{}
	for _, f := range r.doc.FatalFlags {
		if ruleIDs[f.ID] {
			v.addf("fatal flag %s: duplicate rule id", f.ID)
		}
		ruleIDs[f.ID] = true
	}
	for _, d := range r.doc.Dependencies {
		if ruleIDs[d.ID] {
			v.addf("dependency %s: duplicate rule id", d.ID)
		}
		ruleIDs[d.ID] = true
	}
}

func (v *validator) validate() {
	v.validateScoreScale()
	v.validateWeights()
	for _, k := range v.reg.kpiOrder {
		v.validateKPI(k)
	}
	v.validateFatalFlags()
	v.validateDependencies()
	v.orderEvaluation()
}

func (v *validator) near(sum float64) bool {
	return math.Abs(sum-1.0) <= v.reg.tolerance
}

func (v *validator) validateWeights() {
	r := v.reg
	for _, stage := range Stages {
		sum := 0.0
		for _, cat := range r.doc.Categories {
			sum += cat.WeightFor(stage)
		}
		if !v.near(sum) {
			v.addf("category weights at stage %s: sum %.4f, want 1.0 ± %.4f", stage, sum, r.tolerance)
		}
	}

	for _, cat := range r.doc.Categories {
		for stage := range cat.Weights {
			if !stage.Valid() {
				v.addf("category %s: unknown stage %q in weights", cat.ID, stage)
			}
		}
		for _, sub := range cat.SubCategories {
			if sub.Weight == nil && len(sub.Weights) == 0 {
				v.addf("sub-category %s: declares no weight", sub.ID)
			}
		}
		for _, stage := range Stages {
			sum := 0.0
			for _, sub := range cat.SubCategories {
				sum += sub.WeightFor(stage)
			}
			if !v.near(sum) {
				v.addf("sub-category weights of category %s at stage %s: sum %.4f, want 1.0 ± %.4f", cat.ID, stage, sum, r.tolerance)
			}
		}
		for _, sub := range cat.SubCategories {
			sum := 0.0
			for _, k := range sub.KPIs {
				sum += k.BaseWeight
			}
			if !v.near(sum) {
				v.addf("kpi base weights of sub-category %s: sum %.4f, want 1.0 ± %.4f", sub.ID, sum, r.tolerance)
			}
		}
	}
}

func (v *validator) validateScoreScale() {
	r := v.reg
	if r.scoreRange.Min >= r.scoreRange.Max {
		v.addf("score range: min %d must be below max %d", r.scoreRange.Min, r.scoreRange.Max)
	}

	prev := r.scoreRange.Min - 1
	for i, b := range r.scoreBands {
		last := i == len(r.scoreBands)-1
		if b.Max == nil {
			if !last {
				v.addf("score band %s: only the last band may omit max", b.Band)
			}
			continue
		}
		if *b.Max <= prev {
			v.addf("score band %s: cutoff %d is not ascending", b.Band, *b.Max)
		}
		prev = *b.Max
		if last && *b.Max < r.scoreRange.Max {
			v.addf("score band %s: last cutoff %d leaves scores up to %d unclassified", b.Band, *b.Max, r.scoreRange.Max)
		}
	}
}

func (v *validator) validateKPI(k *KPI) {
	where := "kpi " + k.ID

	if !k.Type.Valid() {
		v.addf("%s: unknown type %q", where, k.Type)
		return
	}
	switch k.Type {
	case TypeEnum:
		if len(k.Options) == 0 {
			v.addf("%s: enum requires options", where)
		}
	case TypeComposite:
		if len(k.Fields) == 0 {
			v.addf("%s: composite requires fields", where)
		}
		for _, f := range k.Fields {
			if f.Type == TypeComposite || !f.Type.Valid() {
				v.addf("%s: field %s has unsupported type %q", where, f.Name, f.Type)
			}
			if f.Type == TypeEnum && len(f.Options) == 0 {
				v.addf("%s: enum field %s requires options", where, f.Name)
			}
		}
	}
	if k.Range != nil && k.Range.Min != nil && k.Range.Max != nil && *k.Range.Min > *k.Range.Max {
		v.addf("%s: range min exceeds max", where)
	}

	stages := make([]string, 0, len(k.StageMultipliers))
	for stage := range k.StageMultipliers {
		stages = append(stages, string(stage))
	}
	sort.Strings(stages)
	for _, name := range stages {
		stage := Stage(name)
		if !stage.Valid() {
			v.addf("%s: unknown stage %q in stage_multipliers", where, stage)
		}
		if k.StageMultipliers[stage] < 0 {
			v.addf("%s: negative stage multiplier at %s", where, stage)
		}
	}

	evidence := make([]string, 0, len(k.Confidence))
	for e := range k.Confidence {
		evidence = append(evidence, string(e))
	}
	sort.Strings(evidence)
	for _, name := range evidence {
		e := EvidenceType(name)
		if !e.Valid() {
			v.addf("%s: unknown evidence type %q", where, e)
		}
		if c := k.Confidence[e]; c < 0 || c > 1 {
			v.addf("%s: confidence for %s must be within [0,1]", where, e)
		}
	}
	if k.Freshness != nil {
		if k.Freshness.Lambda != nil && *k.Freshness.Lambda < 0 {
			v.addf("%s: negative decay lambda", where)
		}
		if k.Freshness.Class != "" {
			if _, ok := DecayClasses[k.Freshness.Class]; !ok {
				v.addf("%s: unknown freshness class %q", where, k.Freshness.Class)
			}
		}
	}

	v.validateApplicability(k)
	v.validateThresholds(k)
}

func (v *validator) validateApplicability(k *KPI) {
	where := "kpi " + k.ID + " applicability"
	a := k.Applicability

	if a.MinStage != "" && !a.MinStage.Valid() {
		v.addf("%s: unknown min_stage %q", where, a.MinStage)
	}
	for _, g := range a.Gates {
		if _, ok := gateConditions[g]; !ok {
			v.addf("%s: unknown gate %q", where, g)
		}
	}
	for _, rule := range a.When {
		t, ok := Attributes[rule.Attribute]
		if !ok {
			v.addf("%s: unknown startup attribute %q", where, rule.Attribute)
			continue
		}
		v.validateComparison(rule.Comparison, t, nil, nil, fmt.Sprintf("%s: %s", where, rule.Attribute))
	}
	for _, rule := range append(append([]AnswerRule{}, a.Requires...), a.SkipIf...) {
		ref, ok := v.reg.kpis[rule.KPI]
		if !ok {
			v.addf("%s: references undefined kpi %q", where, rule.KPI)
			continue
		}
		v.validateComparison(rule.Comparison, ref.Type, ref.Options, ref.Fields, fmt.Sprintf("%s: %s", where, rule.KPI))
	}
}

func (v *validator) validateThresholds(k *KPI) {
	where := "kpi " + k.ID + " thresholds"

	if _, ok := k.Thresholds[DefaultThresholdKey]; !ok {
		var missing []string
		for _, s := range Stages {
			if _, ok := k.Thresholds[string(s)]; !ok {
				missing = append(missing, string(s))
			}
		}
		if len(missing) > 0 {
			v.addf("%s: no default and no bands for stages %s", where, strings.Join(missing, ", "))
		}
	}

	keys := make([]string, 0, len(k.Thresholds))
	for key := range k.Thresholds {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if key != DefaultThresholdKey && !Stage(key).Valid() {
			v.addf("%s: unknown stage key %q", where, key)
		}
		for _, b := range k.Thresholds[key] {
			if b.Score == nil {
				if _, ok := DefaultBandScores[b.Band]; !ok {
					v.addf("%s: band %s at %s needs an explicit score", where, b.Band, key)
				}
			}
			v.validateComparison(b.When, k.Type, k.Options, k.Fields, fmt.Sprintf("%s: band %s at %s", where, b.Band, key))
		}
	}
}

// validateComparison checks that c is meaningful for a value of type t.
func (v *validator) validateComparison(c Comparison, t QuestionType, options []string, fields []Field, where string) {
	if !c.Op.Valid() {
		v.addf("%s: unknown operator %q", where, c.Op)
		return
	}

	if c.Field != "" {
		if t != TypeComposite {
			v.addf("%s: field %q used on non-composite value", where, c.Field)
			return
		}
		for _, f := range fields {
			if f.Name == c.Field {
				inner := c
				inner.Field = ""
				v.validateComparison(inner, f.Type, f.Options, nil, where+"."+f.Name)
				return
			}
		}
		v.addf("%s: undeclared field %q", where, c.Field)
		return
	}

	switch t {
	case TypeComposite:
		v.addf("%s: comparison on composite value requires field", where)

	case TypeBoolean:
		if c.Op != OpEq && c.Op != OpNe {
			v.addf("%s: operator %s not valid for boolean", where, c.Op)
			return
		}
		if _, ok := c.Value.(bool); !ok {
			v.addf("%s: boolean comparison needs a true/false value", where)
		}

	case TypeNumber:
		switch c.Op {
		case OpBetween:
			if c.Min == nil || c.Max == nil {
				v.addf("%s: between requires min and max", where)
			} else if *c.Min > *c.Max {
				v.addf("%s: between min exceeds max", where)
			}
		case OpIn:
			for _, x := range c.Values {
				if _, ok := ToFloat(x); !ok {
					v.addf("%s: non-numeric value %v", where, x)
				}
			}
		default:
			if _, ok := ToFloat(c.Value); !ok {
				v.addf("%s: non-numeric value %v", where, c.Value)
			}
		}

	case TypeEnum:
		if c.Op.numeric() {
			v.addf("%s: operator %s not valid for enum", where, c.Op)
			return
		}
		values := c.Values
		if c.Op != OpIn {
			values = []interface{}{c.Value}
		}
		for _, x := range values {
			s, ok := x.(string)
			if !ok {
				v.addf("%s: enum comparison needs string values, got %v", where, x)
				continue
			}
			if options != nil && !contains(options, s) {
				v.addf("%s: value %q is not a declared option", where, s)
			}
		}
	}
}

func (v *validator) validateTarget(t Target, where string, allowKPI bool) {
	switch t.Scope {
	case ScopeOverall:
	case ScopeCategory:
		if _, ok := v.reg.categories[t.ID]; !ok {
			v.addf("%s: target references undefined category %q", where, t.ID)
		}
	case ScopeKPI:
		if !allowKPI {
			v.addf("%s: kpi targets are not supported here", where)
			return
		}
		if _, ok := v.reg.kpis[t.ID]; !ok {
			v.addf("%s: target references undefined kpi %q", where, t.ID)
		}
	default:
		v.addf("%s: unknown target scope %q", where, t.Scope)
	}
}

func (v *validator) validateFatalFlags() {
	for _, f := range v.reg.doc.FatalFlags {
		where := "fatal flag " + f.ID
		k, ok := v.reg.kpis[f.KPI]
		if !ok {
			v.addf("%s: references undefined kpi %q", where, f.KPI)
		} else {
			v.validateComparison(f.Trigger, k.Type, k.Options, k.Fields, where+" trigger")
		}
		v.validateTarget(f.Target, where, false)
		if f.Cap == nil && f.PenaltyPoints == 0 {
			v.addf("%s: needs a cap or penalty_points", where)
		}
		if f.Cap != nil && (*f.Cap < 0 || *f.Cap > 1) {
			v.addf("%s: cap must be a fraction within [0,1]", where)
		}
		if f.PenaltyPoints < 0 {
			v.addf("%s: negative penalty_points", where)
		}
		if f.Severity == "" {
			f.Severity = SeverityCritical
		} else if f.Severity != SeverityWarning && f.Severity != SeverityCritical {
			v.addf("%s: unknown severity %q", where, f.Severity)
		}
	}
}

func (v *validator) validateDependencies() {
	for _, d := range v.reg.doc.Dependencies {
		where := "dependency " + d.ID
		src := d.Source
		switch {
		case src.KPI != "" && src.Category != "":
			v.addf("%s: source must name a kpi or a category, not both", where)
		case src.KPI != "":
			k, ok := v.reg.kpis[src.KPI]
			if !ok {
				v.addf("%s: source references undefined kpi %q", where, src.KPI)
			} else {
				v.validateComparison(src.When, k.Type, k.Options, k.Fields, where+" source")
			}
		case src.Category != "":
			if _, ok := v.reg.categories[src.Category]; !ok {
				v.addf("%s: source references undefined category %q", where, src.Category)
			} else {
				v.validateComparison(src.When, TypeNumber, nil, nil, where+" source")
			}
		default:
			v.addf("%s: source must name a kpi or a category", where)
		}

		v.validateTarget(d.Target, where, true)

		switch d.Action {
		case ActionMultiply:
			if d.Value < 0 {
				v.addf("%s: multiply value must not be negative", where)
			}
		case ActionPenalty, ActionCap:
			if d.Value < 0 || d.Value > 1 {
				v.addf("%s: %s value must be a fraction within [0,1]", where, d.Action)
			}
		default:
			v.addf("%s: unknown action %q", where, d.Action)
		}
	}
}

// orderEvaluation topologically sorts KPIs by answer references (Kahn's
// algorithm, document order among ready KPIs) and reports cycles.
func (v *validator) orderEvaluation() {
	r := v.reg
	position := map[string]int{}
	for i, k := range r.kpiOrder {
		position[k.ID] = i
	}

	indegree := make([]int, len(r.kpiOrder))
	dependents := make([][]int, len(r.kpiOrder))
	for i, k := range r.kpiOrder {
		for _, ref := range answerReferences(k.Applicability) {
			j, ok := position[ref]
			if !ok {
				continue
			}
			if j == i {
				v.addf("kpi %s applicability: references its own answer", k.ID)
				continue
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	done := make([]bool, len(r.kpiOrder))
	order := make([]*KPI, 0, len(r.kpiOrder))
	for len(order) < len(r.kpiOrder) {
		progressed := false
		for i, k := range r.kpiOrder {
			if done[i] || indegree[i] > 0 {
				continue
			}
			done[i] = true
			order = append(order, k)
			for _, d := range dependents[i] {
				indegree[d]--
			}
			progressed = true
			break
		}
		if !progressed {
			var cycle []string
			for i, k := range r.kpiOrder {
				if !done[i] {
					cycle = append(cycle, k.ID)
				}
			}
			v.addf("applicability answer references form a cycle among %s", strings.Join(cycle, ", "))
			return
		}
	}
	r.evalOrder = order
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
