// internal/engine/scoring/computation.go
package scoring

import (
	"time"

	"readiness-workers/internal/engine/applicability"
	"readiness-workers/internal/engine/confidence"
	"readiness-workers/internal/models"
	"readiness-workers/pkg/registry"
)

type adjustment struct {
	action registry.Action
	value  float64
}

type kpiResult struct {
	kpi       *registry.KPI
	weight    float64
	answered  bool
	valid     bool
	bandIndex int
	fraction  float64
	adjusted  float64
	entry     models.TraceEntry
}

type subResult struct {
	sub    *registry.SubCategory
	weight float64
	denom  float64
	kpis   []*kpiResult
	score  float64
}

type catResult struct {
	cat    *registry.Category
	weight float64
	subs   []*subResult
	raw    float64
	score  float64
}

// computation is the mutable working state of one Compute call.
type computation struct {
	e          *Engine
	stage      registry.Stage
	responses  models.Responses
	applicable applicability.Set
	now        time.Time

	results []*kpiResult
	kpis    map[string]*kpiResult
	cats    []*catResult
	catByID map[string]*catResult

	adjustments map[string][]adjustment
	overallRaw  float64
	overall     float64
	catWeight   float64

	flags   []models.TriggeredFlag
	applied []models.Adjustment
	penalty int
	errs    []models.KPIError
}

func newComputation(e *Engine, stage registry.Stage, responses models.Responses, applicable applicability.Set, now time.Time) *computation {
	return &computation{
		e:           e,
		stage:       stage,
		responses:   responses,
		applicable:  applicable,
		now:         now,
		kpis:        map[string]*kpiResult{},
		catByID:     map[string]*catResult{},
		adjustments: map[string][]adjustment{},
	}
}

// scoreKPIs bands, weighs and traces every applicable KPI, then builds the
// aggregation tree. Sub-categories and categories without applicable KPIs
// (or with zero weight at this stage) are left out so the remaining weights
// renormalise.
func (c *computation) scoreKPIs() {
	for _, cat := range c.e.reg.Categories() {
		cr := &catResult{cat: cat, weight: cat.WeightFor(c.stage)}
		for _, sub := range cat.SubCategories {
			sr := &subResult{sub: sub, weight: sub.WeightFor(c.stage)}
			for _, k := range sub.KPIs {
				if !c.applicable.Contains(k.ID) {
					continue
				}
				kr := c.scoreKPI(k)
				c.results = append(c.results, kr)
				c.kpis[k.ID] = kr
				sr.kpis = append(sr.kpis, kr)
				sr.denom += kr.weight
			}
			if len(sr.kpis) > 0 && sr.denom > 0 && sr.weight > 0 {
				cr.subs = append(cr.subs, sr)
			}
		}
		if len(cr.subs) > 0 && cr.weight > 0 {
			c.cats = append(c.cats, cr)
			c.catByID[cat.ID] = cr
		}
	}
}

func (c *computation) scoreKPI(k *registry.KPI) *kpiResult {
	kr := &kpiResult{
		kpi:       k,
		weight:    k.EffectiveWeight(c.stage),
		valid:     true,
		bandIndex: -1,
	}
	kr.entry = models.TraceEntry{
		KPIID:           k.ID,
		Category:        k.Category(),
		SubCategory:     k.SubCategory(),
		EffectiveWeight: kr.weight,
		Valid:           true,
	}

	resp, ok := c.responses[k.ID]
	if !ok || resp.Value == nil {
		return kr
	}
	kr.answered = true
	kr.entry.Answered = true
	kr.entry.Value = models.CloneValue(resp.Value)
	kr.entry.EvidenceType = resp.EvidenceType

	if err := k.ValidateValue(resp.Value); err != nil {
		c.invalidate(kr, err)
		return kr
	}

	bands := k.BandsFor(c.stage)
	for i, b := range bands {
		matched, err := b.When.Match(resp.Value)
		if err != nil {
			c.invalidate(kr, err)
			return kr
		}
		if matched {
			kr.bandIndex = i
			kr.entry.Band = b.Band
			kr.entry.BandScore = b.ScoreValue()
			break
		}
	}

	conf := confidence.Confidence(k, resp, c.now)
	kr.entry.Confidence = conf
	kr.fraction = kr.entry.BandScore * conf
	kr.entry.Contribution = confidence.Contribution(k, c.stage, kr.entry.BandScore, conf)
	return kr
}

func (c *computation) invalidate(kr *kpiResult, err error) {
	kr.valid = false
	kr.entry.Valid = false
	kr.entry.Error = err.Error()
	c.errs = append(c.errs, models.KPIError{KPIID: kr.kpi.ID, Message: err.Error()})
}

// aggregate recomputes every scope from the KPI fractions and the adjustment
// lists collected so far.
func (c *computation) aggregate() {
	totalWeight, total := 0.0, 0.0
	for _, cr := range c.cats {
		subWeight, subTotal := 0.0, 0.0
		for _, sr := range cr.subs {
			num := 0.0
			for _, kr := range sr.kpis {
				kr.adjusted = apply(kr.fraction, c.adjustments[kpiKey(kr.kpi.ID)])
				num += kr.adjusted * kr.weight
			}
			sr.score = clamp01(num / sr.denom)
			subWeight += sr.weight
			subTotal += sr.score * sr.weight
		}
		cr.raw = clamp01(subTotal / subWeight)
		cr.score = apply(cr.raw, c.adjustments[categoryKey(cr.cat.ID)])
		totalWeight += cr.weight
		total += cr.score * cr.weight
	}
	c.catWeight = totalWeight

	raw := 0.0
	if totalWeight > 0 {
		raw = clamp01(total / totalWeight)
	}
	c.overall = apply(raw, c.adjustments[overallKey])
}

// apply runs multiply and penalty adjustments in order, then every cap, so a
// cap can never be lifted by a later adjustment.
func apply(v float64, list []adjustment) float64 {
	for _, a := range list {
		switch a.action {
		case registry.ActionMultiply:
			v = clamp01(v * a.value)
		case registry.ActionPenalty:
			v = clamp01(v - a.value)
		}
	}
	for _, a := range list {
		if a.action == registry.ActionCap && v > a.value {
			v = a.value
		}
	}
	return clamp01(v)
}

const overallKey = "overall"

func categoryKey(id string) string { return "category:" + id }
func kpiKey(id string) string      { return "kpi:" + id }

func targetKey(t registry.Target) string {
	switch t.Scope {
	case registry.ScopeCategory:
		return categoryKey(t.ID)
	case registry.ScopeKPI:
		return kpiKey(t.ID)
	}
	return overallKey
}

// scopeValue returns the current value of a target scope; false when the
// scope was excluded from this computation.
func (c *computation) scopeValue(t registry.Target) (float64, bool) {
	switch t.Scope {
	case registry.ScopeCategory:
		cr, ok := c.catByID[t.ID]
		if !ok {
			return 0, false
		}
		return cr.score, true
	case registry.ScopeKPI:
		kr, ok := c.kpis[t.ID]
		if !ok {
			return 0, false
		}
		return kr.adjusted, true
	}
	return c.overall, true
}

// answerFor returns the KPI's valid answer. present is false when the KPI is
// inapplicable; answered is false when it has no usable answer.
func (c *computation) answerFor(kpiID string) (value interface{}, present, answered bool) {
	kr, ok := c.kpis[kpiID]
	if !ok {
		return nil, false, false
	}
	if !kr.answered || !kr.valid {
		return nil, true, false
	}
	return c.responses[kpiID].Value, true, true
}

// applyFatalFlags evaluates every rule against applicable KPIs only.
func (c *computation) applyFatalFlags() {
	triggered := false
	for _, rule := range c.e.reg.FatalFlags() {
		value, present, answered := c.answerFor(rule.KPI)
		if !present {
			continue
		}

		hit := rule.WhenMissing && !answered
		if answered {
			matched, err := rule.Trigger.Match(value)
			hit = err == nil && matched
		}
		if !hit {
			continue
		}

		flag := models.TriggeredFlag{
			RuleID:        rule.ID,
			KPIID:         rule.KPI,
			Target:        rule.Target.String(),
			PenaltyPoints: rule.PenaltyPoints,
			Severity:      rule.Severity,
			Message:       rule.Message,
		}
		if rule.Cap != nil {
			capValue := *rule.Cap
			flag.Cap = &capValue
			key := targetKey(rule.Target)
			c.adjustments[key] = append(c.adjustments[key], adjustment{action: registry.ActionCap, value: capValue})
		}
		c.penalty += rule.PenaltyPoints
		c.flags = append(c.flags, flag)
		triggered = true
	}
	if triggered {
		c.aggregate()
	}
}

// applyDependencies applies each rule at most once, in declared order,
// re-aggregating after every rule so later sources see earlier effects.
func (c *computation) applyDependencies() {
	for _, rule := range c.e.reg.Dependencies() {
		if !c.dependencyTriggered(rule) {
			continue
		}
		before, ok := c.scopeValue(rule.Target)
		if !ok {
			continue
		}

		key := targetKey(rule.Target)
		c.adjustments[key] = append(c.adjustments[key], adjustment{action: rule.Action, value: rule.Value})
		c.aggregate()

		after, _ := c.scopeValue(rule.Target)
		c.applied = append(c.applied, models.Adjustment{
			RuleID: rule.ID,
			Target: rule.Target.String(),
			Action: string(rule.Action),
			Value:  rule.Value,
			Before: before,
			After:  after,
			Reason: rule.Reason,
		})
	}
}

func (c *computation) dependencyTriggered(rule *registry.DependencyRule) bool {
	src := rule.Source
	if src.KPI != "" {
		value, present, answered := c.answerFor(src.KPI)
		if !present {
			return false
		}
		if !answered {
			return src.WhenMissing
		}
		matched, err := src.When.Match(value)
		return err == nil && matched
	}

	cr, ok := c.catByID[src.Category]
	if !ok {
		return src.WhenMissing
	}
	matched, err := src.When.Match(cr.score)
	return err == nil && matched
}

// share is the fraction of the overall score a KPI's normalised value moves.
func (c *computation) share(kr *kpiResult) float64 {
	cr, ok := c.catByID[kr.kpi.Category()]
	if !ok || c.catWeight == 0 {
		return 0
	}
	subWeight := 0.0
	var owner *subResult
	for _, sr := range cr.subs {
		subWeight += sr.weight
		if sr.sub.ID == kr.kpi.SubCategory() {
			owner = sr
		}
	}
	if owner == nil || subWeight == 0 {
		return 0
	}
	return (kr.weight / owner.denom) * (owner.weight / subWeight) * (cr.weight / c.catWeight)
}

func (c *computation) breakdown() *models.ScoreBreakdown {
	reg := c.e.reg
	rng := reg.ScoreRange()
	score := scale(c.overall, c.penalty, rng)

	b := &models.ScoreBreakdown{
		Score:            score,
		Band:             reg.Classify(score),
		RawFraction:      c.overallRaw,
		AdjustedFraction: c.overall,
		PenaltyPoints:    c.penalty,
		ScoreMin:         rng.Min,
		ScoreMax:         rng.Max,
		Stage:            c.stage,
		FrameworkVersion: reg.Version(),
		CalculatedAt:     c.now,
		Categories:       []models.CategoryScore{},
		FatalFlags:       c.flags,
		Adjustments:      c.applied,
		Errors:           c.errs,
		Trace:            make([]models.TraceEntry, 0, len(c.results)),
	}

	for _, cr := range c.cats {
		subWeight := 0.0
		for _, sr := range cr.subs {
			subWeight += sr.weight
		}
		cs := models.CategoryScore{
			ID:       cr.cat.ID,
			Name:     cr.cat.Name,
			Weight:   cr.weight / c.catWeight,
			RawScore: cr.raw,
			Score:    cr.score,
		}
		for _, sr := range cr.subs {
			ss := models.SubCategoryScore{
				ID:         sr.sub.ID,
				Name:       sr.sub.Name,
				Weight:     sr.weight / subWeight,
				Score:      sr.score,
				Applicable: len(sr.kpis),
			}
			for _, kr := range sr.kpis {
				if kr.answered {
					ss.Answered++
				}
			}
			cs.SubCategories = append(cs.SubCategories, ss)
		}
		b.Categories = append(b.Categories, cs)
	}

	for _, kr := range c.results {
		b.Trace = append(b.Trace, kr.entry)
	}

	b.Recommendations = c.recommend()
	return b
}
