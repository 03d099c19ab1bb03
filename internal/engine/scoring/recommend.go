// internal/engine/scoring/recommend.go
package scoring

import (
	"fmt"
	"math"
	"sort"

	"readiness-workers/internal/models"
	"readiness-workers/pkg/registry"
)

var kindRank = map[models.RecommendationKind]int{
	models.RecommendEvidence:   0,
	models.RecommendThreshold:  1,
	models.RecommendUnanswered: 2,
}

// recommend lists fatal-flag fixes (critical first), then dependency
// resolutions, then per-KPI suggestions ranked by potential gain in the
// overall fraction.
func (c *computation) recommend() []models.Recommendation {
	var out []models.Recommendation

	for _, severity := range []string{registry.SeverityCritical, registry.SeverityWarning} {
		for _, f := range c.flags {
			if f.Severity != severity {
				continue
			}
			out = append(out, models.Recommendation{
				Kind:    models.RecommendFatalFlag,
				KPIID:   f.KPIID,
				RuleID:  f.RuleID,
				Message: f.Message,
			})
		}
	}

	for _, adj := range c.applied {
		msg := adj.Reason
		if msg == "" {
			msg = fmt.Sprintf("Resolve dependency %s to lift the %s adjustment on %s", adj.RuleID, adj.Action, adj.Target)
		}
		out = append(out, models.Recommendation{
			Kind:    models.RecommendDependency,
			RuleID:  adj.RuleID,
			Message: msg,
		})
	}

	var ranked []models.Recommendation
	for _, kr := range c.results {
		ranked = append(ranked, c.kpiRecommendations(kr)...)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].PotentialGain != ranked[j].PotentialGain {
			return ranked[i].PotentialGain > ranked[j].PotentialGain
		}
		if ranked[i].KPIID != ranked[j].KPIID {
			return ranked[i].KPIID < ranked[j].KPIID
		}
		return kindRank[ranked[i].Kind] < kindRank[ranked[j].Kind]
	})
	out = append(out, ranked...)

	if limit := c.e.opts.MaxRecommendations; limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (c *computation) kpiRecommendations(kr *kpiResult) []models.Recommendation {
	k := kr.kpi
	share := c.share(kr)
	top := k.TopScore(c.stage)

	if !kr.answered {
		if !k.Required() {
			return nil
		}
		gain := share * top * k.ConfidenceFor(registry.EvidenceSelfReported)
		return []models.Recommendation{{
			Kind:          models.RecommendUnanswered,
			KPIID:         k.ID,
			Message:       unansweredMessage(k),
			PotentialGain: round(gain),
		}}
	}
	if !kr.valid || kr.entry.BandScore >= top {
		return nil
	}

	var out []models.Recommendation
	conf := kr.entry.Confidence

	if conf < c.e.opts.LowConfidenceThreshold {
		out = append(out, models.Recommendation{
			Kind:          models.RecommendEvidence,
			KPIID:         k.ID,
			Message:       fmt.Sprintf("Upload verifying evidence for %s to raise confidence from %.0f%%", k.ID, conf*100),
			PotentialGain: round(share * kr.entry.BandScore * (1 - conf)),
		})
	}

	if rec, ok := c.nearThreshold(kr, share); ok {
		out = append(out, rec)
	}
	return out
}

// nearThreshold nudges a numeric answer that sits within the configured
// relative distance of the next higher band's boundary.
func (c *computation) nearThreshold(kr *kpiResult, share float64) (models.Recommendation, bool) {
	bands := kr.kpi.BandsFor(c.stage)
	next := len(bands) - 1
	if kr.bandIndex >= 0 {
		next = kr.bandIndex - 1
	}
	// skip bands that score no better than the current one
	for next >= 0 && bands[next].ScoreValue() <= kr.entry.BandScore {
		next--
	}
	if next < 0 {
		return models.Recommendation{}, false
	}
	target := bands[next]

	x, ok := numericAnswer(target.When, c.responses[kr.kpi.ID].Value)
	if !ok {
		return models.Recommendation{}, false
	}
	boundary, ok := target.When.Boundary(x)
	if !ok {
		return models.Recommendation{}, false
	}

	dist := math.Abs(x - boundary)
	if boundary != 0 {
		dist /= math.Abs(boundary)
	}
	if dist > c.e.opts.NearThresholdRatio {
		return models.Recommendation{}, false
	}

	gain := share * (target.ScoreValue() - kr.entry.BandScore) * kr.entry.Confidence
	return models.Recommendation{
		Kind:          models.RecommendThreshold,
		KPIID:         kr.kpi.ID,
		Message:       fmt.Sprintf("%s is close to the %s threshold (%v); a small improvement moves it up a band", kr.kpi.ID, target.Band, boundary),
		PotentialGain: round(gain),
	}, true
}

func numericAnswer(cmp registry.Comparison, v interface{}) (float64, bool) {
	if cmp.Field != "" {
		m, ok := v.(map[string]interface{})
		if !ok {
			return 0, false
		}
		v = m[cmp.Field]
	}
	return registry.ToFloat(v)
}

func unansweredMessage(k *registry.KPI) string {
	if k.Question != "" {
		return fmt.Sprintf("Answer %s: %s", k.ID, k.Question)
	}
	return fmt.Sprintf("Answer %s", k.ID)
}

// round trims float noise from gains.
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
