// Package confidence turns evidence into a time-decayed confidence and a
// weighted contribution.
package confidence

import (
	"math"
	"time"

	"readiness-workers/internal/models"
	"readiness-workers/pkg/registry"
)

const hoursPerDay = 24.0

// Base returns the KPI's static coefficient for the response's evidence type.
// Unknown evidence types fall back to self-reported.
func Base(k *registry.KPI, r models.Response) float64 {
	e := r.EvidenceType
	if !e.Valid() {
		e = registry.EvidenceSelfReported
	}
	return k.ConfidenceFor(e)
}

// DecayRate picks the per-day λ: the response's own rate wins over the KPI's
// freshness declaration.
func DecayRate(k *registry.KPI, r models.Response) float64 {
	if r.DecayLambda != nil {
		return *r.DecayLambda
	}
	return k.Freshness.DecayRate()
}

// AgeDays is the whole-and-fractional days between verification and now,
// never negative.
func AgeDays(verifiedAt, now time.Time) float64 {
	age := now.Sub(verifiedAt).Hours() / hoursPerDay
	if age < 0 {
		return 0
	}
	return age
}

// Confidence is base × exp(-λ·age), kept within [0,1]. Decay applies only when
// the KPI declares a freshness requirement and the response carries a
// verification time.
func Confidence(k *registry.KPI, r models.Response, now time.Time) float64 {
	c := Base(k, r)
	if k.Freshness == nil || r.VerifiedAt == nil {
		return clamp01(c)
	}
	lambda := DecayRate(k, r)
	return clamp01(c * math.Exp(-lambda*AgeDays(*r.VerifiedAt, now)))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// Contribution is bandScore × confidence × effective weight.
func Contribution(k *registry.KPI, stage registry.Stage, bandScore, confidence float64) float64 {
	return bandScore * confidence * k.EffectiveWeight(stage)
}
