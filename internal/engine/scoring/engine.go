// Package scoring aggregates evidence-weighted answers into a ScoreBreakdown.
//
// Compute is a pure function of the registry snapshot, the assessment, the
// startup and the evaluation time. It performs no I/O and is safe for
// concurrent use.
package scoring

import (
	"fmt"
	"math"
	"time"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/engine/applicability"
	"readiness-workers/internal/models"
	"readiness-workers/pkg/registry"
)

// Options tune recommendation generation.
type Options struct {
	// LowConfidenceThreshold marks evidence worth upgrading.
	LowConfidenceThreshold float64
	// NearThresholdRatio is the relative distance to the next band's boundary
	// that triggers a nudge.
	NearThresholdRatio float64
	// MaxRecommendations caps the list; zero means unlimited.
	MaxRecommendations int
}

func DefaultOptions() Options {
	return Options{
		LowConfidenceThreshold: 0.7,
		NearThresholdRatio:     0.1,
		MaxRecommendations:     10,
	}
}

type Engine struct {
	reg  *registry.Registry
	opts Options
}

func New(reg *registry.Registry, opts Options) *Engine {
	return &Engine{reg: reg, opts: opts}
}

func (e *Engine) Registry() *registry.Registry { return e.reg }

// Compute scores the assessment at its stage (or the startup's when unset).
// Invalid responses are isolated into the breakdown's Errors; only an
// unusable stage fails the whole computation.
func (e *Engine) Compute(a *models.Assessment, s *models.Startup, now time.Time) (*models.ScoreBreakdown, error) {
	stage := a.StageFor(s)
	if !stage.Valid() {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("assessment %s has unknown stage %q", a.ID, stage))
	}

	applicable := applicability.Evaluate(e.reg, s, stage, a.Responses).Applicable

	c := newComputation(e, stage, a.Responses, applicable, now)
	c.scoreKPIs()
	c.aggregate()
	c.overallRaw = c.overall

	c.applyFatalFlags()
	c.applyDependencies()

	return c.breakdown(), nil
}

// scale maps the adjusted fraction onto the registry's integer range and
// deducts penalty points, clamping to the range.
func scale(fraction float64, penalty int, rng registry.ScoreRange) int {
	span := float64(rng.Max - rng.Min)
	score := int(math.Floor(float64(rng.Min)+fraction*span+1e-9)) - penalty
	if score < rng.Min {
		return rng.Min
	}
	if score > rng.Max {
		return rng.Max
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
