// Package lifecycle moves assessments through draft, completed and published.
// Every operation returns a new Assessment and leaves its input untouched.
package lifecycle

import (
	"sort"
	"time"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/engine/applicability"
	"readiness-workers/internal/engine/scoring"
	"readiness-workers/internal/models"
	"readiness-workers/pkg/registry"
)

type Lifecycle struct {
	engine *scoring.Engine
}

func New(engine *scoring.Engine) *Lifecycle {
	return &Lifecycle{engine: engine}
}

// Transition moves a to target using default scoring options.
func Transition(reg *registry.Registry, a *models.Assessment, s *models.Startup, target models.AssessmentStatus, now time.Time) (*models.Assessment, error) {
	return New(scoring.New(reg, scoring.DefaultOptions())).Transition(a, s, target, now)
}

// Transition applies one of the legal moves:
//
//	draft     -> completed  every applicable required KPI must be answered
//	completed -> published  freezes a copy of the current breakdown
//	completed -> draft      reopens for editing
//
// Anything else is a LIFECYCLE_ERROR. Published assessments are terminal.
func (l *Lifecycle) Transition(a *models.Assessment, s *models.Startup, target models.AssessmentStatus, now time.Time) (*models.Assessment, error) {
	switch {
	case a.Status == models.StatusDraft && target == models.StatusCompleted:
		return l.complete(a, s, now)
	case a.Status == models.StatusCompleted && target == models.StatusPublished:
		return l.publish(a, s, now)
	case a.Status == models.StatusCompleted && target == models.StatusDraft:
		next := a.Clone()
		next.Status = models.StatusDraft
		next.CompletedAt = nil
		next.UpdatedAt = now
		return next, nil
	}
	return nil, errors.NewLifecycleError(string(a.Status), string(target))
}

func (l *Lifecycle) complete(a *models.Assessment, s *models.Startup, now time.Time) (*models.Assessment, error) {
	reg := l.engine.Registry()
	result := applicability.Evaluate(reg, s, a.StageFor(s), a.Responses)
	if missing := result.MissingRequired(); len(missing) > 0 {
		return nil, errors.NewIncompleteAssessmentError(missing)
	}

	breakdown, err := l.engine.Compute(a, s, now)
	if err != nil {
		return nil, err
	}

	next := a.Clone()
	next.Status = models.StatusCompleted
	next.CompletedAt = &now
	next.DraftBreakdown = breakdown
	next.FrameworkVersion = reg.Version()
	next.UpdatedAt = now
	return next, nil
}

func (l *Lifecycle) publish(a *models.Assessment, s *models.Startup, now time.Time) (*models.Assessment, error) {
	next := a.Clone()
	if next.DraftBreakdown == nil {
		breakdown, err := l.engine.Compute(a, s, now)
		if err != nil {
			return nil, err
		}
		next.DraftBreakdown = breakdown
	}

	next.Status = models.StatusPublished
	next.PublishedBreakdown = next.DraftBreakdown.Clone()
	next.PublishedAt = &now
	next.UpdatedAt = now
	return next, nil
}

// ApplyResponses merges incoming answers and recomputes the draft breakdown.
// A nil value clears the KPI's answer. The whole batch is rejected if any
// answer targets an unknown or inapplicable KPI, fails its type check or
// carries a negative decay rate.
//
// Editing a completed assessment reopens it as a draft. A published
// assessment keeps its frozen breakdown; only the draft is recomputed.
func (l *Lifecycle) ApplyResponses(a *models.Assessment, s *models.Startup, incoming models.Responses, now time.Time) (*models.Assessment, error) {
	reg := l.engine.Registry()

	merged := a.Responses.Clone()
	if merged == nil {
		merged = models.Responses{}
	}
	ids := make([]string, 0, len(incoming))
	for id := range incoming {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		resp := incoming[id]
		if resp.Value == nil {
			delete(merged, id)
			continue
		}
		if resp.SubmittedAt.IsZero() {
			resp.SubmittedAt = now
		}
		if resp.EvidenceType == "" {
			resp.EvidenceType = registry.EvidenceSelfReported
		}
		resp.Value = models.CloneValue(resp.Value)
		merged[id] = resp
	}

	applicable := applicability.Evaluate(reg, s, a.StageFor(s), merged).Applicable
	rejected := map[string]string{}
	for _, id := range ids {
		resp := incoming[id]
		if resp.Value == nil {
			continue
		}
		k, ok := reg.KPI(id)
		if !ok {
			rejected[id] = "unknown kpi"
			continue
		}
		if !applicable.Contains(id) {
			rejected[id] = "not applicable"
			continue
		}
		if !resp.EvidenceType.Valid() && resp.EvidenceType != "" {
			rejected[id] = "unknown evidence type " + string(resp.EvidenceType)
			continue
		}
		if resp.DecayLambda != nil && *resp.DecayLambda < 0 {
			rejected[id] = "negative decay lambda"
			continue
		}
		if err := k.ValidateValue(resp.Value); err != nil {
			rejected[id] = err.Error()
		}
	}
	if len(rejected) > 0 {
		return nil, errors.NewResponseRejectedError(rejected)
	}

	next := a.Clone()
	next.Responses = merged
	if next.Status == models.StatusCompleted {
		next.Status = models.StatusDraft
		next.CompletedAt = nil
	}

	breakdown, err := l.engine.Compute(next, s, now)
	if err != nil {
		return nil, err
	}
	next.DraftBreakdown = breakdown
	next.UpdatedAt = now
	return next, nil
}
