// internal/models/assessment.go
package models

import (
	"time"

	"readiness-workers/pkg/registry"

	"github.com/google/uuid"
)

// AssessmentStatus is the lifecycle state of an assessment.
type AssessmentStatus string

const (
	StatusDraft     AssessmentStatus = "draft"
	StatusCompleted AssessmentStatus = "completed"
	StatusPublished AssessmentStatus = "published"
)

func (s AssessmentStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusCompleted, StatusPublished:
		return true
	}
	return false
}

// Response is one answer. Resubmitting a KPI overwrites its response.
type Response struct {
	Value        interface{}           `json:"value"`
	EvidenceType registry.EvidenceType `json:"evidenceType"`
	EvidenceRef  string                `json:"evidenceRef,omitempty"`
	SubmittedAt  time.Time             `json:"submittedAt"`
	VerifiedAt   *time.Time            `json:"verifiedAt,omitempty"`
	DecayLambda  *float64              `json:"decayLambda,omitempty"`
}

// Responses are keyed by KPI id.
type Responses map[string]Response

// Answered reports whether kpiID has a non-nil value.
func (r Responses) Answered(kpiID string) bool {
	resp, ok := r[kpiID]
	return ok && resp.Value != nil
}

// Clone returns a deep copy.
func (r Responses) Clone() Responses {
	if r == nil {
		return nil
	}
	out := make(Responses, len(r))
	for id, resp := range r {
		c := resp
		c.Value = CloneValue(resp.Value)
		if resp.VerifiedAt != nil {
			t := *resp.VerifiedAt
			c.VerifiedAt = &t
		}
		if resp.DecayLambda != nil {
			l := *resp.DecayLambda
			c.DecayLambda = &l
		}
		out[id] = c
	}
	return out
}

type Assessment struct {
	ID                 string           `json:"id" db:"id"`
	StartupID          string           `json:"startupId" db:"startup_id"`
	Stage              registry.Stage   `json:"stage,omitempty" db:"stage"`
	FrameworkVersion   string           `json:"frameworkVersion" db:"framework_version"`
	Status             AssessmentStatus `json:"status" db:"status"`
	Responses          Responses        `json:"responses" db:"responses"`
	DraftBreakdown     *ScoreBreakdown  `json:"draftBreakdown,omitempty" db:"draft_breakdown"`
	PublishedBreakdown *ScoreBreakdown  `json:"publishedBreakdown,omitempty" db:"published_breakdown"`
	CompletedAt        *time.Time       `json:"completedAt,omitempty" db:"completed_at"`
	PublishedAt        *time.Time       `json:"publishedAt,omitempty" db:"published_at"`
	Version            int64            `json:"version" db:"version"`
	CreatedAt          time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time        `json:"updatedAt" db:"updated_at"`
}

// NewAssessment starts a draft with a fresh id.
func NewAssessment(startupID string, stage registry.Stage, frameworkVersion string, now time.Time) *Assessment {
	return &Assessment{
		ID:               uuid.New().String(),
		StartupID:        startupID,
		Stage:            stage,
		FrameworkVersion: frameworkVersion,
		Status:           StatusDraft,
		Responses:        Responses{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// StageFor returns the assessment's own stage, falling back to the startup's.
func (a *Assessment) StageFor(s *Startup) registry.Stage {
	if a.Stage != "" {
		return a.Stage
	}
	if s != nil {
		return s.Stage
	}
	return ""
}

// Clone returns a deep copy so transitions never alias the caller's state.
func (a *Assessment) Clone() *Assessment {
	if a == nil {
		return nil
	}
	c := *a
	c.Responses = a.Responses.Clone()
	c.DraftBreakdown = a.DraftBreakdown.Clone()
	c.PublishedBreakdown = a.PublishedBreakdown.Clone()
	c.CompletedAt = cloneTime(a.CompletedAt)
	c.PublishedAt = cloneTime(a.PublishedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CloneValue deep-copies a decoded answer value.
func CloneValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(x))
		for k, val := range x {
			m[k] = CloneValue(val)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(x))
		for i, val := range x {
			s[i] = CloneValue(val)
		}
		return s
	}
	return v
}
