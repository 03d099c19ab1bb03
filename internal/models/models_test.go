// internal/models/models_test.go
package models

import (
	"testing"
	"time"

	"readiness-workers/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartup_Attribute(t *testing.T) {
	s := &Startup{IsSoloFounder: true, HasRevenue: false, HasMVP: true, BusinessModel: "saas"}

	v, ok := s.Attribute(registry.AttrIsSoloFounder)
	require.True(t, ok)
	assert.Equal(t, true, v)

	v, ok = s.Attribute(registry.AttrBusinessModel)
	require.True(t, ok)
	assert.Equal(t, "saas", v)

	_, ok = s.Attribute("headcount")
	assert.False(t, ok)
}

func TestAssessment_StageFor(t *testing.T) {
	s := &Startup{Stage: registry.StageGrowth}
	a := &Assessment{}
	assert.Equal(t, registry.StageGrowth, a.StageFor(s))

	a.Stage = registry.StageIdea
	assert.Equal(t, registry.StageIdea, a.StageFor(s))
}

func TestAssessment_CloneIsDeep(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	capValue := 0.4
	a := NewAssessment("startup-1", registry.StageIdea, "v1", now)
	a.Responses["composite"] = Response{
		Value:        map[string]interface{}{"hours": 40.0},
		EvidenceType: registry.EvidenceSelfReported,
		VerifiedAt:   &now,
	}
	a.DraftBreakdown = &ScoreBreakdown{
		Score:      500,
		Categories: []CategoryScore{{ID: "c", SubCategories: []SubCategoryScore{{ID: "s", Score: 0.5}}}},
		FatalFlags: []TriggeredFlag{{RuleID: "ff", Cap: &capValue}},
		Trace:      []TraceEntry{{KPIID: "composite", Value: map[string]interface{}{"hours": 40.0}}},
	}

	c := a.Clone()
	c.Responses["composite"].Value.(map[string]interface{})["hours"] = 10.0
	c.DraftBreakdown.Categories[0].SubCategories[0].Score = 0.9
	*c.DraftBreakdown.FatalFlags[0].Cap = 0.9
	c.DraftBreakdown.Trace[0].Value.(map[string]interface{})["hours"] = 10.0
	*c.Responses["composite"].VerifiedAt = now.Add(time.Hour)

	assert.Equal(t, 40.0, a.Responses["composite"].Value.(map[string]interface{})["hours"])
	assert.Equal(t, 0.5, a.DraftBreakdown.Categories[0].SubCategories[0].Score)
	assert.Equal(t, 0.4, *a.DraftBreakdown.FatalFlags[0].Cap)
	assert.Equal(t, 40.0, a.DraftBreakdown.Trace[0].Value.(map[string]interface{})["hours"])
	assert.Equal(t, now, *a.Responses["composite"].VerifiedAt)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, StatusDraft, a.Status)
}

func TestResponses_Answered(t *testing.T) {
	r := Responses{"a": {Value: false}, "b": {Value: nil}}
	assert.True(t, r.Answered("a"))
	assert.False(t, r.Answered("b"))
	assert.False(t, r.Answered("c"))
}

func TestScoreBreakdown_Lookups(t *testing.T) {
	b := &ScoreBreakdown{
		Categories: []CategoryScore{{ID: "c", SubCategories: []SubCategoryScore{{ID: "s"}}}},
		Trace:      []TraceEntry{{KPIID: "k"}},
	}
	_, ok := b.Category("c")
	assert.True(t, ok)
	_, ok = b.SubCategory("s")
	assert.True(t, ok)
	_, ok = b.TraceFor("k")
	assert.True(t, ok)
	_, ok = b.TraceFor("x")
	assert.False(t, ok)
	assert.Nil(t, (*ScoreBreakdown)(nil).Clone())
}
