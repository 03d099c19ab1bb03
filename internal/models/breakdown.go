// internal/models/breakdown.go
package models

import (
	"time"

	"readiness-workers/pkg/registry"
)

// ScoreBreakdown is the explainable result of one score computation.
type ScoreBreakdown struct {
	Score            int              `json:"score"`
	Band             string           `json:"band"`
	RawFraction      float64          `json:"rawFraction"`
	AdjustedFraction float64          `json:"adjustedFraction"`
	PenaltyPoints    int              `json:"penaltyPoints"`
	ScoreMin         int              `json:"scoreMin"`
	ScoreMax         int              `json:"scoreMax"`
	Stage            registry.Stage   `json:"stage"`
	FrameworkVersion string           `json:"frameworkVersion"`
	CalculatedAt     time.Time        `json:"calculatedAt"`
	Categories       []CategoryScore  `json:"categories"`
	FatalFlags       []TriggeredFlag  `json:"fatalFlags"`
	Adjustments      []Adjustment     `json:"adjustments"`
	Recommendations  []Recommendation `json:"recommendations"`
	Trace            []TraceEntry     `json:"trace"`
	Errors           []KPIError       `json:"errors,omitempty"`
}

type CategoryScore struct {
	ID            string             `json:"id"`
	Name          string             `json:"name,omitempty"`
	Weight        float64            `json:"weight"`
	RawScore      float64            `json:"rawScore"`
	Score         float64            `json:"score"`
	SubCategories []SubCategoryScore `json:"subCategories"`
}

type SubCategoryScore struct {
	ID         string  `json:"id"`
	Name       string  `json:"name,omitempty"`
	Weight     float64 `json:"weight"`
	Score      float64 `json:"score"`
	Applicable int     `json:"applicable"`
	Answered   int     `json:"answered"`
}

// TriggeredFlag records a fatal-flag rule that matched.
type TriggeredFlag struct {
	RuleID        string   `json:"ruleId"`
	KPIID         string   `json:"kpiId"`
	Target        string   `json:"target"`
	Cap           *float64 `json:"cap,omitempty"`
	PenaltyPoints int      `json:"penaltyPoints,omitempty"`
	Severity      string   `json:"severity"`
	Message       string   `json:"message"`
}

// Adjustment records a dependency rule applied to its target.
type Adjustment struct {
	RuleID string  `json:"ruleId"`
	Target string  `json:"target"`
	Action string  `json:"action"`
	Value  float64 `json:"value"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
	Reason string  `json:"reason,omitempty"`
}

type RecommendationKind string

const (
	RecommendFatalFlag  RecommendationKind = "fatal_flag"
	RecommendDependency RecommendationKind = "dependency"
	RecommendEvidence   RecommendationKind = "evidence"
	RecommendThreshold  RecommendationKind = "threshold"
	RecommendUnanswered RecommendationKind = "unanswered"
)

type Recommendation struct {
	Kind          RecommendationKind `json:"kind"`
	KPIID         string             `json:"kpiId,omitempty"`
	RuleID        string             `json:"ruleId,omitempty"`
	Message       string             `json:"message"`
	PotentialGain float64            `json:"potentialGain,omitempty"`
}

// TraceEntry explains one applicable KPI's contribution.
type TraceEntry struct {
	KPIID           string                `json:"kpiId"`
	Category        string                `json:"category"`
	SubCategory     string                `json:"subCategory"`
	Answered        bool                  `json:"answered"`
	Value           interface{}           `json:"value,omitempty"`
	EvidenceType    registry.EvidenceType `json:"evidenceType,omitempty"`
	Band            string                `json:"band,omitempty"`
	BandScore       float64               `json:"bandScore"`
	Confidence      float64               `json:"confidence"`
	EffectiveWeight float64               `json:"effectiveWeight"`
	Contribution    float64               `json:"contribution"`
	Valid           bool                  `json:"valid"`
	Error           string                `json:"error,omitempty"`
}

// KPIError is a per-KPI scoring failure that did not abort the computation.
type KPIError struct {
	KPIID   string `json:"kpiId"`
	Message string `json:"message"`
}

// Category returns the named category score.
func (b *ScoreBreakdown) Category(id string) (*CategoryScore, bool) {
	for i := range b.Categories {
		if b.Categories[i].ID == id {
			return &b.Categories[i], true
		}
	}
	return nil, false
}

// SubCategory returns the named sub-category score.
func (b *ScoreBreakdown) SubCategory(id string) (*SubCategoryScore, bool) {
	for i := range b.Categories {
		for j := range b.Categories[i].SubCategories {
			if b.Categories[i].SubCategories[j].ID == id {
				return &b.Categories[i].SubCategories[j], true
			}
		}
	}
	return nil, false
}

// TraceFor returns the trace entry for kpiID.
func (b *ScoreBreakdown) TraceFor(kpiID string) (*TraceEntry, bool) {
	for i := range b.Trace {
		if b.Trace[i].KPIID == kpiID {
			return &b.Trace[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy; published breakdowns are frozen this way.
func (b *ScoreBreakdown) Clone() *ScoreBreakdown {
	if b == nil {
		return nil
	}
	c := *b

	if b.Categories != nil {
		c.Categories = make([]CategoryScore, len(b.Categories))
		for i, cat := range b.Categories {
			if cat.SubCategories != nil {
				cat.SubCategories = append(make([]SubCategoryScore, 0, len(cat.SubCategories)), cat.SubCategories...)
			}
			c.Categories[i] = cat
		}
	}
	if b.FatalFlags != nil {
		c.FatalFlags = make([]TriggeredFlag, len(b.FatalFlags))
		for i, f := range b.FatalFlags {
			if f.Cap != nil {
				v := *f.Cap
				f.Cap = &v
			}
			c.FatalFlags[i] = f
		}
	}
	if b.Adjustments != nil {
		c.Adjustments = append(make([]Adjustment, 0, len(b.Adjustments)), b.Adjustments...)
	}
	if b.Recommendations != nil {
		c.Recommendations = append(make([]Recommendation, 0, len(b.Recommendations)), b.Recommendations...)
	}
	if b.Errors != nil {
		c.Errors = append(make([]KPIError, 0, len(b.Errors)), b.Errors...)
	}
	if b.Trace != nil {
		c.Trace = make([]TraceEntry, len(b.Trace))
		for i, e := range b.Trace {
			e.Value = CloneValue(e.Value)
			c.Trace[i] = e
		}
	}
	return &c
}
