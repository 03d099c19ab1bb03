// pkg/registry/types.go
package registry

import "strings"

// Stage is a startup lifecycle phase. Stages are totally ordered.
type Stage string

const (
	StageIdea             Stage = "idea"
	StageMVPNoTraction    Stage = "mvp_no_traction"
	StageMVPEarlyTraction Stage = "mvp_early_traction"
	StageGrowth           Stage = "growth"
	StageScale            Stage = "scale"
)

// Stages lists every stage in ascending order.
var Stages = []Stage{StageIdea, StageMVPNoTraction, StageMVPEarlyTraction, StageGrowth, StageScale}

// Rank returns the position of s in the stage ordering, or -1 if s is unknown.
func (s Stage) Rank() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool { return s.Rank() >= 0 }

// AtLeast reports whether s is the same as or later than other.
func (s Stage) AtLeast(other Stage) bool {
	return s.Rank() >= other.Rank()
}

type QuestionType string

const (
	TypeBoolean   QuestionType = "boolean"
	TypeNumber    QuestionType = "number"
	TypeEnum      QuestionType = "enum"
	TypeComposite QuestionType = "composite"
)

func (t QuestionType) Valid() bool {
	switch t {
	case TypeBoolean, TypeNumber, TypeEnum, TypeComposite:
		return true
	}
	return false
}

// EvidenceType is the kind of evidence backing a response.
type EvidenceType string

const (
	EvidenceSelfReported     EvidenceType = "self_reported"
	EvidenceDocumentUploaded EvidenceType = "document_uploaded"
	EvidenceLinkedInVerified EvidenceType = "linkedin_verified"
	EvidenceReferenceCheck   EvidenceType = "reference_check"
	EvidenceCAVerified       EvidenceType = "ca_verified"
)

// DefaultConfidence is used when a KPI does not declare a coefficient for an
// evidence type.
var DefaultConfidence = map[EvidenceType]float64{
	EvidenceSelfReported:     0.6,
	EvidenceDocumentUploaded: 1.0,
	EvidenceLinkedInVerified: 0.9,
	EvidenceReferenceCheck:   1.0,
	EvidenceCAVerified:       1.0,
}

func (e EvidenceType) Valid() bool {
	_, ok := DefaultConfidence[e]
	return ok
}

// Volatility classes map to per-day decay rates.
var DecayClasses = map[string]float64{
	"high":    0.1,
	"default": 0.005,
	"low":     0.001,
}

// Default band scores for the conventional traffic-light bands.
var DefaultBandScores = map[string]float64{
	"green":  1.0,
	"yellow": 0.5,
	"red":    0.0,
}

// Startup attributes that applicability conditions may reference.
const (
	AttrIsSoloFounder = "is_solo_founder"
	AttrHasRevenue    = "has_revenue"
	AttrHasMVP        = "has_mvp"
	AttrBusinessModel = "business_model"
)

// Attributes maps each recognised startup attribute to the value type it carries.
var Attributes = map[string]QuestionType{
	AttrIsSoloFounder: TypeBoolean,
	AttrHasRevenue:    TypeBoolean,
	AttrHasMVP:        TypeBoolean,
	AttrBusinessModel: TypeEnum,
}

// BusinessModelSaaS is the business_model value matched by the saas_only gate.
const BusinessModelSaaS = "saas"

// NormalizeBusinessModel folds a business_model value to the lower-case form
// conditions compare against, so "SaaS" and "saas" are the same model.
func NormalizeBusinessModel(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Scope names what a fatal flag or dependency rule adjusts.
type Scope string

const (
	ScopeOverall  Scope = "overall"
	ScopeCategory Scope = "category"
	ScopeKPI      Scope = "kpi"
)

// Action is the adjustment a dependency rule applies to its target.
type Action string

const (
	ActionMultiply Action = "multiply"
	ActionPenalty  Action = "penalty"
	ActionCap      Action = "cap"
)

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const (
	DefaultWeightTolerance = 0.01
	DefaultScoreMin        = 300
	DefaultScoreMax        = 900
	DefaultThresholdKey    = "default"
)

// DefaultScoreBands are the critical..excellent cutoffs on the 300-900 range.
func DefaultScoreBands() []ScoreBand {
	return []ScoreBand{
		{Band: "critical", Max: intPtr(400)},
		{Band: "poor", Max: intPtr(550)},
		{Band: "fair", Max: intPtr(680)},
		{Band: "good", Max: intPtr(800)},
		{Band: "excellent"},
	}
}

func intPtr(v int) *int { return &v }
