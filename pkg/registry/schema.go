// pkg/registry/schema.go
package registry

// Document is the on-disk shape of a KPI framework, in YAML or JSON.
type Document struct {
	FrameworkVersion string            `yaml:"framework_version" json:"framework_version"`
	WeightTolerance  float64           `yaml:"weight_tolerance,omitempty" json:"weight_tolerance,omitempty"`
	ScoreRange       *ScoreRange       `yaml:"score_range,omitempty" json:"score_range,omitempty"`
	ScoreBands       []ScoreBand       `yaml:"score_bands,omitempty" json:"score_bands,omitempty"`
	Categories       []*Category       `yaml:"categories" json:"categories"`
	FatalFlags       []*FatalFlagRule  `yaml:"fatal_flags,omitempty" json:"fatal_flags,omitempty"`
	Dependencies     []*DependencyRule `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

type ScoreRange struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// ScoreBand classifies final scores up to and including Max. The last band
// may omit Max and catches everything above the previous cutoff.
type ScoreBand struct {
	Band string `yaml:"band" json:"band"`
	Max  *int   `yaml:"max,omitempty" json:"max,omitempty"`
}

type Category struct {
	ID            string            `yaml:"id" json:"id"`
	Name          string            `yaml:"name" json:"name"`
	Weights       map[Stage]float64 `yaml:"weights" json:"weights"`
	SubCategories []*SubCategory    `yaml:"sub_categories" json:"sub_categories"`
}

// WeightFor returns the category weight at stage, zero when undeclared.
func (c *Category) WeightFor(stage Stage) float64 {
	return c.Weights[stage]
}

// SubCategory carries either one weight for every stage or per-stage weights.
type SubCategory struct {
	ID      string            `yaml:"id" json:"id"`
	Name    string            `yaml:"name" json:"name"`
	Weight  *float64          `yaml:"weight,omitempty" json:"weight,omitempty"`
	Weights map[Stage]float64 `yaml:"weights,omitempty" json:"weights,omitempty"`
	KPIs    []*KPI            `yaml:"kpis" json:"kpis"`

	category string
}

func (s *SubCategory) WeightFor(stage Stage) float64 {
	if w, ok := s.Weights[stage]; ok {
		return w
	}
	if s.Weight != nil {
		return *s.Weight
	}
	return 0
}

// Category returns the id of the owning category.
func (s *SubCategory) Category() string { return s.category }

type KPI struct {
	ID               string                   `yaml:"id" json:"id"`
	Question         string                   `yaml:"question" json:"question"`
	Type             QuestionType             `yaml:"type" json:"type"`
	BaseWeight       float64                  `yaml:"base_weight" json:"base_weight"`
	Optional         bool                     `yaml:"optional,omitempty" json:"optional,omitempty"`
	StageMultipliers map[Stage]float64        `yaml:"stage_multipliers,omitempty" json:"stage_multipliers,omitempty"`
	Confidence       map[EvidenceType]float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	Freshness        *Freshness               `yaml:"freshness,omitempty" json:"freshness,omitempty"`
	Applicability    Applicability            `yaml:"applicability,omitempty" json:"applicability,omitempty"`
	Thresholds       map[string][]*Band       `yaml:"thresholds" json:"thresholds"`
	Options          []string                 `yaml:"options,omitempty" json:"options,omitempty"`
	Range            *NumberRange             `yaml:"range,omitempty" json:"range,omitempty"`
	Fields           []Field                  `yaml:"fields,omitempty" json:"fields,omitempty"`

	subCategory string
	category    string
	conditions  []Condition
}

func (k *KPI) SubCategory() string { return k.subCategory }
func (k *KPI) Category() string    { return k.category }

// Conditions returns the compiled applicability predicate; all must hold.
func (k *KPI) Conditions() []Condition { return k.conditions }

// Required reports whether completion needs an answer to this KPI.
func (k *KPI) Required() bool { return !k.Optional }

// StageMultiplier defaults to 1.0 for stages the KPI does not mention.
func (k *KPI) StageMultiplier(stage Stage) float64 {
	if m, ok := k.StageMultipliers[stage]; ok {
		return m
	}
	return 1.0
}

// EffectiveWeight is base_weight x stage multiplier.
func (k *KPI) EffectiveWeight(stage Stage) float64 {
	return k.BaseWeight * k.StageMultiplier(stage)
}

// ConfidenceFor returns the KPI's coefficient for e, falling back to DefaultConfidence.
func (k *KPI) ConfidenceFor(e EvidenceType) float64 {
	if c, ok := k.Confidence[e]; ok {
		return c
	}
	return DefaultConfidence[e]
}

// BandsFor returns the bands for stage, highest score first.
func (k *KPI) BandsFor(stage Stage) []*Band {
	if bands, ok := k.Thresholds[string(stage)]; ok {
		return bands
	}
	return k.Thresholds[DefaultThresholdKey]
}

// TopScore is the highest band score available at stage.
func (k *KPI) TopScore(stage Stage) float64 {
	bands := k.BandsFor(stage)
	if len(bands) == 0 {
		return 0
	}
	return bands[0].ScoreValue()
}

// Freshness declares that verifying evidence ages. Lambda wins over Class.
type Freshness struct {
	Lambda *float64 `yaml:"lambda,omitempty" json:"lambda,omitempty"`
	Class  string   `yaml:"class,omitempty" json:"class,omitempty"`
}

// DecayRate returns the per-day decay rate.
func (f *Freshness) DecayRate() float64 {
	if f == nil {
		return 0
	}
	if f.Lambda != nil {
		return *f.Lambda
	}
	if rate, ok := DecayClasses[f.Class]; ok {
		return rate
	}
	return DecayClasses["default"]
}

type Applicability struct {
	Universal bool            `yaml:"universal,omitempty" json:"universal,omitempty"`
	MinStage  Stage           `yaml:"min_stage,omitempty" json:"min_stage,omitempty"`
	Gates     []string        `yaml:"gates,omitempty" json:"gates,omitempty"`
	When      []AttributeRule `yaml:"when,omitempty" json:"when,omitempty"`
	Requires  []AnswerRule    `yaml:"requires,omitempty" json:"requires,omitempty"`
	SkipIf    []AnswerRule    `yaml:"skip_if,omitempty" json:"skip_if,omitempty"`
}

// AttributeRule compares a startup attribute.
type AttributeRule struct {
	Attribute  string `yaml:"attribute" json:"attribute"`
	Comparison `yaml:",inline"`
}

// AnswerRule compares the current answer of another KPI.
type AnswerRule struct {
	KPI        string `yaml:"kpi" json:"kpi"`
	Comparison `yaml:",inline"`
}

// Band maps answers matching When to a normalized score.
type Band struct {
	Band  string     `yaml:"band" json:"band"`
	Score *float64   `yaml:"score,omitempty" json:"score,omitempty"`
	When  Comparison `yaml:"when" json:"when"`
}

func (b *Band) ScoreValue() float64 {
	if b.Score != nil {
		return *b.Score
	}
	return DefaultBandScores[b.Band]
}

type NumberRange struct {
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// Field is one member of a composite answer.
type Field struct {
	Name     string       `yaml:"name" json:"name"`
	Type     QuestionType `yaml:"type" json:"type"`
	Options  []string     `yaml:"options,omitempty" json:"options,omitempty"`
	Range    *NumberRange `yaml:"range,omitempty" json:"range,omitempty"`
	Required bool         `yaml:"required,omitempty" json:"required,omitempty"`
}

// Target names the scope adjusted by a rule.
type Target struct {
	Scope Scope  `yaml:"scope" json:"scope"`
	ID    string `yaml:"id,omitempty" json:"id,omitempty"`
}

func (t Target) String() string {
	if t.Scope == ScopeOverall {
		return string(ScopeOverall)
	}
	return string(t.Scope) + ":" + t.ID
}

// FatalFlagRule caps a scope (and optionally deducts points) when the KPI's
// answer matches Trigger. Cap is a fraction of the scope's maximum.
type FatalFlagRule struct {
	ID            string     `yaml:"id" json:"id"`
	KPI           string     `yaml:"kpi" json:"kpi"`
	Trigger       Comparison `yaml:"trigger" json:"trigger"`
	WhenMissing   bool       `yaml:"when_missing,omitempty" json:"when_missing,omitempty"`
	Target        Target     `yaml:"target" json:"target"`
	Cap           *float64   `yaml:"cap,omitempty" json:"cap,omitempty"`
	PenaltyPoints int        `yaml:"penalty_points,omitempty" json:"penalty_points,omitempty"`
	Severity      string     `yaml:"severity,omitempty" json:"severity,omitempty"`
	Message       string     `yaml:"message" json:"message"`
}

// DependencySource is either a KPI answer or a category score fraction.
type DependencySource struct {
	KPI         string     `yaml:"kpi,omitempty" json:"kpi,omitempty"`
	Category    string     `yaml:"category,omitempty" json:"category,omitempty"`
	When        Comparison `yaml:"when" json:"when"`
	WhenMissing bool       `yaml:"when_missing,omitempty" json:"when_missing,omitempty"`
}

type DependencyRule struct {
	ID     string           `yaml:"id" json:"id"`
	Source DependencySource `yaml:"source" json:"source"`
	Target Target           `yaml:"target" json:"target"`
	Action Action           `yaml:"action" json:"action"`
	Value  float64          `yaml:"value" json:"value"`
	Reason string           `yaml:"reason" json:"reason"`
}
