// pkg/registry/conditions.go
package registry

import "fmt"

// ConditionKind is the closed set of applicability predicate variants.
type ConditionKind string

const (
	ConditionStage     ConditionKind = "stage"
	ConditionAttribute ConditionKind = "attribute"
	ConditionAnswer    ConditionKind = "answer"
)

// Condition is one conjunct of a KPI's applicability predicate.
//
// Stage conditions hold when the startup's stage is at least MinStage.
// Attribute conditions hold when Compare matches the named startup attribute.
// Answer conditions compare another KPI's answer; with Skip set the KPI is
// excluded when the comparison matches. Answer conditions hold whenever the
// referenced KPI is unanswered or itself inapplicable.
type Condition struct {
	Kind      ConditionKind
	Source    string
	MinStage  Stage
	Attribute string
	KPI       string
	Skip      bool
	Compare   Comparison
}

func (c Condition) String() string {
	switch c.Kind {
	case ConditionStage:
		return fmt.Sprintf("stage>=%s", c.MinStage)
	case ConditionAttribute:
		return fmt.Sprintf("%s %s", c.Attribute, c.Compare.Op)
	case ConditionAnswer:
		if c.Skip {
			return fmt.Sprintf("skip_if %s %s", c.KPI, c.Compare.Op)
		}
		return fmt.Sprintf("requires %s %s", c.KPI, c.Compare.Op)
	}
	return string(c.Kind)
}

// Named gates expand into attribute conditions.
var gateConditions = map[string]Condition{
	"solo_only": {
		Kind: ConditionAttribute, Attribute: AttrIsSoloFounder,
		Compare: Comparison{Op: OpEq, Value: true},
	},
	"team_only": {
		Kind: ConditionAttribute, Attribute: AttrIsSoloFounder,
		Compare: Comparison{Op: OpEq, Value: false},
	},
	"revenue_dependent": {
		Kind: ConditionAttribute, Attribute: AttrHasRevenue,
		Compare: Comparison{Op: OpEq, Value: true},
	},
	"mvp_dependent": {
		Kind: ConditionAttribute, Attribute: AttrHasMVP,
		Compare: Comparison{Op: OpEq, Value: true},
	},
	"saas_only": {
		Kind: ConditionAttribute, Attribute: AttrBusinessModel,
		Compare: Comparison{Op: OpEq, Value: BusinessModelSaaS},
	},
}

// compileConditions turns the declarative applicability block into conditions.
// Unknown gates are reported by validation before this runs.
func compileConditions(a Applicability) []Condition {
	var out []Condition

	if !a.Universal && a.MinStage != "" {
		out = append(out, Condition{Kind: ConditionStage, Source: "min_stage", MinStage: a.MinStage})
	}

	for _, gate := range a.Gates {
		if c, ok := gateConditions[gate]; ok {
			c.Source = gate
			out = append(out, c)
		}
	}

	for _, rule := range a.When {
		cmp := rule.Comparison
		if rule.Attribute == AttrBusinessModel {
			cmp = foldBusinessModel(cmp)
		}
		out = append(out, Condition{
			Kind:      ConditionAttribute,
			Source:    "when",
			Attribute: rule.Attribute,
			Compare:   cmp,
		})
	}

	for _, rule := range a.Requires {
		out = append(out, Condition{
			Kind:    ConditionAnswer,
			Source:  "requires",
			KPI:     rule.KPI,
			Compare: rule.Comparison,
		})
	}

	for _, rule := range a.SkipIf {
		out = append(out, Condition{
			Kind:    ConditionAnswer,
			Source:  "skip_if",
			KPI:     rule.KPI,
			Skip:    true,
			Compare: rule.Comparison,
		})
	}

	return out
}

// answerReferences returns the KPI ids an applicability block depends on.
func answerReferences(a Applicability) []string {
	var refs []string
	for _, r := range a.Requires {
		refs = append(refs, r.KPI)
	}
	for _, r := range a.SkipIf {
		refs = append(refs, r.KPI)
	}
	return refs
}

func foldBusinessModel(c Comparison) Comparison {
	if v, ok := c.Value.(string); ok {
		c.Value = NormalizeBusinessModel(v)
	}
	if len(c.Values) > 0 {
		values := make([]interface{}, len(c.Values))
		for i, v := range c.Values {
			if str, ok := v.(string); ok {
				v = NormalizeBusinessModel(str)
			}
			values[i] = v
		}
		c.Values = values
	}
	return c
}
