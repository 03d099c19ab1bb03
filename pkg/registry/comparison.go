// pkg/registry/comparison.go
package registry

import (
	"encoding/json"
	"fmt"
	"math"
)

// Operator is a structured comparison operator used by thresholds and rules.
type Operator string

const (
	OpEq      Operator = "eq"
	OpNe      Operator = "ne"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpBetween Operator = "between"
	OpIn      Operator = "in"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpBetween, OpIn:
		return true
	}
	return false
}

func (o Operator) numeric() bool {
	switch o {
	case OpGt, OpGte, OpLt, OpLte, OpBetween:
		return true
	}
	return false
}

// Comparison is a predicate over a single answer value. Field selects a
// sub-field of a composite answer.
type Comparison struct {
	Field  string        `yaml:"field,omitempty" json:"field,omitempty"`
	Op     Operator      `yaml:"op" json:"op"`
	Value  interface{}   `yaml:"value,omitempty" json:"value,omitempty"`
	Values []interface{} `yaml:"values,omitempty" json:"values,omitempty"`
	Min    *float64      `yaml:"min,omitempty" json:"min,omitempty"`
	Max    *float64      `yaml:"max,omitempty" json:"max,omitempty"`
}

// Match evaluates the comparison against v. A composite answer lacking the
// selected field never matches.
func (c Comparison) Match(v interface{}) (bool, error) {
	if c.Field != "" {
		m, ok := v.(map[string]interface{})
		if !ok {
			return false, fmt.Errorf("field %q requires a composite value, got %T", c.Field, v)
		}
		fv, present := m[c.Field]
		if !present || fv == nil {
			return false, nil
		}
		v = fv
	}

	switch c.Op {
	case OpEq:
		return Equal(v, c.Value), nil
	case OpNe:
		return !Equal(v, c.Value), nil
	case OpIn:
		for _, candidate := range c.Values {
			if Equal(v, candidate) {
				return true, nil
			}
		}
		return false, nil
	case OpGt, OpGte, OpLt, OpLte:
		x, ok := ToFloat(v)
		if !ok {
			return false, fmt.Errorf("operator %s requires a number, got %T", c.Op, v)
		}
		bound, ok := ToFloat(c.Value)
		if !ok {
			return false, fmt.Errorf("operator %s has non-numeric bound %v", c.Op, c.Value)
		}
		switch c.Op {
		case OpGt:
			return x > bound, nil
		case OpGte:
			return x >= bound, nil
		case OpLt:
			return x < bound, nil
		default:
			return x <= bound, nil
		}
	case OpBetween:
		x, ok := ToFloat(v)
		if !ok {
			return false, fmt.Errorf("operator between requires a number, got %T", v)
		}
		if c.Min == nil || c.Max == nil {
			return false, fmt.Errorf("operator between requires min and max")
		}
		return x >= *c.Min && x <= *c.Max, nil
	}
	return false, fmt.Errorf("unknown operator %q", c.Op)
}

// Boundary returns the numeric threshold nearest to x for numeric operators.
func (c Comparison) Boundary(x float64) (float64, bool) {
	switch c.Op {
	case OpGt, OpGte, OpLt, OpLte:
		return ToFloat(c.Value)
	case OpBetween:
		if c.Min == nil || c.Max == nil {
			return 0, false
		}
		if math.Abs(x-*c.Min) <= math.Abs(x-*c.Max) {
			return *c.Min, true
		}
		return *c.Max, true
	}
	return 0, false
}

// Equal compares two answer values, treating all numeric kinds as float64.
func Equal(a, b interface{}) bool {
	if af, ok := ToFloat(a); ok {
		bf, ok := ToFloat(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return false
}

// ToFloat converts any numeric kind produced by JSON or YAML decoding.
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
