// pkg/registry/value.go
package registry

import (
	"fmt"
	"sort"
)

// ValidateValue checks that v is a well-formed answer to the KPI.
func (k *KPI) ValidateValue(v interface{}) error {
	if v == nil {
		return fmt.Errorf("value is required")
	}
	if k.Type != TypeComposite {
		return validateScalar(k.Type, k.Options, k.Range, v)
	}

	m, ok := v.(map[string]interface{})
	if !ok {
		return fmt.Errorf("expected an object, got %T", v)
	}

	declared := make(map[string]Field, len(k.Fields))
	for _, f := range k.Fields {
		declared[f.Name] = f
		if _, present := m[f.Name]; f.Required && !present {
			return fmt.Errorf("field %s is required", f.Name)
		}
	}

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f, ok := declared[name]
		if !ok {
			return fmt.Errorf("unknown field %s", name)
		}
		if m[name] == nil {
			if f.Required {
				return fmt.Errorf("field %s is required", name)
			}
			continue
		}
		if err := validateScalar(f.Type, f.Options, f.Range, m[name]); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}
	return nil
}

func validateScalar(t QuestionType, options []string, rng *NumberRange, v interface{}) error {
	switch t {
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected a boolean, got %T", v)
		}
	case TypeNumber:
		x, ok := ToFloat(v)
		if !ok {
			return fmt.Errorf("expected a number, got %T", v)
		}
		if rng != nil {
			if rng.Min != nil && x < *rng.Min {
				return fmt.Errorf("%v is below minimum %v", x, *rng.Min)
			}
			if rng.Max != nil && x > *rng.Max {
				return fmt.Errorf("%v is above maximum %v", x, *rng.Max)
			}
		}
	case TypeEnum:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected a string, got %T", v)
		}
		if !contains(options, s) {
			return fmt.Errorf("%q is not one of %v", s, options)
		}
	default:
		return fmt.Errorf("unsupported type %q", t)
	}
	return nil
}
