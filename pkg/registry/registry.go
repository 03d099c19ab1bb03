// pkg/registry/registry.go
package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/validation"

	"gopkg.in/yaml.v3"
)

//go:embed kpi-framework.schema.json
var frameworkSchemaJSON []byte

var frameworkSchema = validation.MustCompile(frameworkSchemaJSON)

// Format selects the document decoder.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Registry is a validated, immutable KPI framework.
type Registry struct {
	doc *Document

	kpis          map[string]*KPI
	kpiOrder      []*KPI
	evalOrder     []*KPI
	categories    map[string]*Category
	subCategories map[string]*SubCategory
	scoreRange    ScoreRange
	scoreBands    []ScoreBand
	tolerance     float64
}

// Load parses and validates a framework document. Every problem found is
// reported in a single CONFIGURATION_ERROR.
func Load(data []byte, format Format) (*Registry, error) {
	var generic interface{}
	if err := decode(data, format, &generic); err != nil {
		return nil, errors.NewConfigurationError("document", err.Error())
	}

	result, err := frameworkSchema.Validate(generic)
	if err != nil {
		return nil, errors.NewConfigurationError("document", err.Error())
	}
	if !result.Valid {
		return nil, errors.NewConfigurationErrors(prefix("schema", result.GetErrorMessages()))
	}

	var doc Document
	if err := decode(data, format, &doc); err != nil {
		return nil, errors.NewConfigurationError("document", err.Error())
	}

	return build(&doc)
}

// LoadFile reads a framework document from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	return Load(data, FormatFromPath(path))
}

func decode(data []byte, format Format, out interface{}) error {
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		return dec.Decode(out)
	case FormatYAML, "":
		return yaml.Unmarshal(data, out)
	}
	return fmt.Errorf("unsupported format %q", format)
}

func prefix(p string, msgs []string) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = p + ": " + m
	}
	return out
}

func build(doc *Document) (*Registry, error) {
	r := &Registry{
		doc:           doc,
		kpis:          map[string]*KPI{},
		categories:    map[string]*Category{},
		subCategories: map[string]*SubCategory{},
		tolerance:     doc.WeightTolerance,
		scoreRange:    ScoreRange{Min: DefaultScoreMin, Max: DefaultScoreMax},
		scoreBands:    doc.ScoreBands,
	}
	if r.tolerance == 0 {
		r.tolerance = DefaultWeightTolerance
	}
	if doc.ScoreRange != nil {
		r.scoreRange = *doc.ScoreRange
	}
	if len(r.scoreBands) == 0 {
		r.scoreBands = DefaultScoreBands()
	}

	v := &validator{reg: r}
	v.index()
	v.validate()
	if len(v.problems) > 0 {
		return nil, errors.NewConfigurationErrors(v.problems)
	}

	for _, k := range r.kpiOrder {
		k.conditions = compileConditions(k.Applicability)
		sortBands(k)
	}
	return r, nil
}

// sortBands orders every threshold list highest score first; ties keep
// document order.
func sortBands(k *KPI) {
	for key, bands := range k.Thresholds {
		sorted := make([]*Band, len(bands))
		copy(sorted, bands)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].ScoreValue() > sorted[j].ScoreValue()
		})
		k.Thresholds[key] = sorted
	}
}

func (r *Registry) Version() string          { return r.doc.FrameworkVersion }
func (r *Registry) WeightTolerance() float64 { return r.tolerance }
func (r *Registry) ScoreRange() ScoreRange   { return r.scoreRange }

// Categories returns categories in document order.
func (r *Registry) Categories() []*Category { return r.doc.Categories }

func (r *Registry) Category(id string) (*Category, bool) {
	c, ok := r.categories[id]
	return c, ok
}

func (r *Registry) SubCategory(id string) (*SubCategory, bool) {
	s, ok := r.subCategories[id]
	return s, ok
}

func (r *Registry) KPI(id string) (*KPI, bool) {
	k, ok := r.kpis[id]
	return k, ok
}

// KPIs returns every KPI in document order.
func (r *Registry) KPIs() []*KPI { return r.kpiOrder }

// EvaluationOrder returns KPIs ordered so that every KPI follows the KPIs its
// applicability depends on.
func (r *Registry) EvaluationOrder() []*KPI { return r.evalOrder }

func (r *Registry) FatalFlags() []*FatalFlagRule    { return r.doc.FatalFlags }
func (r *Registry) Dependencies() []*DependencyRule { return r.doc.Dependencies }

// ScoreBands returns the configured cutoffs in ascending order.
func (r *Registry) ScoreBands() []ScoreBand { return r.scoreBands }

// Classify maps a final score onto its band.
func (r *Registry) Classify(score int) string {
	for _, b := range r.scoreBands {
		if b.Max == nil || score <= *b.Max {
			return b.Band
		}
	}
	return r.scoreBands[len(r.scoreBands)-1].Band
}

// Store holds the current registry behind an atomic pointer so readers always
// see a complete snapshot.
type Store struct {
	current atomic.Pointer[Registry]
}

func NewStore(r *Registry) *Store {
	s := &Store{}
	s.current.Store(r)
	return s
}

// Current returns the registry snapshot to use for one unit of work.
func (s *Store) Current() *Registry {
	return s.current.Load()
}

// Swap installs r and returns the previous registry.
func (s *Store) Swap(r *Registry) *Registry {
	return s.current.Swap(r)
}

// Reload loads path and swaps it in. On error the current registry is kept.
func (s *Store) Reload(path string) (*Registry, error) {
	r, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	s.Swap(r)
	return r, nil
}
