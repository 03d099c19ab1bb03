// internal/importer/workbook.go
package importer

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"readiness-workers/internal/common/errors"
	"readiness-workers/pkg/registry"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// Options controls how a workbook is read.
type Options struct {
	FrameworkVersion string
	// Sheet defaults to the first sheet.
	Sheet string
}

// Column aliases, matched case-insensitively against the header row.
var (
	colCategory        = []string{"category"}
	colCategoryWeight  = []string{"category weight", "category weights"}
	colSubCategory     = []string{"sub-category", "subcategory", "sub category"}
	colSubWeight       = []string{"sub-category weight", "subcategory weight", "sub category weight"}
	colKPIID           = []string{"kpi id", "kpi_id", "id"}
	colQuestion        = []string{"kpi / input (human question format)", "question", "kpi"}
	colType            = []string{"type"}
	colBaseWeight      = []string{"kpi base weight", "base weight"}
	colOptional        = []string{"optional"}
	colOptions         = []string{"options"}
	colRange           = []string{"range"}
	colMultipliers     = []string{"stage weight multipliers", "stage multipliers"}
	colApplicability   = []string{"universal/conditional", "applicability"}
	colMinStage        = []string{"min stage"}
	colSkipCondition   = []string{"skip condition", "skip if"}
	colConfidence      = []string{"confidence scoring method", "confidence"}
	colFatalFlag       = []string{"fatal flag"}
	colFatalTrigger    = []string{"fatal flag trigger condition", "fatal flag trigger"}
	colFatalCap        = []string{"fatal flag cap", "fatal cap"}
	colFatalPenalty    = []string{"fatal flag penalty", "fatal penalty"}
	colFatalMessage    = []string{"fatal flag message"}
	scoringLogicPrefix = "scoring logic"
)

var bandLetters = map[string]string{"g": "green", "y": "yellow", "r": "red"}

// ReadWorkbook converts a KPI workbook into a framework document. Rows are
// grouped into categories and sub-categories in first-seen order. Every
// malformed cell is reported together in one CONFIGURATION_ERROR.
func ReadWorkbook(r io.Reader, opts Options) (*registry.Document, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.NewConfigurationError("workbook", err.Error())
	}
	defer f.Close()
	return FromFile(f, opts)
}

// FromFile reads an already opened workbook.
func FromFile(f *excelize.File, opts Options) (*registry.Document, error) {
	sheet := opts.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.NewConfigurationError("workbook", err.Error())
	}
	if len(rows) < 2 {
		return nil, errors.NewConfigurationError("workbook", "sheet needs a header row and at least one KPI row")
	}

	p := newParser(rows[0])
	if missing := p.missingColumns(); len(missing) > 0 {
		return nil, errors.NewConfigurationError("workbook", "missing columns: "+strings.Join(missing, ", "))
	}

	doc := &registry.Document{FrameworkVersion: opts.FrameworkVersion}
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		p.row(doc, i+2, row)
	}
	if len(p.problems) > 0 {
		return nil, errors.NewConfigurationErrors(p.problems)
	}
	return doc, nil
}

// ToYAML renders doc in the registry's YAML form.
func ToYAML(doc *registry.Document) ([]byte, error) {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode framework: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

type parser struct {
	cols     map[string]int
	scoring  map[string]int // threshold key -> column
	problems []string

	categories map[string]*registry.Category
	subs       map[string]*registry.SubCategory
}

func newParser(header []string) *parser {
	p := &parser{
		cols:       map[string]int{},
		scoring:    map[string]int{},
		categories: map[string]*registry.Category{},
		subs:       map[string]*registry.SubCategory{},
	}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if strings.HasPrefix(name, scoringLogicPrefix) {
			key := registry.DefaultThresholdKey
			if open := strings.Index(name, "("); open >= 0 && strings.HasSuffix(name, ")") {
				key = strings.ToLower(strings.TrimSpace(name[open+1 : len(name)-1]))
			}
			p.scoring[key] = i
			continue
		}
		if _, dup := p.cols[name]; !dup {
			p.cols[name] = i
		}
	}
	return p
}

func (p *parser) index(aliases []string) int {
	for _, a := range aliases {
		if i, ok := p.cols[a]; ok {
			return i
		}
	}
	return -1
}

func (p *parser) missingColumns() []string {
	var missing []string
	for _, required := range [][]string{colCategory, colSubCategory, colKPIID, colType, colBaseWeight} {
		if p.index(required) < 0 {
			missing = append(missing, required[0])
		}
	}
	if len(p.scoring) == 0 {
		missing = append(missing, scoringLogicPrefix)
	}
	return missing
}

func (p *parser) cell(row []string, aliases []string) string {
	i := p.index(aliases)
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (p *parser) addf(line int, format string, args ...interface{}) {
	p.problems = append(p.problems, fmt.Sprintf("row %d: %s", line, fmt.Sprintf(format, args...)))
}

func (p *parser) row(doc *registry.Document, line int, row []string) {
	catName := p.cell(row, colCategory)
	subName := p.cell(row, colSubCategory)
	if catName == "" || subName == "" {
		p.addf(line, "category and sub-category are required")
		return
	}

	cat, ok := p.categories[Slug(catName)]
	if !ok {
		cat = &registry.Category{ID: Slug(catName), Name: catName}
		p.categories[cat.ID] = cat
		doc.Categories = append(doc.Categories, cat)
	}
	if raw := p.cell(row, colCategoryWeight); raw != "" && cat.Weights == nil {
		weights, err := stageWeights(raw)
		if err != nil {
			p.addf(line, "category weight: %v", err)
		}
		cat.Weights = weights
	}

	sub, ok := p.subs[Slug(subName)]
	if !ok {
		sub = &registry.SubCategory{ID: Slug(subName), Name: subName}
		p.subs[sub.ID] = sub
		cat.SubCategories = append(cat.SubCategories, sub)
	}
	if raw := p.cell(row, colSubWeight); raw != "" && sub.Weight == nil {
		w, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			p.addf(line, "sub-category weight %q is not a number", raw)
		} else {
			sub.Weight = &w
		}
	}

	k, flag := p.kpi(line, row)
	if k == nil {
		return
	}
	sub.KPIs = append(sub.KPIs, k)
	if flag != nil {
		doc.FatalFlags = append(doc.FatalFlags, flag)
	}
}

func (p *parser) kpi(line int, row []string) (*registry.KPI, *registry.FatalFlagRule) {
	id := p.cell(row, colKPIID)
	if id == "" {
		p.addf(line, "kpi id is required")
		return nil, nil
	}
	k := &registry.KPI{
		ID:         id,
		Question:   p.cell(row, colQuestion),
		Type:       registry.QuestionType(strings.ToLower(p.cell(row, colType))),
		Thresholds: map[string][]*registry.Band{},
	}

	w, err := strconv.ParseFloat(p.cell(row, colBaseWeight), 64)
	if err != nil {
		p.addf(line, "%s: base weight %q is not a number", id, p.cell(row, colBaseWeight))
	}
	k.BaseWeight = w
	k.Optional = truthy(p.cell(row, colOptional))

	if raw := p.cell(row, colOptions); raw != "" {
		k.Options = splitList(raw, ",")
	}
	if raw := p.cell(row, colRange); raw != "" {
		rng, err := numberRange(raw)
		if err != nil {
			p.addf(line, "%s: range: %v", id, err)
		}
		k.Range = rng
	}
	if raw := p.cell(row, colMultipliers); raw != "" {
		m, err := stageMap(raw)
		if err != nil {
			p.addf(line, "%s: stage multipliers: %v", id, err)
		}
		k.StageMultipliers = m
	}
	if raw := p.cell(row, colConfidence); raw != "" {
		k.Confidence = confidenceMap(raw)
	}

	k.Applicability = p.applicability(line, id, row)

	keys := make([]string, 0, len(p.scoring))
	for key := range p.scoring {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		i := p.scoring[key]
		if i >= len(row) || strings.TrimSpace(row[i]) == "" {
			continue
		}
		bands, err := scoringLogic(row[i])
		if err != nil {
			p.addf(line, "%s: scoring logic (%s): %v", id, key, err)
			continue
		}
		k.Thresholds[key] = bands
	}

	return k, p.fatalFlag(line, id, row)
}

func (p *parser) applicability(line int, id string, row []string) registry.Applicability {
	var a registry.Applicability
	raw := p.cell(row, colApplicability)
	for _, part := range splitList(raw, ",") {
		switch strings.ToLower(part) {
		case "universal", "universal core":
			a.Universal = true
		case "conditional":
		default:
			a.Gates = append(a.Gates, strings.ToLower(part))
		}
	}
	if raw == "" {
		a.Universal = true
	}
	if stage := p.cell(row, colMinStage); stage != "" {
		a.MinStage = registry.Stage(strings.ToLower(stage))
		a.Universal = false
	}
	if raw := p.cell(row, colSkipCondition); raw != "" {
		// "<kpi id> <op> <value>"
		fields := strings.Fields(raw)
		if len(fields) < 3 {
			p.addf(line, "%s: skip condition %q needs a kpi, an operator and a value", id, raw)
		} else {
			cmp, err := comparison(strings.Join(fields[1:], " "))
			if err != nil {
				p.addf(line, "%s: skip condition: %v", id, err)
			} else {
				a.SkipIf = append(a.SkipIf, registry.AnswerRule{KPI: fields[0], Comparison: cmp})
			}
		}
	}
	if len(a.Gates) > 0 || len(a.SkipIf) > 0 {
		a.Universal = false
	}
	return a
}

func (p *parser) fatalFlag(line int, id string, row []string) *registry.FatalFlagRule {
	if !truthy(p.cell(row, colFatalFlag)) {
		return nil
	}
	trigger := p.cell(row, colFatalTrigger)
	if trigger == "" {
		trigger = "eq false"
	}
	cmp, err := comparison(trigger)
	if err != nil {
		p.addf(line, "%s: fatal flag trigger: %v", id, err)
		return nil
	}

	flag := &registry.FatalFlagRule{
		ID:       "ff_" + id,
		KPI:      id,
		Trigger:  cmp,
		Target:   registry.Target{Scope: registry.ScopeOverall},
		Severity: registry.SeverityCritical,
		Message:  p.cell(row, colFatalMessage),
	}
	if flag.Message == "" {
		flag.Message = fmt.Sprintf("%s triggered a fatal flag", id)
	}
	if raw := p.cell(row, colFatalCap); raw != "" {
		c, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			p.addf(line, "%s: fatal flag cap %q is not a number", id, raw)
		}
		flag.Cap = &c
	}
	if raw := p.cell(row, colFatalPenalty); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			p.addf(line, "%s: fatal flag penalty %q is not an integer", id, raw)
		}
		flag.PenaltyPoints = n
	}
	if flag.Cap == nil && flag.PenaltyPoints == 0 {
		c := 0.4
		flag.Cap = &c
	}
	return flag
}

// scoringLogic parses "G: gte 20 | Y: gte 10 | R: lt 10". Band names may be
// spelled out instead of using their initial.
func scoringLogic(raw string) ([]*registry.Band, error) {
	var bands []*registry.Band
	for _, part := range splitList(raw, "|") {
		name, cond, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%q has no band label", part)
		}
		band := strings.ToLower(strings.TrimSpace(name))
		if full, ok := bandLetters[band]; ok {
			band = full
		}
		cmp, err := comparison(cond)
		if err != nil {
			return nil, err
		}
		bands = append(bands, &registry.Band{Band: band, When: cmp})
	}
	return bands, nil
}

// comparison parses "<op> <value>", "between <min> <max>" or "in a, b, c".
func comparison(raw string) (registry.Comparison, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) < 2 {
		return registry.Comparison{}, fmt.Errorf("%q needs an operator and a value", raw)
	}
	op := registry.Operator(strings.ToLower(fields[0]))
	if !op.Valid() {
		return registry.Comparison{}, fmt.Errorf("unknown operator %q", fields[0])
	}
	rest := strings.TrimSpace(strings.TrimSpace(raw)[len(fields[0]):])

	switch op {
	case registry.OpBetween:
		if len(fields) != 3 {
			return registry.Comparison{}, fmt.Errorf("between needs a minimum and a maximum")
		}
		lo, err1 := strconv.ParseFloat(fields[1], 64)
		hi, err2 := strconv.ParseFloat(fields[2], 64)
		if err1 != nil || err2 != nil {
			return registry.Comparison{}, fmt.Errorf("between bounds must be numbers")
		}
		return registry.Comparison{Op: op, Min: &lo, Max: &hi}, nil
	case registry.OpIn:
		var values []interface{}
		for _, v := range splitList(rest, ",") {
			values = append(values, scalar(v))
		}
		return registry.Comparison{Op: op, Values: values}, nil
	}
	return registry.Comparison{Op: op, Value: scalar(rest)}, nil
}

// scalar reads a cell fragment as a boolean, a number or a string.
func scalar(s string) interface{} {
	switch strings.ToLower(s) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

// stageWeights accepts one number for every stage or "stage: weight | ...".
func stageWeights(raw string) (map[registry.Stage]float64, error) {
	if w, err := strconv.ParseFloat(raw, 64); err == nil {
		out := make(map[registry.Stage]float64, len(registry.Stages))
		for _, s := range registry.Stages {
			out[s] = w
		}
		return out, nil
	}
	return stageMap(raw)
}

func stageMap(raw string) (map[registry.Stage]float64, error) {
	out := map[registry.Stage]float64{}
	for _, part := range splitList(raw, "|") {
		name, val, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%q is not stage: value", part)
		}
		stage := registry.Stage(strings.ToLower(strings.TrimSpace(name)))
		if !stage.Valid() {
			return nil, fmt.Errorf("unknown stage %q", name)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", val)
		}
		out[stage] = f
	}
	return out, nil
}

// confidenceMap reads "Self-reported: 0.6 | LinkedIn verified: 0.9 | ...".
// Unrecognised labels are skipped.
func confidenceMap(raw string) map[registry.EvidenceType]float64 {
	out := map[registry.EvidenceType]float64{}
	for _, part := range splitList(raw, "|") {
		name, val, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			continue
		}
		label := strings.ToLower(name)
		switch {
		case strings.Contains(label, "self"):
			out[registry.EvidenceSelfReported] = f
		case strings.Contains(label, "linkedin"):
			out[registry.EvidenceLinkedInVerified] = f
		case strings.Contains(label, "document"), strings.Contains(label, "upload"):
			out[registry.EvidenceDocumentUploaded] = f
		case strings.Contains(label, "reference"):
			out[registry.EvidenceReferenceCheck] = f
		case strings.Contains(label, "ca"):
			out[registry.EvidenceCAVerified] = f
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// numberRange reads "min..max"; either side may be empty.
func numberRange(raw string) (*registry.NumberRange, error) {
	lo, hi, ok := strings.Cut(raw, "..")
	if !ok {
		return nil, fmt.Errorf("%q is not min..max", raw)
	}
	rng := &registry.NumberRange{}
	if lo = strings.TrimSpace(lo); lo != "" {
		v, err := strconv.ParseFloat(lo, 64)
		if err != nil {
			return nil, fmt.Errorf("minimum %q is not a number", lo)
		}
		rng.Min = &v
	}
	if hi = strings.TrimSpace(hi); hi != "" {
		v, err := strconv.ParseFloat(hi, 64)
		if err != nil {
			return nil, fmt.Errorf("maximum %q is not a number", hi)
		}
		rng.Max = &v
	}
	return rng, nil
}

// Slug turns a display name into a registry id.
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "&", "and")
	var b strings.Builder
	underscore := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func splitList(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1", "x":
		return true
	}
	return false
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
