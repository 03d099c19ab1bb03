// internal/workers/assessment/get-applicable-kpis/models.go
package getapplicablekpis

import (
	"strings"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/validation"
	"readiness-workers/internal/engine/applicability"
	"readiness-workers/pkg/registry"
)

type Input struct {
	AssessmentID string `json:"assessmentId"`
	Limit        int    `json:"limit"`
}

type Output struct {
	AssessmentID     string                       `json:"assessmentId"`
	Stage            string                       `json:"stage"`
	FrameworkVersion string                       `json:"frameworkVersion"`
	ApplicableKPIs   []string                     `json:"applicableKpis"`
	Excluded         map[string]string            `json:"excluded,omitempty"`
	MissingRequired  []string                     `json:"missingRequired"`
	NextQuestions    []Question                   `json:"nextQuestions"`
	Progress         applicability.ProgressReport `json:"progress"`
	ReadyToComplete  bool                         `json:"readyToComplete"`
}

// Question is what a client needs to render the next prompt.
type Question struct {
	KPIID       string                `json:"kpiId"`
	Category    string                `json:"category"`
	SubCategory string                `json:"subCategory"`
	Question    string                `json:"question"`
	Type        registry.QuestionType `json:"type"`
	Options     []string              `json:"options,omitempty"`
	Optional    bool                  `json:"optional"`
}

func questionFor(k *registry.KPI) Question {
	return Question{
		KPIID:       k.ID,
		Category:    k.Category(),
		SubCategory: k.SubCategory(),
		Question:    k.Question,
		Type:        k.Type,
		Options:     k.Options,
		Optional:    k.Optional,
	}
}

var inputSchema = validation.MustCompile([]byte(`{
	"type": "object",
	"properties": {
		"assessmentId": {"type": "string", "minLength": 1},
		"limit": {"type": "integer", "minimum": 0, "maximum": 100}
	},
	"required": ["assessmentId"]
}`))

func validateInput(raw []byte) error {
	result, err := inputSchema.ValidateJSON(raw)
	if err != nil {
		return errors.NewInvalidInputError(err.Error())
	}
	if !result.Valid {
		return errors.NewInvalidInputError(strings.Join(result.GetErrorMessages(), "; "))
	}
	return nil
}
