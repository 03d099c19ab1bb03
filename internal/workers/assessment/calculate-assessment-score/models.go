// internal/workers/assessment/calculate-assessment-score/models.go
package calculateassessmentscore

import (
	"strings"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/validation"
	"readiness-workers/internal/models"
)

type Input struct {
	AssessmentID string `json:"assessmentId"`
	// IncludeTrace keeps the per-KPI trace in the job variables.
	IncludeTrace bool `json:"includeTrace"`
}

type Output struct {
	AssessmentID     string                 `json:"assessmentId"`
	ReadinessScore   int                    `json:"readinessScore"`
	Band             string                 `json:"band"`
	FrameworkVersion string                 `json:"frameworkVersion"`
	FatalFlags       []string               `json:"fatalFlags"`
	Cached           bool                   `json:"cached"`
	Breakdown        *models.ScoreBreakdown `json:"breakdown"`
}

var inputSchema = validation.MustCompile([]byte(`{
	"type": "object",
	"properties": {
		"assessmentId": {"type": "string", "minLength": 1},
		"includeTrace": {"type": "boolean"}
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
