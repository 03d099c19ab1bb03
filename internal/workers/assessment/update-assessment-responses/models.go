// internal/workers/assessment/update-assessment-responses/models.go
package updateassessmentresponses

import (
	"strings"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/validation"
	"readiness-workers/internal/engine/applicability"
	"readiness-workers/internal/models"
)

// Input targets an assessment by id, or the startup's latest one when only
// StartupID is given.
type Input struct {
	AssessmentID string           `json:"assessmentId"`
	StartupID    string           `json:"startupId"`
	Responses    models.Responses `json:"responses"`
}

type Output struct {
	AssessmentID   string                       `json:"assessmentId"`
	Status         string                       `json:"status"`
	Version        int64                        `json:"version"`
	Created        bool                         `json:"created"`
	ReadinessScore int                          `json:"readinessScore"`
	Band           string                       `json:"band"`
	Progress       applicability.ProgressReport `json:"progress"`
	ScoringErrors  []models.KPIError            `json:"scoringErrors,omitempty"`
}

var inputSchema = validation.MustCompile([]byte(`{
	"type": "object",
	"properties": {
		"assessmentId": {"type": "string"},
		"startupId": {"type": "string"},
		"responses": {
			"type": "object",
			"minProperties": 1,
			"additionalProperties": {
				"type": "object",
				"required": ["value"],
				"properties": {
					"evidenceType": {"type": "string"},
					"evidenceRef": {"type": "string"},
					"decayLambda": {"type": "number", "minimum": 0}
				}
			}
		}
	},
	"required": ["responses"],
	"anyOf": [
		{"required": ["assessmentId"]},
		{"required": ["startupId"]}
	]
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
