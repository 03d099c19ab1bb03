// internal/workers/assessment/transition-assessment/models.go
package transitionassessment

import (
	"strings"
	"time"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/validation"
	"readiness-workers/internal/models"
	"readiness-workers/internal/notify"
)

type Input struct {
	AssessmentID string `json:"assessmentId"`
	TargetStatus string `json:"targetStatus"`
}

type Output struct {
	AssessmentID    string     `json:"assessmentId"`
	PreviousStatus  string     `json:"previousStatus"`
	Status          string     `json:"status"`
	Version         int64      `json:"version"`
	ReadinessScore  *int       `json:"readinessScore,omitempty"`
	Band            string     `json:"band,omitempty"`
	PublishedAt     *time.Time `json:"publishedAt,omitempty"`
	SnapshotIndexed bool       `json:"snapshotIndexed"`
	EventPublished  bool       `json:"eventPublished"`
}

var inputSchema = validation.MustCompile([]byte(`{
	"type": "object",
	"properties": {
		"assessmentId": {"type": "string", "minLength": 1},
		"targetStatus": {"type": "string", "enum": ["draft", "completed", "published"]}
	},
	"required": ["assessmentId", "targetStatus"]
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

// eventType names the event a transition into status announces.
func eventType(status models.AssessmentStatus) string {
	switch status {
	case models.StatusCompleted:
		return notify.EventAssessmentCompleted
	case models.StatusPublished:
		return notify.EventAssessmentPublished
	default:
		return notify.EventAssessmentReopened
	}
}
