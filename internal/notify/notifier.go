// internal/notify/notifier.go
package notify

import (
	"context"
	"encoding/json"
	"time"

	awsclient "readiness-workers/internal/common/aws"
	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/logger"
	"readiness-workers/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Event types published to the topic.
const (
	EventAssessmentCompleted = "assessment.completed"
	EventAssessmentPublished = "assessment.published"
	EventAssessmentReopened  = "assessment.reopened"
)

// Event is the JSON message body.
type Event struct {
	Type             string    `json:"type"`
	AssessmentID     string    `json:"assessmentId"`
	StartupID        string    `json:"startupId"`
	Status           string    `json:"status"`
	Score            *int      `json:"score,omitempty"`
	Band             string    `json:"band,omitempty"`
	FrameworkVersion string    `json:"frameworkVersion,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// EventFor describes a's current state. Published assessments report the
// frozen score; others report the draft score when one exists.
func EventFor(eventType string, a *models.Assessment, at time.Time) Event {
	e := Event{
		Type:             eventType,
		AssessmentID:     a.ID,
		StartupID:        a.StartupID,
		Status:           string(a.Status),
		FrameworkVersion: a.FrameworkVersion,
		OccurredAt:       at,
	}
	b := a.DraftBreakdown
	if a.Status == models.StatusPublished && a.PublishedBreakdown != nil {
		b = a.PublishedBreakdown
	}
	if b != nil {
		score := b.Score
		e.Score = &score
		e.Band = b.Band
	}
	return e
}

// Notifier publishes lifecycle events to an SNS topic. A Notifier without a
// publisher or topic drops events.
type Notifier struct {
	publisher awsclient.SNSPublisher
	topicARN  string
	logger    logger.Logger
}

func NewNotifier(publisher awsclient.SNSPublisher, topicARN string, log logger.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		topicARN:  topicARN,
		logger:    log.WithFields(map[string]interface{}{"component": "notifier"}),
	}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.publisher != nil && n.topicARN != ""
}

// Publish sends e. The event type is also set as a message attribute so
// subscribers can filter.
func (n *Notifier) Publish(ctx context.Context, e Event) error {
	if !n.Enabled() {
		return nil
	}

	body, err := json.Marshal(e)
	if err != nil {
		return errors.NewNotificationSendFailedError(e.Type, err)
	}

	out, err := n.publisher.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(e.Type),
			},
		},
	})
	if err != nil {
		return errors.NewNotificationSendFailedError(e.Type, err)
	}

	fields := map[string]interface{}{
		"eventType":    e.Type,
		"assessmentId": e.AssessmentID,
	}
	if out != nil && out.MessageId != nil {
		fields["messageId"] = *out.MessageId
	}
	n.logger.Info("event published", fields)
	return nil
}
