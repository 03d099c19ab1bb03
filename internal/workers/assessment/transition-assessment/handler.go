// internal/workers/assessment/transition-assessment/handler.go
package transitionassessment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/logger"
	"readiness-workers/internal/common/metrics"
	"readiness-workers/internal/engine/lifecycle"
	"readiness-workers/internal/engine/scoring"
	"readiness-workers/internal/models"
	"readiness-workers/internal/notify"
	"readiness-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "transition-assessment"
)

type Store interface {
	GetStartup(ctx context.Context, id string) (*models.Startup, error)
	GetAssessment(ctx context.Context, id string) (*models.Assessment, error)
	UpdateAssessment(ctx context.Context, a *models.Assessment) (*models.Assessment, error)
}

type BreakdownCache interface {
	Set(ctx context.Context, a *models.Assessment, b *models.ScoreBreakdown) error
}

// SnapshotIndexer stores published snapshots for history queries.
type SnapshotIndexer interface {
	Index(ctx context.Context, a *models.Assessment) error
}

type EventPublisher interface {
	Publish(ctx context.Context, e notify.Event) error
}

// Dependencies groups the optional collaborators; nil members are skipped.
type Dependencies struct {
	Cache     BreakdownCache
	Snapshots SnapshotIndexer
	Events    EventPublisher
}

type Handler struct {
	config       *Config
	store        Store
	registries   *registry.Store
	deps         Dependencies
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
}

func NewHandler(config *Config, store Store, registries *registry.Store, deps Dependencies, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		store:        store,
		registries:   registries,
		deps:         deps,
		errorHandler: errors.NewErrorHandler(l),
		logger:       l,
		now:          time.Now,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	if err := validateInput([]byte(job.Variables)); err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, errors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	target := models.AssessmentStatus(input.TargetStatus)
	if !target.Valid() {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("unknown target status %q", input.TargetStatus))
	}

	a, err := h.store.GetAssessment(ctx, input.AssessmentID)
	if err != nil {
		return nil, err
	}
	startup, err := h.store.GetStartup(ctx, a.StartupID)
	if err != nil {
		return nil, err
	}

	from := string(a.Status)
	lc := lifecycle.New(scoring.New(h.registries.Current(), h.config.Scoring))
	next, err := lc.Transition(a, startup, target, h.now().UTC())
	if err != nil {
		metrics.LifecycleTransitions.WithLabelValues(from, string(target), "rejected").Inc()
		return nil, err
	}

	saved, err := h.store.UpdateAssessment(ctx, next)
	if err != nil {
		metrics.LifecycleTransitions.WithLabelValues(from, string(target), "failed").Inc()
		return nil, err
	}
	metrics.LifecycleTransitions.WithLabelValues(from, string(target), "success").Inc()

	output := &Output{
		AssessmentID:   saved.ID,
		PreviousStatus: from,
		Status:         string(saved.Status),
		Version:        saved.Version,
		PublishedAt:    saved.PublishedAt,
	}

	h.cacheDraft(ctx, saved)
	if saved.Status == models.StatusPublished {
		output.SnapshotIndexed = h.indexSnapshot(ctx, saved)
	}

	event := notify.EventFor(eventType(saved.Status), saved, h.now().UTC())
	output.ReadinessScore = event.Score
	output.Band = event.Band
	output.EventPublished = h.publish(ctx, event)

	h.logger.Info("assessment transitioned", map[string]interface{}{
		"assessmentId": saved.ID,
		"from":         from,
		"to":           saved.Status,
		"version":      saved.Version,
	})
	return output, nil
}

// The steps below run after the transition is persisted; their failures are
// logged and never fail the job.

func (h *Handler) cacheDraft(ctx context.Context, a *models.Assessment) {
	if h.deps.Cache == nil || a.DraftBreakdown == nil {
		return
	}
	if err := h.deps.Cache.Set(ctx, a, a.DraftBreakdown); err != nil {
		h.logger.Warn("breakdown not cached", map[string]interface{}{
			"assessmentId": a.ID,
			"error":        err.Error(),
		})
	}
}

func (h *Handler) indexSnapshot(ctx context.Context, a *models.Assessment) bool {
	if h.deps.Snapshots == nil {
		return false
	}
	if err := h.deps.Snapshots.Index(ctx, a); err != nil {
		h.logger.Error("snapshot not indexed", map[string]interface{}{
			"assessmentId": a.ID,
			"error":        err.Error(),
		})
		return false
	}
	return true
}

func (h *Handler) publish(ctx context.Context, e notify.Event) bool {
	if h.deps.Events == nil {
		return false
	}
	if err := h.deps.Events.Publish(ctx, e); err != nil {
		h.logger.Error("event not published", map[string]interface{}{
			"assessmentId": e.AssessmentID,
			"eventType":    e.Type,
			"error":        err.Error(),
		})
		return false
	}
	return true
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err = cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
