// internal/workers/assessment/update-assessment-responses/handler.go
package updateassessmentresponses

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/logger"
	"readiness-workers/internal/common/metrics"
	"readiness-workers/internal/engine/applicability"
	"readiness-workers/internal/engine/lifecycle"
	"readiness-workers/internal/engine/scoring"
	"readiness-workers/internal/models"
	"readiness-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "update-assessment-responses"
)

// Store is the persistence this worker needs.
type Store interface {
	GetStartup(ctx context.Context, id string) (*models.Startup, error)
	GetAssessment(ctx context.Context, id string) (*models.Assessment, error)
	LatestForStartup(ctx context.Context, startupID string) (*models.Assessment, error)
	CreateAssessment(ctx context.Context, a *models.Assessment) (*models.Assessment, error)
	UpdateAssessment(ctx context.Context, a *models.Assessment) (*models.Assessment, error)
}

// BreakdownCache receives the freshly computed draft breakdown and drops
// the entry of the version it replaces.
type BreakdownCache interface {
	Set(ctx context.Context, a *models.Assessment, b *models.ScoreBreakdown) error
	Invalidate(ctx context.Context, a *models.Assessment, frameworkVersion string) error
}

type Handler struct {
	config       *Config
	store        Store
	registries   *registry.Store
	cache        BreakdownCache
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
}

// NewHandler wires the worker. cache may be nil.
func NewHandler(config *Config, store Store, registries *registry.Store, cache BreakdownCache, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		store:        store,
		registries:   registries,
		cache:        cache,
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
	reg := h.registries.Current()
	now := h.now().UTC()

	current, created, err := h.resolve(ctx, input, reg, now)
	if err != nil {
		return nil, err
	}

	startup, err := h.store.GetStartup(ctx, current.StartupID)
	if err != nil {
		return nil, err
	}

	lc := lifecycle.New(scoring.New(reg, h.config.Scoring))
	next, err := lc.ApplyResponses(current, startup, input.Responses, now)
	if err != nil {
		return nil, err
	}

	saved, err := h.store.UpdateAssessment(ctx, next)
	if err != nil {
		return nil, err
	}

	h.refreshCache(ctx, current, saved)

	for _, kerr := range saved.DraftBreakdown.Errors {
		metrics.ScoringErrors.WithLabelValues(kerr.KPIID).Inc()
	}

	progress := applicability.Evaluate(reg, startup, saved.StageFor(startup), saved.Responses).Progress()

	h.logger.Info("responses applied", map[string]interface{}{
		"assessmentId": saved.ID,
		"answers":      len(input.Responses),
		"version":      saved.Version,
		"score":        saved.DraftBreakdown.Score,
		"progress":     progress.Percent,
	})

	return &Output{
		AssessmentID:   saved.ID,
		Status:         string(saved.Status),
		Version:        saved.Version,
		Created:        created,
		ReadinessScore: saved.DraftBreakdown.Score,
		Band:           saved.DraftBreakdown.Band,
		Progress:       progress,
		ScoringErrors:  saved.DraftBreakdown.Errors,
	}, nil
}

// refreshCache stores the new draft and evicts the superseded version.
// Cache failures never fail the job.
func (h *Handler) refreshCache(ctx context.Context, previous, saved *models.Assessment) {
	if h.cache == nil {
		return
	}
	if previous.DraftBreakdown != nil {
		if err := h.cache.Invalidate(ctx, previous, previous.DraftBreakdown.FrameworkVersion); err != nil {
			h.logger.Warn("stale breakdown not evicted", map[string]interface{}{
				"assessmentId": previous.ID,
				"version":      previous.Version,
				"error":        err.Error(),
			})
		}
	}
	if saved.DraftBreakdown == nil {
		return
	}
	if err := h.cache.Set(ctx, saved, saved.DraftBreakdown); err != nil {
		h.logger.Warn("breakdown not cached", map[string]interface{}{
			"assessmentId": saved.ID,
			"error":        err.Error(),
		})
	}
}

// resolve loads the target assessment. Without an assessment id the startup's
// latest one is used; a new draft is opened when it has none or the latest
// is already published.
func (h *Handler) resolve(ctx context.Context, input *Input, reg *registry.Registry, now time.Time) (*models.Assessment, bool, error) {
	if input.AssessmentID != "" {
		a, err := h.store.GetAssessment(ctx, input.AssessmentID)
		return a, false, err
	}

	latest, err := h.store.LatestForStartup(ctx, input.StartupID)
	switch {
	case err == nil && latest.Status != models.StatusPublished:
		return latest, false, nil
	case err != nil && !errors.HasCode(err, errors.ErrCodeAssessmentNotFound):
		return nil, false, err
	}

	startup, err := h.store.GetStartup(ctx, input.StartupID)
	if err != nil {
		return nil, false, err
	}
	a, err := h.store.CreateAssessment(ctx, models.NewAssessment(startup.ID, startup.Stage, reg.Version(), now))
	if err != nil {
		return nil, false, err
	}
	h.logger.Info("assessment opened", map[string]interface{}{
		"assessmentId": a.ID,
		"startupId":    startup.ID,
	})
	return a, true, nil
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
