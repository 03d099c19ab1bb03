// internal/workers/assessment/calculate-assessment-score/handler.go
package calculateassessmentscore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/logger"
	"readiness-workers/internal/common/metrics"
	"readiness-workers/internal/common/observability"
	"readiness-workers/internal/engine/scoring"
	"readiness-workers/internal/models"
	"readiness-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "calculate-assessment-score"
)

type Store interface {
	GetStartup(ctx context.Context, id string) (*models.Startup, error)
	GetAssessment(ctx context.Context, id string) (*models.Assessment, error)
}

// BreakdownCache is keyed by assessment version and framework version, so a
// hit is always consistent with the stored answers.
type BreakdownCache interface {
	Get(ctx context.Context, a *models.Assessment, frameworkVersion string) (*models.ScoreBreakdown, bool, error)
	Set(ctx context.Context, a *models.Assessment, b *models.ScoreBreakdown) error
}

type Handler struct {
	config       *Config
	store        Store
	registries   *registry.Store
	cache        BreakdownCache
	obs          *observability.Observability
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
}

// NewHandler wires the worker. cache and obs may be nil.
func NewHandler(config *Config, store Store, registries *registry.Store, cache BreakdownCache, obs *observability.Observability, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		store:        store,
		registries:   registries,
		cache:        cache,
		obs:          obs,
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
	a, err := h.store.GetAssessment(ctx, input.AssessmentID)
	if err != nil {
		return nil, err
	}
	reg := h.registries.Current()

	breakdown, cached := h.lookup(ctx, a, reg.Version())
	if !cached {
		startup, err := h.store.GetStartup(ctx, a.StartupID)
		if err != nil {
			return nil, err
		}
		breakdown, err = scoring.New(reg, h.config.Scoring).Compute(a, startup, h.now().UTC())
		if err != nil {
			return nil, err
		}
		h.record(ctx, breakdown)
		h.remember(ctx, a, breakdown)
	}

	flags := make([]string, 0, len(breakdown.FatalFlags))
	for _, f := range breakdown.FatalFlags {
		flags = append(flags, f.RuleID)
	}

	h.logger.Info("score calculated", map[string]interface{}{
		"assessmentId": a.ID,
		"version":      a.Version,
		"score":        breakdown.Score,
		"band":         breakdown.Band,
		"cached":       cached,
		"fatalFlags":   len(flags),
	})

	out := breakdown
	if !input.IncludeTrace {
		out = breakdown.Clone()
		out.Trace = nil
	}

	return &Output{
		AssessmentID:     a.ID,
		ReadinessScore:   breakdown.Score,
		Band:             breakdown.Band,
		FrameworkVersion: breakdown.FrameworkVersion,
		FatalFlags:       flags,
		Cached:           cached,
		Breakdown:        out,
	}, nil
}

// lookup treats an unavailable cache as a miss.
func (h *Handler) lookup(ctx context.Context, a *models.Assessment, frameworkVersion string) (*models.ScoreBreakdown, bool) {
	if h.cache == nil {
		return nil, false
	}
	b, ok, err := h.cache.Get(ctx, a, frameworkVersion)
	if err != nil {
		h.logger.Warn("breakdown cache unavailable", map[string]interface{}{
			"assessmentId": a.ID,
			"error":        err.Error(),
		})
		return nil, false
	}
	return b, ok
}

func (h *Handler) remember(ctx context.Context, a *models.Assessment, b *models.ScoreBreakdown) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(ctx, a, b); err != nil {
		h.logger.Warn("breakdown not cached", map[string]interface{}{
			"assessmentId": a.ID,
			"error":        err.Error(),
		})
	}
}

func (h *Handler) record(ctx context.Context, b *models.ScoreBreakdown) {
	metrics.ScoreComputations.WithLabelValues(b.Band).Inc()
	metrics.ScoreDistribution.Observe(float64(b.Score))
	for _, f := range b.FatalFlags {
		metrics.FatalFlagsTriggered.WithLabelValues(f.RuleID, f.Severity).Inc()
	}
	for _, kerr := range b.Errors {
		metrics.ScoringErrors.WithLabelValues(kerr.KPIID).Inc()
	}
	if h.obs != nil {
		h.obs.RecordScore(ctx, b.Score, b.Band)
	}
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
