// internal/workers/assessment/get-applicable-kpis/handler.go
package getapplicablekpis

import (
	"context"
	"encoding/json"
	"fmt"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/logger"
	"readiness-workers/internal/common/metrics"
	"readiness-workers/internal/engine/applicability"
	"readiness-workers/internal/models"
	"readiness-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "get-applicable-kpis"
)

type Store interface {
	GetStartup(ctx context.Context, id string) (*models.Startup, error)
	GetAssessment(ctx context.Context, id string) (*models.Assessment, error)
}

type Handler struct {
	config       *Config
	store        Store
	registries   *registry.Store
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, store Store, registries *registry.Store, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		store:        store,
		registries:   registries,
		errorHandler: errors.NewErrorHandler(l),
		logger:       l,
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
	startup, err := h.store.GetStartup(ctx, a.StartupID)
	if err != nil {
		return nil, err
	}

	stage := a.StageFor(startup)
	if !stage.Valid() {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("assessment %s has unknown stage %q", a.ID, stage))
	}

	reg := h.registries.Current()
	result := applicability.Evaluate(reg, startup, stage, a.Responses)

	limit := input.Limit
	if limit == 0 {
		limit = h.config.DefaultLimit
	}
	next := result.NextUnanswered(limit)
	questions := make([]Question, 0, len(next))
	for _, k := range next {
		questions = append(questions, questionFor(k))
	}

	missing := result.MissingRequired()
	if missing == nil {
		missing = []string{}
	}

	output := &Output{
		AssessmentID:     a.ID,
		Stage:            string(stage),
		FrameworkVersion: reg.Version(),
		ApplicableKPIs:   result.Applicable.IDs(),
		Excluded:         result.Excluded,
		MissingRequired:  missing,
		NextQuestions:    questions,
		Progress:         result.Progress(),
		ReadyToComplete:  len(missing) == 0 && a.Status == models.StatusDraft,
	}

	h.logger.Debug("applicability evaluated", map[string]interface{}{
		"assessmentId": a.ID,
		"stage":        stage,
		"applicable":   result.Applicable.Len(),
		"excluded":     len(result.Excluded),
	})
	return output, nil
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
