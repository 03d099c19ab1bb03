// internal/repository/assessment.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	"readiness-workers/internal/common/database"
	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/logger"
	"readiness-workers/internal/models"
	"readiness-workers/pkg/registry"
)

const (
	queryGetStartup        = "get_startup"
	queryGetAssessment     = "get_assessment"
	queryCreateAssessment  = "create_assessment"
	queryUpdateAssessment  = "update_assessment"
	queryLatestByStartupID = "latest_assessment_by_startup"
)

const assessmentColumns = `
	id, startup_id, stage, framework_version, status, responses,
	draft_breakdown, published_breakdown, completed_at, published_at,
	version, created_at, updated_at`

// AssessmentRepository persists startups' assessments in Postgres.
// Responses and breakdowns are stored as JSONB documents.
type AssessmentRepository struct {
	db     *database.PostgresClient
	logger logger.Logger
}

func NewAssessmentRepository(db *database.PostgresClient, log logger.Logger) *AssessmentRepository {
	return &AssessmentRepository{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "assessment-repository"}),
	}
}

// GetStartup loads the attributes used for applicability.
func (r *AssessmentRepository) GetStartup(ctx context.Context, id string) (*models.Startup, error) {
	var s models.Startup
	var name, businessModel sql.NullString

	err := r.db.QueryRow(ctx, `
		SELECT id, owner_id, name, stage, is_solo_founder, has_revenue,
		       has_mvp, business_model, created_at, updated_at
		FROM startups
		WHERE id = $1`, id).Scan(
		&s.ID, &s.OwnerID, &name, &s.Stage,
		&s.IsSoloFounder, &s.HasRevenue, &s.HasMVP,
		&businessModel, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewStartupNotFoundError(id)
		}
		return nil, r.queryError(ctx, queryGetStartup, err)
	}
	s.Name = name.String
	s.BusinessModel = businessModel.String
	return &s, nil
}

// GetAssessment loads one assessment by id.
func (r *AssessmentRepository) GetAssessment(ctx context.Context, id string) (*models.Assessment, error) {
	row := r.db.QueryRow(ctx, `SELECT`+assessmentColumns+`
		FROM assessments
		WHERE id = $1`, id)

	a, err := scanAssessment(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewAssessmentNotFoundError(id)
		}
		return nil, r.queryError(ctx, queryGetAssessment, err)
	}
	return a, nil
}

// LatestForStartup returns the most recently created assessment of a startup.
func (r *AssessmentRepository) LatestForStartup(ctx context.Context, startupID string) (*models.Assessment, error) {
	row := r.db.QueryRow(ctx, `SELECT`+assessmentColumns+`
		FROM assessments
		WHERE startup_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, startupID)

	a, err := scanAssessment(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewAssessmentNotFoundError("startup:" + startupID)
		}
		return nil, r.queryError(ctx, queryLatestByStartupID, err)
	}
	return a, nil
}

// CreateAssessment inserts a at version 1.
func (r *AssessmentRepository) CreateAssessment(ctx context.Context, a *models.Assessment) (*models.Assessment, error) {
	cols, err := encodeDocuments(a)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError(queryCreateAssessment, err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO assessments (`+assessmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)`,
		a.ID, a.StartupID, nullString(string(a.Stage)), a.FrameworkVersion, string(a.Status),
		cols.responses, cols.draft, cols.published, a.CompletedAt, a.PublishedAt,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return nil, r.queryError(ctx, queryCreateAssessment, err)
	}

	out := a.Clone()
	out.Version = 1
	r.logger.Info("assessment created", map[string]interface{}{
		"assessmentId": a.ID,
		"startupId":    a.StartupID,
	})
	return out, nil
}

// UpdateAssessment writes a if the stored version still equals a.Version and
// returns the copy carrying the incremented version. A lost race is reported
// as a retryable VERSION_CONFLICT.
func (r *AssessmentRepository) UpdateAssessment(ctx context.Context, a *models.Assessment) (*models.Assessment, error) {
	cols, err := encodeDocuments(a)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError(queryUpdateAssessment, err)
	}

	res, err := r.db.Exec(ctx, `
		UPDATE assessments
		SET stage = $3, framework_version = $4, status = $5, responses = $6,
		    draft_breakdown = $7, published_breakdown = $8, completed_at = $9,
		    published_at = $10, updated_at = $11, version = version + 1
		WHERE id = $1 AND version = $2`,
		a.ID, a.Version, nullString(string(a.Stage)), a.FrameworkVersion, string(a.Status),
		cols.responses, cols.draft, cols.published, a.CompletedAt, a.PublishedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return nil, r.queryError(ctx, queryUpdateAssessment, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, r.queryError(ctx, queryUpdateAssessment, err)
	}
	if n == 0 {
		r.logger.Warn("optimistic update lost", map[string]interface{}{
			"assessmentId": a.ID,
			"version":      a.Version,
		})
		return nil, errors.NewVersionConflictError(a.ID, a.Version)
	}

	out := a.Clone()
	out.Version = a.Version + 1
	return out, nil
}

func (r *AssessmentRepository) queryError(ctx context.Context, queryType string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.NewQueryTimeoutError(queryType)
	}
	r.logger.Error("query failed", map[string]interface{}{
		"queryType": queryType,
		"error":     err.Error(),
	})
	return errors.NewQueryExecutionFailedError(queryType, err)
}

// documents holds the JSONB column values; an absent breakdown is NULL.
type documents struct {
	responses []byte
	draft     interface{}
	published interface{}
}

func encodeDocuments(a *models.Assessment) (documents, error) {
	var d documents
	responses := a.Responses
	if responses == nil {
		responses = models.Responses{}
	}
	var err error
	if d.responses, err = json.Marshal(responses); err != nil {
		return d, fmt.Errorf("encode responses: %w", err)
	}
	if a.DraftBreakdown != nil {
		b, err := json.Marshal(a.DraftBreakdown)
		if err != nil {
			return d, fmt.Errorf("encode draft breakdown: %w", err)
		}
		d.draft = b
	}
	if a.PublishedBreakdown != nil {
		b, err := json.Marshal(a.PublishedBreakdown)
		if err != nil {
			return d, fmt.Errorf("encode published breakdown: %w", err)
		}
		d.published = b
	}
	return d, nil
}

func scanAssessment(row *sql.Row) (*models.Assessment, error) {
	var a models.Assessment
	var stage sql.NullString
	var status string
	var responses, draft, published []byte
	var completedAt, publishedAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.StartupID, &stage, &a.FrameworkVersion, &status, &responses,
		&draft, &published, &completedAt, &publishedAt,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Stage = registry.Stage(stage.String)
	a.Status = models.AssessmentStatus(status)
	a.CompletedAt = timePtr(completedAt)
	a.PublishedAt = timePtr(publishedAt)

	a.Responses = models.Responses{}
	if len(responses) > 0 {
		if err := json.Unmarshal(responses, &a.Responses); err != nil {
			return nil, fmt.Errorf("decode responses: %w", err)
		}
	}
	if len(draft) > 0 {
		a.DraftBreakdown = &models.ScoreBreakdown{}
		if err := json.Unmarshal(draft, a.DraftBreakdown); err != nil {
			return nil, fmt.Errorf("decode draft breakdown: %w", err)
		}
	}
	if len(published) > 0 {
		a.PublishedBreakdown = &models.ScoreBreakdown{}
		if err := json.Unmarshal(published, a.PublishedBreakdown); err != nil {
			return nil, fmt.Errorf("decode published breakdown: %w", err)
		}
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
