// internal/repository/schema.go
package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order inside one transaction. Every statement is
// idempotent so worker-manager can run it on each start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS startups (
		id              TEXT PRIMARY KEY,
		owner_id        TEXT NOT NULL,
		name            TEXT,
		stage           TEXT NOT NULL,
		is_solo_founder BOOLEAN NOT NULL DEFAULT FALSE,
		has_revenue     BOOLEAN NOT NULL DEFAULT FALSE,
		has_mvp         BOOLEAN NOT NULL DEFAULT FALSE,
		business_model  TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS assessments (
		id                  TEXT PRIMARY KEY,
		startup_id          TEXT NOT NULL REFERENCES startups(id),
		stage               TEXT,
		framework_version   TEXT NOT NULL,
		status              TEXT NOT NULL,
		responses           JSONB NOT NULL DEFAULT '{}',
		draft_breakdown     JSONB,
		published_breakdown JSONB,
		completed_at        TIMESTAMPTZ,
		published_at        TIMESTAMPTZ,
		version             BIGINT NOT NULL DEFAULT 1,
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assessments_startup ON assessments (startup_id, created_at DESC)`,
}

// EnsureSchema creates the startups and assessments tables when missing.
func (r *AssessmentRepository) EnsureSchema(ctx context.Context) error {
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Debug("schema ensured", map[string]interface{}{"statements": len(schema)})
	return nil
}
