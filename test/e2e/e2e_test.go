//go:build e2e

// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"readiness-workers/internal/cache"
	"readiness-workers/internal/common/config"
	"readiness-workers/internal/common/database"
	"readiness-workers/internal/common/logger"
	"readiness-workers/internal/engine/scoring"
	"readiness-workers/internal/models"
	"readiness-workers/internal/repository"
	"readiness-workers/pkg/registry"

	cas "readiness-workers/internal/workers/assessment/calculate-assessment-score"
	gak "readiness-workers/internal/workers/assessment/get-applicable-kpis"
	ta "readiness-workers/internal/workers/assessment/transition-assessment"
	uar "readiness-workers/internal/workers/assessment/update-assessment-responses"
)

const registryPath = "../../configs/kpi-framework.yaml"

var (
	zeebeClient zbc.Client
	zapLog      *zap.Logger
)

func TestMain(m *testing.M) {
	var err error

	zeebeClient, err = zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         "localhost:26500",
		UsePlaintextConnection: true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect to Zeebe: %v", err))
	}

	zapLog, _ = zap.NewProduction()

	code := m.Run()

	zeebeClient.Close()
	os.Exit(code)
}

// env bundles the real collaborators shared by the workers under test.
type env struct {
	pg         *database.PostgresClient
	redis      *database.RedisClient
	repo       *repository.AssessmentRepository
	cache      *cache.BreakdownCache
	registries *registry.Store
	log        logger.Logger
}

func setup(t *testing.T) *env {
	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Database.Postgres.Host = "localhost"
	cfg.Database.Redis.Address = "localhost:6379"

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	require.NoError(t, err, "PostgreSQL connection failed")
	require.NoError(t, pg.Ping(context.Background()), "PostgreSQL ping failed")
	t.Cleanup(func() { _ = pg.Close() })

	rdb := database.NewRedis(cfg.Database.Redis)
	require.NoError(t, rdb.Ping(context.Background()), "Redis ping failed")
	t.Cleanup(func() { _ = rdb.Close() })

	_, err = zeebeClient.NewTopologyCommand().Send(context.Background())
	require.NoError(t, err, "Zeebe topology request failed")

	reg, err := registry.LoadFile(registryPath)
	require.NoError(t, err)

	log := logger.NewZapAdapter(zapLog)
	repo := repository.NewAssessmentRepository(pg, log)
	require.NoError(t, repo.EnsureSchema(context.Background()))

	return &env{
		pg:         pg,
		redis:      rdb,
		repo:       repo,
		cache:      cache.NewBreakdownCache(rdb.Client, time.Hour, log),
		registries: registry.NewStore(reg),
		log:        log,
	}
}

func (e *env) insertStartup(t *testing.T, s *models.Startup) {
	_, err := e.pg.Exec(context.Background(), `
		INSERT INTO startups (id, owner_id, name, stage, is_solo_founder, has_revenue, has_mvp, business_model)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.OwnerID, s.Name, string(s.Stage), s.IsSoloFounder, s.HasRevenue, s.HasMVP, s.BusinessModel,
	)
	require.NoError(t, err)
}

func answer(v interface{}) models.Response {
	return models.Response{
		Value:        v,
		EvidenceType: registry.EvidenceDocumentUploaded,
		SubmittedAt:  time.Now().UTC(),
	}
}

// ==========================
// Assessment Flow
// ==========================

func TestAssessmentLifecycleE2E(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	startup := &models.Startup{
		ID:            "e2e-" + uuid.NewString(),
		OwnerID:       "e2e-owner",
		Name:          "E2E Labs",
		Stage:         registry.StageIdea,
		IsSoloFounder: true,
	}
	e.insertStartup(t, startup)

	update := uar.NewHandler(uar.LoadConfig(), e.repo, e.registries, e.cache, e.log)
	applicable := gak.NewHandler(gak.LoadConfig(), e.repo, e.registries, e.log)
	calculate := cas.NewHandler(cas.LoadConfig(), e.repo, e.registries, e.cache, nil, e.log)
	transition := ta.NewHandler(ta.LoadConfig(), e.repo, e.registries, ta.Dependencies{Cache: e.cache}, e.log)

	// 1. First answer creates the draft.
	created, err := update.Execute(ctx, &uar.Input{
		StartupID: startup.ID,
		Responses: models.Responses{"fc_fulltime_founder": answer(true)},
	})
	require.NoError(t, err)
	assert.True(t, created.Created)
	assert.Equal(t, "draft", created.Status)
	t.Logf("draft %s created, score %d", created.AssessmentID, created.ReadinessScore)

	// 2. Gated questions for a solo idea-stage startup.
	next, err := applicable.Execute(ctx, &gak.Input{AssessmentID: created.AssessmentID, Limit: 50})
	require.NoError(t, err)
	assert.Contains(t, next.ApplicableKPIs, "fc_solo_commitment")
	assert.NotContains(t, next.ApplicableKPIs, "fc_cofounder_equity")
	assert.NotContains(t, next.ApplicableKPIs, "mt_mrr")
	assert.False(t, next.ReadyToComplete)

	// 3. Answer the rest.
	_, err = update.Execute(ctx, &uar.Input{
		AssessmentID: created.AssessmentID,
		Responses: models.Responses{
			"fc_domain_expertise":    answer(map[string]interface{}{"years": 6, "prior_exit": false}),
			"fc_solo_commitment":     answer(true),
			"fc_key_hires":           answer("planned"),
			"pt_problem_validated":   answer("pilots"),
			"pt_ip_protection":       answer("filed"),
			"mt_tam_usd_m":           answer(2500),
			"mt_competitor_analysis": answer(true),
			"bf_runway_months":       answer(14),
			"bf_books_audited":       answer(true),
			"bf_unit_economics":      answer("unknown"),
		},
	})
	require.NoError(t, err)

	next, err = applicable.Execute(ctx, &gak.Input{AssessmentID: created.AssessmentID})
	require.NoError(t, err)
	require.Empty(t, next.MissingRequired)
	assert.True(t, next.ReadyToComplete)

	// 4. Score twice; the second read is served from Redis.
	first, err := calculate.Execute(ctx, &cas.Input{AssessmentID: created.AssessmentID})
	require.NoError(t, err)
	assert.Empty(t, first.FatalFlags)
	assert.GreaterOrEqual(t, first.ReadinessScore, 300)
	assert.LessOrEqual(t, first.ReadinessScore, 900)

	second, err := calculate.Execute(ctx, &cas.Input{AssessmentID: created.AssessmentID})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.ReadinessScore, second.ReadinessScore)

	// 5. Complete and publish.
	completed, err := transition.Execute(ctx, &ta.Input{AssessmentID: created.AssessmentID, TargetStatus: "completed"})
	require.NoError(t, err)
	assert.Equal(t, "completed", completed.Status)

	published, err := transition.Execute(ctx, &ta.Input{AssessmentID: created.AssessmentID, TargetStatus: "published"})
	require.NoError(t, err)
	assert.Equal(t, "published", published.Status)
	require.NotNil(t, published.ReadinessScore)
	assert.Equal(t, first.ReadinessScore, *published.ReadinessScore)

	stored, err := e.repo.GetAssessment(ctx, created.AssessmentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, stored.Status)
	assert.Equal(t, stored.DraftBreakdown.Score, stored.PublishedBreakdown.Score)

	// 6. Answering after publication starts a new draft.
	again, err := update.Execute(ctx, &uar.Input{
		StartupID: startup.ID,
		Responses: models.Responses{"bf_runway_months": answer(20)},
	})
	require.NoError(t, err)
	assert.True(t, again.Created)
	assert.NotEqual(t, created.AssessmentID, again.AssessmentID)
}

// ==========================
// Benchmarks
// ==========================

func BenchmarkEngine_Compute(b *testing.B) {
	reg, err := registry.LoadFile(registryPath)
	require.NoError(b, err)

	now := time.Now().UTC()
	startup := &models.Startup{ID: "bench", Stage: registry.StageGrowth, HasRevenue: true, HasMVP: true, BusinessModel: registry.BusinessModelSaaS}
	a := models.NewAssessment(startup.ID, startup.Stage, reg.Version(), now)
	a.Responses = models.Responses{
		"fc_fulltime_founder":      answer(true),
		"fc_cofounder_equity":      answer(18),
		"fc_key_hires":             answer("hired"),
		"pt_mvp_live":              answer(true),
		"pt_problem_validated":     answer("paid_pilots"),
		"pt_uptime_percent":        answer(99.1),
		"mt_mrr":                   answer(42000),
		"mt_paying_customers":      answer(35),
		"mt_monthly_growth":        answer(9),
		"bf_runway_months":         answer(11),
		"bf_net_revenue_retention": answer(104),
		"bf_unit_economics":        answer("positive"),
	}
	engine := scoring.New(reg, scoring.DefaultOptions())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Compute(a, startup, now); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkHandler_CalculateAssessmentScore(b *testing.B) {
	cfg, _ := config.Load()
	pg, _ := database.NewPostgres(cfg.Database.Postgres)
	defer pg.Close()
	rdb := database.NewRedis(cfg.Database.Redis)
	defer rdb.Close()

	reg, err := registry.LoadFile(registryPath)
	require.NoError(b, err)
	log := logger.NewNoOpLogger()
	repo := repository.NewAssessmentRepository(pg, log)

	latest, err := repo.LatestForStartup(context.Background(), "bench-startup")
	if err != nil {
		b.Skipf("no bench-startup assessment seeded: %v", err)
	}

	handler := cas.NewHandler(cas.LoadConfig(), repo, registry.NewStore(reg),
		cache.NewBreakdownCache(rdb.Client, time.Hour, log), nil, log)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.Execute(context.Background(), &cas.Input{AssessmentID: latest.ID})
	}
}
