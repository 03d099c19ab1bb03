// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"readiness-workers/internal/cache"
	awsclient "readiness-workers/internal/common/aws"
	"readiness-workers/internal/common/camunda"
	"readiness-workers/internal/common/config"
	"readiness-workers/internal/common/database"
	"readiness-workers/internal/common/logger"
	"readiness-workers/internal/common/metrics"
	"readiness-workers/internal/common/observability"
	"readiness-workers/internal/engine/scoring"
	"readiness-workers/internal/notify"
	"readiness-workers/internal/repository"
	"readiness-workers/internal/search"
	"readiness-workers/pkg/registry"

	cas "readiness-workers/internal/workers/assessment/calculate-assessment-score"
	gak "readiness-workers/internal/workers/assessment/get-applicable-kpis"
	ta "readiness-workers/internal/workers/assessment/transition-assessment"
	uar "readiness-workers/internal/workers/assessment/update-assessment-responses"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs, err := observability.New(observability.Options{
		ServiceName:    cfg.App.Name,
		JaegerEndpoint: cfg.Observability.JaegerEndpoint,
		TracingEnabled: cfg.Observability.TracingEnabled,
	})
	if err != nil {
		zapLog.Warn("observability degraded", zap.Error(err))
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			zapLog.Warn("observability shutdown", zap.Error(err))
		}
	}()

	ctx := context.Background()

	// --- KPI registry: invalid documents abort start-up ---
	reg, err := registry.LoadFile(cfg.Scoring.RegistryPath)
	if err != nil {
		metrics.RegistryReloads.WithLabelValues("failure").Inc()
		zapLog.Fatal("kpi registry invalid", zap.String("path", cfg.Scoring.RegistryPath), zap.Error(err))
	}
	metrics.RegistryReloads.WithLabelValues("success").Inc()
	registries := registry.NewStore(reg)
	zapLog.Info("KPI registry loaded",
		zap.String("frameworkVersion", reg.Version()),
		zap.Int("kpis", len(reg.KPIs())),
	)

	// --- Init Zeebe Client with retry ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(camunda.ConfigFrom(cfg.Camunda))
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	redis := database.NewRedis(cfg.Database.Redis)
	err = retryWithBackoff(func() error {
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	stores := map[string]database.Pinger{"postgres": pg, "redis": redis}

	assessments := repository.NewAssessmentRepository(pg, log)
	if err := assessments.EnsureSchema(ctx); err != nil {
		zapLog.Fatal("database schema failed", zap.Error(err))
	}
	breakdowns := cache.NewBreakdownCache(redis.Client, time.Duration(cfg.Scoring.CacheTTL)*time.Second, log)

	transitionDeps := ta.Dependencies{Cache: breakdowns}

	// --- Init Elasticsearch (optional) ---
	if cfg.Search.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		snapshots := search.NewSnapshotIndex(esClient.Client, cfg.Search.SnapshotIndex, log)
		created, err := snapshots.EnsureIndex(ctx)
		if err != nil {
			zapLog.Fatal("snapshot index unavailable", zap.Error(err))
		}
		transitionDeps.Snapshots = snapshots
		stores["elasticsearch"] = esClient
		zapLog.Info("Elasticsearch connected successfully",
			zap.String("index", cfg.Search.SnapshotIndex),
			zap.Bool("indexCreated", created),
		)
	}

	// --- Init SNS (optional) ---
	if cfg.Notifications.Enabled {
		snsClient, err := awsclient.NewSNSClient(ctx, cfg.Notifications.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		transitionDeps.Events = notify.NewNotifier(snsClient, cfg.Notifications.TopicARN, log)
		zapLog.Info("SNS notifications enabled", zap.String("topic", cfg.Notifications.TopicARN))
	}

	scoringOpts := scoring.Options{
		LowConfidenceThreshold: cfg.Scoring.LowConfidenceThreshold,
		NearThresholdRatio:     cfg.Scoring.NearThresholdRatio,
		MaxRecommendations:     cfg.Scoring.MaxRecommendations,
	}

	// --- Register Workers ---
	var workers []*camunda.CamundaWorker
	start := func(taskType string, handler camunda.JobHandler) {
		if !config.IsWorkerEnabled(cfg, taskType) {
			zapLog.Info("worker disabled", zap.String("taskType", taskType))
			return
		}
		wcfg := config.GetWorkerConfig(cfg, taskType)
		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), camunda.WorkerOptions{
			TaskType:      taskType,
			MaxJobsActive: wcfg.MaxJobsActive,
			Timeout:       config.GetDuration(wcfg.Timeout),
		}, handler, log, obs))
	}
	timeout := func(taskType string) time.Duration {
		return config.GetDuration(config.GetWorkerConfig(cfg, taskType).Timeout)
	}

	start(uar.TaskType, uar.NewHandler(
		&uar.Config{Timeout: timeout(uar.TaskType), Scoring: scoringOpts},
		assessments, registries, breakdowns, log,
	))

	start(gak.TaskType, gak.NewHandler(
		&gak.Config{Timeout: timeout(gak.TaskType), DefaultLimit: gak.LoadConfig().DefaultLimit},
		assessments, registries, log,
	))

	start(cas.TaskType, cas.NewHandler(
		&cas.Config{Timeout: timeout(cas.TaskType), Scoring: scoringOpts},
		assessments, registries, breakdowns, obs, log,
	))

	start(ta.TaskType, ta.NewHandler(
		&ta.Config{Timeout: timeout(ta.TaskType), Scoring: scoringOpts},
		assessments, registries, transitionDeps, log,
	))

	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if failures := database.PingAll(r.Context(), stores); len(failures) > 0 {
			writeStatus(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not ready", "errors": failures})
			return
		}
		broker, err := zeebe.Ready(r.Context())
		if err != nil {
			writeStatus(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not ready", "error": err.Error()})
			return
		}
		writeStatus(w, http.StatusOK, map[string]interface{}{
			"status":           "ready",
			"frameworkVersion": registries.Current().Version(),
			"zeebe":            broker,
			"time":             time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.Observability.MetricsAddress, Handler: mux}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Registry reload & Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			reloadRegistry(registries, cfg.Scoring.RegistryPath, zapLog)
			continue
		}
		break
	}

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping metrics server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

// reloadRegistry swaps in a re-read registry. In-flight jobs keep the
// snapshot they started with; an invalid document leaves the old one active.
func reloadRegistry(registries *registry.Store, path string, log *zap.Logger) {
	previous := registries.Current().Version()
	reg, err := registries.Reload(path)
	if err != nil {
		metrics.RegistryReloads.WithLabelValues("failure").Inc()
		log.Error("kpi registry reload rejected", zap.String("path", path), zap.Error(err))
		return
	}
	metrics.RegistryReloads.WithLabelValues("success").Inc()
	log.Info("kpi registry reloaded",
		zap.String("previousVersion", previous),
		zap.String("frameworkVersion", reg.Version()),
	)
}

func writeStatus(w http.ResponseWriter, code int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
