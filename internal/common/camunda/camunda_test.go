package camunda

import (
	"context"
	"fmt"
	"testing"
	"time"

	"readiness-workers/internal/common/config"
	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry(t *testing.T) {
	c := &Client{config: &ClientConfig{Retry: RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}}}

	t.Run("retries transient errors", func(t *testing.T) {
		calls := 0
		err := c.withRetry(context.Background(), "topology", func(context.Context) error {
			calls++
			if calls < 3 {
				return fmt.Errorf("rpc error: code = Unavailable")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := c.withRetry(context.Background(), "topology", func(context.Context) error {
			calls++
			return fmt.Errorf("connection refused")
		})

		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.True(t, errors.HasCode(err, errors.ErrCodeBrokerUnavailable))
		assert.Contains(t, err.Error(), "3 attempt(s)")
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		calls := 0
		err := c.withRetry(context.Background(), "topology", func(context.Context) error {
			calls++
			return fmt.Errorf("invalid argument")
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.True(t, errors.HasCode(err, errors.ErrCodeBrokerUnavailable))
	})

	t.Run("maps timeouts", func(t *testing.T) {
		err := c.withRetry(context.Background(), "topology", func(context.Context) error {
			return fmt.Errorf("context deadline exceeded")
		})

		assert.True(t, errors.HasCode(err, errors.ErrCodeBrokerTimeout))
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := &Client{config: &ClientConfig{Retry: RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}}}

		err := slow.withRetry(ctx, "topology", func(context.Context) error {
			return fmt.Errorf("unavailable")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "context canceled")
	})
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(fmt.Errorf("connection refused")))
	assert.True(t, isTransient(fmt.Errorf("Deadline Exceeded")))
	assert.False(t, isTransient(fmt.Errorf("NOT_FOUND")))
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.CamundaConfig{BrokerAddress: "zeebe:26500", RequestTimeout: 5000, UsePlaintext: true})

	assert.Equal(t, "zeebe:26500", cfg.GatewayAddress)
	assert.True(t, cfg.UsePlaintextConnection)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, DefaultRetryPolicy, cfg.Retry)
}

func TestInstrument(t *testing.T) {
	taskType := "instrument-test"
	handler := &recordingHandler{}

	wrapped := Instrument(taskType, handler, nil)
	wrapped(nil, entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 42}})

	assert.Equal(t, []int64{42}, handler.keys)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.WorkerJobsActive.WithLabelValues(taskType)))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.WorkerJobDuration, "worker_job_duration_seconds"))
}

// ==========================
// Test Helper Functions
// ==========================

type recordingHandler struct {
	keys []int64
}

func (h *recordingHandler) Handle(_ worker.JobClient, job entities.Job) {
	h.keys = append(h.keys, job.Key)
}
