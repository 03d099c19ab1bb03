// internal/cache/breakdown.go
package cache

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/logger"
	"readiness-workers/internal/common/metrics"
	"readiness-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 10 * time.Minute

// BreakdownCache stores draft breakdowns keyed by assessment id, assessment
// version and framework version. Any write to the assessment bumps its
// version, so stale entries are never read and simply expire.
type BreakdownCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewBreakdownCache(client *redis.Client, ttl time.Duration, log logger.Logger) *BreakdownCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BreakdownCache{
		client: client,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "breakdown-cache"}),
	}
}

// Key is the cache key for a's draft breakdown under frameworkVersion.
func Key(a *models.Assessment, frameworkVersion string) string {
	return fmt.Sprintf("breakdown:%s:v%d:%s", a.ID, a.Version, frameworkVersion)
}

// Get returns the cached breakdown. A miss is (nil, false, nil). Redis
// failures come back as CACHE_UNAVAILABLE so callers can fall through to
// computing.
func (c *BreakdownCache) Get(ctx context.Context, a *models.Assessment, frameworkVersion string) (*models.ScoreBreakdown, bool, error) {
	key := Key(a, frameworkVersion)
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			metrics.BreakdownCacheRequests.WithLabelValues("miss").Inc()
			return nil, false, nil
		}
		metrics.BreakdownCacheRequests.WithLabelValues("error").Inc()
		return nil, false, errors.NewCacheUnavailableError(err)
	}

	var b models.ScoreBreakdown
	if err := json.Unmarshal(val, &b); err != nil {
		c.logger.Warn("dropping undecodable cache entry", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		c.client.Del(ctx, key)
		metrics.BreakdownCacheRequests.WithLabelValues("miss").Inc()
		return nil, false, nil
	}

	metrics.BreakdownCacheRequests.WithLabelValues("hit").Inc()
	return &b, true, nil
}

// Set stores b for a at the configured TTL.
func (c *BreakdownCache) Set(ctx context.Context, a *models.Assessment, b *models.ScoreBreakdown) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode breakdown: %w", err)
	}
	if err := c.client.Set(ctx, Key(a, b.FrameworkVersion), data, c.ttl).Err(); err != nil {
		return errors.NewCacheUnavailableError(err)
	}
	return nil
}

// Invalidate drops the entry for a under frameworkVersion.
func (c *BreakdownCache) Invalidate(ctx context.Context, a *models.Assessment, frameworkVersion string) error {
	if err := c.client.Del(ctx, Key(a, frameworkVersion)).Err(); err != nil {
		return errors.NewCacheUnavailableError(err)
	}
	return nil
}
