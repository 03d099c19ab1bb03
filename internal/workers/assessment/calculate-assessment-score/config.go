// internal/workers/assessment/calculate-assessment-score/config.go
package calculateassessmentscore

import (
	"time"

	"readiness-workers/internal/engine/scoring"
)

type Config struct {
	Timeout time.Duration
	Scoring scoring.Options
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 15 * time.Second,
		Scoring: scoring.DefaultOptions(),
	}
}
