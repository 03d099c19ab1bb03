// internal/workers/assessment/transition-assessment/config.go
package transitionassessment

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
		Timeout: 30 * time.Second,
		Scoring: scoring.DefaultOptions(),
	}
}
