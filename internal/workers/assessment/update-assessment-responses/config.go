// internal/workers/assessment/update-assessment-responses/config.go
package updateassessmentresponses

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
