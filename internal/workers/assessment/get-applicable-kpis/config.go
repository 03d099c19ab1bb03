// internal/workers/assessment/get-applicable-kpis/config.go
package getapplicablekpis

import "time"

type Config struct {
	Timeout time.Duration
	// DefaultLimit bounds NextQuestions when the job does not ask for a size.
	DefaultLimit int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:      10 * time.Second,
		DefaultLimit: 5,
	}
}
