package setmatchapproval

import "time"

type Config struct {
	Timeout time.Duration
	// RequireToken rejects decisions that carry only a bare reviewerId.
	RequireToken bool
	// MaxBatch caps recordIds in one bulk decision.
	MaxBatch int
}

func DefaultConfig() *Config {
	return &Config{Timeout: 15 * time.Second, MaxBatch: 100}
}
