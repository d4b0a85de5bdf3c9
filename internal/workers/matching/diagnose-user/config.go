package diagnoseuser

import "time"

type Config struct {
	Timeout time.Duration
	// MaxEntries bounds the diagnosis returned as process variables.
	MaxEntries int
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:    20 * time.Second,
		MaxEntries: 200,
	}
}
