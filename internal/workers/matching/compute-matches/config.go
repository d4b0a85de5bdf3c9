package computematches

import "time"

type Config struct {
	Timeout time.Duration
	// MaxLimit caps the number of matches returned to the process.
	MaxLimit int
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:  30 * time.Second,
		MaxLimit: 100,
	}
}
