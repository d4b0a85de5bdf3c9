package listmatchapprovals

import "time"

type Config struct {
	Timeout     time.Duration
	MaxPageSize int
}

func DefaultConfig() *Config {
	return &Config{Timeout: 10 * time.Second, MaxPageSize: 100}
}
