package getmatchstats

import "time"

type Config struct {
	Timeout            time.Duration
	DefaultWindowHours int
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:            10 * time.Second,
		DefaultWindowHours: 720,
	}
}
