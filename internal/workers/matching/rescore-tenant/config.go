package rescoretenant

import "time"

type Config struct {
	// Timeout bounds the whole batch; subjects not reached are reported
	// as cancelled rather than failing the job.
	Timeout time.Duration
	// MaxSubjects caps the members rescored in one job. Zero means no cap.
	MaxSubjects int
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:     10 * time.Minute,
		MaxSubjects: 0,
	}
}
