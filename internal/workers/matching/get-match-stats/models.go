package getmatchstats

import "matching-workers/internal/matching"

type Input struct {
	TenantID    string `json:"tenantId"`
	WindowHours int    `json:"windowHours,omitempty"`
}

type Output struct {
	Stats matching.Stats `json:"stats"`
}
