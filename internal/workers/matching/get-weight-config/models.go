package getweightconfig

import "matching-workers/internal/matching"

type Input struct {
	TenantID string `json:"tenantId"`
}

type Output struct {
	Config matching.WeightConfig `json:"weightConfig"`
}
