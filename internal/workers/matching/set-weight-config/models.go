package setweightconfig

import "matching-workers/internal/matching"

// Input replaces the tenant's weight config. Omitted fields keep their
// active values; expectedVersion, when set, must match the active version.
type Input struct {
	TenantID        string             `json:"tenantId"`
	ExpectedVersion int64              `json:"expectedVersion,omitempty"`
	Weights         map[string]float64 `json:"weights,omitempty"`
	BrokerApproval  *bool              `json:"brokerApprovalEnabled,omitempty"`
	MinScore        *float64           `json:"minScore,omitempty"`
	HotThreshold    *float64           `json:"hotThreshold,omitempty"`
	MaxDistanceKm   *float64           `json:"maxDistanceKm,omitempty"`
	UpdatedBy       string             `json:"updatedBy,omitempty"`
}

type Output struct {
	Config          matching.WeightConfig `json:"weightConfig"`
	PreviousVersion int64                 `json:"previousVersion"`
}
