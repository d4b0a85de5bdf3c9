package diagnoselisting

import "matching-workers/internal/matching"

type Input struct {
	TenantID  string `json:"tenantId"`
	ListingID string `json:"listingId"`
	Limit     int    `json:"limit,omitempty"`
}

type Output struct {
	Diagnosis  matching.Diagnosis `json:"diagnosis"`
	EntryCount int                `json:"entryCount"`
	Truncated  bool               `json:"truncated"`
}
