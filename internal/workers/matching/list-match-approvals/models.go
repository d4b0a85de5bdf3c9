package listmatchapprovals

import "matching-workers/internal/matching"

type Input struct {
	TenantID string `json:"tenantId"`
	// Status filters by approval state; empty lists every latest record.
	Status   string `json:"status,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"pageSize,omitempty"`
}

type Output struct {
	Approvals  []*matching.MatchRecord `json:"approvals"`
	Page       int                     `json:"page"`
	PageSize   int                     `json:"pageSize"`
	Total      int                     `json:"total"`
	TotalPages int                     `json:"totalPages"`
}
