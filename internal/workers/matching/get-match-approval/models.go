package getmatchapproval

import "matching-workers/internal/matching"

type Input struct {
	TenantID string `json:"tenantId"`
	RecordID string `json:"recordId"`
}

type Output struct {
	Record     *matching.MatchRecord `json:"record"`
	Superseded bool                  `json:"superseded"`
	AuditTrail []matching.AuditEntry `json:"auditTrail"`
}
