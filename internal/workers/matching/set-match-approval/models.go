package setmatchapproval

import "matching-workers/internal/matching"

// Input decides one record, or every record in RecordIDs when it is set.
// Rejections must carry notes.
type Input struct {
	TenantID    string   `json:"tenantId"`
	RecordID    string   `json:"recordId,omitempty"`
	RecordIDs   []string `json:"recordIds,omitempty"`
	Approved    bool     `json:"approved"`
	ReviewerID  string   `json:"reviewerId,omitempty"`
	AccessToken string   `json:"accessToken,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

type Output struct {
	Record     *matching.MatchRecord `json:"record,omitempty"`
	Changed    bool                  `json:"changed"`
	AuditTrail []matching.AuditEntry `json:"auditTrail,omitempty"`

	Results []BatchResult `json:"results,omitempty"`
	Applied int           `json:"applied,omitempty"`
	Failed  int           `json:"failed,omitempty"`
}

// BatchResult is the outcome of one record in a bulk decision.
type BatchResult struct {
	RecordID  string                 `json:"recordId"`
	State     matching.ApprovalState `json:"state,omitempty"`
	Changed   bool                   `json:"changed"`
	ErrorCode string                 `json:"errorCode,omitempty"`
	Error     string                 `json:"error,omitempty"`
}
