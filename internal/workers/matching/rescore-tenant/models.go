package rescoretenant

import "matching-workers/internal/matching"

type Input struct {
	TenantID   string   `json:"tenantId"`
	SubjectIDs []string `json:"subjectIds,omitempty"`
}

type Output struct {
	Report    matching.RescoreReport `json:"report"`
	Remaining int                    `json:"remaining"`
}
