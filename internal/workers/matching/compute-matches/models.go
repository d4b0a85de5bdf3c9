package computematches

import "matching-workers/internal/matching"

type Input struct {
	TenantID      string   `json:"tenantId"`
	SubjectID     string   `json:"subjectId"`
	Kinds         []string `json:"kinds,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	IncludeHidden bool     `json:"includeHidden,omitempty"`
	ForceRefresh  bool     `json:"forceRefresh,omitempty"`
}

type Output struct {
	Matches        []*matching.MatchRecord `json:"matches"`
	MatchCount     int                     `json:"matchCount"`
	ConfigVersion  int64                   `json:"configVersion"`
	Considered     int                     `json:"considered"`
	Scored         int                     `json:"scored"`
	CacheHits      int                     `json:"cacheHits"`
	Skipped        int                     `json:"skipped"`
	BelowThreshold int                     `json:"belowThreshold"`
}
