// Package matching computes weighted compatibility scores between members and
// between members and listings, caches them, and gates their publication
// through the broker approval workflow.
package matching

import (
	"errors"
	"time"

	"matching-workers/internal/models"
)

type CandidateKind = models.EntityKind

const (
	KindMember  = models.KindMember
	KindListing = models.KindListing
)

var (
	ErrFactorUnavailable     = errors.New("FACTOR_UNAVAILABLE")
	ErrConfigVersionMismatch = errors.New("CONFIG_VERSION_MISMATCH")
	ErrInvalidWeightConfig   = errors.New("INVALID_WEIGHT_CONFIG")
	ErrApprovalConflict      = errors.New("APPROVAL_CONFLICT")
	ErrRecordNotFound        = errors.New("MATCH_RECORD_NOT_FOUND")
	ErrUnauthorized          = errors.New("UNAUTHORIZED_REVIEWER")
	// ErrRecordSuperseded means a record computed at the same time or later
	// is already stored for the pair.
	ErrRecordSuperseded = errors.New("MATCH_RECORD_SUPERSEDED")
)

type ApprovalState string

const (
	StatePending      ApprovalState = "pending"
	StateApproved     ApprovalState = "approved"
	StateRejected     ApprovalState = "rejected"
	StateAutoApproved ApprovalState = "auto_approved"
)

func (s ApprovalState) Valid() bool {
	switch s {
	case StatePending, StateApproved, StateRejected, StateAutoApproved:
		return true
	}
	return false
}

func (s ApprovalState) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateAutoApproved
}

// Visible reports whether records in this state may be shown to end users.
func (s ApprovalState) Visible() bool {
	return s == StateApproved || s == StateAutoApproved
}

type MatchType string

const (
	MatchMutual    MatchType = "mutual"
	MatchPotential MatchType = "potential"
	MatchOneWay    MatchType = "one_way"
)

// Key identifies the latest record for a scored pair.
type Key struct {
	TenantID    string
	SubjectID   string
	CandidateID string
	Kind        CandidateKind
}

type MatchRecord struct {
	ID            string             `json:"id"`
	TenantID      string             `json:"tenantId"`
	SubjectID     string             `json:"subjectId"`
	CandidateID   string             `json:"candidateId"`
	CandidateKind CandidateKind      `json:"candidateKind"`
	Score         float64            `json:"score"`
	Breakdown     map[string]float64 `json:"breakdown"`
	MatchType     MatchType          `json:"matchType,omitempty"`
	DistanceKm    *float64           `json:"distanceKm,omitempty"`
	ConfigVersion int64              `json:"configVersion"`
	ComputedAt    time.Time          `json:"computedAt"`
	ApprovalState ApprovalState      `json:"approvalState"`
	ReviewerID    string             `json:"reviewerId,omitempty"`
	ReviewNotes   string             `json:"reviewNotes,omitempty"`
	DecidedAt     *time.Time         `json:"decidedAt,omitempty"`
	SupersededAt  *time.Time         `json:"supersededAt,omitempty"`

	// InputHash fingerprints the two attribute snapshots the score was built from.
	InputHash string `json:"inputHash,omitempty"`

	// verifiedAt is when the engine last read the inputs and found them
	// unchanged. Cache freshness is judged on it.
	verifiedAt time.Time
}

func (r *MatchRecord) Key() Key {
	return Key{TenantID: r.TenantID, SubjectID: r.SubjectID, CandidateID: r.CandidateID, Kind: r.CandidateKind}
}

func (r *MatchRecord) Visible() bool {
	return r.ApprovalState.Visible()
}

// freshAt is the time the record's inputs were last known to be current.
func (r *MatchRecord) freshAt() time.Time {
	if r.verifiedAt.After(r.ComputedAt) {
		return r.verifiedAt
	}
	return r.ComputedAt
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (r *MatchRecord) Clone() *MatchRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Breakdown != nil {
		out.Breakdown = make(map[string]float64, len(r.Breakdown))
		for k, v := range r.Breakdown {
			out.Breakdown[k] = v
		}
	}
	if r.DistanceKm != nil {
		d := *r.DistanceKm
		out.DistanceKm = &d
	}
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		out.DecidedAt = &t
	}
	if r.SupersededAt != nil {
		t := *r.SupersededAt
		out.SupersededAt = &t
	}
	return &out
}

// Clock returns the current time. Tests inject fixed clocks.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
