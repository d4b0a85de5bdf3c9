// internal/models/snapshot.go
package models

import "time"

type EntityKind string

const (
	KindMember  EntityKind = "member"
	KindListing EntityKind = "listing"
)

func (k EntityKind) Valid() bool {
	return k == KindMember || k == KindListing
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Connection is one entry of an entity's exchange history with another member.
type Connection struct {
	PartnerID string    `json:"partnerId"`
	Exchanges int       `json:"exchanges"`
	Connected bool      `json:"connected"`
	LastAt    time.Time `json:"lastAt,omitempty"`
}

// Snapshot is the read-only attribute view of a member or listing supplied
// by the profile/listing store. Optional numerics are pointers so a missing
// value is distinguishable from zero.
type Snapshot struct {
	ID                string       `json:"id"`
	TenantID          string       `json:"tenantId"`
	Kind              EntityKind   `json:"kind"`
	OwnerID           string       `json:"ownerId,omitempty"`
	Skills            []string     `json:"skills,omitempty"`
	Category          string       `json:"category,omitempty"`
	Categories        []string     `json:"categories,omitempty"`
	Offers            []string     `json:"offers,omitempty"`
	Requests          []string     `json:"requests,omitempty"`
	Location          *GeoPoint    `json:"location,omitempty"`
	LastActiveAt      *time.Time   `json:"lastActiveAt,omitempty"`
	ReviewScore       *float64     `json:"reviewScore,omitempty"`
	NexusScore        *float64     `json:"nexusScore,omitempty"`
	ConnectionHistory []Connection `json:"connectionHistory,omitempty"`
	Active            bool         `json:"active"`
}

// IsEmpty reports whether the snapshot carries no scorable attribute at all.
func (s *Snapshot) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.Skills) == 0 &&
		s.Category == "" &&
		len(s.Categories) == 0 &&
		len(s.Offers) == 0 &&
		len(s.Requests) == 0 &&
		s.Location == nil &&
		s.LastActiveAt == nil &&
		s.ReviewScore == nil &&
		s.NexusScore == nil &&
		len(s.ConnectionHistory) == 0
}

// AllCategories returns the listing category followed by any extra categories.
func (s *Snapshot) AllCategories() []string {
	out := make([]string, 0, len(s.Categories)+1)
	if s.Category != "" {
		out = append(out, s.Category)
	}
	return append(out, s.Categories...)
}

// HistoryWith returns the connection entry for partnerID, if any.
func (s *Snapshot) HistoryWith(partnerID string) (Connection, bool) {
	for _, c := range s.ConnectionHistory {
		if c.PartnerID == partnerID {
			return c, true
		}
	}
	return Connection{}, false
}
