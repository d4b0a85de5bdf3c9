package matching

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"matching-workers/internal/models"
)

const (
	FactorSkills      = "skills"
	FactorLocation    = "location"
	FactorRecency     = "recency"
	FactorHistory     = "history"
	FactorReviews     = "reviews"
	FactorNexus       = "nexus"
	FactorCategory    = "category"
	FactorReciprocity = "reciprocity"
)

// KnownFactors lists every factor the builder can produce, in vector order.
var KnownFactors = []string{
	FactorSkills,
	FactorLocation,
	FactorRecency,
	FactorHistory,
	FactorReviews,
	FactorNexus,
	FactorCategory,
	FactorReciprocity,
}

func isKnownFactor(name string) bool {
	for _, f := range KnownFactors {
		if f == name {
			return true
		}
	}
	return false
}

// Proximity bands in km.
const (
	proximityWalkingKm  = 5.0
	proximityLocalKm    = 15.0
	proximityCityKm     = 30.0
	proximityRegionalKm = 50.0
	proximityMaxKm      = 100.0
)

// Recency decay.
const (
	recencyFullWindow = 24 * time.Hour
	recencyHalfLife   = 14 * 24 * time.Hour
	recencyFloor      = 0.3
)

const (
	skillOverlapBoost = 1.5
	categoryMiss      = 0.3
	maxReviewScore    = 5.0
	maxNexusScore     = 1000.0
	earthRadiusKm     = 6371.0
)

type Factor struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Available bool    `json:"available"`
}

// FactorVector is the immutable set of normalized factors for one pair.
type FactorVector struct {
	factors    []Factor
	matchType  MatchType
	distanceKm float64
}

// NewFactorVector builds a vector from explicit factors. Values are clamped
// to [0,1] and later duplicates of a name are ignored.
func NewFactorVector(factors ...Factor) FactorVector {
	seen := make(map[string]bool, len(factors))
	out := make([]Factor, 0, len(factors))
	for _, f := range factors {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		f.Value = clamp01(f.Value)
		if !f.Available {
			f.Value = 0
		}
		out = append(out, f)
	}
	return FactorVector{factors: out, distanceKm: -1}
}

// Factors returns a copy of the vector's factors in order.
func (v FactorVector) Factors() []Factor {
	out := make([]Factor, len(v.factors))
	copy(out, v.factors)
	return out
}

func (v FactorVector) Value(name string) (float64, bool) {
	for _, f := range v.factors {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

func (v FactorVector) Available(name string) bool {
	for _, f := range v.factors {
		if f.Name == name {
			return f.Available
		}
	}
	return false
}

func (v FactorVector) Len() int { return len(v.factors) }

func (v FactorVector) MatchType() MatchType { return v.matchType }

// DistanceKm returns the pair distance, or -1 when either location is unknown.
func (v FactorVector) DistanceKm() float64 { return v.distanceKm }

func (v FactorVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Factors    []Factor  `json:"factors"`
		MatchType  MatchType `json:"matchType,omitempty"`
		DistanceKm *float64  `json:"distanceKm,omitempty"`
	}{
		Factors:    v.factors,
		MatchType:  v.matchType,
		DistanceKm: v.distancePtr(),
	})
}

func (v FactorVector) distancePtr() *float64 {
	if v.distanceKm < 0 {
		return nil
	}
	d := math.Round(v.distanceKm*10) / 10
	return &d
}

// extractor produces the factor set for one candidate kind.
type extractor interface {
	extract(subject, candidate *models.Snapshot, now time.Time) FactorVector
}

// Builder turns attribute snapshots into factor vectors.
type Builder struct {
	now        Clock
	extractors map[CandidateKind]extractor
}

func NewBuilder(now Clock) *Builder {
	if now == nil {
		now = systemClock
	}
	return &Builder{
		now: now,
		extractors: map[CandidateKind]extractor{
			KindMember:  memberExtractor{},
			KindListing: listingExtractor{},
		},
	}
}

// Build computes the vector for (subject, candidate) at the builder's clock.
func (b *Builder) Build(subject, candidate *models.Snapshot, kind CandidateKind) (FactorVector, error) {
	return b.BuildAt(subject, candidate, kind, b.now())
}

// BuildAt is Build with an explicit evaluation time.
func (b *Builder) BuildAt(subject, candidate *models.Snapshot, kind CandidateKind, now time.Time) (FactorVector, error) {
	if subject.IsEmpty() && candidate.IsEmpty() {
		return FactorVector{}, ErrFactorUnavailable
	}
	if subject == nil {
		subject = &models.Snapshot{}
	}
	if candidate == nil {
		candidate = &models.Snapshot{}
	}
	ex, ok := b.extractors[kind]
	if !ok {
		return FactorVector{}, ErrFactorUnavailable
	}
	return ex.extract(subject, candidate, now), nil
}

type memberExtractor struct{}

func (memberExtractor) extract(subject, candidate *models.Snapshot, now time.Time) FactorVector {
	recip, mt := reciprocityFactor(subject, candidate)
	loc, dist := locationFactor(subject.Location, candidate.Location)
	return FactorVector{
		factors: []Factor{
			skillsFactor(subject.Skills, candidate.Skills),
			loc,
			recencyFactor(candidate.LastActiveAt, now),
			historyFactor(subject, candidate, candidate.ID),
			reviewsFactor(candidate.ReviewScore),
			nexusFactor(candidate.NexusScore),
			categoryFactor(subject.AllCategories(), candidate.AllCategories()),
			recip,
		},
		matchType:  mt,
		distanceKm: dist,
	}
}

type listingExtractor struct{}

func (listingExtractor) extract(subject, candidate *models.Snapshot, now time.Time) FactorVector {
	recip, mt := reciprocityFactor(subject, candidate)
	loc, dist := locationFactor(subject.Location, candidate.Location)
	var listingCats []string
	if candidate.Category != "" {
		listingCats = []string{candidate.Category}
	} else {
		listingCats = candidate.Categories
	}
	return FactorVector{
		factors: []Factor{
			skillsFactor(subject.Skills, candidate.Skills),
			loc,
			recencyFactor(candidate.LastActiveAt, now),
			historyFactor(subject, candidate, candidate.OwnerID),
			reviewsFactor(candidate.ReviewScore),
			nexusFactor(candidate.NexusScore),
			categoryFactor(subject.AllCategories(), listingCats),
			recip,
		},
		matchType:  mt,
		distanceKm: dist,
	}
}

func unavailable(name string) Factor {
	return Factor{Name: name, Value: 0, Available: false}
}

func available(name string, v float64) Factor {
	return Factor{Name: name, Value: clamp01(v), Available: true}
}

func skillsFactor(subject, candidate []string) Factor {
	s := normalizeTokens(subject)
	c := normalizeTokens(candidate)
	if len(s) == 0 || len(c) == 0 {
		return unavailable(FactorSkills)
	}
	overlap := 0
	for tok := range c {
		if s[tok] {
			overlap++
		}
	}
	return available(FactorSkills, math.Min(1, float64(overlap)/float64(len(c))*skillOverlapBoost))
}

func normalizeTokens(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out[t] = true
		}
	}
	return out
}

func locationFactor(a, b *models.GeoPoint) (Factor, float64) {
	if a == nil || b == nil {
		return unavailable(FactorLocation), -1
	}
	d := HaversineKm(*a, *b)
	return available(FactorLocation, ProximityScore(d)), d
}

// HaversineKm returns the great-circle distance between two points.
func HaversineKm(a, b models.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// ProximityScore maps a distance onto the piecewise-linear band curve.
func ProximityScore(km float64) float64 {
	switch {
	case km <= proximityWalkingKm:
		return 1.0
	case km <= proximityLocalKm:
		return 1.0 - (km-proximityWalkingKm)/(proximityLocalKm-proximityWalkingKm)*0.1
	case km <= proximityCityKm:
		return 0.9 - (km-proximityLocalKm)/(proximityCityKm-proximityLocalKm)*0.2
	case km <= proximityRegionalKm:
		return 0.7 - (km-proximityCityKm)/(proximityRegionalKm-proximityCityKm)*0.2
	case km <= proximityMaxKm:
		return 0.5 - (km-proximityRegionalKm)/(proximityMaxKm-proximityRegionalKm)*0.4
	default:
		return math.Max(0.05, 0.1*proximityMaxKm/km)
	}
}

func recencyFactor(lastActive *time.Time, now time.Time) Factor {
	if lastActive == nil || lastActive.IsZero() {
		return unavailable(FactorRecency)
	}
	age := now.Sub(*lastActive)
	if age <= recencyFullWindow {
		return available(FactorRecency, 1)
	}
	decay := math.Pow(0.5, float64(age-recencyFullWindow)/float64(recencyHalfLife))
	return available(FactorRecency, math.Max(recencyFloor, decay))
}

func historyFactor(subject, candidate *models.Snapshot, partnerID string) Factor {
	if len(subject.ConnectionHistory) == 0 && len(candidate.ConnectionHistory) == 0 {
		return unavailable(FactorHistory)
	}
	n := 0
	if c, ok := subject.HistoryWith(partnerID); ok {
		n = c.Exchanges
	}
	if c, ok := candidate.HistoryWith(subject.ID); ok && c.Exchanges > n {
		n = c.Exchanges
	}
	if n <= 0 {
		return available(FactorHistory, 0)
	}
	return available(FactorHistory, float64(n)/float64(n+1))
}

func reviewsFactor(score *float64) Factor {
	if score == nil {
		return unavailable(FactorReviews)
	}
	return available(FactorReviews, *score/maxReviewScore)
}

func nexusFactor(score *float64) Factor {
	if score == nil {
		return unavailable(FactorNexus)
	}
	return available(FactorNexus, *score/maxNexusScore)
}

func categoryFactor(subject, candidate []string) Factor {
	if len(subject) == 0 || len(candidate) == 0 {
		return unavailable(FactorCategory)
	}
	if intersects(subject, candidate) {
		return available(FactorCategory, 1)
	}
	return available(FactorCategory, categoryMiss)
}

func reciprocityFactor(subject, candidate *models.Snapshot) (Factor, MatchType) {
	subjectHas := len(subject.Offers) > 0 || len(subject.Requests) > 0
	candidateHas := len(candidate.Offers) > 0 || len(candidate.Requests) > 0
	if !subjectHas && !candidateHas {
		return unavailable(FactorReciprocity), ""
	}
	if !candidateHas {
		return available(FactorReciprocity, 0.3), MatchOneWay
	}
	theyNeedMine := intersects(subject.Offers, candidate.Requests)
	iNeedTheirs := intersects(candidate.Offers, subject.Requests)
	switch {
	case theyNeedMine && iNeedTheirs:
		return available(FactorReciprocity, 1.0), MatchMutual
	case theyNeedMine || iNeedTheirs:
		return available(FactorReciprocity, 0.7), MatchPotential
	default:
		return available(FactorReciprocity, 0.4), MatchOneWay
	}
}

func intersects(a, b []string) bool {
	set := normalizeTokens(a)
	for _, x := range b {
		if set[strings.ToLower(strings.TrimSpace(x))] {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sortedNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
