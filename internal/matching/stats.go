package matching

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultStatsWindowHours = 30 * 24
	day                     = 24 * time.Hour
)

// ScoreBucket covers scores in [Min, next bucket's Min); the last bucket
// extends to 100.
type ScoreBucket struct {
	Label string
	Min   float64
}

// DefaultScoreBuckets is 0-49 / 50-79 / 80-100.
func DefaultScoreBuckets() []ScoreBucket {
	return []ScoreBucket{{Label: "0-49", Min: 0}, {Label: "50-79", Min: 50}, {Label: "80-100", Min: 80}}
}

// ParseScoreBuckets reads labels like "0-49" into ordered buckets.
func ParseScoreBuckets(labels []string) ([]ScoreBucket, error) {
	if len(labels) == 0 {
		return DefaultScoreBuckets(), nil
	}
	out := make([]ScoreBucket, 0, len(labels))
	for _, l := range labels {
		lo, _, ok := strings.Cut(strings.TrimSpace(l), "-")
		if !ok {
			return nil, fmt.Errorf("score bucket %q: expected min-max", l)
		}
		lower, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		if err != nil {
			return nil, fmt.Errorf("score bucket %q: %w", l, err)
		}
		out = append(out, ScoreBucket{Label: strings.TrimSpace(l), Min: lower})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Min < out[j].Min })
	return out, nil
}

func bucketFor(buckets []ScoreBucket, score float64) string {
	label := buckets[0].Label
	for _, b := range buckets {
		if score >= b.Min {
			label = b.Label
		}
	}
	return label
}

var distanceBuckets = []struct {
	label string
	maxKm float64
}{
	{"walking", proximityWalkingKm},
	{"local", proximityLocalKm},
	{"city", proximityCityKm},
	{"regional", proximityRegionalKm},
	{"distant", math.Inf(1)},
}

type Overview struct {
	TotalMatchesToday   int     `json:"totalMatchesToday"`
	TotalMatchesWeek    int     `json:"totalMatchesWeek"`
	TotalMatchesMonth   int     `json:"totalMatchesMonth"`
	AvgScore            float64 `json:"avgScore"`
	CacheHitRate        float64 `json:"cacheHitRate"`
	HotMatchesCount     int     `json:"hotMatchesCount"`
	ActiveUsersMatching int     `json:"activeUsersMatching"`
}

type Stats struct {
	TenantID              string         `json:"tenantId"`
	WindowHours           int            `json:"windowHours"`
	Overview              Overview       `json:"overview"`
	ApprovalRate          float64        `json:"approvalRate"`
	PendingApprovals      int            `json:"pendingApprovals"`
	ApprovedCount         int            `json:"approvedCount"`
	RejectedCount         int            `json:"rejectedCount"`
	AutoApprovedCount     int            `json:"autoApprovedCount"`
	AvgApprovalTimeHours  float64        `json:"avgApprovalTimeHours"`
	ScoreDistribution     map[string]int `json:"scoreDistribution"`
	DistanceDistribution  map[string]int `json:"distanceDistribution"`
	BrokerApprovalEnabled bool           `json:"brokerApprovalEnabled"`
	GeneratedAt           time.Time      `json:"generatedAt"`
}

// CacheHealth exposes the cache's sliding-window counters.
type CacheHealth interface {
	Stats() CacheStats
}

// Aggregator rolls record history and cache health into dashboard stats.
type Aggregator struct {
	store   ApprovalStore
	cache   CacheHealth
	configs ConfigProvider
	buckets []ScoreBucket
	now     Clock
}

func NewAggregator(store ApprovalStore, cache CacheHealth, configs ConfigProvider, buckets []ScoreBucket) *Aggregator {
	if len(buckets) == 0 {
		buckets = DefaultScoreBuckets()
	}
	return &Aggregator{store: store, cache: cache, configs: configs, buckets: buckets, now: systemClock}
}

// GetStats never fails on an empty dataset; a new tenant gets zeros.
func (a *Aggregator) GetStats(ctx context.Context, tenantID string, windowHours int) (Stats, error) {
	if windowHours <= 0 {
		windowHours = defaultStatsWindowHours
	}
	now := a.now()
	st := Stats{
		TenantID:             tenantID,
		WindowHours:          windowHours,
		ScoreDistribution:    make(map[string]int, len(a.buckets)),
		DistanceDistribution: make(map[string]int, len(distanceBuckets)),
		GeneratedAt:          now,
	}
	for _, b := range a.buckets {
		st.ScoreDistribution[b.Label] = 0
	}
	for _, b := range distanceBuckets {
		st.DistanceDistribution[b.label] = 0
	}

	cfg, err := a.configs.Current(ctx, tenantID)
	if err != nil {
		return Stats{}, err
	}
	st.BrokerApprovalEnabled = cfg.BrokerApproval

	window := time.Duration(windowHours) * time.Hour
	since := now.Add(-window)
	if month := now.Add(-30 * day); month.Before(since) {
		since = month
	}
	records, err := a.store.History(ctx, tenantID, since)
	if err != nil {
		return Stats{}, err
	}

	startOfDay := now.Truncate(day)
	weekAgo := now.Add(-7 * day)
	monthAgo := now.Add(-30 * day)
	windowStart := now.Add(-window)

	subjects := make(map[string]bool)
	var scoreSum, decisionHours float64
	var scored, decided int
	for _, r := range records {
		if !r.ComputedAt.Before(startOfDay) {
			st.Overview.TotalMatchesToday++
		}
		if !r.ComputedAt.Before(weekAgo) {
			st.Overview.TotalMatchesWeek++
		}
		if !r.ComputedAt.Before(monthAgo) {
			st.Overview.TotalMatchesMonth++
		}
		if r.ComputedAt.Before(windowStart) {
			continue
		}

		scored++
		scoreSum += r.Score
		subjects[r.SubjectID] = true
		if IsHot(r.Score, cfg) {
			st.Overview.HotMatchesCount++
		}
		st.ScoreDistribution[bucketFor(a.buckets, r.Score)]++
		if r.DistanceKm != nil {
			for _, b := range distanceBuckets {
				if *r.DistanceKm <= b.maxKm {
					st.DistanceDistribution[b.label]++
					break
				}
			}
		}

		switch r.ApprovalState {
		case StatePending:
			if r.SupersededAt == nil {
				st.PendingApprovals++
			}
		case StateApproved:
			st.ApprovedCount++
		case StateAutoApproved:
			st.ApprovedCount++
			st.AutoApprovedCount++
		case StateRejected:
			st.RejectedCount++
		}
		if (r.ApprovalState == StateApproved || r.ApprovalState == StateRejected) && r.DecidedAt != nil {
			decided++
			decisionHours += r.DecidedAt.Sub(r.ComputedAt).Hours()
		}
	}

	if scored > 0 {
		st.Overview.AvgScore = round1(scoreSum / float64(scored))
	}
	st.Overview.ActiveUsersMatching = len(subjects)
	if reviewed := st.ApprovedCount + st.RejectedCount; reviewed > 0 {
		st.ApprovalRate = round1(float64(st.ApprovedCount) / float64(reviewed) * 100)
	}
	if decided > 0 {
		st.AvgApprovalTimeHours = round1(decisionHours / float64(decided))
	}
	if a.cache != nil {
		st.Overview.CacheHitRate = round1(a.cache.Stats().HitRate * 100)
	}
	return st, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
