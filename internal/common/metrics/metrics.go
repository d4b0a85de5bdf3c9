package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	MatchCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_cache_lookups_total",
			Help: "Match cache lookups by result (hit, miss, stale_version, invalidated, expired)",
		},
		[]string{"result"},
	)

	MatchCacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "match_cache_invalidations_total",
			Help: "Entity invalidation signals applied to the match cache",
		},
	)

	MatchCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "match_cache_entries",
			Help: "Records currently held in the match cache",
		},
	)

	MatchesScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matches_scored_total",
			Help: "Subject/candidate pairs scored",
		},
		[]string{"candidate_kind"},
	)

	CandidatesFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_candidates_filtered_total",
			Help: "Candidates dropped by pre-filters",
		},
		[]string{"candidate_kind", "reason"},
	)

	ScoringDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "match_scoring_duration_seconds",
			Help:    "Time to score all candidates of one subject",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"candidate_kind"},
	)

	ApprovalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_approval_transitions_total",
			Help: "Approval state transitions",
		},
		[]string{"to_state"},
	)

	MatchRecordsReused = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "match_records_reused_total",
			Help: "Re-scored pairs whose stored record was kept because the inputs were unchanged",
		},
	)

	SnapshotCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attribute_snapshot_cache_lookups_total",
			Help: "Attribute snapshot cache lookups by result",
		},
		[]string{"result"},
	)

	BrokerNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_notifications_total",
			Help: "Match notifications by event, channel and status",
		},
		[]string{"event", "channel", "status"},
	)
)
