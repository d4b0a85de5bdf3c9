package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"matching-workers/internal/common/logger"
	"matching-workers/internal/common/metrics"
	"matching-workers/internal/models"
)

const defaultConcurrency = 8

var ErrEntityNotFound = errors.New("ENTITY_NOT_FOUND")

// AttributeStore resolves one entity's attribute snapshot. Implementations
// return ErrEntityNotFound for unknown ids.
type AttributeStore interface {
	Get(ctx context.Context, tenantID, entityID string) (*models.Snapshot, error)
}

// EntityInvalidator drops derived copies of an entity's attributes.
type EntityInvalidator interface {
	InvalidateEntity(ctx context.Context, tenantID, entityID string) error
}

type EngineOptions struct {
	Concurrency int
	Now         Clock
}

// Engine ties candidate generation, scoring, caching and approval together.
type Engine struct {
	attrs        AttributeStore
	generator    *Generator
	builder      *Builder
	cache        *Cache
	gate         *Gate
	configs      ConfigProvider
	invalidators []EntityInvalidator
	logger       logger.Logger
	concurrency  int
	now          Clock
}

func NewEngine(attrs AttributeStore, generator *Generator, cache *Cache, gate *Gate, configs ConfigProvider, log logger.Logger, opts EngineOptions, invalidators ...EntityInvalidator) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = systemClock
	}
	return &Engine{
		attrs:        attrs,
		generator:    generator,
		builder:      NewBuilder(opts.Now),
		cache:        cache,
		gate:         gate,
		configs:      configs,
		invalidators: invalidators,
		logger:       log.WithFields(map[string]interface{}{"component": "match-engine"}),
		concurrency:  opts.Concurrency,
		now:          opts.Now,
	}
}

// MatchRequest asks for the matches of one subject.
type MatchRequest struct {
	TenantID      string
	SubjectID     string
	Kinds         []CandidateKind
	Categories    []string
	Limit         int
	IncludeHidden bool
	// ForceRefresh skips cache reads; fresh records are still written back.
	ForceRefresh bool
}

type MatchResult struct {
	TenantID       string         `json:"tenantId"`
	SubjectID      string         `json:"subjectId"`
	ConfigVersion  int64          `json:"configVersion"`
	Matches        []*MatchRecord `json:"matches"`
	Considered     int            `json:"considered"`
	Scored         int            `json:"scored"`
	CacheHits      int            `json:"cacheHits"`
	Skipped        int            `json:"skipped"`
	BelowThreshold int            `json:"belowThreshold"`
}

type pairOutcome struct {
	rec      *MatchRecord
	order    int
	cacheHit bool
	skipped  bool
	below    bool
}

// MatchSubject scores every generated candidate of the subject against the
// tenant's current config. The config is read once, so a concurrent weight
// change never mixes versions within one result.
func (e *Engine) MatchSubject(ctx context.Context, req MatchRequest) (MatchResult, error) {
	cfg, err := e.configs.Current(ctx, req.TenantID)
	if err != nil {
		return MatchResult{}, fmt.Errorf("load weight config: %w", err)
	}
	return e.matchWithConfig(ctx, req, cfg)
}

func (e *Engine) matchWithConfig(ctx context.Context, req MatchRequest, cfg WeightConfig) (MatchResult, error) {
	result := MatchResult{TenantID: req.TenantID, SubjectID: req.SubjectID, ConfigVersion: cfg.Version, Matches: []*MatchRecord{}}

	// Every record of this request is stamped with the time its inputs were
	// read, so an invalidation landing anywhere after this point wins.
	readAt := e.now()
	subject, err := e.attrs.Get(ctx, req.TenantID, req.SubjectID)
	if err != nil {
		return result, err
	}

	kinds := req.Kinds
	if len(kinds) == 0 {
		kinds = []CandidateKind{KindMember, KindListing}
	}

	type pair struct {
		candidate *models.Snapshot
		kind      CandidateKind
	}
	var pairs []pair
	for _, kind := range kinds {
		cands, err := e.generator.Candidates(subject, kind, cfg, req.Categories).Collect(ctx)
		if err != nil {
			return result, fmt.Errorf("generate %s candidates: %w", kind, err)
		}
		for _, c := range cands {
			pairs = append(pairs, pair{candidate: c, kind: kind})
		}
	}
	result.Considered = len(pairs)
	subjectDigest := snapshotDigest(subject)

	outcomes := make([]pairOutcome, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, p := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := e.scorePair(gctx, subject, subjectDigest, p.candidate, p.kind, cfg, readAt, req.ForceRefresh)
			if err != nil {
				return err
			}
			out.order = i
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	var kept []pairOutcome
	for _, o := range outcomes {
		switch {
		case o.skipped:
			result.Skipped++
			continue
		case o.below:
			result.Scored++
			result.BelowThreshold++
			continue
		}
		result.Scored++
		if o.cacheHit {
			result.CacheHits++
		}
		if !req.IncludeHidden && !o.rec.Visible() {
			continue
		}
		kept = append(kept, o)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].rec.Score != kept[j].rec.Score {
			return kept[i].rec.Score > kept[j].rec.Score
		}
		return kept[i].order < kept[j].order
	})
	for _, o := range kept {
		if req.Limit > 0 && len(result.Matches) >= req.Limit {
			break
		}
		result.Matches = append(result.Matches, o.rec)
	}
	return result, nil
}

func (e *Engine) scorePair(ctx context.Context, subject *models.Snapshot, subjectDigest uint64, candidate *models.Snapshot,
	kind CandidateKind, cfg WeightConfig, readAt time.Time, forceRefresh bool) (pairOutcome, error) {
	key := Key{TenantID: subject.TenantID, SubjectID: subject.ID, CandidateID: candidate.ID, Kind: kind}
	if !forceRefresh {
		if rec, ok := e.cache.Get(key, cfg.Version); ok {
			return pairOutcome{rec: rec, cacheHit: true}, nil
		}
	}

	start := time.Now()
	vec, err := e.builder.BuildAt(subject, candidate, kind, readAt)
	if errors.Is(err, ErrFactorUnavailable) {
		return pairOutcome{skipped: true}, nil
	}
	if err != nil {
		return pairOutcome{}, err
	}
	res := Score(vec, cfg)
	metrics.ScoringDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	metrics.MatchesScored.WithLabelValues(string(kind)).Inc()

	if res.Score < cfg.MinScore {
		return pairOutcome{below: true}, nil
	}

	rec := &MatchRecord{
		TenantID:      key.TenantID,
		SubjectID:     key.SubjectID,
		CandidateID:   key.CandidateID,
		CandidateKind: kind,
		Score:         res.Score,
		Breakdown:     res.Breakdown,
		MatchType:     vec.MatchType(),
		DistanceKm:    vec.distancePtr(),
		ConfigVersion: cfg.Version,
		ComputedAt:    readAt,
		InputHash:     pairHash(subjectDigest, candidate, kind),
	}
	admitted, err := e.gate.Admit(ctx, rec, cfg)
	if err != nil {
		return pairOutcome{}, err
	}
	admitted.verifiedAt = readAt
	e.cache.Put(admitted)
	return pairOutcome{rec: admitted}, nil
}

// RescoreReport summarizes a batch rescoring run.
type RescoreReport struct {
	TenantID      string `json:"tenantId"`
	ConfigVersion int64  `json:"configVersion"`
	Subjects      int    `json:"subjects"`
	Completed     int    `json:"completed"`
	Scored        int    `json:"scored"`
	Skipped       int    `json:"skipped"`
	Failed        int    `json:"failed"`
	Cancelled     bool   `json:"cancelled"`
}

// Rescore recomputes the given subjects with the cache bypassed. It stops
// between subjects once ctx is done; every record written before that point
// is complete.
func (e *Engine) Rescore(ctx context.Context, tenantID string, subjectIDs []string) (RescoreReport, error) {
	report := RescoreReport{TenantID: tenantID, Subjects: len(subjectIDs)}
	cfg, err := e.configs.Current(ctx, tenantID)
	if err != nil {
		return report, fmt.Errorf("load weight config: %w", err)
	}
	report.ConfigVersion = cfg.Version

	for _, id := range subjectIDs {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		res, err := e.matchWithConfig(ctx, MatchRequest{TenantID: tenantID, SubjectID: id, IncludeHidden: true, ForceRefresh: true}, cfg)
		if err != nil {
			if ctx.Err() != nil {
				report.Cancelled = true
				break
			}
			report.Failed++
			e.logger.Warn("rescore subject failed", map[string]interface{}{
				"tenantId":  tenantID,
				"subjectId": id,
				"error":     err.Error(),
			})
			continue
		}
		report.Completed++
		report.Scored += res.Scored
		report.Skipped += res.Skipped
	}

	e.logger.Info("rescore finished", map[string]interface{}{
		"tenantId":      tenantID,
		"subjects":      report.Subjects,
		"completed":     report.Completed,
		"failed":        report.Failed,
		"cancelled":     report.Cancelled,
		"configVersion": report.ConfigVersion,
	})
	return report, nil
}

// InvalidationResult reports what an entity change evicted.
type InvalidationResult struct {
	EntityID       string `json:"entityId"`
	RemovedEntries int    `json:"removedEntries"`
}

// OnEntityChanged evicts every cached match involving entityID and any
// derived attribute copies. Failing secondary invalidators are logged only;
// the match cache itself has already been marked stale.
func (e *Engine) OnEntityChanged(ctx context.Context, tenantID, entityID string) InvalidationResult {
	removed := e.cache.Invalidate(entityID)
	failures := 0
	for _, inv := range e.invalidators {
		if err := inv.InvalidateEntity(ctx, tenantID, entityID); err != nil {
			failures++
			e.logger.Warn("attribute invalidation failed", map[string]interface{}{
				"tenantId": tenantID,
				"entityId": entityID,
				"error":    err.Error(),
			})
		}
	}
	e.logger.Debug("entity invalidated", map[string]interface{}{
		"tenantId": tenantID,
		"entityId": entityID,
		"removed":  removed,
		"failures": failures,
	})
	return InvalidationResult{EntityID: entityID, RemovedEntries: removed}
}

// ClearTenant drops the tenant's cached matches.
func (e *Engine) ClearTenant(tenantID string) int {
	n := e.cache.Clear(tenantID)
	e.logger.Info("match cache cleared", map[string]interface{}{"tenantId": tenantID, "removed": n})
	return n
}

func (e *Engine) Cache() *Cache { return e.cache }

func snapshotDigest(s *models.Snapshot) uint64 {
	b, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}

// pairHash identifies the scoring inputs of one pair. Two records with the
// same hash under the same config version were built from identical
// attributes.
func pairHash(subjectDigest uint64, candidate *models.Snapshot, kind CandidateKind) string {
	return strconv.FormatUint(subjectDigest, 16) + "-" +
		strconv.FormatUint(snapshotDigest(candidate), 16) + "-" + string(kind)
}
