package matching

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"matching-workers/internal/common/metrics"
)

const (
	defaultCacheShards = 32
	defaultCacheTTL    = 24 * time.Hour
	defaultHitWindow   = time.Hour
	hitBucketWidth     = time.Minute
)

type CacheOptions struct {
	Shards    int
	TTL       time.Duration
	HitWindow time.Duration
	Now       Clock
}

// Cache memoizes the latest MatchRecord per pair. Entries are stale when
// their config version is behind the active one, when either entity was
// invalidated at or after the record's inputs were read, or when the TTL has
// passed.
type Cache struct {
	shards []*cacheShard
	ttl    time.Duration
	now    Clock
	hits   *hitWindow

	invMu       sync.RWMutex
	invalidated map[string]time.Time
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[Key]*MatchRecord
}

type CacheStats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

func NewCache(opts CacheOptions) *Cache {
	if opts.Shards <= 0 {
		opts.Shards = defaultCacheShards
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultCacheTTL
	}
	if opts.HitWindow <= 0 {
		opts.HitWindow = defaultHitWindow
	}
	if opts.Now == nil {
		opts.Now = systemClock
	}
	c := &Cache{
		shards:      make([]*cacheShard, opts.Shards),
		ttl:         opts.TTL,
		now:         opts.Now,
		hits:        newHitWindow(opts.HitWindow),
		invalidated: make(map[string]time.Time),
	}
	for i := range c.shards {
		c.shards[i] = &cacheShard{entries: make(map[Key]*MatchRecord)}
	}
	return c
}

func (c *Cache) shard(k Key) *cacheShard {
	h := xxhash.Sum64String(k.TenantID + "\x00" + k.SubjectID + "\x00" + k.CandidateID + "\x00" + string(k.Kind))
	return c.shards[h%uint64(len(c.shards))]
}

// Get returns a copy of the cached record when it is still fresh for
// activeVersion.
func (c *Cache) Get(k Key, activeVersion int64) (*MatchRecord, bool) {
	s := c.shard(k)
	s.mu.RLock()
	rec, ok := s.entries[k]
	if ok {
		rec = rec.Clone()
	}
	s.mu.RUnlock()

	now := c.now()
	result := "hit"
	switch {
	case !ok:
		result = "miss"
	case rec.ConfigVersion < activeVersion:
		result = "stale_version"
	case !rec.freshAt().After(c.lastInvalidation(k)):
		result = "invalidated"
	case now.Sub(rec.freshAt()) > c.ttl:
		result = "expired"
	}
	metrics.MatchCacheLookups.WithLabelValues(result).Inc()
	c.hits.record(now, result == "hit")
	if result != "hit" {
		return nil, false
	}
	return rec, true
}

// Put stores rec unless a record read later is already held.
func (c *Cache) Put(rec *MatchRecord) bool {
	if rec == nil {
		return false
	}
	k := rec.Key()
	s := c.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[k]; ok && cur.freshAt().After(rec.freshAt()) {
		return false
	}
	if _, ok := s.entries[k]; !ok {
		metrics.MatchCacheEntries.Inc()
	}
	s.entries[k] = rec.Clone()
	return true
}

// Invalidate marks every record keyed on entityID, as subject or candidate,
// as stale and drops the ones currently held. The timestamp is recorded
// first so a Put racing with this call is still rejected on the next Get.
func (c *Cache) Invalidate(entityID string) int {
	now := c.now()
	c.invMu.Lock()
	c.invalidated[entityID] = now
	for id, at := range c.invalidated {
		if now.Sub(at) > c.ttl {
			delete(c.invalidated, id)
		}
	}
	c.invMu.Unlock()
	metrics.MatchCacheInvalidations.Inc()

	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, rec := range s.entries {
			if (k.SubjectID == entityID || k.CandidateID == entityID) && !rec.freshAt().After(now) {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	metrics.MatchCacheEntries.Sub(float64(removed))
	return removed
}

// Clear drops every record of a tenant and returns how many were held.
func (c *Cache) Clear(tenantID string) int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k := range s.entries {
			if k.TenantID == tenantID {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	metrics.MatchCacheEntries.Sub(float64(removed))
	return removed
}

// OnApprovalChanged mirrors a gate transition into the held record.
func (c *Cache) OnApprovalChanged(rec *MatchRecord) {
	k := rec.Key()
	s := c.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[k]; ok && cur.ID == rec.ID {
		next := rec.Clone()
		next.verifiedAt = cur.freshAt()
		s.entries[k] = next
	}
}

func (c *Cache) lastInvalidation(k Key) time.Time {
	c.invMu.RLock()
	defer c.invMu.RUnlock()
	a := c.invalidated[k.SubjectID]
	if b := c.invalidated[k.CandidateID]; b.After(a) {
		return b
	}
	return a
}

func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Stats reports size and the sliding-window hit rate.
func (c *Cache) Stats() CacheStats {
	hits, misses := c.hits.totals(c.now())
	st := CacheStats{Entries: c.Len(), Hits: hits, Misses: misses}
	if hits+misses > 0 {
		st.HitRate = float64(hits) / float64(hits+misses)
	}
	return st
}

// hitWindow counts hits and misses in fixed-width buckets over a ring.
type hitWindow struct {
	mu      sync.Mutex
	buckets []hitBucket
}

type hitBucket struct {
	start  int64
	hits   int64
	misses int64
}

func newHitWindow(window time.Duration) *hitWindow {
	n := int(window / hitBucketWidth)
	if n < 1 {
		n = 1
	}
	return &hitWindow{buckets: make([]hitBucket, n)}
}

func (w *hitWindow) record(now time.Time, hit bool) {
	slot := now.UnixNano() / int64(hitBucketWidth)
	w.mu.Lock()
	defer w.mu.Unlock()
	b := &w.buckets[slot%int64(len(w.buckets))]
	if b.start != slot {
		*b = hitBucket{start: slot}
	}
	if hit {
		b.hits++
	} else {
		b.misses++
	}
}

func (w *hitWindow) totals(now time.Time) (hits, misses int64) {
	slot := now.UnixNano() / int64(hitBucketWidth)
	oldest := slot - int64(len(w.buckets)) + 1
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range w.buckets {
		if b.start >= oldest && b.start <= slot {
			hits += b.hits
			misses += b.misses
		}
	}
	return hits, misses
}
