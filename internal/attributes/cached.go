package attributes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"matching-workers/internal/common/logger"
	"matching-workers/internal/common/metrics"
	"matching-workers/internal/matching"
	"matching-workers/internal/models"
)

const snapshotKeyPrefix = "matching:snapshot"

// CachedStore is a read-through Redis cache in front of an AttributeStore.
// Redis failures degrade to the underlying store.
type CachedStore struct {
	inner  matching.AttributeStore
	rdb    *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedStore(inner matching.AttributeStore, rdb *redis.Client, ttl time.Duration, log logger.Logger) *CachedStore {
	return &CachedStore{
		inner:  inner,
		rdb:    rdb,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "snapshot-cache"}),
	}
}

var (
	_ matching.AttributeStore    = (*CachedStore)(nil)
	_ matching.EntityInvalidator = (*CachedStore)(nil)
)

func snapshotKey(tenantID, entityID string) string {
	return fmt.Sprintf("%s:%s:%s", snapshotKeyPrefix, tenantID, entityID)
}

func (c *CachedStore) Get(ctx context.Context, tenantID, entityID string) (*models.Snapshot, error) {
	key := snapshotKey(tenantID, entityID)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var snap models.Snapshot
		if jsonErr := json.Unmarshal(raw, &snap); jsonErr == nil {
			metrics.SnapshotCacheLookups.WithLabelValues("hit").Inc()
			return &snap, nil
		}
		c.logger.Warn("discarding undecodable snapshot", map[string]interface{}{"key": key})
	case errors.Is(err, redis.Nil):
	default:
		metrics.SnapshotCacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("snapshot cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
		return c.inner.Get(ctx, tenantID, entityID)
	}

	metrics.SnapshotCacheLookups.WithLabelValues("miss").Inc()
	snap, err := c.inner.Get(ctx, tenantID, entityID)
	if err != nil {
		return nil, err
	}
	if body, err := json.Marshal(snap); err == nil {
		if err := c.rdb.Set(ctx, key, body, c.ttl).Err(); err != nil {
			c.logger.Warn("snapshot cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}
	return snap, nil
}

// InvalidateEntity drops the cached snapshot so the next read sees the
// profile store's current attributes.
func (c *CachedStore) InvalidateEntity(ctx context.Context, tenantID, entityID string) error {
	if err := c.rdb.Del(ctx, snapshotKey(tenantID, entityID)).Err(); err != nil {
		return fmt.Errorf("invalidate snapshot %s: %w", entityID, err)
	}
	return nil
}
