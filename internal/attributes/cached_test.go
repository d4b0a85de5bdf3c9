package attributes

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matching-workers/internal/common/logger"
	"matching-workers/internal/matching"
	"matching-workers/internal/models"
)

type countingStore struct {
	*MemoryStore
	gets int
}

func (c *countingStore) Get(ctx context.Context, tenantID, entityID string) (*models.Snapshot, error) {
	c.gets++
	return c.MemoryStore.Get(ctx, tenantID, entityID)
}

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func bobSnapshot() *models.Snapshot {
	review := 4.0
	return &models.Snapshot{
		ID: "bob", TenantID: "tenant-1", Kind: models.KindMember, Active: true,
		Skills: []string{"go"}, ReviewScore: &review,
	}
}

func TestCachedStore_ReadThrough(t *testing.T) {
	mr, client := setupMiniredis(t)
	inner := &countingStore{MemoryStore: NewMemoryStore(bobSnapshot())}
	s := NewCachedStore(inner, client, time.Minute, logger.NewTestLogger(t))
	ctx := context.Background()

	first, err := s.Get(ctx, "tenant-1", "bob")
	require.NoError(t, err)
	second, err := s.Get(ctx, "tenant-1", "bob")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.gets)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists("matching:snapshot:tenant-1:bob"))
	assert.Equal(t, time.Minute, mr.TTL("matching:snapshot:tenant-1:bob"))

	mr.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, "tenant-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.gets)
}

func TestCachedStore_InvalidateEntity(t *testing.T) {
	mr, client := setupMiniredis(t)
	inner := &countingStore{MemoryStore: NewMemoryStore(bobSnapshot())}
	s := NewCachedStore(inner, client, time.Hour, logger.NewTestLogger(t))
	ctx := context.Background()

	_, err := s.Get(ctx, "tenant-1", "bob")
	require.NoError(t, err)

	updated := bobSnapshot()
	updated.Skills = []string{"rust"}
	inner.Put(updated)

	require.NoError(t, s.InvalidateEntity(ctx, "tenant-1", "bob"))
	assert.False(t, mr.Exists("matching:snapshot:tenant-1:bob"))

	got, err := s.Get(ctx, "tenant-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"rust"}, got.Skills)
}

func TestCachedStore_NotFoundIsNotCached(t *testing.T) {
	mr, client := setupMiniredis(t)
	s := NewCachedStore(NewMemoryStore(), client, time.Hour, logger.NewTestLogger(t))

	_, err := s.Get(context.Background(), "tenant-1", "ghost")
	assert.ErrorIs(t, err, matching.ErrEntityNotFound)
	assert.Empty(t, mr.Keys())
}

func TestCachedStore_CorruptEntryIsReplaced(t *testing.T) {
	mr, client := setupMiniredis(t)
	require.NoError(t, mr.Set("matching:snapshot:tenant-1:bob", "{not json"))
	s := NewCachedStore(NewMemoryStore(bobSnapshot()), client, time.Hour, logger.NewTestLogger(t))

	got, err := s.Get(context.Background(), "tenant-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.ID)

	raw, err := mr.Get("matching:snapshot:tenant-1:bob")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(raw)))
}

func TestCachedStore_RedisDownFallsBack(t *testing.T) {
	client, mock := redismock.NewClientMock()
	inner := &countingStore{MemoryStore: NewMemoryStore(bobSnapshot())}
	s := NewCachedStore(inner, client, time.Hour, logger.NewTestLogger(t))

	mock.ExpectGet("matching:snapshot:tenant-1:bob").SetErr(errors.New("connection refused"))

	got, err := s.Get(context.Background(), "tenant-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.ID)
	assert.Equal(t, 1, inner.gets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedStore_InvalidateError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewCachedStore(NewMemoryStore(), client, time.Hour, logger.NewTestLogger(t))

	mock.ExpectDel("matching:snapshot:tenant-1:bob").SetErr(errors.New("READONLY"))

	err := s.InvalidateEntity(context.Background(), "tenant-1", "bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bob")
}
