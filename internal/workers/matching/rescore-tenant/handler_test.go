package rescoretenant

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matching-workers/internal/attributes"
	"matching-workers/internal/common/logger"
	"matching-workers/internal/matching"
	"matching-workers/internal/models"
)

func member(id string, offers, requests []string) *models.Snapshot {
	now := time.Now().UTC()
	return &models.Snapshot{
		ID: id, TenantID: "tenant-1", Kind: models.KindMember,
		Categories: []string{"music"}, Offers: offers, Requests: requests,
		Location: &models.GeoPoint{Lat: 51.05, Lon: 13.74}, LastActiveAt: &now, Active: true,
	}
}

func newFixture(t *testing.T) (*matching.Engine, *attributes.MemoryStore) {
	t.Helper()
	log := logger.NewTestLogger(t)
	store := attributes.NewMemoryStore(
		member("alice", []string{"guitar"}, []string{"piano"}),
		member("bob", []string{"piano"}, []string{"guitar"}),
		member("carol", []string{"drums"}, nil),
	)
	engine := matching.NewEngine(
		store,
		matching.NewGenerator(store, matching.GeneratorOptions{}),
		matching.NewCache(matching.CacheOptions{}),
		matching.NewGate(matching.NewMemoryApprovalStore(), nil, log),
		matching.NewMemoryConfigStore(matching.DefaultWeightConfig()),
		log,
		matching.EngineOptions{Concurrency: 2},
	)
	return engine, store
}

func TestHandler_Execute_RescoresActiveMembers(t *testing.T) {
	engine, store := newFixture(t)
	h := NewHandler(DefaultConfig(), engine, store, nil, logger.NewTestLogger(t))

	out, err := h.Execute(context.Background(), &Input{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Report.Subjects)
	assert.Equal(t, 3, out.Report.Completed)
	assert.Zero(t, out.Report.Failed)
	assert.False(t, out.Report.Cancelled)
	assert.Zero(t, out.Remaining)
	assert.Equal(t, int64(1), out.Report.ConfigVersion)
	assert.Positive(t, engine.Cache().Len())
}

func TestHandler_Execute_ExplicitSubjectsAndFailures(t *testing.T) {
	engine, store := newFixture(t)
	h := NewHandler(&Config{Timeout: time.Minute, MaxSubjects: 2}, engine, store, nil, logger.NewNoOpLogger())

	out, err := h.Execute(context.Background(), &Input{TenantID: "tenant-1", SubjectIDs: []string{"ghost", "alice", "bob"}})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Report.Subjects)
	assert.Equal(t, 1, out.Report.Failed)
	assert.Equal(t, 1, out.Report.Completed)
}

func TestHandler_Execute_CancelledBatchReportsRemaining(t *testing.T) {
	engine, store := newFixture(t)
	h := NewHandler(DefaultConfig(), engine, store, nil, logger.NewNoOpLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := h.Execute(ctx, &Input{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.True(t, out.Report.Cancelled)
	assert.Equal(t, 3, out.Remaining)
}

type failingLister struct{}

func (failingLister) ActiveMembers(context.Context, string) ([]string, error) {
	return nil, stderrors.New("connection reset")
}

func TestHandler_Execute_MemberListingFails(t *testing.T) {
	engine, _ := newFixture(t)
	h := NewHandler(DefaultConfig(), engine, failingLister{}, nil, logger.NewNoOpLogger())

	_, err := h.Execute(context.Background(), &Input{TenantID: "tenant-1"})
	assert.EqualError(t, err, "connection reset")

	h = NewHandler(DefaultConfig(), engine, nil, nil, logger.NewNoOpLogger())
	_, err = h.Execute(context.Background(), &Input{TenantID: "tenant-1"})
	assert.Error(t, err)
}
