package computematches

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matching-workers/internal/attributes"
	"matching-workers/internal/common/errors"
	"matching-workers/internal/common/logger"
	"matching-workers/internal/matching"
	"matching-workers/internal/models"
)

func ptr[T any](v T) *T { return &v }

func member(id string, offers, requests []string) *models.Snapshot {
	return &models.Snapshot{
		ID:           id,
		TenantID:     "tenant-1",
		Kind:         models.KindMember,
		Skills:       []string{"go", "sql"},
		Categories:   []string{"tutoring"},
		Offers:       offers,
		Requests:     requests,
		Location:     &models.GeoPoint{Lat: 52.52, Lon: 13.40},
		LastActiveAt: ptr(time.Now().UTC()),
		ReviewScore:  ptr(4.5),
		NexusScore:   ptr(800.0),
		Active:       true,
	}
}

func newEngineHandler(t *testing.T) *Handler {
	t.Helper()
	log := logger.NewTestLogger(t)
	store := attributes.NewMemoryStore(
		member("alice", []string{"tutoring"}, []string{"cooking"}),
		member("bob", []string{"cooking"}, []string{"tutoring"}),
	)
	configs := matching.NewMemoryConfigStore(matching.DefaultWeightConfig())
	engine := matching.NewEngine(
		store,
		matching.NewGenerator(store, matching.GeneratorOptions{}),
		matching.NewCache(matching.CacheOptions{}),
		matching.NewGate(matching.NewMemoryApprovalStore(), nil, log),
		configs,
		log,
		matching.EngineOptions{Concurrency: 2},
	)
	return NewHandler(DefaultConfig(), engine, nil, log)
}

func TestHandler_Execute_ScoresAndCaches(t *testing.T) {
	h := newEngineHandler(t)
	ctx := context.Background()

	out, err := h.Execute(ctx, &Input{TenantID: "tenant-1", SubjectID: "alice", Kinds: []string{"member"}})
	require.NoError(t, err)
	require.Equal(t, 1, out.MatchCount)
	rec := out.Matches[0]
	assert.Equal(t, "bob", rec.CandidateID)
	assert.Equal(t, matching.StateAutoApproved, rec.ApprovalState)
	assert.Equal(t, int64(1), out.ConfigVersion)
	assert.Greater(t, rec.Score, 40.0)
	assert.Equal(t, 0, out.CacheHits)

	again, err := h.Execute(ctx, &Input{TenantID: "tenant-1", SubjectID: "alice", Kinds: []string{"member"}})
	require.NoError(t, err)
	assert.Equal(t, 1, again.CacheHits)
	assert.Equal(t, rec.ID, again.Matches[0].ID)

	fresh, err := h.Execute(ctx, &Input{TenantID: "tenant-1", SubjectID: "alice", Kinds: []string{"member"}, ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.CacheHits)
	assert.Equal(t, rec.ID, fresh.Matches[0].ID, "unchanged inputs keep the stored record")
}

func TestHandler_Execute_InvalidInput(t *testing.T) {
	h := newEngineHandler(t)

	tests := []struct {
		name  string
		input *Input
	}{
		{"missing subject", &Input{TenantID: "tenant-1"}},
		{"unknown kind", &Input{TenantID: "tenant-1", SubjectID: "alice", Kinds: []string{"robot"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Execute(context.Background(), tt.input)
			var stdErr *errors.StandardError
			require.True(t, stderrors.As(err, &stdErr))
			assert.Equal(t, errors.ErrCodeInvalidInput, stdErr.Code)
		})
	}
}

type fakeMatcher struct {
	req matching.MatchRequest
	err error
}

func (f *fakeMatcher) MatchSubject(_ context.Context, req matching.MatchRequest) (matching.MatchResult, error) {
	f.req = req
	if f.err != nil {
		return matching.MatchResult{}, f.err
	}
	return matching.MatchResult{Matches: []*matching.MatchRecord{}}, nil
}

func TestHandler_Execute_ClampsLimit(t *testing.T) {
	fake := &fakeMatcher{}
	h := NewHandler(&Config{Timeout: time.Second, MaxLimit: 25}, fake, nil, logger.NewNoOpLogger())

	_, err := h.Execute(context.Background(), &Input{TenantID: "t", SubjectID: "s", Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 25, fake.req.Limit)

	_, err = h.Execute(context.Background(), &Input{TenantID: "t", SubjectID: "s", Limit: 5, Kinds: []string{"listing"}})
	require.NoError(t, err)
	assert.Equal(t, 5, fake.req.Limit)
	assert.Equal(t, []matching.CandidateKind{models.KindListing}, fake.req.Kinds)
}

func TestHandler_Execute_UnknownSubject(t *testing.T) {
	h := newEngineHandler(t)
	_, err := h.Execute(context.Background(), &Input{TenantID: "tenant-1", SubjectID: "nobody"})
	assert.ErrorIs(t, err, matching.ErrEntityNotFound)
}
