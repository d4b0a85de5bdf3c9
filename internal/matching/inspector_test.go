package matching

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matching-workers/internal/models"
)

func newTestInspector(dir *directory) *Inspector {
	return NewInspector(dir, NewGenerator(dir, GeneratorOptions{}), NewMemoryConfigStore(DefaultWeightConfig()), newTestClock().Now)
}

func TestInspector_ExplainForSubject(t *testing.T) {
	in := newTestInspector(fixtureDirectory())
	d, err := in.ExplainForSubject(context.Background(), tenant, "alice")
	require.NoError(t, err)

	assert.Equal(t, DiagnosticOK, d.Status)
	assert.Equal(t, "subject", d.View)
	assert.Equal(t, int64(1), d.ConfigVersion)
	require.Len(t, d.Entries, 3)

	assert.Equal(t, "bob", d.Entries[0].CandidateID)
	assert.InDelta(t, 91.5, d.Entries[0].Score, 1e-9)
	assert.True(t, d.Entries[0].Hot)
	assert.Equal(t, "listing-1", d.Entries[1].CandidateID)
	assert.Equal(t, "carol", d.Entries[2].CandidateID)
	assert.False(t, d.Entries[2].AboveMinScore)
	assert.Equal(t, len(KnownFactors), d.Entries[2].Factors.Len())
}

func TestInspector_ExplainForCandidate(t *testing.T) {
	in := newTestInspector(fixtureDirectory())
	d, err := in.ExplainForCandidate(context.Background(), tenant, "listing-1")
	require.NoError(t, err)

	assert.Equal(t, DiagnosticOK, d.Status)
	require.Len(t, d.Entries, 2)
	assert.Equal(t, "alice", d.Entries[0].SubjectID)
	assert.Equal(t, KindListing, d.Entries[0].CandidateKind)
	assert.InDelta(t, 75.5, d.Entries[0].Score, 1e-9)
	assert.Equal(t, "carol", d.Entries[1].SubjectID)
	for _, e := range d.Entries {
		assert.NotEqual(t, "bob", e.SubjectID)
	}
}

func TestInspector_SymmetricMemberView(t *testing.T) {
	in := newTestInspector(fixtureDirectory())
	d, err := in.ExplainForCandidate(context.Background(), tenant, "bob")
	require.NoError(t, err)

	var fromAlice *DiagnosticEntry
	for i := range d.Entries {
		if d.Entries[i].SubjectID == "alice" {
			fromAlice = &d.Entries[i]
		}
	}
	require.NotNil(t, fromAlice)
	assert.InDelta(t, 91.5, fromAlice.Score, 1e-9)
}

func TestInspector_ReverseViewUsesEachMembersHistory(t *testing.T) {
	connectedAlice := alice()
	connectedAlice.ConnectionHistory = []models.Connection{{PartnerID: "bob", Connected: true}}
	connectedBob := bob()
	connectedBob.ConnectionHistory = []models.Connection{{PartnerID: "carol", Exchanges: 3}}
	dir := newDirectory(connectedAlice, connectedBob, carol(), dave(), bobsListing(), alicesListing())
	in := NewInspector(dir, NewGenerator(dir, GeneratorOptions{ExcludeConnected: true}),
		NewMemoryConfigStore(DefaultWeightConfig()), newTestClock().Now)
	ctx := context.Background()

	d, err := in.ExplainForCandidate(ctx, tenant, "bob")
	require.NoError(t, err)
	var subjects []string
	for _, e := range d.Entries {
		subjects = append(subjects, e.SubjectID)
	}
	assert.NotContains(t, subjects, "alice", "alice never sees bob in her own matches")
	assert.Contains(t, subjects, "carol", "bob's history does not hide him from carol")

	listing, err := in.ExplainForCandidate(ctx, tenant, "listing-1")
	require.NoError(t, err)
	for _, e := range listing.Entries {
		assert.NotEqual(t, "alice", e.SubjectID)
		assert.NotEqual(t, "bob", e.SubjectID)
	}

	forward, err := in.ExplainForSubject(ctx, tenant, "alice")
	require.NoError(t, err)
	for _, e := range forward.Entries {
		assert.NotEqual(t, "bob", e.CandidateID)
		assert.NotEqual(t, "listing-1", e.CandidateID)
	}
}

func TestInspector_UnknownEntity(t *testing.T) {
	in := newTestInspector(fixtureDirectory())
	d, err := in.ExplainForSubject(context.Background(), tenant, "nobody")
	require.NoError(t, err)
	assert.Equal(t, DiagnosticNoData, d.Status)
	assert.NotNil(t, d.Entries)
	assert.Empty(t, d.Entries)
}

func TestInspector_NoCandidates(t *testing.T) {
	in := newTestInspector(newDirectory(alice()))
	d, err := in.ExplainForSubject(context.Background(), tenant, "alice")
	require.NoError(t, err)
	assert.Equal(t, DiagnosticNoData, d.Status)
	assert.Equal(t, "no scorable candidates", d.Reason)
}

func TestInspector_DoesNotTouchApprovalsOrCache(t *testing.T) {
	f := newEngineFixture(t, false)
	in := NewInspector(f.dir, NewGenerator(f.dir, GeneratorOptions{}), f.configs, f.clock.Now)

	_, err := in.ExplainForSubject(context.Background(), tenant, "alice")
	require.NoError(t, err)
	assert.Zero(t, f.cache.Len())
	page, err := f.store.List(context.Background(), ListQuery{TenantID: tenant})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}
