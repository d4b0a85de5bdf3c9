package getmatchapproval

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matching-workers/internal/common/errors"
	"matching-workers/internal/common/logger"
	"matching-workers/internal/matching"
)

var base = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func reviewedGate(t *testing.T) (*matching.Gate, string, string) {
	t.Helper()
	ctx := context.Background()
	gate := matching.NewGate(matching.NewMemoryApprovalStore(), nil, logger.NewNoOpLogger())
	cfg := matching.DefaultWeightConfig()
	cfg.BrokerApproval = true

	admit := func(score float64, at time.Time) string {
		rec, err := gate.Admit(ctx, &matching.MatchRecord{
			TenantID: "tenant-1", SubjectID: "alice", CandidateID: "bob",
			CandidateKind: matching.KindMember, Score: score, ConfigVersion: 1, ComputedAt: at,
		}, cfg)
		require.NoError(t, err)
		return rec.ID
	}
	old := admit(64, base)
	live := admit(72, base.Add(time.Hour))
	_, _, err := gate.Decide(ctx, matching.Decision{TenantID: "tenant-1", RecordID: live, Approve: false, ReviewerID: "broker-7", Notes: "not local"})
	require.NoError(t, err)
	return gate, old, live
}

func TestHandler_Execute_ReturnsRecordAndTrail(t *testing.T) {
	gate, _, live := reviewedGate(t)
	h := NewHandler(DefaultConfig(), gate, nil, logger.NewTestLogger(t))

	out, err := h.Execute(context.Background(), &Input{TenantID: "tenant-1", RecordID: live})
	require.NoError(t, err)
	assert.Equal(t, live, out.Record.ID)
	assert.Equal(t, matching.StateRejected, out.Record.ApprovalState)
	assert.False(t, out.Superseded)
	require.Len(t, out.AuditTrail, 2)
	assert.Equal(t, matching.ActionSubmitted, out.AuditTrail[0].Action)
	assert.Equal(t, matching.ActionRejected, out.AuditTrail[1].Action)
	assert.Equal(t, "not local", out.AuditTrail[1].Notes)
}

func TestHandler_Execute_SupersededRecord(t *testing.T) {
	gate, old, _ := reviewedGate(t)
	h := NewHandler(DefaultConfig(), gate, nil, logger.NewNoOpLogger())

	out, err := h.Execute(context.Background(), &Input{TenantID: "tenant-1", RecordID: old})
	require.NoError(t, err)
	assert.True(t, out.Superseded)
	assert.Equal(t, matching.StatePending, out.Record.ApprovalState)
	assert.Len(t, out.AuditTrail, 1)
}

func TestHandler_Execute_Errors(t *testing.T) {
	gate, _, live := reviewedGate(t)
	h := NewHandler(DefaultConfig(), gate, nil, logger.NewNoOpLogger())

	_, err := h.Execute(context.Background(), &Input{TenantID: "tenant-1"})
	var stdErr *errors.StandardError
	require.True(t, stderrors.As(err, &stdErr))
	assert.Equal(t, errors.ErrCodeInvalidInput, stdErr.Code)

	_, err = h.Execute(context.Background(), &Input{TenantID: "tenant-1", RecordID: "missing"})
	assert.ErrorIs(t, err, matching.ErrRecordNotFound)

	_, err = h.Execute(context.Background(), &Input{TenantID: "tenant-2", RecordID: live})
	assert.ErrorIs(t, err, matching.ErrRecordNotFound)
}
