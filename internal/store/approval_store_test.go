package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matching-workers/internal/matching"
)

// ==========================
// Test Helper Functions
// ==========================

var computedAt = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func recordColumnNames() []string {
	return []string{
		"id", "tenant_id", "subject_id", "candidate_id", "candidate_kind", "score", "breakdown",
		"match_type", "distance_km", "config_version", "computed_at", "approval_state",
		"reviewer_id", "review_notes", "decided_at", "superseded_at", "input_hash",
	}
}

func recordRow(rows *sqlmock.Rows, id string, state matching.ApprovalState, decided interface{}) *sqlmock.Rows {
	return rows.AddRow(
		id, "tenant-1", "alice", "bob", "member", 91.5, []byte(`{"skills":20,"location":20}`),
		"mutual", 2.4, int64(3), computedAt, string(state),
		"", "", decided, nil, "a1-b1-member",
	)
}

func pendingRecord() *matching.MatchRecord {
	d := 2.4
	return &matching.MatchRecord{
		ID:            "rec-1",
		TenantID:      "tenant-1",
		SubjectID:     "alice",
		CandidateID:   "bob",
		CandidateKind: matching.KindMember,
		Score:         91.5,
		Breakdown:     map[string]float64{"skills": 20, "location": 20},
		MatchType:     matching.MatchMutual,
		DistanceKm:    &d,
		ConfigVersion: 3,
		ComputedAt:    computedAt,
		ApprovalState: matching.StatePending,
		InputHash:     "a1-b1-member",
	}
}

func expectKeyLock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(`).
		WithArgs("tenant-1", "alice", "bob", "member").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

// ==========================
// Create
// ==========================

func TestApprovalStore_Create_SupersedesAndAudits(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApprovalStore(db)
	rec := pendingRecord()

	mock.ExpectBegin()
	expectKeyLock(mock)
	mock.ExpectQuery(`SELECT computed_at FROM match_records WHERE tenant_id = \$1`).
		WithArgs("tenant-1", "alice", "bob", "member").
		WillReturnRows(sqlmock.NewRows([]string{"computed_at"}).AddRow(computedAt.Add(-time.Hour)))
	mock.ExpectExec(`UPDATE match_records SET superseded_at = \$5`).
		WithArgs("tenant-1", "alice", "bob", "member", computedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO match_records`).
		WithArgs("rec-1", "tenant-1", "alice", "bob", "member", 91.5, sqlmock.AnyArg(), "mutual",
			sqlmock.AnyArg(), int64(3), computedAt, "pending", "", "", sqlmock.AnyArg(), "a1-b1-member").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO match_approval_audit`).
		WithArgs("audit-1", "tenant-1", "rec-1", matching.ActionSubmitted, "system", "", "", "pending", computedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Create(context.Background(), rec, matching.AuditEntry{
		ID: "audit-1", TenantID: "tenant-1", RecordID: "rec-1",
		Action: matching.ActionSubmitted, Actor: "system", To: matching.StatePending, At: computedAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalStore_Create_RollsBackOnInsertFailure(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApprovalStore(db)

	mock.ExpectBegin()
	expectKeyLock(mock)
	mock.ExpectQuery(`SELECT computed_at FROM match_records`).WillReturnRows(sqlmock.NewRows([]string{"computed_at"}))
	mock.ExpectExec(`INSERT INTO match_records`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Create(context.Background(), pendingRecord(), matching.AuditEntry{ID: "audit-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert match record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalStore_Create_FirstRecordSkipsSupersede(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApprovalStore(db)

	mock.ExpectBegin()
	expectKeyLock(mock)
	mock.ExpectQuery(`SELECT computed_at FROM match_records`).WillReturnRows(sqlmock.NewRows([]string{"computed_at"}))
	mock.ExpectExec(`INSERT INTO match_records`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO match_approval_audit`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Create(context.Background(), pendingRecord(), matching.AuditEntry{ID: "audit-1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalStore_Create_NewerLiveRecordWins(t *testing.T) {
	tests := []struct {
		name   string
		liveAt time.Time
	}{
		{name: "live record is newer", liveAt: computedAt.Add(time.Second)},
		{name: "live record computed at the same time", liveAt: computedAt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			s := NewApprovalStore(db)

			mock.ExpectBegin()
			expectKeyLock(mock)
			mock.ExpectQuery(`SELECT computed_at FROM match_records`).
				WillReturnRows(sqlmock.NewRows([]string{"computed_at"}).AddRow(tt.liveAt))
			mock.ExpectRollback()

			err := s.Create(context.Background(), pendingRecord(), matching.AuditEntry{ID: "audit-1"})
			assert.ErrorIs(t, err, matching.ErrRecordSuperseded)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestApprovalStore_Create_LockFailure(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApprovalStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	err := s.Create(context.Background(), pendingRecord(), matching.AuditEntry{ID: "audit-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock match key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Get / Transition
// ==========================

func TestApprovalStore_Get(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApprovalStore(db)

	mock.ExpectQuery(`FROM match_records WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("tenant-1", "rec-1").
		WillReturnRows(recordRow(sqlmock.NewRows(recordColumnNames()), "rec-1", matching.StatePending, nil))

	rec, err := s.Get(context.Background(), "tenant-1", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, matching.KindMember, rec.CandidateKind)
	assert.Equal(t, matching.MatchMutual, rec.MatchType)
	assert.Equal(t, int64(3), rec.ConfigVersion)
	assert.InDelta(t, 20.0, rec.Breakdown["skills"], 1e-9)
	require.NotNil(t, rec.DistanceKm)
	assert.InDelta(t, 2.4, *rec.DistanceKm, 1e-9)
	assert.Nil(t, rec.DecidedAt)
	assert.Nil(t, rec.SupersededAt)
}

func TestApprovalStore_Latest(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApprovalStore(db)
	key := matching.Key{TenantID: "tenant-1", SubjectID: "alice", CandidateID: "bob", Kind: matching.KindMember}

	mock.ExpectQuery(`FROM match_records WHERE tenant_id = \$1 AND subject_id = \$2 AND candidate_id = \$3 AND candidate_kind = \$4\s+AND superseded_at IS NULL`).
		WithArgs("tenant-1", "alice", "bob", "member").
		WillReturnRows(recordRow(sqlmock.NewRows(recordColumnNames()), "rec-1", matching.StateApproved, computedAt))

	rec, err := s.Latest(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, "a1-b1-member", rec.InputHash)

	mock.ExpectQuery(`FROM match_records`).WillReturnRows(sqlmock.NewRows(recordColumnNames()))
	_, err = s.Latest(context.Background(), key)
	assert.ErrorIs(t, err, matching.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalStore_Get_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApprovalStore(db)

	mock.ExpectQuery(`FROM match_records`).WillReturnRows(sqlmock.NewRows(recordColumnNames()))

	_, err := s.Get(context.Background(), "tenant-1", "missing")
	assert.ErrorIs(t, err, matching.ErrRecordNotFound)
}

func approveTransition() matching.Transition {
	at := computedAt.Add(time.Hour)
	return matching.Transition{
		TenantID: "tenant-1", RecordID: "rec-1",
		From: matching.StatePending, To: matching.StateApproved,
		ReviewerID: "broker-7", Notes: "looks good", At: at,
		Audit: matching.AuditEntry{
			ID: "audit-2", TenantID: "tenant-1", RecordID: "rec-1", Action: matching.ActionApproved,
			Actor: "broker-7", Notes: "looks good", From: matching.StatePending, To: matching.StateApproved, At: at,
		},
	}
}

func TestApprovalStore_Transition_Applies(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApprovalStore(db)
	tr := approveTransition()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE match_records\s+SET approval_state = \$3.*WHERE tenant_id = \$1 AND id = \$2 AND approval_state = \$7`).
		WithArgs("tenant-1", "rec-1", "approved", "broker-7", "looks good", tr.At, "pending").
		WillReturnRows(recordRow(sqlmock.NewRows(recordColumnNames()), "rec-1", matching.StateApproved, tr.At))
	mock.ExpectExec(`INSERT INTO match_approval_audit`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := s.Transition(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, matching.StateApproved, rec.ApprovalState)
	require.NotNil(t, rec.DecidedAt)
	assert.True(t, rec.DecidedAt.Equal(tr.At))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalStore_Transition_Conflict(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
		want   error
	}{
		{name: "another decision won", exists: true, want: matching.ErrApprovalConflict},
		{name: "record missing", exists: false, want: matching.ErrRecordNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			s := NewApprovalStore(db)

			mock.ExpectBegin()
			mock.ExpectQuery(`UPDATE match_records`).WillReturnRows(sqlmock.NewRows(recordColumnNames()))
			mock.ExpectQuery(`SELECT EXISTS`).
				WithArgs("tenant-1", "rec-1").
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			mock.ExpectRollback()

			_, err := s.Transition(context.Background(), approveTransition())
			assert.ErrorIs(t, err, tt.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// ==========================
// List / Audit / History
// ==========================

func TestApprovalStore_List_FiltersAndPages(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApprovalStore(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM match_records WHERE tenant_id = \$1 AND superseded_at IS NULL AND approval_state = \$2`).
		WithArgs("tenant-1", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	rows := sqlmock.NewRows(recordColumnNames())
	recordRow(rows, "rec-3", matching.StatePending, nil)
	mock.ExpectQuery(`ORDER BY computed_at DESC, id LIMIT \$3 OFFSET \$4`).
		WithArgs("tenant-1", "pending", 2, 2).
		WillReturnRows(rows)

	page, err := s.List(context.Background(), matching.ListQuery{
		TenantID: "tenant-1", State: matching.StatePending, Page: 2, PageSize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "rec-3", page.Items[0].ID)
}

func TestApprovalStore_List_Empty(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApprovalStore(db)

	mock.ExpectQuery(`SELECT COUNT`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`LIMIT \$2 OFFSET \$3`).
		WithArgs("tenant-1", 20, 0).
		WillReturnRows(sqlmock.NewRows(recordColumnNames()))

	page, err := s.List(context.Background(), matching.ListQuery{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.Equal(t, 0, page.TotalPages)
}

func TestApprovalStore_Audit(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApprovalStore(db)

	mock.ExpectQuery(`FROM match_records WHERE tenant_id = \$1 AND id = \$2`).
		WillReturnRows(recordRow(sqlmock.NewRows(recordColumnNames()), "rec-1", matching.StateApproved, computedAt))
	mock.ExpectQuery(`FROM match_approval_audit`).
		WithArgs("tenant-1", "rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "record_id", "action", "actor", "notes", "from_state", "to_state", "at"}).
			AddRow("a-1", "tenant-1", "rec-1", "submitted", "system", "", "", "pending", computedAt).
			AddRow("a-2", "tenant-1", "rec-1", "approved", "broker-7", "ok", "pending", "approved", computedAt.Add(time.Hour)))

	entries, err := s.Audit(context.Background(), "tenant-1", "rec-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, matching.StatePending, entries[1].From)
	assert.Equal(t, matching.StateApproved, entries[1].To)
	assert.Equal(t, "broker-7", entries[1].Actor)
}

func TestApprovalStore_History(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApprovalStore(db)
	since := computedAt.Add(-24 * time.Hour)

	rows := sqlmock.NewRows(recordColumnNames())
	recordRow(rows, "rec-1", matching.StateAutoApproved, computedAt)
	mock.ExpectQuery(`WHERE tenant_id = \$1 AND computed_at >= \$2`).
		WithArgs("tenant-1", since).
		WillReturnRows(rows)

	recs, err := s.History(context.Background(), "tenant-1", since)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, matching.StateAutoApproved, recs[0].ApprovalState)
}

func TestApprovalStore_BadBreakdown(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewApprovalStore(db)

	mock.ExpectQuery(`FROM match_records`).
		WillReturnRows(sqlmock.NewRows(recordColumnNames()).AddRow(
			"rec-1", "tenant-1", "alice", "bob", "member", 50.0, []byte(`not-json`),
			"", nil, int64(1), computedAt, "pending", "", "", nil, nil, ""))

	_, err := s.Get(context.Background(), "tenant-1", "rec-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode breakdown")
}
