// Package store persists match records, their approval audit trail and
// per-tenant weight configurations in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"matching-workers/internal/common/database"
	"matching-workers/internal/matching"
)

const recordColumns = `id, tenant_id, subject_id, candidate_id, candidate_kind, score, breakdown,
	match_type, distance_km, config_version, computed_at, approval_state,
	reviewer_id, review_notes, decided_at, superseded_at, input_hash`

const liveKey = `tenant_id = $1 AND subject_id = $2 AND candidate_id = $3 AND candidate_kind = $4
	AND superseded_at IS NULL`

// ApprovalStore is the PostgreSQL matching.ApprovalStore.
type ApprovalStore struct {
	db *sql.DB
}

func NewApprovalStore(db *sql.DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

var _ matching.ApprovalStore = (*ApprovalStore)(nil)

func (s *ApprovalStore) Create(ctx context.Context, rec *matching.MatchRecord, audit matching.AuditEntry) error {
	breakdown, err := json.Marshal(rec.Breakdown)
	if err != nil {
		return fmt.Errorf("encode breakdown: %w", err)
	}
	key := []interface{}{rec.TenantID, rec.SubjectID, rec.CandidateID, string(rec.CandidateKind)}
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// Writers of the same pair queue here until the holder commits, so the
		// live row read below cannot change before the insert.
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1 || '/' || $2 || '/' || $3 || '/' || $4))`, key...,
		); err != nil {
			return fmt.Errorf("lock match key: %w", err)
		}

		var liveAt time.Time
		err := tx.QueryRowContext(ctx, `SELECT computed_at FROM match_records WHERE `+liveKey, key...).Scan(&liveAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("load live record: %w", err)
		case !rec.ComputedAt.After(liveAt):
			return matching.ErrRecordSuperseded
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE match_records SET superseded_at = $5 WHERE `+liveKey,
				append(key, rec.ComputedAt)...,
			); err != nil {
				return fmt.Errorf("supersede previous record: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO match_records (`+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NULL, $16)`,
			rec.ID, rec.TenantID, rec.SubjectID, rec.CandidateID, string(rec.CandidateKind),
			rec.Score, breakdown, string(rec.MatchType), nullFloat(rec.DistanceKm), rec.ConfigVersion,
			rec.ComputedAt, string(rec.ApprovalState), rec.ReviewerID, rec.ReviewNotes, nullTime(rec.DecidedAt),
			rec.InputHash,
		); err != nil {
			return fmt.Errorf("insert match record: %w", err)
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (s *ApprovalStore) Get(ctx context.Context, tenantID, recordID string) (*matching.MatchRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM match_records WHERE tenant_id = $1 AND id = $2`,
		tenantID, recordID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, matching.ErrRecordNotFound
	}
	return rec, err
}

func (s *ApprovalStore) Latest(ctx context.Context, k matching.Key) (*matching.MatchRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM match_records WHERE `+liveKey,
		k.TenantID, k.SubjectID, k.CandidateID, string(k.Kind))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, matching.ErrRecordNotFound
	}
	return rec, err
}

// Transition is a conditional UPDATE on the expected state; zero affected
// rows means either the record is missing or another decision won.
func (s *ApprovalStore) Transition(ctx context.Context, t matching.Transition) (*matching.MatchRecord, error) {
	var out *matching.MatchRecord
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE match_records
			SET approval_state = $3, reviewer_id = $4, review_notes = $5, decided_at = $6
			WHERE tenant_id = $1 AND id = $2 AND approval_state = $7
			RETURNING `+recordColumns,
			t.TenantID, t.RecordID, string(t.To), t.ReviewerID, t.Notes, t.At, string(t.From))
		rec, err := scanRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM match_records WHERE tenant_id = $1 AND id = $2)`,
				t.TenantID, t.RecordID).Scan(&exists); err != nil {
				return fmt.Errorf("check match record: %w", err)
			}
			if !exists {
				return matching.ErrRecordNotFound
			}
			return matching.ErrApprovalConflict
		}
		if err != nil {
			return fmt.Errorf("update approval state: %w", err)
		}
		out = rec
		return insertAudit(ctx, tx, t.Audit)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ApprovalStore) List(ctx context.Context, q matching.ListQuery) (matching.RecordPage, error) {
	page, size := matching.NormalizePage(q.Page, q.PageSize)
	where := `tenant_id = $1 AND superseded_at IS NULL`
	args := []interface{}{q.TenantID}
	if q.State != "" {
		where += ` AND approval_state = $2`
		args = append(args, string(q.State))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM match_records WHERE `+where, args...).Scan(&total); err != nil {
		return matching.RecordPage{}, fmt.Errorf("count match records: %w", err)
	}

	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf(`SELECT %s FROM match_records WHERE %s ORDER BY computed_at DESC, id LIMIT $%d OFFSET $%d`,
		recordColumns, where, len(args)-1, len(args))
	items, err := s.queryRecords(ctx, query, args...)
	if err != nil {
		return matching.RecordPage{}, err
	}
	return matching.RecordPage{
		Items:      items,
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
	}, nil
}

func (s *ApprovalStore) Audit(ctx context.Context, tenantID, recordID string) ([]matching.AuditEntry, error) {
	if _, err := s.Get(ctx, tenantID, recordID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, record_id, action, actor, notes, from_state, to_state, at
		FROM match_approval_audit WHERE tenant_id = $1 AND record_id = $2
		ORDER BY at, id`, tenantID, recordID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	out := []matching.AuditEntry{}
	for rows.Next() {
		var e matching.AuditEntry
		var from, to string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.RecordID, &e.Action, &e.Actor, &e.Notes, &from, &to, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.From = matching.ApprovalState(from)
		e.To = matching.ApprovalState(to)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *ApprovalStore) History(ctx context.Context, tenantID string, since time.Time) ([]*matching.MatchRecord, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM match_records WHERE tenant_id = $1 AND computed_at >= $2 ORDER BY computed_at`,
		tenantID, since)
}

func (s *ApprovalStore) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*matching.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query match records: %w", err)
	}
	defer rows.Close()

	out := []*matching.MatchRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*matching.MatchRecord, error) {
	var (
		rec                   matching.MatchRecord
		kind, matchType       string
		state                 string
		breakdown             []byte
		distance              sql.NullFloat64
		decidedAt, superseded sql.NullTime
	)
	if err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.SubjectID, &rec.CandidateID, &kind, &rec.Score, &breakdown,
		&matchType, &distance, &rec.ConfigVersion, &rec.ComputedAt, &state,
		&rec.ReviewerID, &rec.ReviewNotes, &decidedAt, &superseded, &rec.InputHash,
	); err != nil {
		return nil, err
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &rec.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown of %s: %w", rec.ID, err)
		}
	}
	rec.CandidateKind = matching.CandidateKind(kind)
	rec.MatchType = matching.MatchType(matchType)
	rec.ApprovalState = matching.ApprovalState(state)
	if distance.Valid {
		d := distance.Float64
		rec.DistanceKm = &d
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		rec.DecidedAt = &t
	}
	if superseded.Valid {
		t := superseded.Time
		rec.SupersededAt = &t
	}
	return &rec, nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, e matching.AuditEntry) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO match_approval_audit (id, tenant_id, record_id, action, actor, notes, from_state, to_state, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.TenantID, e.RecordID, e.Action, e.Actor, e.Notes, string(e.From), string(e.To), e.At,
	); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
