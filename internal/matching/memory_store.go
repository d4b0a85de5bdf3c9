package matching

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// MemoryApprovalStore is an in-process ApprovalStore. All mutations happen
// under one mutex, which makes Transition a true compare-and-set.
type MemoryApprovalStore struct {
	mu      sync.RWMutex
	records map[string]*MatchRecord
	latest  map[Key]string
	audit   map[string][]AuditEntry
}

func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{
		records: make(map[string]*MatchRecord),
		latest:  make(map[Key]string),
		audit:   make(map[string][]AuditEntry),
	}
}

func (s *MemoryApprovalStore) Create(_ context.Context, rec *MatchRecord, audit AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.records[rec.ID]; dup {
		return fmt.Errorf("match record %s already exists", rec.ID)
	}
	k := rec.Key()
	if prevID, ok := s.latest[k]; ok {
		prev := s.records[prevID]
		if !rec.ComputedAt.After(prev.ComputedAt) {
			return ErrRecordSuperseded
		}
		at := rec.ComputedAt
		prev.SupersededAt = &at
	}
	s.records[rec.ID] = rec.Clone()
	s.latest[k] = rec.ID
	s.audit[rec.ID] = append(s.audit[rec.ID], audit)
	return nil
}

func (s *MemoryApprovalStore) Get(_ context.Context, tenantID, recordID string) (*MatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordID]
	if !ok || rec.TenantID != tenantID {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryApprovalStore) Latest(_ context.Context, k Key) (*MatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.latest[k]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return s.records[id].Clone(), nil
}

func (s *MemoryApprovalStore) Transition(_ context.Context, t Transition) (*MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[t.RecordID]
	if !ok || rec.TenantID != t.TenantID {
		return nil, ErrRecordNotFound
	}
	if rec.ApprovalState != t.From {
		return nil, ErrApprovalConflict
	}
	at := t.At
	rec.ApprovalState = t.To
	rec.ReviewerID = t.ReviewerID
	rec.ReviewNotes = t.Notes
	rec.DecidedAt = &at
	s.audit[rec.ID] = append(s.audit[rec.ID], t.Audit)
	return rec.Clone(), nil
}

func (s *MemoryApprovalStore) List(_ context.Context, q ListQuery) (RecordPage, error) {
	s.mu.RLock()
	var matched []*MatchRecord
	for _, rec := range s.records {
		if rec.TenantID != q.TenantID || rec.SupersededAt != nil {
			continue
		}
		if q.State != "" && rec.ApprovalState != q.State {
			continue
		}
		matched = append(matched, rec.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].ComputedAt.Equal(matched[j].ComputedAt) {
			return matched[i].ComputedAt.After(matched[j].ComputedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return paginate(matched, q.Page, q.PageSize), nil
}

func (s *MemoryApprovalStore) Audit(_ context.Context, tenantID, recordID string) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordID]
	if !ok || rec.TenantID != tenantID {
		return nil, ErrRecordNotFound
	}
	out := make([]AuditEntry, len(s.audit[recordID]))
	copy(out, s.audit[recordID])
	return out, nil
}

func (s *MemoryApprovalStore) History(_ context.Context, tenantID string, since time.Time) ([]*MatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*MatchRecord
	for _, rec := range s.records {
		if rec.TenantID == tenantID && !rec.ComputedAt.Before(since) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ComputedAt.Before(out[j].ComputedAt) })
	return out, nil
}

// NormalizePage applies the default page size, a floor of page 1 and a
// ceiling that keeps the row offset within int32.
func NormalizePage(page, size int) (int, int) {
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	if page < 1 {
		page = 1
	}
	if limit := math.MaxInt32/size + 1; page > limit {
		page = limit
	}
	return page, size
}

func paginate(items []*MatchRecord, page, size int) RecordPage {
	page, size = NormalizePage(page, size)
	total := len(items)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return RecordPage{
		Items:      append([]*MatchRecord{}, items[start:end]...),
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
	}
}
