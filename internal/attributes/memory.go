package attributes

import (
	"context"
	"sort"
	"sync"

	"matching-workers/internal/matching"
	"matching-workers/internal/models"
)

// MemoryStore holds snapshots in process. It backs local runs and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*models.Snapshot // tenant -> id -> snapshot
}

func NewMemoryStore(snaps ...*models.Snapshot) *MemoryStore {
	s := &MemoryStore{data: make(map[string]map[string]*models.Snapshot)}
	for _, snap := range snaps {
		s.Put(snap)
	}
	return s
}

var (
	_ matching.AttributeStore  = (*MemoryStore)(nil)
	_ matching.CandidateSource = (*MemoryStore)(nil)
)

func (s *MemoryStore) Put(snap *models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.data[snap.TenantID]
	if !ok {
		byID = make(map[string]*models.Snapshot)
		s.data[snap.TenantID] = byID
	}
	cp := *snap
	byID[snap.ID] = &cp
}

func (s *MemoryStore) Delete(tenantID, entityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[tenantID], entityID)
}

func (s *MemoryStore) Get(_ context.Context, tenantID, entityID string) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.data[tenantID][entityID]
	if !ok {
		return nil, matching.ErrEntityNotFound
	}
	cp := *snap
	return &cp, nil
}

func (s *MemoryStore) Page(ctx context.Context, q matching.CandidateQuery) ([]*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*models.Snapshot
	for _, snap := range s.data[q.TenantID] {
		if snap.Kind == q.Kind && snap.Active {
			all = append(all, snap)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if q.Offset >= len(all) {
		return []*models.Snapshot{}, nil
	}
	end := q.Offset + q.Limit
	if q.Limit <= 0 || end > len(all) {
		end = len(all)
	}
	out := make([]*models.Snapshot, 0, end-q.Offset)
	for _, snap := range all[q.Offset:end] {
		cp := *snap
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ActiveMembers(_ context.Context, tenantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := []string{}
	for id, snap := range s.data[tenantID] {
		if snap.Kind == models.KindMember && snap.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
