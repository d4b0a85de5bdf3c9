package matching

import (
	"context"
	"sync"
	"time"

	"matching-workers/internal/models"
)

// ==========================
// Test Fixtures
// ==========================

var baseTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock { return &testClock{t: baseTime} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func ptr[T any](v T) *T { return &v }

// directory is an in-memory AttributeStore and CandidateSource.
type directory struct {
	mu        sync.Mutex
	entities  map[string]*models.Snapshot
	order     []string
	pageCalls int
	pageErr   error
	onGet     func(id string)
	onPage    func()
}

func newDirectory(snaps ...*models.Snapshot) *directory {
	d := &directory{entities: make(map[string]*models.Snapshot)}
	for _, s := range snaps {
		d.entities[s.ID] = s
		d.order = append(d.order, s.ID)
	}
	return d
}

func (d *directory) Get(_ context.Context, tenantID, id string) (*models.Snapshot, error) {
	if d.onGet != nil {
		d.onGet(id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.entities[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrEntityNotFound
	}
	return s, nil
}

// put replaces or adds a snapshot.
func (d *directory) put(s *models.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entities[s.ID]; !ok {
		d.order = append(d.order, s.ID)
	}
	d.entities[s.ID] = s
}

func (d *directory) Page(_ context.Context, q CandidateQuery) ([]*models.Snapshot, error) {
	if d.onPage != nil {
		d.onPage()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pageCalls++
	if d.pageErr != nil {
		return nil, d.pageErr
	}
	var all []*models.Snapshot
	for _, id := range d.order {
		s := d.entities[id]
		if s.TenantID == q.TenantID && s.Kind == q.Kind {
			all = append(all, s)
		}
	}
	if q.Offset >= len(all) {
		return nil, nil
	}
	end := q.Offset + q.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[q.Offset:end], nil
}

const tenant = "tenant-1"

var berlin = models.GeoPoint{Lat: 52.52, Lon: 13.405}

// alice is the usual subject: she offers tutoring and wants gardening help.
func alice() *models.Snapshot {
	return &models.Snapshot{
		ID:           "alice",
		TenantID:     tenant,
		Kind:         models.KindMember,
		Skills:       []string{"go", "postgres"},
		Categories:   []string{"tech"},
		Offers:       []string{"tutoring"},
		Requests:     []string{"gardening"},
		Location:     ptr(berlin),
		LastActiveAt: ptr(baseTime.Add(-time.Hour)),
	}
}

// bob is a mutual match for alice at the same spot (score 91.5).
func bob() *models.Snapshot {
	return &models.Snapshot{
		ID:           "bob",
		TenantID:     tenant,
		Kind:         models.KindMember,
		Skills:       []string{"Go"},
		Categories:   []string{"tech"},
		Offers:       []string{"gardening"},
		Requests:     []string{"tutoring"},
		Location:     ptr(berlin),
		LastActiveAt: ptr(baseTime.Add(-time.Hour)),
		ReviewScore:  ptr(4.5),
		NexusScore:   ptr(500.0),
	}
}

// carol is about 20 km away with nothing in common; she scores below 40.
func carol() *models.Snapshot {
	return &models.Snapshot{
		ID:         "carol",
		TenantID:   tenant,
		Kind:       models.KindMember,
		Skills:     []string{"cooking"},
		Categories: []string{"food"},
		Location:   &models.GeoPoint{Lat: 52.52, Lon: 13.705},
	}
}

// dave lives in Paris, outside the default 50 km radius.
func dave() *models.Snapshot {
	return &models.Snapshot{
		ID:       "dave",
		TenantID: tenant,
		Kind:     models.KindMember,
		Skills:   []string{"go"},
		Location: &models.GeoPoint{Lat: 48.8566, Lon: 2.3522},
	}
}

// bobsListing offers gardening in tech; alice sees it as a potential match (75.5).
func bobsListing() *models.Snapshot {
	return &models.Snapshot{
		ID:           "listing-1",
		TenantID:     tenant,
		Kind:         models.KindListing,
		OwnerID:      "bob",
		Skills:       []string{"go"},
		Category:     "tech",
		Offers:       []string{"gardening"},
		Location:     ptr(berlin),
		LastActiveAt: ptr(baseTime.Add(-2 * time.Hour)),
	}
}

func alicesListing() *models.Snapshot {
	return &models.Snapshot{
		ID:       "listing-2",
		TenantID: tenant,
		Kind:     models.KindListing,
		OwnerID:  "alice",
		Category: "tech",
		Location: ptr(berlin),
	}
}

func fixtureDirectory() *directory {
	return newDirectory(alice(), bob(), carol(), dave(), bobsListing(), alicesListing())
}

// recordingNotifier captures pending and decision notifications.
type recordingNotifier struct {
	mu        sync.Mutex
	records   []*MatchRecord
	decisions []*MatchRecord
	err       error
}

func (n *recordingNotifier) NotifyPending(_ context.Context, rec *MatchRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, rec)
	return n.err
}

func (n *recordingNotifier) NotifyDecision(_ context.Context, rec *MatchRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decisions = append(n.decisions, rec)
	return n.err
}

func (n *recordingNotifier) decisionCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.decisions)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.records)
}

// recordingInvalidator captures attribute invalidations.
type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *recordingInvalidator) InvalidateEntity(_ context.Context, _, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return r.err
}

func newRecord(id, subject, candidate string, score float64, at time.Time) *MatchRecord {
	return &MatchRecord{
		ID:            id,
		TenantID:      tenant,
		SubjectID:     subject,
		CandidateID:   candidate,
		CandidateKind: KindMember,
		Score:         score,
		Breakdown:     map[string]float64{FactorSkills: score},
		ConfigVersion: 1,
		ComputedAt:    at,
	}
}
