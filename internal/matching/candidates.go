package matching

import (
	"context"
	"sync"

	"matching-workers/internal/common/metrics"
	"matching-workers/internal/models"
)

const (
	defaultMaxCandidates = 200
	defaultCandidatePage = 50
)

// CandidateQuery is one page request against a candidate source. Sources may
// push MaxDistanceKm and Categories down as filters; the generator re-applies
// them either way.
type CandidateQuery struct {
	TenantID      string
	Subject       *models.Snapshot
	Kind          CandidateKind
	MaxDistanceKm float64
	Categories    []string
	Offset        int
	Limit         int
}

// CandidateSource pages through active members or open listings in a stable
// order. A short or empty page ends the enumeration.
type CandidateSource interface {
	Page(ctx context.Context, q CandidateQuery) ([]*models.Snapshot, error)
}

type GeneratorOptions struct {
	MaxCandidates    int
	PageSize         int
	ExcludeConnected bool
}

type Generator struct {
	source CandidateSource
	opts   GeneratorOptions
}

func NewGenerator(source CandidateSource, opts GeneratorOptions) *Generator {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = defaultMaxCandidates
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultCandidatePage
	}
	return &Generator{source: source, opts: opts}
}

// Candidates returns a lazy, bounded, single-use sequence of candidates for
// subject. categories narrows the category bucket when non-empty.
func (g *Generator) Candidates(subject *models.Snapshot, kind CandidateKind, cfg WeightConfig, categories []string) *Sequence {
	return &Sequence{
		gen:        g,
		subject:    subject,
		kind:       kind,
		cfg:        cfg,
		categories: categories,
		seen:       make(map[string]bool),
	}
}

// Sequence yields candidates one at a time, fetching pages on demand. Once
// exhausted or failed it stays that way.
type Sequence struct {
	mu         sync.Mutex
	gen        *Generator
	subject    *models.Snapshot
	kind       CandidateKind
	cfg        WeightConfig
	categories []string

	buf      []*models.Snapshot
	offset   int
	emitted  int
	lastPage bool
	done     bool
	err      error
	seen     map[string]bool
}

// Next returns the next candidate, or ok=false when the sequence is finished.
// An empty sequence is not an error.
func (s *Sequence) Next(ctx context.Context) (*models.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.err != nil {
			return nil, false, s.err
		}
		if s.done || s.emitted >= s.gen.opts.MaxCandidates {
			s.done = true
			return nil, false, nil
		}
		if len(s.buf) == 0 {
			if s.lastPage {
				s.done = true
				return nil, false, nil
			}
			if err := s.fill(ctx); err != nil {
				s.err = err
				return nil, false, err
			}
			if len(s.buf) == 0 {
				s.done = true
				return nil, false, nil
			}
		}
		c := s.buf[0]
		s.buf = s.buf[1:]
		if reason := s.reject(c); reason != "" {
			metrics.CandidatesFiltered.WithLabelValues(string(s.kind), reason).Inc()
			continue
		}
		s.seen[c.ID] = true
		s.emitted++
		return c, true, nil
	}
}

// Collect drains the sequence.
func (s *Sequence) Collect(ctx context.Context) ([]*models.Snapshot, error) {
	var out []*models.Snapshot
	for {
		c, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, c)
	}
}

func (s *Sequence) fill(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	limit := s.gen.opts.PageSize
	page, err := s.gen.source.Page(ctx, CandidateQuery{
		TenantID:      s.subject.TenantID,
		Subject:       s.subject,
		Kind:          s.kind,
		MaxDistanceKm: s.cfg.MaxDistanceKm,
		Categories:    s.categories,
		Offset:        s.offset,
		Limit:         limit,
	})
	if err != nil {
		return err
	}
	s.offset += len(page)
	s.buf = page
	s.lastPage = len(page) < limit
	return nil
}

func (s *Sequence) reject(c *models.Snapshot) string {
	if c == nil || c.ID == "" || s.seen[c.ID] {
		return "duplicate"
	}
	return s.gen.pairRejection(s.subject, c, s.kind, s.cfg, s.categories)
}

// pairRejection reports why c is never a kind candidate for subject, or ""
// when it is one. Every rule reads the subject's side of the pair.
func (g *Generator) pairRejection(subject, c *models.Snapshot, kind CandidateKind, cfg WeightConfig, categories []string) string {
	if c.ID == subject.ID || (kind == KindListing && c.OwnerID != "" && c.OwnerID == subject.ID) {
		return "self"
	}
	if g.opts.ExcludeConnected && connected(subject, c, kind) {
		return "connected"
	}
	if cfg.MaxDistanceKm > 0 && subject.Location != nil && c.Location != nil &&
		HaversineKm(*subject.Location, *c.Location) > cfg.MaxDistanceKm {
		return "distance"
	}
	if len(categories) > 0 {
		cats := c.AllCategories()
		if len(cats) > 0 && !intersects(categories, cats) {
			return "category"
		}
	}
	return ""
}

// ignoringHistory is a copy of g that does not drop connected pairs.
func (g *Generator) ignoringHistory() *Generator {
	opts := g.opts
	opts.ExcludeConnected = false
	return &Generator{source: g.source, opts: opts}
}

func connected(subject, c *models.Snapshot, kind CandidateKind) bool {
	partner := c.ID
	if kind == KindListing && c.OwnerID != "" {
		partner = c.OwnerID
	}
	h, ok := subject.HistoryWith(partner)
	return ok && (h.Connected || h.Exchanges > 0)
}
