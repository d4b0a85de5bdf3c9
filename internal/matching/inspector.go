package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"matching-workers/internal/models"
)

const (
	DiagnosticOK     = "ok"
	DiagnosticNoData = "no_data"
)

// DiagnosticEntry is one pair as the scorer sees it right now.
type DiagnosticEntry struct {
	SubjectID     string             `json:"subjectId"`
	CandidateID   string             `json:"candidateId"`
	CandidateKind CandidateKind      `json:"candidateKind"`
	Factors       FactorVector       `json:"factors"`
	Breakdown     map[string]float64 `json:"breakdown"`
	Score         float64            `json:"score"`
	AboveMinScore bool               `json:"aboveMinScore"`
	Hot           bool               `json:"hot"`
}

type Diagnosis struct {
	TenantID      string            `json:"tenantId"`
	EntityID      string            `json:"entityId"`
	View          string            `json:"view"`
	Status        string            `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	ConfigVersion int64             `json:"configVersion"`
	Entries       []DiagnosticEntry `json:"entries"`
}

// Inspector explains scores without touching the cache or the approval
// store. Results always reflect the tenant's current config.
type Inspector struct {
	attrs     AttributeStore
	generator *Generator
	builder   *Builder
	configs   ConfigProvider
}

func NewInspector(attrs AttributeStore, generator *Generator, configs ConfigProvider, now Clock) *Inspector {
	return &Inspector{attrs: attrs, generator: generator, builder: NewBuilder(now), configs: configs}
}

// ExplainForSubject lists every candidate the member would be scored against.
func (in *Inspector) ExplainForSubject(ctx context.Context, tenantID, subjectID string) (Diagnosis, error) {
	d, cfg, subject, err := in.begin(ctx, tenantID, subjectID, "subject")
	if err != nil || subject == nil {
		return d, err
	}
	for _, kind := range []CandidateKind{KindMember, KindListing} {
		cands, err := in.generator.Candidates(subject, kind, cfg, nil).Collect(ctx)
		if err != nil {
			return d, fmt.Errorf("generate %s candidates: %w", kind, err)
		}
		for _, c := range cands {
			in.add(&d, subject, c, kind, cfg)
		}
	}
	return finish(d), nil
}

// ExplainForCandidate is the reverse view: every member that would see the
// entity, a member or a listing, as a candidate.
func (in *Inspector) ExplainForCandidate(ctx context.Context, tenantID, candidateID string) (Diagnosis, error) {
	d, cfg, candidate, err := in.begin(ctx, tenantID, candidateID, "candidate")
	if err != nil || candidate == nil {
		return d, err
	}
	kind := candidate.Kind
	if !kind.Valid() {
		kind = KindMember
	}
	// Members are enumerated around the candidate, then each one is checked
	// with its own history the way its forward view would.
	members, err := in.generator.ignoringHistory().Candidates(candidate, KindMember, cfg, nil).Collect(ctx)
	if err != nil {
		return d, fmt.Errorf("generate subjects: %w", err)
	}
	for _, m := range members {
		if in.generator.pairRejection(m, candidate, kind, cfg, nil) != "" {
			continue
		}
		in.add(&d, m, candidate, kind, cfg)
	}
	return finish(d), nil
}

func (in *Inspector) begin(ctx context.Context, tenantID, entityID, view string) (Diagnosis, WeightConfig, *models.Snapshot, error) {
	d := Diagnosis{TenantID: tenantID, EntityID: entityID, View: view, Status: DiagnosticNoData, Entries: []DiagnosticEntry{}}
	cfg, err := in.configs.Current(ctx, tenantID)
	if err != nil {
		return d, cfg, nil, fmt.Errorf("load weight config: %w", err)
	}
	d.ConfigVersion = cfg.Version
	entity, err := in.attrs.Get(ctx, tenantID, entityID)
	if errors.Is(err, ErrEntityNotFound) {
		d.Reason = "entity not found"
		return d, cfg, nil, nil
	}
	if err != nil {
		return d, cfg, nil, err
	}
	return d, cfg, entity, nil
}

func (in *Inspector) add(d *Diagnosis, subject, candidate *models.Snapshot, kind CandidateKind, cfg WeightConfig) {
	vec, err := in.builder.Build(subject, candidate, kind)
	if err != nil {
		return
	}
	res := Score(vec, cfg)
	d.Entries = append(d.Entries, DiagnosticEntry{
		SubjectID:     subject.ID,
		CandidateID:   candidate.ID,
		CandidateKind: kind,
		Factors:       vec,
		Breakdown:     res.Breakdown,
		Score:         res.Score,
		AboveMinScore: res.Score >= cfg.MinScore,
		Hot:           IsHot(res.Score, cfg),
	})
}

// finish orders entries by score, keeping generation order among ties.
func finish(d Diagnosis) Diagnosis {
	sort.SliceStable(d.Entries, func(i, j int) bool { return d.Entries[i].Score > d.Entries[j].Score })
	if len(d.Entries) > 0 {
		d.Status = DiagnosticOK
		d.Reason = ""
	} else if d.Reason == "" {
		d.Reason = "no scorable candidates"
	}
	return d
}
