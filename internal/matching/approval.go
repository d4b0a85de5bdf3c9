package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"matching-workers/internal/common/logger"
	"matching-workers/internal/common/metrics"
)

const (
	ActionSubmitted    = "submitted"
	ActionAutoApproved = "auto_approved"
	ActionApproved     = "approved"
	ActionRejected     = "rejected"

	systemActor = "system"
)

// AuditEntry is one append-only line of the approval history.
type AuditEntry struct {
	ID       string        `json:"id"`
	TenantID string        `json:"tenantId"`
	RecordID string        `json:"recordId"`
	Action   string        `json:"action"`
	Actor    string        `json:"actor"`
	Notes    string        `json:"notes,omitempty"`
	From     ApprovalState `json:"from,omitempty"`
	To       ApprovalState `json:"to"`
	At       time.Time     `json:"at"`
}

// Transition is an atomic compare-and-set of a record's approval state.
type Transition struct {
	TenantID   string
	RecordID   string
	From       ApprovalState
	To         ApprovalState
	ReviewerID string
	Notes      string
	At         time.Time
	Audit      AuditEntry
}

type ListQuery struct {
	TenantID string
	State    ApprovalState
	Page     int
	PageSize int
}

type RecordPage struct {
	Items      []*MatchRecord `json:"items"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	Total      int            `json:"total"`
	TotalPages int            `json:"totalPages"`
}

// ApprovalStore persists match records and their approval history.
type ApprovalStore interface {
	// Create stores rec as the latest record for its key, marks the previous
	// latest as superseded and appends audit, all in one step.
	// It fails with ErrRecordSuperseded when the live record for the key was
	// computed at or after rec.ComputedAt.
	Create(ctx context.Context, rec *MatchRecord, audit AuditEntry) error
	Get(ctx context.Context, tenantID, recordID string) (*MatchRecord, error)
	// Latest returns the live record for the key or ErrRecordNotFound.
	Latest(ctx context.Context, key Key) (*MatchRecord, error)
	// Transition fails with ErrApprovalConflict when the stored state is not t.From.
	Transition(ctx context.Context, t Transition) (*MatchRecord, error)
	// List pages through non-superseded records, newest first.
	List(ctx context.Context, q ListQuery) (RecordPage, error)
	Audit(ctx context.Context, tenantID, recordID string) ([]AuditEntry, error)
	// History returns every record computed since the given time, superseded ones included.
	History(ctx context.Context, tenantID string, since time.Time) ([]*MatchRecord, error)
}

// Notifier tells brokers a record is waiting for review and tells the
// subject how a review ended.
type Notifier interface {
	NotifyPending(ctx context.Context, rec *MatchRecord) error
	NotifyDecision(ctx context.Context, rec *MatchRecord) error
}

// ApprovalListener observes every state change the gate commits.
type ApprovalListener interface {
	OnApprovalChanged(rec *MatchRecord)
}

// Decision is a broker's review of one pending record.
type Decision struct {
	TenantID   string `json:"tenantId"`
	RecordID   string `json:"recordId"`
	Approve    bool   `json:"approved"`
	ReviewerID string `json:"reviewerId"`
	Notes      string `json:"notes,omitempty"`
}

// Gate is the only writer of approval state.
type Gate struct {
	store     ApprovalStore
	notifier  Notifier
	listeners []ApprovalListener
	logger    logger.Logger
	now       Clock
}

func NewGate(store ApprovalStore, notifier Notifier, log logger.Logger, listeners ...ApprovalListener) *Gate {
	return &Gate{
		store:     store,
		notifier:  notifier,
		listeners: listeners,
		logger:    log.WithFields(map[string]interface{}{"component": "approval-gate"}),
		now:       systemClock,
	}
}

// Admit records a freshly scored match. With broker approval disabled it is
// auto-approved on the spot, otherwise it waits in pending.
//
// A live record built from the same inputs under the same config version is
// returned as is, so re-scoring an unchanged pair keeps the broker's decision.
// Brokers are notified once per pair while it stays pending.
func (g *Gate) Admit(ctx context.Context, rec *MatchRecord, cfg WeightConfig) (*MatchRecord, error) {
	prev, err := g.store.Latest(ctx, rec.Key())
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, fmt.Errorf("load latest match record: %w", err)
	}
	if prev != nil && sameInputs(prev, rec) {
		metrics.MatchRecordsReused.Inc()
		return prev, nil
	}

	out := rec.Clone()
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	at := g.now()
	audit := AuditEntry{
		ID:       uuid.NewString(),
		TenantID: out.TenantID,
		RecordID: out.ID,
		Actor:    systemActor,
		At:       at,
	}
	if cfg.BrokerApproval {
		out.ApprovalState = StatePending
		audit.Action = ActionSubmitted
	} else {
		out.ApprovalState = StateAutoApproved
		out.DecidedAt = &at
		audit.Action = ActionAutoApproved
	}
	audit.To = out.ApprovalState

	if err := g.store.Create(ctx, out, audit); err != nil {
		if errors.Is(err, ErrRecordSuperseded) {
			// A concurrent scoring of the same pair stored a newer record.
			return g.store.Latest(ctx, rec.Key())
		}
		return nil, fmt.Errorf("admit match record: %w", err)
	}
	metrics.ApprovalTransitions.WithLabelValues(string(out.ApprovalState)).Inc()
	g.publish(out)

	alreadyQueued := prev != nil && prev.ApprovalState == StatePending
	if out.ApprovalState == StatePending && !alreadyQueued && g.notifier != nil {
		if err := g.notifier.NotifyPending(ctx, out); err != nil {
			g.logger.Warn("broker notification failed", map[string]interface{}{
				"recordId": out.ID,
				"error":    err.Error(),
			})
		}
	}
	return out, nil
}

func sameInputs(prev, next *MatchRecord) bool {
	return prev.InputHash != "" &&
		prev.InputHash == next.InputHash &&
		prev.ConfigVersion == next.ConfigVersion
}

// Decide applies a broker decision. Repeating a decision that already holds
// is a no-op and returns changed=false; deciding a record that has reached
// a different terminal state returns ErrApprovalConflict.
func (g *Gate) Decide(ctx context.Context, d Decision) (rec *MatchRecord, changed bool, err error) {
	if d.ReviewerID == "" {
		return nil, false, ErrUnauthorized
	}
	target := StateRejected
	if d.Approve {
		target = StateApproved
	}

	current, err := g.store.Get(ctx, d.TenantID, d.RecordID)
	if err != nil {
		return nil, false, err
	}
	if satisfies(current.ApprovalState, target) {
		return current, false, nil
	}
	if current.ApprovalState != StatePending {
		return current, false, fmt.Errorf("%w: record %s is %s", ErrApprovalConflict, d.RecordID, current.ApprovalState)
	}

	at := g.now()
	updated, err := g.store.Transition(ctx, Transition{
		TenantID:   d.TenantID,
		RecordID:   d.RecordID,
		From:       StatePending,
		To:         target,
		ReviewerID: d.ReviewerID,
		Notes:      d.Notes,
		At:         at,
		Audit: AuditEntry{
			ID:       uuid.NewString(),
			TenantID: d.TenantID,
			RecordID: d.RecordID,
			Action:   string(target),
			Actor:    d.ReviewerID,
			Notes:    d.Notes,
			From:     StatePending,
			To:       target,
			At:       at,
		},
	})
	if errors.Is(err, ErrApprovalConflict) {
		// Lost the race to another reviewer; same outcome is still success.
		latest, getErr := g.store.Get(ctx, d.TenantID, d.RecordID)
		if getErr == nil && satisfies(latest.ApprovalState, target) {
			return latest, false, nil
		}
		return latest, false, err
	}
	if err != nil {
		return nil, false, err
	}

	metrics.ApprovalTransitions.WithLabelValues(string(target)).Inc()
	g.logger.Info("match record reviewed", map[string]interface{}{
		"recordId":   updated.ID,
		"state":      updated.ApprovalState,
		"reviewerId": d.ReviewerID,
	})
	g.publish(updated)

	if g.notifier != nil {
		if err := g.notifier.NotifyDecision(ctx, updated); err != nil {
			g.logger.Warn("decision notification failed", map[string]interface{}{
				"recordId": updated.ID,
				"error":    err.Error(),
			})
		}
	}
	return updated, true, nil
}

// Get returns one record, superseded or not.
func (g *Gate) Get(ctx context.Context, tenantID, recordID string) (*MatchRecord, error) {
	return g.store.Get(ctx, tenantID, recordID)
}

func (g *Gate) List(ctx context.Context, q ListQuery) (RecordPage, error) {
	return g.store.List(ctx, q)
}

func (g *Gate) Audit(ctx context.Context, tenantID, recordID string) ([]AuditEntry, error) {
	return g.store.Audit(ctx, tenantID, recordID)
}

func (g *Gate) publish(rec *MatchRecord) {
	for _, l := range g.listeners {
		l.OnApprovalChanged(rec.Clone())
	}
}

// satisfies reports whether state already fulfils a decision for target.
// An auto-approved record already satisfies an approval.
func satisfies(state, target ApprovalState) bool {
	if state == target {
		return true
	}
	return target == StateApproved && state == StateAutoApproved
}
