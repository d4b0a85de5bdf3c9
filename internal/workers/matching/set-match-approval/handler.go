package setmatchapproval

import (
	"context"
	"fmt"
	"strings"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"matching-workers/internal/common/errors"
	"matching-workers/internal/common/logger"
	"matching-workers/internal/common/validation"
	"matching-workers/internal/matching"
	"matching-workers/internal/workers/matching/jobkit"
)

const TaskType = "set-match-approval"

type Decider interface {
	Decide(ctx context.Context, d matching.Decision) (*matching.MatchRecord, bool, error)
	Audit(ctx context.Context, tenantID, recordID string) ([]matching.AuditEntry, error)
}

// ReviewerResolver maps an access token to the reviewer it belongs to.
type ReviewerResolver interface {
	ResolveReviewer(ctx context.Context, token string) (string, error)
}

type Handler struct {
	config    *Config
	decider   Decider
	reviewers ReviewerResolver
	jobs      *jobkit.Runner
	logger    logger.Logger
}

// NewHandler wires the approval worker. reviewers may be nil when no
// identity provider is configured.
func NewHandler(config *Config, decider Decider, reviewers ReviewerResolver, validator *validation.Validator, log logger.Logger) *Handler {
	jobs := jobkit.NewRunner(TaskType, validator, log)
	return &Handler{config: config, decider: decider, reviewers: reviewers, jobs: jobs, logger: jobs.Logger()}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := h.jobs.Decode(job, &input); err != nil {
		h.jobs.Fail(ctx, client, job, err)
		return
	}
	output, err := h.execute(ctx, &input)
	if err != nil {
		h.jobs.Fail(ctx, client, job, err)
		return
	}
	h.jobs.Complete(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	bulk := len(input.RecordIDs) > 0
	switch {
	case input.TenantID == "":
		return nil, errors.NewInvalidInputError("tenantId is required")
	case bulk && input.RecordID != "":
		return nil, errors.NewInvalidInputError("recordId and recordIds are mutually exclusive")
	case !bulk && input.RecordID == "":
		return nil, errors.NewInvalidInputError("recordId or recordIds is required")
	case bulk && h.config.MaxBatch > 0 && len(input.RecordIDs) > h.config.MaxBatch:
		return nil, errors.NewInvalidInputError(fmt.Sprintf("at most %d recordIds per decision", h.config.MaxBatch))
	case !input.Approved && strings.TrimSpace(input.Notes) == "":
		return nil, errors.NewInvalidInputError("notes are required when rejecting a match")
	}
	reviewer, err := h.reviewer(ctx, input)
	if err != nil {
		return nil, err
	}
	if reviewer == "" {
		return nil, matching.ErrUnauthorized
	}
	if bulk {
		return h.executeBatch(ctx, input, reviewer)
	}

	rec, changed, err := h.decide(ctx, input, input.RecordID, reviewer)
	if err != nil {
		return nil, err
	}
	trail, err := h.decider.Audit(ctx, input.TenantID, input.RecordID)
	if err != nil {
		return nil, err
	}
	return &Output{Record: rec, Changed: changed, AuditTrail: trail}, nil
}

// executeBatch decides each record on its own. A failing record is reported
// in its result and does not stop the rest.
func (h *Handler) executeBatch(ctx context.Context, input *Input, reviewer string) (*Output, error) {
	out := &Output{Results: make([]BatchResult, 0, len(input.RecordIDs))}
	seen := make(map[string]bool, len(input.RecordIDs))
	for _, id := range input.RecordIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res := BatchResult{RecordID: id}
		rec, changed, err := h.decide(ctx, input, id, reviewer)
		if err != nil {
			stdErr := jobkit.MapError(err)
			res.ErrorCode = string(stdErr.Code)
			res.Error = err.Error()
			out.Failed++
		} else {
			res.State = rec.ApprovalState
			res.Changed = changed
			out.Applied++
			out.Changed = out.Changed || changed
		}
		out.Results = append(out.Results, res)
	}

	h.logger.Info("bulk approval decided", map[string]interface{}{
		"tenantId":   input.TenantID,
		"approved":   input.Approved,
		"applied":    out.Applied,
		"failed":     out.Failed,
		"reviewerId": reviewer,
	})
	return out, nil
}

func (h *Handler) decide(ctx context.Context, input *Input, recordID, reviewer string) (*matching.MatchRecord, bool, error) {
	rec, changed, err := h.decider.Decide(ctx, matching.Decision{
		TenantID:   input.TenantID,
		RecordID:   recordID,
		Approve:    input.Approved,
		ReviewerID: reviewer,
		Notes:      input.Notes,
	})
	if err != nil {
		return nil, false, err
	}
	h.logger.Info("approval decided", map[string]interface{}{
		"tenantId":   input.TenantID,
		"recordId":   recordID,
		"state":      rec.ApprovalState,
		"changed":    changed,
		"reviewerId": reviewer,
	})
	return rec, changed, nil
}

func (h *Handler) reviewer(ctx context.Context, input *Input) (string, error) {
	if input.AccessToken == "" {
		if h.config.RequireToken {
			return "", errors.NewUnauthorizedReviewerError("accessToken is required")
		}
		return input.ReviewerID, nil
	}
	if h.reviewers == nil {
		return "", errors.NewUnauthorizedReviewerError("token verification is not configured")
	}
	return h.reviewers.ResolveReviewer(ctx, input.AccessToken)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
