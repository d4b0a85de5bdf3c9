package diagnoselisting

import (
	"context"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"matching-workers/internal/common/errors"
	"matching-workers/internal/common/logger"
	"matching-workers/internal/common/validation"
	"matching-workers/internal/matching"
	"matching-workers/internal/workers/matching/jobkit"
)

const TaskType = "diagnose-listing"

type Explainer interface {
	ExplainForCandidate(ctx context.Context, tenantID, entityID string) (matching.Diagnosis, error)
}

type Handler struct {
	config    *Config
	explainer Explainer
	jobs      *jobkit.Runner
	logger    logger.Logger
}

func NewHandler(config *Config, explainer Explainer, validator *validation.Validator, log logger.Logger) *Handler {
	jobs := jobkit.NewRunner(TaskType, validator, log)
	return &Handler{config: config, explainer: explainer, jobs: jobs, logger: jobs.Logger()}
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
	if input.TenantID == "" || input.ListingID == "" {
		return nil, errors.NewInvalidInputError("tenantId and listingId are required")
	}

	d, err := h.explainer.ExplainForCandidate(ctx, input.TenantID, input.ListingID)
	if err != nil {
		return nil, err
	}

	out := &Output{Diagnosis: d, EntryCount: len(d.Entries)}
	limit := input.Limit
	if limit <= 0 || limit > h.config.MaxEntries {
		limit = h.config.MaxEntries
	}
	if len(d.Entries) > limit {
		out.Diagnosis.Entries = d.Entries[:limit]
		out.Truncated = true
	}

	h.logger.Debug("candidate diagnosed", map[string]interface{}{
		"tenantId": input.TenantID,
		"entityId": input.ListingID,
		"status":   d.Status,
		"entries":  out.EntryCount,
	})
	return out, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
