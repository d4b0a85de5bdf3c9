package entitychanged

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

const TaskType = "entity-changed"

type Invalidator interface {
	OnEntityChanged(ctx context.Context, tenantID, entityID string) matching.InvalidationResult
	ClearTenant(tenantID string) int
}

type Handler struct {
	config      *Config
	invalidator Invalidator
	jobs        *jobkit.Runner
	logger      logger.Logger
}

func NewHandler(config *Config, invalidator Invalidator, validator *validation.Validator, log logger.Logger) *Handler {
	jobs := jobkit.NewRunner(TaskType, validator, log)
	return &Handler{config: config, invalidator: invalidator, jobs: jobs, logger: jobs.Logger()}
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
	if input.TenantID == "" {
		return nil, errors.NewInvalidInputError("tenantId is required")
	}
	ids := input.EntityIDs
	if input.EntityID != "" {
		ids = append([]string{input.EntityID}, ids...)
	}
	if len(ids) == 0 && !input.ClearTenant {
		return nil, errors.NewInvalidInputError("entityId, entityIds or clearTenant is required")
	}

	out := &Output{Invalidated: make([]string, 0, len(ids))}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		res := h.invalidator.OnEntityChanged(ctx, input.TenantID, id)
		out.Invalidated = append(out.Invalidated, res.EntityID)
		out.RemovedEntries += res.RemovedEntries
	}
	if input.ClearTenant {
		out.RemovedEntries += h.invalidator.ClearTenant(input.TenantID)
		out.TenantCleared = true
	}

	h.logger.Info("match cache invalidated", map[string]interface{}{
		"tenantId":      input.TenantID,
		"entities":      len(out.Invalidated),
		"removed":       out.RemovedEntries,
		"tenantCleared": out.TenantCleared,
	})
	return out, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
