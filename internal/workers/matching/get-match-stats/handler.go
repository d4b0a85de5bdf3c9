package getmatchstats

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

const TaskType = "get-match-stats"

type StatsSource interface {
	GetStats(ctx context.Context, tenantID string, windowHours int) (matching.Stats, error)
}

type Handler struct {
	config *Config
	stats  StatsSource
	jobs   *jobkit.Runner
	logger logger.Logger
}

func NewHandler(config *Config, stats StatsSource, validator *validation.Validator, log logger.Logger) *Handler {
	jobs := jobkit.NewRunner(TaskType, validator, log)
	return &Handler{config: config, stats: stats, jobs: jobs, logger: jobs.Logger()}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
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
	window := input.WindowHours
	if window <= 0 {
		window = h.config.DefaultWindowHours
	}
	st, err := h.stats.GetStats(ctx, input.TenantID, window)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("stats computed", map[string]interface{}{
		"tenantId":    input.TenantID,
		"windowHours": window,
		"pending":     st.PendingApprovals,
	})
	return &Output{Stats: st}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
