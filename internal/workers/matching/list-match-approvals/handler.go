package listmatchapprovals

import (
	"context"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"matching-workers/internal/common/errors"
	"matching-workers/internal/common/logger"
	"matching-workers/internal/common/validation"
	"matching-workers/internal/matching"
	"matching-workers/internal/workers/matching/jobkit"
)

const TaskType = "list-match-approvals"

type Lister interface {
	List(ctx context.Context, q matching.ListQuery) (matching.RecordPage, error)
}

type Handler struct {
	config *Config
	lister Lister
	jobs   *jobkit.Runner
	logger logger.Logger
}

func NewHandler(config *Config, lister Lister, validator *validation.Validator, log logger.Logger) *Handler {
	jobs := jobkit.NewRunner(TaskType, validator, log)
	return &Handler{config: config, lister: lister, jobs: jobs, logger: jobs.Logger()}
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
	state := matching.ApprovalState(input.Status)
	if state != "" && !state.Valid() {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("unknown approval status %q", input.Status))
	}
	size := input.PageSize
	if size > h.config.MaxPageSize {
		size = h.config.MaxPageSize
	}
	page, size := matching.NormalizePage(input.Page, size)

	res, err := h.lister.List(ctx, matching.ListQuery{
		TenantID: input.TenantID,
		State:    state,
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		return nil, err
	}
	if res.Items == nil {
		res.Items = []*matching.MatchRecord{}
	}
	return &Output{
		Approvals:  res.Items,
		Page:       res.Page,
		PageSize:   res.PageSize,
		Total:      res.Total,
		TotalPages: res.TotalPages,
	}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
