package getmatchapproval

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

const TaskType = "get-match-approval"

type Reader interface {
	Get(ctx context.Context, tenantID, recordID string) (*matching.MatchRecord, error)
	Audit(ctx context.Context, tenantID, recordID string) ([]matching.AuditEntry, error)
}

type Handler struct {
	config *Config
	reader Reader
	jobs   *jobkit.Runner
	logger logger.Logger
}

func NewHandler(config *Config, reader Reader, validator *validation.Validator, log logger.Logger) *Handler {
	jobs := jobkit.NewRunner(TaskType, validator, log)
	return &Handler{config: config, reader: reader, jobs: jobs, logger: jobs.Logger()}
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
	if input.TenantID == "" || input.RecordID == "" {
		return nil, errors.NewInvalidInputError("tenantId and recordId are required")
	}
	rec, err := h.reader.Get(ctx, input.TenantID, input.RecordID)
	if err != nil {
		return nil, err
	}
	trail, err := h.reader.Audit(ctx, input.TenantID, input.RecordID)
	if err != nil {
		return nil, err
	}
	return &Output{Record: rec, Superseded: rec.SupersededAt != nil, AuditTrail: trail}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
