package rescoretenant

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

const TaskType = "rescore-tenant"

type Rescorer interface {
	Rescore(ctx context.Context, tenantID string, subjectIDs []string) (matching.RescoreReport, error)
}

// MemberLister supplies the subjects when the job names none.
type MemberLister interface {
	ActiveMembers(ctx context.Context, tenantID string) ([]string, error)
}

type Handler struct {
	config   *Config
	rescorer Rescorer
	members  MemberLister
	jobs     *jobkit.Runner
	logger   logger.Logger
}

func NewHandler(config *Config, rescorer Rescorer, members MemberLister, validator *validation.Validator, log logger.Logger) *Handler {
	jobs := jobkit.NewRunner(TaskType, validator, log)
	return &Handler{config: config, rescorer: rescorer, members: members, jobs: jobs, logger: jobs.Logger()}
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

	subjects := input.SubjectIDs
	if len(subjects) == 0 {
		if h.members == nil {
			return nil, errors.NewInvalidInputError("subjectIds is required")
		}
		ids, err := h.members.ActiveMembers(ctx, input.TenantID)
		if err != nil {
			return nil, err
		}
		subjects = ids
	}
	if h.config.MaxSubjects > 0 && len(subjects) > h.config.MaxSubjects {
		subjects = subjects[:h.config.MaxSubjects]
	}

	report, err := h.rescorer.Rescore(ctx, input.TenantID, subjects)
	if err != nil {
		return nil, err
	}

	out := &Output{
		Report:    report,
		Remaining: report.Subjects - report.Completed - report.Failed,
	}
	h.logger.Info("tenant rescored", map[string]interface{}{
		"tenantId":  input.TenantID,
		"subjects":  report.Subjects,
		"completed": report.Completed,
		"failed":    report.Failed,
		"remaining": out.Remaining,
		"cancelled": report.Cancelled,
	})
	return out, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
