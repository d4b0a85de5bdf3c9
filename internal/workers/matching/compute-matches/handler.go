package computematches

import (
	"context"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"matching-workers/internal/common/errors"
	"matching-workers/internal/common/logger"
	"matching-workers/internal/common/validation"
	"matching-workers/internal/matching"
	"matching-workers/internal/models"
	"matching-workers/internal/workers/matching/jobkit"
)

const TaskType = "compute-matches"

type Matcher interface {
	MatchSubject(ctx context.Context, req matching.MatchRequest) (matching.MatchResult, error)
}

type Handler struct {
	config  *Config
	matcher Matcher
	jobs    *jobkit.Runner
	logger  logger.Logger
}

func NewHandler(config *Config, matcher Matcher, validator *validation.Validator, log logger.Logger) *Handler {
	jobs := jobkit.NewRunner(TaskType, validator, log)
	return &Handler{config: config, matcher: matcher, jobs: jobs, logger: jobs.Logger()}
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
	if input.TenantID == "" || input.SubjectID == "" {
		return nil, errors.NewInvalidInputError("tenantId and subjectId are required")
	}
	kinds := make([]matching.CandidateKind, 0, len(input.Kinds))
	for _, k := range input.Kinds {
		kind := models.EntityKind(k)
		if !kind.Valid() {
			return nil, errors.NewInvalidInputError(fmt.Sprintf("unknown candidate kind %q", k))
		}
		kinds = append(kinds, kind)
	}
	limit := input.Limit
	if limit <= 0 || limit > h.config.MaxLimit {
		limit = h.config.MaxLimit
	}

	res, err := h.matcher.MatchSubject(ctx, matching.MatchRequest{
		TenantID:      input.TenantID,
		SubjectID:     input.SubjectID,
		Kinds:         kinds,
		Categories:    input.Categories,
		Limit:         limit,
		IncludeHidden: input.IncludeHidden,
		ForceRefresh:  input.ForceRefresh,
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("matches computed", map[string]interface{}{
		"tenantId":      input.TenantID,
		"subjectId":     input.SubjectID,
		"matches":       len(res.Matches),
		"scored":        res.Scored,
		"cacheHits":     res.CacheHits,
		"configVersion": res.ConfigVersion,
	})

	return &Output{
		Matches:        res.Matches,
		MatchCount:     len(res.Matches),
		ConfigVersion:  res.ConfigVersion,
		Considered:     res.Considered,
		Scored:         res.Scored,
		CacheHits:      res.CacheHits,
		Skipped:        res.Skipped,
		BelowThreshold: res.BelowThreshold,
	}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
