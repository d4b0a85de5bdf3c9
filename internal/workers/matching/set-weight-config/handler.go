package setweightconfig

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

const TaskType = "set-weight-config"

type Handler struct {
	config  *Config
	configs matching.ConfigProvider
	jobs    *jobkit.Runner
	logger  logger.Logger
}

func NewHandler(config *Config, configs matching.ConfigProvider, validator *validation.Validator, log logger.Logger) *Handler {
	jobs := jobkit.NewRunner(TaskType, validator, log)
	return &Handler{config: config, configs: configs, jobs: jobs, logger: jobs.Logger()}
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
	if input.Weights != nil {
		res, err := validation.ValidateDocument(weightsSchema(), input.Weights)
		if err != nil {
			return nil, errors.NewInternalError(err)
		}
		if !res.Valid {
			return nil, errors.NewInvalidWeightConfigError(res.Summary())
		}
	}

	active, err := h.configs.Current(ctx, input.TenantID)
	if err != nil {
		return nil, err
	}

	next := active.Clone()
	// A partial update is pinned to the version it was read from.
	next.Version = active.Version
	if input.ExpectedVersion != 0 {
		next.Version = input.ExpectedVersion
	}
	if input.Weights != nil {
		next.Weights = input.Weights
	}
	if input.BrokerApproval != nil {
		next.BrokerApproval = *input.BrokerApproval
	}
	if input.MinScore != nil {
		next.MinScore = *input.MinScore
	}
	if input.HotThreshold != nil {
		next.HotThreshold = *input.HotThreshold
	}
	if input.MaxDistanceKm != nil {
		next.MaxDistanceKm = *input.MaxDistanceKm
	}
	next.UpdatedBy = input.UpdatedBy

	stored, err := h.configs.Replace(ctx, input.TenantID, next)
	if err != nil {
		return nil, err
	}

	h.logger.Info("weight config replaced", map[string]interface{}{
		"tenantId":        input.TenantID,
		"version":         stored.Version,
		"previousVersion": active.Version,
		"brokerApproval":  stored.BrokerApproval,
		"updatedBy":       stored.UpdatedBy,
	})
	return &Output{Config: stored, PreviousVersion: active.Version}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

// weightsSchema accepts only known factor names with weights in [0,1].
// The sum rule is checked by the config itself.
func weightsSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(matching.KnownFactors))
	for _, f := range matching.KnownFactors {
		props[f] = map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1}
	}
	return map[string]interface{}{
		"type":                 "object",
		"minProperties":        1,
		"properties":           props,
		"additionalProperties": false,
	}
}
