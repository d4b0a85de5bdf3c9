// Package jobkit holds the job plumbing shared by the matching workers:
// variable decoding against the registry schema, error mapping and job
// completion.
package jobkit

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	stderrors "errors"
	"net"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/lib/pq"

	"matching-workers/internal/attributes"
	"matching-workers/internal/common/auth"
	"matching-workers/internal/common/errors"
	"matching-workers/internal/common/logger"
	"matching-workers/internal/common/metrics"
	"matching-workers/internal/common/validation"
	"matching-workers/internal/matching"
)

// Runner finishes jobs of one task type.
type Runner struct {
	taskType  string
	validator *validation.Validator
	errors    *errors.ErrorHandler
	logger    logger.Logger
}

// NewRunner returns a runner; a nil validator skips schema checks.
func NewRunner(taskType string, validator *validation.Validator, log logger.Logger) *Runner {
	log = log.WithFields(map[string]interface{}{"taskType": taskType})
	return &Runner{
		taskType:  taskType,
		validator: validator,
		errors:    errors.NewErrorHandler(log),
		logger:    log,
	}
}

func (r *Runner) Logger() logger.Logger { return r.logger }

// Decode validates the job variables and unmarshals them into out.
func (r *Runner) Decode(job entities.Job, out interface{}) error {
	vars := job.GetVariables()
	if r.validator != nil {
		res, err := r.validator.ValidateJSON(r.taskType, vars)
		if err != nil {
			return errors.NewInvalidInputError(err.Error())
		}
		if !res.Valid {
			e := errors.NewInvalidInputError(res.Summary())
			e.Metadata = map[string]interface{}{"validationErrors": res.Errors}
			return e
		}
	}
	if vars == "" {
		vars = "{}"
	}
	if err := json.Unmarshal([]byte(vars), out); err != nil {
		return errors.NewInvalidInputError(err.Error())
	}
	return nil
}

// Complete sends output as the job's result variables.
func (r *Runner) Complete(ctx context.Context, client worker.JobClient, job entities.Job, output interface{}) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.GetKey()).
		VariablesFromObject(output)
	if err != nil {
		r.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		metrics.WorkerJobsFailed.WithLabelValues(r.taskType, "COMPLETE_FAILED").Inc()
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		r.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		metrics.WorkerJobsFailed.WithLabelValues(r.taskType, "COMPLETE_FAILED").Inc()
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(r.taskType).Inc()
}

// Fail maps err to a StandardError and fails or throws the job.
func (r *Runner) Fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	stdErr := MapError(err)
	metrics.WorkerJobsFailed.WithLabelValues(r.taskType, string(stdErr.Code)).Inc()
	// The job context may already be past its deadline.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	r.errors.HandleJobError(sendCtx, client, job, stdErr)
}

// MapError translates domain and infrastructure errors to StandardErrors.
func MapError(err error) *errors.StandardError {
	var stdErr *errors.StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	var pqErr *pq.Error
	var netErr net.Error

	switch {
	case stderrors.Is(err, matching.ErrEntityNotFound):
		return errors.NewEntityNotFoundError(err.Error())
	case stderrors.Is(err, matching.ErrRecordNotFound):
		return errors.NewRecordNotFoundError(err.Error())
	case stderrors.Is(err, matching.ErrApprovalConflict):
		return errors.NewApprovalConflictError(err.Error())
	case stderrors.Is(err, matching.ErrUnauthorized),
		stderrors.Is(err, auth.ErrTokenInactive),
		stderrors.Is(err, auth.ErrMissingRole):
		return errors.NewUnauthorizedReviewerError(err.Error())
	case stderrors.Is(err, matching.ErrConfigVersionMismatch):
		return errors.NewConfigVersionMismatchError(err.Error())
	case stderrors.Is(err, matching.ErrInvalidWeightConfig):
		return errors.NewInvalidWeightConfigError(err.Error())
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewScoringTimeoutError(err)
	case stderrors.Is(err, attributes.ErrSearchFailed):
		return errors.NewSearchQueryFailedError(err)
	case stderrors.Is(err, driver.ErrBadConn), stderrors.As(err, &netErr):
		return errors.NewDatabaseConnectionFailedError(err)
	case stderrors.As(err, &pqErr):
		return errors.NewQueryExecutionFailedError(pqErr.Code.Name(), err)
	default:
		return errors.NewInternalError(err)
	}
}
