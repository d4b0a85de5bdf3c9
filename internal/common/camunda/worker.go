package camunda

import (
	"context"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"matching-workers/internal/common/config"
	"matching-workers/internal/common/logger"
	"matching-workers/internal/common/metrics"
	"matching-workers/internal/common/observability"
)

// JobHandlerFunc completes, fails or throws the job itself.
type JobHandlerFunc func(client worker.JobClient, job entities.Job)

type Worker struct {
	worker   worker.JobWorker
	logger   logger.Logger
	taskType string
}

// StartWorker opens a job worker for taskType. It returns nil when the
// worker is disabled in config.
func StartWorker(client zbc.Client, taskType string, wcfg config.WorkerConfig, handler JobHandlerFunc, obs *observability.Observability, log logger.Logger) *Worker {
	log = log.WithFields(map[string]interface{}{"taskType": taskType})
	if !wcfg.Enabled {
		log.Info("worker disabled", nil)
		return nil
	}

	jobWorker := client.NewJobWorker().
		JobType(taskType).
		Handler(worker.JobHandler(Instrument(taskType, handler, obs, log))).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()

	log.Info("worker started", map[string]interface{}{
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
	return &Worker{worker: jobWorker, logger: log, taskType: taskType}
}

// Instrument wraps handler with a span, duration metrics and panic recovery.
// A panicking job is left to time out so Zeebe hands it out again.
func Instrument(taskType string, handler JobHandlerFunc, obs *observability.Observability, log logger.Logger) JobHandlerFunc {
	return func(client worker.JobClient, job entities.Job) {
		start := time.Now()
		status := "handled"
		ctx := context.Background()
		var span trace.Span
		if obs != nil {
			ctx, span = obs.StartSpan(ctx, taskType, jobAttributes(taskType, job)...)
		}

		defer func() {
			if r := recover(); r != nil {
				status = "panic"
				log.Error("job handler panicked", map[string]interface{}{
					"jobKey": job.Key,
					"panic":  fmt.Sprint(r),
				})
			}
			elapsed := time.Since(start)
			metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
			if obs != nil {
				obs.RecordJobProcessed(ctx, taskType, status)
				obs.RecordJobDuration(ctx, taskType, elapsed, status)
				span.SetAttributes(attribute.String("job.status", status))
				span.End()
			}
		}()

		handler(client, job)
	}
}

func (w *Worker) Stop() {
	if w == nil {
		return
	}
	w.logger.Info("stopping worker", nil)
	w.worker.Close()
	w.worker.AwaitClose()
}

func jobAttributes(taskType string, job entities.Job) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("zeebe.task_type", taskType),
		attribute.Int64("zeebe.job_key", job.Key),
		attribute.Int64("zeebe.process_instance_key", job.ProcessInstanceKey),
		attribute.Int("zeebe.retries", int(job.Retries)),
	}
}
