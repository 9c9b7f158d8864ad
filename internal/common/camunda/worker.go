// internal/common/camunda/worker.go
package camunda

import (
	"time"

	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandler processes one activated job. Handlers complete or fail the job
// themselves; a returned error is only logged and counted.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job) error
}

type Worker struct {
	worker   worker.JobWorker
	log      logger.Logger
	taskType string
}

func NewWorker(
	client zbc.Client,
	taskType string,
	maxJobsActive int,
	timeout time.Duration,
	handler JobHandler,
	log logger.Logger,
) *Worker {
	log = logger.Component(log, "camunda-worker").With(map[string]interface{}{"task_type": taskType})

	builder := client.NewJobWorker().
		JobType(taskType).
		Handler(func(c worker.JobClient, job entities.Job) {
			if err := handler.Handle(c, job); err != nil {
				metrics.WorkerJobs.WithLabelValues(taskType, "error").Inc()
				log.Error("handler returned error", map[string]interface{}{
					"job_key": job.Key,
					"error":   err.Error(),
				})
				return
			}
			metrics.WorkerJobs.WithLabelValues(taskType, "handled").Inc()
		}).
		MaxJobsActive(maxJobsActive)
	if timeout > 0 {
		builder = builder.Timeout(timeout)
	}

	w := &Worker{
		worker:   builder.Open(),
		log:      log,
		taskType: taskType,
	}
	log.Info("worker started", nil)
	return w
}

func (w *Worker) TaskType() string {
	return w.taskType
}

func (w *Worker) Close() {
	w.log.Info("stopping worker", nil)
	w.worker.Close()
	w.worker.AwaitClose()
}
