package task

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
	"github.com/GwonsooLee/argoitny-sub004/internal/worker"
)

// JobDeleter removes a job item together with its progress partition. Missing
// rows are fine; a re-run of a finished delete is a no-op.
type JobDeleter struct {
	jobs     domain.JobRepository
	progress domain.ProgressRepository
}

func NewJobDeleter(jobs domain.JobRepository, progress domain.ProgressRepository) *JobDeleter {
	return &JobDeleter{jobs: jobs, progress: progress}
}

func (d *JobDeleter) Name() string  { return domain.TaskDeleteJob }
func (d *JobDeleter) Queue() string { return domain.QueueJobs }
func (d *JobDeleter) Policy() worker.Policy {
	return worker.Policy{MaxRetries: 3, RetryDelay: 30 * time.Second, RetryCap: 5 * time.Minute}
}

func (d *JobDeleter) Run(ctx context.Context, payload json.RawMessage) domain.TaskOutcome {
	var p domain.DeleteJobPayload
	if err := decode(payload, &p); err != nil {
		return domain.Terminal(err, "invalid delete payload")
	}
	logger := observability.LoggerFromContext(ctx).With(
		slog.String("kind", string(p.Kind)), slog.String("job_id", p.JobID))

	if err := d.progress.DeleteAll(ctx, p.Kind, p.JobID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return classify(err, "delete progress rows")
	}
	if err := d.jobs.Delete(ctx, p.Kind, p.JobID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return classify(err, "delete job")
	}
	logger.Info("job deleted")
	return domain.Success()
}
