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

const recoverPageSize = 100

// OrphanRecoverer fails PROCESSING jobs whose worker died: anything not
// touched within the threshold transitions to FAILED with reason orphaned.
// The conditional transition makes concurrent sweeps and still-alive workers
// safe; losing the race is a no-op.
type OrphanRecoverer struct {
	jobs     domain.JobRepository
	progress domain.ProgressRepository
	problems domain.ProblemRepository

	threshold time.Duration
	now       func() time.Time
}

func NewOrphanRecoverer(jobs domain.JobRepository, progress domain.ProgressRepository, problems domain.ProblemRepository, threshold time.Duration) *OrphanRecoverer {
	if threshold <= 0 {
		threshold = 30 * time.Minute
	}
	return &OrphanRecoverer{
		jobs:      jobs,
		progress:  progress,
		problems:  problems,
		threshold: threshold,
		now:       time.Now,
	}
}

func (r *OrphanRecoverer) Name() string  { return domain.TaskRecoverOrphans }
func (r *OrphanRecoverer) Queue() string { return domain.QueueMaintenance }
func (r *OrphanRecoverer) Policy() worker.Policy {
	return worker.Policy{MaxRetries: 1, RetryDelay: time.Minute, RetryCap: time.Minute}
}

func (r *OrphanRecoverer) Run(ctx context.Context, payload json.RawMessage) domain.TaskOutcome {
	var p domain.RecoverOrphansPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return domain.Terminal(err, "invalid recovery payload")
		}
	}
	threshold := r.threshold
	if p.ThresholdSeconds > 0 {
		threshold = time.Duration(p.ThresholdSeconds) * time.Second
	}
	cutoff := r.now().Add(-threshold)

	recovered := 0
	for _, kind := range []domain.JobKind{domain.JobKindProblemExtraction, domain.JobKindScriptGeneration} {
		n, err := r.sweep(ctx, kind, cutoff)
		if err != nil {
			return classify(err, "sweep %s jobs", kind)
		}
		recovered += n
	}
	observability.LoggerFromContext(ctx).Info("orphan sweep finished",
		slog.Int("recovered", recovered), slog.Time("cutoff", cutoff))
	return domain.Success()
}

func (r *OrphanRecoverer) sweep(ctx context.Context, kind domain.JobKind, cutoff time.Time) (int, error) {
	logger := observability.LoggerFromContext(ctx)
	recovered := 0
	cursor := ""
	for {
		page, err := r.jobs.ListByStatus(ctx, kind, domain.JobProcessing, cursor, recoverPageSize)
		if err != nil {
			return recovered, err
		}
		for _, job := range page.Items {
			if !job.UpdatedAt.Before(cutoff) {
				continue
			}
			if err := r.recover(ctx, kind, job); err != nil {
				logger.Error("orphan recovery failed for job",
					slog.String("kind", string(kind)),
					slog.String("job_id", job.ID),
					slog.Any("error", err))
				continue
			}
			recovered++
		}
		if page.NextCursor == "" {
			return recovered, nil
		}
		cursor = page.NextCursor
	}
}

func (r *OrphanRecoverer) recover(ctx context.Context, kind domain.JobKind, job domain.Job) error {
	err := r.jobs.Transition(ctx, kind, job.ID, domain.JobProcessing, domain.JobFailed, "orphaned")
	if errors.Is(err, domain.ErrPreconditionFailed) {
		// Someone else settled it between the list and the transition.
		return nil
	}
	if err != nil {
		return err
	}
	row := domain.ProgressRow{
		Step:      "recover",
		Message:   "job orphaned, marked failed",
		Status:    domain.ProgressFailed,
		CreatedAt: r.now(),
	}
	if err := r.progress.Append(ctx, kind, job.ID, row); err != nil {
		observability.LoggerFromContext(ctx).Warn("progress append failed",
			slog.String("job_id", job.ID), slog.Any("error", err))
	}
	if kind == domain.JobKindProblemExtraction && job.Platform != "" && job.ProblemIdentifier != "" {
		err := r.problems.UpdateFields(ctx, job.Platform, job.ProblemIdentifier,
			map[string]any{"nrv": true}, domain.CondExists())
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return nil
}
