package usecase

import (
	"context"
	"fmt"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

// JobView is the job snapshot callers poll, progress rows included.
type JobView struct {
	Job      domain.Job
	Progress []domain.ProgressRow
}

// JobService serves job polling and the admin-only delete.
type JobService struct {
	jobs     domain.JobRepository
	progress domain.ProgressRepository
	broker   domain.Broker
}

func NewJobService(jobs domain.JobRepository, progress domain.ProgressRepository, broker domain.Broker) *JobService {
	return &JobService{jobs: jobs, progress: progress, broker: broker}
}

// Get returns the job with its progress trail.
func (s *JobService) Get(ctx context.Context, kind domain.JobKind, id string) (JobView, error) {
	op := "usecase.get_job"
	job, err := s.jobs.Get(ctx, kind, id)
	if err != nil {
		return JobView{}, fmt.Errorf("op=%s: %w", op, err)
	}
	rows, err := s.progress.List(ctx, kind, id)
	if err != nil {
		return JobView{}, fmt.Errorf("op=%s: %w", op, err)
	}
	return JobView{Job: job, Progress: rows}, nil
}

// List pages jobs of one kind and status, newest first.
func (s *JobService) List(ctx context.Context, kind domain.JobKind, status domain.JobStatus, cursor string, limit int) (domain.Page[domain.Job], error) {
	page, err := s.jobs.ListByStatus(ctx, kind, status, cursor, limit)
	if err != nil {
		return domain.Page[domain.Job]{}, fmt.Errorf("op=usecase.list_jobs: %w", err)
	}
	return page, nil
}

// Delete enqueues the background deletion of a job and its progress rows.
// Staff only.
func (s *JobService) Delete(ctx context.Context, user domain.User, kind domain.JobKind, id string) error {
	op := "usecase.delete_job"
	if !user.Staff {
		return fmt.Errorf("op=%s: %w: staff only", op, domain.ErrInvalidArgument)
	}
	if _, err := s.jobs.Get(ctx, kind, id); err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	payload := domain.DeleteJobPayload{Kind: kind, JobID: id}
	if _, err := s.broker.Enqueue(ctx, domain.QueueJobs, domain.TaskDeleteJob, payload, domain.EnqueueOptions{}); err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	return nil
}
