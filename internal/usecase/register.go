package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
)

// RegisterInput starts a problem extraction.
type RegisterInput struct {
	Platform          string `validate:"required"`
	URL               string `validate:"required,url"`
	ProblemIdentifier string `validate:"required"`
}

// RegisterService creates the long-running jobs behind problem registration
// and test-case generation.
type RegisterService struct {
	jobs     domain.JobRepository
	problems domain.ProblemRepository
	plans    domain.PlanRepository
	broker   domain.Broker

	newID func() string
}

func NewRegisterService(jobs domain.JobRepository, problems domain.ProblemRepository, plans domain.PlanRepository, broker domain.Broker) *RegisterService {
	return &RegisterService{
		jobs:     jobs,
		problems: problems,
		plans:    plans,
		broker:   broker,
		newID:    func() string { return ulid.Make().String() },
	}
}

// RegisterProblem creates a PENDING extraction job and enqueues the extract
// task. The caller polls the job for progress.
func (s *RegisterService) RegisterProblem(ctx context.Context, user domain.User, in RegisterInput) (string, error) {
	op := "usecase.register_problem"
	if err := validate.Struct(in); err != nil {
		return "", fmt.Errorf("op=%s: %w: %v", op, domain.ErrValidation, err)
	}
	if err := s.requireRegistrar(ctx, user); err != nil {
		return "", fmt.Errorf("op=%s: %w", op, err)
	}

	jobID := s.newID()
	job := domain.Job{
		ID:                jobID,
		Kind:              domain.JobKindProblemExtraction,
		Platform:          in.Platform,
		ProblemIdentifier: in.ProblemIdentifier,
		URL:               in.URL,
		Status:            domain.JobPending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("op=%s: %w", op, err)
	}

	payload := domain.ExtractProblemPayload{
		JobID:             jobID,
		Platform:          in.Platform,
		URL:               in.URL,
		ProblemIdentifier: in.ProblemIdentifier,
	}
	taskID, err := s.broker.Enqueue(ctx, domain.QueueAI, domain.TaskExtractProblem, payload, domain.EnqueueOptions{})
	if err != nil {
		return "", fmt.Errorf("op=%s: %w", op, err)
	}
	if err := s.jobs.SetBrokerTaskID(ctx, domain.JobKindProblemExtraction, jobID, taskID); err != nil {
		observability.LoggerFromContext(ctx).Warn("failed to record broker task id",
			slog.String("job_id", jobID), slog.Any("error", err))
	}

	observability.LoggerFromContext(ctx).Info("extraction job created",
		slog.String("job_id", jobID), slog.String("platform", in.Platform), slog.String("url", in.URL))
	return jobID, nil
}

// TriggerGeneration creates a script-generation job for an extracted draft.
func (s *RegisterService) TriggerGeneration(ctx context.Context, user domain.User, platform, problemID string) (string, error) {
	op := "usecase.trigger_generation"
	if err := s.requireRegistrar(ctx, user); err != nil {
		return "", fmt.Errorf("op=%s: %w", op, err)
	}
	problem, err := s.problems.Get(ctx, platform, problemID)
	if err != nil {
		return "", fmt.Errorf("op=%s: %w", op, err)
	}
	if problem.Completed {
		return "", fmt.Errorf("op=%s: %w: problem already has test cases", op, domain.ErrInvalidArgument)
	}

	jobID := s.newID()
	job := domain.Job{
		ID:        jobID,
		Kind:      domain.JobKindScriptGeneration,
		Platform:  platform,
		ProblemID: problemID,
		Title:     problem.Title,
		Status:    domain.JobPending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("op=%s: %w", op, err)
	}
	payload := domain.GenerateScriptPayload{JobID: jobID, Platform: platform, ProblemID: problemID}
	taskID, err := s.broker.Enqueue(ctx, domain.QueueGeneration, domain.TaskGenerateScript, payload, domain.EnqueueOptions{})
	if err != nil {
		return "", fmt.Errorf("op=%s: %w", op, err)
	}
	if err := s.jobs.SetBrokerTaskID(ctx, domain.JobKindScriptGeneration, jobID, taskID); err != nil {
		observability.LoggerFromContext(ctx).Warn("failed to record broker task id",
			slog.String("job_id", jobID), slog.Any("error", err))
	}
	return jobID, nil
}

// requireRegistrar allows staff always, everyone else per their plan.
func (s *RegisterService) requireRegistrar(ctx context.Context, user domain.User) error {
	if user.Staff {
		return nil
	}
	plan, err := s.plans.Get(ctx, user.PlanID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: unknown plan %s", domain.ErrInvalidArgument, user.PlanID)
		}
		return err
	}
	if !plan.CanRegister {
		return fmt.Errorf("%w: plan %s cannot register problems", domain.ErrInvalidArgument, plan.ID)
	}
	return nil
}
