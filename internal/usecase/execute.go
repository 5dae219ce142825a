// Package usecase exposes the application services the transport layer calls.
// Each service validates its input, applies quota and ownership rules, and
// delegates the heavy lifting to background tasks through the broker.
package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ExecuteInput is one submission run request.
type ExecuteInput struct {
	Platform          string `validate:"required"`
	ProblemIdentifier string `validate:"required"`
	Code              string `validate:"required"`
	Language          string `validate:"required"`
	IsPublic          bool
}

// ExecuteResult carries the queued task id plus the quota snapshot the caller
// displays.
type ExecuteResult struct {
	TaskID string
	Usage  domain.UsageDecision
}

// ExecuteService accepts submission runs: rate check, enqueue, usage record.
type ExecuteService struct {
	problems domain.ProblemRepository
	broker   domain.Broker
	limiter  domain.RateLimiter
}

func NewExecuteService(problems domain.ProblemRepository, broker domain.Broker, limiter domain.RateLimiter) *ExecuteService {
	return &ExecuteService{problems: problems, broker: broker, limiter: limiter}
}

// Execute validates the request, charges the execution quota, and enqueues
// the submission task. The returned decision reflects the count before this
// run.
func (s *ExecuteService) Execute(ctx context.Context, user domain.User, in ExecuteInput) (ExecuteResult, error) {
	op := "usecase.execute"
	if err := validate.Struct(in); err != nil {
		return ExecuteResult{}, fmt.Errorf("op=%s: %w: %v", op, domain.ErrValidation, err)
	}

	problem, err := s.problems.Get(ctx, in.Platform, in.ProblemIdentifier)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if !problem.Completed {
		return ExecuteResult{}, fmt.Errorf("op=%s: %w: problem is not ready for execution", op, domain.ErrInvalidArgument)
	}

	dec, err := s.limiter.Check(ctx, user, domain.UsageExecution)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if !dec.Allowed {
		return ExecuteResult{Usage: dec}, fmt.Errorf("op=%s: %w: execution quota reached, resets %s",
			op, domain.ErrRateLimited, dec.ResetAt.Format("2006-01-02T15:04:05Z07:00"))
	}

	payload := domain.ExecuteSubmissionPayload{
		Platform:          in.Platform,
		ProblemIdentifier: in.ProblemIdentifier,
		Code:              in.Code,
		Language:          in.Language,
		UserID:            user.ID,
		UserEmail:         user.Email,
		IsPublic:          in.IsPublic,
	}
	taskID, err := s.broker.Enqueue(ctx, domain.QueueExecution, domain.TaskExecuteSubmission, payload, domain.EnqueueOptions{})
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("op=%s: %w", op, err)
	}
	s.limiter.Record(ctx, user, domain.UsageExecution, in.Platform+"#"+in.ProblemIdentifier)

	observability.LoggerFromContext(ctx).Info("submission enqueued",
		slog.String("task_id", taskID),
		slog.String("platform", in.Platform),
		slog.String("problem", in.ProblemIdentifier),
		slog.String("user_id", user.ID))
	return ExecuteResult{TaskID: taskID, Usage: dec}, nil
}
