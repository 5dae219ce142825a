package usecase

import (
	"context"
	"fmt"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

// HintResult is the hint lookup response: either the hints or a pending
// marker while the background task is still working.
type HintResult struct {
	Hints   []string
	Pending bool
}

// HintService serves the one-shot hints attached to a failed run. Reading
// hints is the rate-limited action; generation already happened in the
// background.
type HintService struct {
	history domain.HistoryRepository
	limiter domain.RateLimiter
}

func NewHintService(history domain.HistoryRepository, limiter domain.RateLimiter) *HintService {
	return &HintService{history: history, limiter: limiter}
}

func (s *HintService) Get(ctx context.Context, user domain.User, historyID string) (HintResult, error) {
	op := "usecase.get_hints"
	h, err := s.history.Get(ctx, historyID)
	if err != nil {
		return HintResult{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if h.UserID != user.ID && !user.Staff {
		return HintResult{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
	}
	if h.Failed == 0 {
		return HintResult{}, fmt.Errorf("op=%s: %w: run passed, no hints to give", op, domain.ErrInvalidArgument)
	}
	if len(h.Hints) == 0 {
		return HintResult{Pending: true}, nil
	}

	dec, err := s.limiter.Check(ctx, user, domain.UsageHint)
	if err != nil {
		return HintResult{}, fmt.Errorf("op=%s: %w", op, err)
	}
	if !dec.Allowed {
		return HintResult{}, fmt.Errorf("op=%s: %w: hint quota reached, resets %s",
			op, domain.ErrRateLimited, dec.ResetAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	s.limiter.Record(ctx, user, domain.UsageHint, h.Platform+"#"+h.ProblemNumber)
	return HintResult{Hints: h.Hints}, nil
}
