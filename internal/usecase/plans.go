package usecase

import (
	"context"
	"fmt"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

// PlanService lists the subscription plans.
type PlanService struct {
	plans domain.PlanRepository
}

func NewPlanService(plans domain.PlanRepository) *PlanService {
	return &PlanService{plans: plans}
}

func (s *PlanService) List(ctx context.Context) ([]domain.Plan, error) {
	plans, err := s.plans.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.list_plans: %w", err)
	}
	return plans, nil
}

func (s *PlanService) Get(ctx context.Context, id string) (domain.Plan, error) {
	plan, err := s.plans.Get(ctx, id)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("op=usecase.get_plan: %w", err)
	}
	return plan, nil
}
