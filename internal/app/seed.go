package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

type planSeed struct {
	Plans []struct {
		ID                  string `yaml:"id"`
		Name                string `yaml:"name"`
		MaxHintsPerDay      int    `yaml:"max_hints_per_day"`
		MaxExecutionsPerDay int    `yaml:"max_executions_per_day"`
		MaxProblems         int    `yaml:"max_problems"`
		CanViewAll          bool   `yaml:"can_view_all"`
		CanRegister         bool   `yaml:"can_register"`
	} `yaml:"plans"`
}

// defaultPlans are written when no seed file is configured and the plan table
// is empty.
func defaultPlans() []domain.Plan {
	return []domain.Plan{
		{ID: "free", Name: "Free", MaxHintsPerDay: 5, MaxExecutionsPerDay: 50, MaxProblems: 0},
		{ID: "pro", Name: "Pro", MaxHintsPerDay: 50, MaxExecutionsPerDay: 500, MaxProblems: 100,
			CanViewAll: true, CanRegister: true},
		{ID: "admin", Name: "Admin", MaxHintsPerDay: domain.Unlimited, MaxExecutionsPerDay: domain.Unlimited,
			MaxProblems: domain.Unlimited, CanViewAll: true, CanRegister: true},
	}
}

// seedPlans makes sure the plan table is populated. A configured seed file is
// authoritative and re-applied on every start; without one, built-in defaults
// are written only when no plan exists yet.
func (a *App) seedPlans(ctx context.Context) error {
	op := "app.seed_plans"

	if a.Cfg.PlanSeedPath != "" {
		raw, err := os.ReadFile(a.Cfg.PlanSeedPath)
		if err != nil {
			return fmt.Errorf("op=%s: %w", op, err)
		}
		var seed planSeed
		if err := yaml.Unmarshal(raw, &seed); err != nil {
			return fmt.Errorf("op=%s: %w", op, err)
		}
		for _, p := range seed.Plans {
			plan := domain.Plan{
				ID:                  p.ID,
				Name:                p.Name,
				MaxHintsPerDay:      p.MaxHintsPerDay,
				MaxExecutionsPerDay: p.MaxExecutionsPerDay,
				MaxProblems:         p.MaxProblems,
				CanViewAll:          p.CanViewAll,
				CanRegister:         p.CanRegister,
			}
			if err := a.Plans.Put(ctx, plan); err != nil {
				return fmt.Errorf("op=%s: %w", op, err)
			}
		}
		a.Log.Info("plans seeded from file",
			slog.String("path", a.Cfg.PlanSeedPath), slog.Int("count", len(seed.Plans)))
		return nil
	}

	existing, err := a.Plans.List(ctx)
	if err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, plan := range defaultPlans() {
		if err := a.Plans.Put(ctx, plan); err != nil {
			return fmt.Errorf("op=%s: %w", op, err)
		}
	}
	a.Log.Info("default plans seeded")
	return nil
}
