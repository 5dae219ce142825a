package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
)

// recordTimeout bounds the detached fire-and-forget ledger write.
const recordTimeout = 10 * time.Second

// Limiter implements domain.RateLimiter: plan quota vs the daily ledger
// count, cached. Quotas are UTC-day buckets; -1 means unlimited and 0 denies
// outright, neither touches the ledger.
type Limiter struct {
	plans domain.PlanRepository
	usage domain.UsageRepository
	cache *CountCache
	now   func() time.Time
}

func NewLimiter(plans domain.PlanRepository, usageRepo domain.UsageRepository, cache *CountCache) *Limiter {
	return &Limiter{plans: plans, usage: usageRepo, cache: cache, now: time.Now}
}

func quotaFor(plan domain.Plan, action domain.UsageAction) int {
	switch action {
	case domain.UsageHint:
		return plan.MaxHintsPerDay
	case domain.UsageExecution:
		return plan.MaxExecutionsPerDay
	}
	return 0
}

func (l *Limiter) Check(ctx domain.Context, user domain.User, action domain.UsageAction) (domain.UsageDecision, error) {
	op := "usage.check"
	now := l.now()
	reset := domain.NextUTCMidnight(now)

	plan, err := l.plans.Get(ctx, user.PlanID)
	if err != nil {
		return domain.UsageDecision{}, fmt.Errorf("op=%s: %w", op, err)
	}
	quota := quotaFor(plan, action)

	if quota == domain.Unlimited {
		observability.RateLimitDecisionsTotal.WithLabelValues(string(action), "allow").Inc()
		return domain.UsageDecision{Allowed: true, Limit: quota, ResetAt: reset}, nil
	}
	if quota == 0 {
		observability.RateLimitDecisionsTotal.WithLabelValues(string(action), "deny").Inc()
		return domain.UsageDecision{Allowed: false, Limit: quota, ResetAt: reset}, nil
	}

	date := domain.UsageDate(now)
	count, ok := l.cache.Get(ctx, user.ID, action, date)
	if !ok {
		count, err = l.usage.Count(ctx, user.ID, action, date)
		if err != nil {
			return domain.UsageDecision{}, fmt.Errorf("op=%s: %w", op, err)
		}
		l.cache.Set(ctx, user.ID, action, date, count, quota)
	}

	allowed := count < quota
	outcome := "allow"
	if !allowed {
		outcome = "deny"
	}
	observability.RateLimitDecisionsTotal.WithLabelValues(string(action), outcome).Inc()
	return domain.UsageDecision{Allowed: allowed, CurrentCount: count, Limit: quota, ResetAt: reset}, nil
}

// Record appends the ledger row on a detached context so a slow or failing
// write never blocks the user action. The cached count is bumped first so the
// next check observes this action immediately.
func (l *Limiter) Record(ctx domain.Context, user domain.User, action domain.UsageAction, problem string) {
	now := l.now()
	date := domain.UsageDate(now)
	l.cache.Bump(ctx, user.ID, action, date)

	logger := observability.LoggerFromContext(ctx)
	detached := observability.ContextWithLogger(context.WithoutCancel(ctx), logger)
	go func() {
		wctx, cancel := context.WithTimeout(detached, recordTimeout)
		defer cancel()
		err := l.usage.Append(wctx, domain.UsageLog{
			UserID:    user.ID,
			Action:    action,
			Problem:   problem,
			CreatedAt: now.Unix(),
			TTL:       now.Unix() + domain.UsageRetentionSeconds,
		})
		if err != nil {
			observability.UsageLogFailuresTotal.Inc()
			logger.Error("usage log append failed",
				slog.String("user_id", user.ID),
				slog.String("action", string(action)),
				slog.Any("error", err))
		}
	}()
}
