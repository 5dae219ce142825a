package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
)

// Source is the broker consumer the pool pulls from.
type Source interface {
	Poll(ctx context.Context, max int) ([]domain.Message, error)
	Ack(ctx context.Context, msg domain.Message) error
	Nack(ctx context.Context, msg domain.Message, delay time.Duration) error
}

// ExhaustedFunc observes a delivery settled after its task-level retries ran
// out, before the ack.
type ExhaustedFunc func(ctx context.Context, msg domain.Message, out domain.TaskOutcome)

// Pool runs up to slots concurrent task executions fed from a single poll
// loop. Prefetch is one message per free slot so a long-running task never
// starves other queues.
type Pool struct {
	src   Source
	reg   *Registry
	slots int
	grace time.Duration

	onExhausted ExhaustedFunc
	onTerminal  ExhaustedFunc

	// seams for tests
	now    func() time.Time
	jitter func(time.Duration) time.Duration
}

func NewPool(src Source, reg *Registry, slots int, grace time.Duration) *Pool {
	if slots <= 0 {
		slots = 1
	}
	if grace <= 0 {
		grace = 120 * time.Second
	}
	return &Pool{
		src:   src,
		reg:   reg,
		slots: slots,
		grace: grace,
		now:   time.Now,
		jitter: func(d time.Duration) time.Duration {
			return d + time.Duration(rand.Int63n(int64(d)/5+1))
		},
	}
}

// OnExhausted installs the observer for deliveries whose task-level retries
// ran out.
func (p *Pool) OnExhausted(fn ExhaustedFunc) { p.onExhausted = fn }

// OnTerminal installs the observer for terminal outcomes.
func (p *Pool) OnTerminal(fn ExhaustedFunc) { p.onTerminal = fn }

// Run polls until ctx is canceled, then stops accepting work and waits up to
// the grace period for in-flight tasks before canceling them. Unacked
// messages redeliver through the broker.
func (p *Pool) Run(ctx context.Context) error {
	taskCtx, cancelTasks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelTasks()

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.slots)

poll:
	for {
		select {
		case <-ctx.Done():
			break poll
		default:
		}
		msgs, err := p.src.Poll(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				break poll
			}
			observability.LoggerFromContext(ctx).Error("poll failed", slog.Any("error", err))
			continue
		}
		for _, msg := range msgs {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				break poll
			}
			wg.Add(1)
			go func(m domain.Message) {
				defer func() { <-sem; wg.Done() }()
				p.dispatch(taskCtx, m)
			}(msg)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.grace):
		cancelTasks()
		<-done
	}
	return ctx.Err()
}

func (p *Pool) dispatch(ctx context.Context, msg domain.Message) {
	logger := observability.LoggerFromContext(ctx).With(
		slog.String("task", msg.TaskName),
		slog.String("queue", msg.Queue),
		slog.String("msg_id", msg.ID),
		slog.Int("attempt", msg.Attempt))
	ctx = observability.ContextWithLogger(ctx, logger)

	reg, ok := p.reg.resolve(msg.TaskName)
	if !ok {
		// Redelivers until the broker dead-letters it.
		logger.Error("no handler registered for task")
		if err := p.src.Nack(ctx, msg, 0); err != nil {
			logger.Error("nack failed", slog.Any("error", err))
		}
		return
	}

	rctx, cancel := context.WithDeadline(ctx, msg.Deadline)
	defer cancel()

	observability.TasksInFlight.WithLabelValues(msg.Queue, msg.TaskName).Inc()
	start := p.now()
	out := p.runHandler(rctx, reg.handler, msg.Payload)
	observability.TaskDuration.WithLabelValues(msg.Queue, msg.TaskName).Observe(time.Since(start).Seconds())
	observability.TasksInFlight.WithLabelValues(msg.Queue, msg.TaskName).Dec()

	p.settle(ctx, msg, reg.policy, out, logger)
}

// runHandler converts a panic into a retryable outcome so one bad payload
// cannot take the slot down.
func (p *Pool) runHandler(ctx context.Context, h Handler, payload []byte) (out domain.TaskOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = domain.Retry(fmt.Errorf("%w: panic: %v", domain.ErrInternal, r), "handler panicked")
		}
	}()
	return h(ctx, payload)
}

func (p *Pool) settle(ctx context.Context, msg domain.Message, pol Policy, out domain.TaskOutcome, logger *slog.Logger) {
	outcome := "success"
	switch out.Kind {
	case domain.OutcomeSuccess:
		if err := p.src.Ack(ctx, msg); err != nil {
			logger.Error("ack failed", slog.Any("error", err))
		}
	case domain.OutcomeRetry:
		if msg.Attempt >= pol.MaxRetries {
			outcome = "exhausted"
			logger.Error("task retries exhausted",
				slog.String("reason", out.Reason), slog.Any("error", out.Err))
			if p.onExhausted != nil {
				p.onExhausted(ctx, msg, out)
			}
			if err := p.src.Ack(ctx, msg); err != nil {
				logger.Error("ack failed", slog.Any("error", err))
			}
			break
		}
		outcome = "retry"
		delay := p.retryDelay(pol, msg.Attempt)
		logger.Warn("task will retry",
			slog.String("reason", out.Reason),
			slog.Duration("delay", delay),
			slog.Any("error", out.Err))
		if err := p.src.Nack(ctx, msg, delay); err != nil {
			logger.Error("nack failed", slog.Any("error", err))
		}
	case domain.OutcomeTerminal:
		outcome = "terminal"
		logger.Error("task failed terminally",
			slog.String("reason", out.Reason), slog.Any("error", out.Err))
		if p.onTerminal != nil {
			p.onTerminal(ctx, msg, out)
		}
		if err := p.src.Ack(ctx, msg); err != nil {
			logger.Error("ack failed", slog.Any("error", err))
		}
	}
	observability.TasksCompletedTotal.WithLabelValues(msg.Queue, msg.TaskName, outcome).Inc()
}

// retryDelay doubles the base per prior attempt, caps it, and adds jitter.
func (p *Pool) retryDelay(pol Policy, attempt int) time.Duration {
	delay := pol.RetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= pol.RetryCap {
			delay = pol.RetryCap
			break
		}
	}
	return p.jitter(delay)
}
