// The worker process: consumes task queues, runs the maintenance schedulers,
// and exposes the metrics endpoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/GwonsooLee/argoitny-sub004/internal/app"
	"github.com/GwonsooLee/argoitny-sub004/internal/config"
	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
	"github.com/GwonsooLee/argoitny-sub004/internal/task"
	"github.com/GwonsooLee/argoitny-sub004/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := observability.SetupLogger(cfg)
	observability.InitMetrics()

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		log.Error("failed to set up tracing", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.ContextWithLogger(ctx, log)

	a, err := app.Init(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", slog.Any("error", err))
		os.Exit(1)
	}
	defer a.Shutdown()

	consumer, err := a.NewConsumer()
	if err != nil {
		log.Error("failed to join consumer group", slog.Any("error", err))
		os.Exit(1)
	}
	defer consumer.Close()

	reg := worker.NewRegistry()
	task.RegisterAll(reg,
		task.NewExtractor(a.Jobs, a.Progress, a.Problems, a.Fetcher, a.Gateway, int64(cfg.ExtractSemaphore)),
		task.NewScriptGenerator(a.Jobs, a.Progress, a.Problems, a.Gateway, a.Runner, a.TestCases,
			cfg.TestCaseMaxCount, cfg.RunnerDefaultTimeout),
		task.NewOutputsGenerator(a.Problems, a.TestCases, a.Runner, cfg.RunnerDefaultTimeout),
		task.NewSubmissionExecutor(a.Problems, a.TestCases, a.Runner, a.History, a.Broker, cfg.RunnerDefaultTimeout),
		task.NewHintGenerator(a.History, a.Problems, a.Gateway),
		task.NewJobDeleter(a.Jobs, a.Progress),
		task.NewOrphanRecoverer(a.Jobs, a.Progress, a.Problems, cfg.OrphanRecoveryThreshold),
	)

	pool := worker.NewPool(consumer, reg, cfg.PoolSize(), cfg.WorkerShutdownGrace)
	pool.OnExhausted(failJob(a, "retries exhausted"))
	pool.OnTerminal(failJob(a, ""))
	consumer.OnDeadLetter(func(ctx context.Context, msg domain.Message, reason string) {
		markJobFailed(ctx, a, msg, reason)
	})

	go a.RunOrphanScheduler(ctx)
	go a.RunTTLReaper(ctx)
	go func() {
		if err := a.ServeMetrics(ctx); err != nil {
			log.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	log.Info("worker started",
		slog.Int("slots", cfg.PoolSize()),
		slog.Any("queues", reg.Queues()))
	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("worker stopped")
}

// failJob marks the job referenced by a settled-for-good delivery FAILED.
func failJob(a *app.App, reason string) worker.ExhaustedFunc {
	return func(ctx context.Context, msg domain.Message, out domain.TaskOutcome) {
		r := reason
		if r == "" {
			r = out.Reason
		}
		markJobFailed(ctx, a, msg, r)
	}
}

// markJobFailed resolves the job id from the payload of job-bound tasks and
// transitions it PROCESSING -> FAILED. Tasks without a job are ignored.
func markJobFailed(ctx context.Context, a *app.App, msg domain.Message, reason string) {
	var kind domain.JobKind
	switch msg.TaskName {
	case domain.TaskExtractProblem:
		kind = domain.JobKindProblemExtraction
	case domain.TaskGenerateScript:
		kind = domain.JobKindScriptGeneration
	default:
		return
	}
	var ref struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(msg.Payload, &ref); err != nil || ref.JobID == "" {
		return
	}
	err := a.Jobs.Transition(ctx, kind, ref.JobID, domain.JobProcessing, domain.JobFailed, reason)
	if err != nil && !errors.Is(err, domain.ErrPreconditionFailed) && !errors.Is(err, domain.ErrNotFound) {
		a.Log.Error("failed to mark job failed",
			slog.String("job_id", ref.JobID), slog.Any("error", err))
	}
}
