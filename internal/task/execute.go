package task

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
	"github.com/GwonsooLee/argoitny-sub004/internal/worker"
)

// SubmissionExecutor runs user code against the stored test cases and writes
// the execution record. Sandbox verdicts (timeout, memory, runtime errors)
// land inside the per-case results; only infrastructure failures retry.
type SubmissionExecutor struct {
	problems domain.ProblemRepository
	cases    domain.TestCaseStore
	runner   domain.Runner
	history  domain.HistoryRepository
	broker   domain.Broker

	runTimeout  time.Duration
	concurrency int
	now         func() time.Time
}

func NewSubmissionExecutor(problems domain.ProblemRepository, cases domain.TestCaseStore, runner domain.Runner, history domain.HistoryRepository, broker domain.Broker, runTimeout time.Duration) *SubmissionExecutor {
	if runTimeout <= 0 {
		runTimeout = 5 * time.Second
	}
	return &SubmissionExecutor{
		problems:    problems,
		cases:       cases,
		runner:      runner,
		history:     history,
		broker:      broker,
		runTimeout:  runTimeout,
		concurrency: 8,
		now:         time.Now,
	}
}

func (e *SubmissionExecutor) Name() string  { return domain.TaskExecuteSubmission }
func (e *SubmissionExecutor) Queue() string { return domain.QueueExecution }
func (e *SubmissionExecutor) Policy() worker.Policy {
	return worker.Policy{MaxRetries: 3, RetryDelay: 30 * time.Second, RetryCap: 10 * time.Minute}
}

func (e *SubmissionExecutor) Run(ctx context.Context, payload json.RawMessage) domain.TaskOutcome {
	var p domain.ExecuteSubmissionPayload
	if err := decode(payload, &p); err != nil {
		return domain.Terminal(err, "invalid execution payload")
	}
	logger := observability.LoggerFromContext(ctx).With(
		slog.String("platform", p.Platform),
		slog.String("problem", p.ProblemIdentifier),
		slog.String("user_id", p.UserID))
	ctx = observability.ContextWithLogger(ctx, logger)

	problem, err := e.problems.Get(ctx, p.Platform, p.ProblemIdentifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Terminal(err, "problem %s/%s missing", p.Platform, p.ProblemIdentifier)
		}
		return classify(err, "load problem")
	}
	cases, err := e.cases.Load(ctx, p.Platform, p.ProblemIdentifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Terminal(err, "no test cases for %s/%s", p.Platform, p.ProblemIdentifier)
		}
		return classify(err, "load test cases")
	}
	if len(cases) == 0 {
		return domain.Terminal(domain.ErrInvalidArgument, "empty test case set")
	}

	results, err := e.runCases(ctx, p, cases)
	if err != nil {
		return classify(err, "run submission")
	}

	passed, failed := 0, 0
	for _, r := range results {
		if r.Passed {
			passed++
		} else {
			failed++
		}
	}
	hist := domain.SearchHistory{
		UserID:        p.UserID,
		UserEmail:     p.UserEmail,
		Platform:      p.Platform,
		ProblemNumber: p.ProblemIdentifier,
		Title:         problem.Title,
		Code:          p.Code,
		Language:      p.Language,
		Public:        p.IsPublic,
		Passed:        passed,
		Failed:        failed,
		Total:         len(results),
		TestResults:   results,
		Timestamp:     e.now().UnixMilli(),
	}
	hist.ResultSummary = hist.Summary()
	id, err := e.history.Create(ctx, hist)
	if err != nil {
		return classify(err, "write history")
	}
	logger.Info("submission executed",
		slog.String("history_id", id),
		slog.Int("passed", passed),
		slog.Int("failed", failed))

	if failed > 0 {
		// Hints are best effort; a broker hiccup here must not re-run the
		// submission and duplicate the history record.
		if _, err := e.broker.Enqueue(ctx, domain.QueueAI, domain.TaskGenerateHints,
			domain.GenerateHintsPayload{HistoryID: id}, domain.EnqueueOptions{}); err != nil {
			logger.Warn("hint task enqueue failed", slog.Any("error", err))
		}
	}
	return domain.Success()
}

func (e *SubmissionExecutor) runCases(ctx context.Context, p domain.ExecuteSubmissionPayload, cases []domain.TestCase) ([]domain.TestCaseResult, error) {
	results := make([]domain.TestCaseResult, len(cases))
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(e.concurrency)
	var mu sync.Mutex
	for i, tc := range cases {
		grp.Go(func() error {
			res, err := e.runner.Run(gctx, domain.RunSpec{
				Code:     p.Code,
				Language: p.Language,
				Stdin:    tc.Input,
				Timeout:  e.runTimeout,
			})
			if err != nil {
				return err
			}
			r := domain.TestCaseResult{
				TestCaseID: tc.ID,
				Output:     res.Stdout,
				Status:     res.Status,
			}
			if res.Status == "ok" {
				r.Passed = strings.TrimSpace(res.Stdout) == strings.TrimSpace(tc.Output)
			} else {
				r.Error = res.Stderr
			}
			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
