package task

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
	"github.com/GwonsooLee/argoitny-sub004/internal/worker"
)

const outputBatchSize = 25

// OutputsGenerator solves a list of inputs with the problem's reference
// solution and appends the resulting pairs to the stored test cases. Inputs
// the solution cannot solve flag the problem for review instead of failing
// the task.
type OutputsGenerator struct {
	problems domain.ProblemRepository
	cases    domain.TestCaseStore
	runner   domain.Runner

	runTimeout  time.Duration
	concurrency int
}

func NewOutputsGenerator(problems domain.ProblemRepository, cases domain.TestCaseStore, runner domain.Runner, runTimeout time.Duration) *OutputsGenerator {
	if runTimeout <= 0 {
		runTimeout = 5 * time.Second
	}
	return &OutputsGenerator{
		problems:    problems,
		cases:       cases,
		runner:      runner,
		runTimeout:  runTimeout,
		concurrency: 8,
	}
}

func (o *OutputsGenerator) Name() string  { return domain.TaskGenerateOutputs }
func (o *OutputsGenerator) Queue() string { return domain.QueueGeneration }
func (o *OutputsGenerator) Policy() worker.Policy {
	return worker.Policy{MaxRetries: 3, RetryDelay: time.Minute, RetryCap: 30 * time.Minute}
}

func (o *OutputsGenerator) Run(ctx context.Context, payload json.RawMessage) domain.TaskOutcome {
	var p domain.GenerateOutputsPayload
	if err := decode(payload, &p); err != nil {
		return domain.Terminal(err, "invalid outputs payload")
	}
	logger := observability.LoggerFromContext(ctx).With(
		slog.String("platform", p.Platform), slog.String("problem_id", p.ProblemID))
	ctx = observability.ContextWithLogger(ctx, logger)

	problem, err := o.problems.Get(ctx, p.Platform, p.ProblemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Terminal(err, "problem %s/%s missing", p.Platform, p.ProblemID)
		}
		return classify(err, "load problem")
	}
	if problem.Solution == "" {
		return domain.Terminal(domain.ErrInvalidArgument, "problem has no reference solution")
	}

	existing, err := o.cases.Load(ctx, p.Platform, p.ProblemID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return classify(err, "load existing test cases")
	}

	// Inputs already stored are skipped, so a redelivered or partially
	// completed message converges on the same bundle instead of appending
	// duplicates.
	seen := make(map[string]struct{}, len(existing))
	for _, tc := range existing {
		seen[tc.Input] = struct{}{}
	}
	inputs := make([]string, 0, len(p.Inputs))
	for _, in := range p.Inputs {
		if _, dup := seen[in]; dup {
			continue
		}
		seen[in] = struct{}{}
		inputs = append(inputs, in)
	}

	totalFailures := 0
	// Batched so a partial run persists progress.
	for start := 0; start < len(inputs); start += outputBatchSize {
		end := min(start+outputBatchSize, len(inputs))
		solved, failures, err := solveInputs(ctx, o.runner, problem, inputs[start:end], o.runTimeout, o.concurrency)
		if err != nil {
			return classify(err, "solve inputs %d..%d", start, end)
		}
		totalFailures += failures
		for _, tc := range solved {
			tc.ID = strconv.Itoa(len(existing) + 1)
			existing = append(existing, tc)
		}
		if len(solved) > 0 {
			if err := o.cases.Save(ctx, p.Platform, p.ProblemID, existing); err != nil {
				return classify(err, "save test cases")
			}
		}
	}

	if totalFailures > 0 {
		logger.Warn("reference solution failed on inputs", slog.Int("failures", totalFailures))
		if err := o.problems.UpdateFields(ctx, p.Platform, p.ProblemID,
			map[string]any{"nrv": true}, domain.CondExists()); err != nil {
			return classify(err, "flag problem for review")
		}
	}
	return domain.Success()
}
