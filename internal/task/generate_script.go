package task

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
	"github.com/GwonsooLee/argoitny-sub004/internal/worker"
)

const generatorPrompt = `Write a standalone Python 3 program that generates %d test inputs for the
algorithm problem described below. The program must print a single JSON array
of %d strings to stdout, each string being one complete stdin payload for the
problem. Cover edge cases and respect the stated constraints. Output only the
program code.

Title: %s
Constraints:
%s`

// ScriptGenerator produces a test-input generator with the LLM, runs it in
// the sandbox, validates every generated input against the reference
// solution, and persists the resulting test cases.
type ScriptGenerator struct {
	jobs     domain.JobRepository
	progress domain.ProgressRepository
	problems domain.ProblemRepository
	llm      domain.LLM
	runner   domain.Runner
	cases    domain.TestCaseStore

	numInputs   int
	runTimeout  time.Duration
	concurrency int
	now         func() time.Time
}

func NewScriptGenerator(jobs domain.JobRepository, progress domain.ProgressRepository, problems domain.ProblemRepository, llm domain.LLM, runner domain.Runner, cases domain.TestCaseStore, numInputs int, runTimeout time.Duration) *ScriptGenerator {
	if numInputs <= 0 {
		numInputs = 100
	}
	if runTimeout <= 0 {
		runTimeout = 5 * time.Second
	}
	return &ScriptGenerator{
		jobs:        jobs,
		progress:    progress,
		problems:    problems,
		llm:         llm,
		runner:      runner,
		cases:       cases,
		numInputs:   numInputs,
		runTimeout:  runTimeout,
		concurrency: 8,
		now:         time.Now,
	}
}

func (g *ScriptGenerator) Name() string  { return domain.TaskGenerateScript }
func (g *ScriptGenerator) Queue() string { return domain.QueueGeneration }
func (g *ScriptGenerator) Policy() worker.Policy {
	return worker.Policy{MaxRetries: 3, RetryDelay: time.Minute, RetryCap: 30 * time.Minute}
}

func (g *ScriptGenerator) Run(ctx context.Context, payload json.RawMessage) domain.TaskOutcome {
	var p domain.GenerateScriptPayload
	if err := decode(payload, &p); err != nil {
		return domain.Terminal(err, "invalid generation payload")
	}
	logger := observability.LoggerFromContext(ctx).With(
		slog.String("job_id", p.JobID),
		slog.String("platform", p.Platform),
		slog.String("problem_id", p.ProblemID))
	ctx = observability.ContextWithLogger(ctx, logger)

	job, err := g.jobs.Get(ctx, domain.JobKindScriptGeneration, p.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Terminal(err, "generation job %s missing", p.JobID)
		}
		return classify(err, "load job")
	}
	switch job.Status {
	case domain.JobCompleted, domain.JobFailed:
		logger.Info("job already settled", slog.String("status", string(job.Status)))
		return domain.Success()
	}
	if err := g.jobs.Transition(ctx, domain.JobKindScriptGeneration, p.JobID, domain.JobPending, domain.JobProcessing, ""); err != nil &&
		!errors.Is(err, domain.ErrPreconditionFailed) {
		return classify(err, "start job")
	}

	problem, err := g.problems.Get(ctx, p.Platform, p.ProblemID)
	if err != nil {
		return g.settle(ctx, p.JobID, "load", classify(err, "load problem"))
	}
	if problem.Solution == "" || problem.Language == "" {
		return g.settle(ctx, p.JobID, "load",
			domain.Terminal(domain.ErrInvalidArgument, "problem has no reference solution"))
	}

	g.step(ctx, p.JobID, "generate", "generating input script", domain.ProgressStarted)
	script, err := g.generateScript(ctx, problem)
	if err != nil {
		return g.settle(ctx, p.JobID, "generate", classify(err, "generate script"))
	}
	if err := g.jobs.SetGeneratorCode(ctx, p.JobID, script); err != nil {
		return g.settle(ctx, p.JobID, "generate", classify(err, "record script"))
	}

	g.step(ctx, p.JobID, "inputs", "running input script", domain.ProgressInProgress)
	inputs, err := g.runGenerator(ctx, script)
	if err != nil {
		return g.settle(ctx, p.JobID, "inputs", classify(err, "run generator"))
	}

	g.step(ctx, p.JobID, "validate", fmt.Sprintf("solving %d inputs", len(inputs)), domain.ProgressInProgress)
	cases, failures, err := solveInputs(ctx, g.runner, problem, inputs, g.runTimeout, g.concurrency)
	if err != nil {
		return g.settle(ctx, p.JobID, "validate", classify(err, "solve inputs"))
	}
	if failures > 0 {
		logger.Warn("reference solution failed on generated inputs", slog.Int("failures", failures))
		if err := g.problems.UpdateFields(ctx, p.Platform, p.ProblemID,
			map[string]any{"nrv": true}, domain.CondExists()); err != nil {
			logger.Error("failed to flag problem for review", slog.Any("error", err))
		}
	}
	if len(cases) == 0 {
		return g.settle(ctx, p.JobID, "validate",
			domain.Terminal(domain.ErrInvalidArgument, "no input survived the reference solution"))
	}

	g.step(ctx, p.JobID, "save", fmt.Sprintf("saving %d test cases", len(cases)), domain.ProgressInProgress)
	if err := g.cases.Save(ctx, p.Platform, p.ProblemID, cases); err != nil {
		return g.settle(ctx, p.JobID, "save", classify(err, "save test cases"))
	}
	if err := g.problems.SetCompleted(ctx, p.Platform, p.ProblemID); err != nil {
		return g.settle(ctx, p.JobID, "save", classify(err, "mark problem completed"))
	}

	if err := g.jobs.Transition(ctx, domain.JobKindScriptGeneration, p.JobID, domain.JobProcessing, domain.JobCompleted, ""); err != nil &&
		!errors.Is(err, domain.ErrPreconditionFailed) {
		return classify(err, "complete job")
	}
	g.step(ctx, p.JobID, "done", "generation completed", domain.ProgressCompleted)
	return domain.Success()
}

func (g *ScriptGenerator) generateScript(ctx context.Context, problem domain.Problem) (string, error) {
	prompt := fmt.Sprintf(generatorPrompt, g.numInputs, g.numInputs, problem.Title, problem.Constraints)
	zero := 0.0
	res, err := g.llm.Generate(ctx, prompt, domain.GenerateOptions{
		MaxTokens:   8192,
		Temperature: &zero,
	})
	if err != nil {
		return "", err
	}
	script := stripFence(res.Text)
	if script == "" {
		return "", fmt.Errorf("%w: model returned empty script", domain.ErrProvider)
	}
	return script, nil
}

// runGenerator executes the script in the sandbox and parses the JSON array
// of inputs it must print.
func (g *ScriptGenerator) runGenerator(ctx context.Context, script string) ([]string, error) {
	res, err := g.runner.Run(ctx, domain.RunSpec{
		Code:     script,
		Language: "python",
		Timeout:  60 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if res.Status != "ok" {
		return nil, fmt.Errorf("%w: generator run ended %s: %s", domain.ErrInvalidArgument, res.Status, res.Stderr)
	}
	var inputs []string
	if err := json.Unmarshal([]byte(res.Stdout), &inputs); err != nil {
		return nil, fmt.Errorf("%w: generator output is not a JSON array: %v", domain.ErrInvalidArgument, err)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: generator produced no inputs", domain.ErrInvalidArgument)
	}
	return inputs, nil
}

// solveInputs runs the reference solution over every input with bounded
// concurrency. Inputs the solution cannot solve are dropped and counted.
func solveInputs(ctx context.Context, runner domain.Runner, problem domain.Problem, inputs []string, timeout time.Duration, concurrency int) ([]domain.TestCase, int, error) {
	outputs := make([]string, len(inputs))
	solved := make([]bool, len(inputs))
	code := decodeSolution(problem.Solution)

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(concurrency)
	var mu sync.Mutex
	failures := 0
	for i, input := range inputs {
		grp.Go(func() error {
			res, err := runner.Run(gctx, domain.RunSpec{
				Code:     code,
				Language: problem.Language,
				Stdin:    input,
				Timeout:  timeout,
			})
			if err != nil {
				return err
			}
			if res.Status != "ok" {
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}
			outputs[i] = res.Stdout
			solved[i] = true
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, 0, err
	}

	cases := make([]domain.TestCase, 0, len(inputs))
	for i, input := range inputs {
		if !solved[i] {
			continue
		}
		cases = append(cases, domain.TestCase{
			ID:     strconv.Itoa(len(cases) + 1),
			Input:  input,
			Output: outputs[i],
		})
	}
	return cases, failures, nil
}

// decodeSolution unwraps the base64-stored reference solution, tolerating
// legacy plain-text values.
func decodeSolution(s string) string {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return string(raw)
	}
	return s
}

func (g *ScriptGenerator) settle(ctx context.Context, jobID, step string, out domain.TaskOutcome) domain.TaskOutcome {
	if out.Kind != domain.OutcomeTerminal {
		return out
	}
	if err := g.jobs.Transition(ctx, domain.JobKindScriptGeneration, jobID, domain.JobProcessing, domain.JobFailed, out.Reason); err != nil &&
		!errors.Is(err, domain.ErrPreconditionFailed) {
		observability.LoggerFromContext(ctx).Error("failed to mark job failed", slog.Any("error", err))
	}
	g.step(ctx, jobID, step, out.Reason, domain.ProgressFailed)
	return out
}

func (g *ScriptGenerator) step(ctx context.Context, jobID, step, message string, status domain.ProgressStatus) {
	row := domain.ProgressRow{Step: step, Message: message, Status: status, CreatedAt: g.now()}
	if err := g.progress.Append(ctx, domain.JobKindScriptGeneration, jobID, row); err != nil {
		observability.LoggerFromContext(ctx).Warn("progress append failed",
			slog.String("step", step), slog.Any("error", err))
	}
}
