package task

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
	"github.com/GwonsooLee/argoitny-sub004/internal/worker"
)

// Extractor fetches a problem page, extracts its metadata through the LLM,
// and writes the Problem draft. Fetches are throttled per platform so a burst
// of registrations stays polite to the source site.
type Extractor struct {
	jobs     domain.JobRepository
	progress domain.ProgressRepository
	problems domain.ProblemRepository
	fetcher  domain.Fetcher
	llm      domain.LLM

	perPlatform int64
	mu          sync.Mutex
	sems        map[string]*semaphore.Weighted

	now func() time.Time
}

func NewExtractor(jobs domain.JobRepository, progress domain.ProgressRepository, problems domain.ProblemRepository, fetcher domain.Fetcher, llm domain.LLM, perPlatform int64) *Extractor {
	if perPlatform <= 0 {
		perPlatform = 4
	}
	return &Extractor{
		jobs:        jobs,
		progress:    progress,
		problems:    problems,
		fetcher:     fetcher,
		llm:         llm,
		perPlatform: perPlatform,
		sems:        map[string]*semaphore.Weighted{},
		now:         time.Now,
	}
}

func (e *Extractor) Name() string  { return domain.TaskExtractProblem }
func (e *Extractor) Queue() string { return domain.QueueAI }
func (e *Extractor) Policy() worker.Policy {
	return worker.Policy{MaxRetries: 3, RetryDelay: time.Minute, RetryCap: 30 * time.Minute}
}

func (e *Extractor) sem(platform string) *semaphore.Weighted {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sems[platform]
	if !ok {
		s = semaphore.NewWeighted(e.perPlatform)
		e.sems[platform] = s
	}
	return s
}

func (e *Extractor) Run(ctx context.Context, payload json.RawMessage) domain.TaskOutcome {
	var p domain.ExtractProblemPayload
	if err := decode(payload, &p); err != nil {
		return domain.Terminal(err, "invalid extract payload")
	}
	logger := observability.LoggerFromContext(ctx).With(
		slog.String("job_id", p.JobID), slog.String("platform", p.Platform))
	ctx = observability.ContextWithLogger(ctx, logger)

	job, err := e.jobs.Get(ctx, domain.JobKindProblemExtraction, p.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Terminal(err, "extraction job %s missing", p.JobID)
		}
		return classify(err, "load job")
	}
	switch job.Status {
	case domain.JobCompleted, domain.JobFailed:
		logger.Info("job already settled", slog.String("status", string(job.Status)))
		return domain.Success()
	}
	if err := e.jobs.Transition(ctx, domain.JobKindProblemExtraction, p.JobID, domain.JobPending, domain.JobProcessing, ""); err != nil &&
		!errors.Is(err, domain.ErrPreconditionFailed) {
		return classify(err, "start job")
	}

	sem := e.sem(p.Platform)
	if err := sem.Acquire(ctx, 1); err != nil {
		return domain.Retry(err, "waiting for platform slot")
	}
	defer sem.Release(1)

	e.step(ctx, p.JobID, "fetch", "fetching problem page", domain.ProgressStarted)
	page, err := e.fetcher.Fetch(ctx, p.URL)
	if err != nil {
		return e.settle(ctx, p.JobID, "fetch", classify(err, "fetch %s", p.URL))
	}

	e.step(ctx, p.JobID, "extract", "extracting metadata", domain.ProgressInProgress)
	meta, err := e.llm.ExtractMetadata(ctx, page.Markdown, map[string]string{
		"platform":           p.Platform,
		"problem_identifier": p.ProblemIdentifier,
	})
	if err != nil {
		return e.settle(ctx, p.JobID, "extract", classify(err, "extract metadata"))
	}

	e.step(ctx, p.JobID, "save", "writing problem draft", domain.ProgressInProgress)
	if err := e.saveDraft(ctx, p, page.URL, meta); err != nil {
		return e.settle(ctx, p.JobID, "save", classify(err, "save problem draft"))
	}

	if err := e.jobs.Transition(ctx, domain.JobKindProblemExtraction, p.JobID, domain.JobProcessing, domain.JobCompleted, ""); err != nil &&
		!errors.Is(err, domain.ErrPreconditionFailed) {
		return classify(err, "complete job")
	}
	e.step(ctx, p.JobID, "done", "extraction completed", domain.ProgressCompleted)
	return domain.Success()
}

// saveDraft creates the draft or, on re-run, merges the freshly extracted
// metadata into the existing item.
func (e *Extractor) saveDraft(ctx context.Context, p domain.ExtractProblemPayload, url string, meta domain.ProblemMetadata) error {
	problem := domain.Problem{
		Platform:    p.Platform,
		ProblemID:   p.ProblemIdentifier,
		Title:       meta.Title,
		URL:         url,
		Tags:        meta.Tags,
		Solution:    meta.Solution,
		Language:    meta.Language,
		Constraints: meta.Constraints,
		Completed:   false,
	}
	err := e.problems.Create(ctx, problem)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrPreconditionFailed) {
		return err
	}
	fields := map[string]any{
		"title": meta.Title,
		"url":   url,
		"tags":  meta.Tags,
		"sol":   meta.Solution,
		"lang":  meta.Language,
		"cons":  meta.Constraints,
	}
	return e.problems.UpdateFields(ctx, p.Platform, p.ProblemIdentifier, fields, domain.CondExists())
}

// settle marks the job FAILED for terminal outcomes; retries pass through so
// the broker redelivers.
func (e *Extractor) settle(ctx context.Context, jobID, step string, out domain.TaskOutcome) domain.TaskOutcome {
	if out.Kind != domain.OutcomeTerminal {
		return out
	}
	if err := e.jobs.Transition(ctx, domain.JobKindProblemExtraction, jobID, domain.JobProcessing, domain.JobFailed, out.Reason); err != nil &&
		!errors.Is(err, domain.ErrPreconditionFailed) {
		observability.LoggerFromContext(ctx).Error("failed to mark job failed", slog.Any("error", err))
	}
	e.step(ctx, jobID, step, out.Reason, domain.ProgressFailed)
	return out
}

func (e *Extractor) step(ctx context.Context, jobID, step, message string, status domain.ProgressStatus) {
	row := domain.ProgressRow{Step: step, Message: message, Status: status, CreatedAt: e.now()}
	if err := e.progress.Append(ctx, domain.JobKindProblemExtraction, jobID, row); err != nil {
		observability.LoggerFromContext(ctx).Warn("progress append failed",
			slog.String("step", step), slog.Any("error", err))
	}
}
