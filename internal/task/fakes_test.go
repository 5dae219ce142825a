package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

// Hand-rolled in-memory fakes; each records the calls the tests assert on.

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]domain.Job

	transitions []string
	getErr      error
}

func newFakeJobs(jobs ...domain.Job) *fakeJobs {
	f := &fakeJobs{jobs: map[string]domain.Job{}}
	for _, j := range jobs {
		f.jobs[string(j.Kind)+"/"+j.ID] = j
	}
	return f
}

func (f *fakeJobs) key(kind domain.JobKind, id string) string { return string(kind) + "/" + id }

func (f *fakeJobs) Create(_ context.Context, j domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[f.key(j.Kind, j.ID)] = j
	return nil
}

func (f *fakeJobs) Get(_ context.Context, kind domain.JobKind, id string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Job{}, f.getErr
	}
	j, ok := f.jobs[f.key(kind, id)]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (f *fakeJobs) Transition(_ context.Context, kind domain.JobKind, id string, from, to domain.JobStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, fmt.Sprintf("%s:%s->%s", id, from, to))
	j, ok := f.jobs[f.key(kind, id)]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != from {
		return domain.ErrPreconditionFailed
	}
	j.Status = to
	j.Error = errMsg
	f.jobs[f.key(kind, id)] = j
	return nil
}

func (f *fakeJobs) SetGeneratorCode(_ context.Context, id string, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(domain.JobKindScriptGeneration, id)
	j, ok := f.jobs[k]
	if !ok {
		return domain.ErrNotFound
	}
	j.GeneratorCode = code
	f.jobs[k] = j
	return nil
}

func (f *fakeJobs) SetBrokerTaskID(_ context.Context, kind domain.JobKind, id, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(kind, id)
	j, ok := f.jobs[k]
	if !ok {
		return domain.ErrNotFound
	}
	j.BrokerTaskID = taskID
	f.jobs[k] = j
	return nil
}

func (f *fakeJobs) ListByStatus(_ context.Context, kind domain.JobKind, status domain.JobStatus, _ string, _ int) (domain.Page[domain.Job], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var page domain.Page[domain.Job]
	for _, j := range f.jobs {
		if j.Kind == kind && j.Status == status {
			page.Items = append(page.Items, j)
		}
	}
	return page, nil
}

func (f *fakeJobs) Delete(_ context.Context, kind domain.JobKind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(kind, id)
	if _, ok := f.jobs[k]; !ok {
		return domain.ErrNotFound
	}
	delete(f.jobs, k)
	return nil
}

func (f *fakeJobs) status(kind domain.JobKind, id string) domain.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[f.key(kind, id)].Status
}

type fakeProgress struct {
	mu      sync.Mutex
	rows    map[string][]domain.ProgressRow
	deleted []string
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{rows: map[string][]domain.ProgressRow{}}
}

func (f *fakeProgress) Append(_ context.Context, kind domain.JobKind, jobID string, row domain.ProgressRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := string(kind) + "/" + jobID
	f.rows[k] = append(f.rows[k], row)
	return nil
}

func (f *fakeProgress) List(_ context.Context, kind domain.JobKind, jobID string) ([]domain.ProgressRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[string(kind)+"/"+jobID], nil
}

func (f *fakeProgress) DeleteAll(_ context.Context, kind domain.JobKind, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := string(kind) + "/" + jobID
	delete(f.rows, k)
	f.deleted = append(f.deleted, k)
	return nil
}

func (f *fakeProgress) steps(kind domain.JobKind, jobID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var steps []string
	for _, r := range f.rows[string(kind)+"/"+jobID] {
		steps = append(steps, r.Step+":"+string(r.Status))
	}
	return steps
}

type fakeProblems struct {
	mu       sync.Mutex
	problems map[string]domain.Problem
	updates  []map[string]any
}

func newFakeProblems(problems ...domain.Problem) *fakeProblems {
	f := &fakeProblems{problems: map[string]domain.Problem{}}
	for _, p := range problems {
		f.problems[p.Platform+"/"+p.ProblemID] = p
	}
	return f
}

func (f *fakeProblems) Create(_ context.Context, p domain.Problem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := p.Platform + "/" + p.ProblemID
	if _, ok := f.problems[k]; ok {
		return domain.ErrPreconditionFailed
	}
	f.problems[k] = p
	return nil
}

func (f *fakeProblems) Get(_ context.Context, platform, problemID string) (domain.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.problems[platform+"/"+problemID]
	if !ok || p.Deleted {
		return domain.Problem{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeProblems) UpdateFields(_ context.Context, platform, problemID string, fields map[string]any, _ domain.Condition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := platform + "/" + problemID
	p, ok := f.problems[k]
	if !ok {
		return domain.ErrNotFound
	}
	f.updates = append(f.updates, fields)
	if v, ok := fields["nrv"].(bool); ok {
		p.NeedsReview = v
	}
	if v, ok := fields["title"].(string); ok {
		p.Title = v
	}
	f.problems[k] = p
	return nil
}

func (f *fakeProblems) SetTestCaseCount(_ context.Context, platform, problemID string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := platform + "/" + problemID
	p, ok := f.problems[k]
	if !ok {
		return domain.ErrNotFound
	}
	p.TestCaseCount = n
	f.problems[k] = p
	return nil
}

func (f *fakeProblems) SetCompleted(_ context.Context, platform, problemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := platform + "/" + problemID
	p, ok := f.problems[k]
	if !ok {
		return domain.ErrNotFound
	}
	p.Completed = true
	p.NeedsReview = false
	f.problems[k] = p
	return nil
}

func (f *fakeProblems) SoftDelete(_ context.Context, platform, problemID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := platform + "/" + problemID
	p, ok := f.problems[k]
	if !ok {
		return domain.ErrNotFound
	}
	p.Deleted = true
	p.DeletedReason = reason
	f.problems[k] = p
	return nil
}

func (f *fakeProblems) ListByStatus(_ context.Context, completed bool, _ string, _ int) (domain.Page[domain.Problem], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var page domain.Page[domain.Problem]
	for _, p := range f.problems {
		if p.Completed == completed && !p.Deleted {
			page.Items = append(page.Items, p)
		}
	}
	return page, nil
}

func (f *fakeProblems) get(platform, problemID string) domain.Problem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.problems[platform+"/"+problemID]
}

type fakeFetcher struct {
	page domain.FetchedPage
	err  error
}

func (f *fakeFetcher) Fetch(context.Context, string) (domain.FetchedPage, error) {
	return f.page, f.err
}

type genReply struct {
	text string
	err  error
}

type fakeLLM struct {
	mu      sync.Mutex
	meta    domain.ProblemMetadata
	metaErr error
	replies []genReply

	prompts []string
	opts    []domain.GenerateOptions
}

func (f *fakeLLM) ExtractMetadata(context.Context, string, map[string]string) (domain.ProblemMetadata, error) {
	return f.meta, f.metaErr
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, opts domain.GenerateOptions) (domain.GenerateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	if len(f.replies) == 0 {
		return domain.GenerateResult{}, domain.ErrProvider
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return domain.GenerateResult{Text: r.text, FinishReason: "stop"}, r.err
}

type fakeRunner struct {
	mu   sync.Mutex
	run  func(spec domain.RunSpec) (domain.RunResult, error)
	runs []domain.RunSpec
}

func (f *fakeRunner) Run(_ context.Context, spec domain.RunSpec) (domain.RunResult, error) {
	f.mu.Lock()
	f.runs = append(f.runs, spec)
	f.mu.Unlock()
	return f.run(spec)
}

type fakeCases struct {
	mu     sync.Mutex
	blobs  map[string][]domain.TestCase
	putErr error
}

func newFakeCases() *fakeCases { return &fakeCases{blobs: map[string][]domain.TestCase{}} }

func (f *fakeCases) Save(_ context.Context, platform, problemID string, cases []domain.TestCase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.blobs[platform+"/"+problemID] = append([]domain.TestCase(nil), cases...)
	return nil
}

func (f *fakeCases) Load(_ context.Context, platform, problemID string) ([]domain.TestCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cases, ok := f.blobs[platform+"/"+problemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cases, nil
}

func (f *fakeCases) Delete(_ context.Context, platform, problemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, platform+"/"+problemID)
	return nil
}

func (f *fakeCases) stored(platform, problemID string) []domain.TestCase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blobs[platform+"/"+problemID]
}

type fakeHistory struct {
	mu          sync.Mutex
	next        int
	items       map[string]domain.SearchHistory
	created     []domain.SearchHistory
	setHintsErr error
}

func newFakeHistory(items ...domain.SearchHistory) *fakeHistory {
	f := &fakeHistory{items: map[string]domain.SearchHistory{}}
	for _, h := range items {
		f.items[h.ID] = h
	}
	return f
}

func (f *fakeHistory) Create(_ context.Context, h domain.SearchHistory) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	h.ID = fmt.Sprintf("hist-%d", f.next)
	f.items[h.ID] = h
	f.created = append(f.created, h)
	return h.ID, nil
}

func (f *fakeHistory) Get(_ context.Context, id string) (domain.SearchHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.items[id]
	if !ok {
		return domain.SearchHistory{}, domain.ErrNotFound
	}
	return h, nil
}

func (f *fakeHistory) SetHints(_ context.Context, id string, hints []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setHintsErr != nil {
		return f.setHintsErr
	}
	h, ok := f.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if len(h.Hints) > 0 {
		return domain.ErrPreconditionFailed
	}
	h.Hints = hints
	f.items[id] = h
	return nil
}

func (f *fakeHistory) SetPublic(_ context.Context, id string, public bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	h.Public = public
	f.items[id] = h
	return nil
}

func (f *fakeHistory) ListByUser(context.Context, string, string, string, string, int) (domain.Page[domain.SearchHistory], error) {
	return domain.Page[domain.SearchHistory]{}, nil
}

func (f *fakeHistory) PublicFeed(context.Context, string, int) (domain.Page[domain.SearchHistory], error) {
	return domain.Page[domain.SearchHistory]{}, nil
}

type enqueued struct {
	queue string
	task  string
	body  any
}

type fakeBroker struct {
	mu       sync.Mutex
	err      error
	enqueues []enqueued
}

func (f *fakeBroker) Enqueue(_ context.Context, queue, taskName string, payload any, _ domain.EnqueueOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.enqueues = append(f.enqueues, enqueued{queue: queue, task: taskName, body: payload})
	return fmt.Sprintf("task-%d", len(f.enqueues)), nil
}
