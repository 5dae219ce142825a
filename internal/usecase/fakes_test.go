package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

type fakeProblems struct {
	domain.ProblemRepository
	items map[string]domain.Problem
}

func newFakeProblems(problems ...domain.Problem) *fakeProblems {
	f := &fakeProblems{items: map[string]domain.Problem{}}
	for _, p := range problems {
		f.items[p.Platform+"/"+p.ProblemID] = p
	}
	return f
}

func (f *fakeProblems) Get(_ context.Context, platform, problemID string) (domain.Problem, error) {
	p, ok := f.items[platform+"/"+problemID]
	if !ok {
		return domain.Problem{}, domain.ErrNotFound
	}
	return p, nil
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

type fakeLimiter struct {
	decision domain.UsageDecision
	checkErr error
	records  []domain.UsageAction
}

func (f *fakeLimiter) Check(context.Context, domain.User, domain.UsageAction) (domain.UsageDecision, error) {
	return f.decision, f.checkErr
}

func (f *fakeLimiter) Record(_ context.Context, _ domain.User, action domain.UsageAction, _ string) {
	f.records = append(f.records, action)
}

type fakeJobs struct {
	domain.JobRepository
	mu      sync.Mutex
	items   map[string]domain.Job
	taskIDs map[string]string
}

func newFakeJobs(jobs ...domain.Job) *fakeJobs {
	f := &fakeJobs{items: map[string]domain.Job{}, taskIDs: map[string]string{}}
	for _, j := range jobs {
		f.items[string(j.Kind)+"/"+j.ID] = j
	}
	return f
}

func (f *fakeJobs) Create(_ context.Context, j domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[string(j.Kind)+"/"+j.ID] = j
	return nil
}

func (f *fakeJobs) Get(_ context.Context, kind domain.JobKind, id string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.items[string(kind)+"/"+id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (f *fakeJobs) SetBrokerTaskID(_ context.Context, kind domain.JobKind, id, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskIDs[string(kind)+"/"+id] = taskID
	return nil
}

func (f *fakeJobs) ListByStatus(_ context.Context, kind domain.JobKind, status domain.JobStatus, _ string, _ int) (domain.Page[domain.Job], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var page domain.Page[domain.Job]
	for _, j := range f.items {
		if j.Kind == kind && j.Status == status {
			page.Items = append(page.Items, j)
		}
	}
	return page, nil
}

type fakeProgress struct {
	domain.ProgressRepository
	rows map[string][]domain.ProgressRow
}

func newFakeProgress() *fakeProgress { return &fakeProgress{rows: map[string][]domain.ProgressRow{}} }

func (f *fakeProgress) List(_ context.Context, kind domain.JobKind, jobID string) ([]domain.ProgressRow, error) {
	return f.rows[string(kind)+"/"+jobID], nil
}

type fakePlans struct {
	domain.PlanRepository
	items map[string]domain.Plan
}

func newFakePlans(plans ...domain.Plan) *fakePlans {
	f := &fakePlans{items: map[string]domain.Plan{}}
	for _, p := range plans {
		f.items[p.ID] = p
	}
	return f
}

func (f *fakePlans) Get(_ context.Context, id string) (domain.Plan, error) {
	p, ok := f.items[id]
	if !ok {
		return domain.Plan{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePlans) List(context.Context) ([]domain.Plan, error) {
	var plans []domain.Plan
	for _, p := range f.items {
		plans = append(plans, p)
	}
	return plans, nil
}

type fakeHistory struct {
	domain.HistoryRepository
	items  map[string]domain.SearchHistory
	public map[string]bool
}

func newFakeHistory(items ...domain.SearchHistory) *fakeHistory {
	f := &fakeHistory{items: map[string]domain.SearchHistory{}, public: map[string]bool{}}
	for _, h := range items {
		f.items[h.ID] = h
	}
	return f
}

func (f *fakeHistory) Get(_ context.Context, id string) (domain.SearchHistory, error) {
	h, ok := f.items[id]
	if !ok {
		return domain.SearchHistory{}, domain.ErrNotFound
	}
	return h, nil
}

func (f *fakeHistory) SetPublic(_ context.Context, id string, public bool) error {
	h, ok := f.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	h.Public = public
	f.items[id] = h
	f.public[id] = public
	return nil
}
