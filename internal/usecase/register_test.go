package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

func registrarPlans() *fakePlans {
	return newFakePlans(
		domain.Plan{ID: "free", CanRegister: false},
		domain.Plan{ID: "pro", CanRegister: true},
	)
}

func TestRegisterProblem_CreatesJobAndEnqueues(t *testing.T) {
	t.Parallel()
	jobs := newFakeJobs()
	broker := &fakeBroker{}
	s := NewRegisterService(jobs, newFakeProblems(), registrarPlans(), broker)
	s.newID = func() string { return "job-1" }

	user := domain.User{ID: "u1", PlanID: "pro"}
	jobID, err := s.RegisterProblem(context.Background(), user, RegisterInput{
		Platform:          "baekjoon",
		URL:               "https://example.com/1000",
		ProblemIdentifier: "1000",
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)

	job, err := jobs.Get(context.Background(), domain.JobKindProblemExtraction, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.Status)
	assert.Equal(t, "baekjoon", job.Platform)

	require.Len(t, broker.enqueues, 1)
	assert.Equal(t, domain.QueueAI, broker.enqueues[0].queue)
	assert.Equal(t, domain.TaskExtractProblem, broker.enqueues[0].task)
	assert.Equal(t, "task-1", jobs.taskIDs["PEJOB/job-1"])
}

func TestRegisterProblem_PlanWithoutRegistration(t *testing.T) {
	t.Parallel()
	s := NewRegisterService(newFakeJobs(), newFakeProblems(), registrarPlans(), &fakeBroker{})
	_, err := s.RegisterProblem(context.Background(), domain.User{ID: "u1", PlanID: "free"}, RegisterInput{
		Platform: "baekjoon", URL: "https://example.com/1000", ProblemIdentifier: "1000",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRegisterProblem_StaffBypassesPlan(t *testing.T) {
	t.Parallel()
	broker := &fakeBroker{}
	s := NewRegisterService(newFakeJobs(), newFakeProblems(), registrarPlans(), broker)
	_, err := s.RegisterProblem(context.Background(), domain.User{ID: "admin", PlanID: "free", Staff: true}, RegisterInput{
		Platform: "baekjoon", URL: "https://example.com/1000", ProblemIdentifier: "1000",
	})
	require.NoError(t, err)
	assert.Len(t, broker.enqueues, 1)
}

func TestRegisterProblem_BadURL(t *testing.T) {
	t.Parallel()
	s := NewRegisterService(newFakeJobs(), newFakeProblems(), registrarPlans(), &fakeBroker{})
	_, err := s.RegisterProblem(context.Background(), domain.User{ID: "u1", PlanID: "pro"}, RegisterInput{
		Platform: "baekjoon", URL: "not a url", ProblemIdentifier: "1000",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTriggerGeneration_DraftOnly(t *testing.T) {
	t.Parallel()
	jobs := newFakeJobs()
	broker := &fakeBroker{}
	draft := domain.Problem{Platform: "baekjoon", ProblemID: "1000", Title: "A+B"}
	s := NewRegisterService(jobs, newFakeProblems(draft), registrarPlans(), broker)
	s.newID = func() string { return "gen-1" }

	jobID, err := s.TriggerGeneration(context.Background(), domain.User{ID: "u1", PlanID: "pro"}, "baekjoon", "1000")
	require.NoError(t, err)
	assert.Equal(t, "gen-1", jobID)
	require.Len(t, broker.enqueues, 1)
	assert.Equal(t, domain.QueueGeneration, broker.enqueues[0].queue)
	assert.Equal(t, domain.GenerateScriptPayload{JobID: "gen-1", Platform: "baekjoon", ProblemID: "1000"},
		broker.enqueues[0].body)
}

func TestTriggerGeneration_CompletedProblemRejected(t *testing.T) {
	t.Parallel()
	s := NewRegisterService(newFakeJobs(), newFakeProblems(completedProblem()), registrarPlans(), &fakeBroker{})
	_, err := s.TriggerGeneration(context.Background(), domain.User{ID: "u1", PlanID: "pro"}, "baekjoon", "1000")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
