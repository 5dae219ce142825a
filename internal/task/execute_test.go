package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

func execPayload(t *testing.T) []byte {
	return mustJSON(t, domain.ExecuteSubmissionPayload{
		Platform:          "baekjoon",
		ProblemIdentifier: "1000",
		Code:              "a,b=map(int,input().split());print(a+b)",
		Language:          "python",
		UserID:            "u1",
		UserEmail:         "u1@example.com",
		IsPublic:          true,
	})
}

func execFixture(t *testing.T, runner *fakeRunner) (*SubmissionExecutor, *fakeHistory, *fakeBroker) {
	t.Helper()
	cases := newFakeCases()
	require.NoError(t, cases.Save(context.Background(), "baekjoon", "1000", []domain.TestCase{
		{ID: "1", Input: "1 2", Output: "3\n"},
		{ID: "2", Input: "2 3", Output: "5\n"},
	}))
	history := newFakeHistory()
	broker := &fakeBroker{}
	e := NewSubmissionExecutor(newFakeProblems(draftProblem()), cases, runner, history, broker, time.Second)
	e.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return e, history, broker
}

func TestExecute_AllPass(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{run: func(spec domain.RunSpec) (domain.RunResult, error) {
		if spec.Stdin == "1 2" {
			return domain.RunResult{Status: "ok", Stdout: "3\n"}, nil
		}
		return domain.RunResult{Status: "ok", Stdout: "5\n"}, nil
	}}
	e, history, broker := execFixture(t, runner)

	out := e.Run(context.Background(), execPayload(t))
	require.Equal(t, domain.OutcomeSuccess, out.Kind, out.Reason)
	require.Len(t, history.created, 1)
	h := history.created[0]
	assert.Equal(t, 2, h.Passed)
	assert.Equal(t, 0, h.Failed)
	assert.Equal(t, "Passed", h.ResultSummary)
	assert.Equal(t, int64(1700000000000), h.Timestamp)
	assert.True(t, h.Public)
	assert.Empty(t, broker.enqueues, "no hints when everything passes")
}

func TestExecute_FailureEnqueuesHints(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{run: func(spec domain.RunSpec) (domain.RunResult, error) {
		if spec.Stdin == "1 2" {
			return domain.RunResult{Status: "ok", Stdout: "3\n"}, nil
		}
		return domain.RunResult{Status: "ok", Stdout: "4\n"}, nil
	}}
	e, history, broker := execFixture(t, runner)

	out := e.Run(context.Background(), execPayload(t))
	require.Equal(t, domain.OutcomeSuccess, out.Kind)
	h := history.created[0]
	assert.Equal(t, 1, h.Passed)
	assert.Equal(t, 1, h.Failed)
	assert.Equal(t, "Failed", h.ResultSummary)

	require.Len(t, broker.enqueues, 1)
	assert.Equal(t, domain.QueueAI, broker.enqueues[0].queue)
	assert.Equal(t, domain.TaskGenerateHints, broker.enqueues[0].task)
	assert.Equal(t, domain.GenerateHintsPayload{HistoryID: h.ID}, broker.enqueues[0].body)
}

func TestExecute_SandboxVerdictsLandInResults(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{run: func(spec domain.RunSpec) (domain.RunResult, error) {
		if spec.Stdin == "1 2" {
			return domain.RunResult{Status: "timeout", Stderr: "killed"}, nil
		}
		return domain.RunResult{Status: "ok", Stdout: "5\n"}, nil
	}}
	e, history, _ := execFixture(t, runner)

	out := e.Run(context.Background(), execPayload(t))
	require.Equal(t, domain.OutcomeSuccess, out.Kind)
	results := history.created[0].TestResults
	require.Len(t, results, 2)
	assert.Equal(t, "timeout", results[0].Status)
	assert.False(t, results[0].Passed)
	assert.Equal(t, "killed", results[0].Error)
	assert.True(t, results[1].Passed)
}

func TestExecute_RunnerOutageRetriesWithoutHistory(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{run: func(domain.RunSpec) (domain.RunResult, error) {
		return domain.RunResult{}, domain.ErrTransient
	}}
	e, history, _ := execFixture(t, runner)

	out := e.Run(context.Background(), execPayload(t))
	assert.Equal(t, domain.OutcomeRetry, out.Kind)
	assert.Empty(t, history.created, "no record until the run completes")
}

func TestExecute_HintEnqueueFailureStillSucceeds(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{run: func(domain.RunSpec) (domain.RunResult, error) {
		return domain.RunResult{Status: "ok", Stdout: "wrong\n"}, nil
	}}
	e, history, broker := execFixture(t, runner)
	broker.err = domain.ErrBusy

	out := e.Run(context.Background(), execPayload(t))
	assert.Equal(t, domain.OutcomeSuccess, out.Kind, "submission result is already durable")
	assert.Len(t, history.created, 1)
}

func TestExecute_MissingTestCasesIsTerminal(t *testing.T) {
	t.Parallel()
	e := NewSubmissionExecutor(newFakeProblems(draftProblem()), newFakeCases(), &fakeRunner{},
		newFakeHistory(), &fakeBroker{}, time.Second)
	out := e.Run(context.Background(), execPayload(t))
	assert.Equal(t, domain.OutcomeTerminal, out.Kind)
}
