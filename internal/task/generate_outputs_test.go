package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

func outputsPayload(t *testing.T, inputs ...string) []byte {
	return mustJSON(t, domain.GenerateOutputsPayload{
		Platform: "baekjoon", ProblemID: "1000", Inputs: inputs,
	})
}

func TestGenerateOutputs_AppendsToExistingCases(t *testing.T) {
	t.Parallel()
	problems := newFakeProblems(draftProblem())
	cases := newFakeCases()
	require.NoError(t, cases.Save(context.Background(), "baekjoon", "1000", []domain.TestCase{
		{ID: "1", Input: "0 0", Output: "0\n"},
	}))
	runner := &fakeRunner{run: func(spec domain.RunSpec) (domain.RunResult, error) {
		return domain.RunResult{Status: "ok", Stdout: "sum\n"}, nil
	}}

	o := NewOutputsGenerator(problems, cases, runner, time.Second)
	out := o.Run(context.Background(), outputsPayload(t, "1 2", "3 4"))
	require.Equal(t, domain.OutcomeSuccess, out.Kind, out.Reason)

	stored := cases.stored("baekjoon", "1000")
	require.Len(t, stored, 3)
	assert.Equal(t, "0 0", stored[0].Input)
	assert.Equal(t, []string{"1", "2", "3"}, []string{stored[0].ID, stored[1].ID, stored[2].ID})
}

func TestGenerateOutputs_RerunConverges(t *testing.T) {
	t.Parallel()
	problems := newFakeProblems(draftProblem())
	cases := newFakeCases()
	runner := &fakeRunner{run: func(spec domain.RunSpec) (domain.RunResult, error) {
		return domain.RunResult{Status: "ok", Stdout: "3\n"}, nil
	}}

	o := NewOutputsGenerator(problems, cases, runner, time.Second)
	payload := outputsPayload(t, "1 2", "5 7")
	require.Equal(t, domain.OutcomeSuccess, o.Run(context.Background(), payload).Kind)
	require.Equal(t, domain.OutcomeSuccess, o.Run(context.Background(), payload).Kind, "redelivery")

	stored := cases.stored("baekjoon", "1000")
	require.Len(t, stored, 2, "second delivery must not duplicate cases")
	assert.Equal(t, []string{"1 2", "5 7"}, []string{stored[0].Input, stored[1].Input})
	assert.Equal(t, []string{"1", "2"}, []string{stored[0].ID, stored[1].ID})
}

func TestGenerateOutputs_DuplicateInputsInPayloadCollapse(t *testing.T) {
	t.Parallel()
	cases := newFakeCases()
	runner := &fakeRunner{run: func(spec domain.RunSpec) (domain.RunResult, error) {
		return domain.RunResult{Status: "ok", Stdout: "3\n"}, nil
	}}

	o := NewOutputsGenerator(newFakeProblems(draftProblem()), cases, runner, time.Second)
	out := o.Run(context.Background(), outputsPayload(t, "1 2", "1 2", "5 7"))
	require.Equal(t, domain.OutcomeSuccess, out.Kind)
	assert.Len(t, cases.stored("baekjoon", "1000"), 2)
}

func TestGenerateOutputs_FailuresFlagReview(t *testing.T) {
	t.Parallel()
	problems := newFakeProblems(draftProblem())
	runner := &fakeRunner{run: func(spec domain.RunSpec) (domain.RunResult, error) {
		if spec.Stdin == "bad" {
			return domain.RunResult{Status: "timeout"}, nil
		}
		return domain.RunResult{Status: "ok", Stdout: "sum\n"}, nil
	}}

	o := NewOutputsGenerator(problems, newFakeCases(), runner, time.Second)
	out := o.Run(context.Background(), outputsPayload(t, "1 2", "bad"))
	require.Equal(t, domain.OutcomeSuccess, out.Kind)
	assert.True(t, problems.get("baekjoon", "1000").NeedsReview)
}

func TestGenerateOutputs_MissingProblemIsTerminal(t *testing.T) {
	t.Parallel()
	o := NewOutputsGenerator(newFakeProblems(), newFakeCases(), &fakeRunner{}, time.Second)
	out := o.Run(context.Background(), outputsPayload(t, "1 2"))
	assert.Equal(t, domain.OutcomeTerminal, out.Kind)
}

func TestGenerateOutputs_RunnerOutageRetries(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{run: func(domain.RunSpec) (domain.RunResult, error) {
		return domain.RunResult{}, domain.ErrTransient
	}}
	o := NewOutputsGenerator(newFakeProblems(draftProblem()), newFakeCases(), runner, time.Second)
	out := o.Run(context.Background(), outputsPayload(t, "1 2"))
	assert.Equal(t, domain.OutcomeRetry, out.Kind)
}
