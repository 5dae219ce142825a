package task

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

func scriptPayload(t *testing.T) json.RawMessage {
	return mustJSON(t, domain.GenerateScriptPayload{
		JobID: "g1", Platform: "baekjoon", ProblemID: "1000",
	})
}

func pendingGeneration() domain.Job {
	return domain.Job{ID: "g1", Kind: domain.JobKindScriptGeneration, Status: domain.JobPending}
}

func draftProblem() domain.Problem {
	return domain.Problem{
		Platform:  "baekjoon",
		ProblemID: "1000",
		Title:     "A+B",
		Solution:  base64.StdEncoding.EncodeToString([]byte("a,b=map(int,input().split());print(a+b)")),
		Language:  "python",
	}
}

// solverRunner answers the generator run with a JSON input list and every
// solution run with "sum\n".
func solverRunner(inputs []string) *fakeRunner {
	blob, _ := json.Marshal(inputs)
	return &fakeRunner{run: func(spec domain.RunSpec) (domain.RunResult, error) {
		if spec.Stdin == "" {
			return domain.RunResult{Status: "ok", Stdout: string(blob)}, nil
		}
		return domain.RunResult{Status: "ok", Stdout: "sum\n"}, nil
	}}
}

func TestGenerateScript_HappyPath(t *testing.T) {
	t.Parallel()
	jobs := newFakeJobs(pendingGeneration())
	problems := newFakeProblems(draftProblem())
	cases := newFakeCases()
	runner := solverRunner([]string{"1 2", "3 4", "5 6"})
	gateway := &fakeLLM{replies: []genReply{{text: "```python\nprint('gen')\n```"}}}

	g := NewScriptGenerator(jobs, newFakeProgress(), problems, gateway, runner, cases, 3, time.Second)
	out := g.Run(context.Background(), scriptPayload(t))
	require.Equal(t, domain.OutcomeSuccess, out.Kind, out.Reason)

	job, err := jobs.Get(context.Background(), domain.JobKindScriptGeneration, "g1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Equal(t, "print('gen')", job.GeneratorCode, "fence stripped before recording")

	stored := cases.stored("baekjoon", "1000")
	require.Len(t, stored, 3)
	assert.Equal(t, "1 2", stored[0].Input)
	assert.Equal(t, "sum\n", stored[0].Output)
	assert.Equal(t, "1", stored[0].ID)

	assert.True(t, problems.get("baekjoon", "1000").Completed)

	// Reference solution runs receive the decoded code.
	runner.mu.Lock()
	defer runner.mu.Unlock()
	for _, spec := range runner.runs[1:] {
		assert.True(t, strings.HasPrefix(spec.Code, "a,b=map"), "solution decoded from base64")
	}
}

func TestGenerateScript_GeneratorCrashFailsJob(t *testing.T) {
	t.Parallel()
	jobs := newFakeJobs(pendingGeneration())
	runner := &fakeRunner{run: func(domain.RunSpec) (domain.RunResult, error) {
		return domain.RunResult{Status: "runtime_error", Stderr: "boom"}, nil
	}}
	g := NewScriptGenerator(jobs, newFakeProgress(), newFakeProblems(draftProblem()),
		&fakeLLM{replies: []genReply{{text: "print('gen')"}}}, runner, newFakeCases(), 3, time.Second)

	out := g.Run(context.Background(), scriptPayload(t))
	assert.Equal(t, domain.OutcomeTerminal, out.Kind)
	assert.Equal(t, domain.JobFailed, jobs.status(domain.JobKindScriptGeneration, "g1"))
}

func TestGenerateScript_PartialReferenceFailuresFlagReview(t *testing.T) {
	t.Parallel()
	jobs := newFakeJobs(pendingGeneration())
	problems := newFakeProblems(draftProblem())
	cases := newFakeCases()
	blob, _ := json.Marshal([]string{"1 2", "bad", "5 6"})
	runner := &fakeRunner{run: func(spec domain.RunSpec) (domain.RunResult, error) {
		if spec.Stdin == "" {
			return domain.RunResult{Status: "ok", Stdout: string(blob)}, nil
		}
		if spec.Stdin == "bad" {
			return domain.RunResult{Status: "runtime_error", Stderr: "ValueError"}, nil
		}
		return domain.RunResult{Status: "ok", Stdout: "sum\n"}, nil
	}}
	g := NewScriptGenerator(jobs, newFakeProgress(), problems,
		&fakeLLM{replies: []genReply{{text: "print('gen')"}}}, runner, cases, 3, time.Second)

	out := g.Run(context.Background(), scriptPayload(t))
	require.Equal(t, domain.OutcomeSuccess, out.Kind, out.Reason)
	assert.Len(t, cases.stored("baekjoon", "1000"), 2, "failed input dropped")
	p := problems.get("baekjoon", "1000")
	assert.True(t, p.Completed)
	assert.False(t, p.NeedsReview, "completion clears the review flag")
	require.NotEmpty(t, problems.updates)
	assert.Equal(t, map[string]any{"nrv": true}, problems.updates[0], "review flagged before completion")
}

func TestGenerateScript_LLMTransientRetries(t *testing.T) {
	t.Parallel()
	jobs := newFakeJobs(pendingGeneration())
	g := NewScriptGenerator(jobs, newFakeProgress(), newFakeProblems(draftProblem()),
		&fakeLLM{replies: []genReply{{err: domain.ErrTransient}}}, &fakeRunner{}, newFakeCases(), 3, time.Second)

	out := g.Run(context.Background(), scriptPayload(t))
	assert.Equal(t, domain.OutcomeRetry, out.Kind)
	assert.Equal(t, domain.JobProcessing, jobs.status(domain.JobKindScriptGeneration, "g1"))
}

func TestGenerateScript_NoSolutionIsTerminal(t *testing.T) {
	t.Parallel()
	jobs := newFakeJobs(pendingGeneration())
	bare := draftProblem()
	bare.Solution = ""
	g := NewScriptGenerator(jobs, newFakeProgress(), newFakeProblems(bare),
		&fakeLLM{}, &fakeRunner{}, newFakeCases(), 3, time.Second)

	out := g.Run(context.Background(), scriptPayload(t))
	assert.Equal(t, domain.OutcomeTerminal, out.Kind)
	assert.Equal(t, domain.JobFailed, jobs.status(domain.JobKindScriptGeneration, "g1"))
}
