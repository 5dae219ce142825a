package domain

import "fmt"

// OutcomeKind classifies how a task run ended. The worker branches on the
// variant: Success acks, Retry re-enqueues per policy, Terminal acks and marks
// the associated job FAILED.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetry
	OutcomeTerminal
)

// TaskOutcome is the single return value of a task run.
type TaskOutcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

// Success reports a completed run.
func Success() TaskOutcome { return TaskOutcome{Kind: OutcomeSuccess} }

// Retry reports a retryable failure; the worker schedules a redelivery.
func Retry(err error, format string, args ...any) TaskOutcome {
	return TaskOutcome{Kind: OutcomeRetry, Reason: fmt.Sprintf(format, args...), Err: err}
}

// Terminal reports a non-retryable failure; the worker records it on the job.
func Terminal(err error, format string, args ...any) TaskOutcome {
	return TaskOutcome{Kind: OutcomeTerminal, Reason: fmt.Sprintf(format, args...), Err: err}
}

func (o TaskOutcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry: " + o.Reason
	default:
		return "terminal: " + o.Reason
	}
}
