// Package task holds the background task implementations. Each task is a
// constructor-injected struct registered by name with the worker registry;
// all of them converge to the same final state when re-run on the same input.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/worker"
)

// Task is one registered background task.
type Task interface {
	Name() string
	Queue() string
	Policy() worker.Policy
	Run(ctx context.Context, payload json.RawMessage) domain.TaskOutcome
}

// RegisterAll binds every task to the registry.
func RegisterAll(reg *worker.Registry, tasks ...Task) {
	for _, t := range tasks {
		reg.Register(t.Name(), t.Queue(), t.Run, t.Policy())
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decode unmarshals and validates a payload. Failures are terminal: a payload
// does not become well-formed by retrying.
func decode[T any](payload json.RawMessage, dst *T) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// classify turns an error into the matching outcome: transient conditions
// retry, everything else is terminal.
func classify(err error, format string, args ...any) domain.TaskOutcome {
	if errors.Is(err, domain.ErrTransient) ||
		errors.Is(err, domain.ErrThrottled) ||
		errors.Is(err, domain.ErrBusy) ||
		errors.Is(err, context.DeadlineExceeded) {
		return domain.Retry(err, format, args...)
	}
	return domain.Terminal(err, format, args...)
}

// stripFence removes a surrounding markdown code fence from model output.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
