// Package worker runs the task dispatch loop: it pulls broker messages,
// resolves handlers by task name, and settles each delivery according to the
// handler's outcome and retry policy.
package worker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

// Handler executes one task delivery and reports how it ended.
type Handler func(ctx context.Context, payload json.RawMessage) domain.TaskOutcome

// Policy is the per-task retry policy. A Retry outcome re-enqueues with
// exponential delay from RetryDelay, capped at RetryCap; once Attempt reaches
// MaxRetries the delivery is settled as exhausted.
type Policy struct {
	MaxRetries int
	RetryDelay time.Duration
	RetryCap   time.Duration
}

// DefaultPolicy returns the standard task policy.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, RetryDelay: time.Minute, RetryCap: 30 * time.Minute}
}

type registration struct {
	queue   string
	handler Handler
	policy  Policy
}

// Registry maps task names to their queue, handler, and policy.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{tasks: map[string]registration{}}
}

// Register binds a task name to its queue and handler. Re-registering a name
// replaces the previous binding.
func (r *Registry) Register(name, queue string, h Handler, p Policy) {
	if p.MaxRetries <= 0 {
		p = DefaultPolicy()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = registration{queue: queue, handler: h, policy: p}
}

func (r *Registry) resolve(name string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tasks[name]
	return reg, ok
}

// Queues returns the distinct queues the registered tasks consume, sorted.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	var queues []string
	for _, reg := range r.tasks {
		if !seen[reg.queue] {
			seen[reg.queue] = true
			queues = append(queues, reg.queue)
		}
	}
	sort.Strings(queues)
	return queues
}
