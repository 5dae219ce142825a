package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TasksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_enqueued_total",
			Help: "Total number of tasks enqueued by queue and task name",
		},
		[]string{"queue", "task"},
	)
	TasksInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tasks_in_flight",
			Help: "Number of tasks currently executing",
		},
		[]string{"queue", "task"},
	)
	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_completed_total",
			Help: "Total number of tasks finished by outcome",
		},
		[]string{"queue", "task", "outcome"},
	)
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		},
		[]string{"queue", "task"},
	)
	TasksDeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_dead_lettered_total",
			Help: "Total number of messages routed to the dead-letter store",
		},
		[]string{"queue", "task"},
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of LLM requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 900},
		},
		[]string{"provider", "operation"},
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Rate limit decisions by action and result",
		},
		[]string{"action", "result"},
	)
	UsageLogFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_log_failures_total",
			Help: "Fire-and-forget ledger writes that failed",
		},
	)
	UsageCountCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_count_cache_total",
			Help: "Usage count cache lookups by result",
		},
		[]string{"result"},
	)

	StoreRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_retries_total",
			Help: "Store operations retried after throttling",
		},
		[]string{"op"},
	)
	RunnerInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runner_invocations_total",
			Help: "Sandbox runner invocations by status",
		},
		[]string{"status"},
	)
)

// InitMetrics registers all collectors with the default registry.
func InitMetrics() {
	prometheus.MustRegister(TasksEnqueuedTotal)
	prometheus.MustRegister(TasksInFlight)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(TasksDeadLetteredTotal)
	prometheus.MustRegister(LLMRequestsTotal)
	prometheus.MustRegister(LLMRequestDuration)
	prometheus.MustRegister(RateLimitDecisionsTotal)
	prometheus.MustRegister(UsageLogFailuresTotal)
	prometheus.MustRegister(UsageCountCacheHits)
	prometheus.MustRegister(StoreRetriesTotal)
	prometheus.MustRegister(RunnerInvocationsTotal)
}
