// Package domain holds the core entities, error taxonomy, and ports of the
// algorithm-problem assistant backend. Adapters implement the ports; tasks and
// usecases depend only on this package.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrThrottled          = errors.New("throttled")
	ErrTransient          = errors.New("transient")
	ErrRateLimited        = errors.New("rate limited")
	ErrValidation         = errors.New("validation failed")
	ErrProvider           = errors.New("provider error")
	ErrBusy               = errors.New("busy")
	ErrInternal           = errors.New("internal error")
)

// Context is an alias so ports read uniformly; adapters pass context.Context.
type Context = context.Context

// Unlimited marks a plan quota with no cap.
const Unlimited = -1

// User is an authenticated account. OAuthID is the external identity used by
// the auth boundary; it is indexed hash-only (GSI2).
type User struct {
	ID        string
	Email     string
	Name      string
	Picture   string
	OAuthID   string
	PlanID    string
	Active    bool
	Staff     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Plan is a subscription plan. Quotas use Unlimited (-1) for no cap.
type Plan struct {
	ID                  string
	Name                string
	MaxHintsPerDay      int
	MaxExecutionsPerDay int
	MaxProblems         int
	CanViewAll          bool
	CanRegister         bool
}

// TestCase is a single input/output pair. Bodies live in the object store,
// not in the base table.
type TestCase struct {
	ID     string `json:"id"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Problem is a registered algorithm problem. TestCaseCount is denormalized
// from the test-case manifest (tcc) and must converge with the stored blob.
type Problem struct {
	Platform      string
	ProblemID     string
	Title         string
	URL           string
	Tags          []string
	Solution      string // reference solution, base64
	Language      string
	Constraints   string
	Completed     bool
	Deleted       bool
	DeletedReason string
	DeletedAt     int64
	NeedsReview   bool
	Verified      bool
	TestCaseCount int
	Metadata      map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// JobStatus is the lifecycle state of a long-running job.
// Transitions are monotonic: PENDING -> PROCESSING -> {COMPLETED, FAILED},
// plus recovery PROCESSING -> FAILED.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// JobKind discriminates the two long-running job families.
type JobKind string

const (
	JobKindScriptGeneration  JobKind = "SGJOB"
	JobKindProblemExtraction JobKind = "PEJOB"
)

// Job is a long-running background job (script generation or problem
// extraction). BrokerTaskID ties the item back to the queued message.
type Job struct {
	ID                string
	Kind              JobKind
	Platform          string
	ProblemID         string
	ProblemIdentifier string
	Title             string
	URL               string
	Tags              []string
	Language          string
	Constraints       string
	GeneratorCode     string
	Status            JobStatus
	BrokerTaskID      string
	Error             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProgressStatus labels a progress row.
type ProgressStatus string

const (
	ProgressStarted    ProgressStatus = "started"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
)

// ProgressRow is one append-only progress event under a job partition.
type ProgressRow struct {
	Step      string
	Message   string
	Status    ProgressStatus
	CreatedAt time.Time
}

// TestCaseResult is one per-case outcome of a submission run. Sandbox failures
// (timeout, memory, runtime, compile) are carried here, never as task errors.
type TestCaseResult struct {
	TestCaseID string `json:"tc"`
	Output     string `json:"out"`
	Passed     bool   `json:"ok"`
	Error      string `json:"err,omitempty"`
	Status     string `json:"st"`
}

// SearchHistory is an immutable execution record, except Hints which is set
// once by the hint task. Public entries project onto the global feed index.
type SearchHistory struct {
	ID            string
	UserID        string
	UserEmail     string
	Platform      string
	ProblemNumber string
	Title         string
	Code          string
	Language      string
	Public        bool
	Passed        int
	Failed        int
	Total         int
	ResultSummary string
	TestResults   []TestCaseResult
	Hints         []string
	Timestamp     int64 // ms since epoch, history sort key
}

// UsageAction enumerates rate-limited actions.
type UsageAction string

const (
	UsageHint      UsageAction = "hint"
	UsageExecution UsageAction = "execution"
)

// UsageRetentionSeconds is the fixed ledger TTL horizon (90 days).
const UsageRetentionSeconds = 90 * 86400

// UsageLog is one append-only ledger row. TTL is always crt + 90 days.
type UsageLog struct {
	UserID    string
	Action    UsageAction
	Problem   string
	Metadata  map[string]string
	CreatedAt int64 // unix seconds
	TTL       int64
}

// UsageDate formats a time as the ledger's UTC date partition (YYYYMMDD).
func UsageDate(t time.Time) string { return t.UTC().Format("20060102") }

// NextUTCMidnight returns the quota reset instant for a given time.
func NextUTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// Summary returns the human-readable result line for a run.
func (h SearchHistory) Summary() string {
	if h.Failed == 0 && h.Total > 0 {
		return "Passed"
	}
	return "Failed"
}
