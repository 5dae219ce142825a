package domain

import (
	"encoding/json"
	"time"
)

// Condition expresses a conditional-write guard evaluated atomically with the
// mutation. The zero value means unconditional.
type Condition struct {
	Exists    bool
	NotExists bool
	// AttrEquals guards on a single dat attribute value when Attr != "".
	Attr  string
	Value any
}

// CondExists requires the item to exist.
func CondExists() Condition { return Condition{Exists: true} }

// CondNotExists requires the item to be absent.
func CondNotExists() Condition { return Condition{NotExists: true} }

// CondAttrEquals requires dat[attr] == value on the current item.
func CondAttrEquals(attr string, value any) Condition {
	return Condition{Exists: true, Attr: attr, Value: value}
}

// Page is a single listing page with an opaque, stable continuation cursor.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// Repositories (ports)

type UserRepository interface {
	Create(ctx Context, u User) error
	Get(ctx Context, id string) (User, error)
	GetByEmail(ctx Context, email string) (User, error)
	GetByOAuthID(ctx Context, oauthID string) (User, error)
	Update(ctx Context, u User) error
}

type PlanRepository interface {
	Put(ctx Context, p Plan) error
	Get(ctx Context, id string) (Plan, error)
	List(ctx Context) ([]Plan, error)
}

type ProblemRepository interface {
	Create(ctx Context, p Problem) error
	Get(ctx Context, platform, problemID string) (Problem, error)
	// UpdateFields merges dat fields and rewrites the status index key in the
	// same put. Guarded by cond.
	UpdateFields(ctx Context, platform, problemID string, fields map[string]any, cond Condition) error
	SetTestCaseCount(ctx Context, platform, problemID string, n int) error
	SetCompleted(ctx Context, platform, problemID string) error
	SoftDelete(ctx Context, platform, problemID, reason string) error
	// ListByStatus reads the sparse status index newest-first.
	ListByStatus(ctx Context, completed bool, cursor string, limit int) (Page[Problem], error)
}

type JobRepository interface {
	Create(ctx Context, j Job) error
	Get(ctx Context, kind JobKind, id string) (Job, error)
	// Transition performs the conditional status move from -> to. A lost race
	// surfaces as ErrPreconditionFailed; callers treat it as no-op success.
	Transition(ctx Context, kind JobKind, id string, from, to JobStatus, errMsg string) error
	SetGeneratorCode(ctx Context, id string, code string) error
	SetBrokerTaskID(ctx Context, kind JobKind, id, taskID string) error
	ListByStatus(ctx Context, kind JobKind, status JobStatus, cursor string, limit int) (Page[Job], error)
	Delete(ctx Context, kind JobKind, id string) error
}

type ProgressRepository interface {
	Append(ctx Context, kind JobKind, jobID string, row ProgressRow) error
	List(ctx Context, kind JobKind, jobID string) ([]ProgressRow, error)
	DeleteAll(ctx Context, kind JobKind, jobID string) error
}

type HistoryRepository interface {
	Create(ctx Context, h SearchHistory) (string, error)
	Get(ctx Context, id string) (SearchHistory, error)
	// SetHints writes hints once; a second call observes hints present and
	// returns ErrPreconditionFailed.
	SetHints(ctx Context, id string, hints []string) error
	SetPublic(ctx Context, id string, public bool) error
	ListByUser(ctx Context, email, platform, problemNumber string, cursor string, limit int) (Page[SearchHistory], error)
	// PublicFeed reads the global PUBLIC#HIST projection newest-first.
	PublicFeed(ctx Context, cursor string, limit int) (Page[SearchHistory], error)
}

type UsageRepository interface {
	// Append is the idempotent ledger write; the (ts, action) sort key is the
	// idempotency key.
	Append(ctx Context, log UsageLog) error
	// Count is the single-partition O(1)-cost daily count.
	Count(ctx Context, userID string, action UsageAction, date string) (int, error)
}

// Broker (port)

// EnqueueOptions tune a single enqueue.
type EnqueueOptions struct {
	// NotBefore delays consumption until the given instant (retry scheduling).
	NotBefore time.Time
	// Attempt carries the delivery attempt for re-enqueued messages.
	Attempt int
}

// Message is one dequeued broker delivery.
type Message struct {
	ID        string
	Queue     string
	TaskName  string
	Payload   json.RawMessage
	Attempt   int
	NotBefore time.Time
	// Deadline is the visibility deadline for this delivery.
	Deadline time.Time
}

type Broker interface {
	Enqueue(ctx Context, queue, taskName string, payload any, opts EnqueueOptions) (string, error)
}

// ObjectStore is the versioned blob storage port.

type BlobInfo struct {
	Key     string
	Version int64
	Size    int64
}

type ObjectStore interface {
	Put(ctx Context, key string, body []byte) (BlobInfo, error)
	Get(ctx Context, key string) ([]byte, BlobInfo, error)
	Head(ctx Context, key string) (BlobInfo, error)
	Delete(ctx Context, key string) error
}

// Runner is the sandboxed code-execution port.

type RunSpec struct {
	Code     string
	Language string
	Stdin    string
	Timeout  time.Duration
	MemoryMB int
}

type RunResult struct {
	Stdout  string
	Stderr  string
	Status  string // ok | timeout | memory | runtime_error | compile_error
	Elapsed time.Duration
}

type Runner interface {
	Run(ctx Context, spec RunSpec) (RunResult, error)
}

// LLM (port)

// ProblemMetadata is the structured extraction result for a problem page.
type ProblemMetadata struct {
	Title       string   `json:"title" validate:"required"`
	Tags        []string `json:"tags"`
	Constraints string   `json:"constraints"`
	Solution    string   `json:"solution"`
	Language    string   `json:"language"`
}

// GenerateOptions tune a single text generation call.
type GenerateOptions struct {
	Provider    string // "" uses the configured default
	Model       string
	MaxTokens   int
	JSONSchema  string // non-empty requests structured JSON output
	Temperature *float64
}

// GenerateResult is the provider-agnostic response shape.
type GenerateResult struct {
	Text         string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

type LLM interface {
	ExtractMetadata(ctx Context, pageMarkdown string, hints map[string]string) (ProblemMetadata, error)
	Generate(ctx Context, prompt string, opts GenerateOptions) (GenerateResult, error)
}

// Fetcher retrieves webpages for problem extraction.

type FetchedPage struct {
	URL      string
	Title    string
	Markdown string
}

type Fetcher interface {
	Fetch(ctx Context, url string) (FetchedPage, error)
}

// RateLimiter makes the hot-path quota decision.

type UsageDecision struct {
	Allowed      bool
	CurrentCount int
	Limit        int
	ResetAt      time.Time
}

type RateLimiter interface {
	Check(ctx Context, user User, action UsageAction) (UsageDecision, error)
	// Record appends the ledger row fire-and-forget and bumps the cached count.
	Record(ctx Context, user User, action UsageAction, problem string)
}

// TestCaseStore reads and writes test-case bundles through the object store
// and keeps the problem's test-case count in sync.

type TestCaseStore interface {
	Save(ctx Context, platform, problemID string, cases []TestCase) error
	Load(ctx Context, platform, problemID string) ([]TestCase, error)
	Delete(ctx Context, platform, problemID string) error
}
