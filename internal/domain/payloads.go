package domain

// Task names as registered with the worker dispatcher. The broker carries the
// name in a message header; the registry resolves it to a handler.
const (
	TaskExtractProblem    = "problem.extract"
	TaskGenerateScript    = "script.generate"
	TaskGenerateOutputs   = "outputs.generate"
	TaskExecuteSubmission = "submission.execute"
	TaskGenerateHints     = "hints.generate"
	TaskDeleteJob         = "job.delete"
	TaskRecoverOrphans    = "jobs.recover"
)

// Queue names. Each task declares its queue at registration.
const (
	QueueJobs        = "jobs"
	QueueExecution   = "execution"
	QueueGeneration  = "generation"
	QueueAI          = "ai"
	QueueMaintenance = "maintenance"
)

// ExtractProblemPayload drives the problem.extract task.
type ExtractProblemPayload struct {
	JobID             string `json:"job_id" validate:"required"`
	Platform          string `json:"platform" validate:"required"`
	URL               string `json:"url" validate:"required,url"`
	ProblemIdentifier string `json:"problem_identifier" validate:"required"`
}

// GenerateScriptPayload drives the script.generate task.
type GenerateScriptPayload struct {
	JobID     string `json:"job_id" validate:"required"`
	Platform  string `json:"platform" validate:"required"`
	ProblemID string `json:"problem_id" validate:"required"`
}

// GenerateOutputsPayload drives the outputs.generate task.
type GenerateOutputsPayload struct {
	Platform  string   `json:"platform" validate:"required"`
	ProblemID string   `json:"problem_id" validate:"required"`
	Inputs    []string `json:"inputs" validate:"required,min=1"`
}

// ExecuteSubmissionPayload drives the submission.execute task.
type ExecuteSubmissionPayload struct {
	Platform          string `json:"platform" validate:"required"`
	ProblemIdentifier string `json:"problem_identifier" validate:"required"`
	Code              string `json:"code" validate:"required"`
	Language          string `json:"language" validate:"required"`
	UserID            string `json:"user_id" validate:"required"`
	UserEmail         string `json:"user_email" validate:"required,email"`
	IsPublic          bool   `json:"is_public"`
}

// GenerateHintsPayload drives the hints.generate task.
type GenerateHintsPayload struct {
	HistoryID string `json:"history_id" validate:"required"`
}

// DeleteJobPayload drives the admin-only job.delete task.
type DeleteJobPayload struct {
	Kind  JobKind `json:"kind" validate:"required"`
	JobID string  `json:"job_id" validate:"required"`
}

// RecoverOrphansPayload drives the periodic jobs.recover sweep. Threshold
// seconds of zero uses the configured default.
type RecoverOrphansPayload struct {
	ThresholdSeconds int64 `json:"threshold_seconds"`
}
