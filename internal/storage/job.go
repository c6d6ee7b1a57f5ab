package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status enumerates the lifecycle states of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether a job in this status will never run again
// unless explicitly requeued.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Valid reports whether s is a known job status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// ExecStatus enumerates the states of a single execution attempt.
type ExecStatus string

const (
	ExecRunning   ExecStatus = "running"
	ExecCompleted ExecStatus = "completed"
	ExecFailed    ExecStatus = "failed"
	ExecTimeout   ExecStatus = "timeout"
)

// Job is one row of the jobs table: a function identifier plus parameters
// and the retry/timeout policy governing its execution.
type Job struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	FunctionID     string          `json:"function_identifier"`
	Params         map[string]any  `json:"parameters,omitempty"`
	Priority       int             `json:"priority"`
	Dependencies   []string        `json:"dependencies,omitempty"`
	MaxAttempts    int             `json:"max_attempts"`
	Attempts       int             `json:"attempts"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	Status         Status          `json:"status"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	WorkerID       string          `json:"worker_id,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	WorkflowID     string          `json:"executing_workflow_id,omitempty"`
}

// NewJob builds a job with the defaults used when a policy field is left
// unset: three attempts, a five minute timeout, priority zero.
func NewJob(name, functionID string, params map[string]any) *Job {
	return &Job{
		ID:             uuid.NewString(),
		Name:           name,
		FunctionID:     functionID,
		Params:         params,
		MaxAttempts:    3,
		TimeoutSeconds: 300,
	}
}

// Validate checks the requirements enforced at submit time.
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidJob)
	}
	if j.FunctionID == "" {
		return fmt.Errorf("%w: function identifier is required", ErrInvalidJob)
	}
	if j.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be at least 1", ErrInvalidJob)
	}
	if j.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: timeout_seconds must be positive", ErrInvalidJob)
	}
	return nil
}

// Execution is one row of the job_executions table: a single attempt at
// running a job. Rows are append-only once their status leaves running.
type Execution struct {
	ID          string          `json:"id"`
	JobID       string          `json:"job_id"`
	WorkerID    string          `json:"worker_id"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Status      ExecStatus      `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// encodeJSON marshals v, mapping failures to ErrSerialization.
func encodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return b, nil
}

// encodeParams serializes the parameter map, or NULL when empty.
func encodeParams(params map[string]any) (any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	b, err := encodeJSON(params)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// encodeDeps serializes the dependency id list. An empty list is stored as
// an empty JSON array so the column is never NULL.
func encodeDeps(deps []string) ([]byte, error) {
	if deps == nil {
		deps = []string{}
	}
	return encodeJSON(deps)
}
