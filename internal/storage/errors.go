package storage

import "errors"

var (
	// ErrInvalidJob indicates a job failed validation at submit time.
	ErrInvalidJob = errors.New("storage: invalid job")
	// ErrNotFound indicates a lookup of an unknown job id.
	ErrNotFound = errors.New("storage: job not found")
	// ErrConflict indicates a state transition not permitted by the job's
	// current status, e.g. cancelling a running job.
	ErrConflict = errors.New("storage: conflicting job status")
	// ErrSerialization indicates parameters or a result could not be
	// encoded as JSON.
	ErrSerialization = errors.New("storage: value not serializable")
)
