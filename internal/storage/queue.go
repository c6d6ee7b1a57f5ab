package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// jobColumns is the select list matched by scanJob.
const jobColumns = `id, name, function_identifier, parameters, priority, dependencies,
	max_attempts, attempts, timeout_seconds, status, description,
	created_at, updated_at, started_at, completed_at, worker_id, result, error,
	executing_workflow_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                    Job
		params, deps, result []byte
		createdAt, updatedAt string
		startedAt, completedAt, workerID, errMsg, workflowID sql.NullString
	)
	err := row.Scan(&j.ID, &j.Name, &j.FunctionID, &params, &j.Priority, &deps,
		&j.MaxAttempts, &j.Attempts, &j.TimeoutSeconds, &j.Status, &j.Description,
		&createdAt, &updatedAt, &startedAt, &completedAt, &workerID, &result, &errMsg,
		&workflowID)
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Params); err != nil {
			return nil, fmt.Errorf("storage: decode parameters for job %s: %w", j.ID, err)
		}
	}
	if len(deps) > 0 {
		if err := json.Unmarshal(deps, &j.Dependencies); err != nil {
			return nil, fmt.Errorf("storage: decode dependencies for job %s: %w", j.ID, err)
		}
	}
	j.Result = json.RawMessage(result)

	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("storage: decode created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("storage: decode updated_at for job %s: %w", j.ID, err)
	}
	if j.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, fmt.Errorf("storage: decode started_at for job %s: %w", j.ID, err)
	}
	if j.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("storage: decode completed_at for job %s: %w", j.ID, err)
	}
	j.WorkerID = workerID.String
	j.Error = errMsg.String
	j.WorkflowID = workflowID.String
	return &j, nil
}

// Submit validates and inserts a job in pending state, returning its id.
// Dependency ids are not verified to exist; eligibility is evaluated lazily
// by workers at claim time.
func (s *Store) Submit(ctx context.Context, j *Job) (string, error) {
	return s.SubmitWorkflow(ctx, j, "")
}

// SubmitWorkflow inserts a job tagged with a workflow id. An empty
// workflowID submits a standalone job.
func (s *Store) SubmitWorkflow(ctx context.Context, j *Job, workflowID string) (string, error) {
	if err := j.Validate(); err != nil {
		return "", err
	}
	params, err := encodeParams(j.Params)
	if err != nil {
		return "", err
	}
	deps, err := encodeDeps(j.Dependencies)
	if err != nil {
		return "", err
	}

	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	j.Status = StatusPending
	j.Attempts = 0
	j.CreatedAt = now
	j.UpdatedAt = now
	j.WorkflowID = workflowID

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, function_identifier, parameters, priority,
			dependencies, max_attempts, attempts, timeout_seconds, status,
			description, created_at, updated_at, executing_workflow_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Name, j.FunctionID, params, j.Priority, deps,
		j.MaxAttempts, j.TimeoutSeconds, string(StatusPending),
		j.Description, fmtTime(now), fmtTime(now), nullable(workflowID))
	if err != nil {
		return "", fmt.Errorf("storage: submit job %s: %w", j.Name, err)
	}
	return j.ID, nil
}

// Cancel marks a pending or failed job as cancelled. It returns whether a
// row was modified; cancelling a running or already-terminal job reports
// false. A running job is never interrupted in-process — callers wait for
// it to finish or rely on the timeout sweep.
func (s *Store) Cancel(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	// completed_at is stamped so cleanup can age cancelled jobs out.
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(StatusCancelled), fmtTime(now), fmtTime(now), id,
		string(StatusPending), string(StatusFailed))
	if err != nil {
		return false, fmt.Errorf("storage: cancel job %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Requeue resets a failed, cancelled, or timed-out job back to pending with
// its attempt counter zeroed and worker/error/result/timestamps cleared.
// Returns whether a row was modified.
func (s *Store) Requeue(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempts = 0, worker_id = NULL,
			error = NULL, result = NULL, started_at = NULL, completed_at = NULL,
			updated_at = ?
		WHERE id = ? AND status IN (?, ?, ?)`,
		string(StatusPending), fmtTime(now), id,
		string(StatusFailed), string(StatusCancelled), string(StatusTimeout))
	if err != nil {
		return false, fmt.Errorf("storage: requeue job %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// StatusRecord is a job row together with its execution history.
type StatusRecord struct {
	Job        *Job        `json:"job"`
	Executions []Execution `json:"executions"`
}

// GetStatus returns the job row plus its executions ordered by started_at
// ascending. Returns ErrNotFound for an unknown id.
func (s *Store) GetStatus(ctx context.Context, id string) (*StatusRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, worker_id, started_at, completed_at, status, result, error
		FROM job_executions WHERE job_id = ? ORDER BY started_at ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("storage: list executions for %s: %w", id, err)
	}
	defer rows.Close()

	rec := &StatusRecord{Job: j}
	for rows.Next() {
		var (
			e                   Execution
			startedAt           string
			completedAt, errMsg sql.NullString
			result              []byte
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.WorkerID, &startedAt,
			&completedAt, &e.Status, &result, &errMsg); err != nil {
			return nil, err
		}
		if e.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("storage: decode started_at for execution %s: %w", e.ID, err)
		}
		if e.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, fmt.Errorf("storage: decode completed_at for execution %s: %w", e.ID, err)
		}
		e.Result = json.RawMessage(result)
		e.Error = errMsg.String
		rec.Executions = append(rec.Executions, e)
	}
	return rec, rows.Err()
}

// Filter narrows a List query. Zero values mean "any".
type Filter struct {
	Status     Status
	WorkflowID string
	Limit      int
}

// List returns jobs matching the filter, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs`
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.WorkflowID != "" {
		conds = append(conds, "executing_workflow_id = ?")
		args = append(args, f.WorkflowID)
	}
	for i, c := range conds {
		if i == 0 {
			q += " WHERE " + c
		} else {
			q += " AND " + c
		}
	}
	q += " ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Cleanup deletes terminally-statused jobs whose completed_at is older than
// the cutoff, together with their executions, in a single transaction.
// Returns the number of jobs removed. Jobs in non-terminal status are never
// touched.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := fmtTime(time.Now().UTC().Add(-olderThan))
	terminal := []any{
		string(StatusCompleted), string(StatusFailed),
		string(StatusCancelled), string(StatusTimeout),
	}

	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		args := append([]any{}, terminal...)
		args = append(args, cutoff)
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM job_executions WHERE job_id IN (
				SELECT id FROM jobs
				WHERE status IN (?, ?, ?, ?)
				AND completed_at IS NOT NULL AND completed_at < ?
			)`, args...); err != nil {
			return fmt.Errorf("storage: cleanup executions: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE status IN (?, ?, ?, ?)
			AND completed_at IS NOT NULL AND completed_at < ?`, args...)
		if err != nil {
			return fmt.Errorf("storage: cleanup jobs: %w", err)
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}

// RequeueRunning resets any jobs still marked running back to pending and
// closes their open executions. Called at standalone-server startup, where
// running rows can only be leftovers of a crashed process.
// The already-counted attempt is kept, mirroring the timeout sweep.
func (s *Store) RequeueRunning(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	var reset int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE job_executions SET status = ?, completed_at = ?, error = ?
			WHERE status = ?`,
			string(ExecTimeout), fmtTime(now), "worker lost", string(ExecRunning)); err != nil {
			return fmt.Errorf("storage: close orphaned executions: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, worker_id = NULL, started_at = NULL, updated_at = ?
			WHERE status = ?`,
			string(StatusPending), fmtTime(now), string(StatusRunning))
		if err != nil {
			return fmt.Errorf("storage: requeue running jobs: %w", err)
		}
		reset, _ = res.RowsAffected()
		return nil
	})
	return reset, err
}
