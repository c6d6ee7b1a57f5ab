package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Claim is the result of a successful claim: the job as of the running
// transition plus the id of the freshly opened execution row.
type Claim struct {
	Job         *Job
	ExecutionID string
}

// ClaimNext atomically claims the highest-priority eligible pending job for
// workerID: status becomes running, attempts is incremented, and a running
// execution row is opened, all in one immediate-mode transaction. Candidates
// whose dependencies can never complete are cancelled in the same
// transaction. Returns nil when no job is eligible.
//
// The transaction takes SQLite's write lock at BEGIN, so two workers racing
// for the same candidate serialize: the loser re-reads after the winner's
// commit and the status='pending' guard on the update keeps it from claiming
// the same row.
func (s *Store) ClaimNext(ctx context.Context, workerID string) (*Claim, error) {
	var claim *Claim
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM jobs WHERE status = ?
			ORDER BY priority DESC, created_at ASC, id ASC`,
			string(StatusPending))
		if err != nil {
			return fmt.Errorf("storage: scan pending jobs: %w", err)
		}
		candidates, err := collectJobs(rows)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, j := range candidates {
			eligible, blocker, err := checkDependencies(ctx, tx, j)
			if err != nil {
				return err
			}
			if blocker != "" {
				// A dependency ended in a terminal non-completed state;
				// this job can never become eligible.
				if err := cancelDependent(ctx, tx, j.ID, blocker, now); err != nil {
					return err
				}
				continue
			}
			if !eligible {
				continue
			}

			res, err := tx.ExecContext(ctx, `
				UPDATE jobs SET status = ?, worker_id = ?, started_at = ?,
					attempts = attempts + 1, updated_at = ?
				WHERE id = ? AND status = ?`,
				string(StatusRunning), workerID, fmtTime(now), fmtTime(now),
				j.ID, string(StatusPending))
			if err != nil {
				return fmt.Errorf("storage: claim job %s: %w", j.ID, err)
			}
			if n, _ := res.RowsAffected(); n != 1 {
				continue
			}

			execID := uuid.NewString()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO job_executions (id, job_id, worker_id, started_at, status)
				VALUES (?, ?, ?, ?, ?)`,
				execID, j.ID, workerID, fmtTime(now), string(ExecRunning)); err != nil {
				return fmt.Errorf("storage: open execution for job %s: %w", j.ID, err)
			}

			j.Status = StatusRunning
			j.WorkerID = workerID
			j.StartedAt = &now
			j.UpdatedAt = now
			j.Attempts++
			claim = &Claim{Job: j, ExecutionID: execID}
			return nil
		}
		return nil
	})
	return claim, err
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
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

// checkDependencies reports whether every dependency of j is completed.
// blocker is the id of a dependency in a terminal non-completed state, if
// any; such a job must be cancelled rather than kept waiting. A dependency
// id that matches no row keeps the job pending forever, per contract.
func checkDependencies(ctx context.Context, tx *sql.Tx, j *Job) (eligible bool, blocker string, err error) {
	eligible = true
	for _, depID := range j.Dependencies {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM jobs WHERE id = ?`, depID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			eligible = false
			continue
		}
		if err != nil {
			return false, "", fmt.Errorf("storage: check dependency %s: %w", depID, err)
		}
		dep := Status(status)
		if dep == StatusCompleted {
			continue
		}
		if dep.Terminal() {
			return false, depID, nil
		}
		eligible = false
	}
	return eligible, "", nil
}

func cancelDependent(ctx context.Context, tx *sql.Tx, id, depID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusCancelled),
		fmt.Sprintf("cancelled: dependency %s did not complete", depID),
		fmtTime(now), fmtTime(now), id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("storage: cancel dependent %s: %w", id, err)
	}
	return nil
}

// SweepTimeouts promotes expired running jobs out of that state: the open
// execution is closed as timeout, and the job either returns to pending
// (attempts remaining) or becomes terminally timed out. The claim already
// counted the attempt, so the sweep does not increment again. Returns the
// number of jobs swept.
func (s *Store) SweepTimeouts(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	swept := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM jobs WHERE status = ?`,
			string(StatusRunning))
		if err != nil {
			return fmt.Errorf("storage: scan running jobs: %w", err)
		}
		running, err := collectJobs(rows)
		if err != nil {
			return err
		}

		for _, j := range running {
			if j.StartedAt == nil {
				continue
			}
			deadline := j.StartedAt.Add(time.Duration(j.TimeoutSeconds) * time.Second)
			if !now.After(deadline) {
				continue
			}

			timeoutMsg := fmt.Sprintf("timed out after %d seconds", j.TimeoutSeconds)
			if _, err := tx.ExecContext(ctx, `
				UPDATE job_executions SET status = ?, completed_at = ?, error = ?
				WHERE job_id = ? AND status = ?`,
				string(ExecTimeout), fmtTime(now), timeoutMsg,
				j.ID, string(ExecRunning)); err != nil {
				return fmt.Errorf("storage: close timed-out execution for %s: %w", j.ID, err)
			}

			if j.Attempts < j.MaxAttempts {
				_, err = tx.ExecContext(ctx, `
					UPDATE jobs SET status = ?, worker_id = NULL, started_at = NULL, updated_at = ?
					WHERE id = ? AND status = ?`,
					string(StatusPending), fmtTime(now), j.ID, string(StatusRunning))
			} else {
				_, err = tx.ExecContext(ctx, `
					UPDATE jobs SET status = ?, completed_at = ?, error = ?, updated_at = ?
					WHERE id = ? AND status = ?`,
					string(StatusTimeout), fmtTime(now), timeoutMsg, fmtTime(now),
					j.ID, string(StatusRunning))
			}
			if err != nil {
				return fmt.Errorf("storage: sweep job %s: %w", j.ID, err)
			}
			swept++
		}
		return nil
	})
	return swept, err
}

// Outcome is the result of executing a job's function: a value or an error
// message, never both.
type Outcome struct {
	Value any
	Err   string
}

// Finalize records the outcome of an execution. The job-row update is
// conditional on (id, worker_id, status='running'): if the timeout sweep
// already reassigned the job, zero rows match and the late outcome is
// discarded; the execution row the sweep closed is left as it is. Returns
// reassigned=true in that case.
func (s *Store) Finalize(ctx context.Context, c *Claim, out Outcome) (reassigned bool, err error) {
	now := time.Now().UTC()
	j := c.Job

	var result []byte
	if out.Err == "" {
		if result, err = encodeJSON(out.Value); err != nil {
			// An unencodable return value is a job failure, not a crash.
			out = Outcome{Err: err.Error()}
		}
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var res sql.Result
		var updErr error
		switch {
		case out.Err == "":
			res, updErr = tx.ExecContext(ctx, `
				UPDATE jobs SET status = ?, completed_at = ?, result = ?, updated_at = ?
				WHERE id = ? AND worker_id = ? AND status = ?`,
				string(StatusCompleted), fmtTime(now), nullableBytes(result), fmtTime(now),
				j.ID, j.WorkerID, string(StatusRunning))
		case j.Attempts < j.MaxAttempts:
			res, updErr = tx.ExecContext(ctx, `
				UPDATE jobs SET status = ?, worker_id = NULL, started_at = NULL,
					error = ?, updated_at = ?
				WHERE id = ? AND worker_id = ? AND status = ?`,
				string(StatusPending), out.Err, fmtTime(now),
				j.ID, j.WorkerID, string(StatusRunning))
		default:
			res, updErr = tx.ExecContext(ctx, `
				UPDATE jobs SET status = ?, completed_at = ?, error = ?, updated_at = ?
				WHERE id = ? AND worker_id = ? AND status = ?`,
				string(StatusFailed), fmtTime(now), out.Err, fmtTime(now),
				j.ID, j.WorkerID, string(StatusRunning))
		}
		if updErr != nil {
			return fmt.Errorf("storage: finalize job %s: %w", j.ID, updErr)
		}
		n, _ := res.RowsAffected()
		reassigned = n == 0

		execStatus, execErr := ExecCompleted, any(nil)
		var execResult any
		if out.Err != "" {
			execStatus = ExecFailed
			execErr = out.Err
		} else {
			execResult = nullableBytes(result)
		}
		// The status guard keeps an execution row that was already closed
		// (by the timeout sweep or RequeueRunning) immutable, so for a
		// reassigned job this update changes nothing.
		if _, err := tx.ExecContext(ctx, `
			UPDATE job_executions SET status = ?, completed_at = ?, result = ?, error = ?
			WHERE id = ? AND status = ?`,
			string(execStatus), fmtTime(now), execResult, execErr,
			c.ExecutionID, string(ExecRunning)); err != nil {
			return fmt.Errorf("storage: close execution %s: %w", c.ExecutionID, err)
		}
		return nil
	})
	return reassigned, err
}
