// Package worker implements the claim-execute-finalize loop. A Worker owns
// no shared in-memory state: several workers in one process, or in separate
// processes pointing at the same database file, coordinate purely through
// the store's transactions.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"jobq/internal/otelsetup"
	"jobq/internal/resolver"
	"jobq/internal/storage"
)

// DefaultPollInterval is the sleep between iterations that found no job.
const DefaultPollInterval = 5 * time.Second

var workerSeq atomic.Int64

// DefaultID builds a worker id of the form host:pid, with a per-process
// sequence suffix so two workers in one process never share an id. The id
// tags claimed rows and guards the finalize update, so it must be unique
// among live workers.
func DefaultID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%d", host, os.Getpid(), workerSeq.Add(1))
}

// Worker claims and executes jobs sequentially until stopped.
type Worker struct {
	store    *storage.Store
	registry *resolver.Registry
	id       string
	poll     time.Duration
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Option configures a Worker.
type Option func(*Worker)

// WithID overrides the generated worker id.
func WithID(id string) Option {
	return func(w *Worker) {
		if id != "" {
			w.id = id
		}
	}
}

// WithPollInterval sets the sleep between empty iterations.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// New creates a worker bound to a store and a function registry.
func New(store *storage.Store, registry *resolver.Registry, opts ...Option) *Worker {
	w := &Worker{
		store:    store,
		registry: registry,
		id:       DefaultID(),
		poll:     DefaultPollInterval,
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker's identifier.
func (w *Worker) ID() string { return w.id }

// Start runs the claim loop until Stop is called or ctx is cancelled. An
// in-progress job always runs to completion before the loop exits. Store
// errors do not stop the loop; it retries after an exponential backoff.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("worker starting",
		slog.String("worker_id", w.id),
		slog.Duration("poll_interval", w.poll))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("worker stopped", slog.String("worker_id", w.id))
			return
		case <-ctx.Done():
			w.logger.Info("worker context cancelled", slog.String("worker_id", w.id))
			return
		default:
		}

		processed, err := w.ProcessOne(ctx)
		switch {
		case err != nil:
			w.logger.Error("worker iteration failed",
				slog.String("worker_id", w.id),
				slog.String("error", err.Error()))
			w.sleep(ctx, bo.NextBackOff())
		case processed:
			bo.Reset()
		default:
			bo.Reset()
			w.sleep(ctx, w.poll)
		}
	}
}

// Stop signals the loop to exit after finishing any in-progress job and
// waits for it to return. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

// ProcessOne performs one iteration: sweep expired running jobs, then claim
// and execute at most one job. Reports whether a job was executed.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	swept, err := w.store.SweepTimeouts(ctx)
	if err != nil {
		return false, err
	}
	if swept > 0 {
		w.logger.Info("swept timed-out jobs",
			slog.String("worker_id", w.id), slog.Int("count", swept))
		otelsetup.AddJobsTimedOut(ctx, int64(swept))
	}

	claim, err := w.store.ClaimNext(ctx, w.id)
	if err != nil {
		return false, err
	}
	if claim == nil {
		return false, nil
	}

	j := claim.Job
	w.logger.Info("claimed job",
		slog.String("worker_id", w.id),
		slog.String("job_id", j.ID),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts))

	// Execution happens outside any transaction. The timeout is enforced by
	// the sweep of a future iteration, not by interrupting the function.
	out := w.execute(ctx, j)

	reassigned, err := w.store.Finalize(context.WithoutCancel(ctx), claim, out)
	if err != nil {
		return true, err
	}
	if reassigned {
		// The sweep moved the job on while we were executing; neither the
		// job row nor its already-closed execution row was changed.
		w.logger.Warn("finalize skipped: job reassigned by timeout sweep",
			slog.String("worker_id", w.id),
			slog.String("job_id", j.ID))
		return true, nil
	}

	if out.Err == "" {
		w.logger.Info("job completed",
			slog.String("worker_id", w.id),
			slog.String("job_id", j.ID))
		otelsetup.AddJobsCompleted(ctx, 1)
	} else {
		w.logger.Warn("job attempt failed",
			slog.String("worker_id", w.id),
			slog.String("job_id", j.ID),
			slog.Int("attempt", j.Attempts),
			slog.String("error", out.Err))
		if j.Attempts >= j.MaxAttempts {
			otelsetup.AddJobsFailed(ctx, 1)
		}
	}
	return true, nil
}

// execute resolves and runs the job's function, converting every failure
// mode — resolve failure, returned error, panic — into an Outcome.
func (w *Worker) execute(ctx context.Context, j *storage.Job) (out storage.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = storage.Outcome{Err: fmt.Sprintf("panic: %v", r)}
		}
	}()

	fn, err := w.registry.Resolve(j.FunctionID)
	if err != nil {
		return storage.Outcome{Err: err.Error()}
	}

	value, err := fn(ctx, j.Params)
	if err != nil {
		return storage.Outcome{Err: err.Error()}
	}
	return storage.Outcome{Value: value}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-w.stopCh:
	case <-ctx.Done():
	}
}
