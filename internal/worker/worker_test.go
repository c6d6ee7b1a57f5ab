package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobq/internal/resolver"
	"jobq/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.NewStore(filepath.Join(t.TempDir(), "worker_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProcessOneSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	reg := resolver.NewRegistry()
	reg.Register("ok", func(_ context.Context, params map[string]any) (any, error) {
		return map[string]any{"ok": true}, nil
	})

	id, err := s.Submit(ctx, storage.NewJob("job", "ok", nil))
	require.NoError(t, err)

	w := New(s, reg, WithID("w-test"))
	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	rec, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, rec.Job.Status)
	assert.JSONEq(t, `{"ok": true}`, string(rec.Job.Result))
	require.Len(t, rec.Executions, 1)
	assert.Equal(t, storage.ExecCompleted, rec.Executions[0].Status)
	assert.JSONEq(t, `{"ok": true}`, string(rec.Executions[0].Result))
}

func TestProcessOneEmptyQueue(t *testing.T) {
	s := newTestStore(t)

	w := New(s, resolver.NewRegistry())
	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRetryUntilFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	reg := resolver.NewRegistry()
	reg.Register("boom", func(_ context.Context, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})

	j := storage.NewJob("flaky", "boom", nil)
	j.MaxAttempts = 3
	id, err := s.Submit(ctx, j)
	require.NoError(t, err)

	w := New(s, reg)
	for range 3 {
		processed, err := w.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}
	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	rec, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, rec.Job.Status)
	assert.Equal(t, 3, rec.Job.Attempts)
	assert.Equal(t, "boom", rec.Job.Error)
	require.Len(t, rec.Executions, 3)
	for _, e := range rec.Executions {
		assert.Equal(t, storage.ExecFailed, e.Status)
		assert.Equal(t, "boom", e.Error)
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	calls := 0
	reg := resolver.NewRegistry()
	reg.Register("flaky", func(_ context.Context, _ map[string]any) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return map[string]any{"attempts": calls}, nil
	})

	id, err := s.Submit(ctx, storage.NewJob("flaky", "flaky", nil))
	require.NoError(t, err)

	w := New(s, reg)
	for range 2 {
		_, err := w.ProcessOne(ctx)
		require.NoError(t, err)
	}

	rec, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, rec.Job.Status)
	assert.Equal(t, 2, rec.Job.Attempts)
	require.Len(t, rec.Executions, 2)
	assert.Equal(t, storage.ExecFailed, rec.Executions[0].Status)
	assert.Equal(t, storage.ExecCompleted, rec.Executions[1].Status)
}

func TestDependencyOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		order []string
	)
	reg := resolver.NewRegistry()
	track := func(name string) resolver.Func {
		return func(_ context.Context, _ map[string]any) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}
	reg.Register("first", track("first"))
	reg.Register("second", track("second"))

	aID, err := s.Submit(ctx, storage.NewJob("a", "first", nil))
	require.NoError(t, err)
	b := storage.NewJob("b", "second", nil)
	b.Dependencies = []string{aID}
	b.Priority = 100
	bID, err := s.Submit(ctx, b)
	require.NoError(t, err)

	w := New(s, reg)
	for range 2 {
		processed, err := w.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}

	assert.Equal(t, []string{"first", "second"}, order)

	rec, err := s.GetStatus(ctx, bID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, rec.Job.Status)
}

func TestResolveFailureCountsAsFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := storage.NewJob("ghost", "no.such.function", nil)
	j.MaxAttempts = 1
	id, err := s.Submit(ctx, j)
	require.NoError(t, err)

	w := New(s, resolver.NewRegistry())
	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	rec, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, rec.Job.Status)
	assert.Contains(t, rec.Job.Error, "not registered")
}

func TestPanicRecordedAsFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	reg := resolver.NewRegistry()
	reg.Register("panics", func(_ context.Context, _ map[string]any) (any, error) {
		panic("kaboom")
	})

	j := storage.NewJob("p", "panics", nil)
	j.MaxAttempts = 1
	id, err := s.Submit(ctx, j)
	require.NoError(t, err)

	w := New(s, reg)
	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	rec, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, rec.Job.Status)
	assert.Contains(t, rec.Job.Error, "kaboom")
}

func TestParamsReachFunction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	reg := resolver.NewRegistry()
	reg.Register("double", func(_ context.Context, params map[string]any) (any, error) {
		v := params["value"].(float64)
		return map[string]any{"result": v * 2}, nil
	})

	id, err := s.Submit(ctx, storage.NewJob("double", "double", map[string]any{"value": 21}))
	require.NoError(t, err)

	w := New(s, reg)
	_, err = w.ProcessOne(ctx)
	require.NoError(t, err)

	rec, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	var result map[string]float64
	require.NoError(t, json.Unmarshal(rec.Job.Result, &result))
	assert.Equal(t, float64(42), result["result"])
}

func TestSweepReassignsWhileExecuting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	reg := resolver.NewRegistry()
	reg.Register("slow", func(_ context.Context, _ map[string]any) (any, error) {
		time.Sleep(1500 * time.Millisecond)
		return "late", nil
	})

	j := storage.NewJob("slow", "slow", nil)
	j.MaxAttempts = 1
	j.TimeoutSeconds = 1
	id, err := s.Submit(ctx, j)
	require.NoError(t, err)

	slow := New(s, reg, WithID("slow-worker"))
	done := make(chan error, 1)
	go func() {
		_, err := slow.ProcessOne(ctx)
		done <- err
	}()

	// Give the slow worker time to claim and blow past its timeout, then
	// let a second worker's iteration run the sweep.
	time.Sleep(1200 * time.Millisecond)
	sweeper := New(s, reg, WithID("sweeper"))
	_, err = sweeper.ProcessOne(ctx)
	require.NoError(t, err)

	rec, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusTimeout, rec.Job.Status)

	// The slow worker's late finalize must not resurrect the job.
	require.NoError(t, <-done)
	rec, err = s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusTimeout, rec.Job.Status)
	assert.Empty(t, rec.Job.Result)
	require.Len(t, rec.Executions, 1)
	assert.Equal(t, storage.ExecTimeout, rec.Executions[0].Status)
}

func TestStartStop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	reg := resolver.NewRegistry()
	reg.Register("ok", func(_ context.Context, _ map[string]any) (any, error) {
		return "done", nil
	})

	id, err := s.Submit(ctx, storage.NewJob("job", "ok", nil))
	require.NoError(t, err)

	w := New(s, reg, WithPollInterval(50*time.Millisecond))
	go w.Start(ctx)

	require.Eventually(t, func() bool {
		rec, err := s.GetStatus(ctx, id)
		return err == nil && rec.Job.Status == storage.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	w.Stop()
}

func TestConcurrentWorkersShareTheQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		runs = map[string]int{}
	)
	reg := resolver.NewRegistry()
	reg.Register("count", func(_ context.Context, params map[string]any) (any, error) {
		name := params["name"].(string)
		mu.Lock()
		runs[name]++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	})

	const jobs = 12
	for i := range jobs {
		j := storage.NewJob("job", "count", map[string]any{"name": string(rune('a' + i))})
		_, err := s.Submit(ctx, j)
		require.NoError(t, err)
	}

	workers := []*Worker{
		New(s, reg, WithPollInterval(20*time.Millisecond)),
		New(s, reg, WithPollInterval(20*time.Millisecond)),
		New(s, reg, WithPollInterval(20*time.Millisecond)),
	}
	for _, w := range workers {
		go w.Start(ctx)
	}

	require.Eventually(t, func() bool {
		done, err := s.List(ctx, storage.Filter{Status: storage.StatusCompleted})
		return err == nil && len(done) == jobs
	}, 15*time.Second, 50*time.Millisecond)

	for _, w := range workers {
		w.Stop()
	}

	// Every job ran exactly once: claims never overlapped.
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, runs, jobs)
	for name, n := range runs {
		assert.Equal(t, 1, n, "job %s ran %d times", name, n)
	}
}
