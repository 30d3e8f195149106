package jobqueue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/jobqueue"
)

type recorder struct {
	mu        sync.Mutex
	active    []string
	completed map[string]json.RawMessage
	failed    map[string]string
}

func newRecorder() *recorder {
	return &recorder{completed: map[string]json.RawMessage{}, failed: map[string]string{}}
}

func (r *recorder) JobActive(_ context.Context, job *jobqueue.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = append(r.active, job.ID)
}

func (r *recorder) JobCompleted(_ context.Context, job *jobqueue.Job, result json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[job.ID] = result
}

func (r *recorder) JobFailed(_ context.Context, job *jobqueue.Job, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[job.ID] = err.Error()
}

func (r *recorder) snapshot() (int, map[string]json.RawMessage, map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	completed := make(map[string]json.RawMessage, len(r.completed))
	for k, v := range r.completed {
		completed[k] = v
	}
	failed := make(map[string]string, len(r.failed))
	for k, v := range r.failed {
		failed[k] = v
	}
	return len(r.active), completed, failed
}

func startRunner(t *testing.T, runner *jobqueue.Runner) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("runner did not stop")
		}
	})
}

func TestRunnerReportsCompletionAndFinalFailure(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	rec := newRecorder()

	runner := jobqueue.NewRunner(store, jobqueue.RunnerOptions{PollInterval: 5 * time.Millisecond, Listener: rec})
	require.NoError(t, runner.Register("write", func(_ context.Context, job *jobqueue.Job) (json.RawMessage, error) {
		var body struct {
			Fail bool `json:"fail"`
		}
		if err := json.Unmarshal(job.Payload, &body); err != nil {
			return nil, err
		}
		if body.Fail {
			return nil, errors.New("writer refused")
		}
		return json.RawMessage(`{"draft":"done"}`), nil
	}, 2))

	okID, err := store.Enqueue(ctx, "write", map[string]bool{"fail": false}, jobqueue.Options{})
	require.NoError(t, err)
	badID, err := store.Enqueue(ctx, "write", map[string]bool{"fail": true}, jobqueue.Options{})
	require.NoError(t, err)
	startRunner(t, runner)

	require.Eventually(t, func() bool {
		_, completed, failed := rec.snapshot()
		return len(completed) == 1 && len(failed) == 1
	}, 5*time.Second, 10*time.Millisecond)

	active, completed, failed := rec.snapshot()
	assert.Equal(t, 2, active)
	assert.JSONEq(t, `{"draft":"done"}`, string(completed[okID]))
	assert.Equal(t, "writer refused", failed[badID])
}

func TestRunnerRetriesBeforeReportingFailure(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	rec := newRecorder()
	var calls atomic.Int32

	runner := jobqueue.NewRunner(store, jobqueue.RunnerOptions{PollInterval: 5 * time.Millisecond, Listener: rec})
	require.NoError(t, runner.Register("retrieve", func(context.Context, *jobqueue.Job) (json.RawMessage, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return json.RawMessage(`{"snippets":[]}`), nil
	}, 1))

	id, err := store.Enqueue(ctx, "retrieve", map[string]int{}, jobqueue.Options{Attempts: 3})
	require.NoError(t, err)
	startRunner(t, runner)

	require.Eventually(t, func() bool {
		_, completed, _ := rec.snapshot()
		_, ok := completed[id]
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	active, _, failed := rec.snapshot()
	assert.Equal(t, 3, active)
	assert.Empty(t, failed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunnerRecoversHandlerPanics(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	rec := newRecorder()

	runner := jobqueue.NewRunner(store, jobqueue.RunnerOptions{PollInterval: 5 * time.Millisecond, Listener: rec})
	require.NoError(t, runner.Register("verify", func(context.Context, *jobqueue.Job) (json.RawMessage, error) {
		panic("verifier exploded")
	}, 1))

	id, err := store.Enqueue(ctx, "verify", map[string]int{}, jobqueue.Options{})
	require.NoError(t, err)
	startRunner(t, runner)

	require.Eventually(t, func() bool {
		_, _, failed := rec.snapshot()
		return failed[id] != ""
	}, 5*time.Second, 10*time.Millisecond)

	_, _, failed := rec.snapshot()
	assert.Contains(t, failed[id], "verifier exploded")
}

func TestRegisterValidation(t *testing.T) {
	store := openStore(t)
	runner := jobqueue.NewRunner(store, jobqueue.RunnerOptions{})
	noop := func(context.Context, *jobqueue.Job) (json.RawMessage, error) { return nil, nil }

	require.Error(t, runner.Register("", noop, 1))
	require.Error(t, runner.Register("write", nil, 1))
	require.NoError(t, runner.Register("write", noop, 0))
	require.Error(t, runner.Register("write", noop, 1))
	require.NoError(t, runner.Register("verify", noop, 1))
	assert.Equal(t, []string{"write", "verify"}, runner.Queues())

	empty := jobqueue.NewRunner(store, jobqueue.RunnerOptions{})
	require.Error(t, empty.Run(context.Background()))
}

func TestRunnerDoesNotRetryPermanentErrors(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	rec := newRecorder()
	var calls atomic.Int32

	runner := jobqueue.NewRunner(store, jobqueue.RunnerOptions{PollInterval: 5 * time.Millisecond, Listener: rec})
	require.NoError(t, runner.Register("autofix", func(context.Context, *jobqueue.Job) (json.RawMessage, error) {
		calls.Add(1)
		return nil, fmt.Errorf("%w: patch target missing", jobqueue.ErrPermanent)
	}, 1))

	id, err := store.Enqueue(ctx, "autofix", map[string]int{}, jobqueue.Options{Attempts: 4})
	require.NoError(t, err)
	startRunner(t, runner)

	require.Eventually(t, func() bool {
		_, _, failed := rec.snapshot()
		return failed[id] != ""
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}
