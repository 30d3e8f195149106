package jobqueue_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/jobqueue"
	"docflow/internal/testsupport"
)

func openStore(t *testing.T) *jobqueue.Store {
	t.Helper()
	return testsupport.MustOpenJobs(t, testsupport.NewConfig(t))
}

func TestEnqueueClaimCompleteIsFIFO(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, "write", map[string]string{"taskId": "write:1"}, jobqueue.Options{})
	require.NoError(t, err)
	second, err := store.Enqueue(ctx, "write", json.RawMessage(`{"taskId":"write:2"}`), jobqueue.Options{})
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, "verify", map[string]string{"taskId": "verify:1"}, jobqueue.Options{})
	require.NoError(t, err)

	job, err := store.Claim(ctx, "write", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, first, job.ID)
	assert.Equal(t, jobqueue.StatusActive, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, 1, job.MaxAttempts)
	assert.True(t, job.Final())
	assert.JSONEq(t, `{"taskId":"write:1"}`, string(job.Payload))
	require.NotNil(t, job.LockedUntil)

	require.NoError(t, store.Complete(ctx, job.ID, json.RawMessage(`{"draft":"ok"}`)))
	done, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StatusCompleted, done.Status)
	assert.JSONEq(t, `{"draft":"ok"}`, string(done.Result))
	assert.Nil(t, done.LockedUntil)

	next, err := store.Claim(ctx, "write", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, second, next.ID)

	_, err = store.Claim(ctx, "write", time.Minute)
	require.ErrorIs(t, err, jobqueue.ErrNoJob)

	counts, err := store.Counts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, map[jobqueue.Status]int{
		jobqueue.StatusCompleted: 1,
		jobqueue.StatusActive:    1,
		jobqueue.StatusWaiting:   1,
	}, counts)
}

func TestEnqueueValidatesInput(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, " ", map[string]string{}, jobqueue.Options{})
	require.Error(t, err)
	_, err = store.Enqueue(ctx, "write", json.RawMessage(`{broken`), jobqueue.Options{})
	require.Error(t, err)
	_, err = store.Enqueue(ctx, "write", make(chan int), jobqueue.Options{})
	require.Error(t, err)
}

func TestEnqueueKeepsCallerJobID(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "prepare", map[string]string{"taskId": "prepare:1"}, jobqueue.Options{ID: "dispatch-1"})
	require.NoError(t, err)
	assert.Equal(t, "dispatch-1", id)

	job, err := store.Claim(ctx, "prepare", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "dispatch-1", job.ID)

	_, err = store.Enqueue(ctx, "prepare", map[string]string{"taskId": "prepare:1"}, jobqueue.Options{ID: "dispatch-1"})
	require.Error(t, err, "job ids are unique")
}

func TestFailRequeuesUntilAttemptsSpent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "retrieve", map[string]int{"n": 1}, jobqueue.Options{Attempts: 2})
	require.NoError(t, err)

	job, err := store.Claim(ctx, "retrieve", time.Minute)
	require.NoError(t, err)
	assert.False(t, job.Final())
	final, err := store.Fail(ctx, id, "index offline")
	require.NoError(t, err)
	assert.False(t, final)

	waiting, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StatusWaiting, waiting.Status)
	assert.Equal(t, "index offline", waiting.LastError)

	job, err = store.Claim(ctx, "retrieve", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)
	assert.True(t, job.Final())
	final, err = store.Fail(ctx, id, "index still offline")
	require.NoError(t, err)
	assert.True(t, final)

	failed, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StatusFailed, failed.Status)

	_, err = store.Fail(ctx, id, "again")
	require.ErrorIs(t, err, jobqueue.ErrJobNotFound)
}

func TestRemoveOptionsDeleteFinishedJobs(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	kept, err := store.Enqueue(ctx, "prepare", map[string]int{}, jobqueue.Options{})
	require.NoError(t, err)
	gone, err := store.Enqueue(ctx, "prepare", map[string]int{}, jobqueue.Options{RemoveOnComplete: true})
	require.NoError(t, err)
	dropped, err := store.Enqueue(ctx, "prepare", map[string]int{}, jobqueue.Options{RemoveOnFail: true})
	require.NoError(t, err)

	for _, id := range []string{kept, gone} {
		job, err := store.Claim(ctx, "prepare", time.Minute)
		require.NoError(t, err)
		require.Equal(t, id, job.ID)
		require.NoError(t, store.Complete(ctx, id, nil))
	}
	job, err := store.Claim(ctx, "prepare", time.Minute)
	require.NoError(t, err)
	require.Equal(t, dropped, job.ID)
	final, err := store.Fail(ctx, dropped, "boom")
	require.NoError(t, err)
	assert.True(t, final)

	_, err = store.Get(ctx, kept)
	require.NoError(t, err)
	_, err = store.Get(ctx, gone)
	require.ErrorIs(t, err, jobqueue.ErrJobNotFound)
	_, err = store.Get(ctx, dropped)
	require.ErrorIs(t, err, jobqueue.ErrJobNotFound)
}

func TestExpiredLeaseIsRedelivered(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "write", map[string]int{}, jobqueue.Options{Attempts: 2})
	require.NoError(t, err)

	job, err := store.Claim(ctx, "write", -time.Second)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	again, err := store.Claim(ctx, "write", -time.Second)
	require.NoError(t, err, "an expired lease makes the job claimable again")
	assert.Equal(t, id, again.ID)
	assert.Equal(t, 2, again.Attempts)

	_, err = store.Claim(ctx, "write", time.Minute)
	require.ErrorIs(t, err, jobqueue.ErrNoJob, "no attempts left")

	expired, err := store.ExpireLeases(ctx, "write")
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, id, expired[0].ID)
	assert.Equal(t, jobqueue.StatusFailed, expired[0].Status)
	assert.Equal(t, "lease expired", expired[0].LastError)
}

func TestExtendKeepsLeaseAlive(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "write", map[string]int{}, jobqueue.Options{Attempts: 3})
	require.NoError(t, err)
	_, err = store.Claim(ctx, "write", -time.Second)
	require.NoError(t, err)
	require.NoError(t, store.Extend(ctx, id, time.Hour))

	_, err = store.Claim(ctx, "write", time.Minute)
	require.ErrorIs(t, err, jobqueue.ErrNoJob)

	require.ErrorIs(t, store.Extend(ctx, "missing", time.Hour), jobqueue.ErrJobNotFound)
	require.ErrorIs(t, store.Complete(ctx, "missing", nil), jobqueue.ErrJobNotFound)
}

func TestPurgeDropsFinishedJobsOnly(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	done, err := store.Enqueue(ctx, "assemble", map[string]int{}, jobqueue.Options{})
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, "assemble", map[string]int{}, jobqueue.Options{})
	require.NoError(t, err)
	_, err = store.Claim(ctx, "assemble", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, done, nil))

	removed, err := store.Purge(ctx, "assemble")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	jobs, err := store.List(ctx, "assemble")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobqueue.StatusWaiting, jobs[0].Status)
}

func TestOpenPathPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	store, err := jobqueue.OpenPath(path)
	require.NoError(t, err)
	id, err := store.Enqueue(ctx, "write", map[string]int{}, jobqueue.Options{})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := jobqueue.OpenPath(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })
	job, err := reopened.Claim(ctx, "write", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, path, reopened.Path())
}

func TestFailPermanentlyIgnoresRemainingAttempts(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "verify", map[string]int{}, jobqueue.Options{Attempts: 5})
	require.NoError(t, err)
	_, err = store.Claim(ctx, "verify", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.FailPermanently(ctx, id, "bad payload"))

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "bad payload", job.LastError)
}
