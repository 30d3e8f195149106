package daemon_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/config"
	"docflow/internal/daemon"
	"docflow/internal/dispatcher"
	"docflow/internal/jobqueue"
	"docflow/internal/outline"
	"docflow/internal/tasks"
	"docflow/internal/testsupport"
	"docflow/internal/workers"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	jobs := testsupport.MustOpenJobs(t, cfg)
	disp := dispatcher.NewFromConfig(cfg, store, jobs, nil)
	runner := jobqueue.NewRunner(jobs, jobqueue.RunnerOptions{
		PollInterval: cfg.PollInterval(),
		Listener:     disp.Listener(),
	})
	require.NoError(t, workers.Register(runner, workers.NewSet(nil), cfg.QueueConcurrency))

	d, err := daemon.New(cfg, store, jobs, disp, runner, nil)
	require.NoError(t, err)
	t.Cleanup(d.Stop)
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	ctx := context.Background()

	require.NoError(t, d.Start(ctx))
	status := d.Status(ctx)
	assert.True(t, status.Running)
	assert.Equal(t, cfg.LockPath(), status.LockFilePath)
	assert.Len(t, status.Queues, len(tasks.QueueKinds()))

	require.Error(t, d.Start(ctx), "second start should fail")

	d.Stop()
	assert.False(t, d.Status(ctx).Running)

	require.NoError(t, d.Start(ctx), "restart after stop")
	d.Stop()
}

func TestDaemonLockIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg)
	second := newDaemon(t, cfg)
	ctx := context.Background()

	require.NoError(t, first.Start(ctx))
	err := second.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	first.Stop()
	require.NoError(t, second.Start(ctx))
}

func TestDaemonResumesReadyTasksOnStart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	// Persist without dispatching, as if a previous process died right after
	// planning.
	dag := tasks.Dag{Nodes: []tasks.Node{{
		ID:       "materialize_fixed:1",
		Kind:     tasks.KindMaterializeFixed,
		Label:    "Materialize 1",
		Metadata: tasks.Metadata{Outline: &outline.Node{ChapterNumber: "1", Title: "Preface", FixedContent: "Fixed."}},
	}}}
	testsupport.MustPersist(t, store, "resume", dag)

	d := newDaemon(t, cfg)
	require.NoError(t, d.Start(ctx))

	require.Eventually(t, func() bool {
		rec, err := store.GetTask(ctx, "resume", "materialize_fixed:1")
		return err == nil && rec.Status == tasks.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, d.Status(ctx).Projects)
}
