package daemonrun_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/daemonrun"
	"docflow/internal/dispatcher"
	"docflow/internal/tasks"
	"docflow/internal/testsupport"
	"docflow/internal/workers"
)

func startRuntime(t *testing.T, set *workers.Set) *daemonrun.Runtime {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	rt, err := daemonrun.Build(cfg, nil, set)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Daemon.Close() })
	return rt
}

func scheduleSample(t *testing.T, rt *daemonrun.Runtime) {
	t.Helper()
	doc := testsupport.SampleOutline()
	_, err := rt.Dispatcher.ScheduleOutline(context.Background(), "report", &doc, dispatcher.ScheduleOptions{})
	require.NoError(t, err)
}

func waitForStatus(t *testing.T, rt *daemonrun.Runtime, id string, want tasks.Status) *tasks.Record {
	t.Helper()
	var rec *tasks.Record
	require.Eventually(t, func() bool {
		var err error
		rec, err = rt.Store.GetTask(context.Background(), "report", id)
		return err == nil && rec.Status == want
	}, 10*time.Second, 20*time.Millisecond, "task %s never reached %s", id, want)
	return rec
}

func TestPipelineProducesDocument(t *testing.T) {
	rt := startRuntime(t, nil)
	scheduleSample(t, rt)
	require.NoError(t, rt.Daemon.Start(context.Background()))

	sink := waitForStatus(t, rt, tasks.DocumentSinkID, tasks.StatusCompleted)
	content := tasks.TextOf(sink.Result)
	assert.Contains(t, content, "# Sample Report")
	assert.Contains(t, content, "This report was produced automatically.")
	assert.Contains(t, content, "# 2 Findings")
	assert.Contains(t, content, "ISO 9001")

	stats, err := rt.Store.Stats(context.Background(), "report")
	require.NoError(t, err)
	assert.Equal(t, map[tasks.Status]int{tasks.StatusCompleted: 11}, stats)
}

func TestPipelineRepairsSoftFailures(t *testing.T) {
	set := workers.NewSet(nil)
	set.Writer = workers.WriterFunc(func(_ context.Context, req workers.WriteRequest) (tasks.WriteResult, error) {
		return tasks.WriteResult{Draft: "Notes on " + req.Title + "."}, nil
	})
	rt := startRuntime(t, set)
	scheduleSample(t, rt)
	require.NoError(t, rt.Daemon.Start(context.Background()))

	sink := waitForStatus(t, rt, tasks.DocumentSinkID, tasks.StatusCompleted)
	content := tasks.TextOf(sink.Result)
	assert.Contains(t, content, "# 2 Findings\n\nNotes on Findings.")
	assert.Contains(t, content, "This chapter follows ISO 9001.")

	verify := waitForStatus(t, rt, "verify:2", tasks.StatusCompleted)
	assert.Equal(t, 1, verify.Metadata.AutofixAttempts)
}

func TestPipelineHardFailBlocksDocument(t *testing.T) {
	set := workers.NewSet(nil)
	set.Writer = workers.WriterFunc(func(context.Context, workers.WriteRequest) (tasks.WriteResult, error) {
		return tasks.WriteResult{Draft: "TODO"}, nil
	})
	rt := startRuntime(t, set)
	scheduleSample(t, rt)
	require.NoError(t, rt.Daemon.Start(context.Background()))

	failed := waitForStatus(t, rt, "verify:2.1", tasks.StatusFailed)
	assert.Equal(t, dispatcher.ReasonHardFail, failed.Error)
	waitForStatus(t, rt, tasks.DocumentSinkID, tasks.StatusBlocked)
	waitForStatus(t, rt, "assemble:1", tasks.StatusCompleted)
}
