package taskstore_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/planner"
	"docflow/internal/taskstore"
	"docflow/internal/tasks"
	"docflow/internal/testsupport"
)

func node(id string, deps ...string) tasks.Node {
	return tasks.Node{ID: id, Kind: tasks.KindWrite, Label: "task " + id, Dependencies: deps}
}

func ids(records []*tasks.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func sampleDag() tasks.Dag {
	doc := testsupport.SampleOutline()
	return planner.BuildDag(doc.Chapters, doc.Assets, doc.Project)
}

func TestPersistDagStoresPendingNodesAndDependents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	dag := sampleDag()
	testsupport.MustPersist(t, store, "report", dag)

	all, err := store.ListTasks(ctx, "report")
	require.NoError(t, err)
	require.Len(t, all, len(dag.Nodes))
	for i, rec := range all {
		assert.Equal(t, dag.Nodes[i].ID, rec.ID, "planner order is preserved")
		assert.Equal(t, tasks.StatusPending, rec.Status)
		assert.Nil(t, rec.Deadline)
	}

	prepare := testsupport.MustGetTask(t, store, "report", "prepare:2")
	assert.Equal(t, []string{"write:2"}, prepare.Dependents)
	assert.Empty(t, prepare.Dependencies)

	fixed := testsupport.MustGetTask(t, store, "report", "materialize_fixed:1")
	assert.Equal(t, []string{"assemble:1"}, fixed.Dependents)

	verify := testsupport.MustGetTask(t, store, "report", "verify:2.1")
	assert.Equal(t, []string{"write:2.1"}, verify.Dependencies)
	assert.Equal(t, []string{"assemble:2.1"}, verify.Dependents)
	assert.Equal(t, "write:2.1", verify.Metadata.DraftSourceID)
	require.NotNil(t, verify.Metadata.Outline)
	assert.Equal(t, "Method", verify.Metadata.Outline.Title)

	sink := testsupport.MustGetTask(t, store, "report", tasks.DocumentSinkID)
	assert.Empty(t, sink.Dependents)
	assert.Equal(t, []string{"assemble:1", "assemble:2", "assemble:2.1"}, sink.Dependencies)

	edges, err := store.Edges(ctx, "report")
	require.NoError(t, err)
	assert.Equal(t, dag.Edges, edges)
}

func TestPersistDagDependentAppendIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	dag := tasks.Dag{
		Nodes: []tasks.Node{node("a"), node("b", "a"), node("c", "a")},
		Edges: []tasks.Edge{
			{From: "a", To: "b"},
			{From: "a", To: "b", Reason: "repeated"},
			{From: "a", To: "c"},
		},
	}
	testsupport.MustPersist(t, store, "p", dag)

	a := testsupport.MustGetTask(t, store, "p", "a")
	assert.Equal(t, []string{"b", "c"}, a.Dependents)
}

func TestPersistDagDerivesDependentsWithoutEdges(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.MustPersist(t, store, "p", tasks.Dag{Nodes: []tasks.Node{node("a"), node("b", "a")}})

	assert.Equal(t, []string{"b"}, testsupport.MustGetTask(t, store, "p", "a").Dependents)
}

func TestPersistDagRejectsExistingProject(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.MustPersist(t, store, "p", sampleDag())
	err := store.PersistDag(ctx, "p", sampleDag())
	require.ErrorIs(t, err, taskstore.ErrProjectExists)

	removed, err := store.ClearProject(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(len(sampleDag().Nodes)), removed)
	require.NoError(t, store.PersistDag(ctx, "p", sampleDag()))
}

func TestPersistDagRejectsCycles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	dag := tasks.Dag{Nodes: []tasks.Node{node("a", "c"), node("b", "a"), node("c", "b")}}
	err := store.PersistDag(ctx, "p", dag)
	require.ErrorIs(t, err, tasks.ErrInvalidDag)

	all, err := store.ListTasks(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestListReadyTasksMatchesReadinessInvariant(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	dag := tasks.Dag{Nodes: []tasks.Node{
		node("a"), node("b"), node("c"),
		node("d", "a"), node("e", "a", "b"), node("f", "c"),
		node("g", "d", "e"), node("h", "f"), node("i", "g", "h"),
		node("j", "i"), node("k", "b"), node("l", "k", "c"),
		node("m", "a", "d"),
	}}
	testsupport.MustPersist(t, store, "mixed", dag)

	statuses := map[string]tasks.Status{
		"a": tasks.StatusCompleted,
		"b": tasks.StatusCompleted,
		"c": tasks.StatusRunning,
		"d": tasks.StatusCompleted,
		"k": tasks.StatusFailed,
		"l": tasks.StatusBlocked,
	}
	for id, status := range statuses {
		testsupport.MustSetStatus(t, store, "mixed", id, status)
	}

	all, err := store.ListTasks(ctx, "mixed")
	require.NoError(t, err)
	current := make(map[string]tasks.Status, len(all))
	for _, rec := range all {
		current[rec.ID] = rec.Status
	}
	var want []string
	for _, rec := range all {
		if rec.IsReadyGiven(current) {
			want = append(want, rec.ID)
		}
	}

	ready, err := store.ListReadyTasks(ctx, "mixed")
	require.NoError(t, err)
	assert.Equal(t, want, ids(ready))
	assert.Equal(t, []string{"e", "m"}, ids(ready))

	testsupport.MustSetStatus(t, store, "mixed", "e", tasks.StatusCompleted)
	ready, err = store.ListReadyTasks(ctx, "mixed")
	require.NoError(t, err)
	assert.Equal(t, []string{"g", "m"}, ids(ready))
}

func TestListReadyTasksIsScopedByProject(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.MustPersist(t, store, "one", tasks.Dag{Nodes: []tasks.Node{node("a"), node("b", "a")}})
	testsupport.MustPersist(t, store, "two", tasks.Dag{Nodes: []tasks.Node{node("a"), node("b", "a")}})
	testsupport.MustSetStatus(t, store, "one", "a", tasks.StatusCompleted)

	ready, err := store.ListReadyTasks(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(ready))

	ready, err = store.ListReadyTasks(ctx, "two")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(ready))
}

func TestTransitionIsCompareAndSwap(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.MustPersist(t, store, "p", tasks.Dag{Nodes: []tasks.Node{node("a")}})

	deadline := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	moved, err := store.Transition(ctx, "p", "a", []tasks.Status{tasks.StatusPending}, tasks.StatusRunning, taskstore.Update{Deadline: &deadline})
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = store.Transition(ctx, "p", "a", []tasks.Status{tasks.StatusPending}, tasks.StatusRunning, taskstore.Update{})
	require.NoError(t, err)
	assert.False(t, moved, "second dispatch must not move the task")

	result := json.RawMessage(`{"draft":"text"}`)
	moved, err = store.Transition(ctx, "p", "a", []tasks.Status{tasks.StatusRunning}, tasks.StatusCompleted, taskstore.Update{Result: result, ClearDeadline: true})
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = store.Transition(ctx, "p", "a", []tasks.Status{tasks.StatusRunning}, tasks.StatusCompleted, taskstore.Update{Result: json.RawMessage(`{"draft":"other"}`)})
	require.NoError(t, err)
	assert.False(t, moved, "duplicate completion must not overwrite the result")

	rec := testsupport.MustGetTask(t, store, "p", "a")
	assert.Equal(t, tasks.StatusCompleted, rec.Status)
	assert.JSONEq(t, `{"draft":"text"}`, string(rec.Result))
	assert.Nil(t, rec.Deadline)

	moved, err = store.Transition(ctx, "p", "missing", []tasks.Status{tasks.StatusPending}, tasks.StatusRunning, taskstore.Update{})
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestUpdateIsPartial(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.MustPersist(t, store, "p", sampleDag())

	require.NoError(t, store.UpdateStatus(ctx, "p", "verify:2", tasks.StatusFailed, taskstore.Update{
		Error:   taskstore.Text("verifier hard fail"),
		Retries: taskstore.Int(2),
	}))

	rec := testsupport.MustGetTask(t, store, "p", "verify:2")
	meta := rec.Metadata
	meta.Draft = "stashed draft"
	require.NoError(t, store.Update(ctx, "p", "verify:2", taskstore.Update{Metadata: &meta}))

	rec = testsupport.MustGetTask(t, store, "p", "verify:2")
	assert.Equal(t, tasks.StatusFailed, rec.Status)
	assert.Equal(t, "verifier hard fail", rec.Error)
	assert.Equal(t, 2, rec.Retries)
	assert.Equal(t, "stashed draft", rec.Metadata.Draft)
	assert.Equal(t, "write:2", rec.Metadata.DraftSourceID, "untouched metadata fields survive")

	err := store.UpdateStatus(ctx, "p", "nope", tasks.StatusFailed, taskstore.Update{})
	require.ErrorIs(t, err, taskstore.ErrNotFound)
	err = store.Update(ctx, "p", "nope", taskstore.Update{Retries: taskstore.Int(1)})
	require.ErrorIs(t, err, taskstore.ErrNotFound)
}

func TestMarkBlockedOnlyTouchesPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.MustPersist(t, store, "p", tasks.Dag{Nodes: []tasks.Node{node("a"), node("b"), node("c"), node("d")}})
	testsupport.MustSetStatus(t, store, "p", "b", tasks.StatusCompleted)
	testsupport.MustSetStatus(t, store, "p", "c", tasks.StatusRunning)

	n, err := store.MarkBlocked(ctx, "p", []string{"a", "b", "c", "missing"}, "blocked by failed task x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	a := testsupport.MustGetTask(t, store, "p", "a")
	assert.Equal(t, tasks.StatusBlocked, a.Status)
	assert.Equal(t, "blocked by failed task x", a.Error)
	assert.Equal(t, tasks.StatusCompleted, testsupport.MustGetTask(t, store, "p", "b").Status)
	assert.Equal(t, tasks.StatusRunning, testsupport.MustGetTask(t, store, "p", "c").Status)
	assert.Equal(t, tasks.StatusPending, testsupport.MustGetTask(t, store, "p", "d").Status)

	n, err = store.MarkBlocked(ctx, "p", nil, "noop")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetTasksAndStatusFilter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.MustPersist(t, store, "p", tasks.Dag{Nodes: []tasks.Node{node("a"), node("b", "a"), node("c", "b")}})
	testsupport.MustSetStatus(t, store, "p", "a", tasks.StatusCompleted)

	got, err := store.GetTasks(ctx, "p", []string{"c", "a", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(got))

	pending, err := store.ListTasks(ctx, "p", tasks.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(pending))

	some, err := store.ListTasks(ctx, "p", tasks.StatusCompleted, tasks.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(some))

	_, err = store.GetTask(ctx, "p", "zzz")
	require.ErrorIs(t, err, taskstore.ErrNotFound)
}

func TestListOverdue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.MustPersist(t, store, "p", tasks.Dag{Nodes: []tasks.Node{node("late"), node("fresh"), node("parked"), node("idle")}})

	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	require.NoError(t, store.UpdateStatus(ctx, "p", "late", tasks.StatusRunning, taskstore.Update{Deadline: &past}))
	require.NoError(t, store.UpdateStatus(ctx, "p", "fresh", tasks.StatusRunning, taskstore.Update{Deadline: &future}))
	require.NoError(t, store.UpdateStatus(ctx, "p", "parked", tasks.StatusBlocked, taskstore.Update{Deadline: &past}))

	overdue, err := store.ListOverdue(ctx, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"late", "parked"}, ids(overdue))
}

func TestClearProjectIsScoped(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.MustPersist(t, store, "keep", sampleDag())
	testsupport.MustPersist(t, store, "drop", sampleDag())

	_, err := store.ClearProject(ctx, "drop")
	require.NoError(t, err)

	dropped, err := store.ListTasks(ctx, "drop")
	require.NoError(t, err)
	assert.Empty(t, dropped)
	_, err = store.ProjectSummary(ctx, "drop")
	require.ErrorIs(t, err, taskstore.ErrNotFound)

	kept, err := store.ListTasks(ctx, "keep")
	require.NoError(t, err)
	assert.Len(t, kept, len(sampleDag().Nodes))
}

func TestProjectSummaries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	dag := sampleDag()
	dag.Skipped = []tasks.Skipped{{ChapterNumber: "9", Reason: planner.SkipMissingTitle}}
	testsupport.MustPersist(t, store, "report", dag)
	testsupport.MustSetStatus(t, store, "report", "materialize_fixed:1", tasks.StatusCompleted)

	info, err := store.ProjectSummary(ctx, "report")
	require.NoError(t, err)
	assert.Equal(t, dag.Summary, info.Summary)
	assert.Equal(t, dag.Skipped, info.Skipped)
	assert.Equal(t, 1, info.Counts[tasks.StatusCompleted])
	assert.Equal(t, len(dag.Nodes)-1, info.Counts[tasks.StatusPending])

	projects, err := store.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "report", projects[0].ID)
	assert.Equal(t, info.Counts, projects[0].Counts)
}
