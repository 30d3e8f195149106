package testsupport

import (
	"context"
	"testing"

	"docflow/internal/config"
	"docflow/internal/jobqueue"
	"docflow/internal/taskstore"
	"docflow/internal/tasks"
)

// MustOpenStore opens a taskstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *taskstore.Store {
	t.Helper()

	store, err := taskstore.Open(cfg)
	if err != nil {
		t.Fatalf("taskstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenJobs opens a jobqueue.Store for tests and registers cleanup.
func MustOpenJobs(t testing.TB, cfg *config.Config) *jobqueue.Store {
	t.Helper()

	jobs, err := jobqueue.Open(cfg)
	if err != nil {
		t.Fatalf("jobqueue.Open: %v", err)
	}
	t.Cleanup(func() {
		jobs.Close()
	})
	return jobs
}

// MustPersist stores dag under projectID.
func MustPersist(t testing.TB, store *taskstore.Store, projectID string, dag tasks.Dag) {
	t.Helper()

	if err := store.PersistDag(context.Background(), projectID, dag); err != nil {
		t.Fatalf("PersistDag: %v", err)
	}
}

// MustSetStatus forces a task into status.
func MustSetStatus(t testing.TB, store *taskstore.Store, projectID, id string, status tasks.Status) {
	t.Helper()

	if err := store.UpdateStatus(context.Background(), projectID, id, status, taskstore.Update{}); err != nil {
		t.Fatalf("UpdateStatus %s -> %s: %v", id, status, err)
	}
}

// MustGetTask fetches a task or fails the test.
func MustGetTask(t testing.TB, store *taskstore.Store, projectID, id string) *tasks.Record {
	t.Helper()

	rec, err := store.GetTask(context.Background(), projectID, id)
	if err != nil {
		t.Fatalf("GetTask %s: %v", id, err)
	}
	return rec
}
