package preflight

import (
	"context"
	"io"

	"docflow/internal/config"
	"docflow/internal/jobqueue"
	"docflow/internal/taskstore"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	results = append(results,
		CheckDatabase(ctx, "Task database", cfg.TaskDBPath(), func(path string) (io.Closer, error) {
			return taskstore.OpenPath(path)
		}),
		CheckDatabase(ctx, "Job database", cfg.JobDBPath(), func(path string) (io.Closer, error) {
			return jobqueue.OpenPath(path)
		}),
	)
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
