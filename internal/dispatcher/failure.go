package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"docflow/internal/logging"
	"docflow/internal/taskstore"
	"docflow/internal/tasks"
)

// failTask moves a task to failed, provided it is still in one of from, and
// blocks everything downstream of it. It reports whether the task moved.
func (d *Dispatcher) failTask(ctx context.Context, projectID, id string, from []tasks.Status, reason string, result json.RawMessage) (bool, error) {
	logger := d.taskLogger(projectID, id)
	moved, err := d.store.Transition(ctx, projectID, id, from, tasks.StatusFailed, taskstore.Update{
		Result:        result,
		Error:         taskstore.Text(reason),
		ClearDeadline: true,
	})
	if err != nil {
		return false, fmt.Errorf("fail %s: %w", id, err)
	}
	if !moved {
		logger.Debug("failure ignored, task no longer in expected status", logging.String("reason", reason))
		return false, nil
	}
	logging.ErrorWithContext(logger, "task failed", "task_failed",
		logging.String("reason", reason),
		logging.String(logging.FieldErrorHint, "inspect the task error, then clear and reschedule the project"),
	)

	blocked, err := d.propagate(ctx, projectID, id)
	if err != nil {
		return true, err
	}
	if blocked > 0 {
		logger.Info("dependents blocked",
			logging.Int64("count", blocked),
			logging.String(logging.FieldEventType, "dependents_blocked"),
		)
	}
	return true, nil
}

// propagate blocks the transitive dependents of a failed task. Only pending
// tasks change; nothing downstream of a failure can have started.
func (d *Dispatcher) propagate(ctx context.Context, projectID, failedID string) (int64, error) {
	root, err := d.store.GetTask(ctx, projectID, failedID)
	if err != nil {
		return 0, fmt.Errorf("load failed task %s: %w", failedID, err)
	}

	seen := map[string]struct{}{failedID: {}}
	var closure []string
	frontier := root.Dependents
	for len(frontier) > 0 {
		var fresh []string
		for _, id := range frontier {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			fresh = append(fresh, id)
		}
		if len(fresh) == 0 {
			break
		}
		closure = append(closure, fresh...)

		records, err := d.store.GetTasks(ctx, projectID, fresh)
		if err != nil {
			return 0, fmt.Errorf("load dependents of %s: %w", failedID, err)
		}
		frontier = frontier[:0:0]
		for _, rec := range records {
			frontier = append(frontier, rec.Dependents...)
		}
	}

	if len(closure) == 0 {
		return 0, nil
	}
	blocked, err := d.store.MarkBlocked(ctx, projectID, closure, "blocked by failed task "+failedID)
	if err != nil {
		return 0, fmt.Errorf("block dependents of %s: %w", failedID, err)
	}
	return blocked, nil
}
