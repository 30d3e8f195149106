package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"docflow/internal/tasks"
)

// readyQuery selects pending tasks none of whose dependencies is missing or
// short of completed. Running it as one statement gives a consistent snapshot
// relative to concurrent status writes.
const readyQuery = `SELECT ` + taskColumns + `
FROM tasks t
WHERE t.project_id = ? AND t.status = 'pending'
  AND NOT EXISTS (
    SELECT 1 FROM task_dependencies d
    LEFT JOIN tasks u ON u.project_id = d.project_id AND u.node_id = d.depends_on
    WHERE d.project_id = t.project_id AND d.node_id = t.node_id
      AND (u.node_id IS NULL OR u.status <> 'completed')
  )
ORDER BY t.position`

// ListReadyTasks returns every pending task whose dependencies are all
// completed, in planner order.
func (s *Store) ListReadyTasks(ctx context.Context, projectID string) ([]*tasks.Record, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ensureContext(ctx), &rows, readyQuery, projectID); err != nil {
		return nil, fmt.Errorf("list ready tasks: %w", err)
	}
	return records(rows)
}

// GetTask fetches one task.
func (s *Store) GetTask(ctx context.Context, projectID, id string) (*tasks.Record, error) {
	var row taskRow
	err := s.db.GetContext(ensureContext(ctx), &row,
		`SELECT `+taskColumns+` FROM tasks t WHERE t.project_id = ? AND t.node_id = ?`,
		projectID, id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, projectID, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return row.record()
}

// GetTasks fetches the listed tasks in planner order. Unknown ids are skipped.
func (s *Store) GetTasks(ctx context.Context, projectID string, ids []string) ([]*tasks.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT `+taskColumns+` FROM tasks t WHERE t.project_id = ? AND t.node_id IN (?) ORDER BY t.position`,
		projectID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("build get tasks: %w", err)
	}
	var rows []taskRow
	if err := s.db.SelectContext(ensureContext(ctx), &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("get tasks: %w", err)
	}
	return records(rows)
}

// ListTasks returns a project's tasks in planner order, optionally filtered
// by status.
func (s *Store) ListTasks(ctx context.Context, projectID string, statuses ...tasks.Status) ([]*tasks.Record, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t WHERE t.project_id = ?`
	args := []any{projectID}
	if len(statuses) > 0 {
		var err error
		query, args, err = sqlx.In(query+` AND t.status IN (?)`, projectID, statusStrings(statuses))
		if err != nil {
			return nil, fmt.Errorf("build list tasks: %w", err)
		}
	}
	query += ` ORDER BY t.position`

	var rows []taskRow
	if err := s.db.SelectContext(ensureContext(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return records(rows)
}

// ListOverdue returns running or blocked tasks, across all projects, whose
// deadline is before cutoff. Blocked tasks only carry a deadline while parked
// for autofix.
func (s *Store) ListOverdue(ctx context.Context, cutoff time.Time) ([]*tasks.Record, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ensureContext(ctx), &rows,
		`SELECT `+taskColumns+` FROM tasks t
         WHERE t.status IN ('running', 'blocked') AND t.deadline_at IS NOT NULL AND t.deadline_at < ?
         ORDER BY t.deadline_at, t.project_id, t.position`,
		toMillis(cutoff),
	); err != nil {
		return nil, fmt.Errorf("list overdue tasks: %w", err)
	}
	return records(rows)
}

// Stats returns a project's task counts grouped by status.
func (s *Store) Stats(ctx context.Context, projectID string) (map[tasks.Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	if err := s.db.SelectContext(ensureContext(ctx), &rows,
		`SELECT status, COUNT(1) AS n FROM tasks WHERE project_id = ? GROUP BY status`, projectID,
	); err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	stats := make(map[tasks.Status]int, len(rows))
	for _, row := range rows {
		stats[tasks.Status(row.Status)] = row.Count
	}
	return stats, nil
}
