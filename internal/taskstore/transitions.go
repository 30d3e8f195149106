package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"docflow/internal/sqlitedb"
	"docflow/internal/tasks"
)

// Update is a partial task update. Nil fields are left unchanged.
type Update struct {
	Result        json.RawMessage
	Error         *string
	Metadata      *tasks.Metadata
	Retries       *int
	Deadline      *time.Time
	ClearDeadline bool
}

func (u Update) assignments() ([]string, []any, error) {
	var (
		sets []string
		args []any
	)
	if u.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, string(u.Result))
	}
	if u.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *u.Error)
	}
	if u.Metadata != nil {
		meta, err := encodeJSON(u.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("encode metadata: %w", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, meta)
	}
	if u.Retries != nil {
		sets = append(sets, "retries = ?")
		args = append(args, *u.Retries)
	}
	switch {
	case u.ClearDeadline:
		sets = append(sets, "deadline_at = NULL")
	case u.Deadline != nil:
		sets = append(sets, "deadline_at = ?")
		args = append(args, toMillis(*u.Deadline))
	}
	return sets, args, nil
}

// Text returns a pointer for Update.Error.
func Text(s string) *string { return &s }

// Int returns a pointer for Update.Retries.
func Int(n int) *int { return &n }

// Transition moves a task to status to, applying upd in the same statement,
// but only while the task's current status is one of from. It reports whether
// the row moved. An empty from makes the update unconditional.
//
// This compare-and-swap is what makes duplicate or late queue deliveries safe:
// the second writer finds the row already moved and changes nothing.
func (s *Store) Transition(ctx context.Context, projectID, id string, from []tasks.Status, to tasks.Status, upd Update) (bool, error) {
	ctx = ensureContext(ctx)
	sets, setArgs, err := upd.assignments()
	if err != nil {
		return false, err
	}

	args := make([]any, 0, len(setArgs)+5)
	args = append(args, string(to), s.nowMillis())
	args = append(args, setArgs...)
	args = append(args, projectID, id)

	query := `UPDATE tasks SET ` + strings.Join(append([]string{"status = ?", "updated_at = ?"}, sets...), ", ") +
		` WHERE project_id = ? AND node_id = ?`
	if len(from) > 0 {
		query += ` AND status IN (?)`
		args = append(args, statusStrings(from))
		if query, args, err = sqlx.In(query, args...); err != nil {
			return false, fmt.Errorf("build transition: %w", err)
		}
	}

	res, err := sqlitedb.Exec(ctx, s.db, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateStatus sets a task's status unconditionally, applying upd. Fields not
// supplied are left unchanged.
func (s *Store) UpdateStatus(ctx context.Context, projectID, id string, status tasks.Status, upd Update) error {
	moved, err := s.Transition(ctx, projectID, id, nil, status, upd)
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, projectID, id)
	}
	return nil
}

// Update applies a partial update without touching the status.
func (s *Store) Update(ctx context.Context, projectID, id string, upd Update) error {
	ctx = ensureContext(ctx)
	sets, setArgs, err := upd.assignments()
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}

	args := append([]any{s.nowMillis()}, setArgs...)
	args = append(args, projectID, id)
	res, err := sqlitedb.Exec(ctx, s.db,
		`UPDATE tasks SET updated_at = ?, `+strings.Join(sets, ", ")+` WHERE project_id = ? AND node_id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, projectID, id)
	}
	return nil
}

// MarkBlocked moves the listed pending tasks to blocked, recording reason as
// their error. Tasks in any other status are left alone. It returns the
// number of tasks blocked.
func (s *Store) MarkBlocked(ctx context.Context, projectID string, ids []string, reason string) (int64, error) {
	ctx = ensureContext(ctx)
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(
		`UPDATE tasks SET status = ?, error = ?, deadline_at = NULL, updated_at = ?
         WHERE project_id = ? AND status = ? AND node_id IN (?)`,
		string(tasks.StatusBlocked), reason, s.nowMillis(), projectID, string(tasks.StatusPending), ids,
	)
	if err != nil {
		return 0, fmt.Errorf("build mark blocked: %w", err)
	}
	res, err := sqlitedb.Exec(ctx, s.db, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark blocked: %w", err)
	}
	return res.RowsAffected()
}

func statusStrings(statuses []tasks.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
