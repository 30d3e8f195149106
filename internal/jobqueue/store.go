package jobqueue

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"docflow/internal/config"
	"docflow/internal/sqlitedb"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store persists jobs for every named queue.
type Store struct {
	db   *sqlx.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the job database under the configured data
// directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.JobDBPath())
}

// OpenPath opens the job database at an explicit path.
func OpenPath(path string) (*Store, error) {
	migrations, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("job migrations: %w", err)
	}
	db, err := sqlitedb.Open(context.Background(), path, migrations)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) nowMillis() int64 {
	return s.now().UTC().UnixMilli()
}

// Enqueue adds a job to queue and returns its id. Payloads that are already
// encoded (json.RawMessage or []byte) are stored as is; anything else is
// marshaled to JSON.
func (s *Store) Enqueue(ctx context.Context, queue string, payload any, opts Options) (string, error) {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return "", errors.New("enqueue: queue name is required")
	}
	body, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", queue, err)
	}
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	now := s.nowMillis()
	if _, err := sqlitedb.Exec(ctx, s.db,
		`INSERT INTO jobs (id, queue, payload, status, attempts, max_attempts, remove_on_complete, remove_on_fail, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		id, queue, body, string(StatusWaiting), attempts, opts.RemoveOnComplete, opts.RemoveOnFail, now, now,
	); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", queue, err)
	}
	return id, nil
}

func encodePayload(payload any) (string, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return "", errors.New("payload is not valid JSON")
		}
		return string(v), nil
	case []byte:
		if !json.Valid(v) {
			return "", errors.New("payload is not valid JSON")
		}
		return string(v), nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("encode payload: %w", err)
		}
		return string(data), nil
	}
}

// Claim leases the oldest claimable job of queue for the given duration. A job
// is claimable when it is waiting, or when it is active with an expired lease
// and attempts left. Claim returns ErrNoJob when nothing qualifies.
func (s *Store) Claim(ctx context.Context, queue string, lease time.Duration) (*Job, error) {
	now := s.nowMillis()
	var row jobRow
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		return s.db.GetContext(ctx, &row,
			`UPDATE jobs SET status = 'active', attempts = attempts + 1, locked_until = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM jobs
                 WHERE queue = ?
                   AND (status = 'waiting' OR (status = 'active' AND locked_until < ? AND attempts < max_attempts))
                 ORDER BY created_at, rowid
                 LIMIT 1
             )
             RETURNING `+jobColumns,
			now+lease.Milliseconds(), now, queue, now,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claim from %s: %w", queue, err)
	}
	return row.job(), nil
}

// ExpireLeases fails active jobs of queue whose lease ran out with no attempts
// left, and returns them.
func (s *Store) ExpireLeases(ctx context.Context, queue string) ([]*Job, error) {
	now := s.nowMillis()
	var rows []jobRow
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		rows = rows[:0]
		return s.db.SelectContext(ctx, &rows,
			`UPDATE jobs SET status = 'failed', last_error = 'lease expired', locked_until = NULL, updated_at = ?
             WHERE queue = ? AND status = 'active' AND locked_until < ? AND attempts >= max_attempts
             RETURNING `+jobColumns,
			now, queue, now,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("expire leases on %s: %w", queue, err)
	}
	jobs := make([]*Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.job())
	}
	if _, err := sqlitedb.Exec(ctx, s.db,
		`DELETE FROM jobs WHERE queue = ? AND status = 'failed' AND remove_on_fail = 1`, queue,
	); err != nil {
		return jobs, fmt.Errorf("remove expired jobs on %s: %w", queue, err)
	}
	return jobs, nil
}

// Extend pushes an active job's lease out by lease from now.
func (s *Store) Extend(ctx context.Context, id string, lease time.Duration) error {
	now := s.nowMillis()
	res, err := sqlitedb.Exec(ctx, s.db,
		`UPDATE jobs SET locked_until = ?, updated_at = ? WHERE id = ? AND status = 'active'`,
		now+lease.Milliseconds(), now, id,
	)
	if err != nil {
		return fmt.Errorf("extend lease of %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// Complete records a successful run of an active job. Jobs enqueued with
// RemoveOnComplete are deleted instead.
func (s *Store) Complete(ctx context.Context, id string, result json.RawMessage) error {
	now := s.nowMillis()
	var resultValue any
	if len(result) > 0 {
		resultValue = string(result)
	}
	return sqlitedb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM jobs WHERE id = ? AND status = 'active' AND remove_on_complete = 1`, id,
		)
		if err != nil {
			return fmt.Errorf("remove completed job %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n > 0 {
			return nil
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = 'completed', result = ?, last_error = '', locked_until = NULL, updated_at = ?
             WHERE id = ? AND status = 'active'`,
			resultValue, now, id,
		)
		if err != nil {
			return fmt.Errorf("complete job %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil
	})
}

// Fail records a failed run of an active job. While attempts remain the job
// goes back to waiting; otherwise it fails for good and Fail reports final.
func (s *Store) Fail(ctx context.Context, id string, reason string) (final bool, err error) {
	return s.fail(ctx, id, reason, false)
}

// FailPermanently fails an active job for good, ignoring remaining attempts.
func (s *Store) FailPermanently(ctx context.Context, id string, reason string) error {
	_, err := s.fail(ctx, id, reason, true)
	return err
}

func (s *Store) fail(ctx context.Context, id string, reason string, permanent bool) (final bool, err error) {
	now := s.nowMillis()
	err = sqlitedb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var row struct {
			Status       string `db:"status"`
			RemoveOnFail bool   `db:"remove_on_fail"`
		}
		err := tx.GetContext(ctx, &row,
			`UPDATE jobs
             SET status = CASE WHEN ? = 0 AND attempts < max_attempts THEN 'waiting' ELSE 'failed' END,
                 last_error = ?, locked_until = NULL, updated_at = ?
             WHERE id = ? AND status = 'active'
             RETURNING status, remove_on_fail`,
			permanent, reason, now, id,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("fail job %s: %w", id, err)
		}
		final = Status(row.Status) == StatusFailed
		if final && row.RemoveOnFail {
			if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
				return fmt.Errorf("remove failed job %s: %w", id, err)
			}
		}
		return nil
	})
	return final, err
}

// Get fetches a job by id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return row.job(), nil
}

// List returns the jobs of queue, oldest first. An empty queue name lists
// every queue.
func (s *Store) List(ctx context.Context, queue string) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if queue != "" {
		query += ` WHERE queue = ?`
		args = append(args, queue)
	}
	query += ` ORDER BY created_at, rowid`

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]*Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.job())
	}
	return jobs, nil
}

// Counts returns job counts by status for queue, or for all queues when queue
// is empty.
func (s *Store) Counts(ctx context.Context, queue string) (map[Status]int, error) {
	query := `SELECT status, COUNT(1) AS n FROM jobs`
	var args []any
	if queue != "" {
		query += ` WHERE queue = ?`
		args = append(args, queue)
	}
	query += ` GROUP BY status`

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	counts := make(map[Status]int, len(rows))
	for _, row := range rows {
		counts[Status(row.Status)] = row.Count
	}
	return counts, nil
}

// Purge deletes finished jobs (completed or failed) of queue, or of every
// queue when queue is empty.
func (s *Store) Purge(ctx context.Context, queue string) (int64, error) {
	query := `DELETE FROM jobs WHERE status IN ('completed', 'failed')`
	var args []any
	if queue != "" {
		query += ` AND queue = ?`
		args = append(args, queue)
	}
	res, err := sqlitedb.Exec(ctx, s.db, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return res.RowsAffected()
}
