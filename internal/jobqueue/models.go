package jobqueue

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Options control delivery and retention of one job.
type Options struct {
	// ID fixes the job id. Empty means a generated one.
	ID string
	// Attempts is the number of deliveries before the job fails for good.
	// Values below one mean one.
	Attempts         int
	RemoveOnComplete bool
	RemoveOnFail     bool
}

// Job is a queued unit of work.
type Job struct {
	ID               string
	Queue            string
	Payload          json.RawMessage
	Status           Status
	Attempts         int
	MaxAttempts      int
	RemoveOnComplete bool
	RemoveOnFail     bool
	LastError        string
	Result           json.RawMessage
	LockedUntil      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Final reports whether a failure of this delivery would be the last one.
func (j *Job) Final() bool {
	return j.Attempts >= j.MaxAttempts
}

const jobColumns = `id, queue, payload, status, attempts, max_attempts, remove_on_complete,
    remove_on_fail, last_error, result, locked_until, created_at, updated_at`

type jobRow struct {
	ID               string         `db:"id"`
	Queue            string         `db:"queue"`
	Payload          string         `db:"payload"`
	Status           string         `db:"status"`
	Attempts         int            `db:"attempts"`
	MaxAttempts      int            `db:"max_attempts"`
	RemoveOnComplete bool           `db:"remove_on_complete"`
	RemoveOnFail     bool           `db:"remove_on_fail"`
	LastError        string         `db:"last_error"`
	Result           sql.NullString `db:"result"`
	LockedUntil      sql.NullInt64  `db:"locked_until"`
	CreatedAt        int64          `db:"created_at"`
	UpdatedAt        int64          `db:"updated_at"`
}

func (r jobRow) job() *Job {
	job := &Job{
		ID:               r.ID,
		Queue:            r.Queue,
		Payload:          json.RawMessage(r.Payload),
		Status:           Status(r.Status),
		Attempts:         r.Attempts,
		MaxAttempts:      r.MaxAttempts,
		RemoveOnComplete: r.RemoveOnComplete,
		RemoveOnFail:     r.RemoveOnFail,
		LastError:        r.LastError,
		CreatedAt:        time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:        time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if r.Result.Valid && r.Result.String != "" {
		job.Result = json.RawMessage(r.Result.String)
	}
	if r.LockedUntil.Valid {
		until := time.UnixMilli(r.LockedUntil.Int64).UTC()
		job.LockedUntil = &until
	}
	return job
}
