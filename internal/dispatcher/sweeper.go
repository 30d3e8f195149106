package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docflow/internal/logging"
	"docflow/internal/tasks"
)

// Sweep fails every task whose deadline has passed: running tasks directly,
// and parked verify tasks whose autofix never reported back. It returns the
// number of tasks failed.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	overdue, err := d.store.ListOverdue(ctx, d.now())
	if err != nil {
		return 0, fmt.Errorf("list overdue tasks: %w", err)
	}

	var (
		failed int
		errs   []error
	)
	for _, rec := range overdue {
		var (
			moved bool
			err   error
		)
		switch {
		case rec.Status == tasks.StatusRunning:
			moved, err = d.failTask(ctx, rec.ProjectID, rec.ID, []tasks.Status{tasks.StatusRunning}, ReasonTimeout, nil)
		case rec.Status == tasks.StatusBlocked && rec.Kind == tasks.KindVerify:
			moved, err = d.failTask(ctx, rec.ProjectID, rec.ID, []tasks.Status{tasks.StatusBlocked}, ReasonTimeout, nil)
		default:
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if moved {
			failed++
			d.taskLogger(rec.ProjectID, rec.ID).Warn("task deadline passed",
				logging.String(logging.FieldKind, string(rec.Kind)),
				logging.String("status", string(rec.Status)),
				logging.String(logging.FieldEventType, "task_timed_out"),
			)
		}
	}
	return failed, errors.Join(errs...)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (d *Dispatcher) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				logging.ErrorWithContext(d.logger, "sweep failed", "sweep_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check task database access"),
				)
			}
			if n > 0 {
				d.logger.Info("sweep failed overdue tasks", logging.Int("count", n))
			}
		}
	}
}
