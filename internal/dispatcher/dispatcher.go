package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"docflow/internal/config"
	"docflow/internal/jobqueue"
	"docflow/internal/logging"
	"docflow/internal/outline"
	"docflow/internal/planner"
	"docflow/internal/taskstore"
	"docflow/internal/tasks"
)

// Store is the task persistence the dispatcher depends on.
type Store interface {
	PersistDag(ctx context.Context, projectID string, dag tasks.Dag) error
	ClearProject(ctx context.Context, projectID string) (int64, error)
	ListReadyTasks(ctx context.Context, projectID string) ([]*tasks.Record, error)
	GetTask(ctx context.Context, projectID, id string) (*tasks.Record, error)
	GetTasks(ctx context.Context, projectID string, ids []string) ([]*tasks.Record, error)
	Transition(ctx context.Context, projectID, id string, from []tasks.Status, to tasks.Status, upd taskstore.Update) (bool, error)
	Update(ctx context.Context, projectID, id string, upd taskstore.Update) error
	MarkBlocked(ctx context.Context, projectID string, ids []string, reason string) (int64, error)
	ListOverdue(ctx context.Context, cutoff time.Time) ([]*tasks.Record, error)
}

// Enqueuer pushes job payloads onto named queues.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, payload any, opts jobqueue.Options) (string, error)
}

// Options configures a Dispatcher.
type Options struct {
	// MaxAutofixAttempts bounds the verify/autofix loop per verify task. Zero
	// leaves the loop unbounded.
	MaxAutofixAttempts int
	// TaskTimeout is the deadline given to a dispatched or parked task. Zero
	// disables deadlines.
	TaskTimeout time.Duration
	Job         jobqueue.Options
	Logger      *slog.Logger
	Now         func() time.Time
}

// Dispatcher schedules tasks and consumes worker events.
type Dispatcher struct {
	store  Store
	queue  Enqueuer
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a dispatcher.
func New(store Store, queue Enqueuer, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		store:  store,
		queue:  queue,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "dispatcher"),
		now:    now,
	}
}

// NewFromConfig constructs a dispatcher using the workflow and queue settings
// of cfg.
func NewFromConfig(cfg *config.Config, store Store, queue Enqueuer, logger *slog.Logger) *Dispatcher {
	return New(store, queue, Options{
		MaxAutofixAttempts: cfg.Workflow.MaxAutofixAttempts,
		TaskTimeout:        cfg.TaskTimeout(),
		Job: jobqueue.Options{
			Attempts:         cfg.Queues.Attempts,
			RemoveOnComplete: cfg.Queues.RemoveOnComplete,
			RemoveOnFail:     cfg.Queues.RemoveOnFail,
		},
		Logger: logger,
	})
}

// ScheduleOptions controls Schedule.
type ScheduleOptions struct {
	// Reset clears any previous state of the project first.
	Reset bool
}

// ScheduleReport summarizes one Schedule call.
type ScheduleReport struct {
	ProjectID  string
	Summary    tasks.Summary
	Skipped    []tasks.Skipped
	Cleared    int64
	Dispatched []string
}

// Schedule persists dag for projectID and dispatches its ready tasks.
func (d *Dispatcher) Schedule(ctx context.Context, projectID string, dag tasks.Dag, opts ScheduleOptions) (ScheduleReport, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ScheduleReport{}, errors.New("schedule: project id is required")
	}
	report := ScheduleReport{ProjectID: projectID, Summary: dag.Summary, Skipped: dag.Skipped}
	logger := d.logger.With(logging.String(logging.FieldProjectID, projectID))

	if opts.Reset {
		cleared, err := d.store.ClearProject(ctx, projectID)
		if err != nil {
			return report, fmt.Errorf("reset project %s: %w", projectID, err)
		}
		report.Cleared = cleared
		if cleared > 0 {
			logger.Info("cleared previous project state", logging.Int64("tasks", cleared))
		}
	}

	for _, skipped := range dag.Skipped {
		logging.WarnWithContext(logger, "outline entry skipped", "outline_entry_skipped",
			logging.String("chapter_number", skipped.ChapterNumber),
			logging.String("parent_id", skipped.ParentID),
			logging.String("reason", skipped.Reason),
			logging.String(logging.FieldErrorHint, "fix the outline entry and reschedule with reset"),
		)
	}

	if err := d.store.PersistDag(ctx, projectID, dag); err != nil {
		return report, fmt.Errorf("schedule %s: %w", projectID, err)
	}
	logger.Info("project scheduled",
		logging.Int("tasks", len(dag.Nodes)),
		logging.Int("skipped", len(dag.Skipped)),
		logging.String(logging.FieldEventType, "project_scheduled"),
	)

	dispatched, err := d.EnqueueReadyTasks(ctx, projectID)
	report.Dispatched = dispatched
	return report, err
}

// ScheduleOutline plans doc and schedules the resulting DAG.
func (d *Dispatcher) ScheduleOutline(ctx context.Context, projectID string, doc *outline.Document, opts ScheduleOptions) (ScheduleReport, error) {
	if doc == nil {
		return ScheduleReport{}, errors.New("schedule: outline is required")
	}
	dag := planner.BuildDag(doc.Chapters, doc.Assets, doc.Project)
	return d.Schedule(ctx, projectID, dag, opts)
}

// Resume re-derives the ready set from persisted state and dispatches it.
// It is safe to call at any time, including right after a restart.
func (d *Dispatcher) Resume(ctx context.Context, projectID string) ([]string, error) {
	return d.EnqueueReadyTasks(ctx, projectID)
}

// EnqueueReadyTasks dispatches every ready task of the project and returns
// the ids it moved to running. A task another caller dispatched first is
// skipped.
func (d *Dispatcher) EnqueueReadyTasks(ctx context.Context, projectID string) ([]string, error) {
	ready, err := d.store.ListReadyTasks(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list ready tasks: %w", err)
	}
	var (
		dispatched []string
		errs       []error
	)
	for _, rec := range ready {
		ok, err := d.dispatch(ctx, rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			dispatched = append(dispatched, rec.ID)
		}
	}
	return dispatched, errors.Join(errs...)
}

// dispatch moves one ready task to running and enqueues its job.
func (d *Dispatcher) dispatch(ctx context.Context, rec *tasks.Record) (bool, error) {
	logger := d.taskLogger(rec.ProjectID, rec.ID)

	payload, err := d.buildPayload(ctx, rec)
	if err != nil {
		logging.ErrorWithContext(logger, "cannot build job payload", "payload_build_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "an upstream task finished without a usable result"),
		)
		if _, ferr := d.failTask(ctx, rec.ProjectID, rec.ID, []tasks.Status{tasks.StatusPending}, err.Error(), nil); ferr != nil {
			return false, ferr
		}
		return false, nil
	}

	job := d.jobOptions()
	meta := rec.Metadata
	meta.JobID = job.ID
	moved, err := d.store.Transition(ctx, rec.ProjectID, rec.ID,
		[]tasks.Status{tasks.StatusPending}, tasks.StatusRunning,
		taskstore.Update{Metadata: &meta, Deadline: d.deadline(), ClearDeadline: d.opts.TaskTimeout <= 0},
	)
	if err != nil {
		return false, fmt.Errorf("dispatch %s: %w", rec.ID, err)
	}
	if !moved {
		logger.Debug("task already dispatched")
		return false, nil
	}

	jobID, err := d.queue.Enqueue(ctx, string(rec.Kind), payload, job)
	if err != nil {
		if _, rerr := d.store.Transition(ctx, rec.ProjectID, rec.ID,
			[]tasks.Status{tasks.StatusRunning}, tasks.StatusPending,
			taskstore.Update{ClearDeadline: true},
		); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return false, fmt.Errorf("enqueue %s: %w", rec.ID, err)
	}
	logger.Info("task dispatched",
		logging.String(logging.FieldKind, string(rec.Kind)),
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldEventType, "task_dispatched"),
	)
	return true, nil
}

// jobOptions returns the configured job options with a fresh job id, so the
// id can be recorded on the task before the job becomes visible to workers.
func (d *Dispatcher) jobOptions() jobqueue.Options {
	opts := d.opts.Job
	opts.ID = uuid.NewString()
	return opts
}

func (d *Dispatcher) deadline() *time.Time {
	if d.opts.TaskTimeout <= 0 {
		return nil
	}
	at := d.now().Add(d.opts.TaskTimeout)
	return &at
}

func (d *Dispatcher) taskLogger(projectID, taskID string) *slog.Logger {
	return d.logger.With(
		logging.String(logging.FieldProjectID, projectID),
		logging.String(logging.FieldTaskID, taskID),
	)
}
