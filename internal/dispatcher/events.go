package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"docflow/internal/jobqueue"
	"docflow/internal/logging"
	"docflow/internal/taskstore"
	"docflow/internal/tasks"
)

// ProgressEvent reports that a worker picked up a job (Status running) or
// gave up on it before producing a result (Status failed).
type ProgressEvent struct {
	ProjectID string
	TaskID    string
	Kind      tasks.Kind
	Status    tasks.Status
	Error     string
	JobID     string
	Attempt   int
}

// ResultEvent carries the terminal outcome of a job. A non-empty Error means
// the work function failed.
type ResultEvent struct {
	ProjectID string
	TaskID    string
	Kind      tasks.Kind
	Result    json.RawMessage
	Error     string
	JobID     string
}

// HandleProgress records worker progress. Failures are terminal at this
// layer; redelivery is the queue's business.
func (d *Dispatcher) HandleProgress(ctx context.Context, ev ProgressEvent) error {
	logger := d.taskLogger(ev.ProjectID, ev.TaskID)
	if ev.Status != tasks.StatusRunning && ev.Status != tasks.StatusFailed {
		logger.Debug("progress event ignored", logging.String("status", string(ev.Status)))
		return nil
	}
	rec, err := d.currentTask(ctx, ev.ProjectID, ev.TaskID, ev.Kind, ev.JobID)
	if err != nil || rec == nil {
		return err
	}

	if ev.Status == tasks.StatusFailed {
		return d.handleFailure(ctx, ev.ProjectID, ev.TaskID, ev.Kind, ev.Error)
	}
	logger.Debug("worker picked up task",
		logging.String(logging.FieldKind, string(ev.Kind)),
		logging.String(logging.FieldJobID, ev.JobID),
		logging.Int("attempt", ev.Attempt),
	)
	if ev.Kind != tasks.KindAutofix && ev.Attempt > 1 {
		if err := d.store.Update(ctx, ev.ProjectID, ev.TaskID, taskstore.Update{Retries: taskstore.Int(ev.Attempt - 1)}); err != nil && !errors.Is(err, taskstore.ErrNotFound) {
			return fmt.Errorf("record retries of %s: %w", ev.TaskID, err)
		}
	}
	return nil
}

// HandleResult consumes a job's outcome.
func (d *Dispatcher) HandleResult(ctx context.Context, ev ResultEvent) error {
	rec, err := d.currentTask(ctx, ev.ProjectID, ev.TaskID, ev.Kind, ev.JobID)
	if err != nil || rec == nil {
		return err
	}
	kind := ev.Kind
	if kind == "" {
		kind = rec.Kind
	}

	if ev.Error != "" {
		return d.handleFailure(ctx, ev.ProjectID, ev.TaskID, kind, ev.Error)
	}
	switch kind {
	case tasks.KindAutofix:
		return d.handleAutofixSuccess(ctx, ev)
	case tasks.KindVerify:
		return d.handleVerifyResult(ctx, ev)
	default:
		return d.completeTask(ctx, ev.ProjectID, ev.TaskID, ev.Result)
	}
}

// currentTask loads the task an event refers to. It returns nil when the
// task no longer exists or when the event comes from a job other than the one
// the task is waiting on: an earlier repair cycle, or a run cleared by a
// reset. Events without a job id are not attributed and always pass.
func (d *Dispatcher) currentTask(ctx context.Context, projectID, taskID string, kind tasks.Kind, jobID string) (*tasks.Record, error) {
	logger := d.taskLogger(projectID, taskID)
	rec, err := d.store.GetTask(ctx, projectID, taskID)
	if errors.Is(err, taskstore.ErrNotFound) {
		logger.Debug("event for unknown task ignored", logging.String(logging.FieldJobID, jobID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", taskID, err)
	}
	if jobID == "" {
		return rec, nil
	}
	want := rec.Metadata.JobID
	if kind == tasks.KindAutofix {
		want = rec.Metadata.AutofixJobID
	}
	if want != "" && want != jobID {
		logger.Debug("stale job event ignored",
			logging.String(logging.FieldKind, string(kind)),
			logging.String(logging.FieldJobID, jobID),
			logging.String("current_job_id", want),
		)
		return nil, nil
	}
	return rec, nil
}

func (d *Dispatcher) handleFailure(ctx context.Context, projectID, taskID string, kind tasks.Kind, reason string) error {
	if reason == "" {
		reason = "worker failed"
	}
	if kind == tasks.KindAutofix {
		return d.handleAutofixFailure(ctx, projectID, taskID, reason)
	}
	_, err := d.failTask(ctx, projectID, taskID, []tasks.Status{tasks.StatusRunning}, reason, nil)
	return err
}

// completeTask records a result and dispatches whatever it unblocked. A
// result for a task that is no longer running changes nothing.
func (d *Dispatcher) completeTask(ctx context.Context, projectID, id string, result json.RawMessage) error {
	logger := d.taskLogger(projectID, id)
	moved, err := d.store.Transition(ctx, projectID, id,
		[]tasks.Status{tasks.StatusRunning}, tasks.StatusCompleted,
		taskstore.Update{Result: result, Error: taskstore.Text(""), ClearDeadline: true},
	)
	if err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	if !moved {
		logger.Debug("duplicate result ignored")
		return nil
	}
	logger.Info("task completed", logging.String(logging.FieldEventType, "task_completed"))

	_, err = d.EnqueueReadyTasks(ctx, projectID)
	return err
}

// Listener adapts job queue events into dispatcher events.
func (d *Dispatcher) Listener() jobqueue.Listener {
	return queueListener{d: d}
}

type queueListener struct {
	d *Dispatcher
}

type jobHeader struct {
	ProjectID string `json:"projectId"`
	TaskID    string `json:"taskId"`
}

func (l queueListener) header(job *jobqueue.Job) (jobHeader, bool) {
	var h jobHeader
	if err := json.Unmarshal(job.Payload, &h); err != nil || h.ProjectID == "" || h.TaskID == "" {
		logging.WarnWithContext(l.d.logger, "job payload has no task reference", "job_payload_invalid",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldKind, job.Queue),
			logging.String(logging.FieldImpact, "job outcome not recorded"),
		)
		return h, false
	}
	return h, true
}

func (l queueListener) report(err error, job *jobqueue.Job, event string) {
	if err == nil {
		return
	}
	logging.ErrorWithContext(l.d.logger, "failed to handle job event", event,
		logging.Error(err),
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldKind, job.Queue),
	)
}

func (l queueListener) JobActive(ctx context.Context, job *jobqueue.Job) {
	h, ok := l.header(job)
	if !ok {
		return
	}
	l.report(l.d.HandleProgress(ctx, ProgressEvent{
		ProjectID: h.ProjectID,
		TaskID:    h.TaskID,
		Kind:      tasks.Kind(job.Queue),
		Status:    tasks.StatusRunning,
		JobID:     job.ID,
		Attempt:   job.Attempts,
	}), job, "job_active_failed")
}

func (l queueListener) JobCompleted(ctx context.Context, job *jobqueue.Job, result json.RawMessage) {
	h, ok := l.header(job)
	if !ok {
		return
	}
	l.report(l.d.HandleResult(ctx, ResultEvent{
		ProjectID: h.ProjectID,
		TaskID:    h.TaskID,
		Kind:      tasks.Kind(job.Queue),
		Result:    result,
		JobID:     job.ID,
	}), job, "job_completed_failed")
}

func (l queueListener) JobFailed(ctx context.Context, job *jobqueue.Job, err error) {
	h, ok := l.header(job)
	if !ok {
		return
	}
	reason := "worker failed"
	if err != nil {
		reason = err.Error()
	}
	l.report(l.d.HandleProgress(ctx, ProgressEvent{
		ProjectID: h.ProjectID,
		TaskID:    h.TaskID,
		Kind:      tasks.Kind(job.Queue),
		Status:    tasks.StatusFailed,
		Error:     reason,
		JobID:     job.ID,
		Attempt:   job.Attempts,
	}), job, "job_failed_failed")
}
