package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docflow/internal/logging"
	"docflow/internal/taskstore"
	"docflow/internal/tasks"
)

// Failure reasons recorded on verify tasks.
const (
	ReasonHardFail      = "verifier hard fail"
	ReasonAutofixLimit  = "verifier soft fail limit exceeded"
	ReasonTimeout       = "task timed out"
	reasonAwaitAutofix  = "awaiting autofix"
	autofixFailedPrefix = "autofix failed: "
)

func (d *Dispatcher) handleVerifyResult(ctx context.Context, ev ResultEvent) error {
	var outcome tasks.VerifyOutcome
	if err := json.Unmarshal(ev.Result, &outcome); err != nil {
		_, ferr := d.failTask(ctx, ev.ProjectID, ev.TaskID, []tasks.Status{tasks.StatusRunning},
			fmt.Sprintf("invalid verify result: %v", err), ev.Result)
		return ferr
	}

	switch outcome.Status {
	case tasks.VerifyAccept:
		return d.completeTask(ctx, ev.ProjectID, ev.TaskID, ev.Result)
	case tasks.VerifyHardFail:
		_, err := d.failTask(ctx, ev.ProjectID, ev.TaskID, []tasks.Status{tasks.StatusRunning}, ReasonHardFail, ev.Result)
		return err
	case tasks.VerifySoftFail:
		return d.handleSoftFail(ctx, ev, outcome)
	default:
		_, err := d.failTask(ctx, ev.ProjectID, ev.TaskID, []tasks.Status{tasks.StatusRunning},
			fmt.Sprintf("unknown verify status %q", outcome.Status), ev.Result)
		return err
	}
}

// handleSoftFail parks the verify task and sends its draft to autofix, unless
// the task has used up its repair attempts.
func (d *Dispatcher) handleSoftFail(ctx context.Context, ev ResultEvent, outcome tasks.VerifyOutcome) error {
	logger := d.taskLogger(ev.ProjectID, ev.TaskID)
	rec, err := d.store.GetTask(ctx, ev.ProjectID, ev.TaskID)
	if err != nil {
		return fmt.Errorf("load verify task: %w", err)
	}
	if rec.Status != tasks.StatusRunning {
		logger.Debug("duplicate verify result ignored", logging.String("status", string(rec.Status)))
		return nil
	}

	attempts := rec.Metadata.AutofixAttempts + 1
	if limit := d.opts.MaxAutofixAttempts; limit > 0 && attempts > limit {
		logger.Warn("autofix attempts exhausted",
			logging.Int("attempts", rec.Metadata.AutofixAttempts),
			logging.Int("limit", limit),
			logging.String(logging.FieldEventType, "autofix_limit_reached"),
		)
		_, err := d.failTask(ctx, ev.ProjectID, ev.TaskID, []tasks.Status{tasks.StatusRunning}, ReasonAutofixLimit, ev.Result)
		return err
	}

	meta := rec.Metadata
	meta.Draft = outcome.Draft
	meta.PendingPatches = outcome.Patches
	meta.Violations = outcome.Violations
	meta.AutofixAttempts = attempts
	job := d.jobOptions()
	meta.AutofixJobID = job.ID
	moved, err := d.store.Transition(ctx, ev.ProjectID, ev.TaskID,
		[]tasks.Status{tasks.StatusRunning}, tasks.StatusBlocked,
		taskstore.Update{
			Metadata:      &meta,
			Error:         taskstore.Text(reasonAwaitAutofix),
			Deadline:      d.deadline(),
			ClearDeadline: d.opts.TaskTimeout <= 0,
		},
	)
	if err != nil {
		return fmt.Errorf("park verify task: %w", err)
	}
	if !moved {
		logger.Debug("duplicate verify result ignored")
		return nil
	}

	payload := tasks.Payload{
		ProjectID:  ev.ProjectID,
		TaskID:     ev.TaskID,
		Kind:       tasks.KindAutofix,
		Attempt:    attempts,
		Outline:    meta.Outline,
		Project:    meta.Project,
		Assets:     meta.Assets,
		Draft:      outcome.Draft,
		Patches:    outcome.Patches,
		Violations: outcome.Violations,
	}
	jobID, err := d.queue.Enqueue(ctx, string(tasks.KindAutofix), payload, job)
	if err != nil {
		_, ferr := d.failTask(ctx, ev.ProjectID, ev.TaskID, []tasks.Status{tasks.StatusBlocked},
			autofixFailedPrefix+err.Error(), nil)
		if ferr != nil {
			return ferr
		}
		return fmt.Errorf("enqueue autofix for %s: %w", ev.TaskID, err)
	}

	logger.Info("verify soft-failed, autofix queued",
		logging.Int("attempt", attempts),
		logging.Int("violations", len(outcome.Violations)),
		logging.Int("patches", len(outcome.Patches)),
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldEventType, "autofix_queued"),
	)
	return nil
}

// handleAutofixSuccess merges the repaired draft into the parked verify task
// and sends it back through verify.
func (d *Dispatcher) handleAutofixSuccess(ctx context.Context, ev ResultEvent) error {
	logger := d.taskLogger(ev.ProjectID, ev.TaskID)
	rec, err := d.store.GetTask(ctx, ev.ProjectID, ev.TaskID)
	if err != nil {
		return fmt.Errorf("load verify task: %w", err)
	}
	if rec.Status != tasks.StatusBlocked {
		logger.Debug("autofix result ignored, verify task not parked", logging.String("status", string(rec.Status)))
		return nil
	}

	draft := tasks.TextOf(ev.Result)
	if strings.TrimSpace(draft) == "" {
		return d.handleAutofixFailure(ctx, ev.ProjectID, ev.TaskID, "autofix returned an empty draft")
	}

	meta := rec.Metadata
	meta.Draft = draft
	meta.PendingPatches = nil
	meta.Violations = nil
	meta.AutofixJobID = ""
	moved, err := d.store.Transition(ctx, ev.ProjectID, ev.TaskID,
		[]tasks.Status{tasks.StatusBlocked}, tasks.StatusPending,
		taskstore.Update{Metadata: &meta, Error: taskstore.Text(""), ClearDeadline: true},
	)
	if err != nil {
		return fmt.Errorf("requeue verify task: %w", err)
	}
	if !moved {
		logger.Debug("duplicate autofix result ignored")
		return nil
	}
	logger.Info("autofix applied, re-verifying",
		logging.Int("attempt", meta.AutofixAttempts),
		logging.String(logging.FieldEventType, "autofix_applied"),
	)

	_, err = d.EnqueueReadyTasks(ctx, ev.ProjectID)
	return err
}

// handleAutofixFailure fails the parked verify task the autofix job belonged
// to.
func (d *Dispatcher) handleAutofixFailure(ctx context.Context, projectID, verifyID, reason string) error {
	if !strings.HasPrefix(reason, autofixFailedPrefix) {
		reason = autofixFailedPrefix + reason
	}
	_, err := d.failTask(ctx, projectID, verifyID, []tasks.Status{tasks.StatusBlocked}, reason, nil)
	return err
}
