package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docflow/internal/jobqueue"
	"docflow/internal/logging"
	"docflow/internal/tasks"
)

// Register binds every queue kind to its work function on runner.
// concurrency returns the worker count for a queue; nil means one each.
func Register(runner *jobqueue.Runner, set *Set, concurrency func(queue string) int) error {
	if set == nil {
		return fmt.Errorf("register workers: nil set")
	}
	funcs := set.Funcs()
	for _, kind := range tasks.QueueKinds() {
		fn, ok := funcs[kind]
		if !ok {
			return fmt.Errorf("register workers: no work function for %s", kind)
		}
		n := 1
		if concurrency != nil {
			n = concurrency(string(kind))
		}
		if err := runner.Register(string(kind), set.Handler(kind, fn), n); err != nil {
			return err
		}
	}
	return nil
}

// Handler adapts a work function to a queue handler. Errors that retrying
// cannot fix are marked permanent so the job fails on its first attempt.
func (s *Set) Handler(kind tasks.Kind, fn Func) jobqueue.Handler {
	return func(ctx context.Context, job *jobqueue.Job) (json.RawMessage, error) {
		var payload tasks.Payload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("%w: decode %s payload: %w", jobqueue.ErrPermanent, kind, err)
		}
		if payload.Kind == "" {
			payload.Kind = kind
		}

		logger := s.logger().With(
			logging.String(logging.FieldProjectID, payload.ProjectID),
			logging.String(logging.FieldTaskID, payload.TaskID),
			logging.String(logging.FieldKind, string(kind)),
			logging.String(logging.FieldJobID, job.ID),
		)
		start := time.Now()
		result, err := fn(ctx, payload)
		if err != nil {
			logger.Debug("work function failed",
				logging.Error(err),
				logging.Int("attempt", job.Attempts),
			)
			if !Retryable(err) {
				return nil, fmt.Errorf("%w: %w", jobqueue.ErrPermanent, err)
			}
			return nil, err
		}

		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("%w: encode %s result: %w", jobqueue.ErrPermanent, kind, err)
		}
		logger.Debug("work function finished", logging.Int64("duration_ms", time.Since(start).Milliseconds()))
		return raw, nil
	}
}
