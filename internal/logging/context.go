package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldProjectID identifies the project a task belongs to.
	FieldProjectID = "project_id"
	// FieldTaskID identifies a task within its project.
	FieldTaskID = "task_id"
	// FieldKind is the task kind, which is also its queue name.
	FieldKind = "kind"
	// FieldJobID identifies one queued job.
	FieldJobID = "job_id"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step for an operator.
	FieldErrorHint = "error_hint"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

type ctxKey int

const (
	projectKey ctxKey = iota
	taskKey
	jobKey
	correlationKey
)

// WithTask tags ctx with a project and task id.
func WithTask(ctx context.Context, projectID, taskID string) context.Context {
	ctx = context.WithValue(ctx, projectKey, projectID)
	return context.WithValue(ctx, taskKey, taskID)
}

// WithJob tags ctx with a queue job id.
func WithJob(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobKey, jobID)
}

// WithCorrelationID tags ctx with a request correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	for _, f := range []struct {
		key ctxKey
		att string
	}{
		{projectKey, FieldProjectID},
		{taskKey, FieldTaskID},
		{jobKey, FieldJobID},
		{correlationKey, FieldCorrelationID},
	} {
		if v, ok := ctx.Value(f.key).(string); ok && v != "" {
			fields = append(fields, slog.String(f.att, v))
		}
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
