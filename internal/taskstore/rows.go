package taskstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"docflow/internal/tasks"
)

const taskColumns = `t.project_id, t.node_id, t.kind, t.label, t.outline_id, t.status,
    t.dependencies, t.dependents, t.metadata, t.result, t.error, t.retries,
    t.deadline_at, t.created_at, t.updated_at`

type taskRow struct {
	ProjectID    string         `db:"project_id"`
	NodeID       string         `db:"node_id"`
	Kind         string         `db:"kind"`
	Label        string         `db:"label"`
	OutlineID    string         `db:"outline_id"`
	Status       string         `db:"status"`
	Dependencies string         `db:"dependencies"`
	Dependents   string         `db:"dependents"`
	Metadata     string         `db:"metadata"`
	Result       sql.NullString `db:"result"`
	Error        string         `db:"error"`
	Retries      int            `db:"retries"`
	DeadlineAt   sql.NullInt64  `db:"deadline_at"`
	CreatedAt    int64          `db:"created_at"`
	UpdatedAt    int64          `db:"updated_at"`
}

func (r taskRow) record() (*tasks.Record, error) {
	rec := &tasks.Record{
		ProjectID: r.ProjectID,
		ID:        r.NodeID,
		Kind:      tasks.Kind(r.Kind),
		Label:     r.Label,
		OutlineID: r.OutlineID,
		Status:    tasks.Status(r.Status),
		Error:     r.Error,
		Retries:   r.Retries,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.Dependencies), &rec.Dependencies); err != nil {
		return nil, fmt.Errorf("decode dependencies of %s: %w", r.NodeID, err)
	}
	if err := json.Unmarshal([]byte(r.Dependents), &rec.Dependents); err != nil {
		return nil, fmt.Errorf("decode dependents of %s: %w", r.NodeID, err)
	}
	if err := json.Unmarshal([]byte(r.Metadata), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", r.NodeID, err)
	}
	if r.Result.Valid && r.Result.String != "" {
		rec.Result = json.RawMessage(r.Result.String)
	}
	if r.DeadlineAt.Valid {
		deadline := fromMillis(r.DeadlineAt.Int64)
		rec.Deadline = &deadline
	}
	return rec, nil
}

func records(rows []taskRow) ([]*tasks.Record, error) {
	out := make([]*tasks.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func encodeJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func stringList(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}
