package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"docflow/internal/sqlitedb"
	"docflow/internal/tasks"
)

// ProjectInfo describes one scheduled project.
type ProjectInfo struct {
	ID        string
	CreatedAt time.Time
	Summary   tasks.Summary
	Skipped   []tasks.Skipped
	Counts    map[tasks.Status]int
}

// PersistDag stores a freshly planned DAG for a project. Every node is
// inserted pending, then each dependency link is recorded on the upstream
// row's dependents list. Both phases run in one transaction.
//
// The DAG is validated first, so a cyclic or dangling graph is never written.
// PersistDag fails with ErrProjectExists when the project already has tasks;
// clear it first to reschedule.
func (s *Store) PersistDag(ctx context.Context, projectID string, dag tasks.Dag) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(projectID) == "" {
		return errors.New("persist dag: project id is required")
	}
	if err := dag.Validate(); err != nil {
		return fmt.Errorf("persist dag: %w", err)
	}

	summary, err := encodeJSON(dag.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	skipped, err := encodeJSON(append([]tasks.Skipped{}, dag.Skipped...))
	if err != nil {
		return fmt.Errorf("encode skipped entries: %w", err)
	}
	now := s.nowMillis()

	return sqlitedb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var existing int
		if err := tx.GetContext(ctx, &existing, `SELECT COUNT(1) FROM tasks WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("check project: %w", err)
		}
		if existing > 0 {
			return fmt.Errorf("%w: %s", ErrProjectExists, projectID)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO projects (project_id, summary, skipped, created_at) VALUES (?, ?, ?, ?)
             ON CONFLICT(project_id) DO UPDATE SET summary = excluded.summary, skipped = excluded.skipped, created_at = excluded.created_at`,
			projectID, summary, skipped, now,
		); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}

		for i, node := range dag.Nodes {
			if err := insertNode(ctx, tx, projectID, i, node, now); err != nil {
				return err
			}
		}

		for _, link := range dependencyLinks(dag) {
			if err := appendDependent(ctx, tx, projectID, link.From, link.To, now); err != nil {
				return err
			}
		}
		for _, edge := range dag.Edges {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO task_edges (project_id, from_id, to_id, reason) VALUES (?, ?, ?, ?)`,
				projectID, edge.From, edge.To, edge.Reason,
			); err != nil {
				return fmt.Errorf("insert edge %s -> %s: %w", edge.From, edge.To, err)
			}
		}
		return nil
	})
}

func insertNode(ctx context.Context, tx *sqlx.Tx, projectID string, position int, node tasks.Node, now int64) error {
	deps, err := encodeJSON(stringList(node.Dependencies))
	if err != nil {
		return fmt.Errorf("encode dependencies of %s: %w", node.ID, err)
	}
	meta, err := encodeJSON(node.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata of %s: %w", node.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (project_id, node_id, kind, label, outline_id, status, dependencies, dependents, metadata, position, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, '[]', ?, ?, ?, ?)`,
		projectID, node.ID, node.Kind, node.Label, node.OutlineID, tasks.StatusPending, deps, meta, position, now, now,
	); err != nil {
		return fmt.Errorf("insert task %s: %w", node.ID, err)
	}

	for _, dep := range node.Dependencies {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO task_dependencies (project_id, node_id, depends_on) VALUES (?, ?, ?)`,
			projectID, node.ID, dep,
		); err != nil {
			return fmt.Errorf("insert dependency %s -> %s: %w", dep, node.ID, err)
		}
	}
	return nil
}

// appendDependent adds to into from's dependents unless it is already there.
func appendDependent(ctx context.Context, tx *sqlx.Tx, projectID, from, to string, now int64) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET dependents = json_insert(dependents, '$[#]', ?), updated_at = ?
         WHERE project_id = ? AND node_id = ?
           AND NOT EXISTS (SELECT 1 FROM json_each(tasks.dependents) WHERE json_each.value = ?)`,
		to, now, projectID, from, to,
	); err != nil {
		return fmt.Errorf("link %s -> %s: %w", from, to, err)
	}
	return nil
}

// dependencyLinks returns every (upstream, downstream) pair named by the
// DAG's edges or its nodes' dependency lists, edges first, without repeats.
func dependencyLinks(dag tasks.Dag) []tasks.Edge {
	seen := make(map[[2]string]struct{}, len(dag.Edges))
	links := make([]tasks.Edge, 0, len(dag.Edges))
	add := func(from, to string) {
		key := [2]string{from, to}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		links = append(links, tasks.Edge{From: from, To: to})
	}
	for _, e := range dag.Edges {
		add(e.From, e.To)
	}
	for _, n := range dag.Nodes {
		for _, dep := range n.Dependencies {
			add(dep, n.ID)
		}
	}
	return links
}

// ClearProject deletes every task, edge, and summary of a project. It returns
// the number of tasks removed.
func (s *Store) ClearProject(ctx context.Context, projectID string) (int64, error) {
	ctx = ensureContext(ctx)
	var removed int64
	err := sqlitedb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("clear dependencies: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_edges WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("clear edges: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE project_id = ?`, projectID)
		if err != nil {
			return fmt.Errorf("clear tasks: %w", err)
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("clear project: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Edges returns the persisted diagnostic edges of a project.
func (s *Store) Edges(ctx context.Context, projectID string) ([]tasks.Edge, error) {
	var rows []struct {
		From   string `db:"from_id"`
		To     string `db:"to_id"`
		Reason string `db:"reason"`
	}
	if err := s.db.SelectContext(ensureContext(ctx), &rows,
		`SELECT from_id, to_id, reason FROM task_edges WHERE project_id = ? ORDER BY rowid`,
		projectID,
	); err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	edges := make([]tasks.Edge, 0, len(rows))
	for _, r := range rows {
		edges = append(edges, tasks.Edge{From: r.From, To: r.To, Reason: r.Reason})
	}
	return edges, nil
}

type projectRow struct {
	ID        string `db:"project_id"`
	Summary   string `db:"summary"`
	Skipped   string `db:"skipped"`
	CreatedAt int64  `db:"created_at"`
}

func (r projectRow) info() (ProjectInfo, error) {
	info := ProjectInfo{ID: r.ID, CreatedAt: fromMillis(r.CreatedAt), Counts: map[tasks.Status]int{}}
	if err := json.Unmarshal([]byte(r.Summary), &info.Summary); err != nil {
		return ProjectInfo{}, fmt.Errorf("decode summary of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Skipped), &info.Skipped); err != nil {
		return ProjectInfo{}, fmt.Errorf("decode skipped entries of %s: %w", r.ID, err)
	}
	return info, nil
}

// ProjectSummary returns the stored summary and live status counts of a project.
func (s *Store) ProjectSummary(ctx context.Context, projectID string) (ProjectInfo, error) {
	ctx = ensureContext(ctx)
	var row projectRow
	err := s.db.GetContext(ctx, &row, `SELECT project_id, summary, skipped, created_at FROM projects WHERE project_id = ?`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return ProjectInfo{}, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	if err != nil {
		return ProjectInfo{}, fmt.Errorf("get project: %w", err)
	}
	info, err := row.info()
	if err != nil {
		return ProjectInfo{}, err
	}
	if info.Counts, err = s.Stats(ctx, projectID); err != nil {
		return ProjectInfo{}, err
	}
	return info, nil
}

// ListProjects returns every scheduled project, oldest first.
func (s *Store) ListProjects(ctx context.Context) ([]ProjectInfo, error) {
	ctx = ensureContext(ctx)
	var rows []projectRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT project_id, summary, skipped, created_at FROM projects ORDER BY created_at, project_id`); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	var counts []struct {
		ProjectID string `db:"project_id"`
		Status    string `db:"status"`
		Count     int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &counts, `SELECT project_id, status, COUNT(1) AS n FROM tasks GROUP BY project_id, status`); err != nil {
		return nil, fmt.Errorf("project counts: %w", err)
	}

	projects := make([]ProjectInfo, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, row := range rows {
		info, err := row.info()
		if err != nil {
			return nil, err
		}
		index[info.ID] = len(projects)
		projects = append(projects, info)
	}
	for _, c := range counts {
		if i, ok := index[c.ProjectID]; ok {
			projects[i].Counts[tasks.Status(c.Status)] = c.Count
		}
	}
	return projects, nil
}
