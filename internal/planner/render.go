package planner

import (
	"fmt"
	"strings"

	"docflow/internal/tasks"
)

// Render formats a DAG as plain text. It lists the summary and the sinks,
// then one line per node with its dependencies, then any skipped outline
// entries. The output is stable for a given DAG.
func Render(dag tasks.Dag) string {
	var b strings.Builder

	fmt.Fprintf(&b, "nodes: %d\n", dag.Summary.Total)
	for _, kind := range tasks.DagKinds {
		fmt.Fprintf(&b, "  %s: %d\n", kind, dag.Summary.ByKind[kind])
	}
	fmt.Fprintf(&b, "sinks: %s\n", strings.Join(dag.Sinks(), ", "))

	b.WriteString("\n")
	for _, n := range dag.Nodes {
		fmt.Fprintf(&b, "%s [%s]", n.ID, n.Label)
		if len(n.Dependencies) > 0 {
			fmt.Fprintf(&b, " <- %s", strings.Join(n.Dependencies, ", "))
		}
		b.WriteString("\n")
	}

	if len(dag.Skipped) > 0 {
		b.WriteString("\nskipped:\n")
		for _, s := range dag.Skipped {
			fmt.Fprintf(&b, "  chapter=%q parent=%q: %s\n", s.ChapterNumber, s.ParentID, s.Reason)
		}
	}
	return b.String()
}
