package tasks

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidDag marks structural problems found by Dag.Validate.
var ErrInvalidDag = errors.New("invalid task dag")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDag, fmt.Sprintf(format, args...))
}

// Validate rejects empty or duplicate ids, unknown dependency or edge
// endpoints, self loops, and cycles.
func (d Dag) Validate() error {
	index := make(map[string]int, len(d.Nodes))
	for i, n := range d.Nodes {
		if n.ID == "" {
			return invalidf("node %d has no id", i)
		}
		if _, dup := index[n.ID]; dup {
			return invalidf("duplicate node id %q", n.ID)
		}
		index[n.ID] = i
	}

	for _, n := range d.Nodes {
		for _, dep := range n.Dependencies {
			if dep == n.ID {
				return invalidf("self-loop on %q", n.ID)
			}
			if _, ok := index[dep]; !ok {
				return invalidf("%q depends on unknown task %q", n.ID, dep)
			}
		}
	}
	for _, e := range d.Edges {
		if _, ok := index[e.From]; !ok {
			return invalidf("edge references unknown task (from): %q", e.From)
		}
		if _, ok := index[e.To]; !ok {
			return invalidf("edge references unknown task (to): %q", e.To)
		}
		if e.From == e.To {
			return invalidf("self-loop edge on %q", e.From)
		}
	}

	if cycle := d.findCycle(index); len(cycle) > 0 {
		return invalidf("cycle among %v", cycle)
	}
	return nil
}

// findCycle runs Kahn's algorithm over Dependencies and returns the ids left
// unresolved, which all sit on or behind a cycle.
func (d Dag) findCycle(index map[string]int) []string {
	indeg := make([]int, len(d.Nodes))
	downstream := make([][]int, len(d.Nodes))
	for i, n := range d.Nodes {
		seen := make(map[string]struct{}, len(n.Dependencies))
		for _, dep := range n.Dependencies {
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			j := index[dep]
			downstream[j] = append(downstream[j], i)
			indeg[i]++
		}
	}

	queue := make([]int, 0, len(d.Nodes))
	for i, deg := range indeg {
		if deg == 0 {
			queue = append(queue, i)
		}
	}
	visited := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range downstream[cur] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited == len(d.Nodes) {
		return nil
	}

	var stuck []string
	for i, deg := range indeg {
		if deg > 0 {
			stuck = append(stuck, d.Nodes[i].ID)
		}
	}
	sort.Strings(stuck)
	return stuck
}

// Sinks returns the ids of nodes nothing depends on, in node order.
func (d Dag) Sinks() []string {
	depended := make(map[string]struct{}, len(d.Nodes))
	for _, n := range d.Nodes {
		for _, dep := range n.Dependencies {
			depended[dep] = struct{}{}
		}
	}
	var sinks []string
	for _, n := range d.Nodes {
		if _, ok := depended[n.ID]; !ok {
			sinks = append(sinks, n.ID)
		}
	}
	return sinks
}
