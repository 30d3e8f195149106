// Package planner builds the task DAG for a document outline.
//
// Planning is pure: BuildDag reads nothing but its arguments, so rerunning it
// for diagnostics reproduces the persisted graph exactly.
package planner
