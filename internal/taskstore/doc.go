// Package taskstore persists task DAGs and task state in SQLite.
//
// The store is the single source of truth for orchestration: the dispatcher
// keeps nothing between calls and coordinates solely through the atomic status
// transitions exposed here. Readiness is answered by one SQL statement so a
// task is never judged ready from a stale view of its dependencies.
//
// Every operation is scoped by project id. Timestamps and deadlines are stored
// as Unix milliseconds.
package taskstore
