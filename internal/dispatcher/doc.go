// Package dispatcher drives a project's task DAG through the job queues.
//
// The dispatcher holds no state between calls. Ready tasks are read from the
// task store, moved to running with a compare-and-swap, and pushed onto the
// queue named for their kind. Progress and result events coming back from the
// workers advance the store and re-run ready-task discovery. Verify results
// are classified three ways; soft failures park the verify task and send its
// draft through the autofix queue until it is accepted, hard-fails, or runs
// out of repair attempts.
//
// Several dispatchers may share one store: every status change is guarded by
// the expected prior status, so duplicate or late deliveries change nothing.
package dispatcher
