// Package daemon coordinates the long-running docflow process.
//
// It ties the task store, the job queue runner and the dispatcher's deadline
// sweeper into a single lifecycle, with flock-based locking to prevent two
// daemons from draining the same databases. On start it resumes every known
// project so tasks that became ready while no daemon was running are
// dispatched.
//
// Keep orchestration here: scheduling rules live in the dispatcher and work
// functions in the workers package.
package daemon
