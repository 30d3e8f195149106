// Package tasks defines the task graph vocabulary shared by the planner, the
// task store, the dispatcher, and the work functions.
//
// A Dag is produced once per planning pass and persisted as Records keyed by
// project and task id. Metadata carries exact references to the upstream
// tasks whose results a job needs, and accumulates the draft, patches, and
// violations a verify task collects while it cycles through autofix.
//
// Payload and the *Result types are the contract with work functions; the
// dispatcher never inspects results beyond the verify outcome.
package tasks
