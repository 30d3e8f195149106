// Package logging assembles structured slog loggers and formatting helpers used
// across docflow.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so dispatcher and worker code can
// tag log lines with project ids, task ids, and job ids. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
