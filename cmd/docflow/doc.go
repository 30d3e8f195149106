// Command docflow plans outlines into task graphs, schedules projects and
// inspects their progress. Scheduling commands talk to the databases
// directly; the docflowd daemon does the work.
package main
