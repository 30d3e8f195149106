package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docflow/internal/taskstore"
	"docflow/internal/tasks"
)

type taskView struct {
	ID           string     `json:"id"`
	Kind         tasks.Kind `json:"kind"`
	Label        string     `json:"label"`
	Status       string     `json:"status"`
	Ready        bool       `json:"ready"`
	Dependencies []string   `json:"dependencies"`
	Retries      int        `json:"retries,omitempty"`
	Autofix      int        `json:"autofixAttempts,omitempty"`
	Error        string     `json:"error,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func newTaskView(rec *tasks.Record, statuses map[string]tasks.Status) taskView {
	return taskView{
		ID:           rec.ID,
		Kind:         rec.Kind,
		Label:        rec.Label,
		Status:       string(rec.Status),
		Ready:        rec.IsReadyGiven(statuses),
		Dependencies: rec.Dependencies,
		Retries:      rec.Retries,
		Autofix:      rec.Metadata.AutofixAttempts,
		Error:        rec.Error,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func newTasksCommand(ctx *commandContext) *cobra.Command {
	var (
		statusFlags []string
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "tasks <project-id>",
		Short: "List a project's tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(statusFlags)
			if err != nil {
				return err
			}
			store, err := ctx.taskStore()
			if err != nil {
				return err
			}
			records, err := store.ListTasks(cmd.Context(), args[0], statuses...)
			if err != nil {
				return err
			}
			all := records
			if len(statuses) > 0 {
				if all, err = store.ListTasks(cmd.Context(), args[0]); err != nil {
					return err
				}
			}
			current := make(map[string]tasks.Status, len(all))
			for _, rec := range all {
				current[rec.ID] = rec.Status
			}

			views := make([]taskView, 0, len(records))
			for _, rec := range records {
				views = append(views, newTaskView(rec, current))
			}
			if jsonOut {
				return writeJSON(cmd, views)
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
				return nil
			}

			colorize := shouldColorize(cmd.OutOrStdout())
			rows := make([][]string, 0, len(views))
			for i, rec := range records {
				status := paintStatus(rec.Status, colorize)
				if views[i].Ready {
					status += " (ready)"
				}
				rows = append(rows, []string{
					rec.ID,
					status,
					strconv.Itoa(len(rec.Dependencies)),
					strconv.Itoa(rec.Metadata.AutofixAttempts),
					truncate(rec.Error, 48),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tableView{
				Title:    args[0],
				Headers:  []string{"Task", "Status", "Deps", "Autofix", "Error"},
				Rows:     rows,
				Aligns:   []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				Colorize: colorize,
			}.render())
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statusFlags, "status", nil, "Only list tasks in these statuses")
	addJSONFlag(cmd, &jsonOut)
	return cmd
}

func parseStatuses(values []string) ([]tasks.Status, error) {
	statuses := make([]tasks.Status, 0, len(values))
	for _, value := range values {
		status, ok := tasks.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}

type statusView struct {
	taskstore.ProjectInfo
	Edges []tasks.Edge `json:"edges"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status <project-id>",
		Short: "Show a project's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.taskStore()
			if err != nil {
				return err
			}
			info, err := store.ProjectSummary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				edges, err := store.Edges(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, statusView{ProjectInfo: info, Edges: edges})
			}
			failures, err := store.ListTasks(cmd.Context(), args[0], tasks.StatusFailed)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			lines := renderSectionHeader("Project "+info.ID, colorize)
			lines = append(lines,
				fmt.Sprintf("  scheduled:   %s", info.CreatedAt.Local().Format(time.DateTime)),
				fmt.Sprintf("  tasks:       %d", info.Summary.Total),
				fmt.Sprintf("  in flight:   %d", info.Counts[tasks.StatusPending]+info.Counts[tasks.StatusRunning]),
			)
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Tasks", colorize)...)
			lines = append(lines, renderCounts(info.Counts, colorize)...)
			if len(failures) > 0 {
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("Failures", colorize)...)
				for _, rec := range failures {
					lines = append(lines, fmt.Sprintf("  %s: %s", rec.ID, rec.Error))
				}
			}
			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
	addJSONFlag(cmd, &jsonOut)
	return cmd
}

func newProjectsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List scheduled projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.taskStore()
			if err != nil {
				return err
			}
			projects, err := store.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, projects)
			}
			if len(projects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects")
				return nil
			}

			sort.SliceStable(projects, func(i, j int) bool { return projects[i].CreatedAt.Before(projects[j].CreatedAt) })
			rows := make([][]string, 0, len(projects))
			for _, p := range projects {
				rows = append(rows, []string{
					p.ID,
					strconv.Itoa(p.Summary.Total),
					strconv.Itoa(p.Counts[tasks.StatusCompleted]),
					strconv.Itoa(p.Counts[tasks.StatusFailed]),
					strconv.Itoa(p.Counts[tasks.StatusBlocked]),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tableView{
				Headers:  []string{"Project", "Tasks", "Completed", "Failed", "Blocked"},
				Rows:     rows,
				Aligns:   []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
				Colorize: shouldColorize(cmd.OutOrStdout()),
			}.render())
			return nil
		},
	}
	addJSONFlag(cmd, &jsonOut)
	return cmd
}
