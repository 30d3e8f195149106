package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docflow/internal/dispatcher"
	"docflow/internal/outline"
	"docflow/internal/planner"
)

type assetFlags struct {
	embedReady bool
	tableReady bool
}

func (f *assetFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.embedReady, "embed-ready", false, "Override the outline: embeddings are available for retrieval")
	cmd.Flags().BoolVar(&f.tableReady, "table-ready", false, "Override the outline: tables are available for retrieval")
}

// apply overrides the outline's readiness flags with the ones set on the
// command line.
func (f *assetFlags) apply(cmd *cobra.Command, doc *outline.Document) {
	if cmd.Flags().Changed("embed-ready") {
		doc.Assets.EmbedReady = f.embedReady
	}
	if cmd.Flags().Changed("table-ready") {
		doc.Assets.TableReady = f.tableReady
	}
}

func newPlanCommand() *cobra.Command {
	var (
		assets  assetFlags
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:         "plan <outline>",
		Short:       "Print the task graph an outline plans into",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := outline.Load(args[0])
			if err != nil {
				return err
			}
			assets.apply(cmd, doc)
			dag := planner.BuildDag(doc.Chapters, doc.Assets, doc.Project)
			if err := dag.Validate(); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, dag)
			}
			fmt.Fprint(cmd.OutOrStdout(), planner.Render(dag))
			return nil
		},
	}
	assets.register(cmd)
	addJSONFlag(cmd, &jsonOut)
	return cmd
}

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	var (
		assets  assetFlags
		reset   bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "schedule <project-id> <outline>",
		Short: "Plan an outline, persist its tasks and dispatch the ready ones",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			doc, err := outline.Load(args[1])
			if err != nil {
				return err
			}
			assets.apply(cmd, doc)

			disp, _, err := ctx.dispatcher(cmd)
			if err != nil {
				return err
			}
			report, err := disp.ScheduleOutline(cmd.Context(), projectID, doc, dispatcher.ScheduleOptions{Reset: reset})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			if report.Cleared > 0 {
				fmt.Fprintf(out, "Cleared %d previous tasks\n", report.Cleared)
			}
			fmt.Fprintf(out, "Scheduled %s: %d tasks, %d dispatched\n", report.ProjectID, report.Summary.Total, len(report.Dispatched))
			for _, skipped := range report.Skipped {
				fmt.Fprintf(out, "  skipped chapter %q: %s\n", skipped.ChapterNumber, skipped.Reason)
			}
			return nil
		},
	}
	assets.register(cmd)
	cmd.Flags().BoolVar(&reset, "reset", false, "Discard the project's previous tasks first")
	addJSONFlag(cmd, &jsonOut)
	return cmd
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <project-id>",
		Short: "Dispatch every task of a project whose dependencies are complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			disp, store, err := ctx.dispatcher(cmd)
			if err != nil {
				return err
			}
			if _, err := store.ProjectSummary(cmd.Context(), args[0]); err != nil {
				return err
			}
			dispatched, err := disp.Resume(cmd.Context(), args[0])
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Dispatched %d tasks\n", len(dispatched))
			for _, id := range dispatched {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return err
		},
	}
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail every running or parked task whose deadline has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			disp, _, err := ctx.dispatcher(cmd)
			if err != nil {
				return err
			}
			n, err := disp.Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Timed out %d tasks\n", n)
			return err
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <project-id>",
		Short: "Delete a project's tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.taskStore()
			if err != nil {
				return err
			}
			n, err := store.ClearProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d tasks\n", n)
			return nil
		},
	}
}
