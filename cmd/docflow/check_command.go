package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docflow/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify directories and databases are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, r := range results {
				color, label := ansiGreen, "OK"
				if !r.Passed {
					color, label = ansiRed, "ERROR"
				}
				line := fmt.Sprintf("  %-16s [%s] %s", r.Name+":", label, r.Detail)
				if colorize {
					line = color + line + ansiReset
				}
				fmt.Fprintln(out, line)
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d checks failed", len(failed))
			}
			return nil
		},
	}
}
