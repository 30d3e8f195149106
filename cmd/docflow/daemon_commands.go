package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docflow/internal/daemonctl"
)

const (
	daemonStartTimeout = 10 * time.Second
	daemonStopGrace    = 15 * time.Second
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the background daemon",
	}
	daemonCmd.AddCommand(newDaemonStartCommand(ctx))
	daemonCmd.AddCommand(newDaemonStopCommand(ctx))
	daemonCmd.AddCommand(newDaemonStatusCommand(ctx))
	return daemonCmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch the daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			res, err := daemonctl.EnsureStarted(cfg, exe, daemonctl.LaunchOptions{
				ConfigPath: strings.TrimSpace(*ctx.configFlag),
				LogLevel:   logLevel,
			}, daemonStartTimeout)
			if err != nil {
				return err
			}
			if res.AlreadyRunning {
				fmt.Fprintf(cmd.OutOrStdout(), "Daemon already running (pid %d)\n", res.PID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon started (pid %d)\n", res.PID)
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			res, err := daemonctl.Stop(cfg, daemonStopGrace)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if res.ForcedKill {
				fmt.Fprintf(cmd.OutOrStdout(), "Daemon (pid %d) did not exit in time and was killed\n", res.PID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon (pid %d) stopped\n", res.PID)
			return nil
		},
	}
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			proc, err := daemonctl.Probe(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !proc.Running {
				fmt.Fprintln(out, "Daemon: not running")
			} else {
				fmt.Fprintf(out, "Daemon: running (pid %d)\n", proc.PID)
			}
			fmt.Fprintf(out, "Lock file: %s\n", proc.LockPath)
			fmt.Fprintf(out, "Task database: %s\n", cfg.TaskDBPath())
			fmt.Fprintf(out, "Job database: %s\n", cfg.JobDBPath())
			return nil
		},
	}
}
