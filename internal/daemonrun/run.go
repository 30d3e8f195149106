// Package daemonrun wires the docflow runtime and drives the daemon process
// lifecycle.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"docflow/internal/config"
	"docflow/internal/daemon"
	"docflow/internal/dispatcher"
	"docflow/internal/jobqueue"
	"docflow/internal/logging"
	"docflow/internal/preflight"
	"docflow/internal/taskstore"
	"docflow/internal/workers"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
	// Workers overrides the default work functions.
	Workers *workers.Set
}

// Runtime holds the wired components of one daemon process.
type Runtime struct {
	Daemon     *daemon.Daemon
	Dispatcher *dispatcher.Dispatcher
	Store      *taskstore.Store
	Jobs       *jobqueue.Store
}

// Build opens both stores and wires the dispatcher, the queue runner and the
// work functions into a daemon. Closing the daemon closes the stores.
func Build(cfg *config.Config, logger *slog.Logger, set *workers.Set) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	store, err := taskstore.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	jobs, err := jobqueue.Open(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open job store: %w", err)
	}

	disp := dispatcher.NewFromConfig(cfg, store, jobs, logger)
	runner := jobqueue.NewRunner(jobs, jobqueue.RunnerOptions{
		PollInterval: cfg.PollInterval(),
		Lease:        cfg.LeaseDuration(),
		Logger:       logger,
		Listener:     disp.Listener(),
	})
	if set == nil {
		set = workers.NewSet(logger)
	}
	if set.Logger == nil {
		set.Logger = logger
	}
	if err := workers.Register(runner, set, cfg.QueueConcurrency); err != nil {
		jobs.Close()
		store.Close()
		return nil, fmt.Errorf("register workers: %w", err)
	}

	d, err := daemon.New(cfg, store, jobs, disp, runner, logger)
	if err != nil {
		jobs.Close()
		store.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return &Runtime{Daemon: d, Dispatcher: disp, Store: store, Jobs: jobs}, nil
}

// Run starts the docflow daemon and blocks until a signal arrives or the
// workers stop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.NewFromConfig(cfg, "docflowd")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldCorrelationID, uuid.NewString()))

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	for _, check := range preflight.Failed(preflight.RunAll(signalCtx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldImpact, "the daemon may be unable to persist task state"),
		)
	}

	rt, err := Build(cfg, logger, opts.Workers)
	if err != nil {
		logger.Error("daemon wiring failed", logging.Error(err))
		return err
	}
	defer rt.Daemon.Close()

	if err := rt.Daemon.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	select {
	case <-signalCtx.Done():
		logger.Info("docflow daemon shutting down")
	case <-rt.Daemon.Done():
		if err := rt.Daemon.Err(); err != nil {
			return fmt.Errorf("daemon workers stopped: %w", err)
		}
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
