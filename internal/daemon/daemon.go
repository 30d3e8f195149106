package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"docflow/internal/config"
	"docflow/internal/dispatcher"
	"docflow/internal/jobqueue"
	"docflow/internal/logging"
	"docflow/internal/taskstore"
)

// Daemon runs the queue workers and the sweeper and enforces single-instance
// execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *taskstore.Store
	jobs       *jobqueue.Store
	dispatcher *dispatcher.Dispatcher
	runner     *jobqueue.Runner

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Projects     int
	Queues       map[string]map[jobqueue.Status]int
	TaskDBPath   string
	JobDBPath    string
	LockFilePath string
}

// New constructs a daemon. The runner must already have its queues
// registered.
func New(cfg *config.Config, store *taskstore.Store, jobs *jobqueue.Store, disp *dispatcher.Dispatcher, runner *jobqueue.Runner, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || jobs == nil || disp == nil || runner == nil {
		return nil, errors.New("daemon requires config, task store, job store, dispatcher, and runner")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		jobs:       jobs,
		dispatcher: disp,
		runner:     runner,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, resumes known projects and launches the
// runner and sweeper.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another docflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.resumeProjects(runCtx)

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return d.runner.Run(groupCtx)
	})
	group.Go(func() error {
		d.dispatcher.RunSweeper(groupCtx, d.cfg.SweepInterval())
		return nil
	})

	d.cancel = cancel
	d.done = make(chan struct{})
	d.runErr = nil
	done := d.done
	go func() {
		err := group.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.ErrorWithContext(d.logger, "daemon workers stopped", "daemon_workers_stopped",
				logging.Error(err),
				logging.String(logging.FieldImpact, "queued tasks are not being processed"),
			)
		}
		d.mu.Lock()
		d.runErr = err
		d.mu.Unlock()
		d.running.Store(false)
		close(done)
	}()

	d.running.Store(true)
	d.logger.Info("docflow daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("queues", len(d.runner.Queues())),
	)
	return nil
}

// resumeProjects dispatches ready tasks left behind by a previous run.
func (d *Daemon) resumeProjects(ctx context.Context) {
	projects, err := d.store.ListProjects(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "cannot list projects to resume", "resume_list_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "ready tasks wait for the next completion event"),
		)
		return
	}
	for _, project := range projects {
		dispatched, err := d.dispatcher.Resume(ctx, project.ID)
		if err != nil {
			logging.WarnWithContext(d.logger, "project resume incomplete", "resume_failed",
				logging.String(logging.FieldProjectID, project.ID),
				logging.Error(err),
			)
		}
		if len(dispatched) > 0 {
			d.logger.Info("project resumed",
				logging.String(logging.FieldProjectID, project.ID),
				logging.Int("dispatched", len(dispatched)),
			)
		}
	}
}

// Stop cancels background processing, waits for in-flight jobs to return and
// releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("docflow daemon stopped")
}

// Done is closed when the background workers exit. It is nil before Start.
func (d *Daemon) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Err returns the error the workers stopped with, if any.
func (d *Daemon) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runErr
}

// Close stops the daemon and releases both stores.
func (d *Daemon) Close() error {
	d.Stop()
	return errors.Join(d.jobs.Close(), d.store.Close())
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		Queues:       make(map[string]map[jobqueue.Status]int),
		TaskDBPath:   d.store.Path(),
		JobDBPath:    d.jobs.Path(),
		LockFilePath: d.lockPath,
	}
	if projects, err := d.store.ListProjects(ctx); err == nil {
		status.Projects = len(projects)
	} else {
		d.logger.Warn("status: list projects failed", logging.Error(err))
	}
	for _, queue := range d.runner.Queues() {
		counts, err := d.jobs.Counts(ctx, queue)
		if err != nil {
			d.logger.Warn("status: queue counts failed", logging.String(logging.FieldKind, queue), logging.Error(err))
			continue
		}
		status.Queues[queue] = counts
	}
	return status
}
