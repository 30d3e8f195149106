package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"docflow/internal/logging"
)

// Handler runs one job and returns its encoded result.
type Handler func(ctx context.Context, job *Job) (json.RawMessage, error)

// Listener observes job lifecycle events. JobFailed fires only when a job has
// no attempts left; failures that will be redelivered are not reported.
type Listener interface {
	JobActive(ctx context.Context, job *Job)
	JobCompleted(ctx context.Context, job *Job, result json.RawMessage)
	JobFailed(ctx context.Context, job *Job, err error)
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	PollInterval time.Duration
	Lease        time.Duration
	Logger       *slog.Logger
	Listener     Listener
}

type queueWorker struct {
	name        string
	handler     Handler
	concurrency int
}

// Runner pulls jobs from registered queues and runs their handlers.
type Runner struct {
	store    *Store
	logger   *slog.Logger
	listener Listener
	poll     time.Duration
	lease    time.Duration

	mu      sync.Mutex
	queues  []queueWorker
	running bool
}

// NewRunner constructs a runner over store.
func NewRunner(store *Store, opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	lease := opts.Lease
	if lease <= 0 {
		lease = 15 * time.Minute
	}
	return &Runner{
		store:    store,
		logger:   logging.NewComponentLogger(logger, "jobqueue"),
		listener: opts.Listener,
		poll:     poll,
		lease:    lease,
	}
}

// Register attaches a handler to queue with the given number of concurrent
// workers. It must be called before Run.
func (r *Runner) Register(queue string, handler Handler, concurrency int) error {
	if queue == "" {
		return errors.New("register: queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("register %s: handler is nil", queue)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("register %s: runner already started", queue)
	}
	for _, q := range r.queues {
		if q.name == queue {
			return fmt.Errorf("register %s: queue already registered", queue)
		}
	}
	r.queues = append(r.queues, queueWorker{name: queue, handler: handler, concurrency: concurrency})
	return nil
}

// Queues returns the registered queue names in registration order.
func (r *Runner) Queues() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.queues))
	for _, q := range r.queues {
		names = append(names, q.name)
	}
	return names
}

// Run starts every worker and blocks until ctx is cancelled or a worker
// returns an unexpected error.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("runner already running")
	}
	if len(r.queues) == 0 {
		r.mu.Unlock()
		return errors.New("no queues registered")
	}
	r.running = true
	queues := append([]queueWorker(nil), r.queues...)
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queues {
		for i := 0; i < q.concurrency; i++ {
			g.Go(func() error {
				r.work(gctx, q, i == 0)
				return nil
			})
		}
	}
	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) work(ctx context.Context, q queueWorker, reaper bool) {
	logger := r.logger.With(logging.String(logging.FieldKind, q.name))
	for {
		if ctx.Err() != nil {
			return
		}
		if reaper {
			r.expire(ctx, logger, q.name)
		}

		job, err := r.store.Claim(ctx, q.name, r.lease)
		switch {
		case errors.Is(err, ErrNoJob):
			r.wait(ctx)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to claim job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_claim_failed"),
				logging.String(logging.FieldErrorHint, "check job database access"),
			)
			r.wait(ctx)
			continue
		}
		r.process(ctx, logger, q, job)
	}
}

func (r *Runner) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.poll):
	}
}

func (r *Runner) expire(ctx context.Context, logger *slog.Logger, queue string) {
	expired, err := r.store.ExpireLeases(ctx, queue)
	if err != nil && ctx.Err() == nil {
		logger.Warn("lease expiry failed", logging.Error(err))
	}
	for _, job := range expired {
		logger.Warn("job lease expired with no attempts left",
			logging.String(logging.FieldJobID, job.ID),
			logging.Int("attempts", job.Attempts),
			logging.String(logging.FieldEventType, "job_lease_expired"),
		)
		if r.listener != nil {
			r.listener.JobFailed(ctx, job, errors.New("lease expired"))
		}
	}
}

func (r *Runner) process(ctx context.Context, logger *slog.Logger, q queueWorker, job *Job) {
	jobCtx := logging.WithJob(ctx, job.ID)
	logger = logger.With(logging.String(logging.FieldJobID, job.ID), logging.Int("attempt", job.Attempts))
	logger.Debug("job claimed")

	if r.listener != nil {
		r.listener.JobActive(jobCtx, job)
	}

	hbCtx, stopHeartbeat := context.WithCancel(jobCtx)
	var hb sync.WaitGroup
	hb.Add(1)
	go r.heartbeat(hbCtx, &hb, logger, job.ID)
	result, runErr := r.invoke(jobCtx, q.handler, job)
	stopHeartbeat()
	hb.Wait()

	if ctx.Err() != nil {
		// Shutdown mid-job: the lease runs out and the job is redelivered.
		logger.Info("runner stopping, job left for redelivery")
		return
	}

	if runErr != nil {
		final := true
		var err error
		if errors.Is(runErr, ErrPermanent) || job.Final() {
			err = r.store.FailPermanently(ctx, job.ID, runErr.Error())
		} else {
			final, err = r.store.Fail(ctx, job.ID, runErr.Error())
		}
		if err != nil {
			logger.Error("failed to record job failure", logging.Error(err))
			return
		}
		if !final {
			logger.Warn("job failed, will retry",
				logging.Error(runErr),
				logging.Int("max_attempts", job.MaxAttempts),
				logging.String(logging.FieldEventType, "job_retry"),
			)
			return
		}
		logger.Error("job failed",
			logging.Error(runErr),
			logging.String(logging.FieldEventType, "job_failed"),
		)
		if r.listener != nil {
			r.listener.JobFailed(jobCtx, job, runErr)
		}
		return
	}

	if err := r.store.Complete(ctx, job.ID, result); err != nil {
		logger.Error("failed to record job completion", logging.Error(err))
		return
	}
	logger.Debug("job completed")
	if r.listener != nil {
		r.listener.JobCompleted(jobCtx, job, result)
	}
}

func (r *Runner) invoke(ctx context.Context, handler Handler, job *Job) (result json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(ctx, job)
}

// heartbeat keeps the lease alive while a handler runs.
func (r *Runner) heartbeat(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, id string) {
	defer wg.Done()
	ticker := time.NewTicker(r.lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Extend(ctx, id, r.lease); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("lease extension failed", logging.Error(err))
			}
		}
	}
}
