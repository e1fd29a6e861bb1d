package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// RunnerConfig holds configuration for the job runner
type RunnerConfig struct {
	// SweepInterval is how often the store is scanned for due jobs.
	// cron rounds anything below one second up to one second.
	SweepInterval time.Duration

	// WorkerCount determines how many jobs execute concurrently
	WorkerCount int

	// QueueSize is the buffer between the sweep and the workers
	QueueSize int
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		SweepInterval: time.Second,
		WorkerCount:   4,
		QueueSize:     128,
	}
}

// Runner schedules jobs into a Store and fires them when due.
type Runner struct {
	store   Store
	handler Handler
	config  RunnerConfig
	logger  *slog.Logger
	now     func() time.Time

	cron       *cron.Cron
	jobChan    chan *Job
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	started    atomic.Bool
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewRunner creates a Runner. Start must be called before jobs fire.
func NewRunner(store Store, handler Handler, config RunnerConfig, logger *slog.Logger) *Runner {
	defaults := DefaultRunnerConfig()
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:      store,
		handler:    handler,
		config:     config,
		logger:     logger.With("component", "job_runner"),
		now:        time.Now,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		jobChan:    make(chan *Job, config.QueueSize),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Schedule stores a job that fires at fireAt and returns its handle. An
// existing job with the same handle is replaced. A fire time that has
// already passed is dispatched immediately when the runner is started.
func (r *Runner) Schedule(ctx context.Context, handle string, fireAt time.Time, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode job payload: %w", err)
	}

	job := &Job{
		Handle:    handle,
		FireAt:    fireAt.UTC(),
		Payload:   data,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.Put(ctx, job); err != nil {
		return "", fmt.Errorf("failed to store job %s: %w", handle, err)
	}

	r.logger.Debug("scheduled job", "handle", handle, "fire_at", job.FireAt)

	if job.Due(r.now()) && r.started.Load() && r.ctx.Err() == nil {
		r.dispatch(ctx, job)
	}
	return handle, nil
}

// Cancel removes a scheduled job. Cancelling a job that already fired or
// never existed is not an error.
func (r *Runner) Cancel(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	if err := r.store.Delete(ctx, handle); err != nil && !errors.Is(err, ErrJobNotFound) {
		return fmt.Errorf("failed to cancel job %s: %w", handle, err)
	}
	return nil
}

// Start launches the workers and the periodic sweep.
func (r *Runner) Start() error {
	var err error
	r.startOnce.Do(func() {
		spec := fmt.Sprintf("@every %s", r.config.SweepInterval)
		if _, err = r.cron.AddFunc(spec, func() { r.Sweep(r.ctx) }); err != nil {
			err = fmt.Errorf("failed to register sweep: %w", err)
			return
		}

		for i := 0; i < r.config.WorkerCount; i++ {
			r.wg.Add(1)
			go r.worker(i)
		}
		r.cron.Start()
		r.started.Store(true)
		r.logger.Info("job runner started",
			"sweep_interval", r.config.SweepInterval,
			"workers", r.config.WorkerCount)
	})
	return err
}

// Stop halts the sweep and waits for running jobs to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		<-r.cron.Stop().Done()
		r.cancelFunc()
		r.wg.Wait()
		r.logger.Info("job runner stopped")
	})
}

// Sweep claims and dispatches every due job. It returns how many jobs this
// runner claimed.
func (r *Runner) Sweep(ctx context.Context) int {
	due, err := r.store.Due(ctx, r.now())
	if err != nil {
		r.logger.Error("failed to list due jobs", "error", err)
		return 0
	}

	claimed := 0
	for _, job := range due {
		if ctx.Err() != nil {
			break
		}
		if r.dispatch(ctx, job) {
			claimed++
		}
	}
	return claimed
}

// dispatch claims job and queues it for a worker.
func (r *Runner) dispatch(ctx context.Context, job *Job) bool {
	ok, err := r.store.Claim(ctx, job)
	if err != nil {
		r.logger.Error("failed to claim job", "handle", job.Handle, "error", err)
		return false
	}
	if !ok {
		return false
	}

	select {
	case r.jobChan <- job:
		return true
	case <-ctx.Done():
	case <-r.ctx.Done():
	}

	// Claimed but not run; put it back so a later sweep picks it up.
	if err := r.store.Put(context.Background(), job); err != nil {
		r.logger.Error("failed to requeue claimed job", "handle", job.Handle, "error", err)
	}
	return false
}

func (r *Runner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("starting worker", "worker_id", id)
	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping worker", "worker_id", id)
			return
		case job := <-r.jobChan:
			r.execute(job)
		}
	}
}

func (r *Runner) execute(job *Job) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job panicked", "handle", job.Handle, "panic", p)
		}
	}()

	start := time.Now()
	if err := r.handler.HandleJob(r.ctx, job); err != nil {
		r.logger.Error("job execution failed",
			"handle", job.Handle,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return
	}
	r.logger.Debug("job executed",
		"handle", job.Handle,
		"duration_ms", time.Since(start).Milliseconds())
}
