package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"shopify-webhook-pipeline/internal/models"
	"shopify-webhook-pipeline/internal/queue"
)

const defaultPollInterval = 500 * time.Millisecond

// PoolConfig configures a Pool.
type PoolConfig struct {
	Store        queue.Store
	Dispatcher   *Dispatcher
	Scheduler    *Scheduler
	Logger       *slog.Logger
	Workers      int
	PollInterval time.Duration
	// Heartbeat is how often a running attempt renews its lease. Zero
	// disables renewal.
	Heartbeat time.Duration
	Now       func() time.Time
}

// Pool runs worker loops that pull ready jobs from the queue, dispatch them
// and hand the outcome to the scheduler.
type Pool struct {
	store        queue.Store
	dispatcher   *Dispatcher
	scheduler    *Scheduler
	logger       *slog.Logger
	workers      int
	pollInterval time.Duration
	heartbeat    time.Duration
	now          func() time.Time

	wake   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPool creates a new worker pool.
func NewPool(cfg PoolConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pool{
		store:        cfg.Store,
		dispatcher:   cfg.Dispatcher,
		scheduler:    cfg.Scheduler,
		logger:       logger,
		workers:      workers,
		pollInterval: poll,
		heartbeat:    cfg.Heartbeat,
		now:          now,
		wake:         make(chan struct{}, 1),
	}
}

// Start launches the worker goroutines. They run until ctx is cancelled or
// Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 1; i <= p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop signals the workers and waits for in-flight attempts to be recorded.
func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool...")
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.logger.Info("All workers have stopped.")
}

// Wake nudges one idle worker to poll immediately.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// worker is the background goroutine that processes jobs from the queue.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	p.logger.Info("Worker started", "worker_id", id)

	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.RunOnce(ctx)
		if err != nil {
			p.logger.Error("Worker iteration failed", "worker_id", id, "error", err)
		}
		if processed {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.pollInterval)
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-timer.C:
		}
	}
}

// RunOnce claims at most one ready job, executes it and records the
// outcome. It reports whether a job was processed.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.store.DequeueReady(ctx, p.now().UTC())
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	// A claimed attempt always runs to completion and is recorded, even
	// when shutdown begins mid-flight.
	execCtx := context.WithoutCancel(ctx)

	logger := p.logger.With("job_id", job.ID, "event_id", job.Event.ID, "attempt", job.AttemptCount)
	logger.Info("Worker processing job", "topic", job.Event.Topic)

	stopHeartbeat := p.keepLease(execCtx, job, logger)
	outcome := p.dispatcher.Dispatch(execCtx, job)
	stopHeartbeat()

	if err := p.scheduler.Record(execCtx, job, outcome); err != nil {
		return true, err
	}
	return true, nil
}

// keepLease renews job's lease every heartbeat until the returned func is
// called. Renewal stops early once the attempt no longer holds the job.
func (p *Pool) keepLease(ctx context.Context, job *models.Job, logger *slog.Logger) func() {
	if p.heartbeat <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				err := p.store.Heartbeat(ctx, job.ID, job.AttemptCount, p.now().UTC())
				if err == nil {
					continue
				}
				logger.Warn("Failed to renew job lease", "error", err)
				if errors.Is(err, queue.ErrInvalidTransition) || errors.Is(err, queue.ErrJobNotFound) {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
