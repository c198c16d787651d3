package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"shopify-webhook-pipeline/internal/queue"
)

// ReaperConfig configures a Reaper.
type ReaperConfig struct {
	Store     queue.Store
	Scheduler *Scheduler
	Logger    *slog.Logger
	Interval  time.Duration
	// Retention is how long terminal jobs stay queryable.
	Retention time.Duration
	Now       func() time.Time
}

// Reaper recovers jobs abandoned by crashed workers and purges terminal
// jobs past the audit retention window.
type Reaper struct {
	cfg ReaperConfig
}

// NewReaper applies defaults to cfg.
func NewReaper(cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Logger = cfg.Logger.With("component", "reaper")
	return &Reaper{cfg: cfg}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.cfg.Logger.Error("Reaper sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one recovery and purge pass.
func (r *Reaper) Sweep(ctx context.Context) error {
	now := r.cfg.Now().UTC()

	expired, err := r.cfg.Store.ExpiredLeases(ctx, now)
	if err != nil {
		return err
	}
	for _, job := range expired {
		r.cfg.Logger.Warn("Recovering job with expired lease", "job_id", job.ID, "attempt", job.AttemptCount)
		err := r.cfg.Scheduler.Record(ctx, job, Outcome{Err: ErrLeaseExpired})
		if err != nil && !errors.Is(err, queue.ErrInvalidTransition) {
			return err
		}
	}

	if r.cfg.Retention <= 0 {
		return nil
	}
	purged, err := r.cfg.Store.PurgeTerminal(ctx, now.Add(-r.cfg.Retention))
	if err != nil {
		return err
	}
	if purged > 0 {
		r.cfg.Logger.Info("Purged terminal jobs past retention", "count", purged)
	}
	return nil
}
