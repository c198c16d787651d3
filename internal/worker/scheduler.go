package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"shopify-webhook-pipeline/internal/alerting"
	"shopify-webhook-pipeline/internal/models"
	"shopify-webhook-pipeline/internal/queue"
)

const (
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = time.Second
)

// Backoff computes deterministic exponential retry delays:
// Initial * 2^(attempt-1), optionally capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if attempt < 1 {
		attempt = 1
	}
	limit := time.Duration(math.MaxInt64)
	if b.Max > 0 {
		limit = b.Max
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		if delay > limit/2 {
			return limit
		}
		delay *= 2
	}
	return min(delay, limit)
}

// Alerter receives exhausted jobs.
type Alerter interface {
	NotifyExhausted(ctx context.Context, alert alerting.Alert)
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Store       queue.Store
	Backoff     Backoff
	MaxAttempts int
	Alerter     Alerter
	Logger      *slog.Logger
	Now         func() time.Time
}

// Scheduler records attempt outcomes and decides whether a job is retried,
// finished, or exhausted.
type Scheduler struct {
	store       queue.Store
	backoff     Backoff
	maxAttempts int
	alerter     Alerter
	logger      *slog.Logger
	now         func() time.Time
}

// NewScheduler applies defaults to cfg.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:       cfg.Store,
		backoff:     cfg.Backoff,
		maxAttempts: maxAttempts,
		alerter:     cfg.Alerter,
		logger:      logger,
		now:         now,
	}
}

// MaxAttempts returns the configured attempt cap.
func (s *Scheduler) MaxAttempts() int { return s.maxAttempts }

// Record applies outcome to job, which must be Running with AttemptCount
// already counting this attempt. The outcome of an attempt that no longer
// holds the job is logged and dropped.
func (s *Scheduler) Record(ctx context.Context, job *models.Job, outcome Outcome) error {
	logger := s.logger.With("job_id", job.ID, "event_id", job.Event.ID, "topic", job.Event.Topic, "attempt", job.AttemptCount)

	if outcome.Succeeded() {
		if err := s.store.MarkSucceeded(ctx, job.ID, job.AttemptCount, outcome.Result); err != nil {
			if errors.Is(err, queue.ErrInvalidTransition) {
				logger.Warn("Attempt no longer holds job, discarding outcome")
				return nil
			}
			return fmt.Errorf("mark job succeeded: %w", err)
		}
		logger.Info("Job processed successfully")
		return nil
	}

	errMsg := outcome.Err.Error()
	permanent := IsPermanent(outcome.Err)
	if permanent || job.AttemptCount >= s.maxAttempts {
		return s.exhaust(ctx, job, errMsg, permanent, logger)
	}

	delay := s.backoff.Delay(job.AttemptCount)
	nextEligibleAt := s.now().UTC().Add(delay)
	if err := s.store.MarkFailed(ctx, job.ID, job.AttemptCount, errMsg, nextEligibleAt); err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			logger.Warn("Attempt no longer holds job, discarding outcome", "error", errMsg)
			return nil
		}
		return fmt.Errorf("mark job failed: %w", err)
	}
	logger.Warn("Job failed, scheduled for retry",
		"error", errMsg,
		"delay", delay,
		"next_eligible_at", nextEligibleAt,
	)
	return nil
}

func (s *Scheduler) exhaust(ctx context.Context, job *models.Job, errMsg string, permanent bool, logger *slog.Logger) error {
	if err := s.store.MarkExhausted(ctx, job.ID, job.AttemptCount, errMsg); err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			logger.Warn("Attempt no longer holds job, skipping exhaustion")
			return nil
		}
		return fmt.Errorf("mark job exhausted: %w", err)
	}
	logger.Error("Job exhausted, will not be retried", "error", errMsg, "permanent", permanent)

	if s.alerter != nil {
		s.alerter.NotifyExhausted(ctx, alerting.Alert{
			JobID:        job.ID,
			EventID:      job.Event.ID,
			Topic:        job.Event.Topic,
			SourceDomain: job.Event.SourceDomain,
			Error:        errMsg,
			Attempts:     job.AttemptCount,
			Permanent:    permanent,
			OccurredAt:   s.now().UTC(),
		})
	}
	return nil
}
