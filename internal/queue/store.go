// Package queue holds the job table that decouples webhook ingestion from
// handler execution. All job mutation goes through a Store.
package queue

import (
	"context"
	"errors"
	"time"

	"shopify-webhook-pipeline/internal/models"
)

var (
	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueUnavailable is returned when the backing store cannot accept work.
	ErrQueueUnavailable = errors.New("job queue unavailable")
	// ErrInvalidTransition is returned when a job is not in the state the
	// requested transition starts from.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

const defaultLease = time.Minute

// Store is the job queue contract shared by the ingestion endpoint, the
// worker pool and the status API.
type Store interface {
	// Enqueue stores a new Pending job for event and returns its id.
	Enqueue(ctx context.Context, event models.WebhookEvent) (string, error)
	// DequeueReady atomically claims the oldest eligible Pending job,
	// moving it to Running and incrementing its attempt count. It returns
	// nil when nothing is ready.
	DequeueReady(ctx context.Context, now time.Time) (*models.Job, error)
	// MarkRunning claims one specific eligible Pending job.
	MarkRunning(ctx context.Context, id string, now time.Time) (*models.Job, error)
	// The Mark* transitions and Heartbeat apply only while the job is
	// Running under the given attempt. An outcome from an attempt that lost
	// its lease returns ErrInvalidTransition.
	MarkSucceeded(ctx context.Context, id string, attempt int, result map[string]any) error
	// MarkFailed returns a Running job to Pending, eligible again at
	// nextEligibleAt (never earlier than its previous eligibility).
	MarkFailed(ctx context.Context, id string, attempt int, errMsg string, nextEligibleAt time.Time) error
	MarkExhausted(ctx context.Context, id string, attempt int, errMsg string) error
	// Heartbeat extends the lease of a Running attempt to now plus the lease.
	Heartbeat(ctx context.Context, id string, attempt int, now time.Time) error
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, opts models.ListOptions) ([]*models.Job, int, error)
	Stats(ctx context.Context) (models.JobStats, error)
	// ExpiredLeases lists Running jobs whose lease ended before now.
	ExpiredLeases(ctx context.Context, now time.Time) ([]*models.Job, error)
	// PurgeTerminal deletes Succeeded and Exhausted jobs completed before cutoff.
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Options configures a Store implementation.
type Options struct {
	// Lease bounds how long a claimed job may stay Running before the
	// reaper treats its worker as gone.
	Lease time.Duration
	Now   func() time.Time
}

func (o Options) lease() time.Duration {
	if o.Lease > 0 {
		return o.Lease
	}
	return defaultLease
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func normalizeList(opts models.ListOptions) models.ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Skip < 0 {
		opts.Skip = 0
	}
	return opts
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
