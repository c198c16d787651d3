package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"shopify-webhook-pipeline/internal/models"
)

// MemoryStore is a process-local Store. Jobs do not survive a restart, so it
// is meant for development and tests; production uses PostgresStore.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*models.Job
	order  []string
	opts   Options
	closed bool
}

// NewMemoryStore creates an empty in-memory job queue.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
		opts: opts,
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, event models.WebhookEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrQueueUnavailable
	}

	now := s.opts.now()
	event.RawPayload = append([]byte(nil), event.RawPayload...)
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}
	job := &models.Job{
		ID:             uuid.NewString(),
		Event:          event,
		State:          models.JobStatePending,
		NextEligibleAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return job.ID, nil
}

func (s *MemoryStore) DequeueReady(_ context.Context, now time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrQueueUnavailable
	}

	var next *models.Job
	for _, id := range s.order {
		job := s.jobs[id]
		if job == nil || job.State != models.JobStatePending || job.NextEligibleAt.After(now) {
			continue
		}
		if next == nil || job.NextEligibleAt.Before(next.NextEligibleAt) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}
	s.claim(next, now)
	return next.Clone(), nil
}

func (s *MemoryStore) MarkRunning(_ context.Context, id string, now time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.State != models.JobStatePending || job.NextEligibleAt.After(now) {
		return nil, ErrInvalidTransition
	}
	s.claim(job, now)
	return job.Clone(), nil
}

// claim must be called with s.mu held.
func (s *MemoryStore) claim(job *models.Job, now time.Time) {
	lease := now.Add(s.opts.lease())
	job.State = models.JobStateRunning
	job.AttemptCount++
	job.LeaseExpiresAt = &lease
	job.UpdatedAt = now
}

func (s *MemoryStore) MarkSucceeded(_ context.Context, id string, attempt int, result map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.running(id, attempt)
	if err != nil {
		return err
	}
	now := s.opts.now()
	job.State = models.JobStateSucceeded
	job.Result = result
	job.LastError = nil
	job.LeaseExpiresAt = nil
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, attempt int, errMsg string, nextEligibleAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.running(id, attempt)
	if err != nil {
		return err
	}
	job.State = models.JobStatePending
	job.LastError = &errMsg
	job.NextEligibleAt = laterOf(job.NextEligibleAt, nextEligibleAt.UTC())
	job.LeaseExpiresAt = nil
	job.UpdatedAt = s.opts.now()
	return nil
}

func (s *MemoryStore) MarkExhausted(_ context.Context, id string, attempt int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.running(id, attempt)
	if err != nil {
		return err
	}
	now := s.opts.now()
	job.State = models.JobStateExhausted
	job.LastError = &errMsg
	job.LeaseExpiresAt = nil
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Heartbeat(_ context.Context, id string, attempt int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.running(id, attempt)
	if err != nil {
		return err
	}
	lease := now.UTC().Add(s.opts.lease())
	job.LeaseExpiresAt = &lease
	job.UpdatedAt = now.UTC()
	return nil
}

// running returns the job if attempt still holds it. It must be called
// with s.mu held.
func (s *MemoryStore) running(id string, attempt int) (*models.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.State != models.JobStateRunning || job.AttemptCount != attempt {
		return nil, ErrInvalidTransition
	}
	return job, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, opts models.ListOptions) ([]*models.Job, int, error) {
	opts = normalizeList(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*models.Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		job := s.jobs[s.order[i]]
		if job == nil {
			continue
		}
		if opts.State != "" && job.ReportedState() != opts.State {
			continue
		}
		matched = append(matched, job)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if opts.Skip >= total {
		return []*models.Job{}, total, nil
	}
	end := min(opts.Skip+opts.Limit, total)
	items := make([]*models.Job, 0, end-opts.Skip)
	for _, job := range matched[opts.Skip:end] {
		items = append(items, job.Clone())
	}
	return items, total, nil
}

func (s *MemoryStore) Stats(_ context.Context) (models.JobStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats models.JobStats
	for _, job := range s.jobs {
		stats.Count(job)
	}
	return stats, nil
}

func (s *MemoryStore) ExpiredLeases(_ context.Context, now time.Time) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Job
	for _, id := range s.order {
		job := s.jobs[id]
		if job == nil || job.State != models.JobStateRunning || job.LeaseExpiresAt == nil {
			continue
		}
		if job.LeaseExpiresAt.Before(now) {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) PurgeTerminal(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	kept := s.order[:0]
	for _, id := range s.order {
		job := s.jobs[id]
		if job.State.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			purged++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return purged, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
