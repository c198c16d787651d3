package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"shopify-webhook-pipeline/internal/models"
)

// Handler executes the business logic for one topic. Handlers run again on
// every retry, so any externally visible side effect must be safe to repeat
// for the same event.
type Handler interface {
	Handle(ctx context.Context, event *models.WebhookEvent) (map[string]any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event *models.WebhookEvent) (map[string]any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, event *models.WebhookEvent) (map[string]any, error) {
	return f(ctx, event)
}

// Outcome is the result of one attempt.
type Outcome struct {
	Result map[string]any
	Err    error
}

// Succeeded reports whether the attempt finished without error.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// Dispatcher routes a job to the handler registered for its topic.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher whose attempts are bounded by timeout
// (zero disables the bound).
func NewDispatcher(logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		timeout:  timeout,
		logger:   logger,
	}
}

// Register binds handler to topic, replacing any previous binding.
func (d *Dispatcher) Register(topic string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[topic] = handler
}

// Topics lists the registered topics in order.
func (d *Dispatcher) Topics() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	topics := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Dispatch runs the handler for job's topic. It never panics: handler panics
// and errors both come back as a failed Outcome. Unknown topics succeed as a
// no-op so they are not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job) (out Outcome) {
	d.mu.RLock()
	handler, ok := d.handlers[job.Event.Topic]
	d.mu.RUnlock()

	logger := d.logger.With("job_id", job.ID, "topic", job.Event.Topic, "attempt", job.AttemptCount)
	if !ok {
		logger.Warn("No handler registered for topic, skipping")
		return Outcome{Result: map[string]any{"skipped": "unrecognized topic"}}
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler panicked", "panic", r)
			out = Outcome{Err: fmt.Errorf("handler panic: %v", r)}
		}
	}()

	event := job.Event
	result, err := handler.Handle(ctx, &event)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !IsPermanent(err) {
			err = fmt.Errorf("%w after %s: %w", ErrHandlerTimeout, d.timeout, err)
		}
		return Outcome{Err: err}
	}
	return Outcome{Result: result}
}
