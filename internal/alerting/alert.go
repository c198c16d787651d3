// Package alerting delivers notifications about jobs that used up every
// attempt. Delivery is best effort: a failing sink is logged and never
// changes the job outcome.
package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Alert describes one exhausted job.
type Alert struct {
	JobID        string    `json:"job_id"`
	EventID      string    `json:"event_id"`
	Topic        string    `json:"topic"`
	SourceDomain string    `json:"source_domain"`
	Error        string    `json:"error"`
	Attempts     int       `json:"attempts"`
	Permanent    bool      `json:"permanent"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Sink is a destination for exhaustion alerts.
type Sink interface {
	SendExhausted(ctx context.Context, alert Alert) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, alert Alert) error

// SendExhausted implements Sink.
func (f SinkFunc) SendExhausted(ctx context.Context, alert Alert) error {
	if f == nil {
		return nil
	}
	return f(ctx, alert)
}

// Registration pairs a sink with the name used in logs.
type Registration struct {
	Name string
	Sink Sink
}

// Notifier fans an alert out to every registered sink.
type Notifier struct {
	logger *slog.Logger
	sinks  []Registration
}

// NewNotifier drops nil sinks and names anonymous ones.
func NewNotifier(logger *slog.Logger, sinks ...Registration) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{logger: logger.With("component", "alerting")}
	for _, reg := range sinks {
		if reg.Sink == nil {
			continue
		}
		if reg.Name == "" {
			reg.Name = "sink"
		}
		n.sinks = append(n.sinks, reg)
	}
	return n
}

// NotifyExhausted delivers alert to all sinks concurrently and waits for them.
func (n *Notifier) NotifyExhausted(ctx context.Context, alert Alert) {
	if n == nil || len(n.sinks) == 0 {
		return
	}
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}

	var wg sync.WaitGroup
	for _, reg := range n.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.Sink.SendExhausted(ctx, alert); err != nil {
				n.logger.ErrorContext(ctx, "Alert delivery failed",
					"sink", reg.Name,
					"job_id", alert.JobID,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether any sink is registered.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.sinks) > 0
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) SendExhausted(ctx context.Context, alert Alert) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "CRITICAL: Job exhausted all attempts",
		"job_id", alert.JobID,
		"event_id", alert.EventID,
		"topic", alert.Topic,
		"shop", alert.SourceDomain,
		"attempts", alert.Attempts,
		"permanent", alert.Permanent,
		"error", alert.Error,
	)
	return nil
}
