package alerting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifier_FansOutToAllSinks(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	var (
		mu       sync.Mutex
		received []string
	)
	record := func(name string) SinkFunc {
		return func(_ context.Context, alert Alert) error {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, name+":"+alert.JobID)
			return nil
		}
	}
	failing := SinkFunc(func(context.Context, Alert) error { return errors.New("unreachable") })

	n := NewNotifier(logger,
		Registration{Name: "a", Sink: record("a")},
		Registration{Name: "broken", Sink: failing},
		Registration{Sink: record("b")},
		Registration{Name: "nil"},
	)
	assert.True(t, n.Enabled())

	n.NotifyExhausted(context.Background(), Alert{JobID: "job-1", Attempts: 5})

	assert.ElementsMatch(t, []string{"a:job-1", "b:job-1"}, received)
}

func TestNotifier_NoSinks(t *testing.T) {
	n := NewNotifier(nil)
	assert.False(t, n.Enabled())
	n.NotifyExhausted(context.Background(), Alert{JobID: "x"})

	var nilNotifier *Notifier
	assert.False(t, nilNotifier.Enabled())
	nilNotifier.NotifyExhausted(context.Background(), Alert{JobID: "x"})
}
