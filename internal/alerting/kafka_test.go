package alerting

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink_PublishesAlert(t *testing.T) {
	w := &recordingWriter{}
	sink := NewKafkaSinkWithWriter(w, "webhook.jobs.exhausted")

	require.NoError(t, sink.SendExhausted(context.Background(), Alert{JobID: "job-3", Attempts: 5, Topic: "orders/create"}))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "webhook.jobs.exhausted", msg.Topic)
	assert.Equal(t, "job-3", string(msg.Key))

	var decoded Alert
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, 5, decoded.Attempts)
	assert.Equal(t, "orders/create", decoded.Topic)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaSinkValidation(t *testing.T) {
	_, err := NewKafkaSink(nil, "topic")
	assert.Error(t, err)
	_, err = NewKafkaSink([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}
