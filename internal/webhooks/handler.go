// Package webhooks implements the ingestion endpoint: it turns a verified
// delivery into a queued job and acknowledges it without running any
// business logic.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"shopify-webhook-pipeline/internal/contextkeys"
	"shopify-webhook-pipeline/internal/middleware"
	"shopify-webhook-pipeline/internal/models"
	"shopify-webhook-pipeline/internal/queue"
)

// Delivery headers read by the endpoint.
const (
	HeaderTopic     = "X-Shopify-Topic"
	HeaderWebhookID = "X-Shopify-Webhook-Id"
)

const defaultEnqueueTimeout = 3 * time.Second

// Enqueuer accepts new jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, event models.WebhookEvent) (string, error)
}

// Waker is notified after every successful enqueue.
type Waker interface {
	Wake()
}

// Ack statuses.
const (
	StatusQueued    = "queued"
	StatusDiscarded = "discarded"
)

// Ack is the acknowledgment body returned to the producer.
type Ack struct {
	JobID   string `json:"job_id,omitempty"`
	EventID string `json:"event_id,omitempty"`
	Status  string `json:"status"`
}

// Handler contains dependencies for the webhook HTTP handlers.
type Handler struct {
	Logger         *slog.Logger
	Jobs           Enqueuer
	Waker          Waker
	EnqueueTimeout time.Duration
	Now            func() time.Time
}

// NewHandler creates a new instance of the webhook Handler. waker may be nil.
func NewHandler(logger *slog.Logger, jobs Enqueuer, waker Waker, enqueueTimeout time.Duration) *Handler {
	if enqueueTimeout <= 0 {
		enqueueTimeout = defaultEnqueueTimeout
	}
	return &Handler{
		Logger:         logger,
		Jobs:           jobs,
		Waker:          waker,
		EnqueueTimeout: enqueueTimeout,
		Now:            time.Now,
	}
}

// HandleWebhook queues a delivery whose signature VerifySignature already
// checked. It answers 200 once the job is stored. A verified delivery that
// cannot be queued for lack of a topic or event id is logged and
// acknowledged as discarded so the producer does not redeliver it.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	bodyBytes, ok := contextkeys.RawBody(r.Context())
	if !ok {
		h.Logger.Error("Could not retrieve request body from context")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	topic := strings.TrimSpace(r.Header.Get(HeaderTopic))
	shop := strings.TrimSpace(r.Header.Get(middleware.HeaderShopDomain))
	logger := h.Logger.With("topic", topic, "shop", shop)

	payloadID, payloadErr := parsePayloadID(bodyBytes)
	eventID := strings.TrimSpace(r.Header.Get(HeaderWebhookID))
	if eventID == "" {
		eventID = payloadID
	}

	switch {
	case topic == "":
		logger.Warn("Discarding webhook without topic header", "event_id", eventID)
		writeAck(w, Ack{EventID: eventID, Status: StatusDiscarded})
		return
	case eventID == "":
		logger.Warn("Discarding webhook without event id", "payload_error", payloadErr, "body_bytes", len(bodyBytes))
		writeAck(w, Ack{Status: StatusDiscarded})
		return
	case payloadErr != nil:
		// Queued anyway: the topic handler rejects it as a validation
		// failure, which exhausts the job and raises an alert.
		logger.Warn("Queueing webhook with malformed payload", "event_id", eventID, "error", payloadErr)
	}

	event := models.WebhookEvent{
		ID:           eventID,
		Topic:        topic,
		SourceDomain: shop,
		ReceivedAt:   h.now(),
		RawPayload:   bodyBytes,
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.EnqueueTimeout)
	defer cancel()
	jobID, err := h.Jobs.Enqueue(ctx, event)
	if err != nil {
		if errors.Is(err, queue.ErrQueueUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			logger.Error("Job queue unavailable. Rejecting webhook event.", "event_id", eventID, "error", err)
			http.Error(w, "Server busy.", http.StatusServiceUnavailable)
			return
		}
		logger.Error("Failed to enqueue webhook event", "event_id", eventID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if h.Waker != nil {
		h.Waker.Wake()
	}
	logger.Info("Webhook event successfully queued for processing", "event_id", eventID, "job_id", jobID)

	writeAck(w, Ack{JobID: jobID, EventID: eventID, Status: StatusQueued})
}

func writeAck(w http.ResponseWriter, ack Ack) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

// parsePayloadID validates that body is exactly one JSON object, with the
// same strictness as json.Unmarshal, and returns its top-level "id" or ""
// when it has none.
func parsePayloadID(body []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return "", err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return "", errors.New("unexpected data after JSON payload")
	}
	if payload == nil {
		return "", errors.New("payload is not a JSON object")
	}

	switch id := payload["id"].(type) {
	case json.Number:
		return id.String(), nil
	case string:
		if id != "" {
			return id, nil
		}
	}
	return "", nil
}
