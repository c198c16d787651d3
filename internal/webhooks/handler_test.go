package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopify-webhook-pipeline/internal/contextkeys"
	"shopify-webhook-pipeline/internal/middleware"
	"shopify-webhook-pipeline/internal/models"
	"shopify-webhook-pipeline/internal/queue"
)

const testSecret = "shpss_test_secret"

type enqueuerFunc func(ctx context.Context, event models.WebhookEvent) (string, error)

func (f enqueuerFunc) Enqueue(ctx context.Context, event models.WebhookEvent) (string, error) {
	return f(ctx, event)
}

type countingWaker struct{ n atomic.Int32 }

func (w *countingWaker) Wake() { w.n.Add(1) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestHandleWebhook(t *testing.T) {
	logger := discardLogger()
	errDisk := errors.New("disk full")

	testCases := []struct {
		name               string
		requestBody        []byte
		topic              string
		webhookID          string
		setBodyInContext   bool
		enqueueErr         error
		expectedStatusCode int
		expectedEventID    string
		expectJobQueued    bool
		expectDiscarded    bool
	}{
		{
			name:               "Success - Event Id From Payload",
			requestBody:        []byte(`{"id": 42, "total_price": "19.99"}`),
			topic:              "orders/create",
			setBodyInContext:   true,
			expectedStatusCode: http.StatusOK,
			expectedEventID:    "42",
			expectJobQueued:    true,
		},
		{
			name:               "Success - Event Id From Header",
			requestBody:        []byte(`{"id": 42}`),
			topic:              "orders/create",
			webhookID:          "b54557e4-bdd9-4b37-8a5f-bf7d70bcd043",
			setBodyInContext:   true,
			expectedStatusCode: http.StatusOK,
			expectedEventID:    "b54557e4-bdd9-4b37-8a5f-bf7d70bcd043",
			expectJobQueued:    true,
		},
		{
			name:               "Success - Large Numeric Id Keeps Precision",
			requestBody:        []byte(`{"id": 820982911946154508}`),
			topic:              "orders/updated",
			setBodyInContext:   true,
			expectedStatusCode: http.StatusOK,
			expectedEventID:    "820982911946154508",
			expectJobQueued:    true,
		},
		{
			name:               "Success - Malformed Payload With Header Id Is Queued",
			requestBody:        []byte(`{"invalid-json`),
			topic:              "orders/create",
			webhookID:          "abc",
			setBodyInContext:   true,
			expectedStatusCode: http.StatusOK,
			expectedEventID:    "abc",
			expectJobQueued:    true,
		},
		{
			name:               "Success - Non-Object Payload With Header Id Is Queued",
			requestBody:        []byte(`null`),
			topic:              "orders/create",
			webhookID:          "abc",
			setBodyInContext:   true,
			expectedStatusCode: http.StatusOK,
			expectedEventID:    "abc",
			expectJobQueued:    true,
		},
		{
			name:               "Discarded - Missing Topic",
			requestBody:        []byte(`{"id": 42}`),
			setBodyInContext:   true,
			expectedStatusCode: http.StatusOK,
			expectDiscarded:    true,
		},
		{
			name:               "Discarded - Invalid JSON Without Header Id",
			requestBody:        []byte(`{"invalid-json`),
			topic:              "orders/create",
			setBodyInContext:   true,
			expectedStatusCode: http.StatusOK,
			expectDiscarded:    true,
		},
		{
			name:               "Discarded - Trailing Data After Payload",
			requestBody:        []byte(`{"id": 1}garbage`),
			topic:              "orders/create",
			setBodyInContext:   true,
			expectedStatusCode: http.StatusOK,
			expectDiscarded:    true,
		},
		{
			name:               "Discarded - No Event Id",
			requestBody:        []byte(`{"total_price": "1.00"}`),
			topic:              "orders/create",
			setBodyInContext:   true,
			expectedStatusCode: http.StatusOK,
			expectDiscarded:    true,
		},
		{
			name:               "Failure - Queue Unavailable",
			requestBody:        []byte(`{"id": 42}`),
			topic:              "orders/create",
			setBodyInContext:   true,
			enqueueErr:         fmt.Errorf("%w: connection refused", queue.ErrQueueUnavailable),
			expectedStatusCode: http.StatusServiceUnavailable,
		},
		{
			name:               "Failure - Enqueue Error",
			requestBody:        []byte(`{"id": 42}`),
			topic:              "orders/create",
			setBodyInContext:   true,
			enqueueErr:         errDisk,
			expectedStatusCode: http.StatusInternalServerError,
		},
		{
			name:               "Failure - Missing Body in Context",
			requestBody:        []byte(`{}`),
			topic:              "orders/create",
			setBodyInContext:   false,
			expectedStatusCode: http.StatusInternalServerError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var queued []models.WebhookEvent
			jobs := enqueuerFunc(func(_ context.Context, event models.WebhookEvent) (string, error) {
				if tc.enqueueErr != nil {
					return "", tc.enqueueErr
				}
				queued = append(queued, event)
				return "job-1", nil
			})
			waker := &countingWaker{}
			handler := NewHandler(logger, jobs, waker, time.Second)

			req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(tc.requestBody))
			if tc.topic != "" {
				req.Header.Set(HeaderTopic, tc.topic)
			}
			if tc.webhookID != "" {
				req.Header.Set(HeaderWebhookID, tc.webhookID)
			}
			req.Header.Set(middleware.HeaderShopDomain, "demo.myshopify.com")
			if tc.setBodyInContext {
				req = req.WithContext(contextkeys.WithRawBody(req.Context(), tc.requestBody))
			}
			rr := httptest.NewRecorder()

			handler.HandleWebhook(rr, req)

			assert.Equal(t, tc.expectedStatusCode, rr.Code)
			if !tc.expectJobQueued {
				assert.Empty(t, queued)
				assert.Zero(t, waker.n.Load())
				if tc.expectDiscarded {
					var ack Ack
					require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))
					assert.Equal(t, StatusDiscarded, ack.Status)
					assert.Empty(t, ack.JobID)
				}
				return
			}

			require.Len(t, queued, 1)
			assert.Equal(t, tc.expectedEventID, queued[0].ID)
			assert.Equal(t, tc.topic, queued[0].Topic)
			assert.Equal(t, "demo.myshopify.com", queued[0].SourceDomain)
			assert.Equal(t, tc.requestBody, queued[0].RawPayload)
			assert.Equal(t, int32(1), waker.n.Load())

			var ack Ack
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))
			assert.Equal(t, Ack{JobID: "job-1", EventID: tc.expectedEventID, Status: StatusQueued}, ack)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		})
	}
}

func TestHandleWebhook_EnqueueIsBounded(t *testing.T) {
	jobs := enqueuerFunc(func(ctx context.Context, _ models.WebhookEvent) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	handler := NewHandler(discardLogger(), jobs, nil, 20*time.Millisecond)

	body := []byte(`{"id": 1}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(body))
	req.Header.Set(HeaderTopic, "orders/create")
	req = req.WithContext(contextkeys.WithRawBody(req.Context(), body))
	rr := httptest.NewRecorder()

	start := time.Now()
	handler.HandleWebhook(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Less(t, time.Since(start), time.Second)
}

// newIngestRouter wires the endpoint the way the server does.
func newIngestRouter(store queue.Store) http.Handler {
	logger := discardLogger()
	handler := NewHandler(logger, store, nil, time.Second)
	router := chi.NewRouter()
	router.Route("/webhooks", func(r chi.Router) {
		r.Use(middleware.VerifySignature(logger, []byte(testSecret), middleware.VerifyOptions{}))
		r.Post("/", handler.HandleWebhook)
	})
	return router
}

func signedRequest(body []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/", bytes.NewReader(body))
	req.Header.Set(middleware.HeaderHMAC, signature)
	req.Header.Set(HeaderTopic, "orders/create")
	req.Header.Set(middleware.HeaderShopDomain, "demo.myshopify.com")
	return req
}

func TestIngest_ValidDeliveryCreatesPendingJob(t *testing.T) {
	store := queue.NewMemoryStore(queue.Options{})
	router := newIngestRouter(store)
	body := []byte(`{"id":42}`)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedRequest(body, middleware.Sign(body, []byte(testSecret))))
	require.Equal(t, http.StatusOK, rr.Code)

	var ack Ack
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))

	job, err := store.Get(context.Background(), ack.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePending, job.State)
	assert.Equal(t, 0, job.AttemptCount)
	assert.Equal(t, "42", job.Event.ID)
	assert.Equal(t, body, job.Event.RawPayload)
}

func TestIngest_TamperedBodyIsRejected(t *testing.T) {
	store := queue.NewMemoryStore(queue.Options{})
	router := newIngestRouter(store)

	signature := middleware.Sign([]byte(`{"id":42}`), []byte(testSecret))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedRequest([]byte(`{"id":43}`), signature))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	_, total, err := store.List(context.Background(), models.ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, total, "no job may be created for an unauthenticated delivery")
}

func TestIngest_DuplicateDeliveriesEachQueue(t *testing.T) {
	store := queue.NewMemoryStore(queue.Options{})
	router := newIngestRouter(store)
	body := []byte(`{"id":42}`)
	signature := middleware.Sign(body, []byte(testSecret))

	for range 2 {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, signedRequest(body, signature))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
}

func TestIngest_VerifiedMalformedDeliveryIsAcknowledged(t *testing.T) {
	store := queue.NewMemoryStore(queue.Options{})
	router := newIngestRouter(store)
	body := []byte(`{"id":42`)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedRequest(body, middleware.Sign(body, []byte(testSecret))))
	require.Equal(t, http.StatusOK, rr.Code, "a redelivery cannot fix a malformed body")

	var ack Ack
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))
	assert.Equal(t, StatusDiscarded, ack.Status)
	_, total, err := store.List(context.Background(), models.ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, total)
}
