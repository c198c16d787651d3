package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopify-webhook-pipeline/internal/config"
	"shopify-webhook-pipeline/internal/middleware"
	"shopify-webhook-pipeline/internal/models"
	"shopify-webhook-pipeline/internal/status"
	"shopify-webhook-pipeline/internal/webhooks"
)

const testSecret = "pipeline-secret"

func testConfig(erpURL string) config.Config {
	cfg := config.Config{
		Server: config.ServerConfig{WebhookSecret: testSecret},
		ERP:    config.ERPConfig{BaseURL: erpURL},
	}
	cfg.Sanitize()
	cfg.Pipeline.PollInterval = 10 * time.Millisecond
	cfg.Pipeline.InitialBackoff = 10 * time.Millisecond
	cfg.Pipeline.WorkerCount = 2
	return cfg
}

func deliver(t *testing.T, handler http.Handler, topic string, body []byte) webhooks.Ack {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/", bytes.NewReader(body))
	req.Header.Set(middleware.HeaderHMAC, middleware.Sign(body, []byte(testSecret)))
	req.Header.Set(webhooks.HeaderTopic, topic)
	req.Header.Set(middleware.HeaderShopDomain, "demo.myshopify.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var ack webhooks.Ack
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ack))
	return ack
}

func getJob(t *testing.T, handler http.Handler, id string) models.Job {
	t.Helper()
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var job models.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	return job
}

func TestPipeline_OrderSyncedAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	erpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shops/demo.myshopify.com/orders/42", r.URL.Path)
		if calls.Add(1) == 1 {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"reference":"SO-42"}`))
	}))
	defer erpServer.Close()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	a, err := build(context.Background(), testConfig(erpServer.URL), logger)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.pool.Start(ctx)
	defer a.pool.Stop()

	ack := deliver(t, a.handler, "orders/create", []byte(`{"id":42,"total_price":"19.99"}`))
	assert.Equal(t, "42", ack.EventID)

	require.Eventually(t, func() bool {
		return getJob(t, a.handler, ack.JobID).State == models.JobStateSucceeded
	}, 3*time.Second, 10*time.Millisecond)

	job := getJob(t, a.handler, ack.JobID)
	assert.Equal(t, 2, job.AttemptCount)
	assert.Equal(t, "SO-42", job.Result["erp_reference"])
	assert.Equal(t, int32(2), calls.Load())

	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var health status.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	require.NotNil(t, health.Jobs)
	assert.Equal(t, 1, health.Jobs.Succeeded)
}

func TestPipeline_UnknownTopicSucceedsWithoutERP(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	a, err := build(context.Background(), testConfig(""), logger)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.pool.Start(ctx)
	defer a.pool.Stop()

	ack := deliver(t, a.handler, "customers/create", []byte(`{"id":7}`))

	require.Eventually(t, func() bool {
		return getJob(t, a.handler, ack.JobID).State == models.JobStateSucceeded
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, getJob(t, a.handler, ack.JobID).AttemptCount)
}

func TestRouter_RejectsUnsignedDelivery(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	a, err := build(context.Background(), testConfig(""), logger)
	require.NoError(t, err)
	defer a.Close()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/", bytes.NewReader([]byte(`{"id":1}`)))
	req.Header.Set(webhooks.HeaderTopic, "orders/create")
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	a.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.JSONEq(t, `{"items":[],"total":0}`, rr.Body.String())
}
