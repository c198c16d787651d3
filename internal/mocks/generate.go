// Package mocks provides gomock implementations of the pipeline's interfaces.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	sink := mocks.NewMockSink(ctrl)
//	sink.EXPECT().SendExhausted(gomock.Any(), gomock.Any()).Return(nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=sink_mock.go shopify-webhook-pipeline/internal/alerting Sink

// Handler, Alerter and IdempotencyStore are the worker package's seams.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=handler_mock.go shopify-webhook-pipeline/internal/worker Handler
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=alerter_mock.go shopify-webhook-pipeline/internal/worker Alerter
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=idempotency_store_mock.go shopify-webhook-pipeline/internal/worker IdempotencyStore

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=order_syncer_mock.go shopify-webhook-pipeline/internal/orders OrderSyncer
