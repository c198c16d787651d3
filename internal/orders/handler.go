// Package orders holds the worker handlers for storefront order topics.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shopify-webhook-pipeline/internal/erp"
	"shopify-webhook-pipeline/internal/models"
	"shopify-webhook-pipeline/internal/worker"
)

// Topics handled by this package.
const (
	TopicCreated   = "orders/create"
	TopicUpdated   = "orders/updated"
	TopicCancelled = "orders/cancelled"
)

// OrderSyncer pushes orders to the ERP.
type OrderSyncer interface {
	UpsertOrder(ctx context.Context, idempotencyKey string, order erp.Order) (*erp.SyncResult, error)
}

// Payload is the subset of the storefront order webhook body the handlers read.
type Payload struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Currency    string     `json:"currency"`
	TotalPrice  string     `json:"total_price"`
	CancelledAt *time.Time `json:"cancelled_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LineItems   []struct {
		ID       int64  `json:"id"`
		SKU      string `json:"sku"`
		Title    string `json:"title"`
		Quantity int    `json:"quantity"`
		Price    string `json:"price"`
	} `json:"line_items"`
}

// Handler syncs order events to the ERP. Each event is applied at most
// once per idempotency window, and the ERP write itself is an idempotent
// PUT, so a retry after a partial failure is harmless.
type Handler struct {
	erp    OrderSyncer
	idem   worker.IdempotencyStore
	logger *slog.Logger
}

// NewHandler creates an order Handler.
func NewHandler(syncer OrderSyncer, idem worker.IdempotencyStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{erp: syncer, idem: idem, logger: logger.With("component", "orders")}
}

// Register binds the order topics on d.
func (h *Handler) Register(d *worker.Dispatcher) {
	d.Register(TopicCreated, worker.HandlerFunc(h.HandleCreated))
	d.Register(TopicUpdated, worker.HandlerFunc(h.HandleUpdated))
	d.Register(TopicCancelled, worker.HandlerFunc(h.HandleCancelled))
}

func (h *Handler) HandleCreated(ctx context.Context, event *models.WebhookEvent) (map[string]any, error) {
	return h.sync(ctx, event, "open")
}

func (h *Handler) HandleUpdated(ctx context.Context, event *models.WebhookEvent) (map[string]any, error) {
	return h.sync(ctx, event, "")
}

func (h *Handler) HandleCancelled(ctx context.Context, event *models.WebhookEvent) (map[string]any, error) {
	return h.sync(ctx, event, "cancelled")
}

// IdempotencyKey identifies one delivery of an event.
func IdempotencyKey(event *models.WebhookEvent) string {
	return event.SourceDomain + ":" + event.Topic + ":" + event.ID
}

func (h *Handler) sync(ctx context.Context, event *models.WebhookEvent, status string) (map[string]any, error) {
	var payload Payload
	if err := event.Decode(&payload); err != nil {
		return nil, &worker.ValidationError{Err: err}
	}
	if payload.ID == 0 {
		return nil, &worker.ValidationError{Err: errors.New("order id is missing")}
	}

	key := IdempotencyKey(event)
	logger := h.logger.With("event_id", event.ID, "order_id", payload.ID, "topic", event.Topic)

	if h.idem != nil {
		processed, err := h.idem.Has(ctx, key)
		if err != nil {
			// Not fatal: the ERP write is idempotent on its own.
			logger.Warn("Idempotency lookup failed", "error", err)
		} else if processed {
			logger.Info("Event already applied, skipping")
			return map[string]any{"order_id": payload.ID, "duplicate": true}, nil
		}
	}

	order := toOrder(event.SourceDomain, payload, status)
	result, err := h.erp.UpsertOrder(ctx, key, order)
	if err != nil {
		return nil, classify(err)
	}

	if h.idem != nil {
		if err := h.idem.Set(ctx, key); err != nil {
			logger.Warn("Failed to record applied event", "error", err)
		}
	}
	logger.Info("Order synced to ERP", "status", order.Status, "reference", result.Reference)

	return map[string]any{
		"order_id":      payload.ID,
		"status":        order.Status,
		"erp_reference": result.Reference,
	}, nil
}

func toOrder(shop string, p Payload, status string) erp.Order {
	if status == "" {
		status = "open"
		if p.CancelledAt != nil {
			status = "cancelled"
		}
	}
	order := erp.Order{
		ID:         p.ID,
		Shop:       shop,
		Name:       p.Name,
		Email:      p.Email,
		Status:     status,
		Currency:   p.Currency,
		TotalPrice: p.TotalPrice,
		UpdatedAt:  p.UpdatedAt,
		LineItems:  make([]erp.LineItem, 0, len(p.LineItems)),
	}
	for _, li := range p.LineItems {
		order.LineItems = append(order.LineItems, erp.LineItem{
			ID:       li.ID,
			SKU:      li.SKU,
			Title:    li.Title,
			Quantity: li.Quantity,
			Price:    li.Price,
		})
	}
	return order
}

func classify(err error) error {
	if erp.IsRetryable(err) {
		return worker.Transient(err)
	}
	return worker.Permanent(fmt.Errorf("erp rejected order: %w", err))
}
