// Package erp is a small client for the downstream order system that the
// order handlers keep in sync with the storefront.
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// IdempotencyKeyHeader carries the caller's key so the ERP can collapse
// repeated writes for the same event.
const IdempotencyKeyHeader = "Idempotency-Key"

// Order is the ERP's view of a storefront order.
type Order struct {
	ID         int64      `json:"id"`
	Shop       string     `json:"shop"`
	Name       string     `json:"name,omitempty"`
	Email      string     `json:"email,omitempty"`
	Status     string     `json:"status"`
	Currency   string     `json:"currency,omitempty"`
	TotalPrice string     `json:"total_price"`
	LineItems  []LineItem `json:"line_items"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// LineItem is one product line of an Order.
type LineItem struct {
	ID       int64  `json:"id"`
	SKU      string `json:"sku,omitempty"`
	Title    string `json:"title,omitempty"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

// SyncResult is what the ERP reports after an upsert.
type SyncResult struct {
	Reference  string `json:"reference"`
	StatusCode int    `json:"-"`
}

// StatusError is a non-2xx ERP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("erp responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("erp responded with status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// IsRetryable reports whether err is worth retrying: network failures and
// retryable status codes are, client rejections are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return !errors.Is(err, ErrInvalidOrder)
}

// ErrInvalidOrder is returned before any request is made for an order the
// ERP would reject outright.
var ErrInvalidOrder = errors.New("invalid order")

// Config configures a Client.
type Config struct {
	BaseURL string
	// TokenURL, ClientID and ClientSecret enable the OAuth2 client
	// credentials flow. Without them requests are unauthenticated.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client talks to the ERP order API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds a Client. The HTTP client is wrapped with an OAuth2
// token source when client credentials are configured.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("erp base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse erp base url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	if cfg.ClientID != "" && cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		authed := cc.Client(tokenCtx)
		authed.Timeout = httpClient.Timeout
		httpClient = authed
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		logger:  logger.With("component", "erp"),
	}, nil
}

// UpsertOrder writes order with an idempotent PUT so that a retried
// delivery of the same event leaves a single ERP record.
func (c *Client) UpsertOrder(ctx context.Context, idempotencyKey string, order Order) (*SyncResult, error) {
	if order.ID == 0 || order.Shop == "" {
		return nil, fmt.Errorf("%w: order id and shop are required", ErrInvalidOrder)
	}

	body, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	endpoint := c.baseURL.JoinPath("shops", order.Shop, "orders", strconv.FormatInt(order.ID, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build erp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyKeyHeader, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erp request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		c.logger.Warn("Failed to read erp response body", "order_id", order.ID, "status", resp.StatusCode, "error", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	result := &SyncResult{StatusCode: resp.StatusCode}
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			c.logger.Warn("Unreadable erp response body", "order_id", order.ID, "error", err)
		}
	}
	c.logger.Debug("Order synced", "order_id", order.ID, "shop", order.Shop, "status", resp.StatusCode)
	return result, nil
}
