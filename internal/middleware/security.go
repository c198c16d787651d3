package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"shopify-webhook-pipeline/internal/contextkeys"
)

// Headers set by the storefront on every webhook delivery.
const (
	HeaderHMAC        = "X-Shopify-Hmac-Sha256"
	HeaderShopDomain  = "X-Shopify-Shop-Domain"
	HeaderTriggeredAt = "X-Shopify-Triggered-At"
)

const defaultMaxBodyBytes int64 = 1 << 20

// Verify reports whether signatureHeader is exactly the Base64 HMAC-SHA256
// of rawBody under secret. Missing or non-canonical input never verifies.
func Verify(rawBody []byte, signatureHeader string, secret []byte) bool {
	if len(secret) == 0 || signatureHeader == "" {
		return false
	}
	expected := Sign(rawBody, secret)
	// Compare the signatures in constant time to prevent timing attacks.
	return hmac.Equal([]byte(signatureHeader), []byte(expected))
}

// Sign returns the header value Verify accepts for rawBody.
func Sign(rawBody, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyOptions tunes VerifySignature.
type VerifyOptions struct {
	// MaxBodyBytes caps the body read before verification.
	MaxBodyBytes int64
	// ReplayWindow rejects deliveries whose trigger time is further from
	// now than this. Zero disables the check.
	ReplayWindow time.Duration
	Now          func() time.Time
}

// VerifySignature is a Chi middleware that authenticates the raw request
// body against the X-Shopify-Hmac-Sha256 header. On success the exact
// bytes are stored in the request context for the next handler.
func VerifySignature(logger *slog.Logger, secret []byte, opts VerifyOptions) func(next http.Handler) http.Handler {
	maxBytes := opts.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			shop := r.Header.Get(HeaderShopDomain)

			bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
			r.Body.Close()
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					logger.Warn("Webhook body too large", "shop", shop, "limit", maxBytes)
					http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
					return
				}
				logger.Error("Failed to read request body", "error", err)
				http.Error(w, "Cannot read request body", http.StatusBadRequest)
				return
			}

			signature := r.Header.Get(HeaderHMAC)
			if signature == "" {
				logger.Warn("Missing signature header", "shop", shop)
				http.Error(w, "Missing "+HeaderHMAC+" header", http.StatusUnauthorized)
				return
			}
			if !Verify(bodyBytes, signature, secret) {
				logger.Warn("Invalid signature received", "shop", shop, "body_bytes", len(bodyBytes))
				http.Error(w, "Invalid signature", http.StatusUnauthorized)
				return
			}

			if opts.ReplayWindow > 0 {
				if err := checkReplayWindow(r.Header.Get(HeaderTriggeredAt), now().UTC(), opts.ReplayWindow); err != nil {
					logger.Warn("Rejected stale webhook delivery", "shop", shop, "error", err)
					http.Error(w, "Delivery outside replay window", http.StatusUnauthorized)
					return
				}
			}

			// Restore the body so the next handler can read it.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			next.ServeHTTP(w, r.WithContext(contextkeys.WithRawBody(r.Context(), bodyBytes)))
		})
	}
}

var errReplayWindow = errors.New("trigger time outside replay window")

// checkReplayWindow accepts a missing header; the signature already
// proves the delivery came from the storefront.
func checkReplayWindow(triggered string, now time.Time, window time.Duration) error {
	triggered = strings.TrimSpace(triggered)
	if triggered == "" {
		return nil
	}
	triggeredAt, err := time.Parse(time.RFC3339Nano, triggered)
	if err != nil {
		return err
	}
	delta := now.Sub(triggeredAt.UTC())
	if delta < 0 {
		delta = -delta
	}
	if delta > window {
		return errReplayWindow
	}
	return nil
}
