// Package contextkeys holds request-scoped values shared between the
// verification middleware and the webhook handler.
package contextkeys

import "context"

// CtxKey is a custom type for context keys to avoid collisions.
type CtxKey string

// RequestBodyKey is the key for the verified raw request body.
const RequestBodyKey CtxKey = "requestBody"

// WithRawBody stores the exact bytes whose signature was checked.
func WithRawBody(ctx context.Context, body []byte) context.Context {
	return context.WithValue(ctx, RequestBodyKey, body)
}

// RawBody returns the verified body, if any.
func RawBody(ctx context.Context) ([]byte, bool) {
	body, ok := ctx.Value(RequestBodyKey).([]byte)
	return body, ok
}
