// Package obscontext carries request-scoped identifiers through context so
// log lines and spans emitted deep inside a payment flow can be tied back to
// the HTTP request or webhook delivery that started it.
package obscontext

import "context"

type requestIDKey struct{}

// WithRequestID attaches the request identifier. An empty id leaves the
// context untouched.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the attached request identifier, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}
