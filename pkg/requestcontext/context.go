// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Every entry point receives an authenticated caller identity (the ledger
// account submitting the operation) and a request-scoped timestamp. Both are
// set by middleware and consumed by services, so this package stays free of
// net/http to keep service imports small.
//
// Usage in services (read values):
//
//	caller := requestcontext.Caller(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithCaller(ctx, account)
//	ctx = requestcontext.WithTime(ctx, time.Now())
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithCaller(ctx, "0xalice")
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	"landgrid/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	callerKey      struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need raw context.WithValue.
var (
	ContextKeyCaller      = callerKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// Caller retrieves the authenticated caller account from the context.
// Returns the zero account if not set.
func Caller(ctx context.Context) domain.Account {
	if caller, ok := ctx.Value(ContextKeyCaller).(domain.Account); ok {
		return caller
	}
	return domain.ZeroAccount
}

// WithCaller injects a caller account into the context.
func WithCaller(ctx context.Context, caller domain.Account) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, caller)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context. Every read and write
// within one request observes the same instant, which is what makes lazy
// user-expiry a pure computation. Falls back to time.Now() for non-HTTP
// contexts (workers, CLI, tests that don't care).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Used by the request-time
// middleware and by tests that step the clock across an expiry boundary.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
