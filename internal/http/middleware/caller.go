package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	callerIDKey   contextKey = "caller_id"
	callerRoleKey contextKey = "caller_role"
	requestIDKey  contextKey = "request_id"
)

// AnonymousCaller is the identity assigned when no caller header is present.
// Anonymous callers share one rate-limit bucket.
const AnonymousCaller = "anonymous"

// CallerIdentity resolves the caller from trusted gateway headers. The edge
// proxy strips these headers from external traffic and re-injects them after
// authentication, so their presence here is authoritative.
func CallerIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callerID := strings.TrimSpace(r.Header.Get("X-Caller-ID"))
			if callerID == "" {
				callerID = AnonymousCaller
			}
			role := strings.TrimSpace(r.Header.Get("X-Caller-Role"))

			ctx := context.WithValue(r.Context(), callerIDKey, callerID)
			ctx = context.WithValue(ctx, callerRoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerID returns the resolved caller identity, or AnonymousCaller.
func CallerID(ctx context.Context) string {
	if v, ok := ctx.Value(callerIDKey).(string); ok && v != "" {
		return v
	}
	return AnonymousCaller
}

// CallerRole returns the resolved caller role, or empty.
func CallerRole(ctx context.Context) string {
	v, _ := ctx.Value(callerRoleKey).(string)
	return v
}

// RequestIDFromContext returns the request id attached by RequestLogger.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}
