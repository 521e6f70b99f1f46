package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// UserKey is the context key for user identifiers.
	UserKey contextKey = "user_id"

	// LimitKindKey is the context key for the limit kind being checked.
	LimitKindKey contextKey = "limit_kind"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithUser adds a user identifier to the context.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetUser retrieves the user identifier from the context.
func GetUser(ctx context.Context) string {
	if user, ok := ctx.Value(UserKey).(string); ok {
		return user
	}
	return ""
}

// WithLimitKind adds a limit kind to the context.
func WithLimitKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, LimitKindKey, kind)
}

// GetLimitKind retrieves the limit kind from the context.
func GetLimitKind(ctx context.Context) string {
	if kind, ok := ctx.Value(LimitKindKey).(string); ok {
		return kind
	}
	return ""
}

// extractContextFields extracts common fields from context for logging.
func extractContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr
	if requestID := GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, slog.String(string(RequestIDKey), requestID))
	}
	if user := GetUser(ctx); user != "" {
		attrs = append(attrs, slog.String(string(UserKey), user))
	}
	if kind := GetLimitKind(ctx); kind != "" {
		attrs = append(attrs, slog.String(string(LimitKindKey), kind))
	}
	return attrs
}
