package logging

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	if GetRequestID(ctx) != "" || GetUser(ctx) != "" || GetLimitKind(ctx) != "" {
		t.Error("Expected empty values from a bare context")
	}

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithUser(ctx, "u1")
	ctx = WithLimitKind(ctx, "tokens")

	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("Expected req-1, got %s", got)
	}
	if got := GetUser(ctx); got != "u1" {
		t.Errorf("Expected u1, got %s", got)
	}
	if got := GetLimitKind(ctx); got != "tokens" {
		t.Errorf("Expected tokens, got %s", got)
	}
}

func TestExtractContextFields(t *testing.T) {
	ctx := WithUser(context.Background(), "u1")

	attrs := extractContextFields(ctx)
	if len(attrs) != 1 {
		t.Fatalf("Expected 1 attr, got %d", len(attrs))
	}
	if attrs[0].Key != "user_id" || attrs[0].Value.String() != "u1" {
		t.Errorf("Expected user_id=u1, got %s=%s", attrs[0].Key, attrs[0].Value.String())
	}
}
