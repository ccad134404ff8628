package types

import (
	"context"
	"testing"
)

func TestWithRequestID_GetRequestID(t *testing.T) {
	t.Run("round-trip stores and retrieves request ID", func(t *testing.T) {
		id := "req_abc123"
		ctx := WithRequestID(context.Background(), id)
		if got := GetRequestID(ctx); got != id {
			t.Errorf("got %q, want %q", got, id)
		}
	})

	t.Run("returns empty string when no request ID in context", func(t *testing.T) {
		if got := GetRequestID(context.Background()); got != "" {
			t.Errorf("expected empty string, got %q", got)
		}
	})
}

func TestContextKeys_ArePrivate(t *testing.T) {
	// A plain string key must not collide with the typed contextKey.
	ctx := context.WithValue(context.Background(), "request_id", "should-not-match")
	if got := GetRequestID(ctx); got != "" {
		t.Errorf("expected empty string due to key type mismatch, got %q", got)
	}
}
