package obscontext

import (
	"context"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected req-1, got %q", got)
	}
	if got := RequestIDFromContext(WithRequestID(context.Background(), "  ")); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}

func TestActorRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), "user", "42")
	actorType, actorID := ActorFromContext(ctx)
	if actorType != "user" || actorID != "42" {
		t.Fatalf("unexpected actor %s/%s", actorType, actorID)
	}
}

func TestClientRoundTrip(t *testing.T) {
	ctx := WithClient(context.Background(), " 10.0.0.7 ", "curl/8.0")
	ip, ua := ClientFromContext(ctx)
	if ip != "10.0.0.7" || ua != "curl/8.0" {
		t.Fatalf("unexpected client %q %q", ip, ua)
	}

	ip, ua = ClientFromContext(context.Background())
	if ip != "" || ua != "" {
		t.Fatalf("expected empty client, got %q %q", ip, ua)
	}
}
