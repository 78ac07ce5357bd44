package tracing

import (
	"errors"
	"fmt"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsCredentials(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("api_key", "clk_abc"),
		attribute.String("http.route", "/usage/report"),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}

func TestSafeErrorFlattensChain(t *testing.T) {
	base := errors.New("boom")
	wrapped := fmt.Errorf("outer: %w", base)
	safe := SafeError(wrapped)
	if safe.Error() != wrapped.Error() {
		t.Fatalf("expected message preserved, got %q", safe.Error())
	}
	if errors.Is(safe, base) {
		t.Fatalf("expected chain to be dropped")
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
