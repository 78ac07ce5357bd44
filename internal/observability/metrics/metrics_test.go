package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsIdentifiers(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("user_id", "123"),
		attribute.String("api_key", "clk_secret"),
		attribute.String("operation", "update_credits"),
		attribute.String("outcome", "success"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "user_id" || attr.Key == "api_key" {
			t.Fatalf("identifier %s leaked into metric labels", attr.Key)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordLedgerMutation(ctx, "usage")
	m.RecordUsageReport(ctx, "ok", 3)
	m.RecordPaymentEvent(ctx, "stripe", "checkout.session.completed", "credited")
	m.RecordCacheSync(ctx, "register_key", false, 502, time.Millisecond)
	m.RecordReconcile(ctx, 1, 0)
	m.RecordRateLimit(ctx, "/usage/report", false)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "test"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordCacheSync(context.Background(), "delete_key", true, 200, time.Millisecond)
}
