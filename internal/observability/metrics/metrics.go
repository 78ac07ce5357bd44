package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	ledgerMutations metric.Int64Counter
	usageReports    metric.Int64Counter
	creditsDebited  metric.Int64Counter
	paymentEvents   metric.Int64Counter
	cacheSync       metric.Int64Counter
	cacheSyncTime   metric.Float64Histogram
	reconcileKeys   metric.Int64Counter
	rateLimit       metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "creditledger"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	if m.ledgerMutations, err = meter.Int64Counter("creditledger_ledger_mutations_total"); err != nil {
		return nil, err
	}
	if m.usageReports, err = meter.Int64Counter("creditledger_usage_reports_total"); err != nil {
		return nil, err
	}
	if m.creditsDebited, err = meter.Int64Counter("creditledger_usage_credits_total"); err != nil {
		return nil, err
	}
	if m.paymentEvents, err = meter.Int64Counter("creditledger_payment_events_total"); err != nil {
		return nil, err
	}
	if m.cacheSync, err = meter.Int64Counter("creditledger_cache_sync_total"); err != nil {
		return nil, err
	}
	if m.cacheSyncTime, err = meter.Float64Histogram("creditledger_cache_sync_duration_seconds", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.reconcileKeys, err = meter.Int64Counter("creditledger_cache_reconcile_keys_total"); err != nil {
		return nil, err
	}
	if m.rateLimit, err = meter.Int64Counter("creditledger_rate_limit_decisions_total"); err != nil {
		return nil, err
	}

	return &m, nil
}

// RecordLedgerMutation counts committed balance changes by transaction type.
func (m *Metrics) RecordLedgerMutation(ctx context.Context, txType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("tx_type", strings.TrimSpace(txType)))
	m.ledgerMutations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageReport counts usage reports by outcome and the credits they consumed.
func (m *Metrics) RecordUsageReport(ctx context.Context, outcome string, credits int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.usageReports.Add(ctx, 1, metric.WithAttributes(attrs...))
	if credits > 0 {
		m.creditsDebited.Add(ctx, credits, metric.WithAttributes(attrs...))
	}
}

// RecordPaymentEvent increments payment event counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCacheSync records one cache-proxy call.
func (m *Metrics) RecordCacheSync(ctx context.Context, operation string, success bool, statusCode int, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", outcome),
		attribute.String("status_code", strconv.Itoa(statusCode)),
	)
	m.cacheSync.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.cacheSyncTime.Record(ctx, elapsed.Seconds(), metric.WithAttributes(FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
	)...))
}

// RecordReconcile counts keys pushed by a reconciliation run.
func (m *Metrics) RecordReconcile(ctx context.Context, synced, failed int) {
	if m == nil {
		return
	}
	m.reconcileKeys.Add(ctx, int64(synced), metric.WithAttributes(attribute.String("outcome", "success")))
	m.reconcileKeys.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("outcome", "failure")))
}

// RecordRateLimit counts rate limiter decisions per route.
func (m *Metrics) RecordRateLimit(ctx context.Context, endpoint string, allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("decision", decision),
	)
	m.rateLimit.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// User, key, and session identifiers never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"tx_type":     {},
	"outcome":     {},
	"operation":   {},
	"status_code": {},
	"provider":    {},
	"event_type":  {},
	"endpoint":    {},
	"decision":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
