package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/creditledger/internal/cachesync"
	"github.com/smallbiznis/creditledger/internal/clock"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	"github.com/smallbiznis/creditledger/internal/ratelimit"
	"go.uber.org/zap"
)

type fakeReconciler struct {
	calls  int
	report *cachesync.Report
	err    error
	block  bool
}

func (f *fakeReconciler) ResyncAll(ctx context.Context) (*cachesync.Report, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

type fakeLocker struct {
	held       bool
	acquired   int
	released   []string
	releaseErr error
}

func (f *fakeLocker) TryLock(_ context.Context, _ string, _ time.Duration) (string, bool, error) {
	if f.held {
		return "", false, nil
	}
	f.acquired++
	return "token-1", true, nil
}

func (f *fakeLocker) Release(_ context.Context, _ string, token string) error {
	f.released = append(f.released, token)
	return f.releaseErr
}

func newTestScheduler(t *testing.T, cfg Config, reconciler Reconciler, locker Locker) (*Scheduler, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "creditledger",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	return newScheduler(cfg, zap.NewNop(), clk, node, reconciler, locker), registry
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	reconciler := &fakeReconciler{block: true}
	s, registry := newTestScheduler(t, Config{ReconcileTimeout: 5 * time.Millisecond}, reconciler, nil)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "creditledger",
		"env":     "test",
		"job":     JobCacheReconcile,
	}
	if got := getCounterValue(t, registry, "creditledger_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "creditledger",
		"env":     "test",
		"job":     JobCacheReconcile,
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "creditledger_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestReconcileRunsUnderLock(t *testing.T) {
	reconciler := &fakeReconciler{report: &cachesync.Report{Total: 3, Synced: 3}}
	locker := &fakeLocker{}
	s, _ := newTestScheduler(t, Config{}, reconciler, locker)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if reconciler.calls != 1 {
		t.Fatalf("expected one resync, got %d", reconciler.calls)
	}
	if locker.acquired != 1 || len(locker.released) != 1 || locker.released[0] != "token-1" {
		t.Fatalf("expected lock acquired and released, got %+v", locker)
	}
}

func TestReconcileSurvivesExpiredLock(t *testing.T) {
	reconciler := &fakeReconciler{report: &cachesync.Report{Total: 1, Synced: 1}}
	locker := &fakeLocker{releaseErr: ratelimit.ErrLockLost}
	s, _ := newTestScheduler(t, Config{}, reconciler, locker)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(locker.released) != 1 {
		t.Fatalf("expected one release attempt, got %d", len(locker.released))
	}
	if s.cfg.LockKey != ratelimit.DefaultReconcileLockKey {
		t.Fatalf("expected default lock key, got %q", s.cfg.LockKey)
	}
}

func TestReconcileSkipsWhenLockHeld(t *testing.T) {
	reconciler := &fakeReconciler{report: &cachesync.Report{}}
	s, registry := newTestScheduler(t, Config{}, reconciler, &fakeLocker{held: true})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if reconciler.calls != 0 {
		t.Fatalf("expected no resync while lock is held, got %d", reconciler.calls)
	}

	labels := map[string]string{
		"service": "creditledger",
		"env":     "test",
		"job":     JobCacheReconcile,
		"reason":  obsmetrics.SchedulerSkipReasonLockHeld,
	}
	if got := getCounterValue(t, registry, "creditledger_scheduler_job_skipped_total", labels); got != 1 {
		t.Fatalf("expected skipped count 1, got %v", got)
	}
}

func TestReconcileErrorIsWrapped(t *testing.T) {
	reconciler := &fakeReconciler{err: errors.New("db down")}
	s, _ := newTestScheduler(t, Config{}, reconciler, nil)

	err := s.RunOnce(context.Background())
	if err == nil || !errors.Is(err, reconciler.err) {
		t.Fatalf("expected wrapped reconcile error, got %v", err)
	}
}

func TestSchedulerDisabledWithoutInterval(t *testing.T) {
	s, _ := newTestScheduler(t, Config{}, &fakeReconciler{}, nil)
	if s.Enabled() {
		t.Fatal("expected scheduler disabled when interval is zero")
	}

	s, _ = newTestScheduler(t, Config{ReconcileInterval: time.Minute}, &fakeReconciler{}, nil)
	if !s.Enabled() {
		t.Fatal("expected scheduler enabled")
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
