package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/cachesync"
	"github.com/smallbiznis/creditledger/internal/clock"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	"github.com/smallbiznis/creditledger/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobCacheReconcile = "cache_reconcile"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Reconciler interface {
	ResyncAll(ctx context.Context) (*cachesync.Report, error)
}

// Locker keeps one replica reconciling at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Reconciler *cachesync.Reconciler
	Locker     *ratelimit.Locker `optional:"true"`
	Config     Config            `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	genID      *snowflake.Node
	reconciler Reconciler
	locker     Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil || p.Reconciler == nil {
		return nil, ErrInvalidConfig
	}
	var locker Locker
	if p.Locker != nil {
		locker = p.Locker
	}
	return newScheduler(p.Config, p.Log, p.Clock, p.GenID, p.Reconciler, locker), nil
}

func newScheduler(cfg Config, log *zap.Logger, clk clock.Clock, genID *snowflake.Node, reconciler Reconciler, locker Locker) *Scheduler {
	return &Scheduler{
		log:        log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg.withDefaults(),
		clock:      clk,
		genID:      genID,
		reconciler: reconciler,
		locker:     locker,
	}
}

// Enabled reports whether periodic reconciliation is configured.
func (s *Scheduler) Enabled() bool {
	return s != nil && s.cfg.ReconcileInterval > 0
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.AddErrors(1)
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, JobCacheReconcile, s.cfg.ReconcileTimeout, s.CacheReconcileJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.ReconcileInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.ReconcileInterval)
	}
}

// CacheReconcileJob pushes every active key's ledger balance to the cache.
func (s *Scheduler) CacheReconcileJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire reconcile lock: %w", err)
		}
		if !ok {
			obsmetrics.Scheduler().IncJobSkipped(JobCacheReconcile, obsmetrics.SchedulerSkipReasonLockHeld)
			s.logger(ctx).Debug("reconcile lock held elsewhere, skipping run")
			return nil
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := s.locker.Release(releaseCtx, s.cfg.LockKey, token)
			switch {
			case errors.Is(err, ratelimit.ErrLockLost):
				s.logger(ctx).Warn("reconcile run outlived its lock",
					zap.String("lock_key", s.cfg.LockKey),
					zap.Duration("lock_ttl", s.cfg.LockTTL),
				)
			case err != nil:
				s.logger(ctx).Warn("release reconcile lock failed",
					zap.String("lock_key", s.cfg.LockKey),
					zap.Error(err),
				)
			}
		}()
	}

	report, err := s.reconciler.ResyncAll(ctx)
	if err != nil {
		return err
	}
	run.AddProcessed(report.Synced)
	run.AddErrors(report.Failed)
	return nil
}
