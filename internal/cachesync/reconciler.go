package cachesync

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/creditledger/internal/clock"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	resyncBatchSize   = 500
	resyncMaxAttempts = 3
)

// Report summarises one reconciliation run.
type Report struct {
	RunID      string    `json:"runId"`
	Total      int       `json:"total"`
	Synced     int       `json:"synced"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

type ReconcilerParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Client     Client
	Repo       Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Reconciler rewrites cache entries from the ledger, the recovery path for lost propagations.
type Reconciler struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	client     Client
	repo       Repository
	obsMetrics *obsmetrics.Metrics

	initialInterval time.Duration
}

func NewReconciler(p ReconcilerParams) *Reconciler {
	return &Reconciler{
		db:              p.DB,
		log:             p.Log.Named("cachesync.reconciler"),
		clock:           p.Clock,
		client:          p.Client,
		repo:            p.Repo,
		obsMetrics:      p.ObsMetrics,
		initialInterval: 500 * time.Millisecond,
	}
}

// SyncUser registers every active key of one user.
func (r *Reconciler) SyncUser(ctx context.Context, userID snowflake.ID) (*Report, error) {
	report := r.newReport()
	keys, err := r.repo.ActiveKeysForUser(ctx, r.db, userID)
	if err != nil {
		return nil, err
	}
	r.registerAll(ctx, report, keys)
	return r.finish(ctx, report), nil
}

// ResyncAll walks every active key in id order and registers it.
func (r *Reconciler) ResyncAll(ctx context.Context) (*Report, error) {
	report := r.newReport()
	r.log.Info("cache resync started", zap.String("run_id", report.RunID))

	var after snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			r.finish(ctx, report)
			return report, err
		}
		keys, err := r.repo.ActiveKeysAfter(ctx, r.db, after, resyncBatchSize)
		if err != nil {
			r.finish(ctx, report)
			return report, err
		}
		if len(keys) == 0 {
			break
		}
		r.registerAll(ctx, report, keys)
		after = keys[len(keys)-1].ID
		if len(keys) < resyncBatchSize {
			break
		}
	}
	return r.finish(ctx, report), nil
}

func (r *Reconciler) registerAll(ctx context.Context, report *Report, keys []KeyState) {
	for _, key := range keys {
		report.Total++
		if _, err := r.register(ctx, key); err != nil {
			report.Failed++
			r.log.Warn("cache resync key failed",
				zap.String("run_id", report.RunID),
				zap.String("user_id", key.UserID.String()),
				zap.String("api_key", MaskKey(key.Key)),
				zap.Error(err),
			)
			continue
		}
		report.Synced++
	}
}

func (r *Reconciler) register(ctx context.Context, key KeyState) (Result, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialInterval

	return backoff.Retry(ctx, func() (Result, error) {
		res := r.client.RegisterKey(ctx, key.Entry())
		if res.Success {
			return res, nil
		}
		err := fmt.Errorf("register key: status %d: %s", res.StatusCode, res.Message)
		if !retryable(res.StatusCode) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(resyncMaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.log.Debug("retrying cache registration",
				zap.String("api_key", MaskKey(key.Key)),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	)
}

// Client errors other than timeouts and throttling will not improve on retry.
func retryable(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 400 && status < 500:
		return false
	case status == http.StatusServiceUnavailable:
		return true
	default:
		return status >= 500
	}
}

func (r *Reconciler) newReport() *Report {
	now := r.clock.Now()
	return &Report{
		RunID:     ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		StartedAt: now,
	}
}

func (r *Reconciler) finish(ctx context.Context, report *Report) *Report {
	report.FinishedAt = r.clock.Now()
	r.obsMetrics.RecordReconcile(ctx, report.Synced, report.Failed)
	r.log.Info("cache resync finished",
		zap.String("run_id", report.RunID),
		zap.Int("total", report.Total),
		zap.Int("synced", report.Synced),
		zap.Int("failed", report.Failed),
	)
	return report
}
