package cachesync

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultConcurrency = 16
	propagationTimeout = 30 * time.Second
)

var ErrPropagatorClosed = errors.New("propagator_closed")

// KeyOutcome is the per-key result of a fan-out.
type KeyOutcome struct {
	KeyID  snowflake.ID
	Result Result
}

type PropagatorParams struct {
	fx.In

	Lc     fx.Lifecycle `optional:"true"`
	DB     *gorm.DB
	Log    *zap.Logger
	Client Client
	Repo   Repository
}

// Propagator dispatches cache updates after ledger commits. Work is tracked so
// shutdown can wait for in-flight calls.
type Propagator struct {
	db     *gorm.DB
	log    *zap.Logger
	client Client
	repo   Repository

	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed atomic.Bool
}

func NewPropagator(p PropagatorParams) *Propagator {
	prop := &Propagator{
		db:     p.DB,
		log:    p.Log.Named("cachesync.propagator"),
		client: p.Client,
		repo:   p.Repo,
		sem:    make(chan struct{}, defaultConcurrency),
	}
	if p.Lc != nil {
		p.Lc.Append(fx.Hook{
			OnStop: prop.Shutdown,
		})
	}
	return prop
}

// Go runs fn asynchronously with a detached, bounded context.
func (p *Propagator) Go(ctx context.Context, name string, fn func(ctx context.Context)) error {
	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		p.log.Warn("propagation dropped after shutdown", zap.String("task", name))
		return ErrPropagatorClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("propagation panicked", zap.String("task", name), zap.Any("panic", r))
			}
		}()

		runCtx, cancel := context.WithTimeout(detached, propagationTimeout)
		defer cancel()
		fn(runCtx)
	}()
	return nil
}

// PropagateUser pushes the user's current balance to every active key, asynchronously.
func (p *Propagator) PropagateUser(ctx context.Context, userID snowflake.ID) {
	_ = p.Go(ctx, "propagate_user", func(ctx context.Context) {
		p.SyncUserCredits(ctx, userID)
	})
}

// DeleteKeys removes keys from the cache, asynchronously.
func (p *Propagator) DeleteKeys(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	_ = p.Go(ctx, "delete_keys", func(ctx context.Context) {
		for _, key := range keys {
			p.client.DeleteKey(ctx, key)
		}
	})
}

// SyncUserCredits fans out UpdateCredits to each active key. Balance is read at
// dispatch time so reordered propagations converge on the latest value.
func (p *Propagator) SyncUserCredits(ctx context.Context, userID snowflake.ID) []KeyOutcome {
	keys, err := p.repo.ActiveKeysForUser(ctx, p.db, userID)
	if err != nil {
		p.log.Warn("load active keys for propagation",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return nil
	}

	outcomes := make([]KeyOutcome, 0, len(keys))
	failed := 0
	for _, key := range keys {
		res := p.client.UpdateCredits(ctx, key.Key, key.Credits)
		if !res.Success && res.StatusCode == http.StatusNotFound {
			// Entry never landed or was evicted; register it in full.
			res = p.client.RegisterKey(ctx, key.Entry())
		}
		if !res.Success {
			failed++
		}
		outcomes = append(outcomes, KeyOutcome{KeyID: key.ID, Result: res})
	}

	if failed > 0 {
		p.log.Warn("credit propagation incomplete",
			zap.String("user_id", userID.String()),
			zap.Int("keys", len(keys)),
			zap.Int("failed", failed),
		)
	}
	return outcomes
}

// Shutdown stops accepting work and waits for in-flight propagations.
func (p *Propagator) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed.Store(true)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.log.Warn("propagator shutdown timed out with work in flight")
		return ctx.Err()
	}
}

// Wait blocks until all dispatched work has finished. Intended for tests and CLI runs.
func (p *Propagator) Wait() {
	p.wg.Wait()
}
