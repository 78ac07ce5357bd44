package scheduler

import (
	"time"

	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/smallbiznis/creditledger/internal/ratelimit"
)

// Config controls scheduler intervals and job deadlines.
type Config struct {
	ReconcileInterval time.Duration
	ReconcileTimeout  time.Duration
	LockTTL           time.Duration
	LockKey           string
}

func DefaultConfig() Config {
	return Config{
		ReconcileTimeout: 10 * time.Minute,
		LockTTL:          5 * time.Minute,
		LockKey:          ratelimit.DefaultReconcileLockKey,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		ReconcileInterval: cfg.ReconcileInterval,
		LockTTL:           cfg.RateLimit.ReconcileLockTTL,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = defaults.ReconcileTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockKey == "" {
		c.LockKey = defaults.LockKey
	}
	return c
}
