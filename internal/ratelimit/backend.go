package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditledger/internal/config"
	"go.uber.org/fx"
)

// Backend owns the Redis connection shared by the limiter and the locker.
// It is nil when rate limiting is disabled.
type Backend struct {
	client *redis.Client
}

func NewBackend(lc fx.Lifecycle, cfg config.Config) *Backend {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Redis.Addr),
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return &Backend{client: client}
}

func NewBackendWithClient(client *redis.Client) *Backend {
	if client == nil {
		return nil
	}
	return &Backend{client: client}
}

func NewReconcileLocker(backend *Backend) *Locker {
	if backend == nil {
		return nil
	}
	return newLocker(backend.client)
}
