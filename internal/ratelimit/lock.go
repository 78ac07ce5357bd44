package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// DefaultReconcileLockKey is shared by every replica running the cache reconcile job.
const DefaultReconcileLockKey = "creditledger:lock:cache_reconcile"

var (
	ErrLockUnavailable = errors.New("reconcile_lock_unavailable")
	ErrEmptyLockKey    = errors.New("reconcile_lock_key_empty")
	ErrInvalidLockTTL  = errors.New("reconcile_lock_ttl_invalid")
	// ErrLockLost means the run outlived its TTL and another holder may have started.
	ErrLockLost = errors.New("reconcile_lock_lost")
)

// Deletes the key only while it still carries the caller's token.
const releaseIfOwnedScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker is a single-holder Redis lease guarding the cache reconcile run.
type Locker struct {
	client  *redis.Client
	release *redis.Script
}

func newLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(releaseIfOwnedScript),
	}
}

// TryLock returns the holder token and false when another replica owns the lease.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrLockUnavailable
	}
	if key == "" {
		return "", false, ErrEmptyLockKey
	}
	if ttl <= 0 {
		return "", false, ErrInvalidLockTTL
	}

	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, acquired, nil
}

// Release drops the lease held under token. ErrLockLost is returned when the
// lease had already expired or passed to another holder.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	deleted, err := l.release.Run(ctx, l.client, []string{key}, token).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLockLost
	}
	return nil
}
