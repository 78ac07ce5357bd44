package cacheproxy

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditledger/internal/cachesync"
)

const (
	fieldUserID    = "user_id"
	fieldCredits   = "credits"
	fieldActive    = "active"
	fieldUpdatedAt = "updated_at"

	scanBatch = 500
)

var ErrEntryNotFound = errors.New("cache_entry_not_found")

// Only touches an existing hash so a credit push never resurrects a removed key.
const updateCreditsScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "credits", ARGV[1], "updated_at", ARGV[2])
return 1
`

// Store keeps one hash per API key under a configurable prefix.
type Store struct {
	client *redis.Client
	prefix string
	update *redis.Script
}

func NewStore(client *redis.Client, prefix string) *Store {
	if strings.TrimSpace(prefix) == "" {
		prefix = "apikey:"
	}
	return &Store{
		client: client,
		prefix: prefix,
		update: redis.NewScript(updateCreditsScript),
	}
}

func (s *Store) redisKey(key string) string {
	return s.prefix + key
}

func (s *Store) Put(ctx context.Context, entry cachesync.KeyEntry, now time.Time) error {
	if strings.TrimSpace(entry.Key) == "" {
		return errors.New("cache key is empty")
	}
	return s.client.HSet(ctx, s.redisKey(entry.Key),
		fieldUserID, entry.UserID,
		fieldCredits, strconv.FormatInt(entry.Credits, 10),
		fieldActive, strconv.FormatBool(entry.Active),
		fieldUpdatedAt, now.UTC().Format(time.RFC3339Nano),
	).Err()
}

func (s *Store) Get(ctx context.Context, key string) (*cachesync.KeyEntry, error) {
	values, err := s.client.HGetAll(ctx, s.redisKey(key)).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrEntryNotFound
	}

	entry := &cachesync.KeyEntry{
		Key:    key,
		UserID: values[fieldUserID],
	}
	if raw := values[fieldCredits]; raw != "" {
		credits, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		entry.Credits = credits
	}
	entry.Active, _ = strconv.ParseBool(values[fieldActive])
	if raw := values[fieldUpdatedAt]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			entry.UpdatedAt = &ts
		}
	}
	return entry, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	removed, err := s.client.Del(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

func (s *Store) UpdateCredits(ctx context.Context, key string, credits int64, now time.Time) error {
	updated, err := s.update.Run(ctx, s.client, []string{s.redisKey(key)},
		strconv.FormatInt(credits, 10),
		now.UTC().Format(time.RFC3339Nano),
	).Int64()
	if err != nil {
		return err
	}
	if updated == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Count walks the prefixed keyspace with SCAN.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return 0, err
		}
		total += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
