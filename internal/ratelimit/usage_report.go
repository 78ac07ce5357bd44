package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/creditledger/internal/config"
)

const keyUsageReport = "usage:report:key:%s"

// UsageReportLimiter throttles usage reports per API key.
type UsageReportLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewUsageReportLimiter(backend *Backend, cfg config.Config) (*UsageReportLimiter, error) {
	if backend == nil {
		return nil, nil
	}
	limitCfg := cfg.RateLimit
	if limitCfg.UsageReportRate <= 0 || limitCfg.UsageReportBurst <= 0 {
		return nil, errors.New("usage report rate limit must be positive")
	}
	return &UsageReportLimiter{
		bucket: NewTokenBucket(backend.client),
		rate:   limitCfg.UsageReportRate,
		burst:  limitCfg.UsageReportBurst,
	}, nil
}

func (l *UsageReportLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *UsageReportLimiter) AllowKey(ctx context.Context, apiKey string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUsageReport, fingerprint(apiKey)), l.rate, l.burst)
}

// fingerprint keeps raw API keys out of the Redis keyspace.
func fingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:16])
}
