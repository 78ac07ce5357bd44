package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrInvalidUsage = errors.New("invalid_usage")
	ErrKeyNotFound  = errors.New("api_key_not_found")
	ErrUserNotFound = errors.New("user_not_found")
	ErrInvalidToken = errors.New("invalid_internal_token")
)

type Service interface {
	// Report debits the key owner. Reports carry no idempotency key; a retried
	// report is billed again.
	Report(ctx context.Context, req ReportRequest) (*ReportResult, error)
	Stats(ctx context.Context, window time.Duration, topN int) (*Stats, error)
}

type Repository interface {
	Totals(ctx context.Context, db *gorm.DB, since time.Time) (requests int64, credits int64, err error)
	ByQueryType(ctx context.Context, db *gorm.DB, since time.Time) ([]QueryTypeUsage, error)
	TopUsers(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]UserUsage, error)
}
