package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// IncrementCredits returns false when the user does not exist.
	IncrementCredits(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, now time.Time) (int64, bool, error)
	// DecrementCredits applies only when credits >= amount and returns false otherwise.
	DecrementCredits(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, now time.Time) (int64, bool, error)
	FindBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*BalanceRow, error)
	UpdateThreshold(ctx context.Context, db *gorm.DB, userID snowflake.ID, threshold *int64, now time.Time) (bool, error)
	UpdateGracePeriod(ctx context.Context, db *gorm.DB, userID snowflake.ID, end *time.Time, now time.Time) (bool, error)
	// InsertTransaction returns false when the reference already exists.
	InsertTransaction(ctx context.Context, db *gorm.DB, tx *Transaction) (bool, error)
	InsertUsage(ctx context.Context, db *gorm.DB, usage *APIUsage) error
	ListTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID, beforeID int64, limit int) ([]*Transaction, error)
	ListUsage(ctx context.Context, db *gorm.DB, userID snowflake.ID, beforeID int64, limit int) ([]*APIUsage, error)
	SumTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
}
