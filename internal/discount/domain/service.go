package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const InvalidCodeMessage = "Invalid or expired discount code"

var (
	ErrInvalidCode          = errors.New("invalid_code")
	ErrInvalidDiscountType  = errors.New("invalid_discount_type")
	ErrInvalidDiscountValue = errors.New("invalid_discount_value")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidLimits        = errors.New("invalid_limits")
	ErrCodeTaken            = errors.New("code_taken")
	ErrNotFound             = errors.New("not_found")
	ErrCodeExhausted        = errors.New("code_exhausted")
)

type Service interface {
	Validate(ctx context.Context, code string, amount int64) (*Validation, error)
	Create(ctx context.Context, req CreateRequest) (*DiscountCode, error)
	List(ctx context.Context) ([]DiscountCode, error)
	Redeem(ctx context.Context, id snowflake.ID) (*DiscountCode, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, code *DiscountCode) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*DiscountCode, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*DiscountCode, error)
	List(ctx context.Context, db *gorm.DB) ([]DiscountCode, error)
	// IncrementUses returns false when the code is inactive or at its cap.
	IncrementUses(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
}
