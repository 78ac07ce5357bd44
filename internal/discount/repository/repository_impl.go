package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/discount/domain"
	"gorm.io/gorm"
)

const codeColumns = `id, code, discount_type, discount_value, max_uses, current_uses,
	min_purchase_amount, max_discount_amount, expires_at, is_active, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, code *domain.DiscountCode) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO discount_codes (`+codeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.ID,
		code.Code,
		string(code.DiscountType),
		code.DiscountValue,
		code.MaxUses,
		code.CurrentUses,
		code.MinPurchaseAmount,
		code.MaxDiscountAmount,
		code.ExpiresAt,
		code.IsActive,
		code.CreatedAt,
		code.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.DiscountCode, error) {
	var item domain.DiscountCode
	err := db.WithContext(ctx).Raw(
		`SELECT `+codeColumns+` FROM discount_codes WHERE id = ?`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.DiscountCode, error) {
	var item domain.DiscountCode
	err := db.WithContext(ctx).Raw(
		`SELECT `+codeColumns+` FROM discount_codes WHERE UPPER(code) = UPPER(?) LIMIT 1`,
		code,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.DiscountCode, error) {
	var items []domain.DiscountCode
	err := db.WithContext(ctx).Raw(
		`SELECT ` + codeColumns + ` FROM discount_codes ORDER BY id DESC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) IncrementUses(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE discount_codes
		 SET current_uses = current_uses + 1, updated_at = ?
		 WHERE id = ? AND is_active = ?
		   AND (max_uses IS NULL OR current_uses < max_uses)`,
		now, id, true,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
