package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/creditledger/internal/account/domain"
	"gorm.io/gorm"
)

const userColumns = `id, email, name, company, role, parent_user_id, credits, can_purchase_credits, credit_threshold, grace_period_end, created_at, updated_at`

type repo struct{}

func Provide() accountdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, user *accountdomain.User) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Name,
		user.Company,
		user.Role,
		user.ParentUserID,
		user.Credits,
		user.CanPurchaseCredits,
		user.CreditThreshold,
		user.GracePeriodEnd,
		user.CreatedAt,
		user.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*accountdomain.User, error) {
	var user accountdomain.User
	err := db.WithContext(ctx).Raw(
		`SELECT `+userColumns+` FROM users WHERE id = ?`,
		id,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]accountdomain.User, error) {
	var users []accountdomain.User
	err := db.WithContext(ctx).Raw(
		`SELECT ` + userColumns + ` FROM users ORDER BY id`,
	).Scan(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repo) ListByParentOrCompany(ctx context.Context, db *gorm.DB, parentID snowflake.ID, company *string) ([]accountdomain.User, error) {
	var users []accountdomain.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id <> ? AND role = 'user' AND (parent_user_id = ?`
	args := []any{parentID, parentID}
	if company != nil && *company != "" {
		query += ` OR company = ?`
		args = append(args, *company)
	}
	query += `) ORDER BY id`

	if err := db.WithContext(ctx).Raw(query, args...).Scan(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
