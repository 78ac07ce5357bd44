package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/creditledger/internal/account/domain"
	"gorm.io/gorm"
)

const defaultAdminName = "Platform Admin"

// EnsureBusinessAdmin provisions the first platform operator so the admin API is reachable.
// An existing account with the same email is promoted instead of duplicated.
func EnsureBusinessAdmin(ctx context.Context, db *gorm.DB, node *snowflake.Node, email, name string) (*accountdomain.User, bool, error) {
	if db == nil || node == nil {
		return nil, false, errors.New("seed database handle is required")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, false, accountdomain.ErrInvalidEmail
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultAdminName
	}

	var (
		user    accountdomain.User
		created bool
	)
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("LOWER(email) = ?", email).First(&user).Error
		if err == nil {
			if user.Role == accountdomain.RoleBusinessAdmin {
				return nil
			}
			user.Role = accountdomain.RoleBusinessAdmin
			user.UpdatedAt = time.Now().UTC()
			return tx.Model(&user).Updates(map[string]any{
				"role":       user.Role,
				"updated_at": user.UpdatedAt,
			}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		user = accountdomain.User{
			ID:                 node.Generate(),
			Email:              email,
			Name:               name,
			Role:               accountdomain.RoleBusinessAdmin,
			CanPurchaseCredits: true,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &user, created, nil
}
