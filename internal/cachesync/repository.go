package cachesync

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// KeyState is an active key joined with its owner's live balance.
type KeyState struct {
	ID      snowflake.ID `gorm:"column:id"`
	Key     string       `gorm:"column:key_value"`
	UserID  snowflake.ID `gorm:"column:user_id"`
	Credits int64        `gorm:"column:credits"`
	Active  bool         `gorm:"column:is_active"`
}

func (k KeyState) Entry() KeyEntry {
	return KeyEntry{
		Key:     k.Key,
		UserID:  k.UserID.String(),
		Credits: k.Credits,
		Active:  k.Active,
	}
}

type Repository interface {
	ActiveKeysForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]KeyState, error)
	ActiveKeysAfter(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]KeyState, error)
}

type repo struct{}

func NewRepository() Repository {
	return &repo{}
}

func (r *repo) ActiveKeysForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]KeyState, error) {
	var keys []KeyState
	err := db.WithContext(ctx).Raw(
		`SELECT k.id, k.key_value, k.user_id, u.credits, k.is_active
		 FROM api_keys k
		 JOIN users u ON u.id = k.user_id
		 WHERE k.user_id = ? AND k.is_active = ?
		 ORDER BY k.id`,
		userID, true,
	).Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repo) ActiveKeysAfter(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]KeyState, error) {
	var keys []KeyState
	err := db.WithContext(ctx).Raw(
		`SELECT k.id, k.key_value, k.user_id, u.credits, k.is_active
		 FROM api_keys k
		 JOIN users u ON u.id = k.user_id
		 WHERE k.is_active = ? AND k.id > ?
		 ORDER BY k.id
		 LIMIT ?`,
		true, afterID, limit,
	).Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}
