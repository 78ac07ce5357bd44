package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidKeyID = errors.New("invalid_key_id")
	ErrNotFound     = errors.New("not_found")
	ErrUserNotFound = errors.New("user_not_found")
)

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, name string) (*APIKey, error)
	Deactivate(ctx context.Context, keyID snowflake.ID) (*APIKey, error)
	DeleteUserCascade(ctx context.Context, userID snowflake.ID) (*CascadeReport, error)
	List(ctx context.Context, userID snowflake.ID) ([]APIKey, error)
	Get(ctx context.Context, keyID snowflake.ID) (*APIKey, error)
	FindByKey(ctx context.Context, key string) (*APIKey, error)
	TouchLastUsed(ctx context.Context, keyID snowflake.ID)
	Resolve(ctx context.Context, key string) (*Resolution, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*APIKey, error)
	FindByKey(ctx context.Context, db *gorm.DB, key string) (*APIKey, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]APIKey, error)
	// Deactivate returns false when the key was already inactive.
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	UserCredits(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, bool, error)
	DeleteUserData(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*CascadeReport, error)
}
