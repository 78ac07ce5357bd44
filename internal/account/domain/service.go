package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidEmail   = errors.New("invalid_email")
	ErrInvalidRole    = errors.New("invalid_role")
	ErrInvalidCredits = errors.New("invalid_initial_credits")
	ErrInvalidParent  = errors.New("invalid_parent_user")
	ErrEmailTaken     = errors.New("email_taken")
	ErrNotFound       = errors.New("not_found")
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*User, error)
	Get(ctx context.Context, id snowflake.ID) (*User, error)
	ListManaged(ctx context.Context, adminID snowflake.ID) ([]User, error)
	CanManage(actor, target *User) bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, user *User) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	ListAll(ctx context.Context, db *gorm.DB) ([]User, error)
	ListByParentOrCompany(ctx context.Context, db *gorm.DB, parentID snowflake.ID, company *string) ([]User, error)
}
