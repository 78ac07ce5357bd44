package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is the credit-holding account.
type User struct {
	ID                 snowflake.ID  `gorm:"primaryKey" json:"id"`
	Email              string        `gorm:"column:email;type:text;not null" json:"email"`
	Name               string        `gorm:"column:name;type:text;not null" json:"name"`
	Company            *string       `gorm:"column:company;type:text" json:"company,omitempty"`
	Role               Role          `gorm:"column:role;type:text;not null" json:"role"`
	ParentUserID       *snowflake.ID `gorm:"column:parent_user_id" json:"parent_user_id,omitempty"`
	Credits            int64         `gorm:"column:credits;not null" json:"credits"`
	CanPurchaseCredits bool          `gorm:"column:can_purchase_credits;not null" json:"can_purchase_credits"`
	CreditThreshold    *int64        `gorm:"column:credit_threshold" json:"credit_threshold,omitempty"`
	GracePeriodEnd     *time.Time    `gorm:"column:grace_period_end" json:"grace_period_end,omitempty"`
	CreatedAt          time.Time     `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt          time.Time     `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Principal is the authenticated caller as produced by the session layer.
type Principal struct {
	UserID snowflake.ID
	Role   Role
}

type CreateRequest struct {
	Email              string        `json:"email"`
	Name               string        `json:"name"`
	Company            string        `json:"company"`
	Role               string        `json:"role"`
	ParentUserID       *snowflake.ID `json:"parent_user_id"`
	CanPurchaseCredits *bool         `json:"can_purchase_credits"`
	InitialCredits     int64         `json:"initial_credits"`
}
