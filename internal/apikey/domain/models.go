package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey is an opaque bearer credential owned by one user. Keys are never reused.
type APIKey struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID     snowflake.ID `gorm:"column:user_id;not null" json:"user_id"`
	Key        string       `gorm:"column:key_value;type:text;not null;uniqueIndex" json:"key"`
	Name       string       `gorm:"column:name;type:text;not null" json:"name"`
	IsActive   bool         `gorm:"column:is_active;not null" json:"active"`
	LastUsedAt *time.Time   `gorm:"column:last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time    `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (APIKey) TableName() string { return "api_keys" }

type ResolutionSource string

const (
	SourceCache  ResolutionSource = "cache"
	SourceLedger ResolutionSource = "ledger"
)

// Resolution answers "is this key usable and how many credits remain".
type Resolution struct {
	KeyID   snowflake.ID     `json:"key_id,omitempty"`
	UserID  string           `json:"user_id"`
	Active  bool             `json:"active"`
	Credits int64            `json:"credits"`
	Source  ResolutionSource `json:"source"`
}

type CascadeReport struct {
	UserID              snowflake.ID `json:"user_id"`
	KeysRemoved         int          `json:"keys_removed"`
	TransactionsRemoved int64        `json:"transactions_removed"`
	UsageRemoved        int64        `json:"usage_removed"`
}
