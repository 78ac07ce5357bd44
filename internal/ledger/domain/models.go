package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type TransactionType string

const (
	TransactionTypePurchase TransactionType = "purchase"
	TransactionTypeUsage    TransactionType = "usage"
	TransactionTypeInfo     TransactionType = "info"
)

type TransactionStatus string

const (
	TransactionStatusSuccess TransactionStatus = "success"
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusFailed  TransactionStatus = "failed"
)

// Transaction is an append-only audit record. Amount is the signed delta applied to credits.
type Transaction struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID      snowflake.ID      `gorm:"column:user_id;not null" json:"user_id"`
	APIKeyID    *snowflake.ID     `gorm:"column:api_key_id" json:"api_key_id,omitempty"`
	Type        TransactionType   `gorm:"column:type;type:text;not null" json:"type"`
	Amount      int64             `gorm:"column:amount;not null" json:"amount"`
	Description string            `gorm:"column:description;type:text;not null" json:"description"`
	Status      TransactionStatus `gorm:"column:status;type:text;not null" json:"status"`
	Reference   *string           `gorm:"column:reference;type:text" json:"reference,omitempty"`
	Metadata    datatypes.JSON    `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"column:created_at;not null" json:"created_at"`
}

func (Transaction) TableName() string { return "transactions" }

// APIUsage records one billed API call.
type APIUsage struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	UserID         snowflake.ID   `gorm:"column:user_id;not null" json:"user_id"`
	APIKeyID       snowflake.ID   `gorm:"column:api_key_id;not null" json:"api_key_id"`
	Endpoint       string         `gorm:"column:endpoint;type:text;not null" json:"endpoint"`
	APIService     string         `gorm:"column:api_service;type:text;not null" json:"api_service"`
	QueryType      string         `gorm:"column:query_type;type:text;not null" json:"query_type"`
	CreditsUsed    int64          `gorm:"column:credits_used;not null" json:"credits_used"`
	Status         string         `gorm:"column:status;type:text;not null" json:"status"`
	ResponseTimeMs *int64         `gorm:"column:response_time_ms" json:"response_time_ms,omitempty"`
	Metadata       datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null" json:"created_at"`
}

func (APIUsage) TableName() string { return "api_usage" }

// BalanceRow is the slice of users the ledger owns.
type BalanceRow struct {
	ID              snowflake.ID `gorm:"column:id"`
	Credits         int64        `gorm:"column:credits"`
	CreditThreshold *int64       `gorm:"column:credit_threshold"`
	GracePeriodEnd  *time.Time   `gorm:"column:grace_period_end"`
}

// TxContext describes why a balance changes.
type TxContext struct {
	Description string
	APIKeyID    *snowflake.ID
	// Reference makes a credit idempotent; a reused reference is rejected.
	Reference string
	Metadata  map[string]any
}

// UsageContext is attached to debits that come from billed API consumption.
type UsageContext struct {
	APIKeyID       snowflake.ID
	Endpoint       string
	APIService     string
	QueryType      string
	Status         string
	ResponseTimeMs *int64
	Metadata       map[string]any
}

type Balance struct {
	UserID        snowflake.ID `json:"user_id"`
	NewBalance    int64        `json:"new_balance"`
	TransactionID snowflake.ID `json:"transaction_id"`
}

// TransferRequest moves credits out of one balance into another.
type TransferRequest struct {
	FromUserID snowflake.ID
	ToUserID   snowflake.ID
	Amount     int64
	Reason     string
}

type Transfer struct {
	Source *Balance `json:"source"`
	Target *Balance `json:"target"`
}

type AdjustRequest struct {
	AdminUserID  snowflake.ID
	TargetUserID snowflake.ID
	// Amount is signed: positive credits the user, negative debits.
	Amount int64
	Reason string
}

type ThresholdStatus struct {
	BelowThreshold bool   `json:"below_threshold"`
	CurrentCredits int64  `json:"current_credits"`
	Threshold      *int64 `json:"threshold"`
}

type Reconstruction struct {
	UserID      snowflake.ID `json:"user_id"`
	LiveCredits int64        `json:"live_credits"`
	LedgerSum   int64        `json:"ledger_sum"`
	Consistent  bool         `json:"consistent"`
}
