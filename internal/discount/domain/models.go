package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

func ParseDiscountType(raw string) (DiscountType, error) {
	switch DiscountType(strings.ToLower(strings.TrimSpace(raw))) {
	case DiscountTypePercentage:
		return DiscountTypePercentage, nil
	case DiscountTypeFixed:
		return DiscountTypeFixed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDiscountType, raw)
	}
}

// DiscountCode amounts are in the smallest currency unit.
type DiscountCode struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	Code              string       `json:"code" gorm:"column:code"`
	DiscountType      DiscountType `json:"discountType" gorm:"column:discount_type"`
	DiscountValue     int64        `json:"discountValue" gorm:"column:discount_value"`
	MaxUses           *int64       `json:"maxUses" gorm:"column:max_uses"`
	CurrentUses       int64        `json:"currentUses" gorm:"column:current_uses"`
	MinPurchaseAmount int64        `json:"minPurchaseAmount" gorm:"column:min_purchase_amount"`
	MaxDiscountAmount *int64       `json:"maxDiscountAmount" gorm:"column:max_discount_amount"`
	ExpiresAt         *time.Time   `json:"expiresAt" gorm:"column:expires_at"`
	IsActive          bool         `json:"isActive" gorm:"column:is_active"`
	CreatedAt         time.Time    `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt         time.Time    `json:"updatedAt" gorm:"column:updated_at"`
}

func (DiscountCode) TableName() string { return "discount_codes" }

// Usable reports whether the code may be applied to a purchase of amount at now.
func (d DiscountCode) Usable(amount int64, now time.Time) bool {
	if !d.IsActive {
		return false
	}
	if d.ExpiresAt != nil && now.After(*d.ExpiresAt) {
		return false
	}
	if d.MaxUses != nil && d.CurrentUses >= *d.MaxUses {
		return false
	}
	return amount >= d.MinPurchaseAmount
}

// DiscountFor computes the discount for amount. The result never exceeds amount.
func (d DiscountCode) DiscountFor(amount int64) int64 {
	var discount int64
	switch d.DiscountType {
	case DiscountTypePercentage:
		discount = (amount*d.DiscountValue + 50) / 100
	case DiscountTypeFixed:
		discount = d.DiscountValue
	}
	if d.MaxDiscountAmount != nil && discount > *d.MaxDiscountAmount {
		discount = *d.MaxDiscountAmount
	}
	if discount > amount {
		discount = amount
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

type Validation struct {
	IsValid        bool          `json:"isValid"`
	DiscountAmount int64         `json:"discountAmount"`
	FinalAmount    int64         `json:"finalAmount"`
	ErrorMessage   string        `json:"errorMessage,omitempty"`
	DiscountCode   *DiscountCode `json:"discountCode,omitempty"`
}

type CreateRequest struct {
	Code              string     `json:"code"`
	DiscountType      string     `json:"discountType"`
	DiscountValue     int64      `json:"discountValue"`
	MaxUses           *int64     `json:"maxUses"`
	MinPurchaseAmount int64      `json:"minPurchaseAmount"`
	MaxDiscountAmount *int64     `json:"maxDiscountAmount"`
	ExpiresAt         *time.Time `json:"expiresAt"`
}
