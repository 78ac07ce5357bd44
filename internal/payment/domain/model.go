package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Provider is the closed set of payment providers the webhook accepts.
type Provider string

const (
	ProviderStripe Provider = "stripe"
)

var Providers = []Provider{ProviderStripe}

func ParseProvider(raw string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(raw))) {
	case ProviderStripe:
		return ProviderStripe, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrProviderNotFound, raw)
	}
}

func (p Provider) String() string { return string(p) }

// Outcome records what processing did with a verified event.
type Outcome string

const (
	OutcomeCredited        Outcome = "credited"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeInvalidMetadata Outcome = "invalid_metadata"
	OutcomeAlreadyCredited Outcome = "already_credited"
	OutcomeUserNotFound    Outcome = "user_not_found"
	OutcomeDuplicateEvent  Outcome = "duplicate_event"
)

type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Outcome         *string        `json:"outcome"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypeCheckoutCompleted = "checkout.session.completed"
)

// CreditPurchase is the credit grant carried by a completed checkout.
type CreditPurchase struct {
	SessionID  string
	UserID     snowflake.ID
	Credits    int64
	BundleName string
	AmountPaid int64
	Currency   string
}

// PaymentEvent is the canonical event parsed by adapters. Purchase is nil when
// the event carries no usable credit grant; MetadataIssue then says why.
type PaymentEvent struct {
	Provider        Provider
	ProviderEventID string
	Type            string
	OccurredAt      time.Time
	RawPayload      []byte
	Purchase        *CreditPurchase
	MetadataIssue   string
}

type IngestResult struct {
	Provider   Provider     `json:"provider"`
	EventID    string       `json:"event_id"`
	EventType  string       `json:"event_type"`
	Outcome    Outcome      `json:"outcome"`
	UserID     snowflake.ID `json:"user_id,omitempty"`
	NewBalance *int64       `json:"new_balance,omitempty"`
}
