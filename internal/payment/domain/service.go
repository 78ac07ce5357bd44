package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrProviderNotFound      = errors.New("payment_provider_not_found")
	ErrProviderNotConfigured = errors.New("payment_provider_not_configured")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
)

type AdapterConfig struct {
	WebhookSecret string
	// Tolerance bounds signature age. Zero disables the check.
	Tolerance time.Duration
	Now       func() time.Time
}

type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() Provider
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// Service verifies provider webhooks and applies them once.
type Service interface {
	IngestWebhook(ctx context.Context, provider Provider, payload []byte, headers http.Header) (*IngestResult, error)
}

// Processor applies a verified event to the ledger.
type Processor interface {
	ProcessEvent(ctx context.Context, event *PaymentEvent) (*IngestResult, error)
}

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider Provider, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome Outcome, processedAt time.Time) error
}
