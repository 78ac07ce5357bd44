package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/creditledger/internal/payment/domain"
)

const HeaderSignature = "Stripe-Signature"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() paymentdomain.Provider {
	return paymentdomain.ProviderStripe
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		webhookSecret: secret,
		tolerance:     cfg.Tolerance,
		now:           now,
	}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(HeaderSignature))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	if a.tolerance > 0 {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return paymentdomain.ErrInvalidSignature
		}
		age := a.now().Sub(time.Unix(unix, 0))
		if age < 0 {
			age = -age
		}
		if age > a.tolerance {
			return paymentdomain.ErrInvalidSignature
		}
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

// Parse returns ErrEventIgnored together with the event for types that carry
// no credit grant, so callers can still record them.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case paymentdomain.EventTypeCheckoutCompleted:
		return a.parseCheckoutSession(event, payload)
	default:
		return &paymentdomain.PaymentEvent{
			Provider:        paymentdomain.ProviderStripe,
			ProviderEventID: event.ID,
			Type:            strings.TrimSpace(event.Type),
			OccurredAt:      timestamp(0, event.Created),
			RawPayload:      payload,
		}, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID          string         `json:"id"`
	AmountTotal int64          `json:"amount_total"`
	Currency    string         `json:"currency"`
	Created     int64          `json:"created"`
	Metadata    map[string]any `json:"metadata"`
}

func (a *Adapter) parseCheckoutSession(event stripeEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.PaymentEvent{
		Provider:        paymentdomain.ProviderStripe,
		ProviderEventID: event.ID,
		Type:            paymentdomain.EventTypeCheckoutCompleted,
		OccurredAt:      timestamp(session.Created, event.Created),
		RawPayload:      payload,
	}

	purchase, issue := parsePurchase(session)
	if issue != "" {
		out.MetadataIssue = issue
		return out, nil
	}
	out.Purchase = purchase
	return out, nil
}

// parsePurchase reads the credit grant from session metadata. A non-empty
// issue means the event is acknowledged without crediting.
func parsePurchase(session stripeCheckoutSession) (*paymentdomain.CreditPurchase, string) {
	userRaw := readMetadataValue(session.Metadata, "userId")
	if userRaw == "" {
		return nil, "missing userId"
	}
	userID, err := snowflake.ParseString(userRaw)
	if err != nil || userID <= 0 {
		return nil, "invalid userId"
	}

	credits, err := strconv.ParseInt(readMetadataValue(session.Metadata, "credits"), 10, 64)
	if err != nil || credits <= 0 {
		return nil, "invalid credits"
	}

	amountPaid := session.AmountTotal
	if raw := readMetadataValue(session.Metadata, "amountPaid"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			amountPaid = parsed
		}
	}
	currency := readMetadataValue(session.Metadata, "currencyPaid")
	if currency == "" {
		currency = session.Currency
	}

	return &paymentdomain.CreditPurchase{
		SessionID:  session.ID,
		UserID:     userID,
		Credits:    credits,
		BundleName: readMetadataValue(session.Metadata, "bundleName"),
		AmountPaid: amountPaid,
		Currency:   strings.ToUpper(strings.TrimSpace(currency)),
	}, ""
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 || cast != math.Trunc(cast) {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	case int64:
		return strconv.FormatInt(cast, 10)
	case int:
		return strconv.Itoa(cast)
	}
	return ""
}
