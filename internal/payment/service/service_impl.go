package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/creditledger/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	LedgerSvc ledgerdomain.Service
}

// Service turns verified payment events into ledger credits.
type Service struct {
	log       *zap.Logger
	ledgerSvc ledgerdomain.Service
}

func NewService(p Params) paymentdomain.Processor {
	return &Service{
		log:       p.Log.Named("payment.service"),
		ledgerSvc: p.LedgerSvc,
	}
}

// ProcessEvent credits the purchaser at most once per checkout session. Events
// that cannot be applied are acknowledged with an outcome rather than an error
// so the provider stops redelivering them.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.IngestResult, error) {
	if event == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}
	result := &paymentdomain.IngestResult{
		Provider:  event.Provider,
		EventID:   event.ProviderEventID,
		EventType: event.Type,
	}

	if event.Type != paymentdomain.EventTypeCheckoutCompleted {
		result.Outcome = paymentdomain.OutcomeIgnored
		return result, nil
	}

	purchase := event.Purchase
	if purchase == nil {
		s.log.Warn("checkout completed without usable credit metadata",
			zap.String("provider", event.Provider.String()),
			zap.String("event_id", event.ProviderEventID),
			zap.String("issue", event.MetadataIssue),
		)
		result.Outcome = paymentdomain.OutcomeInvalidMetadata
		return result, nil
	}
	result.UserID = purchase.UserID

	description := "Credit purchase"
	if name := strings.TrimSpace(purchase.BundleName); name != "" {
		description = fmt.Sprintf("Purchased %s", name)
	}
	balance, err := s.ledgerSvc.CreditUser(ctx, purchase.UserID, purchase.Credits, ledgerdomain.TxContext{
		Description: description,
		Reference:   fmt.Sprintf("%s:%s", event.Provider, purchase.SessionID),
		Metadata: map[string]any{
			"provider":        event.Provider.String(),
			"stripeSessionId": purchase.SessionID,
			"amountPaid":      purchase.AmountPaid,
			"currency":        purchase.Currency,
			"bundleName":      purchase.BundleName,
			"eventId":         event.ProviderEventID,
		},
	})
	switch {
	case err == nil:
		newBalance := balance.NewBalance
		result.NewBalance = &newBalance
		result.Outcome = paymentdomain.OutcomeCredited
		s.log.Info("credits purchased",
			zap.String("provider", event.Provider.String()),
			zap.String("user_id", purchase.UserID.String()),
			zap.Int64("credits", purchase.Credits),
			zap.Int64("balance", newBalance),
		)
		return result, nil
	case errors.Is(err, ledgerdomain.ErrDuplicateReference):
		s.log.Info("checkout session already credited",
			zap.String("provider", event.Provider.String()),
			zap.String("session_id", purchase.SessionID),
		)
		result.Outcome = paymentdomain.OutcomeAlreadyCredited
		return result, nil
	case errors.Is(err, ledgerdomain.ErrUserNotFound):
		s.log.Warn("checkout completed for unknown user",
			zap.String("provider", event.Provider.String()),
			zap.String("user_id", purchase.UserID.String()),
			zap.String("session_id", purchase.SessionID),
		)
		result.Outcome = paymentdomain.OutcomeUserNotFound
		return result, nil
	default:
		return nil, err
	}
}
