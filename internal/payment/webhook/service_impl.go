package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	"github.com/smallbiznis/creditledger/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/creditledger/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Policy     *config.PolicyHolder `optional:"true"`
	Adapters   *adapters.Registry
	Processor  paymentdomain.Processor
	Repo       paymentdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        config.Config
	policy     *config.PolicyHolder
	adapters   *adapters.Registry
	processor  paymentdomain.Processor
	repo       paymentdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Cfg,
		policy:     p.Policy,
		adapters:   p.Adapters,
		processor:  p.Processor,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

// IngestWebhook verifies, records, and applies one provider delivery. Only
// verification and infrastructure failures return errors; everything else is
// acknowledged with an outcome.
func (s *Service) IngestWebhook(ctx context.Context, provider paymentdomain.Provider, payload []byte, headers http.Header) (*paymentdomain.IngestResult, error) {
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return nil, paymentdomain.ErrProviderNotFound
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		WebhookSecret: s.secretFor(provider),
		Tolerance:     s.policy.Get().SignatureTolerance,
		Now:           s.clock.Now,
	})
	if err != nil {
		return nil, err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, provider.String(), "unknown", "invalid_signature")
		s.log.Warn("payment webhook rejected", zap.String("provider", provider.String()), zap.Error(err))
		return nil, err
	}

	event, err := adapter.Parse(ctx, payload)
	ignored := errors.Is(err, paymentdomain.ErrEventIgnored)
	if err != nil && !ignored {
		s.obsMetrics.RecordPaymentEvent(ctx, provider.String(), "unknown", "invalid_payload")
		return nil, err
	}
	event.Provider = provider
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	recordID, duplicate, err := s.record(ctx, event)
	if err != nil {
		return nil, err
	}
	if duplicate {
		s.obsMetrics.RecordPaymentEvent(ctx, provider.String(), event.Type, string(paymentdomain.OutcomeDuplicateEvent))
		s.log.Info("payment event already processed",
			zap.String("provider", provider.String()),
			zap.String("event_id", event.ProviderEventID),
		)
		return &paymentdomain.IngestResult{
			Provider:  provider,
			EventID:   event.ProviderEventID,
			EventType: event.Type,
			Outcome:   paymentdomain.OutcomeDuplicateEvent,
		}, nil
	}

	var result *paymentdomain.IngestResult
	if ignored {
		result = &paymentdomain.IngestResult{
			Provider:  provider,
			EventID:   event.ProviderEventID,
			EventType: event.Type,
			Outcome:   paymentdomain.OutcomeIgnored,
		}
	} else {
		result, err = s.processor.ProcessEvent(ctx, event)
		if err != nil {
			// The record stays unprocessed so a redelivery can retry it.
			s.obsMetrics.RecordPaymentEvent(ctx, provider.String(), event.Type, "failed")
			return nil, err
		}
	}

	if err := s.repo.MarkProcessed(ctx, s.db, recordID, result.Outcome, s.clock.Now().UTC()); err != nil {
		s.log.Warn("mark payment event processed",
			zap.String("event_id", event.ProviderEventID),
			zap.Error(err),
		)
	}
	s.obsMetrics.RecordPaymentEvent(ctx, provider.String(), event.Type, string(result.Outcome))
	return result, nil
}

// record stores the event once per provider event id. An existing record that
// was never marked processed is handed back for another attempt.
func (s *Service) record(ctx context.Context, event *paymentdomain.PaymentEvent) (snowflake.ID, bool, error) {
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider.String(),
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      s.clock.Now().UTC(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return 0, false, err
	}
	if inserted {
		return record.ID, false, nil
	}

	existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
	if err != nil {
		return 0, false, err
	}
	if existing == nil {
		return 0, false, errors.New("payment_event_vanished")
	}
	if existing.ProcessedAt != nil {
		return existing.ID, true, nil
	}
	return existing.ID, false, nil
}

func (s *Service) secretFor(provider paymentdomain.Provider) string {
	switch provider {
	case paymentdomain.ProviderStripe:
		return s.cfg.Stripe.WebhookSecret
	default:
		return ""
	}
}
