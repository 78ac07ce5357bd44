package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apikeydomain "github.com/smallbiznis/creditledger/internal/apikey/domain"
	"github.com/smallbiznis/creditledger/internal/cachesync"
	"github.com/smallbiznis/creditledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	"github.com/smallbiznis/creditledger/internal/usage/liveevents"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultStatsWindow = 24 * time.Hour
	defaultTopUsers    = 10
	maxTopUsers        = 100
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       usagedomain.Repository
	APIKeys    apikeydomain.Service
	Ledger     ledgerdomain.Service
	LiveEvents *liveevents.Hub     `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       usagedomain.Repository
	apikeys    apikeydomain.Service
	ledger     ledgerdomain.Service
	liveEvents *liveevents.Hub
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) usagedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		apikeys:    p.APIKeys,
		ledger:     p.Ledger,
		liveEvents: p.LiveEvents,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Report(ctx context.Context, req usagedomain.ReportRequest) (*usagedomain.ReportResult, error) {
	req.APIKey = strings.TrimSpace(req.APIKey)
	if req.APIKey == "" || req.CreditsUsed <= 0 {
		s.obsMetrics.RecordUsageReport(ctx, "invalid", 0)
		return nil, usagedomain.ErrInvalidUsage
	}
	normalize(&req)

	key, err := s.apikeys.FindByKey(ctx, req.APIKey)
	if err != nil {
		if errors.Is(err, apikeydomain.ErrNotFound) {
			s.obsMetrics.RecordUsageReport(ctx, "key_not_found", 0)
			return nil, usagedomain.ErrKeyNotFound
		}
		return nil, err
	}
	if !key.IsActive {
		s.log.Info("usage reported against inactive key",
			zap.String("key_id", key.ID.String()),
			zap.String("user_id", key.UserID.String()),
		)
	}

	keyID := key.ID
	balance, err := s.ledger.DebitUser(ctx, key.UserID, req.CreditsUsed,
		ledgerdomain.TxContext{
			Description: fmt.Sprintf("API usage: %s", req.Endpoint),
			APIKeyID:    &keyID,
			Metadata: map[string]any{
				"endpoint":   req.Endpoint,
				"apiService": req.APIService,
				"queryType":  req.QueryType,
			},
		},
		&ledgerdomain.UsageContext{
			APIKeyID:       key.ID,
			Endpoint:       req.Endpoint,
			APIService:     req.APIService,
			QueryType:      req.QueryType,
			Status:         req.Status,
			ResponseTimeMs: req.ResponseTimeMs,
			Metadata:       req.Metadata,
		},
	)
	if err != nil {
		if insufficient, ok := ledgerdomain.IsInsufficientCredits(err); ok {
			s.obsMetrics.RecordUsageReport(ctx, "insufficient_credits", 0)
			s.log.Info("usage rejected, insufficient credits",
				zap.String("user_id", key.UserID.String()),
				zap.String("api_key", cachesync.MaskKey(key.Key)),
				zap.Int64("credits_used", req.CreditsUsed),
			)
			s.publish(key.UserID.String(), key.Key, req, insufficient.CurrentCredits, liveevents.StatusRejected)
			return nil, err
		}
		switch {
		case errors.Is(err, ledgerdomain.ErrUserNotFound):
			s.obsMetrics.RecordUsageReport(ctx, "user_not_found", 0)
			return nil, usagedomain.ErrUserNotFound
		default:
			return nil, err
		}
	}

	s.apikeys.TouchLastUsed(ctx, key.ID)
	s.obsMetrics.RecordUsageReport(ctx, "recorded", req.CreditsUsed)
	s.publish(key.UserID.String(), key.Key, req, balance.NewBalance, liveevents.StatusRecorded)

	return &usagedomain.ReportResult{
		RemainingCredits: balance.NewBalance,
		CreditsUsed:      req.CreditsUsed,
		Endpoint:         req.Endpoint,
		QueryType:        req.QueryType,
		UsageDateTime:    s.clock.Now().UTC(),
	}, nil
}

func (s *Service) publish(userID, key string, req usagedomain.ReportRequest, remaining int64, status string) {
	if s.liveEvents == nil {
		return
	}
	s.liveEvents.Publish(userID, liveevents.LiveEvent{
		UserID:           userID,
		APIKey:           cachesync.MaskKey(key),
		Endpoint:         req.Endpoint,
		QueryType:        req.QueryType,
		CreditsUsed:      req.CreditsUsed,
		RemainingCredits: remaining,
		RecordedAt:       s.clock.Now().UTC().Format(time.RFC3339Nano),
		Status:           status,
	})
}

func (s *Service) Stats(ctx context.Context, window time.Duration, topN int) (*usagedomain.Stats, error) {
	if window <= 0 {
		window = defaultStatsWindow
	}
	if topN <= 0 {
		topN = defaultTopUsers
	}
	if topN > maxTopUsers {
		topN = maxTopUsers
	}
	since := s.clock.Now().Add(-window)

	requests, credits, err := s.repo.Totals(ctx, s.db, since)
	if err != nil {
		return nil, err
	}
	byType, err := s.repo.ByQueryType(ctx, s.db, since)
	if err != nil {
		return nil, err
	}
	top, err := s.repo.TopUsers(ctx, s.db, since, topN)
	if err != nil {
		return nil, err
	}

	return &usagedomain.Stats{
		Since:         since.UTC(),
		TotalRequests: requests,
		TotalCredits:  credits,
		ByQueryType:   byType,
		TopUsers:      top,
	}, nil
}

func normalize(req *usagedomain.ReportRequest) {
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Endpoint == "" {
		if v, ok := req.Metadata["endpoint"].(string); ok {
			req.Endpoint = strings.TrimSpace(v)
		}
	}
	if req.Endpoint == "" {
		req.Endpoint = usagedomain.DefaultEndpoint
	}
	req.APIService = strings.TrimSpace(req.APIService)
	if req.APIService == "" {
		req.APIService = usagedomain.DefaultAPIService
	}
	req.QueryType = strings.TrimSpace(req.QueryType)
	if req.QueryType == "" {
		req.QueryType = usagedomain.DefaultQueryType
	}
	req.Status = strings.TrimSpace(req.Status)
	if req.Status == "" {
		req.Status = "success"
	}
}
