package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
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
	Repo       ledgerdomain.Repository
	Policy     *config.PolicyHolder           `optional:"true"`
	Propagator ledgerdomain.BalancePropagator `optional:"true"`
	ObsMetrics *obsmetrics.Metrics            `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	policy     *config.PolicyHolder
	propagator ledgerdomain.BalancePropagator
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		policy:     p.Policy,
		propagator: p.Propagator,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreditUser(ctx context.Context, userID snowflake.ID, amount int64, txCtx ledgerdomain.TxContext) (*ledgerdomain.Balance, error) {
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	description := strings.TrimSpace(txCtx.Description)
	if description == "" {
		description = "Credit purchase"
	}
	return s.applyCredit(ctx, userID, amount, ledgerdomain.TransactionTypePurchase, description, txCtx)
}

func (s *Service) DebitUser(ctx context.Context, userID snowflake.ID, amount int64, txCtx ledgerdomain.TxContext, usage *ledgerdomain.UsageContext) (*ledgerdomain.Balance, error) {
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	description := strings.TrimSpace(txCtx.Description)
	if description == "" {
		description = "API usage"
	}
	return s.applyDebit(ctx, userID, amount, description, txCtx, usage)
}

func (s *Service) AdjustCredits(ctx context.Context, req ledgerdomain.AdjustRequest) (*ledgerdomain.Balance, error) {
	if req.TargetUserID == 0 || req.AdminUserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if req.Amount == 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	metadata := map[string]any{
		"source":     "admin_adjustment",
		"adjustedBy": req.AdminUserID.String(),
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		metadata["reason"] = reason
	}
	txCtx := ledgerdomain.TxContext{Metadata: metadata}

	if req.Amount > 0 {
		return s.applyCredit(ctx, req.TargetUserID, req.Amount, ledgerdomain.TransactionTypePurchase, "Admin credit adjustment", txCtx)
	}
	return s.applyDebit(ctx, req.TargetUserID, -req.Amount, "Admin debit adjustment", txCtx, nil)
}

func (s *Service) TransferCredits(ctx context.Context, req ledgerdomain.TransferRequest) (*ledgerdomain.Transfer, error) {
	if req.FromUserID == 0 || req.ToUserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if req.FromUserID == req.ToUserID {
		return nil, ledgerdomain.ErrSelfTransfer
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	metadata := map[string]any{
		"source":     "allocation",
		"fromUserId": req.FromUserID.String(),
		"toUserId":   req.ToUserID.String(),
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		metadata["reason"] = reason
	}
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	debit := &ledgerdomain.Transaction{
		ID:          s.genID.Generate(),
		UserID:      req.FromUserID,
		Type:        ledgerdomain.TransactionTypeUsage,
		Amount:      -req.Amount,
		Description: fmt.Sprintf("Credits allocated to user %s", req.ToUserID),
		Status:      ledgerdomain.TransactionStatusSuccess,
		Metadata:    encoded,
		CreatedAt:   now,
	}
	credit := &ledgerdomain.Transaction{
		ID:          s.genID.Generate(),
		UserID:      req.ToUserID,
		Type:        ledgerdomain.TransactionTypePurchase,
		Amount:      req.Amount,
		Description: fmt.Sprintf("Credits allocated by admin %s", req.FromUserID),
		Status:      ledgerdomain.TransactionStatusSuccess,
		Metadata:    encoded,
		CreatedAt:   now,
	}

	var sourceBalance, targetBalance int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		newSource, ok, err := s.repo.DecrementCredits(ctx, tx, req.FromUserID, req.Amount, now)
		if err != nil {
			return err
		}
		if !ok {
			row, err := s.repo.FindBalance(ctx, tx, req.FromUserID)
			if err != nil {
				return err
			}
			if row == nil {
				return ledgerdomain.ErrUserNotFound
			}
			return &ledgerdomain.InsufficientPoolError{Available: row.Credits, Requested: req.Amount}
		}

		newTarget, ok, err := s.repo.IncrementCredits(ctx, tx, req.ToUserID, req.Amount, now)
		if err != nil {
			return err
		}
		if !ok {
			return ledgerdomain.ErrUserNotFound
		}

		for _, record := range []*ledgerdomain.Transaction{debit, credit} {
			if _, err := s.repo.InsertTransaction(ctx, tx, record); err != nil {
				return err
			}
		}

		sourceBalance, targetBalance = newSource, newTarget
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, req.FromUserID, debit, sourceBalance)
	s.committed(ctx, req.ToUserID, credit, targetBalance)
	return &ledgerdomain.Transfer{
		Source: &ledgerdomain.Balance{UserID: req.FromUserID, NewBalance: sourceBalance, TransactionID: debit.ID},
		Target: &ledgerdomain.Balance{UserID: req.ToUserID, NewBalance: targetBalance, TransactionID: credit.ID},
	}, nil
}

func (s *Service) applyCredit(ctx context.Context, userID snowflake.ID, amount int64, txType ledgerdomain.TransactionType, description string, txCtx ledgerdomain.TxContext) (*ledgerdomain.Balance, error) {
	metadata, err := encodeMetadata(txCtx.Metadata)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	record := &ledgerdomain.Transaction{
		ID:          s.genID.Generate(),
		UserID:      userID,
		APIKeyID:    txCtx.APIKeyID,
		Type:        txType,
		Amount:      amount,
		Description: description,
		Status:      ledgerdomain.TransactionStatusSuccess,
		Reference:   referencePtr(txCtx.Reference),
		Metadata:    metadata,
		CreatedAt:   now,
	}

	var balance int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		newBalance, ok, err := s.repo.IncrementCredits(ctx, tx, userID, amount, now)
		if err != nil {
			return err
		}
		if !ok {
			return ledgerdomain.ErrUserNotFound
		}

		inserted, err := s.repo.InsertTransaction(ctx, tx, record)
		if err != nil {
			return err
		}
		if !inserted {
			return ledgerdomain.ErrDuplicateReference
		}

		balance = newBalance
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, userID, record, balance)
	return &ledgerdomain.Balance{UserID: userID, NewBalance: balance, TransactionID: record.ID}, nil
}

func (s *Service) applyDebit(ctx context.Context, userID snowflake.ID, amount int64, description string, txCtx ledgerdomain.TxContext, usage *ledgerdomain.UsageContext) (*ledgerdomain.Balance, error) {
	metadata, err := encodeMetadata(txCtx.Metadata)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	apiKeyID := txCtx.APIKeyID
	if apiKeyID == nil && usage != nil && usage.APIKeyID != 0 {
		id := usage.APIKeyID
		apiKeyID = &id
	}
	record := &ledgerdomain.Transaction{
		ID:          s.genID.Generate(),
		UserID:      userID,
		APIKeyID:    apiKeyID,
		Type:        ledgerdomain.TransactionTypeUsage,
		Amount:      -amount,
		Description: description,
		Status:      ledgerdomain.TransactionStatusSuccess,
		Reference:   referencePtr(txCtx.Reference),
		Metadata:    metadata,
		CreatedAt:   now,
	}

	var usageRow *ledgerdomain.APIUsage
	if usage != nil {
		usageRow, err = s.buildUsage(userID, amount, usage, now)
		if err != nil {
			return nil, err
		}
	}

	var balance int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Single guarded statement; concurrent debits cannot overdraw.
		newBalance, ok, err := s.repo.DecrementCredits(ctx, tx, userID, amount, now)
		if err != nil {
			return err
		}
		if !ok {
			row, err := s.repo.FindBalance(ctx, tx, userID)
			if err != nil {
				return err
			}
			if row == nil {
				return ledgerdomain.ErrUserNotFound
			}
			return &ledgerdomain.InsufficientCreditsError{CurrentCredits: row.Credits, Required: amount}
		}

		inserted, err := s.repo.InsertTransaction(ctx, tx, record)
		if err != nil {
			return err
		}
		if !inserted {
			return ledgerdomain.ErrDuplicateReference
		}

		if usageRow != nil {
			if err := s.repo.InsertUsage(ctx, tx, usageRow); err != nil {
				return err
			}
		}

		balance = newBalance
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, userID, record, balance)
	return &ledgerdomain.Balance{UserID: userID, NewBalance: balance, TransactionID: record.ID}, nil
}

func (s *Service) buildUsage(userID snowflake.ID, amount int64, usage *ledgerdomain.UsageContext, now time.Time) (*ledgerdomain.APIUsage, error) {
	metadata, err := encodeMetadata(usage.Metadata)
	if err != nil {
		return nil, err
	}
	status := strings.TrimSpace(usage.Status)
	if status == "" {
		status = "success"
	}
	return &ledgerdomain.APIUsage{
		ID:             s.genID.Generate(),
		UserID:         userID,
		APIKeyID:       usage.APIKeyID,
		Endpoint:       usage.Endpoint,
		APIService:     usage.APIService,
		QueryType:      usage.QueryType,
		CreditsUsed:    amount,
		Status:         status,
		ResponseTimeMs: usage.ResponseTimeMs,
		Metadata:       metadata,
		CreatedAt:      now,
	}, nil
}

// committed runs after the database commit. Nothing here can fail the mutation.
func (s *Service) committed(ctx context.Context, userID snowflake.ID, record *ledgerdomain.Transaction, balance int64) {
	s.obsMetrics.RecordLedgerMutation(ctx, string(record.Type))
	s.log.Info("ledger mutation committed",
		zap.String("user_id", userID.String()),
		zap.String("transaction_id", record.ID.String()),
		zap.String("type", string(record.Type)),
		zap.Int64("amount", record.Amount),
		zap.Int64("balance", balance),
	)
	if s.propagator != nil {
		s.propagator.PropagateUser(ctx, userID)
	}
}

func (s *Service) CheckThreshold(ctx context.Context, userID snowflake.ID) (*ledgerdomain.ThresholdStatus, error) {
	row, err := s.repo.FindBalance(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ledgerdomain.ErrUserNotFound
	}

	percent := int64(s.policy.Get().LowBalancePercent)
	status := &ledgerdomain.ThresholdStatus{
		CurrentCredits: row.Credits,
		Threshold:      row.CreditThreshold,
	}
	if row.CreditThreshold != nil && belowThreshold(row.Credits, *row.CreditThreshold, percent) {
		status.BelowThreshold = true
	}
	return status, nil
}

// belowThreshold reports credits <= threshold * percent / 100 without overflowing int64.
func belowThreshold(credits, threshold, percent int64) bool {
	limit := new(big.Int).Mul(big.NewInt(threshold), big.NewInt(percent))
	scaled := new(big.Int).Mul(big.NewInt(credits), big.NewInt(100))
	return scaled.Cmp(limit) <= 0
}

func (s *Service) HasActiveGracePeriod(ctx context.Context, userID snowflake.ID) (bool, error) {
	row, err := s.repo.FindBalance(ctx, s.db, userID)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, ledgerdomain.ErrUserNotFound
	}
	return row.GracePeriodEnd != nil && s.clock.Now().Before(*row.GracePeriodEnd), nil
}

func (s *Service) SetCreditThreshold(ctx context.Context, actorID, userID snowflake.ID, threshold *int64) error {
	if threshold != nil && *threshold < 0 {
		return ledgerdomain.ErrInvalidThreshold
	}

	metadata := map[string]any{"setting": "credit_threshold", "changedBy": actorID.String()}
	description := "Credit threshold cleared"
	if threshold != nil {
		metadata["threshold"] = *threshold
		description = "Credit threshold updated"
	}

	return s.recordSetting(ctx, userID, description, metadata, func(tx *gorm.DB, now time.Time) (bool, error) {
		return s.repo.UpdateThreshold(ctx, tx, userID, threshold, now)
	})
}

func (s *Service) SetGracePeriod(ctx context.Context, actorID, userID snowflake.ID, days *int) (*time.Time, error) {
	now := s.clock.Now()

	var end *time.Time
	metadata := map[string]any{"setting": "grace_period", "changedBy": actorID.String()}
	description := "Grace period cleared"
	if days != nil {
		maxDays := s.policy.Get().MaxGracePeriodDays
		if *days <= 0 || *days > maxDays {
			return nil, ledgerdomain.ErrInvalidGracePeriod
		}
		until := now.Add(time.Duration(*days) * 24 * time.Hour)
		end = &until
		metadata["days"] = *days
		metadata["gracePeriodEnd"] = until.Format(time.RFC3339)
		description = "Grace period granted"
	}

	err := s.recordSetting(ctx, userID, description, metadata, func(tx *gorm.DB, now time.Time) (bool, error) {
		return s.repo.UpdateGracePeriod(ctx, tx, userID, end, now)
	})
	if err != nil {
		return nil, err
	}
	return end, nil
}

// recordSetting applies a non-balance change and logs it as an info transaction of amount 0.
func (s *Service) recordSetting(ctx context.Context, userID snowflake.ID, description string, metadata map[string]any, apply func(tx *gorm.DB, now time.Time) (bool, error)) error {
	if userID == 0 {
		return ledgerdomain.ErrInvalidUser
	}
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	record := &ledgerdomain.Transaction{
		ID:          s.genID.Generate(),
		UserID:      userID,
		Type:        ledgerdomain.TransactionTypeInfo,
		Amount:      0,
		Description: description,
		Status:      ledgerdomain.TransactionStatusSuccess,
		Metadata:    encoded,
		CreatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := apply(tx, now)
		if err != nil {
			return err
		}
		if !found {
			return ledgerdomain.ErrUserNotFound
		}
		_, err = s.repo.InsertTransaction(ctx, tx, record)
		return err
	})
	if err != nil {
		return err
	}

	s.obsMetrics.RecordLedgerMutation(ctx, string(record.Type))
	return nil
}

func (s *Service) ListTransactions(ctx context.Context, userID snowflake.ID, page pagination.Pagination) ([]*ledgerdomain.Transaction, *pagination.PageInfo, error) {
	beforeID, err := page.AfterID()
	if err != nil {
		return nil, nil, err
	}
	limit := page.Limit()
	items, err := s.repo.ListTransactions(ctx, s.db, userID, beforeID, limit+1)
	if err != nil {
		return nil, nil, err
	}
	items, info := pagination.BuildCursorPageInfo(items, limit, func(t *ledgerdomain.Transaction) int64 { return t.ID.Int64() })
	return items, info, nil
}

func (s *Service) ListUsage(ctx context.Context, userID snowflake.ID, page pagination.Pagination) ([]*ledgerdomain.APIUsage, *pagination.PageInfo, error) {
	beforeID, err := page.AfterID()
	if err != nil {
		return nil, nil, err
	}
	limit := page.Limit()
	items, err := s.repo.ListUsage(ctx, s.db, userID, beforeID, limit+1)
	if err != nil {
		return nil, nil, err
	}
	items, info := pagination.BuildCursorPageInfo(items, limit, func(u *ledgerdomain.APIUsage) int64 { return u.ID.Int64() })
	return items, info, nil
}

func (s *Service) ReconstructBalance(ctx context.Context, userID snowflake.ID) (*ledgerdomain.Reconstruction, error) {
	var result *ledgerdomain.Reconstruction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.repo.FindBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		if row == nil {
			return ledgerdomain.ErrUserNotFound
		}
		sum, err := s.repo.SumTransactions(ctx, tx, userID)
		if err != nil {
			return err
		}
		result = &ledgerdomain.Reconstruction{
			UserID:      userID,
			LiveCredits: row.Credits,
			LedgerSum:   sum,
			Consistent:  row.Credits == sum,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Consistent {
		s.log.Warn("ledger reconstruction mismatch",
			zap.String("user_id", userID.String()),
			zap.Int64("live_credits", result.LiveCredits),
			zap.Int64("ledger_sum", result.LedgerSum),
		)
	}
	return result, nil
}

func encodeMetadata(metadata map[string]any) (datatypes.JSON, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func referencePtr(reference string) *string {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil
	}
	return &reference
}
