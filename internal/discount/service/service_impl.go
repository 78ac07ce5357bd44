package service

import (
	"context"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditledger/internal/clock"
	discountdomain "github.com/smallbiznis/creditledger/internal/discount/domain"
	"github.com/smallbiznis/creditledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  discountdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  discountdomain.Repository
}

func New(p Params) discountdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("discount.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Validate never fails for an unusable code; the answer carries isValid=false.
func (s *Service) Validate(ctx context.Context, code string, amount int64) (*discountdomain.Validation, error) {
	if amount < 0 {
		return nil, discountdomain.ErrInvalidAmount
	}
	invalid := &discountdomain.Validation{
		IsValid:      false,
		FinalAmount:  amount,
		ErrorMessage: discountdomain.InvalidCodeMessage,
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return invalid, nil
	}

	item, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if item == nil || !item.Usable(amount, s.clock.Now()) {
		return invalid, nil
	}

	discount := item.DiscountFor(amount)
	return &discountdomain.Validation{
		IsValid:        true,
		DiscountAmount: discount,
		FinalAmount:    amount - discount,
		DiscountCode:   item,
	}, nil
}

func (s *Service) Create(ctx context.Context, req discountdomain.CreateRequest) (*discountdomain.DiscountCode, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if !codePattern.MatchString(code) {
		return nil, discountdomain.ErrInvalidCode
	}
	discountType, err := discountdomain.ParseDiscountType(req.DiscountType)
	if err != nil {
		return nil, err
	}
	if req.DiscountValue <= 0 {
		return nil, discountdomain.ErrInvalidDiscountValue
	}
	if discountType == discountdomain.DiscountTypePercentage && req.DiscountValue > 100 {
		return nil, discountdomain.ErrInvalidDiscountValue
	}
	if req.MinPurchaseAmount < 0 ||
		(req.MaxUses != nil && *req.MaxUses <= 0) ||
		(req.MaxDiscountAmount != nil && *req.MaxDiscountAmount <= 0) {
		return nil, discountdomain.ErrInvalidLimits
	}

	now := s.clock.Now().UTC()
	item := &discountdomain.DiscountCode{
		ID:                s.genID.Generate(),
		Code:              code,
		DiscountType:      discountType,
		DiscountValue:     req.DiscountValue,
		MaxUses:           req.MaxUses,
		MinPurchaseAmount: req.MinPurchaseAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		ExpiresAt:         req.ExpiresAt,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, s.db, item); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, discountdomain.ErrCodeTaken
		}
		return nil, err
	}

	s.log.Info("discount code created",
		zap.String("discount_id", item.ID.String()),
		zap.String("code", item.Code),
		zap.String("type", string(item.DiscountType)),
	)
	return item, nil
}

func (s *Service) List(ctx context.Context) ([]discountdomain.DiscountCode, error) {
	return s.repo.List(ctx, s.db)
}

// Redeem consumes one use. The cap is enforced by the update itself.
func (s *Service) Redeem(ctx context.Context, id snowflake.ID) (*discountdomain.DiscountCode, error) {
	if id == 0 {
		return nil, discountdomain.ErrNotFound
	}

	var item *discountdomain.DiscountCode
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.IncrementUses(ctx, tx, id, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return discountdomain.ErrNotFound
		}
		if !ok {
			return discountdomain.ErrCodeExhausted
		}
		item = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}
