package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/creditledger/internal/account/domain"
	"github.com/smallbiznis/creditledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	"github.com/smallbiznis/creditledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   accountdomain.Repository
	Ledger ledgerdomain.Service
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   accountdomain.Repository
	ledger ledgerdomain.Service
}

func New(p Params) accountdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("account.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		ledger: p.Ledger,
	}
}

func (s *Service) Create(ctx context.Context, req accountdomain.CreateRequest) (*accountdomain.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, accountdomain.ErrInvalidEmail
	}

	role := accountdomain.RoleUser
	if strings.TrimSpace(req.Role) != "" {
		parsed, err := accountdomain.ParseRole(req.Role)
		if err != nil {
			return nil, accountdomain.ErrInvalidRole
		}
		role = parsed
	}
	if req.InitialCredits < 0 {
		return nil, accountdomain.ErrInvalidCredits
	}

	if req.ParentUserID != nil {
		parent, err := s.repo.FindByID(ctx, s.db, *req.ParentUserID)
		if err != nil {
			return nil, err
		}
		if parent == nil || !parent.Role.IsAdmin() {
			return nil, accountdomain.ErrInvalidParent
		}
	}

	canPurchase := true
	if req.CanPurchaseCredits != nil {
		canPurchase = *req.CanPurchaseCredits
	}

	now := s.clock.Now()
	user := &accountdomain.User{
		ID:                 s.genID.Generate(),
		Email:              email,
		Name:               strings.TrimSpace(req.Name),
		Company:            optionalString(req.Company),
		Role:               role,
		ParentUserID:       req.ParentUserID,
		CanPurchaseCredits: canPurchase,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.Insert(ctx, s.db, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, accountdomain.ErrEmailTaken
		}
		return nil, err
	}

	// Opening balances go through the ledger so the audit trail reconstructs them.
	if req.InitialCredits > 0 {
		balance, err := s.ledger.CreditUser(ctx, user.ID, req.InitialCredits, ledgerdomain.TxContext{
			Description: "Initial credits",
			Metadata:    map[string]any{"source": "account_creation"},
		})
		if err != nil {
			return nil, err
		}
		user.Credits = balance.NewBalance
	}

	s.log.Info("user created",
		zap.String("user_id", user.ID.String()),
		zap.String("role", role.String()),
	)
	return user, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*accountdomain.User, error) {
	if id == 0 {
		return nil, accountdomain.ErrNotFound
	}
	user, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, accountdomain.ErrNotFound
	}
	return user, nil
}

func (s *Service) ListManaged(ctx context.Context, adminID snowflake.ID) ([]accountdomain.User, error) {
	admin, err := s.Get(ctx, adminID)
	if err != nil {
		return nil, err
	}

	switch admin.Role {
	case accountdomain.RoleBusinessAdmin:
		return s.repo.ListAll(ctx, s.db)
	case accountdomain.RoleClientAdmin:
		return s.repo.ListByParentOrCompany(ctx, s.db, admin.ID, admin.Company)
	case accountdomain.RoleUser:
		return []accountdomain.User{*admin}, nil
	default:
		return nil, accountdomain.ErrInvalidRole
	}
}

// CanManage reports whether actor may act on target's account.
func (s *Service) CanManage(actor, target *accountdomain.User) bool {
	if actor == nil || target == nil {
		return false
	}
	if actor.ID == target.ID {
		return true
	}

	switch actor.Role {
	case accountdomain.RoleBusinessAdmin:
		return true
	case accountdomain.RoleClientAdmin:
		// Other admins are out of reach even inside the same company.
		if target.Role != accountdomain.RoleUser {
			return false
		}
		if target.ParentUserID != nil && *target.ParentUserID == actor.ID {
			return true
		}
		return actor.Company != nil && target.Company != nil &&
			*actor.Company != "" && *actor.Company == *target.Company
	case accountdomain.RoleUser:
		return false
	default:
		return false
	}
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
