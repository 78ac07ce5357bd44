package authorization

import (
	"context"
	_ "embed"
	"errors"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	accountdomain "github.com/smallbiznis/creditledger/internal/account/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed model.conf
var modelText string

const (
	ObjectCredits  = "credits"
	ObjectAPIKey   = "api_key"
	ObjectDiscount = "discount"
	ObjectCache    = "cache"
	ObjectUser     = "user"
	ObjectUsage    = "usage"
	ObjectAudit    = "audit"
)

const (
	ActionCreditsView   = "credits.view"
	ActionCreditsAdjust = "credits.adjust"

	ActionAPIKeyManage = "api_key.manage"

	ActionDiscountValidate = "discount.validate"
	ActionDiscountManage   = "discount.manage"

	ActionCacheResync = "cache.resync"

	ActionUserManage = "user.manage"

	ActionUsageView = "usage.view"

	ActionAuditView = "audit.view"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidActor = errors.New("invalid_actor")
)

type Service interface {
	Authorize(ctx context.Context, principal accountdomain.Principal, object string, action string) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, principal accountdomain.Principal, object string, action string) error {
	if principal.UserID == 0 {
		return ErrInvalidActor
	}
	subject, err := subjectFor(principal.Role)
	if err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("user_id", principal.UserID.String()),
			zap.String("role", principal.Role.String()),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func subjectFor(role accountdomain.Role) (string, error) {
	switch role {
	case accountdomain.RoleUser, accountdomain.RoleClientAdmin, accountdomain.RoleBusinessAdmin:
		return "role:" + string(role), nil
	default:
		return "", ErrInvalidActor
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Self-service
		{"role:user", ObjectCredits, ActionCreditsView},
		{"role:user", ObjectAPIKey, ActionAPIKeyManage},
		{"role:user", ObjectDiscount, ActionDiscountValidate},

		// Client admins manage their own sub-accounts
		{"role:client_admin", ObjectCredits, ActionCreditsAdjust},
		{"role:client_admin", ObjectUser, ActionUserManage},

		// Business admins run the platform
		{"role:business_admin", ObjectDiscount, ActionDiscountManage},
		{"role:business_admin", ObjectCache, ActionCacheResync},
		{"role:business_admin", ObjectUsage, ActionUsageView},
		{"role:business_admin", ObjectAudit, ActionAuditView},
	}
	if _, err := enforcer.AddPolicies(policies); err != nil {
		return err
	}

	groupings := [][]string{
		{"role:client_admin", "role:user"},
		{"role:business_admin", "role:client_admin"},
	}
	_, err := enforcer.AddGroupingPolicies(groupings)
	return err
}
