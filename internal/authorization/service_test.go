package authorization

import (
	"context"
	"testing"

	accountdomain "github.com/smallbiznis/creditledger/internal/account/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer()
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeRoleMatrix(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		role    accountdomain.Role
		object  string
		action  string
		allowed bool
	}{
		{accountdomain.RoleUser, ObjectAPIKey, ActionAPIKeyManage, true},
		{accountdomain.RoleUser, ObjectCredits, ActionCreditsAdjust, false},
		{accountdomain.RoleUser, ObjectCache, ActionCacheResync, false},
		{accountdomain.RoleClientAdmin, ObjectCredits, ActionCreditsAdjust, true},
		{accountdomain.RoleClientAdmin, ObjectAPIKey, ActionAPIKeyManage, true},
		{accountdomain.RoleClientAdmin, ObjectDiscount, ActionDiscountManage, false},
		{accountdomain.RoleBusinessAdmin, ObjectDiscount, ActionDiscountManage, true},
		{accountdomain.RoleBusinessAdmin, ObjectCache, ActionCacheResync, true},
		{accountdomain.RoleBusinessAdmin, ObjectCredits, ActionCreditsAdjust, true},
		{accountdomain.RoleBusinessAdmin, ObjectDiscount, ActionDiscountValidate, true},
		{accountdomain.RoleBusinessAdmin, ObjectAudit, ActionAuditView, true},
		{accountdomain.RoleClientAdmin, ObjectAudit, ActionAuditView, false},
	}

	for _, tc := range cases {
		err := svc.Authorize(ctx, accountdomain.Principal{UserID: 1, Role: tc.role}, tc.object, tc.action)
		if tc.allowed {
			assert.NoError(t, err, "%s %s", tc.role, tc.action)
		} else {
			assert.ErrorIs(t, err, ErrForbidden, "%s %s", tc.role, tc.action)
		}
	}
}

func TestAuthorizeRejectsUnknownPrincipal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, accountdomain.Principal{Role: accountdomain.RoleUser}, ObjectAPIKey, ActionAPIKeyManage), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, accountdomain.Principal{UserID: 1, Role: "root"}, ObjectAPIKey, ActionAPIKeyManage), ErrInvalidActor)
}
