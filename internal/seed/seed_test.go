package seed

import (
	"context"
	"testing"

	accountdomain "github.com/smallbiznis/creditledger/internal/account/domain"
	"github.com/smallbiznis/creditledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureBusinessAdminIsIdempotent(t *testing.T) {
	db := testutil.OpenDB(t)
	node := testutil.MustNode(t)
	ctx := context.Background()

	user, created, err := EnsureBusinessAdmin(ctx, db, node, " Ops@Example.com ", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "ops@example.com", user.Email)
	assert.Equal(t, accountdomain.RoleBusinessAdmin, user.Role)
	assert.Equal(t, defaultAdminName, user.Name)

	again, created, err := EnsureBusinessAdmin(ctx, db, node, "ops@example.com", "Other")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, int64(1), testutil.Count(t, db, `SELECT COUNT(*) FROM users`))
}

func TestEnsureBusinessAdminPromotesExistingUser(t *testing.T) {
	db := testutil.OpenDB(t)
	testutil.SeedUser(t, db, testutil.UserSeed{ID: 5, Email: "lead@example.com"})

	user, created, err := EnsureBusinessAdmin(context.Background(), db, testutil.MustNode(t), "lead@example.com", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(5), user.ID.Int64())
	assert.Equal(t, accountdomain.RoleBusinessAdmin, user.Role)

	var role string
	require.NoError(t, db.Raw("SELECT role FROM users WHERE id = ?", 5).Scan(&role).Error)
	assert.Equal(t, "business_admin", role)
}

func TestEnsureBusinessAdminRejectsBadEmail(t *testing.T) {
	_, _, err := EnsureBusinessAdmin(context.Background(), testutil.OpenDB(t), testutil.MustNode(t), "nope", "")
	assert.ErrorIs(t, err, accountdomain.ErrInvalidEmail)
}
