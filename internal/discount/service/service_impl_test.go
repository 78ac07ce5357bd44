package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/creditledger/internal/clock"
	discountdomain "github.com/smallbiznis/creditledger/internal/discount/domain"
	"github.com/smallbiznis/creditledger/internal/discount/repository"
	"github.com/smallbiznis/creditledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	svc   discountdomain.Service
	clock *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn := testutil.OpenDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: testutil.MustNode(t),
		Clock: fake,
		Repo:  repository.Provide(),
	})
	return &fixture{db: conn, svc: svc, clock: fake}
}

func int64Ptr(v int64) *int64 { return &v }

func TestValidatePercentageCode(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), discountdomain.CreateRequest{
		Code:              "spring20",
		DiscountType:      "percentage",
		DiscountValue:     20,
		MaxDiscountAmount: int64Ptr(1000),
	})
	require.NoError(t, err)

	res, err := f.svc.Validate(context.Background(), "SPRING20", 2500)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Equal(t, int64(500), res.DiscountAmount)
	assert.Equal(t, int64(2000), res.FinalAmount)

	res, err = f.svc.Validate(context.Background(), "spring20", 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.DiscountAmount)
}

func TestValidateRejectsExhaustedCode(t *testing.T) {
	f := newFixture(t)
	code, err := f.svc.Create(context.Background(), discountdomain.CreateRequest{
		Code:          "ONCE",
		DiscountType:  "fixed",
		DiscountValue: 100,
		MaxUses:       int64Ptr(1),
	})
	require.NoError(t, err)

	_, err = f.svc.Redeem(context.Background(), code.ID)
	require.NoError(t, err)

	res, err := f.svc.Validate(context.Background(), "ONCE", 1000)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Zero(t, res.DiscountAmount)
	assert.Equal(t, discountdomain.InvalidCodeMessage, res.ErrorMessage)
}

func TestValidateRejectsExpiredAndUnknownCodes(t *testing.T) {
	f := newFixture(t)
	expires := f.clock.Now().Add(time.Hour)
	_, err := f.svc.Create(context.Background(), discountdomain.CreateRequest{
		Code:              "LATER",
		DiscountType:      "fixed",
		DiscountValue:     100,
		MinPurchaseAmount: 500,
		ExpiresAt:         &expires,
	})
	require.NoError(t, err)

	res, err := f.svc.Validate(context.Background(), "LATER", 400)
	require.NoError(t, err)
	assert.False(t, res.IsValid, "below minimum purchase")

	res, err = f.svc.Validate(context.Background(), "LATER", 600)
	require.NoError(t, err)
	assert.True(t, res.IsValid)

	f.clock.Advance(2 * time.Hour)
	res, err = f.svc.Validate(context.Background(), "LATER", 600)
	require.NoError(t, err)
	assert.False(t, res.IsValid)

	res, err = f.svc.Validate(context.Background(), "NOPE", 600)
	require.NoError(t, err)
	assert.False(t, res.IsValid)

	_, err = f.svc.Validate(context.Background(), "LATER", -1)
	assert.ErrorIs(t, err, discountdomain.ErrInvalidAmount)
}

func TestCreateValidationAndConflict(t *testing.T) {
	f := newFixture(t)
	req := discountdomain.CreateRequest{Code: "WELCOME", DiscountType: "fixed", DiscountValue: 100}

	_, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)

	dup := req
	dup.Code = "welcome"
	_, err = f.svc.Create(context.Background(), dup)
	assert.ErrorIs(t, err, discountdomain.ErrCodeTaken)

	bad := []discountdomain.CreateRequest{
		{Code: "x", DiscountType: "fixed", DiscountValue: 1},
		{Code: "VALID1", DiscountType: "bogus", DiscountValue: 1},
		{Code: "VALID2", DiscountType: "fixed", DiscountValue: 0},
		{Code: "VALID3", DiscountType: "percentage", DiscountValue: 120},
		{Code: "VALID4", DiscountType: "fixed", DiscountValue: 1, MaxUses: int64Ptr(0)},
	}
	for _, r := range bad {
		_, err := f.svc.Create(context.Background(), r)
		assert.Error(t, err, r.Code)
	}

	codes, err := f.svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, codes, 1)
}

func TestRedeemRespectsCapUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	code, err := f.svc.Create(context.Background(), discountdomain.CreateRequest{
		Code:          "LIMITED",
		DiscountType:  "fixed",
		DiscountValue: 100,
		MaxUses:       int64Ptr(3),
	})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Redeem(context.Background(), code.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, discountdomain.ErrCodeExhausted):
				exhausted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 7, exhausted)
	assert.Equal(t, int64(3), testutil.Count(t, f.db, `SELECT current_uses FROM discount_codes WHERE id = ?`, code.ID))

	_, err = f.svc.Redeem(context.Background(), 12345)
	assert.ErrorIs(t, err, discountdomain.ErrNotFound)
}
