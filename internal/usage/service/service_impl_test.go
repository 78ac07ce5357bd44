package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	apikeyrepo "github.com/smallbiznis/creditledger/internal/apikey/repository"
	apikeyservice "github.com/smallbiznis/creditledger/internal/apikey/service"
	"github.com/smallbiznis/creditledger/internal/cachesync"
	cachemock "github.com/smallbiznis/creditledger/internal/cachesync/mock"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/creditledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/creditledger/internal/ledger/service"
	"github.com/smallbiznis/creditledger/internal/testutil"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	"github.com/smallbiznis/creditledger/internal/usage/liveevents"
	"github.com/smallbiznis/creditledger/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	svc   usagedomain.Service
	clock *clock.FakeClock
	hub   *liveevents.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn := testutil.OpenDB(t)
	node := testutil.MustNode(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cache := cachemock.NewMockClient(gomock.NewController(t))

	ledger := ledgerservice.New(ledgerservice.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fake,
		Repo:   ledgerrepo.Provide(),
		Policy: config.NewStaticPolicyHolder(config.DefaultLedgerPolicy()),
	})
	keys := apikeyservice.New(apikeyservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  apikeyrepo.Provide(),
		Cache: cache,
		Propagator: cachesync.NewPropagator(cachesync.PropagatorParams{
			DB:     conn,
			Log:    zap.NewNop(),
			Client: cache,
			Repo:   cachesync.NewRepository(),
		}),
	})

	hub := liveevents.NewHub()
	svc := New(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		Clock:      fake,
		Repo:       repository.Provide(),
		APIKeys:    keys,
		Ledger:     ledger,
		LiveEvents: hub,
	})
	return &fixture{db: conn, svc: svc, clock: fake, hub: hub}
}

func TestReportDebitsAndRecordsUsage(t *testing.T) {
	f := newFixture(t)
	testutil.SeedUser(t, f.db, testutil.UserSeed{ID: 1, Credits: 100})
	testutil.SeedAPIKey(t, f.db, 10, 1, "clk_report", true)

	res, err := f.svc.Report(context.Background(), usagedomain.ReportRequest{
		APIKey:      "clk_report",
		CreditsUsed: 30,
		Endpoint:    "/api/search",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(70), res.RemainingCredits)
	assert.Equal(t, int64(30), res.CreditsUsed)
	assert.Equal(t, "/api/search", res.Endpoint)
	assert.Equal(t, usagedomain.DefaultQueryType, res.QueryType)

	assert.Equal(t, int64(70), testutil.Credits(t, f.db, 1))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, `SELECT COUNT(*) FROM transactions WHERE user_id = ? AND type = ? AND amount = ?`, 1, "usage", -30))
	assert.Equal(t, int64(1), testutil.Count(t, f.db,
		`SELECT COUNT(*) FROM api_usage WHERE api_key_id = ? AND credits_used = ? AND api_service = ?`, 10, 30, "default"))
	assert.Equal(t, int64(1), testutil.Count(t, f.db, `SELECT COUNT(*) FROM api_keys WHERE id = ? AND last_used_at IS NOT NULL`, 10))
}

func TestReportInsufficientCreditsLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	testutil.SeedUser(t, f.db, testutil.UserSeed{ID: 1, Credits: 10})
	testutil.SeedAPIKey(t, f.db, 10, 1, "clk_poor", true)

	_, err := f.svc.Report(context.Background(), usagedomain.ReportRequest{APIKey: "clk_poor", CreditsUsed: 50})
	require.Error(t, err)

	var insufficient *ledgerdomain.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(10), insufficient.CurrentCredits)
	assert.Equal(t, int64(50), insufficient.Required)

	assert.Equal(t, int64(10), testutil.Credits(t, f.db, 1))
	assert.Zero(t, testutil.Count(t, f.db, `SELECT COUNT(*) FROM transactions`))
	assert.Zero(t, testutil.Count(t, f.db, `SELECT COUNT(*) FROM api_usage`))
}

func TestReportValidation(t *testing.T) {
	f := newFixture(t)

	cases := []usagedomain.ReportRequest{
		{APIKey: "", CreditsUsed: 1},
		{APIKey: "clk_x", CreditsUsed: 0},
		{APIKey: "clk_x", CreditsUsed: -5},
	}
	for _, req := range cases {
		_, err := f.svc.Report(context.Background(), req)
		assert.ErrorIs(t, err, usagedomain.ErrInvalidUsage)
	}

	_, err := f.svc.Report(context.Background(), usagedomain.ReportRequest{APIKey: "clk_unknown", CreditsUsed: 1})
	assert.ErrorIs(t, err, usagedomain.ErrKeyNotFound)
}

func TestReportDefaultsEndpointFromMetadata(t *testing.T) {
	f := newFixture(t)
	testutil.SeedUser(t, f.db, testutil.UserSeed{ID: 1, Credits: 10})
	testutil.SeedAPIKey(t, f.db, 10, 1, "clk_meta", true)

	res, err := f.svc.Report(context.Background(), usagedomain.ReportRequest{
		APIKey:      "clk_meta",
		CreditsUsed: 1,
		Metadata:    map[string]any{"endpoint": "/api/lookup"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/lookup", res.Endpoint)

	res, err = f.svc.Report(context.Background(), usagedomain.ReportRequest{APIKey: "clk_meta", CreditsUsed: 1})
	require.NoError(t, err)
	assert.Equal(t, usagedomain.DefaultEndpoint, res.Endpoint)
}

func TestReportBillsInactiveKey(t *testing.T) {
	f := newFixture(t)
	testutil.SeedUser(t, f.db, testutil.UserSeed{ID: 1, Credits: 10})
	testutil.SeedAPIKey(t, f.db, 10, 1, "clk_retired", false)

	res, err := f.svc.Report(context.Background(), usagedomain.ReportRequest{APIKey: "clk_retired", CreditsUsed: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.RemainingCredits)
}

func TestStatsCoversTrailingWindow(t *testing.T) {
	f := newFixture(t)
	testutil.SeedUser(t, f.db, testutil.UserSeed{ID: 1, Email: "heavy@example.com", Credits: 100})
	testutil.SeedUser(t, f.db, testutil.UserSeed{ID: 2, Email: "light@example.com", Credits: 100})
	testutil.SeedAPIKey(t, f.db, 10, 1, "clk_heavy", true)
	testutil.SeedAPIKey(t, f.db, 20, 2, "clk_light", true)

	now := f.clock.Now()
	f.clock.Set(now.Add(-72 * time.Hour))
	_, err := f.svc.Report(context.Background(), usagedomain.ReportRequest{APIKey: "clk_light", CreditsUsed: 50})
	require.NoError(t, err)
	f.clock.Set(now)

	for _, req := range []usagedomain.ReportRequest{
		{APIKey: "clk_heavy", CreditsUsed: 20, QueryType: "search"},
		{APIKey: "clk_heavy", CreditsUsed: 5},
		{APIKey: "clk_light", CreditsUsed: 3, QueryType: "search"},
	} {
		_, err := f.svc.Report(context.Background(), req)
		require.NoError(t, err)
	}

	stats, err := f.svc.Stats(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(28), stats.TotalCredits)

	require.Len(t, stats.ByQueryType, 2)
	assert.Equal(t, "search", stats.ByQueryType[0].QueryType)
	assert.Equal(t, int64(23), stats.ByQueryType[0].Credits)

	require.Len(t, stats.TopUsers, 2)
	assert.Equal(t, "1", stats.TopUsers[0].UserID)
	assert.Equal(t, "heavy@example.com", stats.TopUsers[0].Email)
	assert.Equal(t, int64(25), stats.TopUsers[0].Credits)
}

func TestReportPublishesLiveEvents(t *testing.T) {
	f := newFixture(t)
	testutil.SeedUser(t, f.db, testutil.UserSeed{ID: 1, Credits: 10})
	testutil.SeedAPIKey(t, f.db, 10, 1, "clk_watched_key", true)

	sub, _, err := f.hub.Subscribe("1")
	require.NoError(t, err)
	defer sub.Close()

	_, err = f.svc.Report(context.Background(), usagedomain.ReportRequest{APIKey: "clk_watched_key", CreditsUsed: 4})
	require.NoError(t, err)
	_, err = f.svc.Report(context.Background(), usagedomain.ReportRequest{APIKey: "clk_watched_key", CreditsUsed: 40})
	require.Error(t, err)

	recorded := <-sub.Events()
	assert.Equal(t, liveevents.StatusRecorded, recorded.Status)
	assert.Equal(t, int64(6), recorded.RemainingCredits)
	assert.Equal(t, "clk_watc****", recorded.APIKey)

	rejected := <-sub.Events()
	assert.Equal(t, liveevents.StatusRejected, rejected.Status)
	assert.Equal(t, int64(40), rejected.CreditsUsed)
}
