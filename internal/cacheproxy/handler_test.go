package cacheproxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditledger/internal/cachesync"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "internal-secret"

type proxyFixture struct {
	redis  *miniredis.Miniredis
	store  *Store
	server *httptest.Server
	client *cachesync.HTTPClient
}

func newProxyFixture(t *testing.T) *proxyFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewStore(rdb, "apikey:")
	handler, err := NewHandler(store, testToken, clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)), zap.NewNop())
	require.NoError(t, err)

	r := gin.New()
	handler.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client := cachesync.NewHTTPClient(config.CacheProxyConfig{
		BaseURL: srv.URL,
		Token:   testToken,
		Timeout: 2 * time.Second,
	}, zap.NewNop(), nil)

	return &proxyFixture{redis: mr, store: store, server: srv, client: client}
}

func TestClientRoundTripAgainstProxy(t *testing.T) {
	f := newProxyFixture(t)
	ctx := context.Background()

	res := f.client.RegisterKey(ctx, cachesync.KeyEntry{Key: "clk_roundtrip", UserID: "42", Credits: 120, Active: true})
	require.True(t, res.Success, res.Message)

	assert.Equal(t, "42", f.redis.HGet("apikey:clk_roundtrip", "user_id"))
	assert.Equal(t, "120", f.redis.HGet("apikey:clk_roundtrip", "credits"))

	res = f.client.UpdateCredits(ctx, "clk_roundtrip", 75)
	require.True(t, res.Success, res.Message)

	res = f.client.GetKey(ctx, "clk_roundtrip")
	require.True(t, res.Success, res.Message)
	var entry cachesync.KeyEntry
	require.NoError(t, res.Decode(&entry))
	assert.Equal(t, "clk_roundtrip", entry.Key)
	assert.Equal(t, "42", entry.UserID)
	assert.Equal(t, int64(75), entry.Credits)
	assert.True(t, entry.Active)
	require.NotNil(t, entry.UpdatedAt)

	res = f.client.CheckSyncStatus(ctx)
	require.True(t, res.Success, res.Message)
	var status cachesync.SyncStatus
	require.NoError(t, res.Decode(&status))
	assert.Equal(t, "ok", status.Redis)
	assert.Equal(t, int64(1), status.KeyCount)

	res = f.client.DeleteKey(ctx, "clk_roundtrip")
	require.True(t, res.Success, res.Message)
	assert.False(t, f.redis.Exists("apikey:clk_roundtrip"))

	res = f.client.GetKey(ctx, "clk_roundtrip")
	assert.False(t, res.Success)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestUpdateCreditsRequiresExistingEntry(t *testing.T) {
	f := newProxyFixture(t)

	res := f.client.UpdateCredits(context.Background(), "clk_missing", 10)
	assert.False(t, res.Success)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.False(t, f.redis.Exists("apikey:clk_missing"))
}

func TestRejectsWrongToken(t *testing.T) {
	f := newProxyFixture(t)

	wrong := cachesync.NewHTTPClient(config.CacheProxyConfig{
		BaseURL: f.server.URL,
		Token:   "not-the-token",
		Timeout: time.Second,
	}, zap.NewNop(), nil)

	res := wrong.RegisterKey(context.Background(), cachesync.KeyEntry{Key: "clk_intruder", UserID: "1", Credits: 1, Active: true})
	assert.False(t, res.Success)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.False(t, f.redis.Exists("apikey:clk_intruder"))

	req := httptest.NewRequest(http.MethodGet, "/cache/sync-status", nil)
	rec := httptest.NewRecorder()
	f.server.Config.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterValidatesPayload(t *testing.T) {
	f := newProxyFixture(t)

	for _, body := range []string{
		`{"user_id":"1","credits":5}`,
		`{"key":"clk_a","credits":5}`,
		`{"key":"clk_a","user_id":"1"}`,
		`{"key":"clk_a","user_id":"1","credits":-1}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/cache/api-key", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(cachesync.HeaderInternalToken, testToken)
		rec := httptest.NewRecorder()
		f.server.Config.Handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestSyncStatusReportsRedisOutage(t *testing.T) {
	f := newProxyFixture(t)
	f.redis.Close()

	res := f.client.CheckSyncStatus(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "redis unreachable", res.Message)
}

func TestStoreCountOnlyMatchesPrefix(t *testing.T) {
	f := newProxyFixture(t)
	ctx := context.Background()
	now := time.Now()

	for _, key := range []string{"clk_a", "clk_b", "clk_c"} {
		require.NoError(t, f.store.Put(ctx, cachesync.KeyEntry{Key: key, UserID: "1", Credits: 1, Active: true}, now))
	}
	require.NoError(t, f.redis.Set("unrelated", "x"))

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestNewHandlerRequiresToken(t *testing.T) {
	_, err := NewHandler(nil, "  ", nil, zap.NewNop())
	assert.Error(t, err)
}
