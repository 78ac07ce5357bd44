package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	accountrepo "github.com/smallbiznis/creditledger/internal/account/repository"
	accountservice "github.com/smallbiznis/creditledger/internal/account/service"
	apikeyrepo "github.com/smallbiznis/creditledger/internal/apikey/repository"
	apikeyservice "github.com/smallbiznis/creditledger/internal/apikey/service"
	auditrepo "github.com/smallbiznis/creditledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/creditledger/internal/audit/service"
	"github.com/smallbiznis/creditledger/internal/authorization"
	"github.com/smallbiznis/creditledger/internal/cachesync"
	cachemock "github.com/smallbiznis/creditledger/internal/cachesync/mock"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/config"
	discountrepo "github.com/smallbiznis/creditledger/internal/discount/repository"
	discountservice "github.com/smallbiznis/creditledger/internal/discount/service"
	ledgerrepo "github.com/smallbiznis/creditledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/creditledger/internal/ledger/service"
	"github.com/smallbiznis/creditledger/internal/payment/adapters"
	"github.com/smallbiznis/creditledger/internal/payment/adapters/stripe"
	paymentrepo "github.com/smallbiznis/creditledger/internal/payment/repository"
	paymentservice "github.com/smallbiznis/creditledger/internal/payment/service"
	"github.com/smallbiznis/creditledger/internal/payment/webhook"
	"github.com/smallbiznis/creditledger/internal/testutil"
	usagerepo "github.com/smallbiznis/creditledger/internal/usage/repository"
	usageservice "github.com/smallbiznis/creditledger/internal/usage/service"
	"github.com/smallbiznis/creditledger/internal/usage/liveevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testJWTSecret     = "jwt-test-secret"
	testWebhookSecret = "whsec_test"
)

type testEnv struct {
	db     *gorm.DB
	engine *gin.Engine
	cache  *cachemock.MockClient
	clock  *clock.FakeClock
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := testutil.OpenDB(t)
	node := testutil.MustNode(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	cfg := config.Config{
		AuthJWTSecret: testJWTSecret,
		Stripe:        config.StripeConfig{WebhookSecret: testWebhookSecret},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	ctrl := gomock.NewController(t)
	cache := cachemock.NewMockClient(ctrl)
	ok := cachesync.Result{Success: true, StatusCode: http.StatusOK}
	cache.EXPECT().RegisterKey(gomock.Any(), gomock.Any()).Return(ok).AnyTimes()
	cache.EXPECT().DeleteKey(gomock.Any(), gomock.Any()).Return(ok).AnyTimes()
	cache.EXPECT().UpdateCredits(gomock.Any(), gomock.Any(), gomock.Any()).Return(ok).AnyTimes()

	syncRepo := cachesync.NewRepository()
	propagator := cachesync.NewPropagator(cachesync.PropagatorParams{DB: conn, Log: log, Client: cache, Repo: syncRepo})
	t.Cleanup(func() { _ = propagator.Shutdown(context.Background()) })

	policy := config.NewStaticPolicyHolder(config.DefaultLedgerPolicy())
	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB: conn, Log: log, GenID: node, Clock: fake,
		Repo: ledgerrepo.Provide(), Policy: policy, Propagator: propagator,
	})
	accountSvc := accountservice.New(accountservice.Params{
		DB: conn, Log: log, GenID: node, Clock: fake,
		Repo: accountrepo.Provide(), Ledger: ledgerSvc,
	})
	apiKeySvc := apikeyservice.New(apikeyservice.Params{
		DB: conn, Log: log, GenID: node, Clock: fake,
		Repo: apikeyrepo.Provide(), Cache: cache, Propagator: propagator,
	})
	usageSvc := usageservice.New(usageservice.Params{
		DB: conn, Log: log, Clock: fake, Repo: usagerepo.Provide(),
		APIKeys: apiKeySvc, Ledger: ledgerSvc, LiveEvents: liveevents.NewHub(),
	})
	paymentSvc := webhook.NewService(webhook.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, Cfg: cfg, Policy: policy,
		Adapters:  adapters.NewRegistry(stripe.NewFactory()),
		Processor: paymentservice.NewService(paymentservice.Params{Log: log, LedgerSvc: ledgerSvc}),
		Repo:      paymentrepo.Provide(),
	})
	discountSvc := discountservice.New(discountservice.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, Repo: discountrepo.Provide(),
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, Repo: auditrepo.Provide(),
	})
	enforcer, err := authorization.NewEnforcer()
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	NewServer(ServerParams{
		Gin:         engine,
		Cfg:         cfg,
		Log:         log,
		AccountSvc:  accountSvc,
		AuthzSvc:    authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer}),
		LedgerSvc:   ledgerSvc,
		APIKeySvc:   apiKeySvc,
		UsageSvc:    usageSvc,
		PaymentSvc:  paymentSvc,
		DiscountSvc: discountSvc,
		AuditSvc:    auditSvc,
		Reconciler: cachesync.NewReconciler(cachesync.ReconcilerParams{
			DB: conn, Log: log, Clock: fake, Client: cache, Repo: syncRepo,
		}),
		CacheClient: cache,
	})

	return &testEnv{db: conn, engine: engine, cache: cache, clock: fake}
}

func bearer(t *testing.T, userID int64, role string) string {
	t.Helper()
	claims := principalClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch v := body.(type) {
	case nil:
	case []byte:
		payload = v
	case string:
		payload = []byte(v)
	default:
		var err error
		payload, err = json.Marshal(v)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestReportUsageDebitsBalance(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 1, Credits: 100})
	testutil.SeedAPIKey(t, env.db, 10, 1, "ck_live_report", true)

	rec := env.do(t, http.MethodPost, "/usage/report", map[string]any{
		"apiKey":      "ck_live_report",
		"creditsUsed": 10,
		"endpoint":    "/api/search",
		"metadata":    map[string]any{"query": "acme"},
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, usageRecordedMessage, body["message"])
	assert.EqualValues(t, 90, body["remainingCredits"])
	assert.EqualValues(t, 10, body["creditsUsed"])
	assert.Equal(t, "/api/search", body["endpoint"])

	assert.Equal(t, int64(90), testutil.Credits(t, env.db, 1))
	assert.Equal(t, int64(1), testutil.Count(t, env.db, `SELECT COUNT(*) FROM api_usage WHERE user_id = ?`, 1))
}

func TestReportUsageInsufficientCredits(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 1, Credits: 5})
	testutil.SeedAPIKey(t, env.db, 10, 1, "ck_live_poor", true)

	rec := env.do(t, http.MethodPost, "/usage/report", map[string]any{
		"apiKey":      "ck_live_poor",
		"creditsUsed": 10,
	}, nil)

	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.EqualValues(t, 5, body["currentCredits"])
	assert.EqualValues(t, 10, body["creditsRequired"])

	assert.Equal(t, int64(5), testutil.Credits(t, env.db, 1))
	assert.Equal(t, int64(0), testutil.Count(t, env.db, `SELECT COUNT(*) FROM api_usage WHERE user_id = ?`, 1))
	assert.Equal(t, int64(0), testutil.Count(t, env.db, `SELECT COUNT(*) FROM transactions WHERE user_id = ?`, 1))
}

func TestReportUsageRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 1, Credits: 5})
	testutil.SeedAPIKey(t, env.db, 10, 1, "ck_live_known", true)

	cases := []struct {
		name   string
		body   any
		status int
	}{
		{"unknown_key", map[string]any{"apiKey": "ck_live_missing", "creditsUsed": 1}, http.StatusNotFound},
		{"zero_credits", map[string]any{"apiKey": "ck_live_known", "creditsUsed": 0}, http.StatusBadRequest},
		{"missing_key", map[string]any{"creditsUsed": 3}, http.StatusBadRequest},
		{"malformed_json", "{not json", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/usage/report", tc.body, nil)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, int64(5), testutil.Credits(t, env.db, 1))
}

func TestReportUsageRequiresConfiguredToken(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.UsageReportToken = "ingest-secret" })
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 1, Credits: 50})
	testutil.SeedAPIKey(t, env.db, 10, 1, "ck_live_token", true)
	body := map[string]any{"apiKey": "ck_live_token", "creditsUsed": 1}

	rec := env.do(t, http.MethodPost, "/usage/report", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/usage/report", body, map[string]string{cachesync.HeaderInternalToken: "ingest-secret"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func stripeHeader(secret string, payload []byte, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestPaymentWebhookVerifiesAndCredits(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 42, Credits: 0})

	payload, err := json.Marshal(map[string]any{
		"id":   "evt_http_1",
		"type": "checkout.session.completed",
		"data": map[string]any{"object": map[string]any{
			"id":           "cs_http_1",
			"amount_total": 1999,
			"currency":     "usd",
			"metadata":     map[string]any{"userId": "42", "credits": "250"},
		}},
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/payments/webhook", payload, map[string]string{
		stripe.HeaderSignature: stripeHeader("wrong-secret", payload, env.clock.Now().Unix()),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int64(0), testutil.Credits(t, env.db, 42))

	rec = env.do(t, http.MethodPost, "/payments/webhook", payload, map[string]string{
		stripe.HeaderSignature: stripeHeader(testWebhookSecret, payload, env.clock.Now().Unix()),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["received"])
	assert.Equal(t, int64(250), testutil.Credits(t, env.db, 42))

	rec = env.do(t, http.MethodPost, "/payments/webhook/paypal", payload, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminAdjustCredits(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 100, Role: "business_admin"})
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 200, Role: "client_admin", Company: "globex"})
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 1, Credits: 10, Company: "acme"})
	admin := map[string]string{"Authorization": bearer(t, 100, "business_admin")}

	rec := env.do(t, http.MethodPost, "/admin/users/1/credits", map[string]any{"amount": 50, "reason": "goodwill"}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 60, body["newBalance"])

	rec = env.do(t, http.MethodPost, "/admin/users/1/credits", map[string]any{"amount": 20, "direction": "debit"}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 40, decode(t, rec)["newBalance"])

	rec = env.do(t, http.MethodPost, "/admin/users/1/credits", map[string]any{"amount": 0}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/users/999/credits", map[string]any{"amount": 5}, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/users/1/credits", map[string]any{"amount": 5},
		map[string]string{"Authorization": bearer(t, 1, "user")})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/users/1/credits", map[string]any{"amount": 5},
		map[string]string{"Authorization": bearer(t, 200, "client_admin")})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, int64(40), testutil.Credits(t, env.db, 1))
}

func TestClientAdminAllocatesFromOwnBalance(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 200, Role: "client_admin", Company: "acme", Credits: 100})
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 1, Credits: 10, Company: "acme"})
	client := map[string]string{"Authorization": bearer(t, 200, "client_admin")}

	rec := env.do(t, http.MethodPost, "/admin/users/1/credits", map[string]any{"amount": 40}, client)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.EqualValues(t, 50, body["newBalance"])
	assert.EqualValues(t, 60, body["poolBalance"])
	assert.Equal(t, int64(50), testutil.Credits(t, env.db, 1))
	assert.Equal(t, int64(60), testutil.Credits(t, env.db, 200))
	assert.Equal(t, int64(1), testutil.Count(t, env.db, `SELECT COUNT(*) FROM transactions WHERE user_id = 200 AND amount = -40`))
	assert.Equal(t, int64(1), testutil.Count(t, env.db, `SELECT COUNT(*) FROM transactions WHERE user_id = 1 AND amount = 40`))

	rec = env.do(t, http.MethodPost, "/admin/users/1/credits", map[string]any{"amount": 61}, client)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.EqualValues(t, 60, body["available"])
	assert.EqualValues(t, 61, body["requested"])

	rec = env.do(t, http.MethodPost, "/admin/users/1/credits", map[string]any{"amount": 5, "direction": "debit"}, client)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, int64(50), testutil.Credits(t, env.db, 1))
	assert.Equal(t, int64(60), testutil.Credits(t, env.db, 200))
	assert.Equal(t, int64(2), testutil.Count(t, env.db, `SELECT COUNT(*) FROM transactions`))
}

func TestAdjustRejectsOwnAccount(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 100, Role: "business_admin", Credits: 5})
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 200, Role: "client_admin", Company: "acme"})

	rec := env.do(t, http.MethodPost, "/admin/users/200/credits", map[string]any{"amount": 1000000},
		map[string]string{"Authorization": bearer(t, 200, "client_admin")})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, int64(0), testutil.Credits(t, env.db, 200))

	rec = env.do(t, http.MethodPost, "/admin/users/100/credits", map[string]any{"amount": 10},
		map[string]string{"Authorization": bearer(t, 100, "business_admin")})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, int64(5), testutil.Credits(t, env.db, 100))

	rec = env.do(t, http.MethodPut, "/admin/users/200/grace-period", map[string]any{"days": 3},
		map[string]string{"Authorization": bearer(t, 200, "client_admin")})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, testutil.Count(t, env.db, `SELECT COUNT(*) FROM transactions`))
}

func TestClientAdminCannotActOnBusinessAdmin(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 100, Role: "business_admin", Company: "acme", Credits: 500})
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 200, Role: "client_admin", Company: "acme", Credits: 50})
	client := map[string]string{"Authorization": bearer(t, 200, "client_admin")}

	rec := env.do(t, http.MethodPost, "/admin/users/100/credits", map[string]any{"amount": 500, "direction": "debit"}, client)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/users/100/credits", map[string]any{"amount": 10}, client)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, "/admin/users/100", nil, client)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, int64(500), testutil.Credits(t, env.db, 100))
	assert.Equal(t, int64(50), testutil.Credits(t, env.db, 200))
	assert.Equal(t, int64(1), testutil.Count(t, env.db, `SELECT COUNT(*) FROM users WHERE id = 100`))

	rec = env.do(t, http.MethodGet, "/admin/users", nil, client)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode(t, rec)["data"])
}

func TestPrincipalRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/me/api-keys", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/me/api-keys", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/me/api-keys", nil, map[string]string{"Authorization": bearer(t, 1, "superuser")})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 1, Credits: 30})
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 2})
	owner := map[string]string{"Authorization": bearer(t, 1, "user")}

	rec := env.do(t, http.MethodPost, "/me/api-keys", map[string]any{"name": "prod"}, owner)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)["data"].(map[string]any)
	rawKey := created["key"].(string)
	keyID := created["id"].(string)
	assert.Equal(t, true, created["active"])

	rec = env.do(t, http.MethodGet, "/me/api-keys", nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode(t, rec)["data"].([]any)
	require.Len(t, listed, 1)
	assert.Equal(t, cachesync.MaskKey(rawKey), listed[0].(map[string]any)["key"])

	rec = env.do(t, http.MethodDelete, "/me/api-keys/"+keyID, nil, map[string]string{"Authorization": bearer(t, 2, "user")})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/me/api-keys/"+keyID, nil, owner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, decode(t, rec)["data"].(map[string]any)["active"])

	rec = env.do(t, http.MethodDelete, "/me/api-keys/"+keyID, nil, owner)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMyThresholdReportsLowBalance(t *testing.T) {
	env := newTestEnv(t)
	threshold := int64(100)
	graceEnd := env.clock.Now().Add(48 * time.Hour)
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 1, Credits: 5, Threshold: &threshold, GraceEnd: &graceEnd})

	rec := env.do(t, http.MethodGet, "/me/credits/threshold", nil, map[string]string{"Authorization": bearer(t, 1, "user")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["belowThreshold"])
	assert.EqualValues(t, 5, body["currentCredits"])
	assert.EqualValues(t, 100, body["threshold"])
	assert.Equal(t, true, body["activeGracePeriod"])
}

func TestCacheStatusMapsProxyFailure(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 100, Role: "business_admin"})
	admin := map[string]string{"Authorization": bearer(t, 100, "business_admin")}

	gomock.InOrder(
		env.cache.EXPECT().CheckSyncStatus(gomock.Any()).Return(cachesync.Result{Success: true, StatusCode: http.StatusOK}),
		env.cache.EXPECT().CheckSyncStatus(gomock.Any()).Return(cachesync.Result{Success: false, StatusCode: http.StatusGatewayTimeout, Message: "cache proxy timeout"}),
	)

	rec := env.do(t, http.MethodGet, "/admin/cache/status", nil, admin)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/cache/status", nil, admin)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.EqualValues(t, http.StatusGatewayTimeout, decode(t, rec)["statusCode"])

	rec = env.do(t, http.MethodGet, "/admin/cache/status", nil, map[string]string{"Authorization": bearer(t, 1, "client_admin")})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDiscountRoutes(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 100, Role: "business_admin"})
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 1})
	admin := map[string]string{"Authorization": bearer(t, 100, "business_admin")}
	user := map[string]string{"Authorization": bearer(t, 1, "user")}

	create := map[string]any{"code": "SPRING20", "discountType": "percentage", "discountValue": 20}
	rec := env.do(t, http.MethodPost, "/admin/discount-codes", create, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/admin/discount-codes", create, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/discount-codes", create, user)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/discounts/validate", map[string]any{"code": "SPRING20", "amount": 1000}, user)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["isValid"])
	assert.EqualValues(t, 200, body["discountAmount"])
	assert.EqualValues(t, 800, body["finalAmount"])

	rec = env.do(t, http.MethodPost, "/discounts/validate", map[string]any{"code": "NOPE", "amount": 1000}, user)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["isValid"])
}

func TestErrorMappingUsesStableCodes(t *testing.T) {
	status, resp := mapError(fmt.Errorf("wrap: %w", ErrRateLimited))
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", resp.Error.Type)

	status, resp = mapError(fmt.Errorf("load: %w", gorm.ErrRecordNotFound))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", resp.Error.Type)

	errType, code := classifyErrorForLog(ErrInvalidRequest)
	assert.Equal(t, "validation_error", errType)
	assert.Equal(t, "invalid_request", code)
}

func TestAuditTrailRecordsAdminActions(t *testing.T) {
	env := newTestEnv(t)
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 100, Role: "business_admin"})
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 200, Role: "client_admin", Company: "acme"})
	testutil.SeedUser(t, env.db, testutil.UserSeed{ID: 1, Credits: 10, Company: "acme"})
	admin := map[string]string{"Authorization": bearer(t, 100, "business_admin")}

	rec := env.do(t, http.MethodPost, "/admin/users/1/credits", map[string]any{"amount": 25, "reason": "refund"}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPut, "/admin/users/1/threshold", map[string]any{"threshold": 5}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/admin/audit-logs?action=credits.adjust", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	items, ok := body["data"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	entry := items[0].(map[string]any)
	assert.Equal(t, "credits.adjust", entry["action"])
	assert.Equal(t, "business_admin", entry["actor_type"])
	assert.Equal(t, "100", entry["actor_id"])
	assert.Equal(t, "1", entry["target_id"])
	metadata := entry["metadata"].(map[string]any)
	assert.EqualValues(t, 25, metadata["amount"])
	assert.Equal(t, "refund", metadata["reason"])

	rec = env.do(t, http.MethodGet, "/admin/audit-logs", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["data"], 2)

	rec = env.do(t, http.MethodGet, "/admin/audit-logs", nil,
		map[string]string{"Authorization": bearer(t, 200, "client_admin")})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet,
		"/admin/audit-logs?start_at=2026-03-02T00:00:00Z&end_at=2026-03-01T00:00:00Z", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
