package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/creditledger/internal/account"
	accountdomain "github.com/smallbiznis/creditledger/internal/account/domain"
	"github.com/smallbiznis/creditledger/internal/apikey"
	apikeydomain "github.com/smallbiznis/creditledger/internal/apikey/domain"
	"github.com/smallbiznis/creditledger/internal/audit"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
	"github.com/smallbiznis/creditledger/internal/authorization"
	"github.com/smallbiznis/creditledger/internal/cachesync"
	"github.com/smallbiznis/creditledger/internal/config"
	"github.com/smallbiznis/creditledger/internal/discount"
	discountdomain "github.com/smallbiznis/creditledger/internal/discount/domain"
	"github.com/smallbiznis/creditledger/internal/ledger"
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	"github.com/smallbiznis/creditledger/internal/observability"
	obslogger "github.com/smallbiznis/creditledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/creditledger/internal/observability/tracing"
	"github.com/smallbiznis/creditledger/internal/payment"
	paymentdomain "github.com/smallbiznis/creditledger/internal/payment/domain"
	"github.com/smallbiznis/creditledger/internal/ratelimit"
	"github.com/smallbiznis/creditledger/internal/scheduler"
	"github.com/smallbiznis/creditledger/internal/usage"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	"github.com/smallbiznis/creditledger/internal/usage/liveevents"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	account.Module,
	authorization.Module,
	ledger.Module,
	cachesync.Module,
	apikey.Module,
	usage.Module,
	payment.Module,
	discount.Module,
	audit.Module,
	ratelimit.Module,
	scheduler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, requestTimeout time.Duration) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())
	r.Use(RequestDeadline(requestTimeout))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics, cfg.HTTPRequestTimeout)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	accountSvc      accountdomain.Service
	authzSvc        authorization.Service
	ledgerSvc       ledgerdomain.Service
	apiKeySvc       apikeydomain.Service
	usageSvc        usagedomain.Service
	paymentSvc      paymentdomain.Service
	discountSvc     discountdomain.Service
	auditSvc        auditdomain.Service
	reconciler      *cachesync.Reconciler
	cacheClient     cachesync.Client
	liveUsageEvents *liveevents.Hub
	usageLimiter    *ratelimit.UsageReportLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	AccountSvc      accountdomain.Service
	AuthzSvc        authorization.Service
	LedgerSvc       ledgerdomain.Service
	APIKeySvc       apikeydomain.Service
	UsageSvc        usagedomain.Service
	PaymentSvc      paymentdomain.Service
	DiscountSvc     discountdomain.Service
	AuditSvc        auditdomain.Service            `optional:"true"`
	Reconciler      *cachesync.Reconciler
	CacheClient     cachesync.Client
	LiveUsageEvents *liveevents.Hub                `optional:"true"`
	UsageLimiter    *ratelimit.UsageReportLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics            `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		accountSvc:      p.AccountSvc,
		authzSvc:        p.AuthzSvc,
		ledgerSvc:       p.LedgerSvc,
		apiKeySvc:       p.APIKeySvc,
		usageSvc:        p.UsageSvc,
		paymentSvc:      p.PaymentSvc,
		discountSvc:     p.DiscountSvc,
		auditSvc:        p.AuditSvc,
		reconciler:      p.Reconciler,
		cacheClient:     p.CacheClient,
		liveUsageEvents: p.LiveUsageEvents,
		usageLimiter:    p.UsageLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerIngestRoutes()
	svc.registerSelfRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerIngestRoutes mounts the machine-to-machine endpoints.
func (s *Server) registerIngestRoutes() {
	usageToken := InternalTokenRequired(s.cfg.UsageReportToken)

	s.engine.POST("/usage/report", usageToken, s.UsageReportRateLimit(), s.ReportUsage)
	s.engine.POST("/api-keys/resolve", usageToken, s.ResolveAPIKey)

	payments := s.engine.Group("/payments")
	payments.POST("/webhook", s.HandlePaymentWebhook)
	payments.POST("/webhook/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerSelfRoutes() {
	me := s.engine.Group("/me", s.PrincipalRequired())

	me.GET("/api-keys", s.authorize(authorization.ObjectAPIKey, authorization.ActionAPIKeyManage), s.ListAPIKeys)
	me.POST("/api-keys", s.authorize(authorization.ObjectAPIKey, authorization.ActionAPIKeyManage), s.CreateAPIKey)
	me.DELETE("/api-keys/:id", s.authorize(authorization.ObjectAPIKey, authorization.ActionAPIKeyManage), s.DeactivateAPIKey)

	me.GET("/transactions", s.authorize(authorization.ObjectCredits, authorization.ActionCreditsView), s.ListMyTransactions)
	me.GET("/usage", s.authorize(authorization.ObjectCredits, authorization.ActionCreditsView), s.ListMyUsage)
	me.GET("/credits/threshold", s.authorize(authorization.ObjectCredits, authorization.ActionCreditsView), s.GetMyThreshold)

	s.engine.POST("/discounts/validate",
		s.PrincipalRequired(),
		s.authorize(authorization.ObjectDiscount, authorization.ActionDiscountValidate),
		s.ValidateDiscountCode,
	)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.PrincipalRequired())

	users := admin.Group("/users")
	{
		manage := s.authorize(authorization.ObjectUser, authorization.ActionUserManage)
		adjust := s.authorize(authorization.ObjectCredits, authorization.ActionCreditsAdjust)

		users.POST("", manage, s.CreateUser)
		users.GET("", manage, s.ListUsers)
		users.DELETE("/:id", manage, s.DeleteUser)

		users.POST("/:id/credits", adjust, s.AdjustUserCredits)
		users.PUT("/:id/threshold", adjust, s.SetUserThreshold)
		users.PUT("/:id/grace-period", adjust, s.SetUserGracePeriod)
		users.GET("/:id/ledger/reconstruct", adjust, s.ReconstructUserBalance)

		users.POST("/:id/cache/sync", adjust, s.SyncUserCache)
		users.GET("/:id/usage/live", s.authorize(authorization.ObjectUsage, authorization.ActionUsageView), s.StreamUsageLiveEvents)
	}

	cache := admin.Group("/cache", s.authorize(authorization.ObjectCache, authorization.ActionCacheResync))
	{
		cache.POST("/resync", s.ResyncCache)
		cache.GET("/status", s.CacheStatus)
	}

	discounts := admin.Group("/discount-codes", s.authorize(authorization.ObjectDiscount, authorization.ActionDiscountManage))
	{
		discounts.POST("", s.CreateDiscountCode)
		discounts.GET("", s.ListDiscountCodes)
		discounts.POST("/:id/redeem", s.RedeemDiscountCode)
	}

	admin.GET("/usage/stats", s.authorize(authorization.ObjectUsage, authorization.ActionUsageView), s.UsageStats)
	admin.GET("/audit-logs", s.authorize(authorization.ObjectAudit, authorization.ActionAuditView), s.ListAuditLogs)
}
