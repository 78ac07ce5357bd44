package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	AuthJWTSecret    string
	UsageReportToken string

	OTLPEndpoint string

	DBType              string
	DBHost              string
	DBPort              string
	DBName              string
	DBUser              string
	DBPassword          string
	DBSSLMode           string
	DBPath              string
	DBMaxIdleConn       int
	DBMaxOpenConn       int
	DBConnMaxLifetime   int
	DBConnMaxIdleTime   int
	DBConnectTimeout    int
	HTTPRequestTimeout  time.Duration
	DBMigrateOnStartup  bool
	SnowflakeNodeNumber int64

	CacheProxy CacheProxyConfig
	Stripe     StripeConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig

	ReconcileInterval time.Duration
	PolicyPath        string
}

// CacheProxyConfig points at the internal cache-proxy service.
type CacheProxyConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type StripeConfig struct {
	WebhookSecret string
}

// RedisConfig backs the cache proxy and, when enabled, rate limiting.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	ProxyAddr string
}

// RateLimitConfig enables the Redis-backed usage limiter and reconcile lock.
type RateLimitConfig struct {
	Enabled          bool
	UsageReportRate  float64
	UsageReportBurst int
	ReconcileLockTTL time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:          getenv("APP_SERVICE", "creditledger"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      getenv("ENVIRONMENT", "development"),
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret:    strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		UsageReportToken: strings.TrimSpace(getenv("USAGE_REPORT_TOKEN", "")),
		OTLPEndpoint:     getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:              strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:              getenv("DATABASE_HOST", "localhost"),
		DBPort:              getenv("DATABASE_PORT", "5432"),
		DBName:              getenv("DATABASE_NAME", "creditledger"),
		DBUser:              getenv("DATABASE_USER", "postgres"),
		DBPassword:          getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:           getenv("DATABASE_SSLMODE", "disable"),
		DBPath:              getenv("DATABASE_PATH", "creditledger.db"),
		DBMaxIdleConn:       int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:       int(getenvInt64("DATABASE_MAX_OPEN_CONN", 25)),
		DBConnMaxLifetime:   int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime:   int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBConnectTimeout:    int(getenvInt64("DATABASE_CONNECT_TIMEOUT", 5)),
		HTTPRequestTimeout:  getenvDuration("HTTP_REQUEST_TIMEOUT", 15*time.Second),
		DBMigrateOnStartup:  getenvBool("DATABASE_MIGRATE_ON_STARTUP", true),
		SnowflakeNodeNumber: getenvInt64("SNOWFLAKE_NODE", 1),

		CacheProxy: CacheProxyConfig{
			BaseURL: strings.TrimRight(strings.TrimSpace(getenv("CACHE_PROXY_URL", "")), "/"),
			Token:   strings.TrimSpace(getenv("CACHE_PROXY_TOKEN", "")),
			Timeout: getenvDuration("CACHE_PROXY_TIMEOUT", 10*time.Second),
		},
		Stripe: StripeConfig{
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		},
		Redis: RedisConfig{
			Addr:      getenv("REDIS_ADDR", "localhost:6379"),
			Password:  getenv("REDIS_PASSWORD", ""),
			DB:        int(getenvInt64("REDIS_DB", 0)),
			KeyPrefix: getenv("REDIS_KEY_PREFIX", "apikey:"),
			ProxyAddr: getenv("CACHE_PROXY_ADDR", ":8090"),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("RATE_LIMIT_ENABLED", false),
			UsageReportRate:  getenvFloat("RATE_LIMIT_USAGE_REPORT_RATE", 50),
			UsageReportBurst: int(getenvInt64("RATE_LIMIT_USAGE_REPORT_BURST", 100)),
			ReconcileLockTTL: getenvDuration("RECONCILE_LOCK_TTL", 5*time.Minute),
		},

		ReconcileInterval: getenvDuration("RECONCILE_INTERVAL", 0),
		PolicyPath:        strings.TrimSpace(getenv("LEDGER_POLICY_PATH", "")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("8s") or plain seconds ("8").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return def
}
