package cachesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/smallbiznis/creditledger/internal/config"
	obscontext "github.com/smallbiznis/creditledger/internal/observability/context"
	obsmetrics "github.com/smallbiznis/creditledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:generate mockgen -source=client.go -destination=mock/mock_client.go -package=mock

const (
	HeaderInternalToken = "X-Internal-Token"
	defaultTimeout      = 10 * time.Second
	maxResponseBytes    = 1 << 20
)

// Client talks to the cache proxy. Implementations never panic and never return errors.
type Client interface {
	RegisterKey(ctx context.Context, entry KeyEntry) Result
	DeleteKey(ctx context.Context, key string) Result
	UpdateCredits(ctx context.Context, key string, credits int64) Result
	GetKey(ctx context.Context, key string) Result
	CheckSyncStatus(ctx context.Context) Result
}

type ClientParams struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type HTTPClient struct {
	baseURL    string
	token      string
	timeout    time.Duration
	http       *http.Client
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func NewClient(p ClientParams) Client {
	return NewHTTPClient(p.Cfg.CacheProxy, p.Log, p.ObsMetrics)
}

func NewHTTPClient(cfg config.CacheProxyConfig, log *zap.Logger, metrics *obsmetrics.Metrics) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	log = log.Named("cachesync.client")
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:   strings.TrimSpace(cfg.Token),
		timeout: timeout,
		http: &http.Client{
			Transport: &LoggingTransport{Transport: http.DefaultTransport, Log: log},
		},
		log:        log,
		obsMetrics: metrics,
	}
}

func (c *HTTPClient) RegisterKey(ctx context.Context, entry KeyEntry) Result {
	payload := map[string]any{
		"key":     entry.Key,
		"user_id": entry.UserID,
		"credits": entry.Credits,
		"active":  entry.Active,
	}
	return c.do(ctx, OpRegisterKey, http.MethodPost, "/cache/api-key", entry.Key, payload)
}

func (c *HTTPClient) DeleteKey(ctx context.Context, key string) Result {
	return c.do(ctx, OpDeleteKey, http.MethodDelete, "/cache/api-key/"+url.PathEscape(key), key, nil)
}

func (c *HTTPClient) UpdateCredits(ctx context.Context, key string, credits int64) Result {
	return c.do(ctx, OpUpdateCredits, http.MethodPatch, "/cache/credits/"+url.PathEscape(key), key, map[string]any{"credits": credits})
}

func (c *HTTPClient) GetKey(ctx context.Context, key string) Result {
	return c.do(ctx, OpGetKey, http.MethodGet, "/cache/api-key/"+url.PathEscape(key), key, nil)
}

func (c *HTTPClient) CheckSyncStatus(ctx context.Context) Result {
	return c.do(ctx, OpSyncStatus, http.MethodGet, "/cache/sync-status", "", nil)
}

type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (c *HTTPClient) do(ctx context.Context, op Operation, method, path, key string, body any) Result {
	start := time.Now()
	result := c.send(ctx, method, path, body)
	c.observe(ctx, op, key, result, time.Since(start))
	return result
}

func (c *HTTPClient) send(ctx context.Context, method, path string, body any) Result {
	if c.baseURL == "" || c.token == "" {
		return Result{StatusCode: http.StatusServiceUnavailable, Message: "cache proxy not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Result{StatusCode: http.StatusInternalServerError, Message: fmt.Sprintf("encode request: %v", err)}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Result{StatusCode: http.StatusInternalServerError, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set(HeaderInternalToken, c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		status, message := classifyTransportError(ctx, err)
		return Result{StatusCode: status, Message: message}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		status, message := classifyTransportError(ctx, err)
		return Result{StatusCode: status, Message: message}
	}

	var env envelope
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &env)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if env.Success != nil && !*env.Success {
		ok = false
	}

	result := Result{Success: ok, StatusCode: resp.StatusCode, Message: env.Message}
	if ok {
		if len(env.Data) > 0 && string(env.Data) != "null" {
			result.Data = env.Data
		} else if json.Valid(raw) {
			result.Data = raw
		}
		return result
	}

	if result.Message == "" {
		result.Message = env.Error
	}
	if result.Message == "" {
		result.Message = http.StatusText(resp.StatusCode)
	}
	return result
}

// classifyTransportError maps client-side failures: 504 timeout, 502 unreachable, 500 otherwise.
func classifyTransportError(ctx context.Context, err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "cache proxy timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout, "cache proxy timeout"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return http.StatusBadGateway, "cache proxy unreachable: " + dnsErr.Err
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EHOSTUNREACH) {
		return http.StatusBadGateway, "cache proxy unreachable"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return http.StatusBadGateway, "cache proxy unreachable"
	}

	if errors.Is(err, context.Canceled) {
		return http.StatusInternalServerError, "cache proxy call cancelled"
	}
	return http.StatusInternalServerError, err.Error()
}

func (c *HTTPClient) observe(ctx context.Context, op Operation, key string, result Result, elapsed time.Duration) {
	c.obsMetrics.RecordCacheSync(ctx, string(op), result.Success, result.StatusCode, elapsed)
	LogResult(c.log, op, key, result, zap.Int64("duration_ms", elapsed.Milliseconds()))
}

// LogResult is the single logging path for cache-proxy outcomes.
func LogResult(log *zap.Logger, op Operation, key string, result Result, fields ...zap.Field) {
	fields = append(fields,
		zap.String("operation", string(op)),
		zap.Int("status_code", result.StatusCode),
	)
	if key != "" {
		fields = append(fields, zap.String("api_key", MaskKey(key)))
	}
	if result.Success {
		log.Debug("cache sync succeeded", fields...)
		return
	}
	log.Warn("cache sync failed", append(fields, zap.String("message", result.Message))...)
}
