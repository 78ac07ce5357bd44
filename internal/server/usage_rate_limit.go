package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditledger/internal/observability/logger"
	"go.uber.org/zap"
)

const rateLimitReasonKeyRate = "key-rate"

type usageReportRateLimitKey struct {
	APIKey string `json:"apiKey"`
}

// UsageReportRateLimit throttles POST /usage/report per API key when a limiter is wired.
func (s *Server) UsageReportRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.usageLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		apiKey, err := readUsageReportKey(c)
		if err != nil {
			logger.FromContext(ctx).Warn("usage report rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}

		result, err := s.usageLimiter.AllowKey(ctx, apiKey)
		if err != nil {
			logger.FromContext(ctx).Warn("usage report rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		s.obsMetrics.RecordRateLimit(ctx, endpoint, result.Allowed)
		if !result.Allowed {
			logger.FromContext(ctx).Warn("usage report rate limit exceeded",
				zap.String("reason", rateLimitReasonKeyRate),
				zap.String("endpoint", endpoint),
			)
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonKeyRate)
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}

func readUsageReportKey(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload usageReportRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.APIKey), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
