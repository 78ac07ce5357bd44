package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
)

const usageRecordedMessage = "Usage recorded successfully"

func (s *Server) ReportUsage(c *gin.Context) {
	var req usagedomain.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, usagedomain.ErrInvalidUsage)
		return
	}

	result, err := s.usageSvc.Report(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"message":          usageRecordedMessage,
		"remainingCredits": result.RemainingCredits,
		"creditsUsed":      result.CreditsUsed,
		"endpoint":         result.Endpoint,
		"queryType":        result.QueryType,
		"usageDateTime":    result.UsageDateTime,
	})
}

func (s *Server) UsageStats(c *gin.Context) {
	window, err := parseOptionalWindow(c.Query("window"))
	if err != nil || window < 0 {
		AbortWithError(c, newValidationError("window", "invalid_window", "window must be a duration such as 24h or 7d"))
		return
	}
	top, err := parseOptionalInt(c.Query("top"))
	if err != nil || top < 0 {
		AbortWithError(c, newValidationError("top", "invalid_top", "top must be a non-negative integer"))
		return
	}

	stats, err := s.usageSvc.Stats(c.Request.Context(), window, top)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

type resolveAPIKeyRequest struct {
	APIKey string `json:"apiKey"`
}

// ResolveAPIKey is the read-through lookup for validators: cache first, ledger on miss.
func (s *Server) ResolveAPIKey(c *gin.Context) {
	var req resolveAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.APIKey) == "" {
		AbortWithError(c, newValidationError("apiKey", "required", "apiKey is required"))
		return
	}

	resolution, err := s.apiKeySvc.Resolve(c.Request.Context(), req.APIKey)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": resolution})
}
