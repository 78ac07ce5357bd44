package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
)

// ResyncCache pushes every active key's ledger balance to the cache proxy.
func (s *Server) ResyncCache(c *gin.Context) {
	report, err := s.reconciler.ResyncAll(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionCacheResync, auditdomain.TargetCache, "", map[string]any{
		"total":  report.Total,
		"synced": report.Synced,
		"failed": report.Failed,
	})
	c.JSON(http.StatusOK, gin.H{"success": report.Failed == 0, "data": report})
}

func (s *Server) SyncUserCache(c *gin.Context) {
	target, err := s.managedUser(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.reconciler.SyncUser(c.Request.Context(), target.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionCacheUserSync, auditdomain.TargetUser, target.ID.String(), map[string]any{
		"synced": report.Synced,
		"failed": report.Failed,
	})
	c.JSON(http.StatusOK, gin.H{"success": report.Failed == 0, "data": report})
}

// CacheStatus relays the proxy health probe; an unhealthy proxy reads as 502.
func (s *Server) CacheStatus(c *gin.Context) {
	result := s.cacheClient.CheckSyncStatus(c.Request.Context())
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, result)
}
