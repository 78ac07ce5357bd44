package cacheproxy

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditledger/internal/cachesync"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/internal/observability/logger"
	"go.uber.org/zap"
)

const statusUnreachable = "unreachable"

type registerRequest struct {
	Key     string `json:"key" binding:"required"`
	UserID  string `json:"user_id" binding:"required"`
	Credits *int64 `json:"credits" binding:"required,min=0"`
	Active  *bool  `json:"active"`
}

type creditsRequest struct {
	Credits *int64 `json:"credits" binding:"required,min=0"`
}

// Handler serves the internal cache API consumed by cachesync.HTTPClient.
type Handler struct {
	store *Store
	token string
	clock clock.Clock
	log   *zap.Logger
}

func NewHandler(store *Store, token string, clk clock.Clock, log *zap.Logger) (*Handler, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("cache proxy token is required")
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Handler{store: store, token: token, clock: clk, log: log.Named("cacheproxy.handler")}, nil
}

func (h *Handler) Register(r gin.IRouter) {
	group := r.Group("/cache", h.requireToken())
	group.POST("/api-key", h.putKey)
	group.GET("/api-key/:key", h.getKey)
	group.DELETE("/api-key/:key", h.deleteKey)
	group.PATCH("/credits/:key", h.updateCredits)
	group.GET("/sync-status", h.syncStatus)
}

func (h *Handler) requireToken() gin.HandlerFunc {
	expected := []byte(h.token)
	return func(c *gin.Context) {
		provided := []byte(strings.TrimSpace(c.GetHeader(cachesync.HeaderInternalToken)))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			logger.FromContext(c.Request.Context()).Warn("cache proxy rejected request",
				zap.String("path", c.FullPath()),
			)
			fail(c, http.StatusUnauthorized, "invalid internal token")
			return
		}
		c.Next()
	}
}

func (h *Handler) putKey(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "key, user_id and credits are required")
		return
	}

	entry := cachesync.KeyEntry{
		Key:     strings.TrimSpace(req.Key),
		UserID:  strings.TrimSpace(req.UserID),
		Credits: *req.Credits,
		Active:  req.Active == nil || *req.Active,
	}
	now := h.clock.Now()
	if err := h.store.Put(c.Request.Context(), entry, now); err != nil {
		h.storeFailure(c, "put", entry.Key, err)
		return
	}
	entry.UpdatedAt = &now

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "api key cached", "data": entry})
}

func (h *Handler) getKey(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	entry, err := h.store.Get(c.Request.Context(), key)
	if errors.Is(err, ErrEntryNotFound) {
		fail(c, http.StatusNotFound, "api key not cached")
		return
	}
	if err != nil {
		h.storeFailure(c, "get", key, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": entry})
}

func (h *Handler) deleteKey(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	removed, err := h.store.Delete(c.Request.Context(), key)
	if err != nil {
		h.storeFailure(c, "delete", key, err)
		return
	}
	message := "api key removed"
	if !removed {
		message = "api key was not cached"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "data": gin.H{"removed": removed}})
}

func (h *Handler) updateCredits(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	var req creditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "credits must be a non-negative integer")
		return
	}

	err := h.store.UpdateCredits(c.Request.Context(), key, *req.Credits, h.clock.Now())
	if errors.Is(err, ErrEntryNotFound) {
		fail(c, http.StatusNotFound, "api key not cached")
		return
	}
	if err != nil {
		h.storeFailure(c, "update_credits", key, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "credits updated", "data": gin.H{"credits": *req.Credits}})
}

func (h *Handler) syncStatus(c *gin.Context) {
	ctx := c.Request.Context()
	status := cachesync.SyncStatus{
		Redis:     "ok",
		CheckedAt: h.clock.Now().UTC().Format(time.RFC3339),
	}

	if err := h.store.Ping(ctx); err != nil {
		h.log.Warn("redis ping failed", zap.Error(err))
		status.Redis = statusUnreachable
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "redis unreachable", "data": status})
		return
	}

	count, err := h.store.Count(ctx)
	if err != nil {
		h.storeFailure(c, "count", "", err)
		return
	}
	status.KeyCount = count
	c.JSON(http.StatusOK, gin.H{"success": true, "data": status})
}

func (h *Handler) storeFailure(c *gin.Context, op, key string, err error) {
	fields := []zap.Field{zap.String("operation", op), zap.Error(err)}
	if key != "" {
		fields = append(fields, zap.String("api_key", cachesync.MaskKey(key)))
	}
	logger.FromContext(c.Request.Context()).Error("cache store failed", fields...)
	fail(c, http.StatusServiceUnavailable, "cache store unavailable")
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": http.StatusText(status), "message": message})
}
