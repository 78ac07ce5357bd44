package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/creditledger/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
	"github.com/smallbiznis/creditledger/internal/cachesync"
)

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

// apiKeyView hides the secret everywhere except the create response.
type apiKeyView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Key        string     `json:"key"`
	Active     bool       `json:"active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func newAPIKeyView(key apikeydomain.APIKey, reveal bool) apiKeyView {
	value := cachesync.MaskKey(key.Key)
	if reveal {
		value = key.Key
	}
	return apiKeyView{
		ID:         key.ID.String(),
		Name:       key.Name,
		Key:        value,
		Active:     key.IsActive,
		LastUsedAt: key.LastUsedAt,
		CreatedAt:  key.CreatedAt,
	}
}

func (s *Server) ListAPIKeys(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	keys, err := s.apiKeySvc.List(c.Request.Context(), principal.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]apiKeyView, 0, len(keys))
	for _, key := range keys {
		views = append(views, newAPIKeyView(key, false))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	key, err := s.apiKeySvc.Create(c.Request.Context(), principal.UserID, req.Name)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, auditdomain.ActionAPIKeyCreate, auditdomain.TargetAPIKey, key.ID.String(), map[string]any{
		"name": key.Name,
	})
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": newAPIKeyView(*key, true)})
}

func (s *Server) DeactivateAPIKey(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	keyID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	existing, err := s.apiKeySvc.Get(ctx, keyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	// Foreign keys read as missing so ids cannot be probed.
	if existing.UserID != principal.UserID {
		AbortWithError(c, apikeydomain.ErrNotFound)
		return
	}

	key, err := s.apiKeySvc.Deactivate(ctx, keyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionAPIKeyDeactivate, auditdomain.TargetAPIKey, key.ID.String(), nil)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": newAPIKeyView(*key, false)})
}
