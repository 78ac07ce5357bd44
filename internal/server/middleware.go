package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	accountdomain "github.com/smallbiznis/creditledger/internal/account/domain"
	"github.com/smallbiznis/creditledger/internal/cachesync"
	obscontext "github.com/smallbiznis/creditledger/internal/observability/context"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
)

const contextPrincipalKey = "principal"

type principalClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RequestDeadline bounds every request so a stuck pool acquisition or query is cancelled.
// Event streams are long-lived and exempt.
func RequestDeadline(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 || strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// PrincipalRequired authenticates a Bearer HS256 token carrying {sub, role}.
func (s *Server) PrincipalRequired() gin.HandlerFunc {
	secret := []byte(strings.TrimSpace(s.cfg.AuthJWTSecret))
	return func(c *gin.Context) {
		if len(secret) == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		var claims principalClaims
		token, err := jwt.ParseWithClaims(parts[1], &claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		userID, err := snowflake.ParseString(strings.TrimSpace(claims.Subject))
		if err != nil || userID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		role, err := accountdomain.ParseRole(claims.Role)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal := accountdomain.Principal{UserID: userID, Role: role}
		c.Set(contextPrincipalKey, principal)
		ctx := obscontext.WithActor(c.Request.Context(), string(role), userID.String())
		ctx = obscontext.WithClient(ctx, c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func principalFromContext(c *gin.Context) (accountdomain.Principal, bool) {
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return accountdomain.Principal{}, false
	}
	principal, ok := value.(accountdomain.Principal)
	return principal, ok && principal.UserID != 0
}

// authorize gates a route on the caller's role permissions.
func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), principal, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// managedUser loads the :id user and checks the caller may act on that account.
func (s *Server) managedUser(c *gin.Context) (*accountdomain.User, error) {
	principal, ok := principalFromContext(c)
	if !ok {
		return nil, ErrUnauthorized
	}
	targetID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		return nil, err
	}

	ctx := c.Request.Context()
	actor, err := s.accountSvc.Get(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, accountdomain.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	target, err := s.accountSvc.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !s.accountSvc.CanManage(actor, target) {
		return nil, ErrForbidden
	}
	return target, nil
}

// adjustableUser is managedUser excluding the caller's own account.
func (s *Server) adjustableUser(c *gin.Context) (*accountdomain.User, error) {
	target, err := s.managedUser(c)
	if err != nil {
		return nil, err
	}
	principal, _ := principalFromContext(c)
	if target.ID == principal.UserID {
		return nil, ErrForbidden
	}
	return target, nil
}

// InternalTokenRequired guards service-to-service routes when a token is configured.
func InternalTokenRequired(token string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(token))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}
		provided := []byte(strings.TrimSpace(c.GetHeader(cachesync.HeaderInternalToken)))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			AbortWithError(c, usagedomain.ErrInvalidToken)
			return
		}
		c.Next()
	}
}
