package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/creditledger/internal/account/domain"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
)

func (s *Server) CreateUser(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req accountdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	// Client admins only provision plain users under themselves.
	if principal.Role == accountdomain.RoleClientAdmin {
		if strings.TrimSpace(req.Role) != "" {
			if role, err := accountdomain.ParseRole(req.Role); err != nil || role != accountdomain.RoleUser {
				AbortWithError(c, ErrForbidden)
				return
			}
		}
		req.Role = string(accountdomain.RoleUser)
		parentID := principal.UserID
		req.ParentUserID = &parentID
	}

	user, err := s.accountSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionUserCreate, auditdomain.TargetUser, user.ID.String(), map[string]any{
		"email": user.Email,
		"role":  string(user.Role),
	})
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": user})
}

func (s *Server) ListUsers(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	users, err := s.accountSvc.ListManaged(c.Request.Context(), principal.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": users})
}

func (s *Server) DeleteUser(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	target, err := s.managedUser(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if target.ID == principal.UserID {
		AbortWithError(c, newValidationError("id", "invalid_target", "cannot delete your own account"))
		return
	}

	report, err := s.apiKeySvc.DeleteUserCascade(c.Request.Context(), target.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionUserDelete, auditdomain.TargetUser, target.ID.String(), map[string]any{
		"keys_removed":         report.KeysRemoved,
		"transactions_removed": report.TransactionsRemoved,
		"usage_removed":        report.UsageRemoved,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "data": report})
}
