package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
	discountdomain "github.com/smallbiznis/creditledger/internal/discount/domain"
)

type validateDiscountRequest struct {
	Code   string `json:"code"`
	Amount int64  `json:"amount"`
}

// ValidateDiscountCode answers 200 for unusable codes; isValid carries the verdict.
func (s *Server) ValidateDiscountCode(c *gin.Context) {
	var req validateDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.discountSvc.Validate(c.Request.Context(), req.Code, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) CreateDiscountCode(c *gin.Context) {
	var req discountdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	code, err := s.discountSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionDiscountCreate, auditdomain.TargetDiscount, code.ID.String(), map[string]any{
		"code": code.Code,
	})
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": code})
}

func (s *Server) ListDiscountCodes(c *gin.Context) {
	codes, err := s.discountSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": codes})
}

func (s *Server) RedeemDiscountCode(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	code, err := s.discountSvc.Redeem(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionDiscountRedeem, auditdomain.TargetDiscount, code.ID.String(), map[string]any{
		"current_uses": code.CurrentUses,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "data": code})
}
