package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/creditledger/internal/account/domain"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
)

const (
	adjustDirectionCredit = "credit"
	adjustDirectionDebit  = "debit"
)

type adjustCreditsRequest struct {
	Amount    int64  `json:"amount"`
	Direction string `json:"direction"`
	Reason    string `json:"reason"`
}

type thresholdRequest struct {
	Threshold *int64 `json:"threshold"`
}

type gracePeriodRequest struct {
	Days *int `json:"days"`
}

func (s *Server) AdjustUserCredits(c *gin.Context) {
	var req adjustCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount <= 0 {
		AbortWithError(c, ledgerdomain.ErrInvalidAmount)
		return
	}

	amount := req.Amount
	switch strings.ToLower(strings.TrimSpace(req.Direction)) {
	case "", adjustDirectionCredit:
	case adjustDirectionDebit:
		amount = -amount
	default:
		AbortWithError(c, newValidationError("direction", "invalid_direction", "direction must be credit or debit"))
		return
	}

	target, err := s.adjustableUser(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	principal, _ := principalFromContext(c)

	// Client admins hand out their own balance; only business admins mint or burn credits.
	if principal.Role != accountdomain.RoleBusinessAdmin {
		s.allocateCredits(c, principal, target, amount, req.Reason)
		return
	}

	balance, err := s.ledgerSvc.AdjustCredits(c.Request.Context(), ledgerdomain.AdjustRequest{
		AdminUserID:  principal.UserID,
		TargetUserID: target.ID,
		Amount:       amount,
		Reason:       req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, auditdomain.ActionCreditsAdjust, auditdomain.TargetUser, target.ID.String(), map[string]any{
		"amount":         amount,
		"reason":         req.Reason,
		"new_balance":    balance.NewBalance,
		"transaction_id": balance.TransactionID.String(),
	})

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"newBalance":    balance.NewBalance,
		"transactionId": balance.TransactionID.String(),
	})
}

func (s *Server) allocateCredits(c *gin.Context, principal accountdomain.Principal, target *accountdomain.User, amount int64, reason string) {
	if amount <= 0 {
		AbortWithError(c, ErrForbidden)
		return
	}

	transfer, err := s.ledgerSvc.TransferCredits(c.Request.Context(), ledgerdomain.TransferRequest{
		FromUserID: principal.UserID,
		ToUserID:   target.ID,
		Amount:     amount,
		Reason:     reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, auditdomain.ActionCreditsAllocate, auditdomain.TargetUser, target.ID.String(), map[string]any{
		"amount":         amount,
		"reason":         reason,
		"new_balance":    transfer.Target.NewBalance,
		"pool_balance":   transfer.Source.NewBalance,
		"transaction_id": transfer.Target.TransactionID.String(),
	})

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"amount":        amount,
		"newBalance":    transfer.Target.NewBalance,
		"poolBalance":   transfer.Source.NewBalance,
		"transactionId": transfer.Target.TransactionID.String(),
	})
}

func (s *Server) SetUserThreshold(c *gin.Context) {
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	target, err := s.adjustableUser(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	principal, _ := principalFromContext(c)

	if err := s.ledgerSvc.SetCreditThreshold(c.Request.Context(), principal.UserID, target.ID, req.Threshold); err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionThresholdSet, auditdomain.TargetUser, target.ID.String(), map[string]any{
		"threshold": req.Threshold,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "threshold": req.Threshold})
}

func (s *Server) SetUserGracePeriod(c *gin.Context) {
	var req gracePeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	target, err := s.adjustableUser(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	principal, _ := principalFromContext(c)

	end, err := s.ledgerSvc.SetGracePeriod(c.Request.Context(), principal.UserID, target.ID, req.Days)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionGracePeriodSet, auditdomain.TargetUser, target.ID.String(), map[string]any{
		"days":             req.Days,
		"grace_period_end": end,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "gracePeriodEnd": end})
}

func (s *Server) ReconstructUserBalance(c *gin.Context) {
	target, err := s.managedUser(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.ledgerSvc.ReconstructBalance(c.Request.Context(), target.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

func (s *Server) GetMyThreshold(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	ctx := c.Request.Context()
	status, err := s.ledgerSvc.CheckThreshold(ctx, principal.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	grace, err := s.ledgerSvc.HasActiveGracePeriod(ctx, principal.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"belowThreshold":    status.BelowThreshold,
		"currentCredits":    status.CurrentCredits,
		"threshold":         status.Threshold,
		"activeGracePeriod": grace,
	})
}

func (s *Server) ListMyTransactions(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items, pageInfo, err := s.ledgerSvc.ListTransactions(c.Request.Context(), principal.UserID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": pageInfo})
}

func (s *Server) ListMyUsage(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items, pageInfo, err := s.ledgerSvc.ListUsage(c.Request.Context(), principal.UserID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": pageInfo})
}
