package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/creditledger/internal/account/domain"
	apikeydomain "github.com/smallbiznis/creditledger/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/creditledger/internal/audit/domain"
	"github.com/smallbiznis/creditledger/internal/authorization"
	discountdomain "github.com/smallbiznis/creditledger/internal/discount/domain"
	ledgerdomain "github.com/smallbiznis/creditledger/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/creditledger/internal/payment/domain"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
	"github.com/smallbiznis/creditledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Success         bool         `json:"success"`
	Error           errorPayload `json:"error"`
	CurrentCredits  *int64       `json:"currentCredits,omitempty"`
	CreditsRequired *int64       `json:"creditsRequired,omitempty"`
	Available       *int64       `json:"available,omitempty"`
	Requested       *int64       `json:"requested,omitempty"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, resp := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, resp)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorResponse) {
	if err == nil {
		return http.StatusInternalServerError, failure("internal_error", "internal server error")
	}

	if insufficient, ok := ledgerdomain.IsInsufficientCredits(err); ok {
		resp := failure("insufficient_credits", "Insufficient credits")
		current, required := insufficient.CurrentCredits, insufficient.Required
		resp.CurrentCredits = &current
		resp.CreditsRequired = &required
		return http.StatusPaymentRequired, resp
	}

	if pool, ok := ledgerdomain.IsInsufficientPool(err); ok {
		resp := failure("insufficient_pool", "Insufficient company credits")
		available, requested := pool.Available, pool.Requested
		resp.Available = &available
		resp.Requested = &requested
		return http.StatusBadRequest, resp
	}

	if vErr := asValidationErrors(err); vErr != nil {
		resp := failure("validation_error", "validation error")
		resp.Error.Errors = vErr.Errors
		return http.StatusBadRequest, resp
	}

	if errors.Is(err, usagedomain.ErrInvalidUsage) {
		return http.StatusBadRequest, failure("validation_error", "Invalid usage data: apiKey and creditsUsed required")
	}

	if code, ok := validationCode(err); ok {
		resp := failure("validation_error", "validation error")
		resp.Error.Errors = []ValidationError{{
			Field:   validationErrorField(code),
			Code:    code,
			Message: validationErrorMessage(code),
		}}
		return http.StatusBadRequest, resp
	}

	switch {
	case errors.Is(err, usagedomain.ErrKeyNotFound):
		return http.StatusNotFound, failure("not_found", "API key not found")
	case errors.Is(err, usagedomain.ErrUserNotFound),
		errors.Is(err, ledgerdomain.ErrUserNotFound),
		errors.Is(err, apikeydomain.ErrUserNotFound):
		return http.StatusNotFound, failure("not_found", "User not found")
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, usagedomain.ErrInvalidToken),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, failure("unauthorized", "unauthorized")
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusBadRequest, failure("invalid_signature", "webhook signature verification failed")
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, failure("forbidden", "forbidden")
	case errors.Is(err, ErrConflict),
		errors.Is(err, accountdomain.ErrEmailTaken),
		errors.Is(err, discountdomain.ErrCodeTaken),
		errors.Is(err, discountdomain.ErrCodeExhausted),
		errors.Is(err, ledgerdomain.ErrDuplicateReference):
		return http.StatusConflict, failure("conflict", conflictMessage(err))
	case isNotFoundError(err):
		return http.StatusNotFound, failure("not_found", "not found")
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, failure("rate_limited", "too many requests")
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, paymentdomain.ErrProviderNotConfigured):
		return http.StatusServiceUnavailable, failure("service_unavailable", "service unavailable")
	default:
		return http.StatusInternalServerError, failure("internal_error", "internal server error")
	}
}

func failure(errType, message string) errorResponse {
	return errorResponse{Error: errorPayload{Type: errType, Message: message}}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, accountdomain.ErrEmailTaken):
		return "email already registered"
	case errors.Is(err, discountdomain.ErrCodeTaken):
		return "discount code already exists"
	case errors.Is(err, discountdomain.ErrCodeExhausted):
		return "discount code has no remaining uses"
	case errors.Is(err, ledgerdomain.ErrDuplicateReference):
		return "reference already applied"
	default:
		return "conflict"
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationSentinels = []error{
	ErrInvalidRequest,
	pagination.ErrInvalidPageToken,
	ledgerdomain.ErrInvalidAmount,
	ledgerdomain.ErrInvalidUser,
	ledgerdomain.ErrInvalidThreshold,
	ledgerdomain.ErrInvalidGracePeriod,
	ledgerdomain.ErrSelfTransfer,
	apikeydomain.ErrInvalidName,
	apikeydomain.ErrInvalidKeyID,
	accountdomain.ErrInvalidEmail,
	accountdomain.ErrInvalidRole,
	accountdomain.ErrInvalidCredits,
	accountdomain.ErrInvalidParent,
	discountdomain.ErrInvalidCode,
	discountdomain.ErrInvalidDiscountType,
	discountdomain.ErrInvalidDiscountValue,
	discountdomain.ErrInvalidAmount,
	discountdomain.ErrInvalidLimits,
	paymentdomain.ErrProviderNotFound,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidEvent,
	auditdomain.ErrInvalidAction,
	auditdomain.ErrInvalidTimeRange,
}

func validationCode(err error) (string, bool) {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, accountdomain.ErrNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, discountdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger a stable type and code for the last handler error.
func classifyErrorForLog(err error) (string, string) {
	_, resp := mapError(err)
	if code, ok := validationCode(err); ok {
		return resp.Error.Type, code
	}
	return resp.Error.Type, err.Error()
}
