package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/creditledger/internal/payment/domain"
)

const maxWebhookPayloadBytes = 1 << 20

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	rawProvider := strings.TrimSpace(c.Param("provider"))
	if rawProvider == "" {
		rawProvider = paymentdomain.ProviderStripe.String()
	}
	provider, err := paymentdomain.ParseProvider(rawProvider)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookPayloadBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.paymentSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"outcome":  result.Outcome,
	})
}
