package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// signatureHeaders maps each provider to the header carrying its webhook
// signature. idpay is absent: its digest travels inside the payload.
var signatureHeaders = map[string]string{
	"cardnet":   "Cardnet-Signature",
	"walletpay": "X-Walletpay-Signature",
	"seapay":    "X-Callback-Token",
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.handleProviderWebhook)
}

func (s *Server) handleProviderWebhook(c *gin.Context) {
	provider := c.Param("provider")

	if allowed, err := s.limiter.AllowWebhook(c.Request.Context(), provider); err == nil && !allowed {
		AbortWithError(c, ErrRateLimited)
		return
	}

	payload, err := c.GetRawData()
	if err != nil || len(payload) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	var signature string
	if header, ok := signatureHeaders[provider]; ok {
		signature = c.GetHeader(header)
	}

	outcome, err := s.payments.HandleWebhook(c.Request.Context(), provider, payload, signature)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Providers retry on non-2xx, so every verified event acknowledges 200
	// regardless of whether it changed anything.
	c.JSON(http.StatusOK, gin.H{
		"event_type": outcome.EventType,
		"applied":    outcome.Applied,
		"duplicate":  outcome.Duplicate,
		"ignored":    outcome.Ignored,
	})
}
