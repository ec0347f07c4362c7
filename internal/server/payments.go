package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"github.com/payloop/payloop/internal/orchestrator"
	trxrepo "github.com/payloop/payloop/internal/transaction/repository"
)

func (s *Server) registerPaymentRoutes() {
	api := s.engine.Group("/api/v1")

	api.POST("/payments", s.createPayment)
	api.GET("/payments", s.listPayments)
	api.GET("/payments/:id", s.getPayment)
	api.POST("/payments/:id/verify", s.verifyPayment)
	api.GET("/payments/:id/alternatives", s.listAlternativeGateways)
	api.POST("/payments/:id/retry", s.retryPayment)
	api.POST("/payments/:id/refund", s.refundPayment)
}

func (s *Server) createPayment(c *gin.Context) {
	// A limiter error means redis is unreachable; fail open and let the
	// request through.
	if allowed, err := s.limiter.AllowPaymentCreate(c.Request.Context(), c.ClientIP()); err == nil && !allowed {
		AbortWithError(c, ErrRateLimited)
		return
	}

	var req orchestrator.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount <= 0 {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be a positive integer in minor units"))
		return
	}
	if req.Currency == "" {
		AbortWithError(c, newValidationError("currency", "required", "currency is required"))
		return
	}

	trx, err := s.payments.CreatePayment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, trx)
}

func (s *Server) listPayments(c *gin.Context) {
	filter := trxrepo.ListFilter{
		Provider: c.Query("provider"),
		Status:   c.Query("status"),
		Limit:    queryInt(c, "limit"),
		Offset:   queryInt(c, "offset"),
	}

	transactions, err := s.payments.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": transactions})
}

func (s *Server) getPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	trx, err := s.payments.GetTransaction(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, trx)
}

func (s *Server) verifyPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	trx, err := s.payments.VerifyPayment(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, trx)
}

func (s *Server) listAlternativeGateways(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	alternatives, err := s.payments.GetAlternativeGateways(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	providers := make([]gin.H, 0, len(alternatives))
	for _, cfg := range alternatives {
		providers = append(providers, gin.H{
			"provider":     cfg.Provider,
			"display_name": cfg.DisplayName,
			"fee_percent":  cfg.FeePercent,
			"fixed_fee":    cfg.FixedFee,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": providers})
}

func (s *Server) retryPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	var req struct {
		Provider string `json:"provider"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	trx, err := s.payments.RetryWithAlternateGateway(c.Request.Context(), id, req.Provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, trx)
}

func (s *Server) refundPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	// Zero or absent amount means a full refund.
	var req struct {
		Amount int64 `json:"amount"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	trx, err := s.payments.RefundPayment(c.Request.Context(), id, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, trx)
}

func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}

func paymentID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid payment id"))
		return 0, false
	}
	return id, true
}
