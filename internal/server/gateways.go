package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	gwdomain "github.com/payloop/payloop/internal/gateway/domain"
)

func (s *Server) registerGatewayRoutes() {
	api := s.engine.Group("/api/v1")

	api.GET("/gateways", s.listGateways)
	api.GET("/gateways/available", s.listAvailableGateways)
	api.PUT("/gateways/:provider", s.configureGateway)
	api.POST("/gateways/:provider/enable", s.enableGateway)
	api.POST("/gateways/:provider/disable", s.disableGateway)
	api.POST("/gateways/:provider/default", s.setDefaultGateway)
	api.POST("/gateways/:provider/validate", s.validateGatewayCredentials)
}

func (s *Server) listGateways(c *gin.Context) {
	summaries, err := s.gatewaySvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summaries})
}

// listAvailableGateways returns the gateways a payment in the given currency
// could run on: enabled, ready to call the provider, and supporting the
// currency. Credentials never leave the summary form.
func (s *Server) listAvailableGateways(c *gin.Context) {
	code := c.Query("currency")
	if code == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	configs, err := s.gatewaySvc.GetEnabledForCurrency(c.Request.Context(), code)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	available := make([]gwdomain.ConfigSummary, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.HasCredentials() && !cfg.SandboxMode {
			continue
		}
		available = append(available, gwdomain.ConfigSummary{
			Provider:            cfg.Provider,
			DisplayName:         cfg.DisplayName,
			IsEnabled:           cfg.IsEnabled,
			IsDefault:           cfg.IsDefault,
			SandboxMode:         cfg.SandboxMode,
			Configured:          cfg.HasCredentials(),
			SupportedCurrencies: cfg.SupportedCurrencies,
			SupportedMethods:    cfg.SupportedMethods,
			FeePercent:          cfg.FeePercent,
			FixedFee:            cfg.FixedFee,
			MinAmount:           cfg.MinAmount,
			MaxAmount:           cfg.MaxAmount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": available})
}

func (s *Server) configureGateway(c *gin.Context) {
	var req gwdomain.ConfigureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	// The path is authoritative for which provider is being configured.
	req.Provider = strings.TrimSpace(c.Param("provider"))

	summary, err := s.gatewaySvc.Configure(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) enableGateway(c *gin.Context) {
	summary, err := s.gatewaySvc.Enable(c.Request.Context(), c.Param("provider"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) disableGateway(c *gin.Context) {
	summary, err := s.gatewaySvc.Disable(c.Request.Context(), c.Param("provider"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) setDefaultGateway(c *gin.Context) {
	summary, err := s.gatewaySvc.SetDefault(c.Request.Context(), c.Param("provider"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) validateGatewayCredentials(c *gin.Context) {
	result, err := s.gatewaySvc.ValidateCredentials(c.Request.Context(), c.Param("provider"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
