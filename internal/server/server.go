package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/payloop/payloop/internal/config"
	"github.com/payloop/payloop/internal/dedupe"
	"github.com/payloop/payloop/internal/gateway"
	gwdomain "github.com/payloop/payloop/internal/gateway/domain"
	"github.com/payloop/payloop/internal/gateway/httpx"
	"github.com/payloop/payloop/internal/observability"
	obsmiddleware "github.com/payloop/payloop/internal/observability/logger"
	obsmetrics "github.com/payloop/payloop/internal/observability/metrics"
	obstracing "github.com/payloop/payloop/internal/observability/tracing"
	"github.com/payloop/payloop/internal/orchestrator"
	"github.com/payloop/payloop/internal/ratelimit"
	"github.com/payloop/payloop/internal/stats"
	statsservice "github.com/payloop/payloop/internal/stats/service"
	"github.com/payloop/payloop/internal/transaction"
	"github.com/payloop/payloop/internal/webhooklog"
)

var Module = fx.Module("http.server",
	config.Module,
	fx.Provide(registerGin),
	gateway.Module,
	transaction.Module,
	stats.Module,
	webhooklog.Module,
	dedupe.Module,
	ratelimit.Module,
	orchestrator.Module,
	fx.Invoke(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	gatewaySvc gwdomain.Service
	payments   orchestrator.Service
	statsSvc   statsservice.Service
	limiter    *ratelimit.IngestLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	GatewaySvc gwdomain.Service
	Payments   orchestrator.Service
	StatsSvc   statsservice.Service
	Limiter    *ratelimit.IngestLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

func newServer(p ServerParams) *Server {
	if p.ObsMetrics != nil {
		m := p.ObsMetrics
		httpx.SetBreakerNotify(func(provider string) {
			m.RecordBreakerOpen(context.Background(), provider)
		})
	}

	return &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		gatewaySvc: p.GatewaySvc,
		payments:   p.Payments,
		statsSvc:   p.StatsSvc,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}
}

func NewServer(p ServerParams) *Server {
	svc := newServer(p)

	svc.registerPaymentRoutes()
	svc.registerGatewayRoutes()
	svc.registerWebhookRoutes()
	svc.registerStatsRoutes()

	return svc
}

// NewWebhookServer wires only the webhook ingress surface; the webhook app
// deploys it separately so provider callbacks stay up while the API is down.
func NewWebhookServer(p ServerParams) *Server {
	svc := newServer(p)
	svc.registerWebhookRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}
