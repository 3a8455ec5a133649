package app

import (
	"commentflow/internal/config"
	"commentflow/internal/handlers"
	"commentflow/internal/middleware"
	"commentflow/internal/observability"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter 注册中间件与全部路由
func NewRouter(cfg *config.Config, a *App) *gin.Engine {
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg))
	r.Use(middleware.RateLimitMiddlewareFromConfig(cfg, a.metrics))
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(observability.ServiceName(cfg)))
	}

	handlers.RegisterHealthRoutes(r, handlers.NewHealthHandler(a.db, a.breaker, Version))
	if cfg.Monitoring.Enabled {
		r.GET(cfg.Monitoring.MetricsPath, gin.WrapH(a.metrics.Handler()))
	}

	// 平台 webhook 不走 /api
	handlers.RegisterWebhookRoutes(r.Group(""),
		handlers.NewWebhookHandler(cfg.Automation.WebhookVerifyToken, a.dispatcher, a.logger))

	api := r.Group("/api")
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(a.service, cfg.Automation.LogPageSize))
	return r
}
