package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"commentflow/internal/config"
	"commentflow/internal/metrics"
	"commentflow/internal/services"
	"commentflow/pkg/instagram"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Version 构建时通过 -ldflags 注入
var Version = "dev"

// App 组装数据库、平台客户端、自动化服务与 HTTP 路由
type App struct {
	cfg        *config.Config
	db         *gorm.DB
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	platform   services.PlatformClient
	breaker    *instagram.Breaker
	generator  services.ResponseGenerator
	service    *services.CommentAutomationService
	dispatcher *services.CommentDispatcher
	router     *gin.Engine
}

// Option 覆盖默认依赖（测试中注入假平台）
type Option func(*App)

func WithPlatform(p services.PlatformClient) Option {
	return func(a *App) { a.platform = p }
}

func WithGenerator(g services.ResponseGenerator) Option {
	return func(a *App) { a.generator = g }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New 组装应用；db 由调用方打开（OpenDatabase 或测试库）
func New(cfg *config.Config, db *gorm.DB, logger *logrus.Logger, opts ...Option) *App {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &App{cfg: cfg, db: db, logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	if a.metrics == nil {
		a.metrics = metrics.New(nil)
	}
	if a.platform == nil {
		client := instagram.NewClient(platformConfig(cfg.Platform), logger)
		a.platform = client
		a.breaker = client.Breaker()
	}
	if a.generator == nil {
		gen := services.NewOpenAIGenerator(services.OpenAIGeneratorConfig{
			APIKey:      cfg.AI.OpenAI.APIKey,
			BaseURL:     cfg.AI.OpenAI.BaseURL,
			Model:       cfg.AI.OpenAI.Model,
			Temperature: cfg.AI.OpenAI.Temperature,
			MaxTokens:   cfg.AI.OpenAI.MaxTokens,
			Timeout:     cfg.AI.OpenAI.Timeout,
		}, logger)
		if gen.Enabled() {
			a.generator = gen
		} else {
			logger.Info("OpenAI api key not set, AI_GENERATED responses will fail")
		}
	}

	a.service = services.NewCommentAutomationService(db, a.platform, a.generator, logger)
	a.service.SetMetrics(a.metrics)
	a.dispatcher = services.NewCommentDispatcher(a.service, cfg.Automation.WebhookQueueSize, a.metrics, logger)
	a.router = NewRouter(cfg, a)
	return a
}

func platformConfig(pc config.PlatformConfig) *instagram.Config {
	return &instagram.Config{
		BaseURL:           pc.BaseURL,
		APIVersion:        pc.APIVersion,
		Timeout:           pc.Timeout,
		RequestsPerSecond: pc.RequestsPerSecond,
		Burst:             pc.Burst,
		MaxCommentPages:   pc.MaxCommentPages,
		Breaker: &instagram.BreakerConfig{
			Enabled:         pc.CircuitBreaker.Enabled,
			MaxFailures:     pc.CircuitBreaker.MaxFailures,
			ResetTimeout:    pc.CircuitBreaker.ResetTimeout,
			HalfOpenMaxReqs: pc.CircuitBreaker.HalfOpenMaxReqs,
		},
	}
}

func (a *App) Router() *gin.Engine                         { return a.router }
func (a *App) Service() *services.CommentAutomationService { return a.service }
func (a *App) Dispatcher() *services.CommentDispatcher     { return a.dispatcher }
func (a *App) Metrics() *metrics.Metrics                   { return a.metrics }

// Serve 启动 webhook worker 与 HTTP 服务，ctx 结束后优雅关闭。
// worker 不跟随 ctx：HTTP 服务停止接收请求后才停止 worker 并排空队列。
func (a *App) Serve(ctx context.Context) error {
	a.dispatcher.Start(context.Background())
	defer a.dispatcher.Stop()

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: a.router}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server...")
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.dispatcher.Stop()
	a.logger.Info("Server exited")
	return nil
}

// Close 关闭数据库连接
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
