package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/api/handlers"
	"github.com/BaSui01/scenegen/config"
	"github.com/BaSui01/scenegen/internal/metrics"
	"github.com/BaSui01/scenegen/internal/server"
	"github.com/BaSui01/scenegen/internal/telemetry"
	"github.com/BaSui01/scenegen/optimizer"
	"github.com/BaSui01/scenegen/store"
)

// purgeInterval 数据库存储清理过期报告的间隔
const purgeInterval = 10 * time.Minute

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 SceneGen 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	app       *app
	collector *metrics.Collector
	otel      *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager

	// 限流清理与过期报告清理的生命周期
	background context.Context
	stop       context.CancelFunc
	wg         sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		logger:     logger,
		background: ctx,
		stop:       stop,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	otelProviders, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
		otelProviders = &telemetry.Providers{}
	}
	s.otel = otelProviders

	s.collector = metrics.NewCollector("scenegen", s.logger)

	initCtx, cancel := context.WithTimeout(s.background, 30*time.Second)
	defer cancel()
	s.app, err = newApp(initCtx, s.cfg, s.collector, s.logger)
	if err != nil {
		return fmt.Errorf("failed to init workflow runtime: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	s.startPurger()

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// routes 注册全部 HTTP 端点
func (s *Server) routes() *http.ServeMux {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewPingCheck("store", s.app.store.Ping))
	health.RegisterBackend(s.app.image)
	health.RegisterBackend(s.app.mesh)
	health.RegisterBackend(s.app.scene)

	tier, err := optimizer.ParseHardwareTier(s.cfg.Workflow.HardwareTier)
	if err != nil {
		tier = optimizer.TierMedium
	}
	workflows := handlers.NewWorkflowHandler(s.app.runs, s.logger)
	workflows.OriginPatterns = s.cfg.Server.CORSAllowedOrigins
	presets := handlers.NewPresetHandler(s.app.presets, s.logger)
	optimize := handlers.NewOptimizeHandler(tier, s.logger)
	images := handlers.NewImageHandler(s.app.image, tier, s.logger)

	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))
	mux.HandleFunc("GET /api/v1/services", health.HandleServices)

	// 工作流
	mux.HandleFunc("POST /api/v1/workflows", workflows.HandleCreate)
	mux.HandleFunc("GET /api/v1/workflows", workflows.HandleList)
	mux.HandleFunc("GET /api/v1/workflows/{id}", workflows.HandleGet)
	mux.HandleFunc("DELETE /api/v1/workflows/{id}", workflows.HandleCancel)
	mux.HandleFunc("GET /api/v1/workflows/{id}/events", workflows.HandleEvents)

	// 预设与参数预览
	mux.HandleFunc("GET /api/v1/presets", presets.HandleList)
	mux.HandleFunc("POST /api/v1/presets", presets.HandleRegister)
	mux.HandleFunc("GET /api/v1/presets/{name}", presets.HandleGet)
	mux.HandleFunc("POST /api/v1/optimize", optimize.HandleOptimize)

	// 出图服务
	mux.HandleFunc("GET /api/v1/services/image", images.HandleInfo)
	mux.HandleFunc("POST /api/v1/images/enhance", images.HandleEnhance)

	return mux
}

// handler 构建带中间件链的根 handler
func (s *Server) handler() http.Handler {
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/version"}
	return Chain(s.routes(),
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(s.background, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		Authenticate(s.cfg.Server, skipAuthPaths, s.logger),
	)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer() error {
	sc := s.cfg.Server
	s.httpManager = server.NewManager(s.handler(), server.ConfigFrom(sc, sc.HTTPPort), s.logger)

	// 逆序执行：先停后台任务，再关闭运行管理器与存储，最后刷新遥测
	s.httpManager.OnShutdown("telemetry", s.otel.Shutdown)
	s.httpManager.OnShutdown("workflow runtime", func(context.Context) error { return s.app.close() })
	s.httpManager.OnShutdown("background", func(context.Context) error {
		s.stop()
		s.wg.Wait()
		return nil
	})

	if sc.TLSCertFile != "" && sc.TLSKeyFile != "" {
		return s.httpManager.StartTLS(sc.TLSCertFile, sc.TLSKeyFile)
	}
	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("metrics server disabled")
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	cfg := server.ConfigFrom(s.cfg.Server, s.cfg.Server.MetricsPort)
	cfg.WriteTimeout = 30 * time.Second
	s.metricsManager = server.NewManager(mux, cfg, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🧹 过期报告清理
// =============================================================================

// startPurger 为需要显式删除的存储启动定时清理
func (s *Server) startPurger() {
	p, ok := s.app.store.(store.Purger)
	if !ok || s.cfg.Store.TTL <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.background.Done():
				return
			case <-ticker.C:
				n, err := p.Purge(s.background)
				if err != nil {
					s.logger.Warn("purge expired reports failed", zap.Error(err))
					continue
				}
				if n > 0 {
					s.logger.Info("expired reports purged", zap.Int64("count", n))
				}
			}
		}
	}()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞到收到 SIGINT/SIGTERM 或服务异常退出，然后优雅关闭
func (s *Server) Wait() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 指标服务异常退出时一并关闭主服务
	var metricsErrs <-chan error
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}
	ctx, stop := cancelOnError(ctx, metricsErrs, s.logger)
	defer stop()

	err := s.httpManager.Wait(ctx)
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		err = errors.Join(err, cause)
	}
	if s.metricsManager != nil {
		err = errors.Join(err, s.metricsManager.Shutdown(context.Background()))
	}
	return err
}

// cancelOnError 返回的 ctx 在 errs 收到错误时取消，取消原因即该错误。
// errs 为 nil 时只跟随父 ctx
func cancelOnError(ctx context.Context, errs <-chan error, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case err := <-errs:
			logger.Error("metrics server exited unexpectedly", zap.Error(err))
			cancel(fmt.Errorf("metrics server: %w", err))
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(nil) }
}
