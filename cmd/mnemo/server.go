package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/api/handlers"
	"github.com/brooksjoey/MnemosyneOS/config"
	"github.com/brooksjoey/MnemosyneOS/embedding"
	"github.com/brooksjoey/MnemosyneOS/internal/cache"
	"github.com/brooksjoey/MnemosyneOS/internal/metrics"
	"github.com/brooksjoey/MnemosyneOS/internal/server"
	"github.com/brooksjoey/MnemosyneOS/internal/telemetry"
	"github.com/brooksjoey/MnemosyneOS/llm"
	"github.com/brooksjoey/MnemosyneOS/memory"
	"github.com/brooksjoey/MnemosyneOS/recordstore"
	"github.com/brooksjoey/MnemosyneOS/vectorstore"
)

// initTimeout 存储后端初始化超时
const initTimeout = 30 * time.Second

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 MnemosyneOS 的主服务器：组装记忆引擎、挂载路由并管理生命周期
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	telemetry  *telemetry.Providers

	httpManager      *server.Manager
	metricsCollector *metrics.Collector

	// 记忆引擎与其依赖
	cacheManager *cache.Manager
	records      recordstore.Store
	vectors      vectorstore.Store
	svc          *memory.Service

	// Handlers
	healthHandler  *handlers.HealthHandler
	memoryHandler  *handlers.MemoryHandler
	searchHandler  *handlers.SearchHandler
	reflectHandler *handlers.ReflectHandler
	statsHandler   *handlers.StatsHandler
	eventsHandler  *handlers.EventsHandler

	// 热更新管理器
	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		telemetry:  otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("mnemosyne", s.logger)

	// 2. 组装记忆引擎
	if err := s.initEngine(); err != nil {
		return fmt.Errorf("failed to init memory engine: %w", err)
	}

	// 3. 初始化 Handlers
	s.initHandlers()

	// 4. 初始化热更新管理器
	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	// 5. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Bool("tls_enabled", s.cfg.Server.TLS.Enabled),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initEngine 组装记忆引擎：记录库 → 向量库 → 嵌入提供者 → 摘要器 → 服务
func (s *Server) initEngine() error {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	records, err := recordstore.NewStoreFromConfig(ctx, s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	s.records = records

	vectors, err := vectorstore.NewStoreFromConfig(ctx, s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	s.vectors = vectors

	// 缓存不可用只降级，不阻止启动
	var vectorCache embedding.VectorCache
	if s.cfg.Cache.Enabled {
		mgr, cerr := cache.NewManager(cache.Config{
			Addr:         s.cfg.Cache.Addr,
			Password:     s.cfg.Cache.Password,
			DB:           s.cfg.Cache.DB,
			DefaultTTL:   s.cfg.Cache.DefaultTTL,
			PoolSize:     s.cfg.Cache.PoolSize,
			MinIdleConns: s.cfg.Cache.MinIdleConns,
		}, s.logger)
		if cerr != nil {
			s.logger.Warn("embedding cache unavailable, embedding without cache", zap.Error(cerr))
		} else {
			s.cacheManager = mgr
			vectorCache = mgr
		}
	}

	provider, err := embedding.NewProviderFromConfig(s.cfg, vectorCache, s.logger)
	if err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}

	summarizer, err := llm.NewSummarizerFromConfig(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("summarizer: %w", err)
	}

	svc, err := memory.NewService(memory.Options{
		Config:     s.cfg,
		Provider:   provider,
		Vectors:    vectors,
		Records:    records,
		Summarizer: summarizer,
		Metrics:    s.metricsCollector,
		Logger:     s.logger,
	})
	if err != nil {
		return fmt.Errorf("memory service: %w", err)
	}
	s.svc = svc

	s.logger.Info("Memory engine initialized",
		zap.String("embedding_provider", provider.ID()),
		zap.Int("dimensions", provider.Dimensions()),
		zap.String("summarizer", summarizer.Name()),
	)
	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewEngineHealthCheck("engine", s.svc.Ping))
	if s.cacheManager != nil {
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("cache", s.cacheManager.Ping))
	}

	s.memoryHandler = handlers.NewMemoryHandler(s.svc, s.logger)
	s.searchHandler = handlers.NewSearchHandler(s.svc, s.logger)
	s.reflectHandler = handlers.NewReflectHandler(s.svc, s.logger)
	s.statsHandler = handlers.NewStatsHandler(s.svc, s.logger)
	s.eventsHandler = handlers.NewEventsHandler(s.svc, s.logger)

	s.logger.Info("Handlers initialized")
}

// initHotReloadManager 初始化热更新管理器
func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig
	})

	if err := s.hotReloadManager.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager)
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 挂载路由、构建中间件链并启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查与版本端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 记忆 API 路由
	// ========================================
	mux.HandleFunc("POST /v1/memories", s.memoryHandler.HandleIngest)
	mux.HandleFunc("GET /v1/memories/{id}", s.memoryHandler.HandleGet)
	mux.HandleFunc("DELETE /v1/memories/{id}", s.memoryHandler.HandleDelete)
	mux.HandleFunc("POST /v1/search", s.searchHandler.HandleSearch)
	mux.HandleFunc("POST /v1/reflect", s.reflectHandler.HandleReflect)
	mux.HandleFunc("GET /v1/reflect", s.reflectHandler.HandleReflectionStatus)
	mux.HandleFunc("GET /v1/stats", s.statsHandler.HandleStats)
	mux.HandleFunc("GET /v1/events", s.eventsHandler.HandleEvents)

	// ========================================
	// Prometheus 指标
	// ========================================
	mux.Handle("/metrics", promhttp.Handler())

	// ========================================
	// 配置管理 API（独立认证保护，不依赖全局中间件链的顺序）
	// ========================================
	if s.configAPIHandler != nil {
		configAuth := config.NewConfigAPIMiddleware(s.configAPIHandler, s.cfg.Auth.APIKey)
		mux.HandleFunc("/v1/config", configAuth.RequireAuth(s.configAPIHandler.HandleConfig))
		mux.HandleFunc("/v1/config/reload", configAuth.RequireAuth(s.configAPIHandler.HandleReload))
		mux.HandleFunc("/v1/config/fields", configAuth.RequireAuth(s.configAPIHandler.HandleFields))
		mux.HandleFunc("/v1/config/changes", configAuth.RequireAuth(s.configAPIHandler.HandleChanges))
		s.logger.Info("Configuration API registered with authentication")
	}

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	middlewares = append(middlewares, MetricsMiddleware(s.metricsCollector))

	if s.cfg.Server.RateLimitPerMin > 0 {
		rateCtx, rateCancel := context.WithCancel(context.Background())
		s.rateLimiterCancel = rateCancel
		rps := float64(s.cfg.Server.RateLimitPerMin) / 60.0
		middlewares = append(middlewares, RateLimiter(rateCtx, rps, s.cfg.Server.RateLimitBurst, s.logger))
	}

	switch s.cfg.Auth.Mode {
	case "api_key":
		middlewares = append(middlewares, APIKeyAuth(s.cfg.Auth.APIKey, skipAuthPaths, s.logger))
		s.logger.Info("API key authentication enabled")
	case "bearer":
		middlewares = append(middlewares, BearerAuth(s.cfg.Auth.JWTSecret, s.cfg.Auth.Audience, skipAuthPaths, s.logger))
		s.logger.Info("Bearer token authentication enabled")
	default:
		s.logger.Warn("API authentication disabled")
	}

	handler := Chain(mux, middlewares...)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	var err error
	if s.cfg.Server.TLS.Enabled {
		err = s.httpManager.StartTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
	} else {
		err = s.httpManager.Start()
	}
	if err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务。
// 顺序：限流清理 → 热更新 → HTTP → 记忆引擎 → 存储 → 缓存 → 遥测
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 引擎先于存储关闭，等待在途反思落库
	if s.svc != nil {
		if err := s.svc.Close(); err != nil {
			s.logger.Error("Memory service shutdown error", zap.Error(err))
		}
	}

	if s.records != nil {
		if err := s.records.Close(); err != nil {
			s.logger.Error("Record store shutdown error", zap.Error(err))
		}
	}

	// 仅 pgvector 后端持有连接池需要释放
	if closer, ok := s.vectors.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("Vector store shutdown error", zap.Error(err))
		}
	}

	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache manager shutdown error", zap.Error(err))
		}
	}

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
