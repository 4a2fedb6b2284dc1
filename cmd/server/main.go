package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"propertychat/backend/internal/auth"
	jwtpkg "propertychat/backend/internal/auth/jwt"
	"propertychat/backend/internal/config"
	"propertychat/backend/internal/escalation"
	"propertychat/backend/internal/health"
	"propertychat/backend/internal/logger"
	"propertychat/backend/internal/monitoring"
	"propertychat/backend/internal/pool"
	"propertychat/backend/internal/presence"
	"propertychat/backend/internal/pubsub"
	"propertychat/backend/internal/service"
	"propertychat/backend/internal/storage"
	"propertychat/backend/internal/storage/memory"
	redisstore "propertychat/backend/internal/storage/redis"
	sqlstore "propertychat/backend/internal/storage/sql"
	httptransport "propertychat/backend/internal/transport/http"
	"propertychat/backend/internal/websocket"
)

// main 启动聊天核心的 HTTP/WebSocket 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting propertychat server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		// 内存存储（开发环境）
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// 初始化 Redis（多实例部署时开启）
	var cache *redisstore.Client
	if cfg.Redis.Enabled {
		cache, err = redisstore.New(&cfg.Redis, log)
		if err != nil {
			panic(fmt.Sprintf("failed to connect to Redis: %v", err))
		}
		defer cache.Close()
	}

	// 事件总线：单实例用进程内总线，多实例走 Redis Pub/Sub
	var bus pubsub.Bus
	if cache != nil {
		bus = pubsub.NewRedisBus(cache, log)
		log.Info("using Redis event bus")
	} else {
		localBus := pubsub.NewLocalBus(log)
		defer localBus.Close()
		bus = localBus
		log.Info("using in-process event bus")
	}

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// 初始化健康检查
	healthChecker := health.NewHealthChecker(store, cache, log)

	// 在线状态判定：窗口内有客服回复行即视为在线
	detector := presence.NewDetector(store, cfg.Presence.Window, log)

	// 升级通知的冷却窗口：多实例部署时走 Redis，否则落在存储层
	var cooldowns escalation.CooldownStore = store
	if cache != nil {
		cooldowns = cache
	}
	dispatcher := escalation.NewDispatcher(&cfg.Escalation, detector, cooldowns, log)
	if dispatcher.Enabled() {
		log.Info("escalation notifications enabled",
			zap.String("admin_number", cfg.Escalation.AdminNumber),
			zap.Duration("cooldown", cfg.Escalation.Cooldown),
		)
	} else {
		log.Info("escalation notifications disabled (missing gateway config)")
	}

	// 升级通知的后台工作池
	workers := pool.NewWorkerPool(4, 64, log)

	// 初始化服务层
	chatService := service.NewChatService(store, bus, dispatcher, workers, metrics, log)
	authService := auth.NewService(store, log)
	jwtManager := jwtpkg.NewManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
		cfg.JWT.VisitorExpiry,
	)

	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
		zap.Duration("visitor_expiry", cfg.JWT.VisitorExpiry),
	)

	// 创建 WebSocket Hub
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, jwtManager, bus, metrics, log)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg,
		ChatService:  chatService,
		AuthService:  authService,
		JWTManager:   jwtManager,
		WebSocketHub: wsHub,
		Metrics:      metrics,
		Logger:       log,
	})

	// 健康检查探针（用于 Kubernetes 等）
	router.GET("/health/live", gin.WrapF(healthChecker.LiveEndpoint()))
	router.GET("/health/ready", gin.WrapF(healthChecker.ReadyEndpoint()))

	// Prometheus 指标端点
	router.GET("/metrics", gin.WrapH(metrics.HTTPHandler()))

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// 升级通知工作池
	workers.Start(groupCtx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		workers.Stop()

		log.Info("server stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
