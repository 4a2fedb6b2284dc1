package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"propertychat/backend/internal/auth"
	jwtpkg "propertychat/backend/internal/auth/jwt"
	"propertychat/backend/internal/config"
	"propertychat/backend/internal/middleware"
	"propertychat/backend/internal/monitoring"
	"propertychat/backend/internal/service"
	"propertychat/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config       *config.Config
	ChatService  *service.ChatService
	AuthService  *auth.Service
	JWTManager   *jwtpkg.Manager
	WebSocketHub *websocket.Hub
	Metrics      *monitoring.Metrics
	Logger       *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	// 使用自定义中间件替代默认中间件
	router.Use(middleware.RecoveryHandler(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	if deps.Metrics != nil {
		mm := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
		router.Use(mm.HTTPMetrics())
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 创建处理器
	chatHandler := NewChatHandler(deps.ChatService, deps.JWTManager, deps.Logger)
	adminHandler := NewAdminChatHandler(deps.ChatService, deps.Logger)
	authHandler := NewAuthHandler(deps.AuthService, deps.JWTManager, deps.Logger)

	// 创建中间件
	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, deps.Logger)
	submitLimiter := middleware.NewRateLimiter(
		deps.Config.RateLimit.SubmitRPS,
		deps.Config.RateLimit.SubmitBurst,
	)

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Auth Routes ==========
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/refresh", authHandler.Refresh)
			authRoutes.GET("/me", jwtAuth.RequireOperator(), authHandler.Me)
		}

		// ========== Chat Routes（访客侧） ==========
		chatRoutes := v1.Group("/chat")
		{
			chatRoutes.POST("/messages", submitLimiter.Limit(), chatHandler.SubmitMessage)
			chatRoutes.GET("/messages", jwtAuth.OptionalAuth(), chatHandler.History)
		}

		// ========== WebSocket Routes ==========
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}

		// ========== Admin Routes（客服后台） ==========
		adminRoutes := v1.Group("/admin")
		adminRoutes.Use(jwtAuth.RequireOperator())
		{
			adminRoutes.GET("/chat/threads", adminHandler.ListThreads)
			adminRoutes.GET("/chat/threads/:email/messages", adminHandler.ThreadMessages)
			adminRoutes.POST("/chat/replies", adminHandler.Reply)
			adminRoutes.POST("/chat/messages/:id/reply", adminHandler.AttachReply)
		}
	}

	return router
}
