// Package api HTTP 接口层
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wfunc/ai-game-dev/internal/adapter"
	"github.com/wfunc/ai-game-dev/internal/config"
	"github.com/wfunc/ai-game-dev/internal/game"
	"github.com/wfunc/ai-game-dev/internal/middleware"
	"github.com/wfunc/ai-game-dev/internal/service"
	"github.com/wfunc/ai-game-dev/internal/utils"
	ws "github.com/wfunc/ai-game-dev/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options 路由依赖
type Options struct {
	Process    *game.Process
	Binding    *adapter.Binding // 为空时由 Process 创建
	Services   *service.Services
	Hub        *ws.Hub // 为空时不提供 /ws/jobs
	DB         *gorm.DB
	WebSocket  config.WebSocketConfig
	BatchLimit int
	Logger     *zap.Logger
}

// Router API路由器
type Router struct {
	engine         *gin.Engine
	process        *game.Process
	binding        *adapter.Binding
	services       *service.Services
	hub            *ws.Hub
	db             *gorm.DB
	upgrader       *websocket.Upgrader
	authMiddleware *middleware.AuthMiddleware
	batchLimit     int
	log            *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Binding == nil {
		opts.Binding = adapter.New(opts.Process, opts.Logger)
	}
	if opts.Services == nil {
		opts.Services = &service.Services{Tokens: utils.NewJWTManager("", "", 0)}
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 4
	}

	// 创建Gin引擎
	engine := gin.New()

	// 全局中间件
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger())

	router := &Router{
		engine:   engine,
		process:  opts.Process,
		binding:  opts.Binding,
		services: opts.Services,
		hub:      opts.Hub,
		db:       opts.DB,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:    opts.WebSocket.ReadBufferSize,
			WriteBufferSize:   opts.WebSocket.WriteBufferSize,
			EnableCompression: opts.WebSocket.EnableCompression,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		authMiddleware: middleware.NewAuthMiddleware(opts.Services.Tokens),
		batchLimit:     opts.BatchLimit,
		log:            opts.Logger.Named("api"),
	}

	router.setupRoutes()
	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/engines", r.listEngines)
		v1.GET("/version", r.version)

		games := v1.Group("/games")
		{
			games.GET("", r.listGames)
			games.POST("", r.createGame)
			games.POST("/batch", r.createBatch)
			games.GET("/:handle", r.getResult)
			games.GET("/:handle/status", r.getStatus)
			games.DELETE("/:handle", r.authMiddleware.RequireRole(utils.RoleAdmin), r.evictGame)
		}

		history := v1.Group("/history")
		{
			history.GET("", r.listHistory)
			history.GET("/stats", r.historyStats)
			history.GET("/:job_id", r.getHistory)
		}

		// 管理员路由（需要管理员权限）
		admin := v1.Group("/admin")
		admin.Use(r.authMiddleware.RequireRole(utils.RoleAdmin))
		{
			admin.POST("/init", r.adminInit)
			admin.POST("/cleanup", r.adminCleanup)
			admin.GET("/stats", r.adminStats)
			admin.POST("/history/cleanup", r.adminHistoryCleanup)
		}
	}

	// WebSocket路由
	if r.hub != nil {
		r.engine.GET("/ws/jobs", r.jobEvents)
	}

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "route not found",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	resp := gin.H{
		"status":      "healthy",
		"initialized": r.process.IsInitialized(),
		"version":     game.Version,
	}

	if r.db != nil {
		sqlDB, err := r.db.DB()
		if err != nil || sqlDB.Ping() != nil {
			resp["status"] = "unhealthy"
			resp["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "ok"
	}

	c.JSON(http.StatusOK, resp)
}

// Handler 获取 http.Handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
