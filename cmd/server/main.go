// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"learnsmart-go/internal/config"
	"learnsmart-go/internal/handler"
	"learnsmart-go/internal/middleware"
	"learnsmart-go/internal/repository"
	"learnsmart-go/internal/service"
	"learnsmart-go/pkg/database"
	"learnsmart-go/pkg/kafka"
	"learnsmart-go/pkg/llm"
	"learnsmart-go/pkg/log"
	"learnsmart-go/pkg/token"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与 Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	parentRepo := repository.NewParentRepository(database.DB)
	childRepo := repository.NewChildRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.DB)
	growthRepo := repository.NewGrowthRepository(database.DB)
	profileRepo := repository.NewProfileRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	llmClient := llm.NewClient(cfg.LLM)
	userService := service.NewUserService(parentRepo, childRepo, jwtManager)
	memoryService := service.NewMemoryService(
		growthRepo,
		profileRepo,
		service.NewRedisSummaryCache(database.RDB),
		time.Duration(cfg.Memory.SummaryCacheTTLSeconds)*time.Second,
	)
	extractionService := service.NewExtractionService(llmClient)
	chatService := service.NewChatService(
		conversationRepo,
		growthRepo,
		memoryService,
		extractionService,
		llmClient,
		cfg.Memory,
		cfg.Chat,
	)

	// 6. 初始化 Handler
	userHandler := handler.NewUserHandler(userService)
	authHandler := handler.NewAuthHandler(userService)
	chatHandler := handler.NewChatHandler(chatService, userService, jwtManager)
	memoryHandler := handler.NewMemoryHandler(memoryService, userService, growthRepo, cfg.Memory.LookbackDays)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", authHandler.RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", userHandler.GetProfile)
			}
		}

		// 孩子档案路由组，需要认证
		children := apiV1.Group("/children")
		children.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			children.POST("", userHandler.CreateChild)
			children.GET("", userHandler.ListChildren)
			children.GET("/:childId", userHandler.GetChild)
		}

		// 对话路由组
		chatGroup := apiV1.Group("/chat")
		{
			chatGroup.GET("/websocket-token", chatHandler.GetWebsocketStopToken)

			authedChat := chatGroup.Group("/")
			authedChat.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authedChat.POST("/send", chatHandler.Send)
			}
		}

		// 记忆与成长数据路由组，需要认证
		memory := apiV1.Group("/memory")
		memory.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			memory.GET("/:childId/snapshot", memoryHandler.GetSnapshot)
			memory.GET("/:childId/summary", memoryHandler.GetSummary)
		}

		materials := apiV1.Group("/materials")
		materials.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			materials.GET("/:childId", memoryHandler.ListMaterials)
		}

		analysis := apiV1.Group("/analysis")
		analysis.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			analysis.GET("/:childId", memoryHandler.GetAnalysis)
		}
	}

	// Chat 路由 (WebSocket)，token 走路径参数认证
	r.GET("/chat/:token", chatHandler.Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
