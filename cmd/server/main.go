package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/fueltrip/internal/api/handlers"
	"github.com/langchou/fueltrip/internal/api/ledger"
	"github.com/langchou/fueltrip/internal/config"
	"github.com/langchou/fueltrip/internal/models"
	"github.com/langchou/fueltrip/internal/repository"
	"github.com/langchou/fueltrip/internal/service"
	"github.com/langchou/fueltrip/internal/snapshot"
	"github.com/langchou/fueltrip/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Fueltrip", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	vehicleRepo := repository.NewVehicleRepository(db.Pool)
	tripRepo := repository.NewTripRepository(db.Pool)
	posRepo := repository.NewPositionRepository(db.Pool)
	maintRepo := repository.NewMaintenanceRepository(db.Pool)

	// 连接 Redis（行程快照，崩溃恢复）
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect redis", zap.Error(err))
	}
	snapshots := snapshot.NewStore(redisClient, cfg.SnapshotTTL)

	// 创建油量台账客户端
	ledgerClient := ledger.NewClient(cfg.LedgerAPIHost, cfg.LedgerTimeout, cfg.SyncMaxRetries, cfg.SyncBackoffInitial)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// 创建行程引擎注册表，遥测更新直接广播给 WebSocket 客户端
	manager := service.NewManager(
		cfg,
		logger,
		ledgerClient,
		service.Stores{Trips: tripRepo, Positions: posRepo, Maintenance: maintRepo},
		snapshots,
		func(t models.TripTelemetry) {
			wsHub.BroadcastTelemetry(t)
		},
	)

	// 新 WebSocket 客户端的初始帧：车辆列表 + 各车当前遥测
	wsHub.SetInitDataProvider(func() *ws.InitData {
		initCtx, initCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer initCancel()

		vehicles, err := vehicleRepo.List(initCtx)
		if err != nil {
			logger.Error("Failed to load vehicles for init data", zap.Error(err))
		}
		return &ws.InitData{
			Vehicles: vehicles,
			Trips:    manager.TelemetryAll(initCtx),
		}
	})

	// 恢复崩溃前的行程快照
	if err := manager.RestoreAll(ctx); err != nil {
		logger.Error("Trip recovery scan failed", zap.Error(err))
	}

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		vehicleRepo,
		tripRepo,
		posRepo,
		maintRepo,
		manager,
		wsHub,
	)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 关闭引擎：未结束的行程落快照，等下次启动恢复
	manager.CloseAll()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
