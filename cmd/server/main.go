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
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/mowgazer/internal/api/handlers"
	"github.com/langchou/mowgazer/internal/api/mower"
	"github.com/langchou/mowgazer/internal/cache"
	"github.com/langchou/mowgazer/internal/config"
	"github.com/langchou/mowgazer/internal/repository"
	"github.com/langchou/mowgazer/internal/service"
	"github.com/langchou/mowgazer/pkg/ws"
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

	logger.Info("Starting Mowgazer", zap.String("port", cfg.ServerPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	deviceRepo := repository.NewDeviceRepository(db)
	history := repository.NewHistoryStore(db)

	// 割草机后端客户端
	client := mower.NewClient(cfg.MowerAPIHost, cfg.MowerAPIToken)

	// WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()
	defer wsHub.Stop()

	opts := service.Options{
		Telemetry:     cfg.Telemetry(),
		LiveRange:     cfg.LiveRange,
		HistoryRange:  cfg.HistoryRange,
		RearmInterval: cfg.SourceRearm,
		Devices:       deviceRepo,
		History:       history,
		Remote:        client,
		Recorder:      history,
		Hub:           wsHub,
		Commander:     client,
		Roster:        client,
	}

	// Redis 快照缓存（可选）
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("Redis unavailable, snapshot cache disabled", zap.Error(err))
		} else {
			defer redisCache.Close()
			opts.Cache = redisCache
			logger.Info("Snapshot cache enabled", zap.String("addr", cfg.RedisAddr))
		}
	}

	// 数据源按优先级排列：推送优先，轮询兜底
	if cfg.MQTTBroker != "" {
		mqttSource, err := mower.NewMQTTSource(logger, mower.MQTTOptions{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		})
		if err != nil {
			logger.Warn("MQTT unavailable", zap.String("broker", cfg.MQTTBroker), zap.Error(err))
		} else {
			defer mqttSource.Close()
			opts.Sources = append(opts.Sources, mqttSource)
			opts.Commander = mqttSource
		}
	}
	if cfg.UseStreaming {
		streamingHost := cfg.MowerStreamingHost
		if streamingHost == "" {
			streamingHost = client.StreamingURL()
		}
		if streamingHost != "" {
			opts.Sources = append(opts.Sources, mower.NewStreamingSource(logger, streamingHost, client.Token()))
		} else {
			logger.Warn("Streaming disabled: cannot derive hub URL", zap.String("api_host", cfg.MowerAPIHost))
		}
	}
	opts.Sources = append(opts.Sources, mower.NewPollingSource(logger, client, cfg.PollInterval))

	// 驾驶舱服务
	cockpit := service.NewCockpitService(logger, opts)
	cockpit.Start(ctx)
	wsHub.SetInitDataProvider(cockpit.InitData)

	// 启动时同步一次设备名册
	go func() {
		syncCtx, syncCancel := context.WithTimeout(ctx, 15*time.Second)
		defer syncCancel()
		if _, err := cockpit.SyncDevices(syncCtx); err != nil {
			logger.Warn("Failed to sync device roster", zap.Error(err))
		}
	}()

	handler := handlers.NewHandler(logger, deviceRepo, cockpit, wsHub)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	handler.RegisterRoutes(router)

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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	cockpit.Stop()

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
