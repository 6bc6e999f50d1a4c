// FeeEngine 主程序
// 功能：提供 Deal 费用计算服务，包括费率表解析、层级计算、折扣、校验与幂等落库
// 架构：基于 DDD + HTTP + Kafka
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
	"github.com/primeshares/feeengine/internal/feeengine/application"
	"github.com/primeshares/feeengine/internal/feeengine/domain"
	"github.com/primeshares/feeengine/internal/feeengine/infrastructure/messaging"
	"github.com/primeshares/feeengine/internal/feeengine/infrastructure/persistence/mysql"
	httphandler "github.com/primeshares/feeengine/internal/feeengine/interfaces/http"
	"github.com/primeshares/feeengine/pkg/cache"
	"github.com/primeshares/feeengine/pkg/config"
	"github.com/primeshares/feeengine/pkg/db"
	"github.com/primeshares/feeengine/pkg/logger"
	"github.com/primeshares/feeengine/pkg/metrics"
	"github.com/primeshares/feeengine/pkg/middleware"
	"github.com/primeshares/feeengine/pkg/mq"
	"github.com/primeshares/feeengine/pkg/ratelimit"
)

func main() {
	// 1. 加载配置
	configPath := "configs/feeengine/config.toml"
	if envPath := os.Getenv("APP_CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	loggerCfg := logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}
	if err := logger.Init(loggerCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	logger.Info(ctx, "Starting FeeEngine",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	// 3. 初始化指标，数据库与 Redis 依赖指标实例做埋点
	metricsInstance := metrics.New(cfg.ServiceName)
	if err := metricsInstance.Register(); err != nil {
		logger.Fatal(ctx, "Failed to register metrics", "error", err)
	}
	if cfg.Metrics.Enabled {
		if err := metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Fatal(ctx, "Failed to start metrics HTTP server", "error", err)
		}
	}

	// 4. 初始化数据库
	dbCfg := db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
		Metrics:            metricsInstance,
	}
	database, err := db.Init(dbCfg)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize database", "error", err)
	}
	defer database.Close()

	if err := database.AutoMigrate(
		&domain.ScheduleComponent{},
		&mysql.FeeApplicationModel{},
		&mysql.TransactionModel{},
	); err != nil {
		logger.Fatal(ctx, "Failed to migrate database schema", "error", err)
	}

	// 5. 初始化 Redis
	redisCfg := cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ConnTimeout:  cfg.Redis.ConnTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		Metrics:      metricsInstance,
	}
	redisCache, err := cache.New(redisCfg)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize Redis", "error", err)
	}
	defer redisCache.Close()

	// 6. 初始化限流器
	rateLimiter := ratelimit.NewRedisRateLimiter(redisCache.GetClient())

	// 7. 初始化事件发布，未配置 broker 时退化为空实现
	var publisher domain.EventPublisher = messaging.NopEventPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			logger.Fatal(ctx, "Failed to initialize Kafka producer", "error", err)
		}
		defer producer.Close()
		publisher = messaging.NewKafkaEventPublisher(producer, cfg.Kafka.Topic)
	}

	// 8. 初始化仓储与应用服务
	scheduleRepo := mysql.NewScheduleRepository(database, logger.Get())
	appRepo := mysql.NewFeeApplicationRepository(database, logger.Get())
	txnRepo := mysql.NewTransactionRepository(database, logger.Get())
	templates := domain.NewDefaultTemplateStore()

	feeService := application.NewFeeService(
		scheduleRepo,
		appRepo,
		txnRepo,
		templates,
		publisher,
		redisCache,
		metricsInstance,
		application.Options{
			DefaultTemplate:  cfg.Fees.DefaultTemplate,
			ScheduleCacheTTL: time.Duration(cfg.Fees.ScheduleCacheTTL) * time.Second,
			UnitRounding: domain.UnitRounding{
				Mode:     domain.RoundingMode(cfg.Fees.UnitRoundingMode),
				Decimals: int32(cfg.Fees.UnitDecimals),
			},
		},
		logger.Get(),
	)

	// 9. 创建并启动 HTTP 服务器
	httpServer := createHTTPServer(cfg, feeService, rateLimiter, metricsInstance)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		logger.Info(ctx, "Starting HTTP server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "HTTP server error", "error", err)
		}
	}()

	// 10. 优雅关停
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info(ctx, "Shutting down FeeEngine")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "HTTP server shutdown error", "error", err)
	}

	logger.Info(ctx, "FeeEngine stopped")
}

// createHTTPServer 创建 HTTP 服务器
func createHTTPServer(cfg *config.Config, feeService *application.FeeService, rateLimiter ratelimit.RateLimiter, m *metrics.Metrics) *http.Server {
	router := gin.Default()

	// 添加中间件
	router.Use(middleware.GinLoggingMiddleware())
	router.Use(middleware.GinMetricsMiddleware(m))
	router.Use(middleware.GinRecoveryMiddleware())
	router.Use(middleware.GinCORSMiddleware())
	router.Use(middleware.RateLimitMiddleware(rateLimiter, cfg.RateLimit))

	// 注册路由
	handler := httphandler.NewHandler(feeService)
	handler.RegisterRoutes(router)

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   cfg.ServiceName,
			"timestamp": time.Now().Unix(),
		})
	})

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
}
