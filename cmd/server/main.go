package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lazywriting/api/internal/client"
	"github.com/lazywriting/api/internal/config"
	"github.com/lazywriting/api/internal/handler"
	"github.com/lazywriting/api/internal/metrics"
	"github.com/lazywriting/api/internal/middleware"
	"github.com/lazywriting/api/internal/model"
	"github.com/lazywriting/api/internal/service"
	"github.com/lazywriting/api/internal/store"
	"github.com/lazywriting/api/internal/stream"
	ws "github.com/lazywriting/api/internal/websocket"
	"github.com/lazywriting/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := newLogger(cfg.Server)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := store.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}
	articles := store.NewArticleStore(db)
	users := store.NewUserStore(db, cfg.Quota.DefaultAllowance)

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("Redis not available", zap.Error(err))
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("lazywriting", registry)

	// Provider roster
	providers := client.NewRegistry(cfg.Providers)
	enabled := providers.Enabled()
	if len(enabled) == 0 {
		log.Warn("No provider enabled; brainstorm commands will be rejected")
	}
	log.Info("Provider roster loaded", zap.Any("enabled", enabled))

	// Event bus
	hub := ws.NewHub(log)
	go hub.Run(ctx)

	publisher := stream.NewRedisPublisher(redisClient, collector)
	relay := stream.NewRelay(redisClient, hub, log)
	go func() {
		if err := relay.Run(ctx, nil); err != nil {
			log.Error("Stream relay stopped", zap.Error(err))
		}
	}()

	// Initialize R2 client (optional - export is disabled if not configured)
	var storage client.StorageClient
	if cfg.R2.Configured() {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn("R2 client not initialized", zap.Error(err))
		} else {
			storage = r2Client
		}
	} else {
		log.Info("R2 storage not configured, export disabled")
	}

	// Initialize services
	orchestrator := service.NewOrchestrator(service.Deps{
		Articles:   articles,
		Users:      users,
		Registry:   providers,
		Dispatcher: service.NewAsynqDispatcher(asynqClient, cfg.Retry.MaxRetry()),
		Publisher:  publisher,
		Barrier:    service.NewBarrier(redisClient),
		Stages:     cfg.Stages,
		Fusion:     cfg.Fusion,
		Metrics:    collector,
		Logger:     log,
	})
	exportService := service.NewExportService(orchestrator, storage)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		providerStatus := fiber.Map{}
		for _, p := range model.Roster {
			entry, ok := providers.Get(p)
			providerStatus[string(p)] = fiber.Map{
				"enabled":    ok && entry.Enabled,
				"configured": providers.Configured(p),
			}
		}
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"providers": providerStatus,
				"r2":        storage != nil,
				"auth":      cfg.JWT.Secret != "",
				"ws":        hub.ClientCount(),
			},
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	routes := &handler.Routes{
		Articles:    handler.NewArticleHandler(orchestrator, validator.New(), log),
		Export:      handler.NewExportHandler(exportService),
		Streams:     handler.NewStreamHandler(hub),
		Auth:        middleware.NewAuthMiddleware(cfg.JWT.Secret),
		RateLimiter: middleware.NewRateLimiter(redisClient, log),
		RateLimit:   cfg.RateLimit,
	}
	routes.Mount(app)

	// Start Asynq worker server
	generationWorker := worker.NewGenerationWorker(articles, providers, publisher, orchestrator, cfg.Retry, collector, log)
	srv := newWorkerServer(cfg, redisOpt, generationWorker, log)
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeGeneration, generationWorker.ProcessTask)
	if err := srv.Start(mux); err != nil {
		log.Fatal("Failed to start worker server", zap.Error(err))
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info("Shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("Server shutdown error", zap.Error(err))
		}
		srv.Shutdown()
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info("Server starting", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("Server error", zap.Error(err))
	}
}

func newLogger(cfg config.ServerConfig) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if cfg.Env == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	log, err := zcfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return log
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, w *worker.GenerationWorker, log *zap.Logger) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		asynqLogLevel = asynq.DebugLevel
	case "warn":
		asynqLogLevel = asynq.WarnLevel
	case "error":
		asynqLogLevel = asynq.ErrorLevel
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			model.QueueBrainstorm: cfg.Worker.BrainstormQueue,
			model.QueueDraft:      cfg.Worker.DraftQueue,
		},
		RetryDelayFunc: w.RetryDelay,
		Logger:         log.With(zap.String("component", "asynq")).Sugar(),
		LogLevel:       asynqLogLevel,
	})
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
