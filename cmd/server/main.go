package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	importapp "github.com/storefront/backend/internal/application/import"
	"github.com/storefront/backend/internal/infrastructure/cache"
	"github.com/storefront/backend/internal/infrastructure/config"
	"github.com/storefront/backend/internal/infrastructure/ecommerce"
	"github.com/storefront/backend/internal/infrastructure/event"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"github.com/storefront/backend/internal/infrastructure/persistence"
	"github.com/storefront/backend/internal/infrastructure/scheduler"
	"github.com/storefront/backend/internal/infrastructure/telemetry"
	"github.com/storefront/backend/internal/interfaces/http/handler"
	"github.com/storefront/backend/internal/interfaces/http/middleware"
	"github.com/storefront/backend/internal/interfaces/http/router"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := logger.ConfigForEnvironment(cfg.App.Env, cfg.Log.Level)
	if cfg.Log.Format != "" {
		logCfg.Format = cfg.Log.Format
	}
	if cfg.Log.Output != "" {
		logCfg.Output = cfg.Log.Output
	}
	log, err := logger.New(logCfg, cfg.App.Name)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting storefront order import service",
		zap.String("version", version),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	rootCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	// Telemetry
	tracerProvider, err := telemetry.NewTracerProvider(rootCtx, telemetry.TracingConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(rootCtx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	loggerProvider, err := telemetry.NewLoggerProvider(rootCtx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	if loggerProvider.IsEnabled() {
		otelCore := telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			LoggerProvider: loggerProvider,
			Level:          zapcore.InfoLevel,
		})
		log = telemetry.BridgeLogger(log, otelCore)
		log.Info("Log export enabled")
	}

	importMetrics, err := telemetry.NewImportMetrics(telemetry.ImportMetricsConfig{
		Meter:  meterProvider.Meter("storefront.import"),
		Logger: log,
	})
	if err != nil {
		log.Fatal("Failed to create import metrics", zap.Error(err))
	}

	// Database
	db, err := persistence.NewDatabase(&cfg.Database, persistence.DatabaseOptions{
		Logger:        log,
		LogLevel:      cfg.Log.Level,
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
		Tracing: telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:            cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
			LogFullSQL:         cfg.Telemetry.DBLogFullSQL,
			SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
			DBName:             cfg.Database.DBName,
		}, log),
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	jobRepo := persistence.NewGormImportJobRepository(db.DB)
	orderRepo := persistence.NewGormOrderRepository(db.DB)

	// Redis is optional; without it locks and progress stay in process.
	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(rootCtx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err), zap.String("addr", cfg.Redis.Addr()))
		}
		redisClient = client
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}
	jobLock := cache.NewJobLock(redisClient, log)

	progressHub := event.NewProgressHub(cfg.Import.SubscriberBuffer, log)
	var progress importapp.ProgressBroker = progressHub
	var relay *cache.RedisProgressRelay
	if redisClient != nil {
		relay = cache.NewRedisProgressRelay(redisClient, progressHub, cfg.Import.QueueSize, log)
		if err := relay.Start(rootCtx); err != nil {
			log.Fatal("Failed to start progress relay", zap.Error(err))
		}
		progress = relay
	}

	eventBus := event.NewInMemoryEventBus(log)
	auditLogger := event.NewImportJobEventLogger(log)
	eventBus.Subscribe(auditLogger, auditLogger.EventTypes()...)
	if err := eventBus.Start(rootCtx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Remote order source
	storefront, err := ecommerce.NewStorefrontClient(
		ecommerce.NewStorefrontConfig(cfg.Storefront),
		ecommerce.WithLogger(log),
		ecommerce.WithHTTPClient(&http.Client{
			Timeout:   cfg.Storefront.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	)
	if err != nil {
		log.Fatal("Invalid storefront configuration", zap.Error(err))
	}

	// Import engine
	engineCfg := importapp.EngineConfigFrom(cfg.Import)
	reconciler := importapp.NewReconciler(orderRepo, engineCfg.StoreTimeout, log)
	runner := importapp.NewBatchRunner(storefront, reconciler, jobRepo, engineCfg, log)
	runner.SetMetrics(importMetrics)
	jobManager := importapp.NewJobManager(jobRepo, runner, jobLock, progress, engineCfg, log)
	jobManager.SetEventPublisher(eventBus)
	jobManager.SetMetrics(importMetrics)

	batchScheduler, err := scheduler.NewBatchScheduler(scheduler.BatchSchedulerConfig{
		Workers:      cfg.Import.Workers,
		QueueSize:    cfg.Import.QueueSize,
		BatchTimeout: scheduler.DefaultBatchSchedulerConfig().BatchTimeout,
	}, jobManager, log)
	if err != nil {
		log.Fatal("Invalid scheduler configuration", zap.Error(err))
	}
	jobManager.SetScheduler(batchScheduler)
	if err := batchScheduler.Start(rootCtx); err != nil {
		log.Fatal("Failed to start batch scheduler", zap.Error(err))
	}

	if n, err := jobManager.Recover(rootCtx); err != nil {
		log.Error("Failed to recover import jobs", zap.Error(err))
	} else if n > 0 {
		log.Info("Recovered import jobs", zap.Int("count", n))
	}

	sweeper := scheduler.NewRecoverySweeper(jobManager, cfg.Import.RecoveryInterval, log)
	if err := sweeper.Start(rootCtx); err != nil {
		log.Fatal("Failed to start recovery sweeper", zap.Error(err))
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}

	// Order matters: request ID first so every later layer can log it, tenant
	// before the span enricher so spans carry tenant_id.
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.Secure())
	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	engine.Use(middleware.CORSWithConfig(corsConfig))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	engine.Use(middleware.TenantMiddleware(log))
	engine.Use(middleware.TracingAttributeInjector())

	healthChecks := map[string]handler.HealthCheck{
		"database": db.Ping,
		"scheduler": func(context.Context) error {
			if !batchScheduler.IsRunning() {
				return scheduler.ErrSchedulerNotRunning
			}
			return nil
		},
	}
	if redisClient != nil {
		healthChecks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	importHandler := handler.NewImportJobHandler(jobManager,
		handler.WithHandlerLogger(log),
		handler.WithAllowedOrigins(cfg.HTTP.CORSAllowOrigins),
	)

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Probe(handler.NewHealthHandler(version, healthChecks))
	r.Mount("/import-jobs", importHandler)
	r.Setup()
	log.Debug("Routes registered", zap.Strings("routes", r.Routes()))

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info("Shutdown signal received")
	case err := <-serverErr:
		log.Error("HTTP server failed", zap.Error(err))
	}

	// Shutdown runs in reverse dependency order. Jobs still running stay in
	// that status and are picked up by Recover on the next start.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := sweeper.Stop(ctx); err != nil {
		log.Error("Error stopping recovery sweeper", zap.Error(err))
	}
	if err := batchScheduler.Stop(ctx); err != nil {
		log.Error("Error stopping batch scheduler", zap.Error(err))
	}
	if err := eventBus.Stop(ctx); err != nil {
		log.Error("Error stopping event bus", zap.Error(err))
	}
	if relay != nil {
		if err := relay.Stop(ctx); err != nil {
			log.Error("Error stopping progress relay", zap.Error(err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing Redis", zap.Error(err))
		}
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if err := meterProvider.Shutdown(ctx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(ctx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := loggerProvider.Shutdown(ctx); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
