package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wmsync/backend/internal/application/connect"
	"github.com/wmsync/backend/internal/application/health"
	"github.com/wmsync/backend/internal/application/ingest"
	"github.com/wmsync/backend/internal/application/reconcile"
	"github.com/wmsync/backend/internal/application/syncer"
	"github.com/wmsync/backend/internal/infrastructure/breaker"
	"github.com/wmsync/backend/internal/infrastructure/cache"
	"github.com/wmsync/backend/internal/infrastructure/config"
	"github.com/wmsync/backend/internal/infrastructure/logger"
	"github.com/wmsync/backend/internal/infrastructure/persistence"
	"github.com/wmsync/backend/internal/infrastructure/scheduler"
	"github.com/wmsync/backend/internal/infrastructure/telemetry"
	"github.com/wmsync/backend/internal/infrastructure/trackstar"
	"github.com/wmsync/backend/internal/interfaces/http/handler"
	"github.com/wmsync/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting WMS sync service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Telemetry providers. Both are no-ops when telemetry is disabled.
	telemetryCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}
	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(context.Background(), telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	syncMetrics, err := telemetry.NewSyncMetrics()
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}

	// Database
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if cfg.Telemetry.Enabled {
		dbTracing := telemetry.DefaultDBTracingConfig()
		dbTracing.Enabled = true
		if err := telemetry.RegisterOtelGorm(db.DB, dbTracing, log); err != nil {
			log.Warn("Failed to register database tracing", zap.Error(err))
		}
	}

	// Repositories
	connectionRepo := persistence.NewGormConnectionRepository(db.DB)
	eventRepo := persistence.NewGormWebhookEventRepository(db.DB)
	productRepo := persistence.NewGormProductRepository(db.DB)
	orderRepo := persistence.NewGormOrderRepository(db.DB)
	inventoryRepo := persistence.NewGormInventoryRepository(db.DB)
	warehouseRepo := persistence.NewGormWarehouseRepository(db.DB)
	shipmentRepo := persistence.NewGormShipmentRepository(db.DB)

	// Webhook idempotency store: Redis when reachable, in-memory otherwise.
	// Distributed deployments must run with Redis or duplicate deliveries
	// can slip through on instance handoff.
	idempotencyStore, err := cache.NewIdempotencyStoreFactory(
		cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	defer func() {
		if err := idempotencyStore.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()

	// Outbound client guarded by per-endpoint circuit breakers
	breakerManager := breaker.NewManager(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		MonitoringWindow: cfg.Breaker.MonitoringWindow,
	}, log)

	wmsClient, err := trackstar.NewClient(trackstar.Config{
		BaseURL:            cfg.Trackstar.BaseURL,
		APIKey:             cfg.Trackstar.APIKey,
		RequestTimeout:     cfg.Trackstar.RequestTimeout,
		RateLimitPerSecond: cfg.Trackstar.RateLimitPerSecond,
		MaxPages:           cfg.Trackstar.MaxPages,
	}, breakerManager, log)
	if err != nil {
		log.Fatal("Failed to create aggregator client", zap.Error(err))
	}

	// Application services
	reconcileEngine := reconcile.NewService(
		orderRepo, productRepo, inventoryRepo, warehouseRepo, shipmentRepo, log,
	)

	syncService := syncer.NewService(syncer.Config{
		IncrementalInterval: cfg.Sync.IncrementalInterval,
		IncrementalLookback: cfg.Sync.IncrementalLookback,
		BackfillDelay:       cfg.Sync.BackfillDelay,
		BackfillCooldown:    cfg.Sync.BackfillCooldown,
		BackfillMaxAttempts: cfg.Sync.BackfillMaxAttempts,
		NightlyHour:         cfg.Sync.NightlyHour,
		ReconcileWindow:     cfg.Sync.ReconcileWindow,
		TaskMaxRetries:      cfg.Scheduler.MaxRetries,
	}, wmsClient, reconcileEngine, connectionRepo, log)

	ingestService := ingest.NewService(
		eventRepo,
		connectionRepo,
		reconcileEngine,
		idempotencyStore,
		cfg.Trackstar.WebhookSecret,
		cfg.Trackstar.SignatureBypass,
		log,
	)
	ingestService.SetMetrics(syncMetrics)

	// Task runner executes sync passes; the sync service both executes
	// tasks and submits new ones, so the runner is built second and the
	// sync service is wired before anything starts.
	taskRunner := scheduler.NewRunner(scheduler.Config{
		Workers:      cfg.Scheduler.Workers,
		QueueSize:    cfg.Scheduler.QueueSize,
		TaskTimeout:  cfg.Scheduler.TaskTimeout,
		MaxRetries:   cfg.Scheduler.MaxRetries,
		RetryBackoff: cfg.Scheduler.RetryBackoff,
	}, syncService, log)
	syncService.Wire(taskRunner, ingestService, syncMetrics)

	connectService := connect.NewService(wmsClient, connectionRepo, syncService, log)
	healthService := health.NewService(connectionRepo, eventRepo, syncService, health.Thresholds{}, log)

	// Start background work
	if err := taskRunner.Start(context.Background()); err != nil {
		log.Fatal("Failed to start task runner", zap.Error(err))
	}
	if err := syncService.Start(context.Background()); err != nil {
		log.Fatal("Failed to start sync cron", zap.Error(err))
	}

	// HTTP surface
	engine := router.New(cfg, log, router.Handlers{
		Webhook: handler.NewWebhookHandler(ingestService, log),
		Link:    handler.NewLinkHandler(connectService),
		Order:   handler.NewOrderHandler(connectService),
		Ops:     handler.NewOpsHandler(healthService, syncService, breakerManager, db, log),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown: stop accepting new triggers first, then drain
	// in-flight work, then tear down transports.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	syncService.Stop()
	if err := taskRunner.Stop(ctx); err != nil {
		log.Error("Task runner shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(ctx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := meterProvider.Shutdown(ctx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
