package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/crosspay/crosspay_service/internal/api/routes"
	"github.com/crosspay/crosspay_service/internal/infrastructure/config"
	"github.com/crosspay/crosspay_service/internal/infrastructure/database"
	"github.com/crosspay/crosspay_service/internal/infrastructure/di"
	"github.com/crosspay/crosspay_service/pkg/graceful"
	"github.com/crosspay/crosspay_service/pkg/logger"
	"github.com/crosspay/crosspay_service/pkg/metrics"
	"github.com/crosspay/crosspay_service/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracingConfig, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer tracingShutdown(context.Background())

	// Initialize the ledger database
	var db *sqlx.DB
	if !cfg.Database.InMemory {
		db, err = database.NewConnection(context.Background(), cfg.Database, log.Zap())
		if err != nil {
			log.Fatal("Failed to connect to database", "error", err)
		}
		if err := database.RunMigrations(db, cfg.Database.MigrationsPath); err != nil {
			log.Fatal("Failed to run migrations", "error", err)
		}
		log.Info("Database migrations applied", "path", cfg.Database.MigrationsPath)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Build dependency injection container
	container, err := di.NewContainer(cfg, db, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	router := routes.SetupRoutes(container)

	// Start workers
	container.TransferPool.Start()
	log.Info("Transfer pool started", "workers", cfg.Workers.Count, "queue_size", cfg.Workers.QueueSize)

	if container.StaleMonitor != nil {
		if err := container.StaleMonitor.Start(); err != nil {
			log.Fatal("Failed to start stale payment monitor", "error", err)
		}
	} else {
		log.Info("Stale payment monitor disabled in configuration")
	}

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
			"ledger", ledgerKind(cfg),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Database connection metrics
	if db != nil {
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for range ticker.C {
				stats := db.Stats()
				metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
				metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
				metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
			}
		}()
	}

	shutdown := graceful.NewShutdownManager(server, log)
	if container.StaleMonitor != nil {
		shutdown.Register("stale_monitor", graceful.ShutdownFunc(func(time.Duration) error {
			container.StaleMonitor.Stop()
			return nil
		}))
	}
	shutdown.Register("transfer_pool", container.TransferPool)
	shutdown.Register("bridges", graceful.ShutdownFunc(func(time.Duration) error {
		container.Close()
		return nil
	}))
	if db != nil {
		shutdown.OnClose(db)
	}

	shutdown.WaitForShutdown()
}

func ledgerKind(cfg *config.Config) string {
	if cfg.Database.InMemory {
		return "memory"
	}
	return "postgres"
}
