package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crosspay/crosspay_service/internal/api/handlers"
	"github.com/crosspay/crosspay_service/internal/api/middleware"
	"github.com/crosspay/crosspay_service/internal/infrastructure/database"
	"github.com/crosspay/crosspay_service/internal/infrastructure/di"
	"github.com/crosspay/crosspay_service/pkg/idempotency"
)

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	router := gin.New()
	cfg := container.Config

	// Global middleware - order matters
	router.Use(middleware.RequestID())
	router.Use(middleware.Tracing())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	coreHandlers := handlers.NewCoreHandlers(healthDependencies(container), container.Logger)
	paymentHandlers := handlers.NewPaymentHandlers(
		container.PaymentService,
		container.Orchestrator,
		container.BurnSigner,
		container.MintSigner,
		container.Logger,
	)
	chainHandlers := handlers.NewChainHandlers(container.Registry)

	createPayment := []gin.HandlerFunc{paymentHandlers.CreatePayment}
	if container.Idempotency != nil {
		createPayment = append([]gin.HandlerFunc{idempotency.Middleware(
			container.Idempotency,
			time.Duration(cfg.Idempotency.TTL)*time.Second,
			middleware.PrincipalID,
			container.ZapLog,
		)}, createPayment...)
	}

	// Health checks (no auth required)
	router.GET("/health", coreHandlers.Health)
	router.GET("/ready", coreHandlers.Ready)
	router.GET("/live", coreHandlers.Live)
	router.GET("/metrics", coreHandlers.Metrics)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Authentication(cfg.JWT.Secret, cfg.JWT.Issuer, container.Logger))
	{
		v1.GET("/chains", chainHandlers.ListChains)

		payments := v1.Group("/payments")
		{
			payments.POST("", createPayment...)
			payments.GET("", paymentHandlers.ListPayments)
			payments.GET("/:id", paymentHandlers.GetPayment)
			payments.POST("/:id/transfer", paymentHandlers.Transfer)
			payments.POST("/:id/burn", paymentHandlers.Burn)
			payments.POST("/:id/mint", paymentHandlers.Mint)
			payments.GET("/:id/audit", paymentHandlers.AuditTrail)
			payments.GET("/:id/transactions", paymentHandlers.Transactions)
		}
	}

	return router
}

// healthDependencies lists the checks behind /health and /ready. Only the
// ledger is critical; the attestation API and redis degrade the service.
func healthDependencies(container *di.Container) []handlers.Dependency {
	var deps []handlers.Dependency

	if container.DB != nil {
		db := container.DB
		deps = append(deps, handlers.Dependency{
			Name:     "database",
			Critical: true,
			Checker: handlers.HealthCheckFunc(func(ctx context.Context) error {
				return database.HealthCheck(ctx, db)
			}),
		})
	}

	if container.Attestations != nil {
		attestations := container.Attestations
		deps = append(deps, handlers.Dependency{
			Name: "attestation_api",
			Checker: handlers.HealthCheckFunc(func(ctx context.Context) error {
				_, err := attestations.GetPublicKeys(ctx)
				return err
			}),
		})
	}

	if container.TransferLock != nil {
		deps = append(deps, handlers.Dependency{
			Name:    "redis",
			Checker: handlers.HealthCheckFunc(container.TransferLock.Ping),
		})
	}

	return deps
}
