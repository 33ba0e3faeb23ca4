package di

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	domainrepos "github.com/crosspay/crosspay_service/internal/domain/repositories"
	"github.com/crosspay/crosspay_service/internal/domain/services/audit"
	"github.com/crosspay/crosspay_service/internal/domain/services/bridge"
	"github.com/crosspay/crosspay_service/internal/domain/services/payment"
	"github.com/crosspay/crosspay_service/internal/domain/services/transfer"
	"github.com/crosspay/crosspay_service/internal/infrastructure/adapters/cctp"
	"github.com/crosspay/crosspay_service/internal/infrastructure/cache"
	"github.com/crosspay/crosspay_service/internal/infrastructure/chains"
	"github.com/crosspay/crosspay_service/internal/infrastructure/config"
	"github.com/crosspay/crosspay_service/internal/infrastructure/repositories"
	"github.com/crosspay/crosspay_service/internal/workers/stale_monitor"
	"github.com/crosspay/crosspay_service/internal/workers/transfer_worker"
	"github.com/crosspay/crosspay_service/pkg/idempotency"
	"github.com/crosspay/crosspay_service/pkg/logger"
	"github.com/crosspay/crosspay_service/pkg/secrets"
	"github.com/crosspay/crosspay_service/pkg/security"
)

// secretsTimeout bounds signer key resolution at startup
const secretsTimeout = 30 * time.Second

// jobSlack is added to the receipt and attestation waits when deriving the job timeout
const jobSlack = time.Minute

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	DB     *sqlx.DB // nil with the in-memory ledger
	Logger *logger.Logger
	ZapLog *zap.Logger

	// Repositories
	PaymentRepo domainrepos.PaymentRepository
	AuditRepo   domainrepos.AuditRepository

	// External Services
	RedisClient  *redis.Client
	TransferLock *cache.TransferLock
	Registry     *chains.Registry
	Attestations *cctp.Client
	Bridges      *bridge.Factory
	BurnSigner   *cctp.Signer
	MintSigner   *cctp.Signer
	Idempotency  idempotency.Store // nil when disabled

	// Domain Services
	AuditService   *audit.Service
	PaymentService *payment.Service
	Orchestrator   *transfer.Orchestrator

	// Workers
	TransferPool *transfer_worker.Pool
	StaleMonitor *stale_monitor.Worker
}

// NewContainer creates a new dependency injection container. A nil db selects
// the in-memory ledger. Workers are built but not started.
func NewContainer(cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	zapLog := log.Zap()

	c := &Container{
		Config: cfg,
		DB:     db,
		Logger: log,
		ZapLog: zapLog,
	}

	// Ledger
	if db != nil {
		c.AuditRepo = repositories.NewAuditRepository(db)
		c.AuditService = audit.NewService(c.AuditRepo, zapLog)
		c.PaymentRepo = repositories.NewPaymentRepository(db, c.AuditService, zapLog)
	} else {
		log.Warn("Using in-memory ledger; payments are lost on restart")
		c.AuditRepo = repositories.NewMemoryAuditRepository()
		c.AuditService = audit.NewService(c.AuditRepo, zapLog)
		c.PaymentRepo = repositories.NewMemoryPaymentRepository(c.AuditService, zapLog)
	}

	// Signers
	var err error
	if err = c.loadSigners(cfg.Signers); err != nil {
		return nil, err
	}
	if c.BurnSigner != nil {
		log.Info("Burn signer configured", "address", c.BurnSigner.Address().Hex())
	}
	if c.MintSigner != nil {
		log.Info("Mint signer configured", "address", c.MintSigner.Address().Hex())
	}

	// Chains and CCTP
	c.Registry = chains.NewRegistry(cfg.Chains)
	for _, ch := range c.Registry.All() {
		if ch.RPCURL != "" {
			log.Debug("Chain configured", "chain", ch.Name, "rpc", security.MaskURL(ch.RPCURL))
		}
	}
	c.Attestations = cctp.NewClient(cctp.Config{
		BaseURL:           cfg.CCTP.BaseURL,
		Environment:       cfg.CCTP.Environment,
		APIKey:            cfg.CCTP.APIKey,
		Timeout:           time.Duration(cfg.CCTP.Timeout) * time.Second,
		RequestsPerSecond: cfg.CCTP.RequestsPerSecond,
	}, zapLog)
	if cfg.CCTP.APIKey != "" {
		log.Info("Attestation API key configured", "api_key", security.MaskAPIKey(cfg.CCTP.APIKey))
	}
	c.Bridges = bridge.NewFactory(
		c.Registry,
		c.Attestations,
		bridge.EVMDialer(time.Duration(cfg.CCTP.ReceiptPollInterval)*time.Millisecond, zapLog),
		bridge.Config{
			PollInterval:       cfg.CCTP.PollInterval(),
			ReceiptTimeout:     cfg.CCTP.ReceiptWait(),
			AttestationTimeout: cfg.CCTP.AttestationWait(),
		},
		zapLog,
	)

	// Distributed advance lock
	var locker cache.Locker
	if cfg.Redis.Enabled {
		c.RedisClient, err = cache.NewRedisClient(&cfg.Redis, zapLog)
		if err != nil {
			return nil, err
		}
		c.TransferLock = cache.NewTransferLock(c.RedisClient, zapLog)
		locker = c.TransferLock
	}

	// Idempotency-Key replay store
	if cfg.Idempotency.Enabled {
		if c.RedisClient != nil {
			c.Idempotency = cache.NewIdempotencyStore(c.RedisClient, zapLog)
		} else {
			c.Idempotency = idempotency.NewMemoryStore()
		}
	}

	// Workers and services
	c.TransferPool = transfer_worker.NewPool(transfer_worker.Config{
		WorkerCount: cfg.Workers.Count,
		QueueSize:   cfg.Workers.QueueSize,
		JobTimeout:  jobTimeout(cfg),
		LockTTL:     time.Duration(cfg.Workers.LockTTL) * time.Second,
	}, locker, log)

	c.Orchestrator = transfer.NewOrchestrator(c.PaymentRepo, c.Bridges, c.TransferPool,
		transfer.Config{AttestationTimeout: cfg.CCTP.AttestationWait()}, log)
	c.PaymentService = payment.NewService(c.PaymentRepo, c.AuditService, c.Registry,
		cfg.Monitor.StaleThreshold(), log)

	if cfg.Monitor.Enabled {
		c.StaleMonitor = stale_monitor.NewWorker(stale_monitor.Config{
			Schedule:   cfg.Monitor.Schedule,
			StaleAfter: cfg.Monitor.StaleThreshold(),
			FailStale:  cfg.Monitor.FailStale,
			BatchSize:  cfg.Monitor.BatchSize,
		}, c.PaymentRepo, c.TransferPool, zapLog)
	}

	return c, nil
}

// Close releases chain connections and the redis client
func (c *Container) Close() {
	c.Bridges.Close()
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("Redis close error", "error", err)
		}
	}
}

// jobTimeout bounds one advance job: a receipt wait, the attestation wait and slack
func jobTimeout(cfg *config.Config) time.Duration {
	if cfg.Workers.JobTimeout > 0 {
		return time.Duration(cfg.Workers.JobTimeout) * time.Second
	}
	return cfg.CCTP.ReceiptWait() + cfg.CCTP.AttestationWait() + jobSlack
}

// loadSigners resolves the burn and mint keys, inline first and then from the
// configured secrets source
func (c *Container) loadSigners(cfg config.SignerConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), secretsTimeout)
	defer cancel()

	var provider secrets.Provider
	if cfg.Source != "" && (cfg.BurnKeySecret != "" || cfg.MintKeySecret != "") {
		var err error
		provider, err = secrets.NewProvider(ctx, secrets.Config{
			Source:   secrets.Source(cfg.Source),
			Region:   cfg.AWSRegion,
			Prefix:   cfg.SecretPrefix,
			CacheTTL: time.Duration(cfg.CacheTTL) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("secrets provider: %w", err)
		}
	}

	burnKey, err := secrets.Resolve(ctx, provider, cfg.BurnPrivateKey, cfg.BurnKeySecret)
	if err != nil {
		return fmt.Errorf("burn signer: %w", err)
	}
	if c.BurnSigner, err = loadSigner(burnKey); err != nil {
		return fmt.Errorf("burn signer: %w", err)
	}

	mintKey, err := secrets.Resolve(ctx, provider, cfg.MintPrivateKey, cfg.MintKeySecret)
	if err != nil {
		return fmt.Errorf("mint signer: %w", err)
	}
	if c.MintSigner, err = loadSigner(mintKey); err != nil {
		return fmt.Errorf("mint signer: %w", err)
	}
	return nil
}

func loadSigner(hexKey string) (*cctp.Signer, error) {
	if hexKey == "" {
		return nil, nil
	}
	return cctp.NewSigner(hexKey)
}
