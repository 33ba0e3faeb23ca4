package di

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosspay/crosspay_service/internal/infrastructure/config"
	"github.com/crosspay/crosspay_service/pkg/idempotency"
	"github.com/crosspay/crosspay_service/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Database:    config.DatabaseConfig{InMemory: true},
		CCTP: config.CCTPConfig{
			Environment:        "sandbox",
			PollIntervalMS:     100,
			AttestationTimeout: 300,
			ReceiptTimeout:     120,
		},
		Workers: config.WorkerConfig{Count: 2, QueueSize: 10},
		Monitor: config.MonitorConfig{Enabled: true, Schedule: "@every 1m", StaleAfter: 900, BatchSize: 10},
	}
}

func TestNewContainer_InMemory(t *testing.T) {
	c, err := NewContainer(testConfig(), nil, logger.NewNop())
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.DB)
	assert.NotNil(t, c.PaymentRepo)
	assert.NotNil(t, c.Orchestrator)
	assert.NotNil(t, c.PaymentService)
	assert.NotNil(t, c.StaleMonitor)
	assert.Nil(t, c.BurnSigner)
	assert.Nil(t, c.MintSigner)
	assert.Nil(t, c.TransferLock)
	assert.Contains(t, c.Registry.Names(), "sepolia")
}

func TestNewContainer_Signers(t *testing.T) {
	cfg := testConfig()
	cfg.Signers.MintPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	cfg.Monitor.Enabled = false

	c, err := NewContainer(cfg, nil, logger.NewNop())
	require.NoError(t, err)
	require.NotNil(t, c.MintSigner)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", c.MintSigner.Address().Hex())
	assert.Nil(t, c.StaleMonitor)

	cfg.Signers.BurnPrivateKey = "not-a-key"
	_, err = NewContainer(cfg, nil, logger.NewNop())
	assert.ErrorContains(t, err, "burn signer")
}

func TestNewContainer_SignerFromSecretsSource(t *testing.T) {
	t.Setenv("CROSSPAY_MINT_KEY", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	cfg := testConfig()
	cfg.Monitor.Enabled = false
	cfg.Signers = config.SignerConfig{Source: "env", SecretPrefix: "CROSSPAY_", MintKeySecret: "MINT_KEY"}

	c, err := NewContainer(cfg, nil, logger.NewNop())
	require.NoError(t, err)
	require.NotNil(t, c.MintSigner)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", c.MintSigner.Address().Hex())
	assert.Nil(t, c.BurnSigner)

	cfg.Signers.BurnKeySecret = "BURN_KEY"
	_, err = NewContainer(cfg, nil, logger.NewNop())
	assert.ErrorContains(t, err, "burn signer")
}

func TestNewContainer_IdempotencyStore(t *testing.T) {
	cfg := testConfig()
	c, err := NewContainer(cfg, nil, logger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, c.Idempotency)

	cfg.Idempotency = config.IdempotencyConfig{Enabled: true, TTL: 60}
	c, err = NewContainer(cfg, nil, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &idempotency.MemoryStore{}, c.Idempotency)
}

func TestJobTimeout(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, 480*time.Second, jobTimeout(cfg))

	cfg.Workers.JobTimeout = 30
	assert.Equal(t, 30*time.Second, jobTimeout(cfg))
}
