package bridge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/internal/infrastructure/adapters/cctp"
	"github.com/crosspay/crosspay_service/internal/infrastructure/chains"
)

// Dialer opens a chain client for a registry entry
type Dialer func(ctx context.Context, chain chains.ChainConfig) (ChainClient, error)

// EVMDialer dials chains over JSON-RPC with go-ethereum
func EVMDialer(receiptPollInterval time.Duration, logger *zap.Logger) Dialer {
	return func(ctx context.Context, chain chains.ChainConfig) (ChainClient, error) {
		backend, err := cctp.Dial(ctx, chain.Name, chain.RPCURL)
		if err != nil {
			return nil, err
		}
		return cctp.NewEVMClient(chain.Name, backend, receiptPollInterval, logger), nil
	}
}

// Factory builds bridge clients per chain pair. Chain connections are dialed
// on first use and shared by every pair that touches the chain.
type Factory struct {
	registry     *chains.Registry
	attestations cctp.AttestationAPI
	dial         Dialer
	config       Config
	logger       *zap.Logger

	mu      sync.Mutex
	clients map[string]ChainClient
}

// NewFactory creates a Factory
func NewFactory(registry *chains.Registry, attestations cctp.AttestationAPI, dial Dialer, config Config, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dial == nil {
		dial = EVMDialer(0, logger)
	}
	return &Factory{
		registry:     registry,
		attestations: attestations,
		dial:         dial,
		config:       config,
		logger:       logger,
		clients:      make(map[string]ChainClient),
	}
}

// ForPair returns a bridge for source -> dest. Unknown chains are client errors;
// unreachable RPC endpoints are ErrChainUnavailable.
func (f *Factory) ForPair(ctx context.Context, source, dest string) (Bridge, error) {
	src, err := f.registry.Resolve(source)
	if err != nil {
		return nil, err
	}
	dst, err := f.registry.Resolve(dest)
	if err != nil {
		return nil, err
	}

	srcClient, err := f.chainClient(ctx, src)
	if err != nil {
		return nil, err
	}
	dstClient, err := f.chainClient(ctx, dst)
	if err != nil {
		return nil, err
	}

	return NewClient(src, dst, srcClient, dstClient, f.attestations, f.config, f.logger), nil
}

func (f *Factory) chainClient(ctx context.Context, chain chains.ChainConfig) (ChainClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[chain.Name]; ok {
		return c, nil
	}

	c, err := f.dial(ctx, chain)
	if err != nil {
		f.logger.Warn("failed to dial chain", zap.String("chain", chain.Name), zap.Error(err))
		return nil, err
	}
	f.clients[chain.Name] = c
	f.logger.Info("chain client connected", zap.String("chain", chain.Name))
	return c, nil
}

// Close releases every dialed chain connection
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for name, c := range f.clients {
		c.Close()
		delete(f.clients, name)
	}
}
