//go:build ignore

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/internal/infrastructure/adapters/cctp"
	"github.com/crosspay/crosspay_service/internal/infrastructure/chains"
	"github.com/crosspay/crosspay_service/internal/infrastructure/config"
	"github.com/crosspay/crosspay_service/pkg/security"
)

// Checks the attestation API and every chain RPC endpoint the service is configured for.
// Usage: go run scripts/check_connectivity.go
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, _ := zap.NewDevelopment()
	defer zapLogger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	failed := false

	fmt.Println("Testing attestation API...")
	iris := cctp.NewClient(cctp.Config{
		BaseURL:     cfg.CCTP.BaseURL,
		Environment: cfg.CCTP.Environment,
		APIKey:      cfg.CCTP.APIKey,
		MaxRetries:  -1,
	}, zapLogger)
	keys, err := iris.GetPublicKeys(ctx)
	if err != nil {
		fmt.Printf("✗ attestation API: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✓ attestation API reachable, %d public keys\n", len(keys.Keys))
	}

	var signer *cctp.Signer
	if cfg.Signers.BurnPrivateKey != "" {
		if signer, err = cctp.NewSigner(cfg.Signers.BurnPrivateKey); err != nil {
			log.Fatalf("Invalid burn signer key: %v", err)
		}
	}

	registry := chains.NewRegistry(cfg.Chains)
	for _, chain := range registry.All() {
		if chain.RPCURL == "" {
			fmt.Printf("- %s: no rpc_url configured, skipped\n", chain.Name)
			continue
		}
		if err := checkChain(ctx, chain, signer, zapLogger); err != nil {
			fmt.Printf("✗ %s: %v\n", chain.Name, err)
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
}

func checkChain(ctx context.Context, chain chains.ChainConfig, signer *cctp.Signer, logger *zap.Logger) error {
	backend, err := cctp.Dial(ctx, chain.Name, chain.RPCURL)
	if err != nil {
		return err
	}
	defer backend.Close()

	id, err := backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	if id.Int64() != chain.EVMChainID {
		return fmt.Errorf("rpc reports chain id %s, expected %d", id, chain.EVMChainID)
	}
	fmt.Printf("✓ %s reachable at %s (chain id %s, CCTP domain %d)\n", chain.Name, security.MaskURL(chain.RPCURL), id, chain.Domain)

	if signer == nil {
		return nil
	}
	client := cctp.NewEVMClient(chain.Name, backend, 0, logger)
	balance, err := client.BalanceOf(ctx, chain.USDCAddress, signer.Address())
	if err != nil {
		return fmt.Errorf("usdc balance: %w", err)
	}
	fmt.Printf("  %s holds %s USDC\n", signer.Address().Hex(),
		decimal.NewFromBigInt(balance, -cctp.USDCDecimals).String())
	return nil
}
