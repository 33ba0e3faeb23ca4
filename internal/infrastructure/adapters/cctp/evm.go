package cctp

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	apperrors "github.com/crosspay/crosspay_service/internal/domain/errors"
)

const (
	defaultReceiptPollInterval = time.Second
	gasLimitBufferPercent      = 20
)

// Dial connects to an EVM JSON-RPC endpoint. Failures are reported as ErrChainUnavailable.
func Dial(ctx context.Context, chain, rpcURL string) (EthBackend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, apperrors.ChainUnavailableError(chain, err)
	}
	return client, nil
}

// EVMClient drives the CCTP contracts of one chain
type EVMClient struct {
	chain        string
	backend      EthBackend
	pollInterval time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	chainID *big.Int

	// senders holds one *sync.Mutex per from address; a send holds it from
	// nonce lookup until the transaction is accepted
	senders sync.Map
}

// NewEVMClient wraps backend. pollInterval paces receipt polling; zero means one second.
func NewEVMClient(chain string, backend EthBackend, pollInterval time.Duration, logger *zap.Logger) *EVMClient {
	if pollInterval <= 0 {
		pollInterval = defaultReceiptPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EVMClient{
		chain:        chain,
		backend:      backend,
		pollInterval: pollInterval,
		logger:       logger.With(zap.String("chain", chain)),
	}
}

// Chain returns the chain name this client is bound to
func (c *EVMClient) Chain() string {
	return c.chain
}

// Close releases the RPC connection
func (c *EVMClient) Close() {
	c.backend.Close()
}

// BalanceOf returns the token balance of owner in base units
func (c *EVMClient) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, erc20Contract, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected result type %T", out[0])
	}
	return balance, nil
}

// Approve authorizes spender to move amount of token on behalf of key's account
func (c *EVMClient) Approve(ctx context.Context, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	return c.transact(ctx, key, erc20Contract, token, "approve", spender, amount)
}

// DepositForBurn burns amount of burnToken and emits a message for destDomain
func (c *EVMClient) DepositForBurn(ctx context.Context, key *ecdsa.PrivateKey, messenger common.Address, amount *big.Int, destDomain uint32, mintRecipient [32]byte, burnToken common.Address) (common.Hash, error) {
	return c.transact(ctx, key, tokenMessengerContract, messenger, "depositForBurn", amount, destDomain, mintRecipient, burnToken)
}

// ReceiveMessage submits an attested message to the destination transmitter
func (c *EVMClient) ReceiveMessage(ctx context.Context, key *ecdsa.PrivateKey, transmitter common.Address, message, attestation []byte) (common.Hash, error) {
	return c.transact(ctx, key, messageTransmitterContract, transmitter, "receiveMessage", message, attestation)
}

// NonceUsed reports whether the message identified by (sourceDomain, nonce) was already received
func (c *EVMClient) NonceUsed(ctx context.Context, transmitter common.Address, sourceDomain uint32, nonce uint64) (bool, error) {
	out, err := c.call(ctx, messageTransmitterContract, transmitter, "usedNonces", [32]byte(NonceKey(sourceDomain, nonce)))
	if err != nil {
		return false, err
	}
	used, ok := out[0].(*big.Int)
	if !ok {
		return false, fmt.Errorf("usedNonces: unexpected result type %T", out[0])
	}
	return used.Sign() != 0, nil
}

// TransactionReceipt returns the receipt of hash, or (nil, nil) when it is not mined yet
func (c *EVMClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, apperrors.ChainUnavailableError(c.chain, err)
	}
	return receipt, nil
}

// WaitForReceipt polls until hash is mined or timeout elapses.
// RPC errors while waiting are logged and retried on the next tick.
func (c *EVMClient) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.TransactionReceipt(waitCtx, hash)
		if err != nil {
			c.logger.Warn("receipt lookup failed",
				zap.String("tx_hash", hash.Hex()),
				zap.Error(err))
		} else if receipt != nil {
			return receipt, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperrors.TransactionNotFoundError(hash.Hex(), timeout)
		case <-ticker.C:
		}
	}
}

func (c *EVMClient) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, apperrors.ChainUnavailableError(c.chain, fmt.Errorf("%s: %w", method, err))
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func (c *EVMClient) transact(ctx context.Context, key *ecdsa.PrivateKey, contract abi.ABI, to common.Address, method string, args ...interface{}) (common.Hash, error) {
	if key == nil {
		return common.Hash{}, apperrors.ValidationError("signer", "signing key is required")
	}

	data, err := contract.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	chainID, err := c.getChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	from := crypto.PubkeyToAddress(key.PublicKey)
	sendMu := c.senderLock(from)
	sendMu.Lock()
	defer sendMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, apperrors.ChainUnavailableError(c.chain, fmt.Errorf("pending nonce: %w", err))
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, apperrors.ChainUnavailableError(c.chain, fmt.Errorf("gas price: %w", err))
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		if isRevert(err) {
			return common.Hash{}, apperrors.NewDomainError(apperrors.ErrTransactionReverted, "TRANSACTION_REVERTED",
				fmt.Sprintf("%s rejected by contract: %v", method, err))
		}
		return common.Hash{}, apperrors.ChainUnavailableError(c.chain, fmt.Errorf("estimate gas for %s: %w", method, err))
	}
	gas += gas * gasLimitBufferPercent / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign %s: %w", method, err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, apperrors.ChainUnavailableError(c.chain, fmt.Errorf("send %s: %w", method, err))
	}

	c.logger.Info("transaction submitted",
		zap.String("method", method),
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.String("from", from.Hex()),
		zap.Uint64("nonce", nonce))

	return signed.Hash(), nil
}

func (c *EVMClient) senderLock(from common.Address) *sync.Mutex {
	mu, _ := c.senders.LoadOrStore(from, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// isRevert reports whether a gas estimation failed because the call itself
// reverts, as opposed to the node being unreachable
func isRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}

func (c *EVMClient) getChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, apperrors.ChainUnavailableError(c.chain, fmt.Errorf("chain id: %w", err))
	}
	c.chainID = id
	return id, nil
}
