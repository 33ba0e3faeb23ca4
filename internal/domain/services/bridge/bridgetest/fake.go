// Package bridgetest provides an in-memory chain for exercising the bridge without RPC nodes.
package bridgetest

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	apperrors "github.com/crosspay/crosspay_service/internal/domain/errors"
	"github.com/crosspay/crosspay_service/internal/infrastructure/adapters/cctp"
	"github.com/crosspay/crosspay_service/internal/infrastructure/chains"
)

var messageSentEvent = func() abi.Event {
	parsed, err := abi.JSON(strings.NewReader(`[{"type":"event","name":"MessageSent","anonymous":false,
		"inputs":[{"name":"message","type":"bytes","indexed":false}]}]`))
	if err != nil {
		panic(err)
	}
	return parsed.Events["MessageSent"]
}()

// Message builds a CCTP message with the given routing header
func Message(sourceDomain, destDomain uint32, nonce uint64) []byte {
	msg := make([]byte, 116, 148)
	binary.BigEndian.PutUint32(msg[4:8], sourceDomain)
	binary.BigEndian.PutUint32(msg[8:12], destDomain)
	binary.BigEndian.PutUint64(msg[12:20], nonce)
	return append(msg, make([]byte, 32)...)
}

// MessageSentLog builds the log the transmitter emits for message
func MessageSentLog(transmitter common.Address, message []byte) *types.Log {
	data, err := messageSentEvent.Inputs.Pack(message)
	if err != nil {
		panic(err)
	}
	return &types.Log{Address: transmitter, Topics: []common.Hash{messageSentEvent.ID}, Data: data}
}

// Chain is a scriptable in-memory ChainClient. The zero value is not usable; use NewChain.
type Chain struct {
	mu sync.Mutex

	name        string
	domain      uint32
	transmitter common.Address
	balance     *big.Int
	receipts    map[common.Hash]*types.Receipt
	used        map[common.Hash]bool
	counter     uint64

	// Unavailable makes every call fail with ErrChainUnavailable
	Unavailable bool
	// RevertNext marks the next submitted transaction's receipt as failed
	RevertNext bool
	// LoseNextMint reverts the next receiveMessage and marks its nonce used,
	// as when another submitter minted the message first
	LoseNextMint bool

	Approvals []*big.Int
	Burns     []*big.Int
	Mints     [][]byte
}

// NewChain creates a chain named after config
func NewChain(config chains.ChainConfig) *Chain {
	return &Chain{
		name:        config.Name,
		domain:      config.Domain,
		transmitter: config.MessageTransmitter,
		balance:     big.NewInt(0),
		receipts:    make(map[common.Hash]*types.Receipt),
		used:        make(map[common.Hash]bool),
	}
}

// SetBalance sets the USDC balance returned for every account
func (c *Chain) SetBalance(units int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = big.NewInt(units)
}

// AddReceipt registers a mined transaction with the given logs
func (c *Chain) AddReceipt(txRef string, status uint64, logs ...*types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[common.HexToHash(txRef)] = &types.Receipt{
		Status:      status,
		Logs:        logs,
		BlockNumber: big.NewInt(int64(len(c.receipts) + 1)),
	}
}

// MarkReceived flags a message nonce as already minted
func (c *Chain) MarkReceived(sourceDomain uint32, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.used[cctp.NonceKey(sourceDomain, nonce)] = true
}

// MintCount returns the number of receiveMessage submissions
func (c *Chain) MintCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Mints)
}

func (c *Chain) Chain() string { return c.name }

func (c *Chain) Close() {}

func (c *Chain) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Unavailable {
		return nil, c.unavailable()
	}
	return new(big.Int).Set(c.balance), nil
}

func (c *Chain) Approve(ctx context.Context, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Unavailable {
		return common.Hash{}, c.unavailable()
	}
	c.Approvals = append(c.Approvals, amount)
	return c.submit(), nil
}

func (c *Chain) DepositForBurn(ctx context.Context, key *ecdsa.PrivateKey, messenger common.Address, amount *big.Int, destDomain uint32, mintRecipient [32]byte, burnToken common.Address) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Unavailable {
		return common.Hash{}, c.unavailable()
	}
	c.Burns = append(c.Burns, amount)
	message := Message(c.domain, destDomain, c.counter+1)
	return c.submit(MessageSentLog(c.transmitter, message)), nil
}

func (c *Chain) ReceiveMessage(ctx context.Context, key *ecdsa.PrivateKey, transmitter common.Address, message, attestation []byte) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Unavailable {
		return common.Hash{}, c.unavailable()
	}
	c.Mints = append(c.Mints, message)
	if c.LoseNextMint {
		c.LoseNextMint = false
		if header, err := cctp.ParseMessageHeader(message); err == nil {
			c.used[cctp.NonceKey(header.SourceDomain, header.Nonce)] = true
		}
		c.RevertNext = true
	}
	return c.submit(), nil
}

func (c *Chain) NonceUsed(ctx context.Context, transmitter common.Address, sourceDomain uint32, nonce uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Unavailable {
		return false, c.unavailable()
	}
	return c.used[cctp.NonceKey(sourceDomain, nonce)], nil
}

func (c *Chain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Unavailable {
		return nil, c.unavailable()
	}
	return c.receipts[hash], nil
}

// WaitForReceipt returns immediately: a receipt is either registered or never appears
func (c *Chain) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	receipt, err := c.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, apperrors.TransactionNotFoundError(hash.Hex(), timeout)
	}
	return receipt, nil
}

// submit mines a transaction carrying logs
func (c *Chain) submit(logs ...*types.Log) common.Hash {
	c.counter++
	hash := crypto.Keccak256Hash([]byte(c.name), new(big.Int).SetUint64(c.counter).Bytes())
	status := types.ReceiptStatusSuccessful
	if c.RevertNext {
		status = types.ReceiptStatusFailed
		c.RevertNext = false
	}
	c.receipts[hash] = &types.Receipt{Status: status, Logs: logs, BlockNumber: new(big.Int).SetUint64(c.counter)}
	return hash
}

func (c *Chain) unavailable() error {
	return apperrors.ChainUnavailableError(c.name, errors.New("connection refused"))
}
