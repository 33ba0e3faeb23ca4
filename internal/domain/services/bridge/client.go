// Package bridge executes the CCTP burn, attestation and mint primitives for one chain pair.
package bridge

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/crosspay/crosspay_service/internal/domain/entities"
	apperrors "github.com/crosspay/crosspay_service/internal/domain/errors"
	"github.com/crosspay/crosspay_service/internal/infrastructure/adapters/cctp"
	"github.com/crosspay/crosspay_service/internal/infrastructure/chains"
	"github.com/crosspay/crosspay_service/pkg/metrics"
	"github.com/crosspay/crosspay_service/pkg/tracing"
)

const (
	DefaultPollInterval       = 3 * time.Second
	DefaultReceiptTimeout     = 120 * time.Second
	DefaultAttestationTimeout = 300 * time.Second
)

// ChainClient is the per-chain contract surface used by the bridge
type ChainClient interface {
	Chain() string
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Approve(ctx context.Context, key *ecdsa.PrivateKey, token, spender common.Address, amount *big.Int) (common.Hash, error)
	DepositForBurn(ctx context.Context, key *ecdsa.PrivateKey, messenger common.Address, amount *big.Int, destDomain uint32, mintRecipient [32]byte, burnToken common.Address) (common.Hash, error)
	ReceiveMessage(ctx context.Context, key *ecdsa.PrivateKey, transmitter common.Address, message, attestation []byte) (common.Hash, error)
	NonceUsed(ctx context.Context, transmitter common.Address, sourceDomain uint32, nonce uint64) (bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
	Close()
}

var _ ChainClient = (*cctp.EVMClient)(nil)

// Bridge is the set of primitives the orchestrator drives
type Bridge interface {
	Burn(ctx context.Context, signer *cctp.Signer, amount decimal.Decimal, recipient string) (*BurnReceipt, error)
	FetchAttestation(ctx context.Context, burnTxRef string, timeout time.Duration) (*entities.AttestationPayload, error)
	Mint(ctx context.Context, attestation *entities.AttestationPayload, signer *cctp.Signer) (*MintReceipt, error)
	GetTxStatus(ctx context.Context, txRef string, role TxRole) TxStatus
}

var _ Bridge = (*Client)(nil)

// Config tunes polling and waits
type Config struct {
	PollInterval       time.Duration
	ReceiptTimeout     time.Duration
	AttestationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = DefaultReceiptTimeout
	}
	if c.AttestationTimeout <= 0 {
		c.AttestationTimeout = DefaultAttestationTimeout
	}
	return c
}

// BurnReceipt is the result of a submitted depositForBurn
type BurnReceipt struct {
	TxHash         string
	ApprovalTxHash string
	BaseUnits      *big.Int
}

// MintReceipt is the result of a mint. AlreadyReceived means the message was
// minted before and nothing was submitted.
type MintReceipt struct {
	TxHash          string
	BlockNumber     uint64
	AlreadyReceived bool
}

// TxRole selects the chain a transaction lives on
type TxRole string

const (
	RoleSource      TxRole = "source"
	RoleDestination TxRole = "destination"
)

// TxStatus is a best-effort confirmation snapshot
type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	Success     bool   `json:"success"`
	BlockNumber uint64 `json:"block_number,omitempty"`
}

// Client executes the bridging primitives for one (source, destination) pair.
// It holds no mutable state.
type Client struct {
	source       chains.ChainConfig
	dest         chains.ChainConfig
	sourceChain  ChainClient
	destChain    ChainClient
	attestations cctp.AttestationAPI
	config       Config
	logger       *zap.Logger
}

// NewClient creates a bridge client for the pair
func NewClient(source, dest chains.ChainConfig, sourceChain, destChain ChainClient, attestations cctp.AttestationAPI, config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		source:       source,
		dest:         dest,
		sourceChain:  sourceChain,
		destChain:    destChain,
		attestations: attestations,
		config:       config.withDefaults(),
		logger: logger.With(
			zap.String("source_chain", source.Name),
			zap.String("dest_chain", dest.Name)),
	}
}

// ToBaseUnits converts a USDC amount to its 6-decimal integer form.
// Amounts that are not positive or carry sub-micro precision are rejected.
func ToBaseUnits(amount decimal.Decimal) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, apperrors.ValidationError("amount", "amount must be greater than zero")
	}
	scaled := amount.Shift(cctp.USDCDecimals)
	if !scaled.IsInteger() {
		return nil, apperrors.ValidationError("amount", fmt.Sprintf("amount must have at most %d decimal places", cctp.USDCDecimals))
	}
	return scaled.BigInt(), nil
}

// Burn approves the token messenger and submits depositForBurn from the signer's account.
// It returns once the burn is submitted; it does not wait for it to be mined.
func (c *Client) Burn(ctx context.Context, signer *cctp.Signer, amount decimal.Decimal, recipient string) (receipt *BurnReceipt, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "bridge.burn",
		attribute.String("source_chain", c.source.Name),
		attribute.String("dest_chain", c.dest.Name),
		attribute.String("amount", amount.String()))
	defer func() {
		tracing.EndSpan(span, err)
		metrics.ObserveBridgeOperation("burn", start, err)
	}()

	if signer == nil {
		return nil, apperrors.ValidationError("signer", "burn signer is not configured")
	}
	if !common.IsHexAddress(recipient) {
		return nil, apperrors.ValidationError("recipient", "recipient must be a hex EVM address")
	}
	units, err := ToBaseUnits(amount)
	if err != nil {
		return nil, err
	}

	sender := signer.Address()
	balance, err := c.sourceChain.BalanceOf(ctx, c.source.USDCAddress, sender)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(units) < 0 {
		return nil, apperrors.InsufficientBalanceError(
			decimal.NewFromBigInt(balance, -cctp.USDCDecimals).String(),
			amount.String())
	}

	approveTx, err := c.sourceChain.Approve(ctx, signer.PrivateKey(), c.source.USDCAddress, c.source.TokenMessenger, units)
	if err != nil {
		return nil, err
	}
	approveReceipt, err := c.sourceChain.WaitForReceipt(ctx, approveTx, c.config.ReceiptTimeout)
	if err != nil {
		return nil, err
	}
	if approveReceipt.Status != types.ReceiptStatusSuccessful {
		return nil, apperrors.TransactionRevertedError("approve", approveTx.Hex())
	}

	burnTx, err := c.sourceChain.DepositForBurn(ctx, signer.PrivateKey(), c.source.TokenMessenger, units,
		c.dest.Domain, cctp.AddressToBytes32(common.HexToAddress(recipient)), c.source.USDCAddress)
	if err != nil {
		return nil, err
	}

	c.logger.Info("burn submitted",
		zap.String("tx_hash", burnTx.Hex()),
		zap.String("sender", sender.Hex()),
		zap.String("amount", amount.String()))

	return &BurnReceipt{
		TxHash:         burnTx.Hex(),
		ApprovalTxHash: approveTx.Hex(),
		BaseUnits:      units,
	}, nil
}

// FetchAttestation resolves the burn receipt, extracts the CCTP message and polls
// the attestation service until it is signed or timeout elapses.
// A non-positive timeout uses the configured default.
func (c *Client) FetchAttestation(ctx context.Context, burnTxRef string, timeout time.Duration) (payload *entities.AttestationPayload, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "bridge.fetch_attestation",
		attribute.String("source_chain", c.source.Name),
		attribute.String("burn_tx", burnTxRef))
	defer func() {
		tracing.EndSpan(span, err)
		metrics.ObserveBridgeOperation("fetch_attestation", start, err)
	}()

	if timeout <= 0 {
		timeout = c.config.AttestationTimeout
	}

	txHash := common.HexToHash(burnTxRef)
	receipt, err := c.sourceChain.WaitForReceipt(ctx, txHash, c.config.ReceiptTimeout)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, apperrors.TransactionRevertedError("burn", burnTxRef)
	}

	message, messageHash, err := cctp.ExtractMessage(receipt, c.source.MessageTransmitter)
	if err != nil {
		return nil, apperrors.MessageExtractionError(burnTxRef, err.Error())
	}

	c.logger.Info("burn message extracted",
		zap.String("tx_hash", burnTxRef),
		zap.String("message_hash", messageHash.Hex()))

	resp, err := c.pollAttestation(ctx, messageHash.Hex(), timeout)
	if err != nil {
		return nil, err
	}

	messageHex := resp.Message
	if messageHex == "" {
		messageHex = hexutil.Encode(message)
	}
	return &entities.AttestationPayload{
		MessageHash: messageHash.Hex(),
		Message:     messageHex,
		Attestation: resp.Attestation,
	}, nil
}

func (c *Client) pollAttestation(ctx context.Context, messageHash string, timeout time.Duration) (*cctp.AttestationResponse, error) {
	// Each request is bounded by the overall deadline so a retrying or hung
	// service cannot stretch the wait past timeout.
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	var lastProblem error
	for {
		resp, err := c.attestations.GetAttestation(pollCtx, messageHash)
		switch {
		case err != nil:
			lastProblem = err
			metrics.AttestationPollsTotal.WithLabelValues("error").Inc()
			c.logger.Warn("attestation poll failed",
				zap.String("message_hash", messageHash),
				zap.Error(err))
		case resp.IsComplete():
			metrics.AttestationPollsTotal.WithLabelValues("complete").Inc()
			c.logger.Info("attestation received", zap.String("message_hash", messageHash))
			return resp, nil
		case resp.IsPending():
			metrics.AttestationPollsTotal.WithLabelValues("pending").Inc()
		default:
			lastProblem = fmt.Errorf("unexpected attestation status %q", resp.Status)
			metrics.AttestationPollsTotal.WithLabelValues("unexpected").Inc()
			c.logger.Warn("unexpected attestation status",
				zap.String("message_hash", messageHash),
				zap.String("status", resp.Status))
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return nil, fmt.Errorf("attestation polling for %s stopped: %w", messageHash, ctx.Err())
			}
			metrics.AttestationPollsTotal.WithLabelValues("timeout").Inc()
			return nil, apperrors.AttestationTimeoutError(messageHash, timeout, lastProblem)
		case <-ticker.C:
		}
	}
}

// Mint submits the attested message to the destination chain.
// A message whose nonce is already used returns AlreadyReceived without submitting.
func (c *Client) Mint(ctx context.Context, attestation *entities.AttestationPayload, signer *cctp.Signer) (receipt *MintReceipt, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "bridge.mint",
		attribute.String("dest_chain", c.dest.Name))
	defer func() {
		tracing.EndSpan(span, err)
		metrics.ObserveBridgeOperation("mint", start, err)
	}()

	if signer == nil {
		return nil, apperrors.ValidationError("signer", "mint signer is not configured")
	}
	if attestation == nil {
		return nil, apperrors.ValidationError("attestation", "attestation payload is required")
	}
	message, err := cctp.DecodeHex(attestation.Message)
	if err != nil {
		return nil, apperrors.ValidationError("message", "message is not valid hex")
	}
	signature, err := cctp.DecodeHex(attestation.Attestation)
	if err != nil {
		return nil, apperrors.ValidationError("attestation", "attestation is not valid hex")
	}
	header, err := cctp.ParseMessageHeader(message)
	if err != nil {
		return nil, apperrors.ValidationError("message", "malformed message: "+err.Error())
	}
	if header.DestinationDomain != c.dest.Domain {
		return nil, apperrors.ValidationError("message",
			fmt.Sprintf("message destined for domain %d, %s is domain %d", header.DestinationDomain, c.dest.Name, c.dest.Domain))
	}

	used, err := c.destChain.NonceUsed(ctx, c.dest.MessageTransmitter, header.SourceDomain, header.Nonce)
	if err != nil {
		return nil, err
	}
	if used {
		c.logger.Info("message already received, skipping mint",
			zap.Uint32("source_domain", header.SourceDomain),
			zap.Uint64("nonce", header.Nonce))
		return &MintReceipt{AlreadyReceived: true}, nil
	}

	mintTx, err := c.destChain.ReceiveMessage(ctx, signer.PrivateKey(), c.dest.MessageTransmitter, message, signature)
	if err != nil {
		return nil, err
	}
	mined, err := c.destChain.WaitForReceipt(ctx, mintTx, c.config.ReceiptTimeout)
	if err != nil {
		return nil, err
	}
	if mined.Status != types.ReceiptStatusSuccessful {
		// a revert because the nonce was consumed meanwhile means the message is minted
		if used, uerr := c.destChain.NonceUsed(ctx, c.dest.MessageTransmitter, header.SourceDomain, header.Nonce); uerr == nil && used {
			c.logger.Info("mint reverted but message already received",
				zap.String("tx_hash", mintTx.Hex()),
				zap.Uint64("nonce", header.Nonce))
			return &MintReceipt{AlreadyReceived: true}, nil
		}
		return nil, apperrors.TransactionRevertedError("mint", mintTx.Hex())
	}

	c.logger.Info("mint confirmed",
		zap.String("tx_hash", mintTx.Hex()),
		zap.Uint64("nonce", header.Nonce))

	return &MintReceipt{TxHash: mintTx.Hex(), BlockNumber: blockNumber(mined)}, nil
}

// GetTxStatus reports whether txRef is mined on the chain selected by role.
// Unknown and unmined transactions report Confirmed=false.
func (c *Client) GetTxStatus(ctx context.Context, txRef string, role TxRole) TxStatus {
	chain := c.sourceChain
	if role == RoleDestination {
		chain = c.destChain
	}
	if txRef == "" {
		return TxStatus{}
	}

	receipt, err := chain.TransactionReceipt(ctx, common.HexToHash(txRef))
	if err != nil {
		c.logger.Debug("tx status lookup failed", zap.String("tx_hash", txRef), zap.Error(err))
		return TxStatus{}
	}
	if receipt == nil {
		return TxStatus{}
	}
	return TxStatus{
		Confirmed:   true,
		Success:     receipt.Status == types.ReceiptStatusSuccessful,
		BlockNumber: blockNumber(receipt),
	}
}

func blockNumber(r *types.Receipt) uint64 {
	if r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}
