package cctp

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// AttestationAPI defines the Iris API operations the bridge depends on
type AttestationAPI interface {
	// GetAttestation fetches the attestation for a message hash
	GetAttestation(ctx context.Context, messageHash string) (*AttestationResponse, error)

	// GetPublicKeys retrieves attestation public keys
	GetPublicKeys(ctx context.Context) (*PublicKeysResponse, error)
}

// EthBackend is the subset of ethclient.Client used to drive the CCTP contracts
type EthBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

var (
	_ AttestationAPI = (*Client)(nil)
	_ EthBackend     = (*ethclient.Client)(nil)
)
