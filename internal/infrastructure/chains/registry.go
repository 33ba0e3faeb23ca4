// Package chains holds the static table of CCTP-enabled chains.
package chains

import (
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/crosspay/crosspay_service/internal/domain/errors"
	"github.com/crosspay/crosspay_service/internal/infrastructure/config"
)

// ChainConfig is everything needed to talk to one chain's CCTP contracts
type ChainConfig struct {
	Name               string         `json:"name"`
	DisplayName        string         `json:"display_name"`
	EVMChainID         int64          `json:"evm_chain_id"`
	RPCURL             string         `json:"-"`
	USDCAddress        common.Address `json:"usdc_address"`
	TokenMessenger     common.Address `json:"token_messenger"`
	MessageTransmitter common.Address `json:"message_transmitter"`
	Domain             uint32         `json:"domain"`
	ExplorerTxURL      string         `json:"explorer_tx_url"`
}

// ExplorerLink returns the block explorer URL of a transaction, or "" when unknown
func (c ChainConfig) ExplorerLink(txHash string) string {
	if c.ExplorerTxURL == "" || txHash == "" {
		return ""
	}
	return c.ExplorerTxURL + txHash
}

// Default CCTP testnet deployments
var testnets = []ChainConfig{
	{
		Name:               "sepolia",
		DisplayName:        "Ethereum Sepolia",
		EVMChainID:         11155111,
		RPCURL:             "https://eth-sepolia.g.alchemy.com/v2/demo",
		USDCAddress:        common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
		TokenMessenger:     common.HexToAddress("0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5"),
		MessageTransmitter: common.HexToAddress("0x7865fAfC2db2093669d92c0F33AeEF291086BEFD"),
		Domain:             0,
		ExplorerTxURL:      "https://sepolia.etherscan.io/tx/",
	},
	{
		Name:               "avalanche_fuji",
		DisplayName:        "Avalanche Fuji",
		EVMChainID:         43113,
		RPCURL:             "https://api.avax-test.network/ext/bc/C/rpc",
		USDCAddress:        common.HexToAddress("0x5425890298aed601595a70AB815c96711a31Bc65"),
		TokenMessenger:     common.HexToAddress("0xeb08f243e5d3fcff26a9e38ae5520a669f4019d0"),
		MessageTransmitter: common.HexToAddress("0xa9fb1b3009dcb79e2fe346c16a604b8fa8ae0a79"),
		Domain:             1,
		ExplorerTxURL:      "https://testnet.snowtrace.io/tx/",
	},
	{
		Name:               "arbitrum_sepolia",
		DisplayName:        "Arbitrum Sepolia",
		EVMChainID:         421614,
		RPCURL:             "https://sepolia-rollup.arbitrum.io/rpc",
		USDCAddress:        common.HexToAddress("0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d"),
		TokenMessenger:     common.HexToAddress("0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5"),
		MessageTransmitter: common.HexToAddress("0xaCF1ceeF35caAc005e15888dDb8A3515C41B4872"),
		Domain:             3,
		ExplorerTxURL:      "https://sepolia.arbiscan.io/tx/",
	},
	{
		Name:               "base_sepolia",
		DisplayName:        "Base Sepolia",
		EVMChainID:         84532,
		RPCURL:             "https://sepolia.base.org",
		USDCAddress:        common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		TokenMessenger:     common.HexToAddress("0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5"),
		MessageTransmitter: common.HexToAddress("0x7865fAfC2db2093669d92c0F33AeEF291086BEFD"),
		Domain:             6,
		ExplorerTxURL:      "https://sepolia.basescan.org/tx/",
	},
	{
		Name:               "polygon_amoy",
		DisplayName:        "Polygon Amoy",
		EVMChainID:         80002,
		RPCURL:             "https://rpc-amoy.polygon.technology",
		USDCAddress:        common.HexToAddress("0x41e94eb019c0762f9bfcf9fb1e58725bfb0e7582"),
		TokenMessenger:     common.HexToAddress("0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5"),
		MessageTransmitter: common.HexToAddress("0x7865fAfC2db2093669d92c0F33AeEF291086BEFD"),
		Domain:             7,
		ExplorerTxURL:      "https://amoy.polygonscan.com/tx/",
	},
}

// Registry resolves chain identifiers. It is read-only after construction.
type Registry struct {
	chains map[string]ChainConfig
}

// NewRegistry builds the registry from the testnet table merged with config overrides.
// An override for an unknown name declares a new chain.
func NewRegistry(overrides map[string]config.ChainConfig) *Registry {
	chains := make(map[string]ChainConfig, len(testnets)+len(overrides))
	for _, c := range testnets {
		chains[c.Name] = c
	}

	for name, o := range overrides {
		name = normalize(name)
		c, ok := chains[name]
		if !ok {
			c = ChainConfig{Name: name, DisplayName: name}
		}
		if o.DisplayName != "" {
			c.DisplayName = o.DisplayName
		}
		if o.EVMChainID != 0 {
			c.EVMChainID = o.EVMChainID
		}
		if o.RPCURL != "" {
			c.RPCURL = o.RPCURL
		}
		if o.USDCAddress != "" {
			c.USDCAddress = common.HexToAddress(o.USDCAddress)
		}
		if o.TokenMessenger != "" {
			c.TokenMessenger = common.HexToAddress(o.TokenMessenger)
		}
		if o.MessageTransmitter != "" {
			c.MessageTransmitter = common.HexToAddress(o.MessageTransmitter)
		}
		if o.Domain != nil {
			c.Domain = uint32(*o.Domain)
		}
		if o.ExplorerTxURL != "" {
			c.ExplorerTxURL = o.ExplorerTxURL
		}
		chains[name] = c
	}

	return &Registry{chains: chains}
}

// Resolve returns the configuration of chainID or an unknown-chain client error
func (r *Registry) Resolve(chainID string) (ChainConfig, error) {
	c, ok := r.chains[normalize(chainID)]
	if !ok {
		return ChainConfig{}, apperrors.UnknownChainError(chainID)
	}
	return c, nil
}

// Names returns the supported chain identifiers, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every chain, sorted by name
func (r *Registry) All() []ChainConfig {
	out := make([]ChainConfig, 0, len(r.chains))
	for _, name := range r.Names() {
		out = append(out, r.chains[name])
	}
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
