package cctp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNoMessageSent   = errors.New("no MessageSent event")
	ErrMessageTooShort = errors.New("message shorter than CCTP header")
)

// Header layout: version(4) sourceDomain(4) destinationDomain(4) nonce(8)
// sender(32) recipient(32) destinationCaller(32) body
const messageHeaderLength = 116

var (
	erc20Contract              = mustParseABI(erc20ABI)
	tokenMessengerContract     = mustParseABI(tokenMessengerABI)
	messageTransmitterContract = mustParseABI(messageTransmitterABI)

	// MessageSentTopic is keccak256("MessageSent(bytes)")
	MessageSentTopic = messageTransmitterContract.Events["MessageSent"].ID
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("cctp: invalid ABI: %v", err))
	}
	return parsed
}

// MessageHeader is the routing prefix of a CCTP message
type MessageHeader struct {
	Version           uint32
	SourceDomain      uint32
	DestinationDomain uint32
	Nonce             uint64
	Sender            common.Hash
	Recipient         common.Hash
	DestinationCaller common.Hash
}

// ExtractMessage finds the MessageSent event emitted by transmitter in receipt
// and returns the decoded message with its keccak256 hash.
func ExtractMessage(receipt *types.Receipt, transmitter common.Address) ([]byte, common.Hash, error) {
	if receipt == nil {
		return nil, common.Hash{}, ErrNoMessageSent
	}

	for _, log := range receipt.Logs {
		if log == nil || log.Address != transmitter {
			continue
		}
		if len(log.Topics) == 0 || log.Topics[0] != MessageSentTopic {
			continue
		}

		values, err := messageTransmitterContract.Unpack("MessageSent", log.Data)
		if err != nil {
			return nil, common.Hash{}, fmt.Errorf("decode MessageSent: %w", err)
		}
		message, ok := values[0].([]byte)
		if !ok || len(message) == 0 {
			return nil, common.Hash{}, fmt.Errorf("decode MessageSent: empty payload")
		}
		return message, crypto.Keccak256Hash(message), nil
	}

	return nil, common.Hash{}, ErrNoMessageSent
}

// ParseMessageHeader decodes the fixed-size header of a CCTP message
func ParseMessageHeader(message []byte) (*MessageHeader, error) {
	if len(message) < messageHeaderLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooShort, len(message))
	}
	return &MessageHeader{
		Version:           binary.BigEndian.Uint32(message[0:4]),
		SourceDomain:      binary.BigEndian.Uint32(message[4:8]),
		DestinationDomain: binary.BigEndian.Uint32(message[8:12]),
		Nonce:             binary.BigEndian.Uint64(message[12:20]),
		Sender:            common.BytesToHash(message[20:52]),
		Recipient:         common.BytesToHash(message[52:84]),
		DestinationCaller: common.BytesToHash(message[84:116]),
	}, nil
}

// NonceKey is the usedNonces key of a message: keccak256(sourceDomain ‖ nonce)
func NonceKey(sourceDomain uint32, nonce uint64) common.Hash {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], sourceDomain)
	binary.BigEndian.PutUint64(buf[4:12], nonce)
	return crypto.Keccak256Hash(buf)
}

// AddressToBytes32 left-pads an EVM address into a CCTP mint recipient
func AddressToBytes32(addr common.Address) [32]byte {
	var out [32]byte
	copy(out[12:], addr.Bytes())
	return out
}

// DecodeHex decodes a 0x-prefixed or bare hex string
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}
