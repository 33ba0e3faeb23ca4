package cctp

import (
	"encoding/binary"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTransmitter = common.HexToAddress("0x7865fAfC2db2093669d92c0F33AeEF291086BEFD")

func buildMessage(src, dst uint32, nonce uint64, body []byte) []byte {
	msg := make([]byte, messageHeaderLength, messageHeaderLength+len(body))
	binary.BigEndian.PutUint32(msg[4:8], src)
	binary.BigEndian.PutUint32(msg[8:12], dst)
	binary.BigEndian.PutUint64(msg[12:20], nonce)
	msg[51] = 0x01
	msg[83] = 0x02
	return append(msg, body...)
}

func messageSentLog(t *testing.T, emitter common.Address, message []byte) *types.Log {
	t.Helper()
	data, err := messageTransmitterContract.Events["MessageSent"].Inputs.Pack(message)
	require.NoError(t, err)
	return &types.Log{Address: emitter, Topics: []common.Hash{MessageSentTopic}, Data: data}
}

func TestMessageSentTopic(t *testing.T) {
	assert.Equal(t, crypto.Keccak256Hash([]byte("MessageSent(bytes)")), MessageSentTopic)
}

func TestExtractMessage(t *testing.T) {
	message := buildMessage(0, 6, 42, []byte("burn body"))

	t.Run("finds the transmitter event among other logs", func(t *testing.T) {
		receipt := &types.Receipt{Logs: []*types.Log{
			{Address: common.HexToAddress("0x01"), Topics: []common.Hash{crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))}},
			messageSentLog(t, common.HexToAddress("0x02"), buildMessage(9, 9, 9, nil)),
			messageSentLog(t, testTransmitter, message),
		}}

		got, hash, err := ExtractMessage(receipt, testTransmitter)
		require.NoError(t, err)
		assert.Equal(t, message, got)
		assert.Equal(t, crypto.Keccak256Hash(message), hash)
	})

	t.Run("fails without a matching event", func(t *testing.T) {
		receipt := &types.Receipt{Logs: []*types.Log{
			messageSentLog(t, common.HexToAddress("0x02"), message),
		}}

		_, _, err := ExtractMessage(receipt, testTransmitter)
		assert.ErrorIs(t, err, ErrNoMessageSent)
	})

	t.Run("fails on undecodable payload", func(t *testing.T) {
		receipt := &types.Receipt{Logs: []*types.Log{
			{Address: testTransmitter, Topics: []common.Hash{MessageSentTopic}, Data: []byte{0x01}},
		}}

		_, _, err := ExtractMessage(receipt, testTransmitter)
		assert.Error(t, err)
	})

	t.Run("nil receipt", func(t *testing.T) {
		_, _, err := ExtractMessage(nil, testTransmitter)
		assert.ErrorIs(t, err, ErrNoMessageSent)
	})
}

func TestParseMessageHeader(t *testing.T) {
	header, err := ParseMessageHeader(buildMessage(0, 6, 1234567, []byte("body")))
	require.NoError(t, err)

	assert.Equal(t, uint32(0), header.Version)
	assert.Equal(t, uint32(0), header.SourceDomain)
	assert.Equal(t, uint32(6), header.DestinationDomain)
	assert.Equal(t, uint64(1234567), header.Nonce)
	assert.Equal(t, common.BytesToHash([]byte{0x01}), header.Sender)
	assert.Equal(t, common.BytesToHash([]byte{0x02}), header.Recipient)

	_, err = ParseMessageHeader(make([]byte, 20))
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

func TestNonceKey(t *testing.T) {
	buf := []byte{0, 0, 0, 6, 0, 0, 0, 0, 0, 0, 0, 7}
	assert.Equal(t, crypto.Keccak256Hash(buf), NonceKey(6, 7))
	assert.NotEqual(t, NonceKey(6, 7), NonceKey(7, 6))
}

func TestAddressToBytes32(t *testing.T) {
	addr := common.HexToAddress("0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa")
	out := AddressToBytes32(addr)

	assert.Equal(t, make([]byte, 12), out[:12])
	assert.Equal(t, addr.Bytes(), out[12:])
}

func TestDecodeHex(t *testing.T) {
	b, err := DecodeHex("0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)

	b, err = DecodeHex("deadbeef")
	require.NoError(t, err)
	assert.Len(t, b, 4)

	_, err = DecodeHex("0xnothex")
	assert.Error(t, err)
}
