package protocol

import (
	"testing"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload(t *testing.T) {
	version := &VersionPayload{
		Version:     ProtocolVersion,
		Services:    ServiceFullNode,
		Timestamp:   1000,
		Port:        1337,
		Nonce:       42,
		UserAgent:   "/ledgerd:test/",
		StartHeight: 9,
		Relay:       true,
	}
	msg, err := NewMessage(CmdVersion, version)
	require.NoError(t, err)

	out, err := DecodePayload(msg)
	require.NoError(t, err)
	assert.Equal(t, version, out.(*VersionPayload))

	headers := &HeadersPayload{Headers: []ledger.Header{{Index: 1, Timestamp: 5}, {Index: 2, Timestamp: 6}}}
	msg, err = NewMessage(CmdHeaders, headers)
	require.NoError(t, err)
	out, err = DecodePayload(msg)
	require.NoError(t, err)
	assert.Equal(t, headers.Headers[1].Hash(), out.(*HeadersPayload).Headers[1].Hash())

	verack, _ := NewMessage(CmdVerAck, nil)
	out, err = DecodePayload(verack)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestDecodePayloadErrors(t *testing.T) {
	_, err := DecodePayload(&Message{Command: "future", Payload: []byte{1}})
	assert.Equal(t, ErrUnknownCommand, err)

	_, err = DecodePayload(&Message{Command: CmdInv, Payload: []byte{0xc1, 0xc1}})
	assert.True(t, IsProtocol(err, MalformedPayload))

	_, err = DecodePayload(&Message{Command: CmdGetAddr, Payload: []byte{1}})
	assert.True(t, IsProtocol(err, MalformedPayload))

	tooMany := &InvPayload{Type: ledger.InvTransaction, Hashes: make([]common.Hash, MaxInvHashes+1)}
	msg, _ := NewMessage(CmdInv, tooMany)
	_, err = DecodePayload(msg)
	assert.True(t, IsProtocol(err, MalformedPayload))

	badType := &InvPayload{Type: 9, Hashes: []common.Hash{{}}}
	msg, _ = NewMessage(CmdGetData, badType)
	_, err = DecodePayload(msg)
	assert.True(t, IsProtocol(err, MalformedPayload))

	emptyLocator := &GetBlocksPayload{}
	msg, _ = NewMessage(CmdGetHeaders, emptyLocator)
	_, err = DecodePayload(msg)
	assert.True(t, IsProtocol(err, MalformedPayload))
	assert.True(t, IsViolation(err))
}

func TestNetworkAddressEndpoint(t *testing.T) {
	assert.Equal(t, "10.0.0.1:20333", NetworkAddress{Address: "10.0.0.1", Port: 20333}.Endpoint())
	assert.Equal(t, "[::1]:1", NetworkAddress{Address: "::1", Port: 1}.Endpoint())
}
