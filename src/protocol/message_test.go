package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMagic uint32 = 0x01020304

func testMessages(t *testing.T) []*Message {
	inv, err := NewMessage(CmdInv, &InvPayload{
		Type:   ledger.InvBlock,
		Hashes: []common.Hash{common.BytesToHash([]byte{1}), common.BytesToHash([]byte{2})},
	})
	require.NoError(t, err)

	ping, err := NewMessage(CmdPing, &PingPayload{LastBlockIndex: 12, Timestamp: 99, Nonce: 7})
	require.NoError(t, err)

	verack, err := NewMessage(CmdVerAck, nil)
	require.NoError(t, err)

	return []*Message{inv, ping, verack, {Command: "future", Payload: []byte("opaque")}}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, m := range testMessages(t) {
		raw, err := m.Encode(testMagic)
		require.NoError(t, err)
		assert.Equal(t, m.Size(), len(raw))

		out, n, err := Decode(testMagic, raw)
		require.NoError(t, err)
		assert.Equal(t, len(raw), n)
		assert.Equal(t, m.Command, out.Command)
		assert.True(t, bytes.Equal(m.Payload, out.Payload))
	}
}

func TestDecodeConsumesOneFrame(t *testing.T) {
	msgs := testMessages(t)
	var stream []byte
	for _, m := range msgs {
		raw, err := m.Encode(testMagic)
		require.NoError(t, err)
		stream = append(stream, raw...)
	}

	for _, m := range msgs {
		out, n, err := Decode(testMagic, stream)
		require.NoError(t, err)
		assert.Equal(t, m.Command, out.Command)
		stream = stream[n:]
	}
	assert.Empty(t, stream)
}

func TestDecodeIncomplete(t *testing.T) {
	raw, err := testMessages(t)[0].Encode(testMagic)
	require.NoError(t, err)

	for _, cut := range []int{0, 3, HeaderSize - 1, HeaderSize, len(raw) - 1} {
		msg, n, err := Decode(testMagic, raw[:cut])
		assert.Equal(t, ErrIncomplete, err, "cut at %d", cut)
		assert.Nil(t, msg)
		assert.Zero(t, n)
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	for _, m := range testMessages(t) {
		raw, err := m.Encode(testMagic)
		require.NoError(t, err)

		// flip a checksum bit
		corrupted := append([]byte(nil), raw...)
		corrupted[20] ^= 0x01

		msg, _, err := Decode(testMagic, corrupted)
		assert.Nil(t, msg)
		assert.True(t, IsProtocol(err, ChecksumMismatch), "got %v", err)

		_, err = ReadMessage(bytes.NewReader(corrupted), testMagic)
		assert.True(t, IsProtocol(err, ChecksumMismatch), "got %v", err)
	}

	// a corrupted payload byte has the same effect
	raw, _ := testMessages(t)[0].Encode(testMagic)
	raw[len(raw)-1] ^= 0xff
	_, _, err := Decode(testMagic, raw)
	assert.True(t, IsProtocol(err, ChecksumMismatch))
}

func TestDecodeBadMagic(t *testing.T) {
	raw, _ := testMessages(t)[0].Encode(testMagic)

	// detected from the first 4 bytes alone
	_, _, err := Decode(testMagic+1, raw[:4])
	assert.True(t, IsProtocol(err, BadMagic))

	_, err = ReadMessage(bytes.NewReader(raw), testMagic+1)
	assert.True(t, IsProtocol(err, BadMagic))
}

func TestDecodePayloadTooLarge(t *testing.T) {
	hdr := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], testMagic)
	copy(hdr[4:], CmdBlock)
	binary.LittleEndian.PutUint32(hdr[16:20], MaxPayloadSize+1)

	// reported before any payload byte arrives
	_, _, err := Decode(testMagic, hdr)
	assert.True(t, IsProtocol(err, PayloadTooLarge))

	_, err = ReadMessage(bytes.NewReader(hdr), testMagic)
	assert.True(t, IsProtocol(err, PayloadTooLarge))

	_, err = (&Message{Command: CmdBlock, Payload: make([]byte, MaxPayloadSize+1)}).Encode(testMagic)
	assert.True(t, IsProtocol(err, PayloadTooLarge))
}

func TestPayloadCapFollowsBlockSize(t *testing.T) {
	// a full size block still fits
	msg := &Message{Command: CmdBlock, Payload: make([]byte, ledger.MaxBlockSize)}
	raw, err := msg.Encode(testMagic)
	require.NoError(t, err)

	got, err := ReadMessage(bytes.NewReader(raw), testMagic)
	require.NoError(t, err)
	assert.Len(t, got.Payload, ledger.MaxBlockSize)

	// anything announcing twice that is refused from the header alone
	hdr := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], testMagic)
	copy(hdr[4:], CmdBlock)
	binary.LittleEndian.PutUint32(hdr[16:20], 2*ledger.MaxBlockSize)

	_, err = ReadMessage(bytes.NewReader(hdr), testMagic)
	assert.True(t, IsProtocol(err, PayloadTooLarge), "%v", err)
}

func TestDecodeBadCommand(t *testing.T) {
	raw, _ := testMessages(t)[0].Encode(testMagic)

	garbled := append([]byte(nil), raw...)
	garbled[4+5] = 'x' // byte after "inv\x00"
	_, _, err := Decode(testMagic, garbled)
	assert.True(t, IsProtocol(err, BadCommand))

	_, err = (&Message{Command: "thiscommandistoolong"}).Encode(testMagic)
	assert.True(t, IsProtocol(err, BadCommand))
}

func TestReadWriteMessage(t *testing.T) {
	var buf bytes.Buffer
	msgs := testMessages(t)
	for _, m := range msgs {
		require.NoError(t, WriteMessage(&buf, testMagic, m))
	}
	for _, m := range msgs {
		out, err := ReadMessage(&buf, testMagic)
		require.NoError(t, err)
		assert.Equal(t, m.Command, out.Command)
		assert.True(t, bytes.Equal(m.Payload, out.Payload))
	}
	_, err := ReadMessage(&buf, testMagic)
	assert.Equal(t, io.EOF, err)
}
