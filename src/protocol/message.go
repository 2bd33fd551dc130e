package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mosaicnetworks/ledgerd/src/crypto"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

const (
	// CommandSize is the width of the command field.
	CommandSize = 12
	// HeaderSize is the size of the frame header preceding the payload.
	HeaderSize = 4 + CommandSize + 4 + 4
	// MaxPayloadSize caps the payload a peer may announce. The largest
	// payload is a block, so a frame is refused before its body is read if
	// it could not hold a valid one.
	MaxPayloadSize = ledger.MaxBlockSize + 64*1024
)

// DefaultMagic identifies the main network.
const DefaultMagic uint32 = 0x4c444744

// Message is a decoded frame. Payload holds the raw encoded payload; use
// DecodePayload to obtain the typed value.
type Message struct {
	Command string
	Payload []byte
}

// NewMessage encodes payload for command. A nil payload produces an empty
// message, as used by verack and getaddr.
func NewMessage(command string, payload interface{}) (*Message, error) {
	msg := &Message{Command: command}
	if payload != nil {
		raw, err := ledger.Encode(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Size is the size of the encoded frame.
func (m *Message) Size() int {
	return HeaderSize + len(m.Payload)
}

// Encode frames the message for the network identified by magic.
func (m *Message) Encode(magic uint32) ([]byte, error) {
	if len(m.Command) == 0 || len(m.Command) > CommandSize {
		return nil, NewProtocolErr(BadCommand, "%q", m.Command)
	}
	if len(m.Payload) > MaxPayloadSize {
		return nil, NewProtocolErr(PayloadTooLarge, "%d bytes", len(m.Payload))
	}

	buf := make([]byte, HeaderSize+len(m.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	copy(buf[4:4+CommandSize], m.Command)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(m.Payload)))
	checksum := crypto.Checksum(m.Payload)
	copy(buf[20:24], checksum[:])
	copy(buf[HeaderSize:], m.Payload)

	return buf, nil
}

// Decode parses one frame from the start of buf and returns the number of
// bytes it occupies. If buf does not hold a complete frame Decode returns
// ErrIncomplete and consumes nothing. Errors are reported as early as the
// available bytes allow: a wrong magic or an oversized length fail before the
// payload arrives.
func Decode(magic uint32, buf []byte) (*Message, int, error) {
	if len(buf) >= 4 {
		if got := binary.LittleEndian.Uint32(buf[0:4]); got != magic {
			return nil, 0, NewProtocolErr(BadMagic, "got %#x, want %#x", got, magic)
		}
	}
	if len(buf) < HeaderSize {
		return nil, 0, ErrIncomplete
	}

	header, err := parseHeader(buf[:HeaderSize])
	if err != nil {
		return nil, 0, err
	}

	total := HeaderSize + int(header.length)
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}

	payload := buf[HeaderSize:total]
	if crypto.Checksum(payload) != header.checksum {
		return nil, 0, NewProtocolErr(ChecksumMismatch, "command %s", header.command)
	}

	msg := &Message{
		Command: header.command,
		Payload: append([]byte(nil), payload...),
	}
	return msg, total, nil
}

// ReadMessage reads exactly one frame from r.
func ReadMessage(r io.Reader, magic uint32) (*Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	if got := binary.LittleEndian.Uint32(hdr[0:4]); got != magic {
		return nil, NewProtocolErr(BadMagic, "got %#x, want %#x", got, magic)
	}

	header, err := parseHeader(hdr[:])
	if err != nil {
		return nil, err
	}

	payload := make([]byte, header.length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	if crypto.Checksum(payload) != header.checksum {
		return nil, NewProtocolErr(ChecksumMismatch, "command %s", header.command)
	}

	return &Message{Command: header.command, Payload: payload}, nil
}

// WriteMessage frames msg and writes it to w.
func WriteMessage(w io.Writer, magic uint32, msg *Message) error {
	raw, err := msg.Encode(magic)
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}

type frameHeader struct {
	command  string
	length   uint32
	checksum [4]byte
}

// parseHeader decodes a header whose magic has already been checked.
func parseHeader(hdr []byte) (frameHeader, error) {
	cmd, err := parseCommand(hdr[4 : 4+CommandSize])
	if err != nil {
		return frameHeader{}, err
	}

	length := binary.LittleEndian.Uint32(hdr[16:20])
	if length > MaxPayloadSize {
		return frameHeader{}, NewProtocolErr(PayloadTooLarge, "%s announces %d bytes", cmd, length)
	}

	var checksum [4]byte
	copy(checksum[:], hdr[20:24])

	return frameHeader{command: cmd, length: length, checksum: checksum}, nil
}

func parseCommand(field []byte) (string, error) {
	end := bytes.IndexByte(field, 0)
	if end < 0 {
		end = len(field)
	}
	if end == 0 {
		return "", NewProtocolErr(BadCommand, "empty command")
	}
	for _, c := range field[:end] {
		if c < 0x20 || c > 0x7e {
			return "", NewProtocolErr(BadCommand, "non printable byte %#x", c)
		}
	}
	for _, c := range field[end:] {
		if c != 0 {
			return "", NewProtocolErr(BadCommand, "%q is not zero padded", field)
		}
	}
	return string(field[:end]), nil
}

// String ...
func (m *Message) String() string {
	return fmt.Sprintf("%s(%d bytes)", m.Command, len(m.Payload))
}
