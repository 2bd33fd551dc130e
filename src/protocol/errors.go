package protocol

import (
	"errors"
	"fmt"
)

// ProtocolErrType ...
type ProtocolErrType uint32

const (
	// BadMagic is returned when a frame does not start with the network magic.
	BadMagic ProtocolErrType = iota
	// ChecksumMismatch is returned when the payload does not match the
	// checksum in the frame header.
	ChecksumMismatch
	// PayloadTooLarge is returned as soon as a frame header announces a
	// payload above MaxPayloadSize.
	PayloadTooLarge
	// BadCommand is returned for a command field which is not zero padded
	// printable ASCII.
	BadCommand
	// MalformedPayload is returned when a payload does not decode into the
	// type of its command, or breaks that type's limits.
	MalformedPayload
	// HandshakeViolation is returned for messages received out of order
	// during the version handshake.
	HandshakeViolation
)

// ErrIncomplete is returned by Decode when the buffer does not yet hold a
// complete frame. Nothing is consumed.
var ErrIncomplete = errors.New("incomplete frame")

// ErrUnknownCommand is returned by DecodePayload for commands this node does
// not know. It is not a protocol violation.
var ErrUnknownCommand = errors.New("unknown command")

// ProtocolErr ...
type ProtocolErr struct {
	errType ProtocolErrType
	detail  string
}

// NewProtocolErr ...
func NewProtocolErr(errType ProtocolErrType, format string, args ...interface{}) ProtocolErr {
	return ProtocolErr{
		errType: errType,
		detail:  fmt.Sprintf(format, args...),
	}
}

// Type ...
func (e ProtocolErr) Type() ProtocolErrType {
	return e.errType
}

// Error ...
func (e ProtocolErr) Error() string {
	m := ""
	switch e.errType {
	case BadMagic:
		m = "Bad Magic"
	case ChecksumMismatch:
		m = "Checksum Mismatch"
	case PayloadTooLarge:
		m = "Payload Too Large"
	case BadCommand:
		m = "Bad Command"
	case MalformedPayload:
		m = "Malformed Payload"
	case HandshakeViolation:
		m = "Handshake Violation"
	}
	if e.detail == "" {
		return m
	}
	return fmt.Sprintf("%s: %s", m, e.detail)
}

// IsProtocol checks that an error is a ProtocolErr of type t.
func IsProtocol(err error, t ProtocolErrType) bool {
	var pErr ProtocolErr
	return errors.As(err, &pErr) && pErr.errType == t
}

// IsViolation reports whether err is any ProtocolErr. Violations are fatal to
// the connection that produced them.
func IsViolation(err error) bool {
	var pErr ProtocolErr
	return errors.As(err, &pErr)
}
