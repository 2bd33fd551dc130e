package protocol

import (
	"fmt"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

const (
	// ProtocolVersion is advertised in the version message.
	ProtocolVersion uint32 = 0
	// ServiceFullNode is the only service bit defined so far.
	ServiceFullNode uint64 = 1

	// MaxAddrCount bounds the addresses in one addr message.
	MaxAddrCount = 200
	// MaxInvHashes bounds the hashes in one inv or getdata message.
	MaxInvHashes = 500
	// MaxHeadersCount bounds the headers in one headers message.
	MaxHeadersCount = 2000
	// MaxLocatorHashes bounds the locator of getblocks and getheaders.
	MaxLocatorHashes = 64
	// MaxUserAgentSize ...
	MaxUserAgentSize = 1024
)

// Validator is implemented by payloads with limits beyond what decoding
// enforces.
type Validator interface {
	Validate() error
}

// VersionPayload opens the handshake.
type VersionPayload struct {
	Version     uint32
	Services    uint64
	Timestamp   int64
	Port        uint16
	Nonce       uint32
	UserAgent   string
	StartHeight uint32
	Relay       bool
}

// Validate ...
func (p *VersionPayload) Validate() error {
	if len(p.UserAgent) > MaxUserAgentSize {
		return fmt.Errorf("user agent too long: %d", len(p.UserAgent))
	}
	return nil
}

// NetworkAddress is one entry of an addr message.
type NetworkAddress struct {
	Timestamp int64
	Services  uint64
	Address   string
	Port      uint16
}

// Endpoint returns the host:port form of the address.
func (a NetworkAddress) Endpoint() string {
	return joinHostPort(a.Address, a.Port)
}

// AddrPayload answers getaddr.
type AddrPayload struct {
	Addresses []NetworkAddress
}

// Validate ...
func (p *AddrPayload) Validate() error {
	if len(p.Addresses) > MaxAddrCount {
		return fmt.Errorf("%d addresses, max %d", len(p.Addresses), MaxAddrCount)
	}
	return nil
}

// InvPayload announces (inv) or requests (getdata) inventory of one type.
type InvPayload struct {
	Type   ledger.InventoryType
	Hashes []common.Hash
}

// Validate ...
func (p *InvPayload) Validate() error {
	if !p.Type.Valid() {
		return fmt.Errorf("unknown inventory type %d", uint8(p.Type))
	}
	if len(p.Hashes) > MaxInvHashes {
		return fmt.Errorf("%d hashes, max %d", len(p.Hashes), MaxInvHashes)
	}
	return nil
}

// GetBlocksPayload is used by getblocks and getheaders. HashStart is a block
// locator, most recent first; the answer starts after the first hash the
// receiver knows and stops at HashStop (or the response limit) when HashStop
// is not zero.
type GetBlocksPayload struct {
	HashStart []common.Hash
	HashStop  common.Hash
}

// Validate ...
func (p *GetBlocksPayload) Validate() error {
	if len(p.HashStart) == 0 {
		return fmt.Errorf("empty locator")
	}
	if len(p.HashStart) > MaxLocatorHashes {
		return fmt.Errorf("%d locator hashes, max %d", len(p.HashStart), MaxLocatorHashes)
	}
	return nil
}

// HeadersPayload answers getheaders.
type HeadersPayload struct {
	Headers []ledger.Header
}

// Validate ...
func (p *HeadersPayload) Validate() error {
	if len(p.Headers) > MaxHeadersCount {
		return fmt.Errorf("%d headers, max %d", len(p.Headers), MaxHeadersCount)
	}
	return nil
}

// PingPayload is used by ping and pong. It carries the sender's height.
type PingPayload struct {
	LastBlockIndex uint32
	Timestamp      int64
	Nonce          uint32
}

// DecodePayload decodes the payload of msg into the type matching its
// command. Commands without payload return nil. Unknown commands return
// ErrUnknownCommand; every other failure is a MalformedPayload ProtocolErr.
func DecodePayload(msg *Message) (interface{}, error) {
	var payload interface{}

	switch msg.Command {
	case CmdVerAck, CmdGetAddr:
		if len(msg.Payload) != 0 {
			return nil, NewProtocolErr(MalformedPayload, "%s carries %d bytes", msg.Command, len(msg.Payload))
		}
		return nil, nil
	case CmdVersion:
		payload = &VersionPayload{}
	case CmdAddr:
		payload = &AddrPayload{}
	case CmdInv, CmdGetData:
		payload = &InvPayload{}
	case CmdTx:
		payload = &ledger.Transaction{}
	case CmdBlock:
		payload = &ledger.Block{}
	case CmdConsensus:
		payload = &ledger.ConsensusPayload{}
	case CmdGetBlocks, CmdGetHeaders:
		payload = &GetBlocksPayload{}
	case CmdHeaders:
		payload = &HeadersPayload{}
	case CmdPing, CmdPong:
		payload = &PingPayload{}
	default:
		return nil, ErrUnknownCommand
	}

	if err := ledger.Decode(msg.Payload, payload); err != nil {
		return nil, NewProtocolErr(MalformedPayload, "%s: %v", msg.Command, err)
	}

	if v, ok := payload.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, NewProtocolErr(MalformedPayload, "%s: %v", msg.Command, err)
		}
	}

	return payload, nil
}
