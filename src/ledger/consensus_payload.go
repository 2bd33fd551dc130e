package ledger

import (
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/crypto"
)

// ConsensusPayload is an opaque consensus message relayed like any other
// inventory. Only its envelope is interpreted: it must target the next block
// and carry a valid witness.
type ConsensusPayload struct {
	Version        uint32
	PrevHash       common.Hash
	BlockIndex     uint32
	ValidatorIndex uint16
	Timestamp      int64
	Data           []byte
	Witness        Witness
}

type unsignedConsensusPayload struct {
	Version        uint32
	PrevHash       common.Hash
	BlockIndex     uint32
	ValidatorIndex uint16
	Timestamp      int64
	Data           []byte
}

// Hash is the double SHA256 of the payload without its witness.
func (p *ConsensusPayload) Hash() common.Hash {
	raw, err := Encode(&unsignedConsensusPayload{
		Version:        p.Version,
		PrevHash:       p.PrevHash,
		BlockIndex:     p.BlockIndex,
		ValidatorIndex: p.ValidatorIndex,
		Timestamp:      p.Timestamp,
		Data:           p.Data,
	})
	if err != nil {
		panic(err)
	}
	return common.BytesToHash(crypto.DoubleSHA256(raw))
}

// Marshal ...
func (p *ConsensusPayload) Marshal() ([]byte, error) {
	return Encode(p)
}

// Unmarshal ...
func (p *ConsensusPayload) Unmarshal(data []byte) error {
	return Decode(data, p)
}
