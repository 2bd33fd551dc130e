package ledger

import (
	"fmt"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/crypto"
)

// InventoryType tags the variants of Inventory.
type InventoryType uint8

const (
	// InvTransaction ...
	InvTransaction InventoryType = 0x01
	// InvBlock ...
	InvBlock InventoryType = 0x02
	// InvConsensus ...
	InvConsensus InventoryType = 0xe0
)

// String ...
func (t InventoryType) String() string {
	switch t {
	case InvTransaction:
		return "TX"
	case InvBlock:
		return "Block"
	case InvConsensus:
		return "Consensus"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the known variants.
func (t InventoryType) Valid() bool {
	return t == InvTransaction || t == InvBlock || t == InvConsensus
}

// Inventory is a relayable item. Exactly one of Tx, Block and Consensus is
// set, according to Type.
type Inventory struct {
	Type      InventoryType
	Tx        *Transaction
	Block     *Block
	Consensus *ConsensusPayload
}

// TxInventory ...
func TxInventory(tx *Transaction) Inventory {
	return Inventory{Type: InvTransaction, Tx: tx}
}

// BlockInventory ...
func BlockInventory(b *Block) Inventory {
	return Inventory{Type: InvBlock, Block: b}
}

// ConsensusInventory ...
func ConsensusInventory(p *ConsensusPayload) Inventory {
	return Inventory{Type: InvConsensus, Consensus: p}
}

// Hash returns the identifier of the wrapped item, or the zero hash if the
// variant is empty.
func (i Inventory) Hash() common.Hash {
	switch {
	case i.Type == InvTransaction && i.Tx != nil:
		return i.Tx.Hash()
	case i.Type == InvBlock && i.Block != nil:
		return i.Block.Hash()
	case i.Type == InvConsensus && i.Consensus != nil:
		return i.Consensus.Hash()
	}
	return common.ZeroHash
}

// PayloadHash is the double SHA256 of the full encoding of the wrapped item,
// witnesses included. Two items with the same Hash but different witnesses
// have different PayloadHashes.
func (i Inventory) PayloadHash() common.Hash {
	var item interface{}
	switch {
	case i.Type == InvTransaction && i.Tx != nil:
		item = i.Tx
	case i.Type == InvBlock && i.Block != nil:
		item = i.Block
	case i.Type == InvConsensus && i.Consensus != nil:
		item = i.Consensus
	default:
		return common.ZeroHash
	}
	raw, err := Encode(item)
	if err != nil {
		return common.ZeroHash
	}
	return common.BytesToHash(crypto.DoubleSHA256(raw))
}

// Check reports an error if the tag and payload disagree.
func (i Inventory) Check() error {
	switch i.Type {
	case InvTransaction:
		if i.Tx == nil || i.Block != nil || i.Consensus != nil {
			return fmt.Errorf("malformed %s inventory", i.Type)
		}
	case InvBlock:
		if i.Block == nil || i.Tx != nil || i.Consensus != nil {
			return fmt.Errorf("malformed %s inventory", i.Type)
		}
	case InvConsensus:
		if i.Consensus == nil || i.Tx != nil || i.Block != nil {
			return fmt.Errorf("malformed %s inventory", i.Type)
		}
	default:
		return fmt.Errorf("unknown inventory type %d", uint8(i.Type))
	}
	return nil
}

// String ...
func (i Inventory) String() string {
	return fmt.Sprintf("%s:%s", i.Type, i.Hash().Short())
}
