package ledger

import (
	"errors"
	"fmt"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/crypto"
)

const (
	// MaxBlockSize bounds the encoded size of a block.
	MaxBlockSize = 4 * 1024 * 1024
	// MaxBlockTransactions ...
	MaxBlockTransactions = 10000
)

// Header carries everything that is chained: a block's identity is the hash
// of its header.
type Header struct {
	Version    uint32
	PrevHash   common.Hash
	MerkleRoot common.Hash
	Timestamp  int64 // unix milliseconds
	Index      uint32
	Nonce      uint64
}

// Hash ...
func (h *Header) Hash() common.Hash {
	raw, err := Encode(h)
	if err != nil {
		panic(err)
	}
	return common.BytesToHash(crypto.DoubleSHA256(raw))
}

// Marshal ...
func (h *Header) Marshal() ([]byte, error) {
	return Encode(h)
}

// Unmarshal ...
func (h *Header) Unmarshal(data []byte) error {
	return Decode(data, h)
}

// Block ...
type Block struct {
	Header       Header
	Transactions []*Transaction
}

// NewBlock assembles a block on top of prev. The merkle root is computed
// from txs.
func NewBlock(prev *Header, timestamp int64, txs []*Transaction) *Block {
	b := &Block{
		Header: Header{
			PrevHash:  prev.Hash(),
			Index:     prev.Index + 1,
			Timestamp: timestamp,
		},
		Transactions: txs,
	}
	b.Header.MerkleRoot = b.ComputeMerkleRoot()
	return b
}

// Hash ...
func (b *Block) Hash() common.Hash {
	return b.Header.Hash()
}

// Index ...
func (b *Block) Index() uint32 {
	return b.Header.Index
}

// Marshal ...
func (b *Block) Marshal() ([]byte, error) {
	return Encode(b)
}

// Unmarshal ...
func (b *Block) Unmarshal(data []byte) error {
	return Decode(data, b)
}

// TransactionHashes ...
func (b *Block) TransactionHashes() []common.Hash {
	res := make([]common.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		res[i] = tx.Hash()
	}
	return res
}

// ComputeMerkleRoot ...
func (b *Block) ComputeMerkleRoot() common.Hash {
	return MerkleRoot(b.TransactionHashes())
}

// CheckStructure performs the context free checks of a block: size,
// transaction count, merkle root, miner transaction placement and duplicate
// transactions.
func (b *Block) CheckStructure() error {
	if len(b.Transactions) == 0 {
		return errors.New("block has no transactions")
	}
	if len(b.Transactions) > MaxBlockTransactions {
		return fmt.Errorf("too many transactions: %d", len(b.Transactions))
	}

	raw, err := b.Marshal()
	if err != nil {
		return err
	}
	if len(raw) > MaxBlockSize {
		return fmt.Errorf("block too large: %d", len(raw))
	}

	hashes := b.TransactionHashes()
	if root := MerkleRoot(hashes); root != b.Header.MerkleRoot {
		return fmt.Errorf("merkle root mismatch: header %s, computed %s", b.Header.MerkleRoot.Short(), root.Short())
	}

	seen := make(map[common.Hash]struct{}, len(hashes))
	for i, h := range hashes {
		if _, ok := seen[h]; ok {
			return fmt.Errorf("duplicate transaction %s", h.Short())
		}
		seen[h] = struct{}{}

		if i > 0 && b.Transactions[i].IsMiner() {
			return fmt.Errorf("miner transaction at position %d", i)
		}
	}

	return nil
}
