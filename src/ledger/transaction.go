package ledger

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/crypto"
	"github.com/mosaicnetworks/ledgerd/src/crypto/keys"
)

const (
	// MaxTransactionSize bounds the encoded size of a single transaction.
	MaxTransactionSize = 100 * 1024
	// MaxTransactionInputs ...
	MaxTransactionInputs = 1024
	// MaxTransactionOutputs ...
	MaxTransactionOutputs = 1024
	// MaxTransactionData bounds the free-form Data field.
	MaxTransactionData = 1024
)

// Input spends the output PrevIndex of transaction PrevHash.
type Input struct {
	PrevHash  common.Hash
	PrevIndex uint16
}

// Outpoint identifies an unspent output in the ledger state.
func (in Input) Outpoint() Outpoint {
	return Outpoint{Hash: in.PrevHash, Index: in.PrevIndex}
}

// Outpoint ...
type Outpoint struct {
	Hash  common.Hash
	Index uint16
}

// String ...
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.Hash, o.Index)
}

// Output locks Value to the compressed public key Owner.
type Output struct {
	Value uint64
	Owner []byte
}

// Transaction moves value from unspent outputs to new outputs. A transaction
// without inputs is a miner transaction; it is only valid as the first
// transaction of a block.
type Transaction struct {
	Version   uint8
	Nonce     uint32
	Inputs    []Input
	Outputs   []Output
	Data      []byte
	Witnesses []Witness
}

// unsignedTransaction is the part of a Transaction covered by its hash and by
// its witnesses.
type unsignedTransaction struct {
	Version uint8
	Nonce   uint32
	Inputs  []Input
	Outputs []Output
	Data    []byte
}

func (tx *Transaction) unsigned() *unsignedTransaction {
	return &unsignedTransaction{
		Version: tx.Version,
		Nonce:   tx.Nonce,
		Inputs:  tx.Inputs,
		Outputs: tx.Outputs,
		Data:    tx.Data,
	}
}

// Marshal ...
func (tx *Transaction) Marshal() ([]byte, error) {
	return Encode(tx)
}

// Unmarshal ...
func (tx *Transaction) Unmarshal(data []byte) error {
	return Decode(data, tx)
}

// Hash is the double SHA256 of the unsigned transaction. Witnesses sign it.
func (tx *Transaction) Hash() common.Hash {
	raw, err := Encode(tx.unsigned())
	if err != nil {
		// only unencodable Go values fail, and the struct has none
		panic(err)
	}
	return common.BytesToHash(crypto.DoubleSHA256(raw))
}

// Size returns the encoded size of the transaction, witnesses included.
func (tx *Transaction) Size() int {
	raw, err := tx.Marshal()
	if err != nil {
		return math.MaxInt32
	}
	return len(raw)
}

// IsMiner reports whether tx is a miner transaction.
func (tx *Transaction) IsMiner() bool {
	return len(tx.Inputs) == 0
}

// OutputTotal sums the outputs. ok is false on overflow.
func (tx *Transaction) OutputTotal() (total uint64, ok bool) {
	for _, o := range tx.Outputs {
		if total+o.Value < total {
			return 0, false
		}
		total += o.Value
	}
	return total, true
}

// Sign appends a witness for the next unsigned input.
func (tx *Transaction) Sign(priv *ecdsa.PrivateKey) error {
	if len(tx.Witnesses) >= len(tx.Inputs) {
		return errors.New("every input already has a witness")
	}
	w, err := NewWitness(priv, tx.Hash())
	if err != nil {
		return err
	}
	tx.Witnesses = append(tx.Witnesses, w)
	return nil
}

// SignAll appends a witness made with priv for every unsigned input.
func (tx *Transaction) SignAll(priv *ecdsa.PrivateKey) error {
	for len(tx.Witnesses) < len(tx.Inputs) {
		if err := tx.Sign(priv); err != nil {
			return err
		}
	}
	return nil
}

// CheckStructure performs the context free checks: sizes, value ranges,
// duplicate inputs and witness count. It does not look at ledger state.
func (tx *Transaction) CheckStructure() error {
	if len(tx.Outputs) == 0 {
		return errors.New("transaction has no outputs")
	}
	if len(tx.Inputs) > MaxTransactionInputs {
		return fmt.Errorf("too many inputs: %d", len(tx.Inputs))
	}
	if len(tx.Outputs) > MaxTransactionOutputs {
		return fmt.Errorf("too many outputs: %d", len(tx.Outputs))
	}
	if len(tx.Data) > MaxTransactionData {
		return fmt.Errorf("data too large: %d", len(tx.Data))
	}
	if size := tx.Size(); size > MaxTransactionSize {
		return fmt.Errorf("transaction too large: %d", size)
	}

	for i, o := range tx.Outputs {
		if o.Value == 0 {
			return fmt.Errorf("output %d has zero value", i)
		}
		if len(o.Owner) != keys.PublicKeyLength {
			return fmt.Errorf("output %d owner is not a compressed public key", i)
		}
	}
	if _, ok := tx.OutputTotal(); !ok {
		return errors.New("output total overflows")
	}

	seen := make(map[Outpoint]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		op := in.Outpoint()
		if _, ok := seen[op]; ok {
			return fmt.Errorf("duplicate input %s", op)
		}
		seen[op] = struct{}{}
	}

	if len(tx.Witnesses) != len(tx.Inputs) {
		return fmt.Errorf("%d witnesses for %d inputs", len(tx.Witnesses), len(tx.Inputs))
	}

	return nil
}

// NewMinerTransaction pays reward to owner. The block index is carried in
// Nonce so that miner transactions of different blocks never share a hash.
func NewMinerTransaction(index uint32, owner []byte, reward uint64) *Transaction {
	return &Transaction{
		Nonce:   index,
		Outputs: []Output{{Value: reward, Owner: owner}},
	}
}
