package ledger

import (
	"crypto/ecdsa"
	"testing"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	priv, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	return priv, keys.FromPublicKey(&priv.PublicKey)
}

func spendTx(t *testing.T, priv *ecdsa.PrivateKey, prev common.Hash, to []byte, value uint64) *Transaction {
	tx := &Transaction{
		Inputs:  []Input{{PrevHash: prev, PrevIndex: 0}},
		Outputs: []Output{{Value: value, Owner: to}},
	}
	require.NoError(t, tx.SignAll(priv))
	return tx
}

func TestTransactionHashExcludesWitnesses(t *testing.T) {
	priv, pub := newKey(t)

	tx := &Transaction{
		Inputs:  []Input{{PrevHash: common.BytesToHash([]byte{1}), PrevIndex: 3}},
		Outputs: []Output{{Value: 10, Owner: pub}},
	}
	before := tx.Hash()

	require.NoError(t, tx.Sign(priv))
	assert.Equal(t, before, tx.Hash())
	assert.True(t, tx.Witnesses[0].Verify(tx.Hash()))

	assert.Error(t, tx.Sign(priv), "every input is signed")
}

func TestTransactionMarshalRoundTrip(t *testing.T) {
	priv, pub := newKey(t)
	tx := spendTx(t, priv, common.BytesToHash([]byte{7}), pub, 42)
	tx.Data = []byte("memo")

	raw, err := tx.Marshal()
	require.NoError(t, err)

	var out Transaction
	require.NoError(t, out.Unmarshal(raw))

	assert.Equal(t, tx.Hash(), out.Hash())
	assert.Equal(t, tx.Outputs[0].Value, out.Outputs[0].Value)
	assert.Equal(t, tx.Witnesses[0].Signature, out.Witnesses[0].Signature)
	assert.True(t, out.Witnesses[0].Verify(out.Hash()))
}

func TestTransactionCheckStructure(t *testing.T) {
	priv, pub := newKey(t)
	prev := common.BytesToHash([]byte{9})

	cases := []struct {
		name   string
		mutate func(tx *Transaction)
		ok     bool
	}{
		{"valid", func(tx *Transaction) {}, true},
		{"no outputs", func(tx *Transaction) { tx.Outputs = nil }, false},
		{"zero value", func(tx *Transaction) { tx.Outputs[0].Value = 0 }, false},
		{"bad owner", func(tx *Transaction) { tx.Outputs[0].Owner = []byte{1, 2} }, false},
		{"missing witness", func(tx *Transaction) { tx.Witnesses = nil }, false},
		{"duplicate input", func(tx *Transaction) {
			tx.Inputs = append(tx.Inputs, tx.Inputs[0])
			tx.Witnesses = append(tx.Witnesses, tx.Witnesses[0])
		}, false},
		{"overflow", func(tx *Transaction) {
			tx.Outputs = append(tx.Outputs, Output{Value: ^uint64(0), Owner: pub})
		}, false},
		{"data too large", func(tx *Transaction) { tx.Data = make([]byte, MaxTransactionData+1) }, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tx := spendTx(t, priv, prev, pub, 5)
			c.mutate(tx)
			err := tx.CheckStructure()
			if c.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestMerkleRoot(t *testing.T) {
	a := common.BytesToHash([]byte{1})
	b := common.BytesToHash([]byte{2})
	c := common.BytesToHash([]byte{3})

	assert.Equal(t, common.ZeroHash, MerkleRoot(nil))
	assert.Equal(t, a, MerkleRoot([]common.Hash{a}))

	// odd levels duplicate their last element
	assert.Equal(t, MerkleRoot([]common.Hash{a, b, c, c}), MerkleRoot([]common.Hash{a, b, c}))
	assert.NotEqual(t, MerkleRoot([]common.Hash{a, b}), MerkleRoot([]common.Hash{b, a}))
}

func TestBlockCheckStructure(t *testing.T) {
	priv, pub := newKey(t)
	genesis := NewGenesisBlock([]Output{{Value: 100, Owner: pub}})

	miner := NewMinerTransaction(1, pub, 50)
	spend := spendTx(t, priv, genesis.Transactions[0].Hash(), pub, 100)

	block := NewBlock(&genesis.Header, genesis.Header.Timestamp+1000, []*Transaction{miner, spend})
	require.NoError(t, block.CheckStructure())
	assert.Equal(t, uint32(1), block.Index())
	assert.Equal(t, genesis.Hash(), block.Header.PrevHash)

	raw, err := block.Marshal()
	require.NoError(t, err)
	var out Block
	require.NoError(t, out.Unmarshal(raw))
	assert.Equal(t, block.Hash(), out.Hash())
	require.NoError(t, out.CheckStructure())

	// a miner transaction anywhere but first
	misplaced := NewBlock(&genesis.Header, genesis.Header.Timestamp+1000, []*Transaction{spend, miner})
	assert.Error(t, misplaced.CheckStructure())

	// tampered merkle root
	block.Header.MerkleRoot = common.BytesToHash([]byte{0xff})
	assert.Error(t, block.CheckStructure())

	// duplicate transactions
	dup := NewBlock(&genesis.Header, genesis.Header.Timestamp+1000, []*Transaction{miner, spend, spend})
	assert.Error(t, dup.CheckStructure())

	empty := NewBlock(&genesis.Header, genesis.Header.Timestamp+1000, nil)
	assert.Error(t, empty.CheckStructure())
}

func TestInventory(t *testing.T) {
	_, pub := newKey(t)
	tx := NewMinerTransaction(3, pub, 1)

	inv := TxInventory(tx)
	require.NoError(t, inv.Check())
	assert.Equal(t, tx.Hash(), inv.Hash())

	bad := Inventory{Type: InvBlock, Tx: tx}
	assert.Error(t, bad.Check())
	assert.Error(t, Inventory{Type: 0x42}.Check())
	assert.Equal(t, common.ZeroHash, Inventory{Type: InvBlock}.Hash())

	p := &ConsensusPayload{BlockIndex: 1, Data: []byte("prepare")}
	before := p.Hash()
	p.Witness = Witness{PubKey: pub}
	assert.Equal(t, before, ConsensusInventory(p).Hash())
}

func TestHalvingSubsidy(t *testing.T) {
	s := HalvingSubsidy(100, 10)
	assert.Equal(t, uint64(100), s(0))
	assert.Equal(t, uint64(100), s(9))
	assert.Equal(t, uint64(50), s(10))
	assert.Equal(t, uint64(25), s(25))
	assert.Equal(t, uint64(0), s(10*64))
	assert.Equal(t, uint64(0), NoSubsidy(5))
}

func TestGenesisIsDeterministic(t *testing.T) {
	_, pub := newKey(t)
	alloc := []Output{{Value: 1000, Owner: pub}}
	assert.Equal(t, NewGenesisBlock(alloc).Hash(), NewGenesisBlock(alloc).Hash())
	assert.NotEqual(t, NewGenesisBlock(alloc).Hash(), NewGenesisBlock(nil).Hash())
}
