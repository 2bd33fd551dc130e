package ledger

// GenesisTimestamp is fixed so that every node derives the same genesis
// block from the same allocation.
const GenesisTimestamp int64 = 1468595301000

// NewGenesisBlock builds block 0. Its single miner transaction creates the
// initial allocation.
func NewGenesisBlock(alloc []Output) *Block {
	tx := &Transaction{
		Outputs: alloc,
		Data:    []byte("ledgerd genesis"),
	}
	b := &Block{
		Header: Header{
			Timestamp: GenesisTimestamp,
			Index:     0,
		},
		Transactions: []*Transaction{tx},
	}
	b.Header.MerkleRoot = b.ComputeMerkleRoot()
	return b
}
