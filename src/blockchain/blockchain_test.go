package blockchain

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/crypto/keys"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/store"
)

const testSubsidy = 50

type fixture struct {
	priv    *ecdsa.PrivateKey
	pub     []byte
	genesis *ledger.Block
	store   *store.Store
	chain   *Blockchain
}

func newFixture(t *testing.T, mod func(*Config)) *fixture {
	priv, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	pub := keys.FromPublicKey(&priv.PublicKey)

	genesis := ledger.NewGenesisBlock([]ledger.Output{
		{Value: 1000, Owner: pub},
		{Value: 1000, Owner: pub},
		{Value: 1000, Owner: pub},
	})

	st, err := store.NewStore(store.NewInmemKV(), common.NewTestEntry(t, "store"))
	require.NoError(t, err)
	require.NoError(t, st.InitGenesis(genesis))

	conf := DefaultConfig()
	conf.Subsidy = ledger.HalvingSubsidy(testSubsidy, 0)
	if mod != nil {
		mod(conf)
	}

	chain, err := NewBlockchain(conf, st, NewWitnessVerifier(nil), common.NewTestEntry(t, "blockchain"))
	require.NoError(t, err)
	chain.Start()
	t.Cleanup(chain.Shutdown)

	return &fixture{
		priv:    priv,
		pub:     pub,
		genesis: genesis,
		store:   st,
		chain:   chain,
	}
}

// spend builds a signed transaction spending output index of the genesis
// transaction, paying value back to the fixture key.
func (f *fixture) spend(t *testing.T, index uint16, value uint64) *ledger.Transaction {
	return f.spendFrom(t, f.genesis.Transactions[0].Hash(), index, value)
}

func (f *fixture) spendFrom(t *testing.T, prev common.Hash, index uint16, value uint64) *ledger.Transaction {
	tx := &ledger.Transaction{
		Inputs:  []ledger.Input{{PrevHash: prev, PrevIndex: index}},
		Outputs: []ledger.Output{{Value: value, Owner: f.pub}},
	}
	require.NoError(t, tx.SignAll(f.priv))
	return tx
}

func (f *fixture) block(prev *ledger.Header, txs ...*ledger.Transaction) *ledger.Block {
	return ledger.NewBlock(prev, prev.Timestamp+1000, txs)
}

func TestRelayTransaction(t *testing.T) {
	f := newFixture(t, nil)
	tx := f.spend(t, 0, 990)

	res := f.chain.Relay(ledger.TxInventory(tx))
	assert.Equal(t, Succeed, res.Reason, res.Message)
	assert.Equal(t, tx.Hash(), res.Hash)
	assert.True(t, f.chain.ContainsTransaction(tx.Hash()))

	res = f.chain.Relay(ledger.TxInventory(tx))
	assert.Equal(t, AlreadyExists, res.Reason)
	assert.True(t, res.Accepted())
	assert.Equal(t, 1, f.chain.MemPool().Len())

	got, err := f.chain.GetTransaction(tx.Hash())
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), got.Hash())
}

func TestRelayTransactionFailures(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MinFee = 5 })

	badSig := f.spend(t, 1, 900)
	other, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	badSig.Witnesses = nil
	require.NoError(t, badSig.SignAll(other))

	cases := []struct {
		name   string
		tx     *ledger.Transaction
		reason RelayResultReason
	}{
		{"miner outside block", ledger.NewMinerTransaction(7, f.pub, 10), Invalid},
		{"unknown input", f.spendFrom(t, common.BytesToHash([]byte{1}), 0, 10), UnableToVerify},
		{"missing output index", f.spend(t, 9, 10), Invalid},
		{"outputs exceed inputs", f.spend(t, 0, 1001), Invalid},
		{"wrong signer", badSig, Invalid},
		{"fee too low", f.spend(t, 2, 998), PolicyFail},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res := f.chain.Relay(ledger.TxInventory(c.tx))
			assert.Equal(t, c.reason, res.Reason, res.Message)
			assert.False(t, res.Accepted())
		})
	}

	assert.Equal(t, 0, f.chain.MemPool().Len())
}

func TestRejectedCache(t *testing.T) {
	f := newFixture(t, nil)
	miner := ledger.NewMinerTransaction(3, f.pub, 10)

	res := f.chain.Relay(ledger.TxInventory(miner))
	require.Equal(t, Invalid, res.Reason)
	assert.True(t, f.chain.IsRejected(miner.Hash()))

	res = f.chain.Relay(ledger.TxInventory(miner))
	assert.Equal(t, Invalid, res.Reason)
	assert.Contains(t, res.Message, "previously rejected")
}

// resign replaces the witnesses of tx with ones made by a fresh key. The
// transaction hash does not change.
func resign(t *testing.T, tx *ledger.Transaction) {
	other, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	tx.Witnesses = nil
	require.NoError(t, tx.SignAll(other))
}

func TestResignedTransactionDoesNotShadowHonestCopy(t *testing.T) {
	f := newFixture(t, nil)

	honest := f.spend(t, 0, 990)
	forged := f.spend(t, 0, 990)
	resign(t, forged)
	require.Equal(t, honest.Hash(), forged.Hash())

	res := f.chain.Relay(ledger.TxInventory(forged))
	require.Equal(t, Invalid, res.Reason, res.Message)
	assert.False(t, f.chain.IsRejected(honest.Hash()))

	res = f.chain.Relay(ledger.TxInventory(forged))
	assert.Equal(t, Invalid, res.Reason)
	assert.Contains(t, res.Message, "previously rejected")

	// the repeat must not have been remembered by hash either
	res = f.chain.Relay(ledger.TxInventory(honest))
	assert.Equal(t, Succeed, res.Reason, res.Message)
	assert.True(t, f.chain.ContainsTransaction(honest.Hash()))
}

func TestResignedBlockDoesNotShadowHonestCopy(t *testing.T) {
	f := newFixture(t, nil)

	honest := f.block(&f.genesis.Header, f.spend(t, 0, 990))
	tx := f.spend(t, 0, 990)
	resign(t, tx)
	forged := f.block(&f.genesis.Header, tx)
	require.Equal(t, honest.Hash(), forged.Hash())

	res := f.chain.Relay(ledger.BlockInventory(forged))
	require.Equal(t, Invalid, res.Reason, res.Message)
	assert.Equal(t, uint32(0), f.chain.Height())
	assert.False(t, f.chain.IsRejected(honest.Hash()))

	res = f.chain.Relay(ledger.BlockInventory(honest))
	assert.Equal(t, Succeed, res.Reason, res.Message)
	assert.Equal(t, uint32(1), f.chain.Height())
	assert.Equal(t, honest.Hash(), f.chain.CurrentHash())
}

func TestMemPoolConflict(t *testing.T) {
	f := newFixture(t, nil)

	first := f.spend(t, 0, 900)
	second := f.spend(t, 0, 800)

	require.Equal(t, Succeed, f.chain.Relay(ledger.TxInventory(first)).Reason)
	res := f.chain.Relay(ledger.TxInventory(second))
	assert.Equal(t, PolicyFail, res.Reason, res.Message)

	// not cached as invalid: it becomes a double spend only once first is
	// confirmed
	assert.False(t, f.chain.IsRejected(second.Hash()))
}

func TestApplyBlock(t *testing.T) {
	f := newFixture(t, nil)

	pooled := f.spend(t, 0, 990)
	require.Equal(t, Succeed, f.chain.Relay(ledger.TxInventory(pooled)).Reason)

	blk := f.block(&f.genesis.Header, ledger.NewMinerTransaction(1, f.pub, testSubsidy+10), pooled)

	res := f.chain.Relay(ledger.BlockInventory(blk))
	require.Equal(t, Succeed, res.Reason, res.Message)
	assert.Equal(t, uint32(1), f.chain.Height())
	assert.Equal(t, blk.Hash(), f.chain.CurrentHash())
	assert.Equal(t, 0, f.chain.MemPool().Len(), "confirmed transaction leaves the pool")

	res = f.chain.Relay(ledger.BlockInventory(blk))
	assert.Equal(t, AlreadyExists, res.Reason)
	assert.Equal(t, uint32(1), f.chain.Height())

	// the same output can no longer be spent
	again := f.spend(t, 0, 500)
	res = f.chain.Relay(ledger.TxInventory(again))
	assert.Equal(t, Invalid, res.Reason, res.Message)

	got, err := f.chain.GetBlockByHeight(1)
	require.NoError(t, err)
	assert.Equal(t, blk.Hash(), got.Hash())
}

func TestBlockEvictsConflictingPoolTransactions(t *testing.T) {
	f := newFixture(t, nil)

	pooled := f.spend(t, 0, 990)
	require.Equal(t, Succeed, f.chain.Relay(ledger.TxInventory(pooled)).Reason)

	confirmed := f.spend(t, 0, 900)
	blk := f.block(&f.genesis.Header, confirmed)
	require.Equal(t, Succeed, f.chain.Relay(ledger.BlockInventory(blk)).Reason)

	assert.False(t, f.chain.MemPool().Contains(pooled.Hash()))
}

func TestBlockIsAtomic(t *testing.T) {
	f := newFixture(t, nil)

	good := f.spend(t, 0, 990)
	bad := f.spend(t, 1, 990)
	bad.Outputs[0].Value = 100 // invalidates the signature

	blk := f.block(&f.genesis.Header, good, bad)

	res := f.chain.Relay(ledger.BlockInventory(blk))
	assert.Equal(t, Invalid, res.Reason, res.Message)
	assert.Equal(t, uint32(0), f.chain.Height())
	assert.Equal(t, f.genesis.Hash(), f.chain.CurrentHash())
	assert.False(t, f.chain.ContainsTransaction(good.Hash()))

	_, err := f.store.GetSnapshot().GetUnspent(ledger.Outpoint{Hash: good.Hash()})
	assert.True(t, common.IsStore(err, common.KeyNotFound))
}

func TestBlockSpendsOutputCreatedEarlierInBlock(t *testing.T) {
	f := newFixture(t, nil)

	parent := f.spend(t, 0, 1000)
	child := f.spendFrom(t, parent.Hash(), 0, 1000)

	blk := f.block(&f.genesis.Header, parent, child)
	res := f.chain.Relay(ledger.BlockInventory(blk))
	assert.Equal(t, Succeed, res.Reason, res.Message)
}

func TestMinerReward(t *testing.T) {
	f := newFixture(t, nil)

	tx := f.spend(t, 0, 990)

	greedy := f.block(&f.genesis.Header, ledger.NewMinerTransaction(1, f.pub, testSubsidy+11), tx)
	res := f.chain.Relay(ledger.BlockInventory(greedy))
	assert.Equal(t, Invalid, res.Reason, res.Message)
	assert.Equal(t, uint32(0), f.chain.Height())

	fair := f.block(&f.genesis.Header, ledger.NewMinerTransaction(1, f.pub, testSubsidy+10), tx)
	res = f.chain.Relay(ledger.BlockInventory(fair))
	assert.Equal(t, Succeed, res.Reason, res.Message)
}

func TestBlockHeaderChecks(t *testing.T) {
	f := newFixture(t, nil)

	stale := ledger.NewBlock(&f.genesis.Header, f.genesis.Header.Timestamp, []*ledger.Transaction{f.spend(t, 0, 990)})
	res := f.chain.Relay(ledger.BlockInventory(stale))
	assert.Equal(t, Invalid, res.Reason, res.Message)

	future := time.Now().Add(time.Hour).UnixNano() / int64(time.Millisecond)
	ahead := ledger.NewBlock(&f.genesis.Header, future, []*ledger.Transaction{f.spend(t, 0, 990)})
	res = f.chain.Relay(ledger.BlockInventory(ahead))
	assert.Equal(t, UnableToVerify, res.Reason, res.Message)
	assert.False(t, f.chain.IsRejected(ahead.Hash()))
}

func TestOrphanBlock(t *testing.T) {
	f := newFixture(t, nil)

	b1 := f.block(&f.genesis.Header, f.spend(t, 0, 990))
	b2 := f.block(&b1.Header, f.spend(t, 1, 990))

	persisted := make(chan *ledger.Block, 2)
	require.NoError(t, f.chain.Events().Subscribe(TopicBlockPersisted, func(b *ledger.Block) {
		persisted <- b
	}))

	res := f.chain.Relay(ledger.BlockInventory(b2))
	assert.Equal(t, Orphan, res.Reason, res.Message)
	assert.Equal(t, uint32(0), f.chain.Height())

	res = f.chain.Relay(ledger.BlockInventory(b2))
	assert.Equal(t, Orphan, res.Reason, "still buffered")

	res = f.chain.Relay(ledger.BlockInventory(b1))
	assert.Equal(t, Succeed, res.Reason, res.Message)
	assert.Equal(t, uint32(2), f.chain.Height())
	assert.Equal(t, b2.Hash(), f.chain.CurrentHash())

	assert.Equal(t, b1.Hash(), (<-persisted).Hash())
	assert.Equal(t, b2.Hash(), (<-persisted).Hash())
}

func TestOrphanTooFarAhead(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxOrphanDepth = 2 })

	prev := &f.genesis.Header
	var blocks []*ledger.Block
	for i := 0; i < 3; i++ {
		b := f.block(prev, f.spend(t, uint16(i), 990))
		blocks = append(blocks, b)
		prev = &b.Header
	}

	res := f.chain.Relay(ledger.BlockInventory(blocks[2]))
	assert.Equal(t, PolicyFail, res.Reason, res.Message)

	res = f.chain.Relay(ledger.BlockInventory(blocks[1]))
	assert.Equal(t, Orphan, res.Reason, res.Message)
}

func TestForkIsRejected(t *testing.T) {
	f := newFixture(t, nil)

	b1 := f.block(&f.genesis.Header, f.spend(t, 0, 990))
	alt := f.block(&f.genesis.Header, f.spend(t, 1, 990))

	require.Equal(t, Succeed, f.chain.Relay(ledger.BlockInventory(b1)).Reason)

	res := f.chain.Relay(ledger.BlockInventory(alt))
	assert.Equal(t, Invalid, res.Reason, res.Message)
}

func TestImportHeaders(t *testing.T) {
	f := newFixture(t, nil)

	b1 := f.block(&f.genesis.Header, f.spend(t, 0, 990))
	b2 := f.block(&b1.Header, f.spend(t, 1, 990))

	done := make(chan int, 1)
	require.NoError(t, f.chain.ImportHeaders([]ledger.Header{f.genesis.Header, b1.Header, b2.Header}, func(n int, err error) {
		assert.NoError(t, err)
		done <- n
	}))
	assert.Equal(t, 2, <-done)
	assert.Equal(t, uint32(2), f.chain.HeaderHeight())
	assert.Equal(t, uint32(0), f.chain.Height())

	hash, err := f.chain.GetHeaderHash(2)
	require.NoError(t, err)
	assert.Equal(t, b2.Hash(), hash)

	// disconnected headers are refused
	b4 := f.block(&b2.Header, f.spend(t, 2, 990))
	b4.Header.Index = 4
	require.NoError(t, f.chain.ImportHeaders([]ledger.Header{b4.Header}, func(n int, err error) {
		assert.Error(t, err)
		done <- n
	}))
	assert.Equal(t, 0, <-done)

	require.Equal(t, Succeed, f.chain.Relay(ledger.BlockInventory(b1)).Reason)
	require.Equal(t, Succeed, f.chain.Relay(ledger.BlockInventory(b2)).Reason)
	assert.Equal(t, uint32(2), f.chain.Height())
}

func TestConsensusPayload(t *testing.T) {
	f := newFixture(t, nil)

	sign := func(p *ledger.ConsensusPayload) *ledger.ConsensusPayload {
		w, err := ledger.NewWitness(f.priv, p.Hash())
		require.NoError(t, err)
		p.Witness = w
		return p
	}

	good := sign(&ledger.ConsensusPayload{
		PrevHash:   f.genesis.Hash(),
		BlockIndex: 1,
		Data:       []byte("prepare"),
	})
	res := f.chain.Relay(ledger.ConsensusInventory(good))
	assert.Equal(t, Succeed, res.Reason, res.Message)

	got, ok := f.chain.GetConsensusPayload(good.Hash())
	require.True(t, ok)
	assert.Equal(t, good.Data, got.Data)

	res = f.chain.Relay(ledger.ConsensusInventory(good))
	assert.Equal(t, AlreadyExists, res.Reason)

	wrongHeight := sign(&ledger.ConsensusPayload{
		PrevHash:   f.genesis.Hash(),
		BlockIndex: 5,
	})
	res = f.chain.Relay(ledger.ConsensusInventory(wrongHeight))
	assert.Equal(t, PolicyFail, res.Reason, res.Message)
}

func TestBuildBlock(t *testing.T) {
	f := newFixture(t, nil)

	tx := f.spend(t, 0, 990)
	require.Equal(t, Succeed, f.chain.Relay(ledger.TxInventory(tx)).Reason)

	blk, err := f.chain.BuildBlock(f.pub, 0)
	require.NoError(t, err)
	require.Len(t, blk.Transactions, 2)
	assert.True(t, blk.Transactions[0].IsMiner())
	reward, _ := blk.Transactions[0].OutputTotal()
	assert.Equal(t, uint64(testSubsidy+10), reward)
	assert.True(t, blk.Header.Timestamp > f.genesis.Header.Timestamp)

	res := f.chain.Relay(ledger.BlockInventory(blk))
	require.Equal(t, Succeed, res.Reason, res.Message)
	assert.Equal(t, 0, f.chain.MemPool().Len())
}

func TestRelayResultEvent(t *testing.T) {
	f := newFixture(t, nil)

	results := make(chan RelayResult, 1)
	require.NoError(t, f.chain.Events().Subscribe(TopicRelayResult, func(inv ledger.Inventory, res RelayResult) {
		results <- res
	}))

	tx := f.spend(t, 0, 990)
	require.NoError(t, f.chain.Post(ledger.TxInventory(tx), nil))

	select {
	case res := <-results:
		assert.Equal(t, tx.Hash(), res.Hash)
		assert.Equal(t, Succeed, res.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("no relay result published")
	}
}

func TestPostAfterShutdown(t *testing.T) {
	f := newFixture(t, nil)
	f.chain.Shutdown()

	err := f.chain.Post(ledger.TxInventory(f.spend(t, 0, 990)), nil)
	assert.Equal(t, ErrShutdown, err)
}

func TestLocator(t *testing.T) {
	assert.Equal(t, []uint32{0}, locatorHeights(0))
	assert.Equal(t, []uint32{3, 2, 1, 0}, locatorHeights(3))
	assert.Equal(t,
		[]uint32{20, 19, 18, 17, 16, 15, 14, 13, 12, 11, 9, 5, 0},
		locatorHeights(20))

	f := newFixture(t, nil)

	prev := &f.genesis.Header
	var hashes []common.Hash
	for i := 0; i < 3; i++ {
		b := f.block(prev, f.spend(t, uint16(i), 990))
		require.Equal(t, Succeed, f.chain.Relay(ledger.BlockInventory(b)).Reason)
		hashes = append(hashes, b.Hash())
		prev = &b.Header
	}

	loc := f.chain.BlockLocator()
	assert.Equal(t, []common.Hash{hashes[2], hashes[1], hashes[0], f.genesis.Hash()}, loc)

	assert.Equal(t, hashes, f.chain.BlockHashesFrom([]common.Hash{f.genesis.Hash()}, common.ZeroHash, 500))
	assert.Equal(t, hashes[1:], f.chain.BlockHashesFrom([]common.Hash{hashes[0]}, common.ZeroHash, 500))
	assert.Equal(t, hashes[:2], f.chain.BlockHashesFrom(nil, hashes[1], 500))
	assert.Equal(t, hashes[:1], f.chain.BlockHashesFrom(nil, common.ZeroHash, 1))
	assert.Empty(t, f.chain.BlockHashesFrom(loc, common.ZeroHash, 500))

	headers := f.chain.HeadersFrom([]common.Hash{hashes[0]}, common.ZeroHash, 2000)
	require.Len(t, headers, 2)
	assert.Equal(t, hashes[1], headers[0].Hash())
}
