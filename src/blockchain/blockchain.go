package blockchain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/mailbox"
	"github.com/mosaicnetworks/ledgerd/src/store"
)

// ErrShutdown is returned by requests made after Shutdown.
var ErrShutdown = errors.New("blockchain is shutting down")

// Store is the persistence collaborator of the Blockchain.
type Store interface {
	GetSnapshot() *store.Snapshot
	Commit(*store.Snapshot) error
	GetBlock(hash common.Hash) (*ledger.Block, error)
	GetBlockByHeight(height uint32) (*ledger.Block, error)
	GetHeader(height uint32) (*ledger.Header, error)
	GetTransaction(hash common.Hash) (*ledger.Transaction, uint32, error)
	Height() uint32
	HeaderHeight() uint32
	CurrentHash() common.Hash
}

type relayRequest struct {
	inv   ledger.Inventory
	reply func(RelayResult)
}

type headersRequest struct {
	headers []ledger.Header
	reply   func(int, error)
}

type buildRequest struct {
	owner     []byte
	timestamp int64
	reply     chan buildResponse
}

type buildResponse struct {
	block *ledger.Block
	err   error
}

// Blocks, headers and consensus payloads are processed before queued
// transactions.
func isHighPriority(msg interface{}) bool {
	switch m := msg.(type) {
	case relayRequest:
		return m.inv.Type == ledger.InvBlock || m.inv.Type == ledger.InvConsensus
	case headersRequest:
		return true
	}
	return false
}

// Blockchain is the ledger actor. It validates and applies inventory items
// one at a time, against a snapshot of the Store. Read-only queries go
// straight to the Store and may run concurrently.
type Blockchain struct {
	conf     *Config
	store    Store
	verifier Verifier

	pool      *MemPool
	orphans   *orphanPool
	rejected  *lru.Cache[common.Hash, string]
	consensus *expirable.LRU[common.Hash, *ledger.ConsensusPayload]

	bus   evbus.Bus
	inbox *mailbox.Mailbox[interface{}]

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	wg           sync.WaitGroup

	now    func() time.Time
	logger *logrus.Entry
}

// NewBlockchain creates a Blockchain on top of a store which already holds
// the genesis block. Start must be called before posting requests.
func NewBlockchain(conf *Config, st Store, verifier Verifier, logger *logrus.Entry) (*Blockchain, error) {
	rejected, err := lru.New[common.Hash, string](conf.RejectCacheSize)
	if err != nil {
		return nil, err
	}

	if st.GetSnapshot().Empty() {
		return nil, errors.New("store has no genesis block")
	}

	if conf.Subsidy == nil {
		conf.Subsidy = ledger.DefaultSubsidy
	}

	b := &Blockchain{
		conf:       conf,
		store:      st,
		verifier:   verifier,
		pool:       NewMemPool(conf.MemPoolSize),
		orphans:    newOrphanPool(conf.MaxOrphans),
		rejected:   rejected,
		consensus:  expirable.NewLRU[common.Hash, *ledger.ConsensusPayload](conf.ConsensusCacheSize, nil, conf.ConsensusCacheTTL),
		bus:        evbus.New(),
		inbox:      mailbox.New[interface{}](conf.MailboxSize, mailbox.WithPriority(isHighPriority)),
		shutdownCh: make(chan struct{}),
		now:        time.Now,
		logger:     logger.WithField("component", "blockchain"),
	}

	return b, nil
}

// Events returns the bus on which ledger events are published.
func (b *Blockchain) Events() evbus.BusSubscriber {
	return b.bus
}

// MemPool ...
func (b *Blockchain) MemPool() *MemPool {
	return b.pool
}

// Start launches the goroutine which processes requests.
func (b *Blockchain) Start() {
	b.wg.Add(1)
	go b.run()
}

// Shutdown stops processing. Requests still queued are dropped.
func (b *Blockchain) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.inbox.Close()
		close(b.shutdownCh)
		b.wg.Wait()
	})
}

func (b *Blockchain) run() {
	defer b.wg.Done()
	for {
		msg, ok := b.inbox.Receive(b.shutdownCh)
		if !ok {
			return
		}
		b.handle(msg)
	}
}

func (b *Blockchain) handle(msg interface{}) {
	switch m := msg.(type) {
	case relayRequest:
		res := b.processInventory(m.inv)
		b.bus.Publish(TopicRelayResult, m.inv, res)
		if m.reply != nil {
			m.reply(res)
		}
	case headersRequest:
		n, err := b.processHeaders(m.headers)
		if m.reply != nil {
			m.reply(n, err)
		}
	case buildRequest:
		block, err := b.buildBlock(m.owner, m.timestamp)
		m.reply <- buildResponse{block: block, err: err}
	}
}

//==============================================================================
// Requests

// Post queues inv for validation. reply, if not nil, is called from the
// Blockchain goroutine with the outcome and must not block.
func (b *Blockchain) Post(inv ledger.Inventory, reply func(RelayResult)) error {
	err := b.inbox.Post(relayRequest{inv: inv, reply: reply})
	if errors.Is(err, mailbox.ErrClosed) {
		return ErrShutdown
	}
	return err
}

// Relay submits inv and waits for the outcome.
func (b *Blockchain) Relay(inv ledger.Inventory) RelayResult {
	ch := make(chan RelayResult, 1)

	err := b.Post(inv, func(r RelayResult) { ch <- r })
	if err != nil {
		reason := Unknown
		if errors.Is(err, mailbox.ErrFull) {
			reason = OutOfMemory
		}
		return RelayResult{Hash: inv.Hash(), Type: inv.Type, Reason: reason, Message: err.Error()}
	}

	select {
	case r := <-ch:
		return r
	case <-b.shutdownCh:
		return RelayResult{Hash: inv.Hash(), Type: inv.Type, Reason: Unknown, Message: ErrShutdown.Error()}
	}
}

// ImportHeaders queues headers for the header chain. reply receives the
// number of headers added.
func (b *Blockchain) ImportHeaders(headers []ledger.Header, reply func(int, error)) error {
	err := b.inbox.Post(headersRequest{headers: headers, reply: reply})
	if errors.Is(err, mailbox.ErrClosed) {
		return ErrShutdown
	}
	return err
}

// BuildBlock assembles a block on top of the current tip from the best
// pooled transactions. If owner is set, a miner transaction paying the
// subsidy and the fees to owner comes first. The block is not applied.
func (b *Blockchain) BuildBlock(owner []byte, timestamp int64) (*ledger.Block, error) {
	ch := make(chan buildResponse, 1)
	if err := b.inbox.Post(buildRequest{owner: owner, timestamp: timestamp, reply: ch}); err != nil {
		if errors.Is(err, mailbox.ErrClosed) {
			return nil, ErrShutdown
		}
		return nil, err
	}
	select {
	case r := <-ch:
		return r.block, r.err
	case <-b.shutdownCh:
		return nil, ErrShutdown
	}
}

//==============================================================================
// Processing

func (b *Blockchain) processInventory(inv ledger.Inventory) RelayResult {
	hash := inv.Hash()
	res := RelayResult{Hash: hash, Type: inv.Type}

	var err error
	if err = inv.Check(); err == nil {
		if reason, ok := b.previouslyRejected(inv, hash); ok {
			err = failWitnessed(Invalid, "previously rejected: %s", reason)
		} else {
			switch inv.Type {
			case ledger.InvTransaction:
				err = b.processTransaction(inv.Tx)
			case ledger.InvBlock:
				err = b.processBlock(inv.Block)
			case ledger.InvConsensus:
				err = b.processConsensus(inv.Consensus)
			}
		}
	} else {
		err = failWitnessed(Invalid, "%v", err)
	}

	if err == nil {
		res.Reason = Succeed
		return res
	}

	res.Reason, res.Message = b.reject(inv, hash, err)

	b.logger.WithFields(logrus.Fields{
		"type":   inv.Type,
		"hash":   hash.Short(),
		"reason": res.Reason,
	}).Debug(res.Message)

	return res
}

func (b *Blockchain) processTransaction(tx *ledger.Transaction) error {
	hash := tx.Hash()

	if b.pool.Contains(hash) {
		return fail(AlreadyExists, "transaction in memory pool")
	}

	snap := b.store.GetSnapshot()
	known, err := snap.ContainsTransaction(hash)
	if err != nil {
		return err
	}
	if known {
		return fail(AlreadyExists, "transaction already confirmed")
	}

	if err := tx.CheckStructure(); err != nil {
		return failWitnessed(Invalid, "%v", err)
	}
	if tx.IsMiner() {
		return fail(Invalid, "miner transaction outside a block")
	}

	fee, err := b.checkTransaction(tx, snap)
	if err != nil {
		return err
	}
	if fee < b.conf.MinFee {
		return fail(PolicyFail, "fee %d below minimum %d", fee, b.conf.MinFee)
	}

	evicted, err := b.pool.add(tx, fee)
	switch {
	case errors.Is(err, errConflict):
		return fail(PolicyFail, "%v", err)
	case errors.Is(err, errPoolFull):
		return fail(OutOfMemory, "%v", err)
	case err != nil:
		return err
	}

	for _, h := range evicted {
		b.logger.WithField("hash", h.Short()).Debug("Evicted from memory pool")
	}

	return nil
}

// checkTransaction verifies the inputs of tx against snap and returns the
// fee it pays.
func (b *Blockchain) checkTransaction(tx *ledger.Transaction, snap *store.Snapshot) (uint64, error) {
	var in uint64
	for _, input := range tx.Inputs {
		op := input.Outpoint()
		out, err := snap.GetUnspent(op)
		if err != nil {
			if !common.IsStore(err, common.KeyNotFound) {
				return 0, err
			}
			parentKnown, err := snap.ContainsTransaction(op.Hash)
			if err != nil {
				return 0, err
			}
			if parentKnown {
				return 0, fail(Invalid, "output %s already spent", op)
			}
			return 0, fail(UnableToVerify, "unknown input %s", op)
		}
		if in+out.Value < in {
			return 0, fail(Invalid, "input total overflows")
		}
		in += out.Value
	}

	if err := b.verifier.Verify(tx, snap); err != nil {
		return 0, failWitnessed(Invalid, "verification failed: %v", err)
	}

	outTotal, _ := tx.OutputTotal()
	if outTotal > in {
		return 0, fail(Invalid, "outputs %d exceed inputs %d", outTotal, in)
	}

	return in - outTotal, nil
}

func (b *Blockchain) processBlock(block *ledger.Block) error {
	hash := block.Hash()
	snap := b.store.GetSnapshot()

	known, err := snap.ContainsBlock(hash)
	if err != nil {
		return err
	}
	if known {
		return fail(AlreadyExists, "block already applied")
	}
	if b.orphans.contains(hash) {
		return fail(Orphan, "block already buffered")
	}

	height := snap.Height()
	index := block.Header.Index

	if index <= height {
		return fail(Invalid, "block %d conflicts with the chain at that height", index)
	}

	if index > height+1 || block.Header.PrevHash != snap.CurrentHash() {
		if index == height+1 {
			return fail(Invalid, "block %d does not extend tip %s", index, snap.CurrentHash().Short())
		}
		if index > height+b.conf.MaxOrphanDepth {
			return fail(PolicyFail, "block %d too far ahead of height %d", index, height)
		}
		if err := block.CheckStructure(); err != nil {
			return failWitnessed(Invalid, "%v", err)
		}
		b.orphans.add(block)
		return fail(Orphan, "parent %s unknown", block.Header.PrevHash.Short())
	}

	if err := b.applyBlock(block, snap); err != nil {
		return err
	}

	b.applyOrphans(hash)

	return nil
}

// applyOrphans applies, depth first, the buffered descendants of parent.
func (b *Blockchain) applyOrphans(parent common.Hash) {
	queue := []common.Hash{parent}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		for _, child := range b.orphans.children(next) {
			inv := ledger.BlockInventory(child)
			res := RelayResult{Hash: child.Hash(), Type: ledger.InvBlock, Reason: Succeed}

			if err := b.applyBlock(child, b.store.GetSnapshot()); err != nil {
				res.Reason, res.Message = b.reject(inv, res.Hash, err)
			} else {
				queue = append(queue, res.Hash)
			}

			b.bus.Publish(TopicRelayResult, inv, res)
		}
	}
}

// applyBlock verifies block on top of snap and commits it. Nothing is
// written unless every transaction is valid.
func (b *Blockchain) applyBlock(block *ledger.Block, snap *store.Snapshot) error {
	if err := block.CheckStructure(); err != nil {
		return failWitnessed(Invalid, "%v", err)
	}

	prev, err := snap.GetHeader(block.Header.PrevHash)
	if err != nil {
		return err
	}
	if err := b.checkHeaderTime(&block.Header, prev); err != nil {
		return err
	}

	var fees, reward uint64
	check := func(tx *ledger.Transaction) error {
		if err := tx.CheckStructure(); err != nil {
			return failWitnessed(Invalid, "transaction %s: %v", tx.Hash().Short(), err)
		}
		if tx.IsMiner() {
			reward, _ = tx.OutputTotal()
			return nil
		}
		fee, err := b.checkTransaction(tx, snap)
		if err != nil {
			var rerr *relayError
			if errors.As(err, &rerr) {
				// the whole state the block depends on is known
				return &relayError{
					reason:    Invalid,
					err:       fmt.Errorf("transaction %s: %w", tx.Hash().Short(), rerr.err),
					witnessed: rerr.witnessed,
				}
			}
			return err
		}
		fees += fee
		return nil
	}

	if err := snap.AddBlock(block, check); err != nil {
		var rerr *relayError
		if errors.As(err, &rerr) {
			return err
		}
		if common.IsStore(err, common.Corrupted) {
			return err
		}
		return fail(Invalid, "%v", err)
	}

	if allowed := b.conf.Subsidy(block.Header.Index) + fees; reward > allowed {
		return fail(Invalid, "miner claims %d, allowed %d", reward, allowed)
	}

	if err := b.store.Commit(snap); err != nil {
		return fmt.Errorf("commit block %d: %w", block.Header.Index, err)
	}

	removed := b.pool.removeForBlock(block)
	b.orphans.prune(block.Header.Index)

	b.logger.WithFields(logrus.Fields{
		"index":        block.Header.Index,
		"hash":         block.Hash().Short(),
		"transactions": len(block.Transactions),
		"pool_removed": len(removed),
	}).Info("Block persisted")

	b.bus.Publish(TopicBlockPersisted, block)

	return nil
}

func (b *Blockchain) checkHeaderTime(h, prev *ledger.Header) error {
	if h.Timestamp <= prev.Timestamp {
		return fail(Invalid, "timestamp %d not after parent %d", h.Timestamp, prev.Timestamp)
	}
	limit := b.now().Add(b.conf.MaxFutureDrift).UnixNano() / int64(time.Millisecond)
	if h.Timestamp > limit {
		return fail(UnableToVerify, "timestamp %d too far in the future", h.Timestamp)
	}
	return nil
}

// processHeaders extends the header chain with the headers which connect to
// it. Headers already known are skipped. The headers added before the first
// one that does not connect are kept.
func (b *Blockchain) processHeaders(headers []ledger.Header) (int, error) {
	snap := b.store.GetSnapshot()
	added := 0

	var stopErr error
	for i := range headers {
		h := &headers[i]
		hash := h.Hash()

		known, err := snap.ContainsHeader(hash)
		if err != nil {
			return 0, err
		}
		if known {
			continue
		}

		tip := snap.HeaderTip()
		if h.Index != tip.Height+1 || h.PrevHash != tip.Hash {
			stopErr = fmt.Errorf("header %d (%s) does not connect to header tip %d", h.Index, hash.Short(), tip.Height)
			break
		}

		prev, err := snap.GetHeader(h.PrevHash)
		if err != nil {
			return 0, err
		}
		if err := b.checkHeaderTime(h, prev); err != nil {
			stopErr = err
			break
		}

		if err := snap.AddHeader(h); err != nil {
			return 0, err
		}
		added++
	}

	if added == 0 {
		return 0, stopErr
	}

	if err := b.store.Commit(snap); err != nil {
		return 0, err
	}

	height := snap.HeaderTip().Height
	b.logger.WithFields(logrus.Fields{
		"added":  added,
		"height": height,
	}).Debug("Headers persisted")

	b.bus.Publish(TopicHeadersPersisted, height)

	return added, stopErr
}

func (b *Blockchain) processConsensus(p *ledger.ConsensusPayload) error {
	hash := p.Hash()
	if b.consensus.Contains(hash) {
		return fail(AlreadyExists, "consensus payload already known")
	}

	snap := b.store.GetSnapshot()
	if p.BlockIndex != snap.Height()+1 || p.PrevHash != snap.CurrentHash() {
		return fail(PolicyFail, "payload targets block %d, next is %d", p.BlockIndex, snap.Height()+1)
	}

	if err := b.verifier.VerifyConsensus(p, snap); err != nil {
		return failWitnessed(Invalid, "%v", err)
	}

	b.consensus.Add(hash, p)
	b.bus.Publish(TopicConsensusPayload, p)

	return nil
}

func (b *Blockchain) buildBlock(owner []byte, timestamp int64) (*ledger.Block, error) {
	snap := b.store.GetSnapshot()

	prev, err := snap.GetHeader(snap.CurrentHash())
	if err != nil {
		return nil, err
	}
	if timestamp <= prev.Timestamp {
		timestamp = prev.Timestamp + 1
	}

	max := ledger.MaxBlockTransactions
	if len(owner) > 0 {
		max--
	}
	txs, fees := b.pool.Best(max)

	if len(owner) > 0 {
		if reward := b.conf.Subsidy(prev.Index+1) + fees; reward > 0 {
			miner := ledger.NewMinerTransaction(prev.Index+1, owner, reward)
			txs = append([]*ledger.Transaction{miner}, txs...)
		}
	}

	if len(txs) == 0 {
		return nil, errors.New("nothing to put in a block")
	}

	return ledger.NewBlock(prev, timestamp, txs), nil
}

//==============================================================================
// Queries

// Height returns the index of the last applied block.
func (b *Blockchain) Height() uint32 {
	return b.store.Height()
}

// HeaderHeight returns the index of the last known header.
func (b *Blockchain) HeaderHeight() uint32 {
	return b.store.HeaderHeight()
}

// CurrentHash returns the hash of the last applied block.
func (b *Blockchain) CurrentHash() common.Hash {
	return b.store.CurrentHash()
}

// GetBlock ...
func (b *Blockchain) GetBlock(hash common.Hash) (*ledger.Block, error) {
	return b.store.GetBlock(hash)
}

// GetBlockByHeight ...
func (b *Blockchain) GetBlockByHeight(height uint32) (*ledger.Block, error) {
	return b.store.GetBlockByHeight(height)
}

// GetHeader returns the header at height in the header chain.
func (b *Blockchain) GetHeader(height uint32) (*ledger.Header, error) {
	return b.store.GetHeader(height)
}

// GetHeaderHash returns the hash of the header at height.
func (b *Blockchain) GetHeaderHash(height uint32) (common.Hash, error) {
	return b.store.GetSnapshot().GetHeaderHash(height)
}

// ContainsBlock ...
func (b *Blockchain) ContainsBlock(hash common.Hash) bool {
	ok, err := b.store.GetSnapshot().ContainsBlock(hash)
	return err == nil && ok
}

// ContainsTransaction looks in the memory pool and in the ledger.
func (b *Blockchain) ContainsTransaction(hash common.Hash) bool {
	if b.pool.Contains(hash) {
		return true
	}
	ok, err := b.store.GetSnapshot().ContainsTransaction(hash)
	return err == nil && ok
}

// GetTransaction looks in the memory pool and in the ledger.
func (b *Blockchain) GetTransaction(hash common.Hash) (*ledger.Transaction, error) {
	if tx, ok := b.pool.Get(hash); ok {
		return tx, nil
	}
	tx, _, err := b.store.GetTransaction(hash)
	return tx, err
}

// GetConsensusPayload returns a recently accepted consensus payload.
func (b *Blockchain) GetConsensusPayload(hash common.Hash) (*ledger.ConsensusPayload, bool) {
	return b.consensus.Get(hash)
}

// reject turns err into a result reason and message, and remembers Invalid
// items. Failures a differently witnessed copy could avoid are remembered by
// PayloadHash, so only that exact payload is refused later; the others by
// hash, which also stops the node from fetching them again.
func (b *Blockchain) reject(inv ledger.Inventory, hash common.Hash, err error) (RelayResultReason, string) {
	reason := Unknown
	var rerr *relayError
	if errors.As(err, &rerr) {
		reason = rerr.reason
	}
	msg := err.Error()

	if reason == Invalid && !hash.IsZero() {
		if rerr.witnessed {
			if payload := inv.PayloadHash(); !payload.IsZero() {
				b.rejected.Add(payload, msg)
			}
		} else {
			b.rejected.Add(hash, msg)
		}
	}

	return reason, msg
}

func (b *Blockchain) previouslyRejected(inv ledger.Inventory, hash common.Hash) (string, bool) {
	if reason, ok := b.rejected.Get(hash); ok {
		return reason, true
	}
	return b.rejected.Get(inv.PayloadHash())
}

// IsRejected reports whether hash was rejected as Invalid.
func (b *Blockchain) IsRejected(hash common.Hash) bool {
	return b.rejected.Contains(hash)
}
