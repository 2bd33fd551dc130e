package ledgerd

import (
	"crypto/ecdsa"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/ledgerd/src/blockchain"
	"github.com/mosaicnetworks/ledgerd/src/crypto/keys"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

// producer is a single-signer stand-in for a consensus engine. Every
// interval in which transactions were relayed, it builds a block from the
// memory pool, pays the reward to its own key and relays the block.
type producer struct {
	chain    *blockchain.Blockchain
	owner    []byte
	interval time.Duration
	relay    func(ledger.Inventory) blockchain.RelayResult

	pending int32

	shutdownCh chan struct{}
	wg         sync.WaitGroup
	logger     *logrus.Entry
}

func newProducer(chain *blockchain.Blockchain, key *ecdsa.PrivateKey, interval time.Duration, logger *logrus.Entry) *producer {
	return &producer{
		chain:      chain,
		owner:      keys.FromPublicKey(&key.PublicKey),
		interval:   interval,
		shutdownCh: make(chan struct{}),
		logger:     logger.WithField("component", "producer"),
	}
}

// OnTransaction implements p2p.Consensus.
func (p *producer) OnTransaction(tx *ledger.Transaction) {
	atomic.StoreInt32(&p.pending, 1)
}

func (p *producer) Start() {
	p.wg.Add(1)
	go p.run()
}

func (p *producer) Shutdown() {
	close(p.shutdownCh)
	p.wg.Wait()
}

func (p *producer) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if atomic.SwapInt32(&p.pending, 0) == 1 || p.chain.MemPool().Len() > 0 {
				p.produce()
			}
		case <-p.shutdownCh:
			return
		}
	}
}

func (p *producer) produce() {
	block, err := p.chain.BuildBlock(p.owner, time.Now().UnixMilli())
	if err != nil {
		p.logger.WithError(err).Error("Building block")
		return
	}

	res := p.relay(ledger.BlockInventory(block))
	if !res.Accepted() {
		p.logger.WithField("result", res.String()).Warn("Own block refused")
		return
	}

	p.logger.WithFields(logrus.Fields{
		"index": block.Index(),
		"hash":  block.Hash().Short(),
		"txs":   len(block.Transactions),
	}).Info("Produced block")
}
