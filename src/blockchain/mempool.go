package blockchain

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

var (
	errPoolFull = errors.New("memory pool full")
	errConflict = errors.New("conflicts with a pooled transaction")
)

type poolEntry struct {
	tx    *ledger.Transaction
	hash  common.Hash
	fee   uint64
	size  int
	added time.Time
}

// feeRate orders entries by fee per byte.
func (e *poolEntry) lessThan(o *poolEntry) bool {
	// e.fee/e.size < o.fee/o.size without division
	l := e.fee * uint64(o.size)
	r := o.fee * uint64(e.size)
	if l != r {
		return l < r
	}
	return e.added.After(o.added)
}

// MemPool holds verified transactions waiting for a block. It is written by
// the Blockchain actor only; the lock lets protocol handlers serve getdata
// from it concurrently.
type MemPool struct {
	l        sync.RWMutex
	capacity int
	entries  map[common.Hash]*poolEntry
	spent    map[ledger.Outpoint]common.Hash
}

// NewMemPool ...
func NewMemPool(capacity int) *MemPool {
	return &MemPool{
		capacity: capacity,
		entries:  make(map[common.Hash]*poolEntry),
		spent:    make(map[ledger.Outpoint]common.Hash),
	}
}

// add inserts tx. When the pool is full the entry with the lowest fee rate
// is evicted if tx pays a better rate; otherwise errPoolFull is returned.
func (p *MemPool) add(tx *ledger.Transaction, fee uint64) (evicted []common.Hash, err error) {
	p.l.Lock()
	defer p.l.Unlock()

	hash := tx.Hash()
	if _, ok := p.entries[hash]; ok {
		return nil, nil
	}

	for _, in := range tx.Inputs {
		if _, ok := p.spent[in.Outpoint()]; ok {
			return nil, errConflict
		}
	}

	entry := &poolEntry{
		tx:    tx,
		hash:  hash,
		fee:   fee,
		size:  tx.Size(),
		added: time.Now(),
	}

	if len(p.entries) >= p.capacity {
		lowest := p.lowestLocked()
		if lowest == nil || !lowest.lessThan(entry) {
			return nil, errPoolFull
		}
		p.removeLocked(lowest.hash)
		evicted = append(evicted, lowest.hash)
	}

	p.entries[hash] = entry
	for _, in := range tx.Inputs {
		p.spent[in.Outpoint()] = hash
	}

	return evicted, nil
}

func (p *MemPool) lowestLocked() *poolEntry {
	var lowest *poolEntry
	for _, e := range p.entries {
		if lowest == nil || e.lessThan(lowest) {
			lowest = e
		}
	}
	return lowest
}

func (p *MemPool) removeLocked(hash common.Hash) {
	e, ok := p.entries[hash]
	if !ok {
		return
	}
	delete(p.entries, hash)
	for _, in := range e.tx.Inputs {
		if p.spent[in.Outpoint()] == hash {
			delete(p.spent, in.Outpoint())
		}
	}
}

// removeForBlock drops the transactions confirmed by b and those spending an
// output that b spent. It returns the hashes removed.
func (p *MemPool) removeForBlock(b *ledger.Block) []common.Hash {
	p.l.Lock()
	defer p.l.Unlock()

	removed := []common.Hash{}
	for _, tx := range b.Transactions {
		hash := tx.Hash()
		if _, ok := p.entries[hash]; ok {
			p.removeLocked(hash)
			removed = append(removed, hash)
		}
		for _, in := range tx.Inputs {
			if conflict, ok := p.spent[in.Outpoint()]; ok {
				p.removeLocked(conflict)
				removed = append(removed, conflict)
			}
		}
	}
	return removed
}

// Contains ...
func (p *MemPool) Contains(hash common.Hash) bool {
	p.l.RLock()
	defer p.l.RUnlock()
	_, ok := p.entries[hash]
	return ok
}

// Get ...
func (p *MemPool) Get(hash common.Hash) (*ledger.Transaction, bool) {
	p.l.RLock()
	defer p.l.RUnlock()
	e, ok := p.entries[hash]
	if !ok {
		return nil, false
	}
	return e.tx, true
}

// Len ...
func (p *MemPool) Len() int {
	p.l.RLock()
	defer p.l.RUnlock()
	return len(p.entries)
}

// Hashes ...
func (p *MemPool) Hashes() []common.Hash {
	p.l.RLock()
	defer p.l.RUnlock()
	res := make([]common.Hash, 0, len(p.entries))
	for h := range p.entries {
		res = append(res, h)
	}
	return res
}

// Best returns up to max transactions, highest fee rate first, with their
// total fee.
func (p *MemPool) Best(max int) ([]*ledger.Transaction, uint64) {
	p.l.RLock()
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.l.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[j].lessThan(entries[i])
	})

	if len(entries) > max {
		entries = entries[:max]
	}

	var fees uint64
	txs := make([]*ledger.Transaction, len(entries))
	for i, e := range entries {
		txs[i] = e.tx
		fees += e.fee
	}
	return txs, fees
}
