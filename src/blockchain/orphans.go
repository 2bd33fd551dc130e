package blockchain

import (
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

// orphanPool buffers blocks whose parent is not the current tip, keyed by
// the parent hash. It is owned by the Blockchain actor.
type orphanPool struct {
	max      int
	byHash   map[common.Hash]*ledger.Block
	byParent map[common.Hash][]common.Hash
	order    []common.Hash
}

func newOrphanPool(max int) *orphanPool {
	return &orphanPool{
		max:      max,
		byHash:   make(map[common.Hash]*ledger.Block),
		byParent: make(map[common.Hash][]common.Hash),
	}
}

func (o *orphanPool) contains(hash common.Hash) bool {
	_, ok := o.byHash[hash]
	return ok
}

// add buffers b, evicting the oldest orphan when the pool is full.
func (o *orphanPool) add(b *ledger.Block) {
	hash := b.Hash()
	if o.contains(hash) {
		return
	}
	for len(o.byHash) >= o.max && len(o.order) > 0 {
		o.remove(o.order[0])
	}
	o.byHash[hash] = b
	o.byParent[b.Header.PrevHash] = append(o.byParent[b.Header.PrevHash], hash)
	o.order = append(o.order, hash)
}

func (o *orphanPool) remove(hash common.Hash) {
	b, ok := o.byHash[hash]
	if !ok {
		return
	}
	delete(o.byHash, hash)

	siblings := o.byParent[b.Header.PrevHash]
	for i, h := range siblings {
		if h == hash {
			siblings = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(siblings) == 0 {
		delete(o.byParent, b.Header.PrevHash)
	} else {
		o.byParent[b.Header.PrevHash] = siblings
	}

	for i, h := range o.order {
		if h == hash {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// children removes and returns the orphans whose parent is hash.
func (o *orphanPool) children(parent common.Hash) []*ledger.Block {
	hashes := append([]common.Hash(nil), o.byParent[parent]...)
	res := make([]*ledger.Block, 0, len(hashes))
	for _, h := range hashes {
		res = append(res, o.byHash[h])
		o.remove(h)
	}
	return res
}

// prune drops orphans at or below height; they can never connect.
func (o *orphanPool) prune(height uint32) {
	for _, h := range append([]common.Hash(nil), o.order...) {
		if o.byHash[h].Header.Index <= height {
			o.remove(h)
		}
	}
}

func (o *orphanPool) len() int {
	return len(o.byHash)
}
