package blockchain

import (
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/store"
)

// locatorHeights lists top, the 9 heights below it, then heights spaced by
// doubling steps, and always ends with 0.
func locatorHeights(top uint32) []uint32 {
	heights := []uint32{}
	step := int64(1)
	for h := int64(top); h > 0; h -= step {
		heights = append(heights, uint32(h))
		if len(heights) >= 10 {
			step *= 2
		}
	}
	return append(heights, 0)
}

func locator(snap *store.Snapshot, top uint32) []common.Hash {
	heights := locatorHeights(top)
	res := make([]common.Hash, 0, len(heights))
	for _, h := range heights {
		hash, err := snap.GetHeaderHash(h)
		if err != nil {
			continue
		}
		res = append(res, hash)
	}
	return res
}

// BlockLocator describes the block chain to a peer, densely near the tip and
// sparsely towards genesis.
func (b *Blockchain) BlockLocator() []common.Hash {
	snap := b.store.GetSnapshot()
	return locator(snap, snap.Height())
}

// HeaderLocator is BlockLocator for the header chain.
func (b *Blockchain) HeaderLocator() []common.Hash {
	snap := b.store.GetSnapshot()
	return locator(snap, snap.HeaderTip().Height)
}

// forkPoint returns the height after the first locator hash found in the
// header chain at or below limit. Everyone shares genesis, so it defaults
// to 1.
func forkPoint(snap *store.Snapshot, locator []common.Hash, limit uint32) uint32 {
	for _, hash := range locator {
		h, err := snap.GetHeader(hash)
		if err != nil || h.Index > limit {
			continue
		}
		return h.Index + 1
	}
	return 1
}

// BlockHashesFrom answers getblocks: the hashes of the blocks following the
// locator, up to and including stop, at most max.
func (b *Blockchain) BlockHashesFrom(locator []common.Hash, stop common.Hash, max int) []common.Hash {
	snap := b.store.GetSnapshot()
	height := snap.Height()

	res := []common.Hash{}
	for i := forkPoint(snap, locator, height); i <= height && len(res) < max; i++ {
		hash, err := snap.GetBlockHash(i)
		if err != nil {
			break
		}
		res = append(res, hash)
		if hash == stop {
			break
		}
	}
	return res
}

// HeadersFrom answers getheaders like BlockHashesFrom, over the header
// chain.
func (b *Blockchain) HeadersFrom(locator []common.Hash, stop common.Hash, max int) []ledger.Header {
	snap := b.store.GetSnapshot()
	height := snap.HeaderTip().Height

	res := []ledger.Header{}
	for i := forkPoint(snap, locator, height); i <= height && len(res) < max; i++ {
		h, err := snap.GetHeaderByHeight(i)
		if err != nil {
			break
		}
		res = append(res, *h)
		if h.Hash() == stop {
			break
		}
	}
	return res
}
