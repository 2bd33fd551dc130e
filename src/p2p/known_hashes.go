package p2p

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mosaicnetworks/ledgerd/src/common"
)

// knownHashes is the set of inventory hashes a peer is known to have, so that
// they are never announced back to it. The least recently touched hashes are
// forgotten first.
type knownHashes struct {
	cache *lru.Cache[common.Hash, struct{}]
}

func newKnownHashes(size int) *knownHashes {
	if size <= 0 {
		size = DefaultKnownHashesSize
	}
	cache, _ := lru.New[common.Hash, struct{}](size)
	return &knownHashes{cache: cache}
}

func (k *knownHashes) Add(hashes ...common.Hash) {
	for _, h := range hashes {
		k.cache.Add(h, struct{}{})
	}
}

func (k *knownHashes) Contains(h common.Hash) bool {
	return k.cache.Contains(h)
}

func (k *knownHashes) Len() int {
	return k.cache.Len()
}

// recentHashes remembers hashes for a limited time. TaskManager uses it for
// items already fetched, so that late announcements do not trigger a second
// request.
type recentHashes struct {
	cache *expirable.LRU[common.Hash, struct{}]
}

func newRecentHashes(size int, ttl time.Duration) *recentHashes {
	return &recentHashes{
		cache: expirable.NewLRU[common.Hash, struct{}](size, nil, ttl),
	}
}

func (r *recentHashes) Add(h common.Hash) {
	r.cache.Add(h, struct{}{})
}

func (r *recentHashes) Contains(h common.Hash) bool {
	return r.cache.Contains(h)
}

func (r *recentHashes) Len() int {
	return r.cache.Len()
}
