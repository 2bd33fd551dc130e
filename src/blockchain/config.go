package blockchain

import (
	"time"

	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

// Defaults
const (
	DefaultMemPoolSize        = 50000
	DefaultMaxOrphans         = 100
	DefaultMaxOrphanDepth     = 2000
	DefaultRejectCacheSize    = 10000
	DefaultConsensusCacheSize = 1000
	DefaultConsensusCacheTTL  = 2 * time.Minute
	DefaultMaxFutureDrift     = 15 * time.Second
	DefaultMailboxSize        = 10000
)

// Config bounds the pools and caches of the Blockchain.
type Config struct {
	MemPoolSize        int
	MaxOrphans         int
	MaxOrphanDepth     uint32
	RejectCacheSize    int
	ConsensusCacheSize int
	ConsensusCacheTTL  time.Duration
	MaxFutureDrift     time.Duration
	MailboxSize        int

	// MinFee is the smallest fee accepted into the memory pool.
	MinFee uint64

	// Subsidy is the block reward policy. DefaultSubsidy when nil.
	Subsidy ledger.SubsidyFunc
}

// DefaultConfig ...
func DefaultConfig() *Config {
	return &Config{
		MemPoolSize:        DefaultMemPoolSize,
		MaxOrphans:         DefaultMaxOrphans,
		MaxOrphanDepth:     DefaultMaxOrphanDepth,
		RejectCacheSize:    DefaultRejectCacheSize,
		ConsensusCacheSize: DefaultConsensusCacheSize,
		ConsensusCacheTTL:  DefaultConsensusCacheTTL,
		MaxFutureDrift:     DefaultMaxFutureDrift,
		MailboxSize:        DefaultMailboxSize,
		Subsidy:            ledger.DefaultSubsidy,
	}
}
