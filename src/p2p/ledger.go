package p2p

import (
	evbus "github.com/asaskevich/EventBus"

	"github.com/mosaicnetworks/ledgerd/src/blockchain"
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

// Ledger is what the network needs from the Blockchain.
type Ledger interface {
	Height() uint32
	HeaderHeight() uint32
	CurrentHash() common.Hash

	Post(inv ledger.Inventory, reply func(blockchain.RelayResult)) error
	Relay(inv ledger.Inventory) blockchain.RelayResult
	ImportHeaders(headers []ledger.Header, reply func(int, error)) error
	Events() evbus.BusSubscriber

	ContainsBlock(hash common.Hash) bool
	ContainsTransaction(hash common.Hash) bool
	IsRejected(hash common.Hash) bool
	GetBlock(hash common.Hash) (*ledger.Block, error)
	GetTransaction(hash common.Hash) (*ledger.Transaction, error)
	GetConsensusPayload(hash common.Hash) (*ledger.ConsensusPayload, bool)
	GetHeaderHash(height uint32) (common.Hash, error)

	BlockLocator() []common.Hash
	HeaderLocator() []common.Hash
	BlockHashesFrom(locator []common.Hash, stop common.Hash, max int) []common.Hash
	HeadersFrom(locator []common.Hash, stop common.Hash, max int) []ledger.Header
}

// Consensus is the consensus collaborator. It is told about every
// transaction the ledger accepts, whether relayed locally or received from a
// peer, once the ledger has accepted it. It produces blocks and consensus
// payloads through LocalNode.Relay.
type Consensus interface {
	OnTransaction(tx *ledger.Transaction)
}
