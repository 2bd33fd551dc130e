package blockchain

// Topics published on the Blockchain event bus. Handlers run on the
// Blockchain goroutine and must not block; they typically post to their own
// mailbox.
const (
	// TopicRelayResult carries (ledger.Inventory, RelayResult) for every
	// item submitted through Post or Relay.
	TopicRelayResult = "blockchain:relay_result"
	// TopicBlockPersisted carries (*ledger.Block) after a block is committed,
	// including orphans applied once their parent arrived.
	TopicBlockPersisted = "blockchain:block_persisted"
	// TopicHeadersPersisted carries (uint32) the new header height.
	TopicHeadersPersisted = "blockchain:headers_persisted"
	// TopicConsensusPayload carries (*ledger.ConsensusPayload) when a
	// consensus payload is accepted.
	TopicConsensusPayload = "blockchain:consensus_payload"
)
