// Package ledgerd assembles a node from a config.Config: key, database,
// ledger, peer-to-peer network, metrics and HTTP service. One Ledgerd value
// owns all of them and tears them down in reverse order on Shutdown.
//
// A node with a non-zero BlockInterval also builds blocks from its memory
// pool. This stands in for a consensus engine on single-producer networks.
package ledgerd
