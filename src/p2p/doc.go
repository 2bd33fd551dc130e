// Package p2p implements the peer-to-peer side of a ledgerd node.
//
// Four components cooperate, each owning its state and talking to the others
// through messages:
//
//   - RemoteNode runs the protocol with one peer over one net.Connection:
//     version handshake, inventory exchange and request/response.
//   - Peer is the connection manager. It accepts and dials connections,
//     enforces the connection bounds and keeps the unconnected and bad
//     endpoint pools.
//   - TaskManager decides which peer is asked for which inventory item or
//     block, so that no item is requested from two peers at once, and
//     drives header-first synchronisation.
//   - LocalNode wires the above to the Blockchain and is the entry point for
//     relaying inventory.
//
// RemoteNode and TaskManager are actors: each runs a single goroutine which
// drains a priority mailbox. Peer guards its pools with a mutex held by short
// critical sections only, so that inbound accepts, dial completions and
// RemoteNode notifications can be handled from their own goroutines.
package p2p
