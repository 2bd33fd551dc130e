// Package peers defines the endpoints of remote nodes and the address books
// which remember them.
//
// An Endpoint is the host and port a node listens on. Endpoints are learnt
// from the seed list, from addr messages and from the Version of inbound
// peers. The connection manager keeps the endpoints it is not connected to in
// its unconnected pool, and saves that pool to an address book on shutdown so
// that a restarted node does not depend on the seed list alone.
//
// JSONAddressBook persists the endpoints in a peers.json file in the data
// directory. The file is human readable and may be edited by operators.
// StaticAddressBook keeps them in memory.
package peers
