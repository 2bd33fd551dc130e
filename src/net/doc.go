// Package net moves protocol messages between nodes.
//
// A StreamLayer produces raw connections: TCPStreamLayer over plain TCP and
// InmemStreamLayer over in-process pipes for tests. A Transport accepts and
// dials on a StreamLayer, and every resulting net.Conn is wrapped in a
// Connection which frames messages, bounds its send queue and closes itself
// when the remote end stays silent for longer than the idle timeout.
//
// TCP
//
// BindAddr is the IP:PORT the TCP listener binds to. AdvertiseAddr is the
// address announced to other nodes; it is required when BindAddr is an
// unspecified address such as 0.0.0.0.
package net
