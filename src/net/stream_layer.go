package net

import (
	"net"
	"time"
)

// StreamLayer hands raw connections to a Transport. Accept yields the
// connections peers open to us and Dial opens ours.
type StreamLayer interface {
	net.Listener

	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr is the IP:PORT peers should dial to reach this node.
	AdvertiseAddr() string
}
