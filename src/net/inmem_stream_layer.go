package net

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// InmemNetwork connects InmemStreamLayers by address. Each layer gets its own
// IP so that per-address limits behave as they would over TCP.
type InmemNetwork struct {
	l        sync.Mutex
	layers   map[string]*InmemStreamLayer
	nextHost int
	nextPort int
}

// NewInmemNetwork ...
func NewInmemNetwork() *InmemNetwork {
	return &InmemNetwork{
		layers:   make(map[string]*InmemStreamLayer),
		nextHost: 1,
		nextPort: 40000,
	}
}

// NewInmemAddr returns a fresh listen address on a new host.
func (n *InmemNetwork) NewInmemAddr() string {
	n.l.Lock()
	defer n.l.Unlock()
	return n.newHostLocked() + ":20333"
}

func (n *InmemNetwork) newHostLocked() string {
	h := n.nextHost
	n.nextHost++
	return fmt.Sprintf("10.%d.%d.%d", (h>>16)&0xff, (h>>8)&0xff, h&0xff)
}

// NewStreamLayer registers a listener at addr. An empty addr allocates one.
func (n *InmemNetwork) NewStreamLayer(addr string) (*InmemStreamLayer, error) {
	if addr == "" {
		addr = n.NewInmemAddr()
	}

	n.l.Lock()
	defer n.l.Unlock()

	if _, ok := n.layers[addr]; ok {
		return nil, fmt.Errorf("address %s already in use", addr)
	}

	layer := &InmemStreamLayer{
		network:    n,
		addr:       addr,
		acceptCh:   make(chan net.Conn, 16),
		shutdownCh: make(chan struct{}),
	}
	n.layers[addr] = layer
	return layer, nil
}

// Partition drops addr from the network: new dials to it fail. Existing
// connections are unaffected.
func (n *InmemNetwork) Partition(addr string) {
	n.l.Lock()
	defer n.l.Unlock()
	delete(n.layers, addr)
}

func (n *InmemNetwork) lookup(addr string) (*InmemStreamLayer, bool) {
	n.l.Lock()
	defer n.l.Unlock()
	layer, ok := n.layers[addr]
	return layer, ok
}

func (n *InmemNetwork) ephemeralAddr(from string) string {
	n.l.Lock()
	defer n.l.Unlock()
	host, _, err := net.SplitHostPort(from)
	if err != nil {
		host = n.newHostLocked()
	}
	p := n.nextPort
	n.nextPort++
	return fmt.Sprintf("%s:%d", host, p)
}

// InmemStreamLayer implements StreamLayer over net.Pipe, to allow nodes to be
// tested in-memory without going over a network.
type InmemStreamLayer struct {
	network    *InmemNetwork
	addr       string
	acceptCh   chan net.Conn
	closeOnce  sync.Once
	shutdownCh chan struct{}
}

// Dial implements the StreamLayer interface.
func (i *InmemStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	target, ok := i.network.lookup(address)
	if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", address)
	}

	local := inmemAddr(i.network.ephemeralAddr(i.addr))
	remote := inmemAddr(address)

	client, server := net.Pipe()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case target.acceptCh <- &inmemConn{Conn: server, local: remote, remote: local}:
	case <-target.shutdownCh:
		client.Close()
		server.Close()
		return nil, fmt.Errorf("dial %s: connection refused", address)
	case <-timeoutCh:
		client.Close()
		server.Close()
		return nil, fmt.Errorf("dial %s: i/o timeout", address)
	}

	return &inmemConn{Conn: client, local: local, remote: remote}, nil
}

// Accept implements the net.Listener interface.
func (i *InmemStreamLayer) Accept() (net.Conn, error) {
	select {
	case conn := <-i.acceptCh:
		return conn, nil
	case <-i.shutdownCh:
		return nil, fmt.Errorf("listener %s closed", i.addr)
	}
}

// Close implements the net.Listener interface.
func (i *InmemStreamLayer) Close() error {
	i.closeOnce.Do(func() {
		close(i.shutdownCh)
		i.network.l.Lock()
		if i.network.layers[i.addr] == i {
			delete(i.network.layers, i.addr)
		}
		i.network.l.Unlock()
	})
	return nil
}

// Addr implements the net.Listener interface.
func (i *InmemStreamLayer) Addr() net.Addr {
	return inmemAddr(i.addr)
}

// AdvertiseAddr implements the StreamLayer interface.
func (i *InmemStreamLayer) AdvertiseAddr() string {
	return i.addr
}

type inmemAddr string

func (a inmemAddr) Network() string { return "inmem" }
func (a inmemAddr) String() string  { return string(a) }

// inmemConn reports host:port addresses instead of net.Pipe's "pipe".
type inmemConn struct {
	net.Conn
	local  net.Addr
	remote net.Addr
}

func (c *inmemConn) LocalAddr() net.Addr  { return c.local }
func (c *inmemConn) RemoteAddr() net.Addr { return c.remote }
