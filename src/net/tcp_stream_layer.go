package net

import (
	"errors"
	"net"
	"time"
)

// tcpKeepAlive is the keep-alive period of every peer connection.
const tcpKeepAlive = 30 * time.Second

var (
	errNotAdvertisable = errors.New("local bind address is not advertisable")
	errNotTCP          = errors.New("local address is not a TCP address")
)

// TCPStreamLayer is the StreamLayer of real nodes. Every connection it
// returns has keep-alives on and Nagle's algorithm off, since messages are
// small and latency bound.
type TCPStreamLayer struct {
	listener  *net.TCPListener
	advertise *net.TCPAddr
}

// NewTCPStreamLayer listens on bindAddr. advertiseAddr defaults to the
// listener address, and must not be an unspecified IP like 0.0.0.0.
func NewTCPStreamLayer(bindAddr string, advertiseAddr string) (*TCPStreamLayer, error) {
	l, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	listener := l.(*net.TCPListener)

	advertise, err := resolveAdvertise(listener, advertiseAddr)
	if err != nil {
		listener.Close()
		return nil, err
	}

	return &TCPStreamLayer{
		listener:  listener,
		advertise: advertise,
	}, nil
}

func resolveAdvertise(listener *net.TCPListener, advertiseAddr string) (*net.TCPAddr, error) {
	var addr net.Addr = listener.Addr()
	if advertiseAddr != "" {
		resolved, err := net.ResolveTCPAddr("tcp", advertiseAddr)
		if err != nil {
			return nil, err
		}
		addr = resolved
	}

	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, errNotTCP
	}
	if tcpAddr.IP.IsUnspecified() {
		return nil, errNotAdvertisable
	}
	return tcpAddr, nil
}

func tune(conn *net.TCPConn) *net.TCPConn {
	conn.SetNoDelay(true)
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(tcpKeepAlive)
	return conn
}

// Dial implements StreamLayer.
func (t *TCPStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout, KeepAlive: tcpKeepAlive}
	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	return tune(conn.(*net.TCPConn)), nil
}

// Accept implements net.Listener.
func (t *TCPStreamLayer) Accept() (net.Conn, error) {
	conn, err := t.listener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	return tune(conn), nil
}

// Close stops listening. Open connections are left alone.
func (t *TCPStreamLayer) Close() error {
	return t.listener.Close()
}

// Addr implements net.Listener.
func (t *TCPStreamLayer) Addr() net.Addr {
	return t.listener.Addr()
}

// AdvertiseAddr implements StreamLayer.
func (t *TCPStreamLayer) AdvertiseAddr() string {
	return t.advertise.String()
}
