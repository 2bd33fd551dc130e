package net

import (
	"net"
	"testing"
	"time"

	"github.com/mosaicnetworks/ledgerd/src/common"
)

func TestTCPTransport_BadAddr(t *testing.T) {
	_, err := NewTCPTransport("0.0.0.0:0", "", time.Second, common.NewTestEntry(t, "net"))
	if err != errNotAdvertisable {
		t.Fatalf("err: %v", err)
	}
}

func TestTCPTransport_WithAdvertise(t *testing.T) {
	trans, err := NewTCPTransport("0.0.0.0:0", "127.0.0.1:12345", time.Second, common.NewTestEntry(t, "net"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer trans.Close()
	if trans.AdvertiseAddr() != "127.0.0.1:12345" {
		t.Fatalf("bad: %v", trans.AdvertiseAddr())
	}
}

func TestTCPTransport_ListenDial(t *testing.T) {
	trans1, err := NewTCPTransport("127.0.0.1:0", "", time.Second, common.NewTestEntry(t, "net"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer trans1.Close()

	accepted := make(chan net.Conn, 1)
	go trans1.Listen(func(c net.Conn) { accepted <- c })

	trans2, err := NewTCPTransport("127.0.0.1:0", "", time.Second, common.NewTestEntry(t, "net"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer trans2.Close()

	conn, err := trans2.Dial(trans1.AdvertiseAddr())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer conn.Close()

	select {
	case c := <-accepted:
		c.Close()
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for inbound connection")
	}

	trans1.Close()
	if !trans1.IsShutdown() {
		t.Fatalf("transport should be shut down")
	}
	if _, err := trans1.Dial(trans2.AdvertiseAddr()); err != ErrTransportShutdown {
		t.Fatalf("Dial after Close should return ErrTransportShutdown, got %v", err)
	}
}
