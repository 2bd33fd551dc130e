package net

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

// Transport accepts inbound and dials outbound connections on a
// StreamLayer.
type Transport struct {
	logger *logrus.Entry

	stream      StreamLayer
	dialTimeout time.Duration

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

// NewTransport creates a new transport over stream.
func NewTransport(stream StreamLayer, dialTimeout time.Duration, logger *logrus.Entry) *Transport {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Transport{
		logger:      logger,
		stream:      stream,
		dialTimeout: dialTimeout,
		shutdownCh:  make(chan struct{}),
	}
}

// Listen accepts incoming connections until the transport is closed, handing
// each one to handler in its own goroutine.
func (t *Transport) Listen(handler func(net.Conn)) {
	for {
		conn, err := t.stream.Accept()
		if err != nil {
			if t.IsShutdown() {
				return
			}
			t.logger.WithField("error", err).Error("Failed to accept connection")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		t.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("accepted connection")

		go handler(conn)
	}
}

// Dial opens an outbound connection.
func (t *Transport) Dial(address string) (net.Conn, error) {
	if t.IsShutdown() {
		return nil, ErrTransportShutdown
	}
	return t.stream.Dial(address, t.dialTimeout)
}

// LocalAddr returns the address the transport listens on.
func (t *Transport) LocalAddr() string {
	addr := t.stream.Addr()

	if addr != nil {
		return addr.String()
	}

	return ""
}

// AdvertiseAddr returns the address where other nodes can reach us.
func (t *Transport) AdvertiseAddr() string {
	return t.stream.AdvertiseAddr()
}

// IsShutdown is used to check if the transport is shutdown.
func (t *Transport) IsShutdown() bool {
	select {
	case <-t.shutdownCh:
		return true
	default:
		return false
	}
}

// Close stops the listener. Connections already handed out are owned by
// their callers.
func (t *Transport) Close() error {
	t.shutdownLock.Lock()
	defer t.shutdownLock.Unlock()

	if !t.shutdown {
		close(t.shutdownCh)
		t.shutdown = true
		return t.stream.Close()
	}
	return nil
}
