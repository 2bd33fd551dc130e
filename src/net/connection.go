package net

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mosaicnetworks/ledgerd/src/protocol"
	"github.com/sirupsen/logrus"
)

const (
	// we read and write whole frames through buffers of this size
	bufSize = 64 * 1024
	// incoming frames waiting for the owner
	recvQueueSize = 64
)

var (
	// ErrSendQueueFull aborts a connection whose peer does not drain its send
	// queue fast enough.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrIdleTimeout closes a connection which has not received anything for
	// longer than the idle timeout.
	ErrIdleTimeout = errors.New("idle timeout")
	// ErrConnectionClosed is returned by operations on a closed Connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// ConnectionConfig ...
type ConnectionConfig struct {
	Magic         uint32
	IdleTimeout   time.Duration
	WriteTimeout  time.Duration
	SendQueueSize int
}

// Connection owns one stream. It frames outgoing messages from a bounded
// queue and decodes incoming frames into a channel. It closes itself on any
// stream error, protocol error, idle timeout or send queue overflow, and
// reports the cause through Err once Done is closed.
type Connection struct {
	conn    net.Conn
	conf    ConnectionConfig
	inbound bool
	logger  *logrus.Entry

	sendCh chan *protocol.Message
	recvCh chan *protocol.Message

	closeOnce  sync.Once
	errLock    sync.Mutex
	err        error
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewConnection wraps conn and starts its reader and writer goroutines.
func NewConnection(conn net.Conn, inbound bool, conf ConnectionConfig, logger *logrus.Entry) *Connection {
	if conf.SendQueueSize <= 0 {
		conf.SendQueueSize = 100
	}

	c := &Connection{
		conn:       conn,
		conf:       conf,
		inbound:    inbound,
		logger:     logger.WithField("remote", conn.RemoteAddr().String()),
		sendCh:     make(chan *protocol.Message, conf.SendQueueSize),
		recvCh:     make(chan *protocol.Message, recvQueueSize),
		shutdownCh: make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	return c
}

// RemoteAddr ...
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// LocalAddr ...
func (c *Connection) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

// Inbound reports whether the remote end dialled us.
func (c *Connection) Inbound() bool {
	return c.inbound
}

// Send queues msg for writing. If the queue is over its watermark the message
// is dropped and the connection is aborted.
func (c *Connection) Send(msg *protocol.Message) error {
	select {
	case <-c.shutdownCh:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.sendCh <- msg:
		return nil
	default:
		c.logger.WithFields(logrus.Fields{
			"command": msg.Command,
			"queued":  len(c.sendCh),
		}).Warn("Send queue full, aborting connection")
		c.closeWithError(ErrSendQueueFull)
		return ErrSendQueueFull
	}
}

// Incoming delivers decoded frames in arrival order. It is never closed; use
// Done to detect the end of the connection.
func (c *Connection) Incoming() <-chan *protocol.Message {
	return c.recvCh
}

// Receive suspends until a frame is available or the connection closes.
func (c *Connection) Receive() (*protocol.Message, error) {
	select {
	case msg := <-c.recvCh:
		return msg, nil
	case <-c.shutdownCh:
		return nil, c.Err()
	}
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.shutdownCh
}

// Err returns the reason the connection closed, or nil while it is open.
func (c *Connection) Err() error {
	c.errLock.Lock()
	defer c.errLock.Unlock()
	return c.err
}

// Close closes the connection and waits for its goroutines.
func (c *Connection) Close() error {
	c.closeWithError(ErrConnectionClosed)
	c.wg.Wait()
	return nil
}

func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errLock.Lock()
		c.err = err
		c.errLock.Unlock()

		close(c.shutdownCh)
		c.conn.Close()
	})
}

func (c *Connection) readLoop() {
	defer c.wg.Done()

	r := bufio.NewReaderSize(c.conn, bufSize)

	for {
		if c.conf.IdleTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.conf.IdleTimeout))
		}

		msg, err := protocol.ReadMessage(r, c.conf.Magic)
		if err != nil {
			c.closeWithError(c.classifyReadError(err))
			return
		}

		select {
		case c.recvCh <- msg:
		case <-c.shutdownCh:
			return
		}
	}
}

func (c *Connection) classifyReadError(err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		c.logger.Debug("Idle timeout")
		return ErrIdleTimeout
	case protocol.IsViolation(err):
		c.logger.WithField("error", err).Warn("Protocol violation")
		return err
	case err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF):
		return io.EOF
	default:
		select {
		case <-c.shutdownCh:
		default:
			c.logger.WithField("error", err).Debug("Read failed")
		}
		return err
	}
}

func (c *Connection) writeLoop() {
	defer c.wg.Done()

	w := bufio.NewWriterSize(c.conn, bufSize)

	for {
		select {
		case msg := <-c.sendCh:
			if c.conf.WriteTimeout > 0 {
				c.conn.SetWriteDeadline(time.Now().Add(c.conf.WriteTimeout))
			}
			if err := protocol.WriteMessage(w, c.conf.Magic, msg); err != nil {
				c.closeWithError(err)
				return
			}
			// batch whatever is already queued before flushing
			if len(c.sendCh) == 0 {
				if err := w.Flush(); err != nil {
					c.closeWithError(err)
					return
				}
			}
		case <-c.shutdownCh:
			return
		}
	}
}
