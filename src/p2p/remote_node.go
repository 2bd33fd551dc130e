package p2p

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/mailbox"
	lnet "github.com/mosaicnetworks/ledgerd/src/net"
	"github.com/mosaicnetworks/ledgerd/src/peers"
	"github.com/mosaicnetworks/ledgerd/src/protocol"
)

var (
	// ErrSelfConnection is the reason for closing a connection to ourselves.
	ErrSelfConnection = errors.New("connected to self")
	// ErrDuplicateConnection is the reason for closing a second connection to
	// the same node.
	ErrDuplicateConnection = errors.New("duplicate connection")
	// ErrHandshakeTimeout is the reason for closing a connection which did
	// not complete the handshake in time.
	ErrHandshakeTimeout = errors.New("handshake timeout")
	// ErrMisbehaving is the reason for closing a connection to a peer which
	// sent too many invalid items.
	ErrMisbehaving = errors.New("too many invalid items")

	errNodeShutdown = errors.New("node shutting down")
)

// maxInvalidItems is the number of Invalid items a peer may relay before it
// is disconnected.
const maxInvalidItems = 20

// isBadPeerError reports whether a connection closed for err should never be
// redialled.
func isBadPeerError(err error) bool {
	return protocol.IsViolation(err) ||
		errors.Is(err, ErrSelfConnection) ||
		errors.Is(err, ErrMisbehaving)
}

func isHandshakeCommand(msg *protocol.Message) bool {
	switch msg.Command {
	case protocol.CmdVersion, protocol.CmdVerAck, protocol.CmdConsensus:
		return true
	}
	return false
}

// Requests whose answer does not change while one is queued are dropped.
func droppableCommand(msg *protocol.Message) (string, bool) {
	switch msg.Command {
	case protocol.CmdGetAddr, protocol.CmdGetBlocks, protocol.CmdGetHeaders:
		return msg.Command, true
	}
	return "", false
}

// RemoteNode runs the protocol with one peer. It owns the Connection; its
// goroutine moves decoded frames into a priority mailbox and handles them
// one at a time. The Send/Request methods may be called from any goroutine.
type RemoteNode struct {
	remoteState

	local *LocalNode
	conn  *lnet.Connection
	conf  *Config

	// host part of the remote address, used for per-address limits
	remoteHost string

	l        sync.RWMutex
	endpoint peers.Endpoint
	version  *protocol.VersionPayload

	height   uint32
	invalid  int32
	known    *knownHashes
	inbox    *mailbox.Mailbox[*protocol.Message]
	inflight int32

	disconnectOnce sync.Once
	disconnectErr  error
	shutdownCh     chan struct{}
	doneCh         chan struct{}

	logger *logrus.Entry
}

// newRemoteNode wraps conn. endpoint is the dialled endpoint of outbound
// connections, and is learnt from the version of inbound ones.
func newRemoteNode(local *LocalNode, conn net.Conn, inbound bool, endpoint peers.Endpoint) *RemoteNode {
	conf := local.conf

	c := lnet.NewConnection(conn, inbound, lnet.ConnectionConfig{
		Magic:         conf.Magic,
		IdleTimeout:   conf.IdleTimeout,
		WriteTimeout:  conf.DialTimeout,
		SendQueueSize: conf.SendQueueSize,
	}, local.logger)

	r := &RemoteNode{
		local:      local,
		conn:       c,
		conf:       conf,
		remoteHost: hostOf(conn.RemoteAddr().String()),
		endpoint:   endpoint,
		known:      newKnownHashes(conf.KnownHashesSize),
		inbox: mailbox.New[*protocol.Message](conf.MailboxSize,
			mailbox.WithPriority(isHandshakeCommand),
			mailbox.WithDropDuplicates(droppableCommand)),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	r.logger = local.logger.WithFields(logrus.Fields{
		"peer":    c.RemoteAddr(),
		"inbound": inbound,
	})

	return r
}

// Start sends our version and runs the protocol until the connection closes.
func (r *RemoteNode) Start() {
	go r.run()
}

// Disconnect closes the connection for reason err. It does not wait.
func (r *RemoteNode) Disconnect(err error) {
	r.disconnectOnce.Do(func() {
		r.disconnectErr = err
		close(r.shutdownCh)
	})
}

// Done is closed once the node is disconnected and its pools are released.
func (r *RemoteNode) Done() <-chan struct{} {
	return r.doneCh
}

// RemoteAddr is the address of the other end of the connection.
func (r *RemoteNode) RemoteAddr() string {
	return r.conn.RemoteAddr()
}

// Inbound ...
func (r *RemoteNode) Inbound() bool {
	return r.conn.Inbound()
}

// State ...
func (r *RemoteNode) State() RemoteState {
	return r.getState()
}

// Endpoint is the endpoint the peer listens on; zero until known.
func (r *RemoteNode) Endpoint() peers.Endpoint {
	r.l.RLock()
	defer r.l.RUnlock()
	return r.endpoint
}

func (r *RemoteNode) setEndpoint(ep peers.Endpoint) {
	r.l.Lock()
	defer r.l.Unlock()
	r.endpoint = ep
}

// Version returns the peer's version payload, nil before the handshake.
func (r *RemoteNode) Version() *protocol.VersionPayload {
	r.l.RLock()
	defer r.l.RUnlock()
	return r.version
}

// Height is the best block height the peer has told us about.
func (r *RemoteNode) Height() uint32 {
	return atomic.LoadUint32(&r.height)
}

func (r *RemoteNode) updateHeight(h uint32) bool {
	for {
		cur := atomic.LoadUint32(&r.height)
		if h <= cur {
			return false
		}
		if atomic.CompareAndSwapUint32(&r.height, cur, h) {
			return true
		}
	}
}

func (r *RemoteNode) wantsRelay() bool {
	v := r.Version()
	return v == nil || v.Relay
}

//==============================================================================
// Run loop

func (r *RemoteNode) run() {
	var err error
	defer func() { r.cleanup(err) }()

	r.setState(Connecting)
	if err = r.sendVersion(); err != nil {
		return
	}
	r.setState(VersionSent)

	handshake := time.NewTimer(r.conf.HandshakeTimeout)
	defer handshake.Stop()

	pingInterval := r.conf.PingInterval
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case msg := <-r.conn.Incoming():
			r.enqueue(msg)
			r.drainIncoming()
		case <-r.inbox.Ready():
		case <-handshake.C:
			if r.getState() != Ready {
				err = ErrHandshakeTimeout
				return
			}
		case <-ping.C:
			if r.getState() == Ready {
				r.sendPing(protocol.CmdPing, randomNonce())
			}
		case <-r.conn.Done():
			err = r.conn.Err()
			return
		case <-r.shutdownCh:
			err = r.disconnectErr
			return
		}

		for {
			msg, ok := r.inbox.TryReceive()
			if !ok {
				break
			}
			if err = r.handleMessage(msg); err != nil {
				return
			}

			select {
			case <-r.shutdownCh:
				err = r.disconnectErr
				return
			default:
			}

			r.drainIncoming()
		}
	}
}

// drainIncoming moves the frames already decoded into the mailbox so that
// priorities apply across them.
func (r *RemoteNode) drainIncoming() {
	for i := 0; i < r.conf.MailboxSize; i++ {
		select {
		case msg := <-r.conn.Incoming():
			r.enqueue(msg)
		default:
			return
		}
	}
}

func (r *RemoteNode) enqueue(msg *protocol.Message) {
	switch err := r.inbox.Post(msg); {
	case err == nil:
	case errors.Is(err, mailbox.ErrDuplicate):
		r.logger.WithField("command", msg.Command).Debug("Dropped duplicate request")
	default:
		r.logger.WithFields(logrus.Fields{
			"command": msg.Command,
			"error":   err,
		}).Warn("Dropped message")
	}
}

func (r *RemoteNode) cleanup(err error) {
	r.setState(Disconnected)
	r.inbox.Close()
	r.conn.Close()

	fields := logrus.Fields{"reason": err}
	if isBadPeerError(err) {
		r.logger.WithFields(fields).Warn("Disconnected")
	} else {
		r.logger.WithFields(fields).Debug("Disconnected")
	}

	r.local.tasks.Unregister(r)
	r.local.peer.onDisconnect(r, err)

	close(r.doneCh)
}

//==============================================================================
// Sending

// send encodes and queues a message. Failures are logged; a full send queue
// aborts the connection, which the run loop then notices.
func (r *RemoteNode) send(cmd string, payload interface{}) bool {
	msg, err := protocol.NewMessage(cmd, payload)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"command": cmd,
			"error":   err,
		}).Error("Encoding message")
		return false
	}
	return r.SendMessage(msg)
}

// SendMessage queues a raw message.
func (r *RemoteNode) SendMessage(msg *protocol.Message) bool {
	if err := r.conn.Send(msg); err != nil {
		r.logger.WithFields(logrus.Fields{
			"command": msg.Command,
			"error":   err,
		}).Debug("Send failed")
		return false
	}
	return true
}

func (r *RemoteNode) sendVersion() error {
	v := r.local.versionPayload()
	msg, err := protocol.NewMessage(protocol.CmdVersion, v)
	if err != nil {
		return err
	}
	return r.conn.Send(msg)
}

func (r *RemoteNode) sendPing(cmd string, nonce uint32) {
	r.send(cmd, &protocol.PingPayload{
		LastBlockIndex: r.local.chain.Height(),
		Timestamp:      time.Now().Unix(),
		Nonce:          nonce,
	})
}

// SendInv announces hashes the peer does not already know. Transactions are
// not announced to peers which asked not to receive them.
func (r *RemoteNode) SendInv(typ ledger.InventoryType, hashes []common.Hash) {
	if r.getState() != Ready {
		return
	}
	if typ == ledger.InvTransaction && !r.wantsRelay() {
		return
	}

	unknown := make([]common.Hash, 0, len(hashes))
	for _, h := range hashes {
		if !r.known.Contains(h) {
			unknown = append(unknown, h)
		}
	}
	r.known.Add(unknown...)

	for _, chunk := range chunkHashes(unknown, protocol.MaxInvHashes) {
		r.send(protocol.CmdInv, &protocol.InvPayload{Type: typ, Hashes: chunk})
	}
}

// RequestData asks the peer for the full items.
func (r *RemoteNode) RequestData(typ ledger.InventoryType, hashes []common.Hash) {
	for _, chunk := range chunkHashes(hashes, protocol.MaxInvHashes) {
		r.send(protocol.CmdGetData, &protocol.InvPayload{Type: typ, Hashes: chunk})
	}
}

// RequestHeaders sends getheaders with locator.
func (r *RemoteNode) RequestHeaders(locator []common.Hash) {
	r.send(protocol.CmdGetHeaders, &protocol.GetBlocksPayload{HashStart: trimLocator(locator)})
}

// RequestBlocks sends getblocks with locator.
func (r *RemoteNode) RequestBlocks(locator []common.Hash) {
	r.send(protocol.CmdGetBlocks, &protocol.GetBlocksPayload{HashStart: trimLocator(locator)})
}

// RequestAddresses sends getaddr.
func (r *RemoteNode) RequestAddresses() {
	r.send(protocol.CmdGetAddr, nil)
}

func (r *RemoteNode) sendInventory(inv ledger.Inventory) {
	r.known.Add(inv.Hash())
	switch inv.Type {
	case ledger.InvTransaction:
		r.send(protocol.CmdTx, inv.Tx)
	case ledger.InvBlock:
		r.send(protocol.CmdBlock, inv.Block)
	case ledger.InvConsensus:
		r.send(protocol.CmdConsensus, inv.Consensus)
	}
}

// misbehaved counts an Invalid item relayed by the peer.
func (r *RemoteNode) misbehaved() {
	if atomic.AddInt32(&r.invalid, 1) >= maxInvalidItems {
		r.Disconnect(ErrMisbehaving)
	}
}

func chunkHashes(hashes []common.Hash, size int) [][]common.Hash {
	var chunks [][]common.Hash
	for len(hashes) > size {
		chunks = append(chunks, hashes[:size])
		hashes = hashes[size:]
	}
	if len(hashes) > 0 {
		chunks = append(chunks, hashes)
	}
	return chunks
}

func trimLocator(locator []common.Hash) []common.Hash {
	if len(locator) > protocol.MaxLocatorHashes {
		return locator[:protocol.MaxLocatorHashes]
	}
	return locator
}
