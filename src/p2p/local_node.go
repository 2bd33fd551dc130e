package p2p

import (
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/ledgerd/src/blockchain"
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/mailbox"
	lnet "github.com/mosaicnetworks/ledgerd/src/net"
	"github.com/mosaicnetworks/ledgerd/src/peers"
	"github.com/mosaicnetworks/ledgerd/src/protocol"
	"github.com/mosaicnetworks/ledgerd/src/version"
)

// LocalNode wires the ledger to the network. It announces accepted items to
// every ready peer, serves getdata from the ledger and a cache of recently
// relayed items, and reports misbehaving peers.
type LocalNode struct {
	conf      *Config
	chain     Ledger
	consensus Consensus
	transport *lnet.Transport

	peer  *Peer
	tasks *TaskManager

	nonce     uint32
	userAgent string
	port      uint16

	relayCache *expirable.LRU[common.Hash, ledger.Inventory]
	inbox      *mailbox.Mailbox[interface{}]

	onRelayResult      func(ledger.Inventory, blockchain.RelayResult)
	onBlockPersisted   func(*ledger.Block)
	onHeadersPersisted func(uint32)

	now          func() time.Time
	startOnce    sync.Once
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	wg           sync.WaitGroup

	logger *logrus.Entry
}

type (
	// an item this node accepted, to announce
	relayedMsg struct {
		inv ledger.Inventory
	}
	// a transaction from a peer the ledger accepted, for consensus
	acceptedTxMsg struct {
		tx *ledger.Transaction
	}
	// the ledger's verdict on an item received from node
	originMsg struct {
		node *RemoteNode
		inv  ledger.Inventory
		res  blockchain.RelayResult
	}
)

func isLocalPriority(msg interface{}) bool {
	m, ok := msg.(relayedMsg)
	return ok && m.inv.Type != ledger.InvTransaction
}

// NewLocalNode creates a node relaying chain over transport. consensus may be
// nil. Endpoints are loaded from and saved to book when it is not nil.
func NewLocalNode(conf *Config,
	chain Ledger,
	consensus Consensus,
	transport *lnet.Transport,
	book peers.AddressBook,
	logger *logrus.Entry) *LocalNode {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	ttl := conf.KnownHashesTTL
	if ttl <= 0 {
		ttl = DefaultKnownHashesTTL
	}

	l := &LocalNode{
		conf:       conf,
		chain:      chain,
		consensus:  consensus,
		transport:  transport,
		nonce:      randomNonce(),
		userAgent:  version.UserAgent(),
		relayCache: expirable.NewLRU[common.Hash, ledger.Inventory](conf.KnownHashesSize, nil, ttl),
		inbox: mailbox.New[interface{}](conf.MailboxSize,
			mailbox.WithPriority(isLocalPriority)),
		now:        time.Now,
		shutdownCh: make(chan struct{}),
		logger:     logger,
	}

	if ep, err := peers.ParseEndpoint(transport.AdvertiseAddr()); err == nil {
		l.port = ep.Port
	}

	l.tasks = NewTaskManager(conf, chain, logger)
	l.peer = newPeer(l, transport, book)

	l.onRelayResult = func(inv ledger.Inventory, res blockchain.RelayResult) {
		if res.Reason == blockchain.Succeed {
			l.post(relayedMsg{inv})
		}
	}
	l.onBlockPersisted = func(*ledger.Block) {
		l.tasks.BlockPersisted()
	}
	l.onHeadersPersisted = func(uint32) {
		l.tasks.BlockPersisted()
	}

	return l
}

// Start subscribes to ledger events and starts accepting and dialling
// connections.
func (l *LocalNode) Start() error {
	var err error
	l.startOnce.Do(func() {
		events := l.chain.Events()
		if err = events.Subscribe(blockchain.TopicRelayResult, l.onRelayResult); err != nil {
			return
		}
		if err = events.Subscribe(blockchain.TopicBlockPersisted, l.onBlockPersisted); err != nil {
			return
		}
		if err = events.Subscribe(blockchain.TopicHeadersPersisted, l.onHeadersPersisted); err != nil {
			return
		}

		l.tasks.Start()

		l.wg.Add(1)
		go l.run()

		l.peer.Start()

		if l.conf.UPnP && l.port != 0 {
			go func() {
				ep, err := mapPort(l.port, l.logger)
				if err != nil {
					l.logger.WithError(err).Warn("UPnP port mapping failed")
					return
				}
				l.peer.setExternal(ep)
			}()
		}

		l.logger.WithFields(logrus.Fields{
			"nonce":      l.nonce,
			"user_agent": l.userAgent,
			"listen":     l.transport.LocalAddr(),
		}).Info("Local node started")
	})
	return err
}

// Shutdown closes every connection, stops the task manager and saves the
// address book.
func (l *LocalNode) Shutdown() {
	l.shutdownOnce.Do(func() {
		close(l.shutdownCh)

		events := l.chain.Events()
		_ = events.Unsubscribe(blockchain.TopicRelayResult, l.onRelayResult)
		_ = events.Unsubscribe(blockchain.TopicBlockPersisted, l.onBlockPersisted)
		_ = events.Unsubscribe(blockchain.TopicHeadersPersisted, l.onHeadersPersisted)

		l.peer.Shutdown()
		l.tasks.Shutdown()
		l.inbox.Close()
		l.wg.Wait()
	})
}

func (l *LocalNode) post(msg interface{}) {
	if err := l.inbox.Post(msg); err != nil {
		l.logger.WithError(err).Debug("Dropped local node message")
	}
}

func (l *LocalNode) run() {
	defer l.wg.Done()
	for {
		msg, ok := l.inbox.Receive(l.shutdownCh)
		if !ok {
			return
		}
		switch m := msg.(type) {
		case relayedMsg:
			l.broadcastInv(m.inv)
		case acceptedTxMsg:
			l.consensus.OnTransaction(m.tx)
		case originMsg:
			l.handleOrigin(m)
		}
	}
}

//==============================================================================
// Relay

// Relay submits an item created locally to the ledger. Accepted items are
// announced to every peer.
func (l *LocalNode) Relay(inv ledger.Inventory) blockchain.RelayResult {
	res := l.chain.Relay(inv)
	if res.Reason == blockchain.Succeed && inv.Type == ledger.InvTransaction && l.consensus != nil {
		l.consensus.OnTransaction(inv.Tx)
	}
	return res
}

// RelayDirectly announces inv without submitting it to the ledger. Peers
// fetching it are served from the relay cache.
func (l *LocalNode) RelayDirectly(inv ledger.Inventory) {
	l.relayCache.Add(inv.Hash(), inv)
	l.broadcastInv(inv)
}

// SendDirectly sends msg to every ready peer.
func (l *LocalNode) SendDirectly(msg *protocol.Message) {
	for _, node := range l.peer.ReadyNodes() {
		node.SendMessage(msg)
	}
}

func (l *LocalNode) broadcastInv(inv ledger.Inventory) {
	hash := inv.Hash()
	l.relayCache.Add(hash, inv)

	nodes := l.peer.ReadyNodes()
	for _, node := range nodes {
		node.SendInv(inv.Type, []common.Hash{hash})
	}

	l.logger.WithFields(logrus.Fields{
		"type":  inv.Type,
		"hash":  hash.Short(),
		"peers": len(nodes),
	}).Debug("Relayed")
}

// relayFrom submits an item received from node to the ledger.
func (l *LocalNode) relayFrom(node *RemoteNode, inv ledger.Inventory) {
	err := l.chain.Post(inv, func(res blockchain.RelayResult) {
		if res.Reason == blockchain.Succeed && inv.Type == ledger.InvTransaction && l.consensus != nil {
			l.post(acceptedTxMsg{inv.Tx})
		}
		if res.Accepted() {
			return
		}
		l.post(originMsg{node: node, inv: inv, res: res})
	})
	if err != nil {
		l.logger.WithError(err).Debug("Posting to ledger")
	}
}

func (l *LocalNode) handleOrigin(m originMsg) {
	entry := l.logger.WithFields(logrus.Fields{
		"peer":   m.node.RemoteAddr(),
		"result": m.res,
	})

	switch m.res.Reason {
	case blockchain.Invalid:
		entry.Debug("Peer relayed invalid item")
		m.node.misbehaved()
	case blockchain.Orphan:
		if m.inv.Block != nil && m.inv.Block.Index() > l.chain.HeaderHeight() {
			l.tasks.RequestBlocks(m.node)
		}
	default:
		entry.Debug("Item not accepted")
	}
}

// filterUnknown returns the hashes neither the ledger nor the relay cache
// has, and which were not rejected before.
func (l *LocalNode) filterUnknown(typ ledger.InventoryType, hashes []common.Hash) []common.Hash {
	res := make([]common.Hash, 0, len(hashes))
	for _, h := range hashes {
		if l.relayCache.Contains(h) || l.chain.IsRejected(h) {
			continue
		}

		var known bool
		switch typ {
		case ledger.InvTransaction:
			known = l.chain.ContainsTransaction(h)
		case ledger.InvBlock:
			known = l.chain.ContainsBlock(h)
		case ledger.InvConsensus:
			_, known = l.chain.GetConsensusPayload(h)
		}
		if !known {
			res = append(res, h)
		}
	}
	return res
}

// lookupInventory finds an item to answer getdata.
func (l *LocalNode) lookupInventory(typ ledger.InventoryType, hash common.Hash) (ledger.Inventory, bool) {
	if inv, ok := l.relayCache.Get(hash); ok && inv.Type == typ {
		return inv, true
	}

	switch typ {
	case ledger.InvTransaction:
		if tx, err := l.chain.GetTransaction(hash); err == nil {
			return ledger.TxInventory(tx), true
		}
	case ledger.InvBlock:
		if b, err := l.chain.GetBlock(hash); err == nil {
			return ledger.BlockInventory(b), true
		}
	case ledger.InvConsensus:
		if p, ok := l.chain.GetConsensusPayload(hash); ok {
			return ledger.ConsensusInventory(p), true
		}
	}
	return ledger.Inventory{}, false
}

func (l *LocalNode) versionPayload() *protocol.VersionPayload {
	return &protocol.VersionPayload{
		Version:     protocol.ProtocolVersion,
		Services:    protocol.ServiceFullNode,
		Timestamp:   l.now().Unix(),
		Port:        l.port,
		Nonce:       l.nonce,
		UserAgent:   l.userAgent,
		StartHeight: l.chain.Height(),
		Relay:       true,
	}
}

//==============================================================================
// Status

// PeerInfo describes one connection.
type PeerInfo struct {
	Endpoint   string
	RemoteAddr string
	Inbound    bool
	State      string
	Height     uint32
	UserAgent  string
}

// Peers describes the connected nodes.
func (l *LocalNode) Peers() []PeerInfo {
	nodes := l.peer.ReadyNodes()
	res := make([]PeerInfo, 0, len(nodes))
	for _, n := range nodes {
		info := PeerInfo{
			RemoteAddr: n.RemoteAddr(),
			Inbound:    n.Inbound(),
			State:      n.State().String(),
			Height:     n.Height(),
		}
		if ep := n.Endpoint(); !ep.IsZero() {
			info.Endpoint = ep.String()
		}
		if v := n.Version(); v != nil {
			info.UserAgent = v.UserAgent
		}
		res = append(res, info)
	}
	return res
}

// ConnectedCount is the number of open connections, handshaking or ready.
func (l *LocalNode) ConnectedCount() int {
	return l.peer.ConnectedCount()
}

// UnconnectedCount is the number of candidate endpoints.
func (l *LocalNode) UnconnectedCount() int {
	return l.peer.UnconnectedCount()
}

// PendingTasks is the number of items waiting to be fetched.
func (l *LocalNode) PendingTasks() int {
	return l.tasks.Pending()
}

// AddCandidates adds endpoints to dial.
func (l *LocalNode) AddCandidates(eps []peers.Endpoint) {
	l.peer.AddCandidates(eps)
}

// Nonce identifies this node in version messages.
func (l *LocalNode) Nonce() uint32 {
	return l.nonce
}

// UserAgent ...
func (l *LocalNode) UserAgent() string {
	return l.userAgent
}

func randomNonce() uint32 {
	return rand.Uint32()
}
