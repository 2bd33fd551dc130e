package p2p

import (
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	lnet "github.com/mosaicnetworks/ledgerd/src/net"
	"github.com/mosaicnetworks/ledgerd/src/peers"
)

// Peer maintains the pools of known endpoints and live connections. It
// accepts inbound connections, dials candidates to keep ConnectedMax
// connections open, and remembers endpoints which must not be dialled again.
type Peer struct {
	conf      *Config
	local     *LocalNode
	transport *lnet.Transport
	book      peers.AddressBook
	seeds     []peers.Endpoint
	self      peers.Endpoint

	l            sync.Mutex
	connected    map[*RemoteNode]struct{}
	connecting   map[peers.Endpoint]struct{}
	unconnected  map[peers.Endpoint]struct{}
	dialFailures map[peers.Endpoint]int
	listeners    map[peers.Endpoint]*RemoteNode
	nonces       map[uint32]*RemoteNode
	bad          *lru.Cache[peers.Endpoint, struct{}]
	external     peers.Endpoint
	shutdown     bool

	timer   *ControlTimer
	dialers routines
	wg      sync.WaitGroup

	logger *logrus.Entry
}

func newPeer(local *LocalNode, transport *lnet.Transport, book peers.AddressBook) *Peer {
	conf := local.conf

	badSize := conf.BadPeersSize
	if badSize <= 0 {
		badSize = DefaultBadPeersSize
	}
	bad, _ := lru.New[peers.Endpoint, struct{}](badSize)

	p := &Peer{
		conf:         conf,
		local:        local,
		transport:    transport,
		book:         book,
		connected:    make(map[*RemoteNode]struct{}),
		connecting:   make(map[peers.Endpoint]struct{}),
		unconnected:  make(map[peers.Endpoint]struct{}),
		dialFailures: make(map[peers.Endpoint]int),
		listeners:    make(map[peers.Endpoint]*RemoteNode),
		nonces:       make(map[uint32]*RemoteNode),
		bad:          bad,
		timer:        NewRandomControlTimer(),
		dialers:      routines{limit: int32(conf.ConnectedMax)},
		logger:       local.logger.WithField("component", "peer"),
	}

	if self, err := peers.ParseEndpoint(transport.AdvertiseAddr()); err == nil {
		p.self = self
	}

	for _, s := range conf.SeedList {
		ep, err := peers.ParseEndpoint(s)
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"seed":  s,
				"error": err,
			}).Warn("Ignoring seed")
			continue
		}
		if ep != p.self {
			p.seeds = append(p.seeds, ep)
		}
	}

	return p
}

// Start loads the address book, accepts connections and starts the
// maintenance loop.
func (p *Peer) Start() {
	if p.book != nil {
		eps, err := p.book.Endpoints()
		if err != nil {
			p.logger.WithError(err).Error("Reading address book")
		}
		p.AddCandidates(eps)
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.transport.Listen(p.onInbound)
	}()
	go func() {
		defer p.wg.Done()
		p.maintenanceLoop()
	}()
	go p.timer.Run(time.Millisecond)
}

func (p *Peer) maintenanceLoop() {
	for {
		select {
		case <-p.timer.Tick():
			p.maintain()
			p.timer.Reset(p.conf.MaintenanceInterval)
		case <-p.local.shutdownCh:
			return
		}
	}
}

//==============================================================================
// Connections

func (p *Peer) onInbound(conn net.Conn) {
	host := hostOf(conn.RemoteAddr().String())

	p.l.Lock()
	var reason string
	switch {
	case p.shutdown:
		reason = "shutting down"
	case len(p.connected) >= p.conf.ConnectedMax:
		reason = "connection limit"
	case p.hostCountLocked(host) >= p.conf.MaxConnectionsPerAddress:
		reason = "per address limit"
	}
	if reason != "" {
		p.l.Unlock()
		p.logger.WithFields(logrus.Fields{
			"from":   conn.RemoteAddr(),
			"reason": reason,
		}).Debug("Refusing connection")
		conn.Close()
		return
	}

	node := newRemoteNode(p.local, conn, true, peers.Endpoint{})
	p.connected[node] = struct{}{}
	p.l.Unlock()

	node.Start()
}

// maintain dials candidates until the connected pool is full.
func (p *Peer) maintain() {
	p.l.Lock()
	if p.shutdown {
		p.l.Unlock()
		return
	}

	missing := p.conf.ConnectedMax - len(p.connected) - len(p.connecting)
	if missing <= 0 {
		p.l.Unlock()
		return
	}

	candidates := p.candidatesLocked(missing)
	for _, ep := range candidates {
		delete(p.unconnected, ep)
		p.connecting[ep] = struct{}{}
	}
	p.l.Unlock()

	for i, ep := range candidates {
		ep := ep
		if !p.dialers.goFunc(func() { p.dial(ep) }) {
			p.l.Lock()
			for _, rest := range candidates[i:] {
				delete(p.connecting, rest)
				p.addUnconnectedLocked(rest)
			}
			p.l.Unlock()
			break
		}
	}

	if len(candidates) < missing {
		p.NeedMorePeers(missing - len(candidates))
	}
}

func (p *Peer) candidatesLocked(max int) []peers.Endpoint {
	all := make([]peers.Endpoint, 0, len(p.unconnected))
	for ep := range p.unconnected {
		if p.bad.Contains(ep) {
			continue
		}
		if p.hostCountLocked(ep.Host) >= p.conf.MaxConnectionsPerAddress {
			continue
		}
		all = append(all, ep)
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if len(all) > max {
		all = all[:max]
	}
	return all
}

func (p *Peer) dial(ep peers.Endpoint) {
	conn, err := p.transport.Dial(ep.String())

	p.l.Lock()
	delete(p.connecting, ep)

	if err != nil {
		p.dialFailures[ep]++
		failures := p.dialFailures[ep]
		if failures < p.conf.MaxDialAttempts && !p.shutdown {
			p.addUnconnectedLocked(ep)
		} else {
			delete(p.dialFailures, ep)
		}
		p.l.Unlock()

		p.logger.WithFields(logrus.Fields{
			"endpoint": ep,
			"attempt":  failures,
			"error":    err,
		}).Debug("Dial failed")
		return
	}

	if p.shutdown ||
		len(p.connected) >= p.conf.ConnectedMax ||
		p.hostCountLocked(ep.Host) >= p.conf.MaxConnectionsPerAddress {
		if !p.shutdown {
			p.addUnconnectedLocked(ep)
		}
		p.l.Unlock()
		conn.Close()
		return
	}

	delete(p.dialFailures, ep)
	node := newRemoteNode(p.local, conn, false, ep)
	p.connected[node] = struct{}{}
	p.l.Unlock()

	node.Start()
}

// onHandshake is called by a RemoteNode when it receives the peer's version.
// Of two connections between the same pair of nodes, the one dialled by the
// node with the lower nonce survives, so both ends pick the same one.
func (p *Peer) onHandshake(node *RemoteNode) error {
	v := node.Version()

	p.l.Lock()
	defer p.l.Unlock()

	if p.shutdown {
		return errNodeShutdown
	}

	if other, ok := p.nonces[v.Nonce]; ok && other != node {
		if p.initiator(node) >= p.initiator(other) {
			return ErrDuplicateConnection
		}
		other.Disconnect(ErrDuplicateConnection)
	}
	p.nonces[v.Nonce] = node

	if ep := node.Endpoint(); !ep.IsZero() {
		p.listeners[ep] = node
		delete(p.unconnected, ep)
	}

	return nil
}

func (p *Peer) initiator(node *RemoteNode) uint32 {
	if node.Inbound() {
		return node.Version().Nonce
	}
	return p.local.nonce
}

// onDisconnect releases node from the pools. Endpoints of peers that broke
// the protocol are remembered as bad; others go back to the candidates.
func (p *Peer) onDisconnect(node *RemoteNode, reason error) {
	p.l.Lock()
	defer p.l.Unlock()

	delete(p.connected, node)

	if v := node.Version(); v != nil && p.nonces[v.Nonce] == node {
		delete(p.nonces, v.Nonce)
	}

	ep := node.Endpoint()
	if ep.IsZero() {
		return
	}
	if p.listeners[ep] == node {
		delete(p.listeners, ep)
	}

	switch {
	case isBadPeerError(reason):
		p.bad.Add(ep, struct{}{})
		delete(p.unconnected, ep)
	case p.shutdown, errors.Is(reason, ErrDuplicateConnection):
	case p.listeners[ep] == nil:
		p.addUnconnectedLocked(ep)
	}
}

//==============================================================================
// Pools

// AddCandidates adds endpoints to the unconnected pool, skipping ourselves,
// bad endpoints and endpoints already in use.
func (p *Peer) AddCandidates(eps []peers.Endpoint) {
	p.l.Lock()
	defer p.l.Unlock()
	for _, ep := range eps {
		p.addUnconnectedLocked(ep)
	}
}

func (p *Peer) addUnconnectedLocked(ep peers.Endpoint) {
	if ep.IsZero() || ep == p.self || ep == p.external || p.bad.Contains(ep) {
		return
	}
	if _, ok := p.listeners[ep]; ok {
		return
	}
	if _, ok := p.connecting[ep]; ok {
		return
	}
	if len(p.unconnected) >= p.conf.UnconnectedMax {
		return
	}
	p.unconnected[ep] = struct{}{}
}

// NeedMorePeers asks ready peers for addresses, or falls back to the seed
// list when no peer is ready.
func (p *Peer) NeedMorePeers(count int) {
	if count < minPeerRequest {
		count = minPeerRequest
	}

	ready := p.ReadyNodes()
	if len(ready) > 0 {
		for _, node := range ready {
			node.RequestAddresses()
		}
		return
	}

	seeds := make([]peers.Endpoint, len(p.seeds))
	copy(seeds, p.seeds)
	rand.Shuffle(len(seeds), func(i, j int) { seeds[i], seeds[j] = seeds[j], seeds[i] })
	if len(seeds) > count {
		seeds = seeds[:count]
	}
	p.AddCandidates(seeds)
}

func (p *Peer) wantsAddresses() bool {
	p.l.Lock()
	defer p.l.Unlock()
	return len(p.unconnected) < p.conf.UnconnectedMax
}

// Addresses returns up to max listen endpoints of connected peers, in random
// order.
func (p *Peer) Addresses(max int, exclude peers.Endpoint) []peers.Endpoint {
	p.l.Lock()
	eps := make([]peers.Endpoint, 0, len(p.listeners))
	for ep, node := range p.listeners {
		if ep != exclude && node.State() == Ready {
			eps = append(eps, ep)
		}
	}
	p.l.Unlock()

	rand.Shuffle(len(eps), func(i, j int) { eps[i], eps[j] = eps[j], eps[i] })
	if len(eps) > max {
		eps = eps[:max]
	}
	return eps
}

// ReadyNodes returns the connected nodes which completed the handshake.
func (p *Peer) ReadyNodes() []*RemoteNode {
	p.l.Lock()
	defer p.l.Unlock()
	res := make([]*RemoteNode, 0, len(p.connected))
	for node := range p.connected {
		if node.State() == Ready {
			res = append(res, node)
		}
	}
	return res
}

// ConnectedCount ...
func (p *Peer) ConnectedCount() int {
	p.l.Lock()
	defer p.l.Unlock()
	return len(p.connected)
}

// UnconnectedCount ...
func (p *Peer) UnconnectedCount() int {
	p.l.Lock()
	defer p.l.Unlock()
	return len(p.unconnected)
}

// Unconnected returns a copy of the unconnected pool.
func (p *Peer) Unconnected() []peers.Endpoint {
	p.l.Lock()
	defer p.l.Unlock()
	return p.unconnectedLocked()
}

func (p *Peer) unconnectedLocked() []peers.Endpoint {
	res := make([]peers.Endpoint, 0, len(p.unconnected))
	for ep := range p.unconnected {
		res = append(res, ep)
	}
	return res
}

// setExternal records the endpoint a UPnP gateway forwards to us.
func (p *Peer) setExternal(ep peers.Endpoint) {
	p.l.Lock()
	defer p.l.Unlock()
	p.external = ep
	delete(p.unconnected, ep)
}

// IsBad reports whether ep was disconnected for breaking the protocol.
func (p *Peer) IsBad(ep peers.Endpoint) bool {
	return p.bad.Contains(ep)
}

func (p *Peer) hostCountLocked(host string) int {
	n := 0
	for node := range p.connected {
		if node.remoteHost == host {
			n++
		}
	}
	for ep := range p.connecting {
		if ep.Host == host {
			n++
		}
	}
	return n
}

// Shutdown stops accepting and dialling, saves the address book and closes
// every connection.
func (p *Peer) Shutdown() {
	p.l.Lock()
	if p.shutdown {
		p.l.Unlock()
		return
	}
	p.shutdown = true

	book := p.unconnectedLocked()
	for ep := range p.listeners {
		book = append(book, ep)
	}

	nodes := make([]*RemoteNode, 0, len(p.connected))
	for node := range p.connected {
		nodes = append(nodes, node)
	}
	p.l.Unlock()

	p.timer.Shutdown()
	if err := p.transport.Close(); err != nil {
		p.logger.WithError(err).Debug("Closing transport")
	}

	for _, node := range nodes {
		node.Disconnect(errNodeShutdown)
	}
	for _, node := range nodes {
		<-node.Done()
	}

	p.dialers.wait()
	p.wg.Wait()

	// Nodes dialled while shutting down are closed by dial itself.
	if p.book != nil {
		if err := p.book.Write(book); err != nil {
			p.logger.WithError(err).Error("Saving address book")
		}
	}
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
