package p2p

import (
	"crypto/ecdsa"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/ledgerd/src/blockchain"
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/crypto/keys"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	lnet "github.com/mosaicnetworks/ledgerd/src/net"
	"github.com/mosaicnetworks/ledgerd/src/peers"
	"github.com/mosaicnetworks/ledgerd/src/protocol"
	"github.com/mosaicnetworks/ledgerd/src/store"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// Nodes keep logging while they shut down, after t.Log is no longer allowed.
func testLogger(t *testing.T) *logrus.Entry {
	log := logrus.New()
	log.Out = io.Discard
	return log.WithField("test", t.Name())
}

type testNet struct {
	network *lnet.InmemNetwork
	priv    *ecdsa.PrivateKey
	owner   []byte
	genesis *ledger.Block
}

func newTestNet(t *testing.T) *testNet {
	priv, err := keys.GenerateECDSAKey()
	require.NoError(t, err)
	owner := keys.FromPublicKey(&priv.PublicKey)

	return &testNet{
		network: lnet.NewInmemNetwork(),
		priv:    priv,
		owner:   owner,
		genesis: ledger.NewGenesisBlock([]ledger.Output{
			{Value: 1000, Owner: owner},
			{Value: 1000, Owner: owner},
		}),
	}
}

type testNode struct {
	addr  string
	ep    peers.Endpoint
	chain *blockchain.Blockchain
	node  *LocalNode
}

func testConfig() *Config {
	conf := DefaultConfig()
	conf.MaintenanceInterval = 20 * time.Millisecond
	conf.HandshakeTimeout = 2 * time.Second
	conf.TaskTimeout = 2 * time.Second
	conf.DialTimeout = time.Second
	return conf
}

func (n *testNet) newNode(t *testing.T, mod func(*Config), seeds ...*testNode) *testNode {
	return n.newNodeWith(t, mod, nil, seeds...)
}

func (n *testNet) newNodeWith(t *testing.T, mod func(*Config), consensus Consensus, seeds ...*testNode) *testNode {
	logger := testLogger(t)

	st, err := store.NewStore(store.NewInmemKV(), logger)
	require.NoError(t, err)
	require.NoError(t, st.InitGenesis(n.genesis))

	chain, err := blockchain.NewBlockchain(blockchain.DefaultConfig(), st,
		blockchain.NewWitnessVerifier(nil), logger)
	require.NoError(t, err)
	chain.Start()
	t.Cleanup(chain.Shutdown)

	addr := n.network.NewInmemAddr()
	layer, err := n.network.NewStreamLayer(addr)
	require.NoError(t, err)
	transport := lnet.NewTransport(layer, time.Second, logger)

	conf := testConfig()
	for _, s := range seeds {
		conf.SeedList = append(conf.SeedList, s.addr)
	}
	if mod != nil {
		mod(conf)
	}

	node := NewLocalNode(conf, chain, consensus, transport, nil, logger)
	require.NoError(t, node.Start())
	t.Cleanup(node.Shutdown)

	ep, err := peers.ParseEndpoint(addr)
	require.NoError(t, err)

	return &testNode{addr: addr, ep: ep, chain: chain, node: node}
}

func hasReadyPeer(n *testNode) func() bool {
	return func() bool { return len(n.node.Peers()) > 0 }
}

func TestHandshake(t *testing.T) {
	net := newTestNet(t)
	a := net.newNode(t, nil)
	b := net.newNode(t, nil, a)

	require.Eventually(t, hasReadyPeer(a), waitFor, tick)
	require.Eventually(t, hasReadyPeer(b), waitFor, tick)

	pa := a.node.Peers()
	require.Len(t, pa, 1)
	assert.True(t, pa[0].Inbound)
	assert.Equal(t, b.addr, pa[0].Endpoint, "inbound endpoint comes from the version port")
	assert.Equal(t, b.node.UserAgent(), pa[0].UserAgent)

	pb := b.node.Peers()
	require.Len(t, pb, 1)
	assert.False(t, pb[0].Inbound)
	assert.Equal(t, a.addr, pb[0].Endpoint)
	assert.Equal(t, Ready.String(), pb[0].State)
}

func TestSelfConnection(t *testing.T) {
	net := newTestNet(t)
	a := net.newNode(t, nil)

	// Candidates equal to our own endpoint are skipped, so dial directly.
	a.node.peer.dial(a.ep)

	require.Eventually(t, func() bool { return a.node.peer.IsBad(a.ep) }, waitFor, tick)
	require.Eventually(t, func() bool { return a.node.ConnectedCount() == 0 }, waitFor, tick)
	assert.Empty(t, a.node.Peers())
}

func TestInboundLimit(t *testing.T) {
	net := newTestNet(t)
	a := net.newNode(t, func(c *Config) { c.ConnectedMax = 1 })
	b := net.newNode(t, nil, a)

	require.Eventually(t, hasReadyPeer(b), waitFor, tick)

	c := net.newNode(t, nil, a)

	assert.Never(t, func() bool { return a.node.ConnectedCount() > 1 }, 300*time.Millisecond, tick)
	assert.Empty(t, c.node.Peers())
	assert.Len(t, b.node.Peers(), 1)
}

func TestDuplicateConnection(t *testing.T) {
	net := newTestNet(t)
	a := net.newNode(t, nil)
	b := net.newNode(t, nil)

	// both ends dial at once
	a.node.peer.dial(b.ep)
	b.node.peer.dial(a.ep)

	// the connection dialled by the lower nonce survives on both ends
	aDialled := a.node.Nonce() < b.node.Nonce()
	require.Eventually(t, func() bool {
		pa, pb := a.node.Peers(), b.node.Peers()
		return len(pa) == 1 && len(pb) == 1 &&
			a.node.ConnectedCount() == 1 && b.node.ConnectedCount() == 1 &&
			pa[0].Inbound == !aDialled && pb[0].Inbound == aDialled
	}, waitFor, tick)

	assert.False(t, a.node.peer.IsBad(b.ep))
	assert.False(t, b.node.peer.IsBad(a.ep))
}

func TestViolationBansEndpoint(t *testing.T) {
	net := newTestNet(t)

	// A node that answers version with verack before its own version.
	addr := net.network.NewInmemAddr()
	layer, err := net.network.NewStreamLayer(addr)
	require.NoError(t, err)
	t.Cleanup(func() { layer.Close() })

	var accepted int32
	go func() {
		for {
			conn, err := layer.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&accepted, 1)
			go func() {
				if _, err := protocol.ReadMessage(conn, protocol.DefaultMagic); err != nil {
					return
				}
				protocol.WriteMessage(conn, protocol.DefaultMagic, &protocol.Message{Command: protocol.CmdVerAck})
			}()
		}
	}()

	a := net.newNode(t, func(c *Config) { c.SeedList = []string{addr} })

	ep, err := peers.ParseEndpoint(addr)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return a.node.peer.IsBad(ep) }, waitFor, tick)
	assert.Never(t, func() bool { return atomic.LoadInt32(&accepted) > 1 }, 300*time.Millisecond, tick)
	assert.NotContains(t, a.node.peer.Unconnected(), ep)
}

func TestUnknownCommandIgnored(t *testing.T) {
	net := newTestNet(t)
	a := net.newNode(t, nil)

	addr := net.network.NewInmemAddr()
	layer, err := net.network.NewStreamLayer(addr)
	require.NoError(t, err)
	t.Cleanup(func() { layer.Close() })

	conn, err := layer.Dial(a.addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(waitFor)))

	magic := protocol.DefaultMagic
	send := func(cmd string, payload interface{}) {
		msg, err := protocol.NewMessage(cmd, payload)
		require.NoError(t, err)
		require.NoError(t, protocol.WriteMessage(conn, magic, msg))
	}

	send(protocol.CmdVersion, &protocol.VersionPayload{
		Version:   protocol.ProtocolVersion,
		Services:  protocol.ServiceFullNode,
		Timestamp: time.Now().Unix(),
		Nonce:     a.node.Nonce() + 1,
		UserAgent: "/raw:0.0.1/",
	})

	// handshake
	for gotVersion, gotVerAck := false, false; !gotVersion || !gotVerAck; {
		msg, err := protocol.ReadMessage(conn, magic)
		require.NoError(t, err)
		switch msg.Command {
		case protocol.CmdVersion:
			gotVersion = true
			send(protocol.CmdVerAck, nil)
		case protocol.CmdVerAck:
			gotVerAck = true
		}
	}

	send("mempool", nil)
	send(protocol.CmdPing, &protocol.PingPayload{Nonce: 42})

	for {
		msg, err := protocol.ReadMessage(conn, magic)
		require.NoError(t, err, "connection dropped")
		if msg.Command != protocol.CmdPong {
			continue
		}
		payload, err := protocol.DecodePayload(msg)
		require.NoError(t, err)
		assert.Equal(t, uint32(42), payload.(*protocol.PingPayload).Nonce)
		break
	}

	assert.Len(t, a.node.Peers(), 1)
}

func TestBlockSync(t *testing.T) {
	net := newTestNet(t)
	a := net.newNode(t, nil)

	ts := time.Now().UnixMilli()
	for i := 0; i < 3; i++ {
		b, err := a.chain.BuildBlock(net.owner, ts+int64(i))
		require.NoError(t, err)
		require.True(t, a.node.Relay(ledger.BlockInventory(b)).Accepted())
	}
	require.Equal(t, uint32(3), a.chain.Height())

	b := net.newNode(t, nil, a)

	require.Eventually(t, func() bool { return b.chain.Height() == 3 }, waitFor, tick)
	assert.Equal(t, a.chain.CurrentHash(), b.chain.CurrentHash())
	assert.Equal(t, uint32(3), b.chain.HeaderHeight())
}

func TestNewBlockIsRelayed(t *testing.T) {
	net := newTestNet(t)
	a := net.newNode(t, nil)
	b := net.newNode(t, nil, a)
	require.Eventually(t, hasReadyPeer(b), waitFor, tick)

	blk, err := a.chain.BuildBlock(net.owner, time.Now().UnixMilli())
	require.NoError(t, err)
	require.Equal(t, blockchain.Succeed, a.node.Relay(ledger.BlockInventory(blk)).Reason)

	require.Eventually(t, func() bool { return b.chain.ContainsBlock(blk.Hash()) }, waitFor, tick)
}

func TestTransactionFlood(t *testing.T) {
	net := newTestNet(t)
	a := net.newNode(t, nil)
	b := net.newNode(t, nil, a)
	c := net.newNode(t, nil, b)

	require.Eventually(t, func() bool { return len(b.node.Peers()) == 2 }, waitFor, tick)
	require.Eventually(t, hasReadyPeer(c), waitFor, tick)

	tx := &ledger.Transaction{
		Inputs:  []ledger.Input{{PrevHash: net.genesis.Transactions[0].Hash(), PrevIndex: 0}},
		Outputs: []ledger.Output{{Value: 990, Owner: net.owner}},
	}
	require.NoError(t, tx.SignAll(net.priv))

	require.Equal(t, blockchain.Succeed, a.node.Relay(ledger.TxInventory(tx)).Reason)

	hash := tx.Hash()
	require.Eventually(t, func() bool { return b.chain.ContainsTransaction(hash) }, waitFor, tick)
	require.Eventually(t, func() bool { return c.chain.ContainsTransaction(hash) }, waitFor, tick)

	assert.Equal(t, 0, a.node.PendingTasks())
}

type countingConsensus struct {
	l   sync.Mutex
	txs map[common.Hash]int
}

func newCountingConsensus() *countingConsensus {
	return &countingConsensus{txs: make(map[common.Hash]int)}
}

func (c *countingConsensus) OnTransaction(tx *ledger.Transaction) {
	c.l.Lock()
	defer c.l.Unlock()
	c.txs[tx.Hash()]++
}

func (c *countingConsensus) count(hash common.Hash) int {
	c.l.Lock()
	defer c.l.Unlock()
	return c.txs[hash]
}

func TestConsensusSeesPeerTransactions(t *testing.T) {
	net := newTestNet(t)
	local := newCountingConsensus()
	remote := newCountingConsensus()
	a := net.newNodeWith(t, nil, local)
	b := net.newNodeWith(t, nil, remote, a)
	require.Eventually(t, hasReadyPeer(b), waitFor, tick)

	tx := &ledger.Transaction{
		Inputs:  []ledger.Input{{PrevHash: net.genesis.Transactions[0].Hash(), PrevIndex: 1}},
		Outputs: []ledger.Output{{Value: 990, Owner: net.owner}},
	}
	require.NoError(t, tx.SignAll(net.priv))
	hash := tx.Hash()

	require.Equal(t, blockchain.Succeed, a.node.Relay(ledger.TxInventory(tx)).Reason)
	assert.Equal(t, 1, local.count(hash))

	require.Eventually(t, func() bool { return remote.count(hash) == 1 }, waitFor, tick)

	// already known: not handed over again
	assert.Equal(t, blockchain.AlreadyExists, b.node.Relay(ledger.TxInventory(tx)).Reason)
	assert.Never(t, func() bool { return remote.count(hash) > 1 || local.count(hash) > 1 },
		200*time.Millisecond, tick)
}

func TestAddressBookSavedOnShutdown(t *testing.T) {
	net := newTestNet(t)
	a := net.newNode(t, nil)

	dir := t.TempDir()
	book := peers.NewJSONAddressBook(dir)

	logger := testLogger(t)
	st, err := store.NewStore(store.NewInmemKV(), logger)
	require.NoError(t, err)
	require.NoError(t, st.InitGenesis(net.genesis))
	chain, err := blockchain.NewBlockchain(blockchain.DefaultConfig(), st,
		blockchain.NewWitnessVerifier(nil), logger)
	require.NoError(t, err)
	chain.Start()
	defer chain.Shutdown()

	layer, err := net.network.NewStreamLayer("")
	require.NoError(t, err)
	conf := testConfig()
	conf.SeedList = []string{a.addr}

	b := NewLocalNode(conf, chain, nil, lnet.NewTransport(layer, time.Second, logger), book, logger)
	require.NoError(t, b.Start())
	require.Eventually(t, func() bool { return len(b.Peers()) == 1 }, waitFor, tick)
	b.Shutdown()

	eps, err := book.Endpoints()
	require.NoError(t, err)
	assert.Contains(t, eps, a.ep)
}
