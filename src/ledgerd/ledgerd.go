package ledgerd

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/ledgerd/src/blockchain"
	"github.com/mosaicnetworks/ledgerd/src/config"
	"github.com/mosaicnetworks/ledgerd/src/crypto/keys"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/metrics"
	"github.com/mosaicnetworks/ledgerd/src/net"
	"github.com/mosaicnetworks/ledgerd/src/p2p"
	"github.com/mosaicnetworks/ledgerd/src/peers"
	"github.com/mosaicnetworks/ledgerd/src/service"
	"github.com/mosaicnetworks/ledgerd/src/store"
)

// Ledgerd is the engine. It builds every component from a Config and owns
// their lifecycle.
type Ledgerd struct {
	Config    *config.Config
	Key       *ecdsa.PrivateKey
	Genesis   *ledger.Block
	Store     *store.Store
	Chain     *blockchain.Blockchain
	Transport *net.Transport
	Node      *p2p.LocalNode
	Metrics   *metrics.Metrics
	Service   *service.Service

	producer *producer

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	logger *logrus.Entry
}

// NewLedgerd ...
func NewLedgerd(config *config.Config) *Ledgerd {
	engine := &Ledgerd{
		Config:     config,
		shutdownCh: make(chan struct{}),
		logger:     config.Logger(),
	}

	return engine
}

func (l *Ledgerd) initKey() error {
	if l.Key != nil {
		return nil
	}

	simpleKeyfile := keys.NewSimpleKeyfile(l.Config.Keyfile())

	if !simpleKeyfile.Exists() {
		privKey, err := Keygen(l.Config.DataDir)
		if err != nil {
			l.logger.WithError(err).Error("Cannot generate a new private key")
			return err
		}

		l.logger.WithField("pub", keys.PublicKeyHex(&privKey.PublicKey)).Info("Created a new key")
		l.Key = privKey
		return nil
	}

	privKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		l.logger.WithError(err).Error("Cannot read private key from file")
		return err
	}

	l.Key = privKey

	return nil
}

func (l *Ledgerd) initStore() error {
	var (
		kv  store.KV
		err error
	)

	switch l.Config.Store {
	case config.StoreInmem:
		kv = store.NewInmemKV()
		l.logger.Debug("Created new in-mem store")
	case config.StoreBadger:
		l.logger.WithField("path", l.Config.DatabaseDir).Debug("Loading or creating badger database")
		kv, err = store.NewBadgerKV(l.Config.DatabaseDir, l.logger)
	case config.StoreLevelDB:
		l.logger.WithField("path", l.Config.DatabaseDir).Debug("Loading or creating leveldb database")
		kv, err = store.NewLevelDBKV(l.Config.DatabaseDir)
	default:
		err = fmt.Errorf("unknown store %q", l.Config.Store)
	}
	if err != nil {
		return err
	}

	st, err := store.NewStore(kv, l.logger)
	if err != nil {
		kv.Close()
		return err
	}

	genesis, err := LoadGenesis(l.Config.GenesisFile())
	if err != nil {
		st.Close()
		return err
	}

	if err := st.InitGenesis(genesis); err != nil {
		st.Close()
		return err
	}

	l.Store = st
	l.Genesis = genesis

	l.logger.WithFields(logrus.Fields{
		"genesis": genesis.Hash().Short(),
		"height":  st.Height(),
	}).Debug("Store ready")

	return nil
}

func (l *Ledgerd) initChain() error {
	chain, err := blockchain.NewBlockchain(
		l.Config.ChainConfig(),
		l.Store,
		blockchain.NewWitnessVerifier(nil),
		l.logger,
	)
	if err != nil {
		return err
	}

	l.Chain = chain

	return nil
}

func (l *Ledgerd) initTransport() error {
	transport, err := net.NewTCPTransport(
		l.Config.BindAddr,
		l.Config.AdvertiseAddr,
		l.Config.DialTimeout,
		l.logger,
	)
	if err != nil {
		return err
	}

	l.Transport = transport

	return nil
}

func (l *Ledgerd) initNode() error {
	var consensus p2p.Consensus
	if l.Config.BlockInterval > 0 {
		l.producer = newProducer(l.Chain, l.Key, l.Config.BlockInterval, l.logger)
		consensus = l.producer
	}

	l.Node = p2p.NewLocalNode(
		l.Config.P2PConfig(),
		l.Chain,
		consensus,
		l.Transport,
		peers.NewJSONAddressBook(l.Config.DataDir),
		l.logger,
	)

	if l.producer != nil {
		l.producer.relay = l.Node.Relay
	}

	return nil
}

func (l *Ledgerd) initMetrics() error {
	m, err := metrics.NewMetrics(l.Chain, l.Chain.MemPool(), l.Node)
	if err != nil {
		return err
	}

	l.Metrics = m

	return nil
}

func (l *Ledgerd) initService() error {
	if !l.Config.NoService {
		l.Service = service.NewService(l.Config.ServiceAddr, l, l.Metrics.Handler(), l.logger)
	}
	return nil
}

// Init reads the key, opens the database and creates every component. Nothing
// is started.
func (l *Ledgerd) Init() error {
	if err := os.MkdirAll(l.Config.DataDir, 0700); err != nil {
		return err
	}

	if err := l.initKey(); err != nil {
		return err
	}

	if err := l.initStore(); err != nil {
		return err
	}

	if err := l.initChain(); err != nil {
		return err
	}

	if err := l.initTransport(); err != nil {
		return err
	}

	if err := l.initNode(); err != nil {
		return err
	}

	if err := l.initMetrics(); err != nil {
		return err
	}

	if err := l.initService(); err != nil {
		return err
	}

	return nil
}

// Start runs every component and returns.
func (l *Ledgerd) Start() error {
	l.Chain.Start()

	if err := l.Node.Start(); err != nil {
		return err
	}

	if l.producer != nil {
		l.producer.Start()
	}

	if l.Service != nil {
		go l.Service.Serve()
	}

	l.logger.WithFields(logrus.Fields{
		"moniker": l.Config.Moniker,
		"listen":  l.Transport.LocalAddr(),
		"height":  l.Chain.Height(),
		"pub":     keys.PublicKeyHex(&l.Key.PublicKey),
	}).Info("Ledgerd started")

	return nil
}

// Run starts the node and blocks until Shutdown.
func (l *Ledgerd) Run() error {
	if err := l.Start(); err != nil {
		return err
	}

	<-l.shutdownCh

	return nil
}

// Shutdown stops every component and closes the database. It may be called
// more than once.
func (l *Ledgerd) Shutdown() {
	l.shutdownOnce.Do(func() {
		l.logger.Info("Shutting down")

		if l.producer != nil {
			l.producer.Shutdown()
		}

		if l.Service != nil {
			if err := l.Service.Close(); err != nil {
				l.logger.WithError(err).Warn("Closing service")
			}
		}

		if l.Metrics != nil {
			l.Metrics.Close()
		}

		if l.Node != nil {
			l.Node.Shutdown()
		}

		if l.Chain != nil {
			l.Chain.Shutdown()
		}

		if l.Store != nil {
			if err := l.Store.Close(); err != nil {
				l.logger.WithError(err).Error("Closing store")
			}
		}

		close(l.shutdownCh)
	})
}

// GetStats implements service.Backend.
func (l *Ledgerd) GetStats() map[string]string {
	return map[string]string{
		"height":            strconv.FormatUint(uint64(l.Chain.Height()), 10),
		"header_height":     strconv.FormatUint(uint64(l.Chain.HeaderHeight()), 10),
		"current_hash":      l.Chain.CurrentHash().String(),
		"mempool":           strconv.Itoa(l.Chain.MemPool().Len()),
		"connected_peers":   strconv.Itoa(l.Node.ConnectedCount()),
		"unconnected_peers": strconv.Itoa(l.Node.UnconnectedCount()),
		"pending_tasks":     strconv.Itoa(l.Node.PendingTasks()),
		"user_agent":        l.Node.UserAgent(),
		"moniker":           l.Config.Moniker,
	}
}

// GetBlock implements service.Backend.
func (l *Ledgerd) GetBlock(index uint32) (*ledger.Block, error) {
	return l.Chain.GetBlockByHeight(index)
}

// GetPeers implements service.Backend.
func (l *Ledgerd) GetPeers() []p2p.PeerInfo {
	return l.Node.Peers()
}

// GetBalance implements service.Backend.
func (l *Ledgerd) GetBalance(owner []byte) (uint64, error) {
	unspent, err := l.Store.UnspentOutputs(owner)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, u := range unspent {
		total += u.Output.Value
	}
	return total, nil
}

// SubmitTransaction implements service.Backend.
func (l *Ledgerd) SubmitTransaction(tx *ledger.Transaction) blockchain.RelayResult {
	return l.Node.Relay(ledger.TxInventory(tx))
}

// Keygen creates a new key pair in datadir. It refuses to overwrite an
// existing key.
func Keygen(datadir string) (*ecdsa.PrivateKey, error) {
	cfg := config.NewDefaultConfig()
	cfg.DataDir = datadir

	simpleKeyfile := keys.NewSimpleKeyfile(cfg.Keyfile())

	if simpleKeyfile.Exists() {
		return nil, fmt.Errorf("another key already lives at %s", simpleKeyfile.Path())
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(datadir, 0700); err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	pub := keys.PublicKeyHex(&privKey.PublicKey)
	if err := os.WriteFile(cfg.PubKeyfile(), []byte(pub), 0600); err != nil {
		return nil, err
	}

	return privKey, nil
}
