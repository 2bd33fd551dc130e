package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/mosaicnetworks/ledgerd/src/blockchain"
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/p2p"
	"github.com/mosaicnetworks/ledgerd/src/protocol"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultPubKeyfile holds the hex form of the public key, as printed by
	// keygen.
	DefaultPubKeyfile = "key.pub"

	// DefaultDatabaseName is the default name of the folder containing the
	// database
	DefaultDatabaseName = "chain_db"

	// DefaultGenesisFile lists the initial allocation. Without it the
	// genesis block allocates nothing.
	DefaultGenesisFile = "genesis.json"

	// DefaultConfigName is the name, without extension, of the optional
	// configuration file in DataDir.
	DefaultConfigName = "ledgerd"
)

// Store backends
const (
	StoreInmem   = "inmem"
	StoreBadger  = "badger"
	StoreLevelDB = "leveldb"
)

// Default configuration values.
const (
	DefaultLogLevel                 = "debug"
	DefaultBindAddr                 = "127.0.0.1:20333"
	DefaultServiceAddr              = "127.0.0.1:8000"
	DefaultStore                    = StoreBadger
	DefaultConnectedMax             = p2p.DefaultConnectedMax
	DefaultUnconnectedMax           = p2p.DefaultUnconnectedMax
	DefaultMaxConnectionsPerAddress = p2p.DefaultMaxConnectionsPerAddress
	DefaultDialTimeout              = p2p.DefaultDialTimeout
	DefaultIdleTimeout              = p2p.DefaultIdleTimeout
	DefaultHandshakeTimeout         = p2p.DefaultHandshakeTimeout
	DefaultPingInterval             = p2p.DefaultPingInterval
	DefaultSendQueueSize            = p2p.DefaultSendQueueSize
	DefaultTaskTimeout              = p2p.DefaultTaskTimeout
	DefaultMaxTasksPerPeer          = p2p.DefaultMaxTasksPerPeer
	DefaultMaxTaskAttempts          = p2p.DefaultMaxTaskAttempts
	DefaultMaintenanceInterval      = p2p.DefaultMaintenanceInterval
	DefaultKnownHashesSize          = p2p.DefaultKnownHashesSize
	DefaultKnownHashesTTL           = p2p.DefaultKnownHashesTTL
	DefaultMemPoolSize              = blockchain.DefaultMemPoolSize
	DefaultMaxOrphans               = blockchain.DefaultMaxOrphans
	DefaultMaxOrphanDepth           = blockchain.DefaultMaxOrphanDepth
	DefaultRejectCacheSize          = blockchain.DefaultRejectCacheSize
	DefaultBlockInterval            = 0 * time.Second
)

// Config contains all the configuration properties of a ledgerd node.
type Config struct {
	// DataDir is the top-level directory containing configuration and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a copy of every log line.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node accepts peer
	// connections.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes. Its port is sent in the version message.
	AdvertiseAddr string `mapstructure:"advertise"`

	// Magic identifies the network. Messages with another magic are refused.
	Magic uint32 `mapstructure:"magic"`

	// SeedList holds the host:port of nodes dialled when nothing else is
	// known.
	SeedList []string `mapstructure:"seeds"`

	// ConnectedMax bounds open peer connections, inbound and outbound.
	ConnectedMax int `mapstructure:"max-connected"`

	// UnconnectedMax bounds the pool of known but unconnected endpoints.
	UnconnectedMax int `mapstructure:"max-unconnected"`

	// MaxConnectionsPerAddress bounds connections sharing one IP.
	MaxConnectionsPerAddress int `mapstructure:"max-per-address"`

	DialTimeout      time.Duration `mapstructure:"dial-timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle-timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake-timeout"`
	PingInterval     time.Duration `mapstructure:"ping-interval"`

	// SendQueueSize is the number of outbound messages a connection may
	// queue before it is aborted.
	SendQueueSize int `mapstructure:"send-queue"`

	// TaskTimeout is how long a peer has to deliver a requested item.
	TaskTimeout     time.Duration `mapstructure:"task-timeout"`
	MaxTasksPerPeer int           `mapstructure:"max-tasks-per-peer"`
	MaxTaskAttempts int           `mapstructure:"max-task-attempts"`

	// MaintenanceInterval is the period of the connection manager.
	MaintenanceInterval time.Duration `mapstructure:"maintenance-interval"`

	MemPoolSize     int    `mapstructure:"mempool-size"`
	MaxOrphans      int    `mapstructure:"max-orphans"`
	MaxOrphanDepth  uint32 `mapstructure:"max-orphan-depth"`
	RejectCacheSize int    `mapstructure:"reject-cache"`

	KnownHashesSize int           `mapstructure:"known-hashes"`
	KnownHashesTTL  time.Duration `mapstructure:"known-hashes-ttl"`

	// MinFee is the smallest fee accepted into the memory pool.
	MinFee uint64 `mapstructure:"min-fee"`

	// Store selects the database backend: inmem, badger or leveldb.
	Store string `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// UPnP asks the gateway to forward the listening port.
	UPnP bool `mapstructure:"upnp"`

	// BlockInterval, when not zero, makes the node build a block from its
	// memory pool at this period, paying the reward to its own key.
	BlockInterval time.Duration `mapstructure:"block-interval"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:                  DefaultDataDir(),
		LogLevel:                 DefaultLogLevel,
		BindAddr:                 DefaultBindAddr,
		Magic:                    protocol.DefaultMagic,
		ConnectedMax:             DefaultConnectedMax,
		UnconnectedMax:           DefaultUnconnectedMax,
		MaxConnectionsPerAddress: DefaultMaxConnectionsPerAddress,
		DialTimeout:              DefaultDialTimeout,
		IdleTimeout:              DefaultIdleTimeout,
		HandshakeTimeout:         DefaultHandshakeTimeout,
		PingInterval:             DefaultPingInterval,
		SendQueueSize:            DefaultSendQueueSize,
		TaskTimeout:              DefaultTaskTimeout,
		MaxTasksPerPeer:          DefaultMaxTasksPerPeer,
		MaxTaskAttempts:          DefaultMaxTaskAttempts,
		MaintenanceInterval:      DefaultMaintenanceInterval,
		MemPoolSize:              DefaultMemPoolSize,
		MaxOrphans:               DefaultMaxOrphans,
		MaxOrphanDepth:           DefaultMaxOrphanDepth,
		RejectCacheSize:          DefaultRejectCacheSize,
		KnownHashesSize:          DefaultKnownHashesSize,
		KnownHashesTTL:           DefaultKnownHashesTTL,
		Store:                    DefaultStore,
		DatabaseDir:              DefaultDatabaseDir(),
		ServiceAddr:              DefaultServiceAddr,
		BlockInterval:            DefaultBlockInterval,
	}

	return config
}

// NewTestConfig returns a config object with default values, an in-memory
// store and a special logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.Store = StoreInmem
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetLogger replaces the logger returned by Logger. It is used when ledgerd
// is embedded in a process which already owns a logger.
func (c *Config) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

// SetDataDir sets the top-level directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultDatabaseName)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// PubKeyfile returns the full path of the file containing the public key.
func (c *Config) PubKeyfile() string {
	return filepath.Join(c.DataDir, DefaultPubKeyfile)
}

// GenesisFile returns the full path of the genesis allocation file.
func (c *Config) GenesisFile() string {
	return filepath.Join(c.DataDir, DefaultGenesisFile)
}

// P2PConfig extracts the settings of the networking layer.
func (c *Config) P2PConfig() *p2p.Config {
	conf := p2p.DefaultConfig()
	conf.Magic = c.Magic
	conf.ConnectedMax = c.ConnectedMax
	conf.UnconnectedMax = c.UnconnectedMax
	conf.MaxConnectionsPerAddress = c.MaxConnectionsPerAddress
	conf.DialTimeout = c.DialTimeout
	conf.IdleTimeout = c.IdleTimeout
	conf.HandshakeTimeout = c.HandshakeTimeout
	conf.PingInterval = c.PingInterval
	conf.SendQueueSize = c.SendQueueSize
	conf.TaskTimeout = c.TaskTimeout
	conf.MaxTasksPerPeer = c.MaxTasksPerPeer
	conf.MaxTaskAttempts = c.MaxTaskAttempts
	conf.MaintenanceInterval = c.MaintenanceInterval
	conf.KnownHashesSize = c.KnownHashesSize
	conf.KnownHashesTTL = c.KnownHashesTTL
	conf.SeedList = append([]string(nil), c.SeedList...)
	conf.UPnP = c.UPnP
	return conf
}

// ChainConfig extracts the settings of the ledger.
func (c *Config) ChainConfig() *blockchain.Config {
	conf := blockchain.DefaultConfig()
	conf.MemPoolSize = c.MemPoolSize
	conf.MaxOrphans = c.MaxOrphans
	conf.MaxOrphanDepth = c.MaxOrphanDepth
	conf.RejectCacheSize = c.RejectCacheSize
	conf.MinFee = c.MinFee
	return conf
}

// Logger returns a formatted logrus Entry, with prefix set to "ledgerd". When
// LogFile is set, lines at info level and above are also written there, and
// debug lines to LogFile with a .debug suffix.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				logFileMap(c.LogFile),
				&logrus.TextFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "ledgerd")
}

func logFileMap(path string) lfshook.PathMap {
	return lfshook.PathMap{
		logrus.DebugLevel: path + ".debug",
		logrus.InfoLevel:  path,
		logrus.WarnLevel:  path,
		logrus.ErrorLevel: path,
		logrus.FatalLevel: path,
		logrus.PanicLevel: path,
	}
}

// DefaultDatabaseDir returns the default path for the database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultDatabaseName)
}

// DefaultDataDir return the default directory name for top-level config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Ledgerd")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Ledgerd")
		} else {
			return filepath.Join(home, ".ledgerd")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
