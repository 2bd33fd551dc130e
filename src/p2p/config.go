package p2p

import (
	"time"

	"github.com/mosaicnetworks/ledgerd/src/protocol"
)

// Defaults
const (
	DefaultConnectedMax             = 10
	DefaultUnconnectedMax           = 1000
	DefaultMaxConnectionsPerAddress = 3
	DefaultDialTimeout              = 5 * time.Second
	DefaultIdleTimeout              = 2 * time.Minute
	DefaultHandshakeTimeout         = 10 * time.Second
	DefaultPingInterval             = 30 * time.Second
	DefaultSendQueueSize            = 500
	DefaultTaskTimeout              = 60 * time.Second
	DefaultMaxTasksPerPeer          = 50
	DefaultMaxTaskAttempts          = 3
	DefaultMaintenanceInterval      = 5 * time.Second
	DefaultKnownHashesSize          = 10000
	DefaultKnownHashesTTL           = 10 * time.Minute
	DefaultMailboxSize              = 1000
	DefaultMaxDialAttempts          = 3
	DefaultBadPeersSize             = 1000

	// minPeerRequest is the least number of endpoints asked for when the
	// unconnected pool runs dry.
	minPeerRequest = 5
)

// Config ...
type Config struct {
	Magic uint32

	// ConnectedMax bounds open connections, inbound and outbound together.
	ConnectedMax int
	// UnconnectedMax bounds the pool of candidate endpoints.
	UnconnectedMax int
	// MaxConnectionsPerAddress bounds connections sharing one host.
	MaxConnectionsPerAddress int
	// MaxDialAttempts is the number of failed dials after which an endpoint
	// is forgotten.
	MaxDialAttempts int
	BadPeersSize    int

	DialTimeout      time.Duration
	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	SendQueueSize    int
	MailboxSize      int

	TaskTimeout         time.Duration
	MaxTasksPerPeer     int
	MaxTaskAttempts     int
	MaintenanceInterval time.Duration

	KnownHashesSize int
	KnownHashesTTL  time.Duration

	// SeedList holds host:port strings dialled when no other candidate is
	// known.
	SeedList []string

	// UPnP asks the gateway to forward the listening port.
	UPnP bool
}

// DefaultConfig ...
func DefaultConfig() *Config {
	return &Config{
		Magic:                    protocol.DefaultMagic,
		ConnectedMax:             DefaultConnectedMax,
		UnconnectedMax:           DefaultUnconnectedMax,
		MaxConnectionsPerAddress: DefaultMaxConnectionsPerAddress,
		MaxDialAttempts:          DefaultMaxDialAttempts,
		BadPeersSize:             DefaultBadPeersSize,
		DialTimeout:              DefaultDialTimeout,
		IdleTimeout:              DefaultIdleTimeout,
		HandshakeTimeout:         DefaultHandshakeTimeout,
		PingInterval:             DefaultPingInterval,
		SendQueueSize:            DefaultSendQueueSize,
		MailboxSize:              DefaultMailboxSize,
		TaskTimeout:              DefaultTaskTimeout,
		MaxTasksPerPeer:          DefaultMaxTasksPerPeer,
		MaxTaskAttempts:          DefaultMaxTaskAttempts,
		MaintenanceInterval:      DefaultMaintenanceInterval,
		KnownHashesSize:          DefaultKnownHashesSize,
		KnownHashesTTL:           DefaultKnownHashesTTL,
	}
}
