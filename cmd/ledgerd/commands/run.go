package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mosaicnetworks/ledgerd/src/config"
	"github.com/mosaicnetworks/ledgerd/src/ledgerd"
)

//NewRunCmd returns the command that starts a ledgerd node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runLedgerd,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runLedgerd(cmd *cobra.Command, args []string) error {
	engine := ledgerd.NewLedgerd(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().WithError(err).Error("Cannot initialize engine")
		return err
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	go func() {
		sig := <-signalCh
		_config.Logger().WithField("signal", sig.String()).Info("Received signal")
		engine.Shutdown()
	}()

	return engine.Run()
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Also write logs to this file")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for peer connections")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for peer connections")
	cmd.Flags().Uint32("magic", _config.Magic, "Network magic number")
	cmd.Flags().StringSlice("seeds", _config.SeedList, "Comma separated IP:Port of seed nodes")
	cmd.Flags().Int("max-connected", _config.ConnectedMax, "Max number of peer connections")
	cmd.Flags().Int("max-unconnected", _config.UnconnectedMax, "Max number of known endpoints")
	cmd.Flags().Int("max-per-address", _config.MaxConnectionsPerAddress, "Max number of connections sharing one IP")
	cmd.Flags().Duration("dial-timeout", _config.DialTimeout, "Dial timeout")
	cmd.Flags().Duration("idle-timeout", _config.IdleTimeout, "Close connections idle for this long")
	cmd.Flags().Duration("handshake-timeout", _config.HandshakeTimeout, "Version handshake timeout")
	cmd.Flags().Duration("ping-interval", _config.PingInterval, "Time between pings")
	cmd.Flags().Int("send-queue", _config.SendQueueSize, "Outbound messages queued per connection")
	cmd.Flags().Duration("maintenance-interval", _config.MaintenanceInterval, "Time between connection maintenance rounds")
	cmd.Flags().Bool("upnp", _config.UPnP, "Forward the listen port with UPnP")

	// Synchronisation
	cmd.Flags().Duration("task-timeout", _config.TaskTimeout, "Time a peer has to deliver a requested item")
	cmd.Flags().Int("max-tasks-per-peer", _config.MaxTasksPerPeer, "Max outstanding requests per peer")
	cmd.Flags().Int("max-task-attempts", _config.MaxTaskAttempts, "Requests of one item before it is dropped")
	cmd.Flags().Int("known-hashes", _config.KnownHashesSize, "Number of recently seen hashes remembered")
	cmd.Flags().Duration("known-hashes-ttl", _config.KnownHashesTTL, "Time recently seen hashes are remembered")

	// Ledger
	cmd.Flags().Int("mempool-size", _config.MemPoolSize, "Max number of pooled transactions")
	cmd.Flags().Int("max-orphans", _config.MaxOrphans, "Max number of orphan blocks")
	cmd.Flags().Uint32("max-orphan-depth", _config.MaxOrphanDepth, "Max distance of an orphan block above the tip")
	cmd.Flags().Int("reject-cache", _config.RejectCacheSize, "Number of rejected hashes remembered")
	cmd.Flags().Uint64("min-fee", _config.MinFee, "Smallest fee accepted into the memory pool")
	cmd.Flags().Duration("block-interval", _config.BlockInterval, "Build a block from the memory pool at this period (0 disables)")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().String("store", _config.Store, "Database backend: inmem, badger or leveldb")
	cmd.Flags().String("db", _config.DatabaseDir, "Dabatabase directory")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":          _config.DataDir,
		"BindAddr":         _config.BindAddr,
		"AdvertiseAddr":    _config.AdvertiseAddr,
		"SeedList":         _config.SeedList,
		"ConnectedMax":     _config.ConnectedMax,
		"ServiceAddr":      _config.ServiceAddr,
		"NoService":        _config.NoService,
		"Store":            _config.Store,
		"LogLevel":         _config.LogLevel,
		"Moniker":          _config.Moniker,
		"TaskTimeout":      _config.TaskTimeout,
		"MaxTasksPerPeer":  _config.MaxTasksPerPeer,
		"MemPoolSize":      _config.MemPoolSize,
		"BlockInterval":    _config.BlockInterval,
		"HandshakeTimeout": _config.HandshakeTimeout,
		"UPnP":             _config.UPnP,
	}

	if _config.Store != config.StoreInmem {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/ledgerd.toml (.json, .yaml also work)
	viper.SetConfigName(config.DefaultConfigName) // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir)          // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
