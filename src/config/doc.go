// Package config defines the configuration for a ledgerd node.
//
// Regardless of how ledgerd is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// configuration options, ledgerd relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  priv_key // a plain text file containing the raw private key (cf. ledgerd keygen).
//  key.pub // the matching public key, in hex.
//  genesis.json // (optional) the initial allocation: [{"owner": "0X..", "value": 100}].
//  peers.json // the endpoints known at the last shutdown.
//  ledgerd.toml // (optional) configuration values overriding the defaults.
//  chain_db // the database, unless Config.DatabaseDir points elsewhere.
package config
