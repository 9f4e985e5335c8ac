// Package config defines the configuration for a hubnet node.
//
// Whether the node is embedded in Go code or started with the hubnet command,
// it reads its options from the Config object defined in this package. On top
// of these options, the node relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  priv_key // a plain text file containing the raw private key (cf. hubnet keygen).
//  peers.json // (optional) a JSON file listing the hubs to contact on startup.
//  badger_db // (optional) the database holding the identity and known hubs.
//
// Timer values default to those of a long-running overlay: a ping every 90
// seconds, node info announced at most every 90 seconds and at least every 6
// minutes, known hubs every 3 minutes and query hash tables every 2 minutes.
package config
