// Package store keeps the settings a node needs across restarts: its identity
// and the hubs it has learned about.
//
// InmemStore is used by tests and by nodes started without persistence.
// BadgerStore writes the same records, JSON-encoded, to a Badger database.
package store
