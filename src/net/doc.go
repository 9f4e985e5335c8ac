// Package net implements the transports that carry messages between hubnet
// nodes.
//
// A Transport dials other nodes and delivers inbound connections on its
// Consumer channel. Connections are message-oriented: every Send is received
// as one frame on the other end. There are three implementations:
//
// - Inmem: in-memory transport used for testing topologies in a single process
//
// - TCP: frames over plain TCP
//
// - QUIC: frames over a single QUIC stream per connection
//
// TCP and QUIC both use the NetworkTransport, which frames messages with a
// 4-byte little-endian length over a StreamLayer. Frames larger than the
// configured maximum are refused.
//
// To use a network transport, set the following configuration options in the
// Config object (cf config package):
//
// - BindAddr: the IP:PORT the node binds to.
//
// - AdvertiseAddr: (optional) The address that is advertised to other nodes. If
// BindAddr is a local address not reachable by other peers, it is usefull to
// set AdvertiseAddr to the reachable public address.
//
// - Transport: tcp or quic.
//
// QUIC connections use a throwaway self-signed certificate. Nodes prove who
// they are in the overlay handshake, not at the TLS layer.
package net
