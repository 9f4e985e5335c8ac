// Package link implements the protocol spoken over a single connection
// between two nodes.
//
// A Link wraps a net.Conn. It starts in the Handshaking state, during which
// the connection manager exchanges identities with Send and Expect. Establish
// records what the remote node said about itself and starts the read loop and
// the ping timer.
//
// While established, a Link answers every PING with a PONG, closes itself
// when nothing has been received for DeadLinkMultiple ping intervals, and
// keeps the latest LNIn, KHLi and QHaT announcements of its peer. Every
// message is then dispatched through a Handlers registry, one mailbox per
// message type, so that a slow handler only delays messages of its own type.
//
// Closing sends a CLOS message when possible, releases the connection and
// fires the OnClosed callbacks exactly once.
package link
