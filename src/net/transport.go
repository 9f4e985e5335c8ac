package net

import (
	"errors"
	"time"
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")

	// ErrConnClosed is returned by Send and Receive on a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrFrameTooLarge is returned when a frame exceeds the maximum size.
	ErrFrameTooLarge = errors.New("frame too large")
)

// Conn is a message-oriented connection between two nodes. Each Send delivers
// exactly one frame to the matching Receive on the other end. Send may be
// called concurrently; Receive is called from a single read loop.
type Conn interface {
	// Send writes one frame.
	Send(frame []byte) error

	// Receive blocks until a frame arrives or the connection closes.
	Receive() ([]byte, error)

	// LocalAddr returns the local end's address
	LocalAddr() string

	// RemoteAddr returns the remote end's address
	RemoteAddr() string

	// Close releases the connection. It is idempotent.
	Close() error

	// IsClosed reports whether Close was called on either end, or the
	// underlying stream failed.
	IsClosed() bool
}

// Transport provides an interface for network transports to allow a node to
// communicate with other nodes.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel delivering inbound connections.
	Consumer() <-chan Conn

	// Dial opens a connection to the node listening at target.
	Dial(target string, timeout time.Duration) (Conn, error)

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
