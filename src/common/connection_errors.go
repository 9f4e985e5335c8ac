package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConnectionErrType identifies why a connection attempt failed. The first
// values travel on the wire in handshake responses, so their order is fixed.
type ConnectionErrType byte

const (
	// NoError is carried by successful handshake responses
	NoError ConnectionErrType = iota
	// IncorrectNode means the remote end is not the node that was dialled
	IncorrectNode
	// SameNode means the remote end is the local node
	SameNode
	// NodeNotPending means a response arrived for an attempt that no longer
	// exists
	NodeNotPending
	// RequestNotSent means the handshake request could not be written
	RequestNotSent
	// TimedOut means the handshake did not complete in time
	TimedOut
	// TransportFailure means the transport could not reach the address
	TransportFailure
	// Unreachable means the node failed recently and is in back-off
	Unreachable
	// Shutdown means the connection manager is closed
	Shutdown
)

var connectionErrNames = []string{
	"No Error",
	"Incorrect Node",
	"Same Node",
	"Node Not Pending",
	"Request Not Sent",
	"Timed Out",
	"Transport Failure",
	"Unreachable",
	"Shutdown",
}

// String ...
func (t ConnectionErrType) String() string {
	if int(t) < len(connectionErrNames) {
		return connectionErrNames[t]
	}
	return fmt.Sprintf("Unknown(%d)", byte(t))
}

// ConnectionErr is returned by connection attempts. Node is a printable form of
// the target (GUID or address).
type ConnectionErr struct {
	errType ConnectionErrType
	node    string
	cause   error
}

// NewConnectionErr ...
func NewConnectionErr(errType ConnectionErrType, node string, cause error) ConnectionErr {
	return ConnectionErr{
		errType: errType,
		node:    node,
		cause:   cause,
	}
}

// Type returns the error kind.
func (e ConnectionErr) Type() ConnectionErrType {
	return e.errType
}

// Error ...
func (e ConnectionErr) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("connection to %s, %s: %v", e.node, e.errType, e.cause)
	}
	return fmt.Sprintf("connection to %s, %s", e.node, e.errType)
}

// Cause returns the underlying error, if any, so that errors.Cause can unwrap
// transport failures.
func (e ConnectionErr) Cause() error {
	return e.cause
}

// IsConnection checks that err, or the error it wraps, is a ConnectionErr of
// the given kind.
func IsConnection(err error, t ConnectionErrType) bool {
	var connErr ConnectionErr
	return errors.As(err, &connErr) && connErr.errType == t
}

// ConnectionErrKind returns the kind carried by err, or NoError if err is not a
// ConnectionErr.
func ConnectionErrKind(err error) ConnectionErrType {
	var connErr ConnectionErr
	if errors.As(err, &connErr) {
		return connErr.errType
	}
	return NoError
}
