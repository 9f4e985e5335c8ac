package net

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	bufSize = 64 * 1024

	// frame header: body length as a little-endian uint32
	headerSize = 4
)

/*
NetworkTransport provides a network based transport that carries framed
messages between nodes. It requires an underlying stream layer to provide a
stream abstraction, which can be TCP, QUIC, etc.

Every frame is a 4-byte little-endian length followed by the body. Frames
larger than maxFrameSize are refused on both ends.
*/
type NetworkTransport struct {
	logger *logrus.Entry

	consumeCh chan Conn

	conns     map[*netConn]struct{}
	connsLock sync.Mutex

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	maxFrameSize int
	timeout      time.Duration
}

// NewNetworkTransport creates a new network transport with the given stream
// layer. The timeout is used to apply write deadlines.
func NewNetworkTransport(
	stream StreamLayer,
	maxFrameSize int,
	timeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &NetworkTransport{
		consumeCh:    make(chan Conn),
		conns:        make(map[*netConn]struct{}),
		logger:       logger,
		shutdownCh:   make(chan struct{}),
		stream:       stream,
		maxFrameSize: maxFrameSize,
		timeout:      timeout,
	}
}

// Close is used to stop the network transport and every connection it opened
// or accepted.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if !n.shutdown {
		close(n.shutdownCh)
		n.stream.Close()

		n.connsLock.Lock()
		conns := make([]*netConn, 0, len(n.conns))
		for c := range n.conns {
			conns = append(conns, c)
		}
		n.connsLock.Unlock()

		for _, c := range conns {
			c.Close()
		}

		n.shutdown = true
	}
	return nil
}

// Consumer implements the Transport interface.
func (n *NetworkTransport) Consumer() <-chan Conn {
	return n.consumeCh
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	addr := n.stream.Addr()

	if addr != nil {
		return addr.String()
	}

	return ""
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// Dial implements the Transport interface.
func (n *NetworkTransport) Dial(target string, timeout time.Duration) (Conn, error) {
	if n.IsShutdown() {
		return nil, ErrTransportShutdown
	}

	conn, err := n.stream.Dial(target, timeout)
	if err != nil {
		return nil, err
	}

	return n.wrap(conn), nil
}

// Listen opens the stream and handles incoming connections.
func (n *NetworkTransport) Listen() {
	for {
		// Accept incoming connections
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		n.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("accepted connection")

		nc := n.wrap(conn)

		select {
		case n.consumeCh <- nc:
		case <-n.shutdownCh:
			nc.Close()
			return
		}
	}
}

func (n *NetworkTransport) wrap(conn net.Conn) *netConn {
	nc := &netConn{
		conn:         conn,
		r:            bufio.NewReaderSize(conn, bufSize),
		w:            bufio.NewWriterSize(conn, bufSize),
		maxFrameSize: n.maxFrameSize,
		timeout:      n.timeout,
		release:      n.forget,
	}

	n.connsLock.Lock()
	n.conns[nc] = struct{}{}
	n.connsLock.Unlock()

	return nc
}

func (n *NetworkTransport) forget(nc *netConn) {
	n.connsLock.Lock()
	delete(n.conns, nc)
	n.connsLock.Unlock()
}

// netConn frames messages over a net.Conn.
type netConn struct {
	conn net.Conn
	r    *bufio.Reader

	wLock sync.Mutex
	w     *bufio.Writer

	maxFrameSize int
	timeout      time.Duration

	closed    int32
	closeOnce sync.Once
	release   func(*netConn)
}

// Send implements the Conn interface.
func (c *netConn) Send(frame []byte) error {
	if c.IsClosed() {
		return ErrConnClosed
	}
	if c.maxFrameSize > 0 && len(frame) > c.maxFrameSize {
		return ErrFrameTooLarge
	}

	c.wLock.Lock()
	defer c.wLock.Unlock()

	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(frame)))

	if _, err := c.w.Write(header[:]); err != nil {
		c.Close()
		return err
	}
	if _, err := c.w.Write(frame); err != nil {
		c.Close()
		return err
	}
	if err := c.w.Flush(); err != nil {
		c.Close()
		return err
	}
	return nil
}

// Receive implements the Conn interface.
func (c *netConn) Receive() ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		c.Close()
		if c.closedLocally(err) {
			return nil, ErrConnClosed
		}
		return nil, err
	}

	size := int(binary.LittleEndian.Uint32(header[:]))
	if c.maxFrameSize > 0 && size > c.maxFrameSize {
		c.Close()
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(c.r, frame); err != nil {
		c.Close()
		return nil, err
	}
	return frame, nil
}

func (c *netConn) closedLocally(err error) bool {
	return err == io.EOF || c.IsClosed()
}

// LocalAddr implements the Conn interface.
func (c *netConn) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

// RemoteAddr implements the Conn interface.
func (c *netConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close implements the Conn interface.
func (c *netConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		err = c.conn.Close()
		if c.release != nil {
			c.release(c)
		}
	})
	return err
}

// IsClosed implements the Conn interface.
func (c *netConn) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}
