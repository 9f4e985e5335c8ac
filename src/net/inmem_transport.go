package net

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// inmemBuffer is the number of frames a connection end can queue before Send
// blocks.
const inmemBuffer = 1024

// NewInmemAddr returns a new in-memory addr with a random UUID as the ID.
func NewInmemAddr() string {
	return uuid.New().String()
}

// InmemTransport Implements the Transport interface, to allow nodes to be
// tested in-memory without going over a network. Transports only reach the
// peers they have been Connect-ed to.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan Conn
	localAddr  string
	peers      map[string]*InmemTransport
	conns      map[*inmemConn]struct{}
	shutdown   bool
	shutdownCh chan struct{}
}

// NewInmemTransport is used to initialize a new transport
// and generates a random local address if none is specified
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan Conn, 16),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		conns:      make(map[*inmemConn]struct{}),
		shutdownCh: make(chan struct{}),
	}
	return addr, trans
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan Conn {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// Dial implements the Transport interface. It creates a pair of connected ends
// and hands the remote one to the target's consumer.
func (i *InmemTransport) Dial(target string, timeout time.Duration) (Conn, error) {
	i.RLock()
	peer, ok := i.peers[target]
	shutdown := i.shutdown
	i.RUnlock()

	if shutdown {
		return nil, ErrTransportShutdown
	}
	if !ok {
		return nil, fmt.Errorf("failed to connect to peer: %v", target)
	}

	local, remote := newInmemPair(i.localAddr, target)

	if !peer.track(remote) {
		return nil, fmt.Errorf("failed to connect to peer: %v: %v", target, ErrTransportShutdown)
	}

	select {
	case peer.consumerCh <- remote:
	case <-peer.shutdownCh:
		remote.Close()
		return nil, fmt.Errorf("failed to connect to peer: %v: %v", target, ErrTransportShutdown)
	case <-time.After(timeout):
		remote.Close()
		return nil, fmt.Errorf("connection to %v timed out", target)
	}

	if !i.track(local) {
		local.Close()
		return nil, ErrTransportShutdown
	}

	return local, nil
}

func (i *InmemTransport) track(c *inmemConn) bool {
	i.Lock()
	defer i.Unlock()
	if i.shutdown {
		return false
	}
	i.conns[c] = struct{}{}
	c.release = func() {
		i.Lock()
		delete(i.conns, c)
		i.Unlock()
	}
	return true
}

// Connect is used to connect this transport to another transport for
// a given peer name. This allows for local routing.
func (i *InmemTransport) Connect(peer string, t Transport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close is used to permanently disable the transport. Open connections are
// closed.
func (i *InmemTransport) Close() error {
	i.Lock()
	if i.shutdown {
		i.Unlock()
		return nil
	}
	i.shutdown = true
	close(i.shutdownCh)
	i.peers = make(map[string]*InmemTransport)
	conns := make([]*inmemConn, 0, len(i.conns))
	for c := range i.conns {
		conns = append(conns, c)
	}
	i.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return nil
}

// Listen is an empty function as there is no need to defer
// initialisation of the InMem service
func (i *InmemTransport) Listen() {
}

// inmemPipe is shared by both ends of an in-memory connection. Closing either
// end closes both, like a TCP connection.
type inmemPipe struct {
	done     chan struct{}
	doneOnce sync.Once
}

func (p *inmemPipe) close() {
	p.doneOnce.Do(func() { close(p.done) })
}

type inmemConn struct {
	pipe       *inmemPipe
	in         chan []byte
	out        chan []byte
	localAddr  string
	remoteAddr string

	releaseOnce sync.Once
	release     func()
}

func newInmemPair(a, b string) (*inmemConn, *inmemConn) {
	pipe := &inmemPipe{done: make(chan struct{})}
	ab := make(chan []byte, inmemBuffer)
	ba := make(chan []byte, inmemBuffer)
	return &inmemConn{pipe: pipe, in: ba, out: ab, localAddr: a, remoteAddr: b},
		&inmemConn{pipe: pipe, in: ab, out: ba, localAddr: b, remoteAddr: a}
}

// Send implements the Conn interface.
func (c *inmemConn) Send(frame []byte) error {
	if c.IsClosed() {
		return ErrConnClosed
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case c.out <- cp:
		return nil
	case <-c.pipe.done:
		return ErrConnClosed
	}
}

// Receive implements the Conn interface. Frames queued before the connection
// closed are still delivered.
func (c *inmemConn) Receive() ([]byte, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.pipe.done:
		select {
		case f := <-c.in:
			return f, nil
		default:
			return nil, ErrConnClosed
		}
	}
}

// LocalAddr implements the Conn interface.
func (c *inmemConn) LocalAddr() string {
	return c.localAddr
}

// RemoteAddr implements the Conn interface.
func (c *inmemConn) RemoteAddr() string {
	return c.remoteAddr
}

// Close implements the Conn interface.
func (c *inmemConn) Close() error {
	c.pipe.close()
	c.releaseOnce.Do(func() {
		if c.release != nil {
			c.release()
		}
	})
	return nil
}

// IsClosed implements the Conn interface.
func (c *inmemConn) IsClosed() bool {
	select {
	case <-c.pipe.done:
		return true
	default:
		return false
	}
}
