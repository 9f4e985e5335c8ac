package link

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/hubnet/src/common"
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/mosaicnetworks/hubnet/src/net"
	"github.com/mosaicnetworks/hubnet/src/peers"
	"github.com/mosaicnetworks/hubnet/src/qht"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// PingID identifies heartbeat requests
	PingID = "PING"
	// PongID identifies heartbeat replies
	PongID = "PONG"
	// CloseID asks the remote end to close the link
	CloseID = "CLOS"
)

// ErrLinkClosed is returned when sending on a link that is closing or closed.
var ErrLinkClosed = errors.New("link closed")

// State captures the state of a Link: Connecting, Handshaking, Established,
// Closing or Closed
type State uint32

const (
	// Connecting is waiting for the transport
	Connecting State = iota
	// Handshaking is exchanging identities
	Handshaking
	// Established is dispatching messages
	Established
	// Closing is releasing the connection
	Closing
	// Closed is terminal
	Closed
)

// String ...
func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Handshaking:
		return "Handshaking"
	case Established:
		return "Established"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Config holds the heartbeat settings of a link. A zero PingInterval disables
// the ping timer and dead-link detection.
type Config struct {
	PingInterval     time.Duration
	DeadLinkMultiple int
}

// Link runs the overlay protocol over one connection.
type Link struct {
	state    uint32
	conn     net.Conn
	conf     Config
	handlers *Handlers
	incoming bool
	logger   *logrus.Entry

	l          sync.RWMutex
	remote     *peers.NodeInfo
	remoteKHL  *peers.KnownHubList
	remoteQHT  *qht.QueryHashTable
	persistent bool
	onClosed   []func(*Link)

	mailLock  sync.Mutex
	mailboxes map[string]*mailbox

	stats *stats

	closeOnce sync.Once
	doneCh    chan struct{}
}

// New wraps an open connection. The link starts in the Handshaking state;
// nothing is read from conn until Expect or Establish is called.
func New(conn net.Conn, handlers *Handlers, conf Config, incoming bool, logger *logrus.Entry) *Link {
	if handlers == nil {
		handlers = NewHandlers()
	}
	l := &Link{
		state:     uint32(Handshaking),
		conn:      conn,
		conf:      conf,
		handlers:  handlers,
		incoming:  incoming,
		mailboxes: make(map[string]*mailbox),
		stats:     newStats(),
		doneCh:    make(chan struct{}),
	}
	l.logger = logger.WithFields(logrus.Fields{
		"remote":   conn.RemoteAddr(),
		"incoming": incoming,
	})
	return l
}

// State returns the current state.
func (l *Link) State() State {
	return State(atomic.LoadUint32(&l.state))
}

func (l *Link) setState(s State) {
	atomic.StoreUint32(&l.state, uint32(s))
}

// IsClosed reports whether the link is closing or closed.
func (l *Link) IsClosed() bool {
	return l.State() >= Closing
}

// Done is closed once the link is closed.
func (l *Link) Done() <-chan struct{} {
	return l.doneCh
}

// Incoming reports whether the remote end dialled this link.
func (l *Link) Incoming() bool {
	return l.incoming
}

// RemoteAddr returns the transport address of the remote end.
func (l *Link) RemoteAddr() string {
	return l.conn.RemoteAddr()
}

// Persistent reports whether the link is an overlay edge.
func (l *Link) Persistent() bool {
	l.l.RLock()
	defer l.l.RUnlock()
	return l.persistent
}

// SetPersistent is used by the connection manager when it files the link.
func (l *Link) SetPersistent(p bool) {
	l.l.Lock()
	defer l.l.Unlock()
	l.persistent = p
}

// RemoteNodeInfo returns the last identity announced by the remote node, or
// nil before the handshake.
func (l *Link) RemoteNodeInfo() *peers.NodeInfo {
	l.l.RLock()
	defer l.l.RUnlock()
	return l.remote
}

// RemoteKnownHubList returns the last hub list announced by the remote node.
func (l *Link) RemoteKnownHubList() *peers.KnownHubList {
	l.l.RLock()
	defer l.l.RUnlock()
	return l.remoteKHL
}

// RemoteQHT returns the last query hash table announced by the remote node,
// or nil if none was received.
func (l *Link) RemoteQHT() *qht.QueryHashTable {
	l.l.RLock()
	defer l.l.RUnlock()
	return l.remoteQHT
}

// Stats returns a snapshot of the traffic on the link.
func (l *Link) Stats() Stats {
	return l.stats.snapshot()
}

// NumPingsReceived ...
func (l *Link) NumPingsReceived() int64 {
	return l.stats.snapshot().PingsReceived
}

// NumPongsReceived ...
func (l *Link) NumPongsReceived() int64 {
	return l.stats.snapshot().PongsReceived
}

// OnClosed registers f to run once the link is closed. If the link is already
// closed, f runs immediately.
func (l *Link) OnClosed(f func(*Link)) {
	l.l.Lock()
	if l.State() != Closed {
		l.onClosed = append(l.onClosed, f)
		l.l.Unlock()
		return
	}
	l.l.Unlock()
	f(l)
}

// Send writes m to the remote node. A failed write closes the link.
func (l *Link) Send(m *message.Message) error {
	if l.IsClosed() {
		return ErrLinkClosed
	}
	if err := l.conn.Send(m.Bytes()); err != nil {
		l.logger.WithFields(logrus.Fields{
			"type":  m.ID(),
			"error": err,
		}).Debug("Send failed, closing link")
		l.close(false)
		return err
	}
	l.stats.onSent(m.ID(), m.Len())
	return nil
}

// Expect reads the next message before the link is established. It is used by
// the handshake. The link is closed if nothing arrives within timeout.
func (l *Link) Expect(timeout time.Duration) (*message.Message, error) {
	if l.State() != Handshaking {
		return nil, fmt.Errorf("Expect called in state %s", l.State())
	}

	type result struct {
		frame []byte
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		f, err := l.conn.Receive()
		resCh <- result{f, err}
	}()

	var res result
	select {
	case res = <-resCh:
	case <-time.After(timeout):
		l.close(false)
		return nil, common.NewConnectionErr(common.TimedOut, l.RemoteAddr(), nil)
	}

	if res.err != nil {
		l.close(false)
		return nil, res.err
	}

	m, err := message.FromBytes(res.frame)
	if err != nil {
		l.close(false)
		return nil, err
	}
	l.stats.onReceived(m.ID(), m.Len())
	return m, nil
}

// Establish records the remote node's identity and hub list, then starts the
// read loop and the ping timer.
func (l *Link) Establish(remote *peers.NodeInfo, khl *peers.KnownHubList) {
	l.l.Lock()
	l.remote = remote
	l.remoteKHL = khl
	l.l.Unlock()

	if !atomic.CompareAndSwapUint32(&l.state, uint32(Handshaking), uint32(Established)) {
		return
	}

	l.logger = l.logger.WithField("guid", remote.GUID)
	l.logger.Debug("Link established")

	go l.readLoop()
	if l.conf.PingInterval > 0 {
		go l.pingLoop()
	}
}

// Ping sends a heartbeat stamped with the current time.
func (l *Link) Ping() error {
	m := message.New(PingID)
	m.AppendInt64(time.Now().UnixNano())
	return l.Send(m)
}

// Close sends CLOS to the remote node and releases the connection. It can be
// called any number of times.
func (l *Link) Close() error {
	l.close(true)
	return nil
}

func (l *Link) close(notify bool) {
	l.closeOnce.Do(func() {
		prev := State(atomic.SwapUint32(&l.state, uint32(Closing)))

		if notify && prev == Established {
			l.conn.Send(message.New(CloseID).Bytes())
		}
		l.conn.Close()
		close(l.doneCh)

		l.l.Lock()
		l.setState(Closed)
		callbacks := l.onClosed
		l.onClosed = nil
		l.l.Unlock()

		l.logger.Debug("Link closed")

		for _, f := range callbacks {
			l.safeNotify(f)
		}
	})
}

func (l *Link) safeNotify(f func(*Link)) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", fmt.Sprint(r)).Error("OnClosed callback panicked")
		}
	}()
	f(l)
}

func (l *Link) readLoop() {
	for {
		frame, err := l.conn.Receive()
		if err != nil {
			if !l.IsClosed() {
				l.logger.WithField("error", err).Debug("Receive failed, closing link")
			}
			l.close(false)
			return
		}

		m, err := message.FromBytes(frame)
		if err != nil {
			l.logger.WithField("error", err).Debug("Dropping malformed frame")
			continue
		}
		l.stats.onReceived(m.ID(), m.Len())

		l.process(m)

		if l.IsClosed() {
			return
		}
	}
}

// process handles the messages the link understands itself, then hands the
// message to the registered handlers.
func (l *Link) process(m *message.Message) {
	known := true

	switch m.ID() {
	case PingID:
		l.stats.onPing()
		pong := message.New(PongID)
		pong.AppendBytes(m.Payload())
		l.Send(pong)
	case PongID:
		var rtt time.Duration
		if sent, err := m.ExtractInt64(message.IDLength); err == nil {
			rtt = time.Since(time.Unix(0, sent))
		}
		l.stats.onPong(rtt)
	case CloseID:
		l.logger.Debug("Remote node closed the link")
		l.close(false)
		return
	case peers.LocalNodeInfoID:
		info, err := peers.NodeInfoFromMessage(m)
		if err != nil {
			l.drop(m, err)
			return
		}
		l.l.Lock()
		if l.remote != nil && !l.remote.SameNode(info) {
			l.l.Unlock()
			l.drop(m, fmt.Errorf("identity changed from %s to %s", l.remote.GUID, info.GUID))
			return
		}
		l.remote = info
		l.l.Unlock()
	case peers.KnownHubListID:
		khl, err := peers.KnownHubListFromMessage(m)
		if err != nil {
			l.drop(m, err)
			return
		}
		l.l.Lock()
		l.remoteKHL = khl
		l.l.Unlock()
	case qht.QueryHashTableID:
		table, err := qht.FromMessage(m)
		if err != nil {
			l.drop(m, err)
			return
		}
		l.l.Lock()
		l.remoteQHT = table
		l.l.Unlock()
	default:
		known = false
	}

	l.post(m, known)
}

func (l *Link) drop(m *message.Message, err error) {
	l.logger.WithFields(logrus.Fields{
		"type":  m.ID(),
		"error": err,
	}).Debug("Dropping malformed message")
}

func (l *Link) pingLoop() {
	multiple := l.conf.DeadLinkMultiple
	if multiple <= 0 {
		multiple = 3
	}
	deadline := time.Duration(multiple) * l.conf.PingInterval

	ticker := time.NewTicker(l.conf.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if silent := l.stats.sinceLastReceived(); silent > deadline {
				l.logger.WithField("silent", silent).Info("Dead link, closing")
				l.close(true)
				return
			}
			l.Ping()
		case <-l.doneCh:
			return
		}
	}
}

func (l *Link) String() string {
	remote := l.RemoteNodeInfo()
	if remote == nil {
		return fmt.Sprintf("link(%s, %s)", l.RemoteAddr(), l.State())
	}
	return fmt.Sprintf("link(%s, %s)", remote, l.State())
}
