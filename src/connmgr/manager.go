package connmgr

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/common"
	"github.com/mosaicnetworks/hubnet/src/link"
	"github.com/mosaicnetworks/hubnet/src/net"
	"github.com/mosaicnetworks/hubnet/src/peers"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Config holds the settings of a Manager.
type Config struct {
	// ConnectTimeout bounds dialling plus handshake. It is also the initial
	// hold on outgoing temporary connections.
	ConnectTimeout time.Duration

	// MaxTemporaryConnections is the number of temporary and volatile
	// connections above which the ones closest to expiry are closed.
	MaxTemporaryConnections int

	// RetryUnreachable is how long a node that could not be reached is left
	// alone.
	RetryUnreachable time.Duration

	Link link.Config
}

// Pool names the collection a link is filed in.
type Pool int

const (
	// Pending links are handshaking
	Pending Pool = iota
	// Persistent links are overlay edges
	Persistent
	// Temporary links were dialled on demand by this node
	Temporary
	// Volatile links were dialled on demand by the remote node
	Volatile
)

// String ...
func (p Pool) String() string {
	switch p {
	case Pending:
		return "pending"
	case Persistent:
		return "persistent"
	case Temporary:
		return "temporary"
	case Volatile:
		return "volatile"
	default:
		return "unknown"
	}
}

// Manager owns every link of a node. It dials and accepts connections, runs
// the handshake, files links by pool and GUID, and releases temporary links
// when nobody holds them anymore.
type Manager struct {
	conf     Config
	trans    net.Transport
	self     func() *peers.NodeInfo
	khl      *peers.KnownHubList
	handlers *link.Handlers
	logger   *logrus.Entry

	l          sync.RWMutex
	pending    []*link.Link
	persistent []*link.Link
	temporary  []*link.Link
	volatile   []*link.Link

	holder *holder
	group  singleflight.Group

	unreachableLock sync.Mutex
	unreachable     map[uuid.UUID]time.Time

	callbackLock sync.RWMutex
	onConnected  []func(*link.Link)
	onClosed     []func(*link.Link)

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New creates a Manager. self returns the current descriptor of the local
// node, which changes as connections come and go. Inbound connections are
// handled once Run is called.
func New(
	conf Config,
	trans net.Transport,
	self func() *peers.NodeInfo,
	khl *peers.KnownHubList,
	handlers *link.Handlers,
	logger *logrus.Entry,
) *Manager {
	m := &Manager{
		conf:        conf,
		trans:       trans,
		self:        self,
		khl:         khl,
		handlers:    handlers,
		logger:      logger,
		unreachable: make(map[uuid.UUID]time.Time),
		shutdownCh:  make(chan struct{}),
	}
	m.holder = newHolder(m.releaseHeld)
	return m
}

// OnConnected registers f to run after a link is established, in either
// direction.
func (m *Manager) OnConnected(f func(*link.Link)) {
	m.callbackLock.Lock()
	defer m.callbackLock.Unlock()
	m.onConnected = append(m.onConnected, f)
}

// OnClosed registers f to run after an established link closes and has been
// removed from its pool.
func (m *Manager) OnClosed(f func(*link.Link)) {
	m.callbackLock.Lock()
	defer m.callbackLock.Unlock()
	m.onClosed = append(m.onClosed, f)
}

// Run accepts inbound connections until Close is called.
func (m *Manager) Run() {
	consumer := m.trans.Consumer()
	for {
		select {
		case conn := <-consumer:
			go m.accept(conn)
		case <-m.shutdownCh:
			return
		}
	}
}

// Close closes every link. The transport is left to its owner.
func (m *Manager) Close() {
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
		m.holder.stop()
		for _, l := range m.all(true) {
			l.Close()
		}
	})
}

func (m *Manager) isShutdown() bool {
	select {
	case <-m.shutdownCh:
		return true
	default:
		return false
	}
}

/*******************************************************************************
Lookup
*******************************************************************************/

// FindConnection returns an open link to the node with the given GUID, or nil.
// Persistent links are preferred; temporary and volatile links are only
// considered when persistentOnly is false. It never blocks on the network.
func (m *Manager) FindConnection(guid uuid.UUID, persistentOnly bool) *link.Link {
	m.l.RLock()
	defer m.l.RUnlock()

	if l := find(m.persistent, guid); l != nil {
		return l
	}
	if persistentOnly {
		return nil
	}
	if l := find(m.temporary, guid); l != nil {
		return l
	}
	return find(m.volatile, guid)
}

func find(pool []*link.Link, guid uuid.UUID) *link.Link {
	for _, l := range pool {
		if l.IsClosed() {
			continue
		}
		if info := l.RemoteNodeInfo(); info != nil && info.GUID == guid {
			return l
		}
	}
	return nil
}

// PersistentConnections returns a snapshot of the persistent pool.
func (m *Manager) PersistentConnections() []*link.Link {
	m.l.RLock()
	defer m.l.RUnlock()
	return append([]*link.Link(nil), m.persistent...)
}

// TemporaryConnections returns a snapshot of the temporary pool.
func (m *Manager) TemporaryConnections() []*link.Link {
	m.l.RLock()
	defer m.l.RUnlock()
	return append([]*link.Link(nil), m.temporary...)
}

// VolatileConnections returns a snapshot of the volatile pool.
func (m *Manager) VolatileConnections() []*link.Link {
	m.l.RLock()
	defer m.l.RUnlock()
	return append([]*link.Link(nil), m.volatile...)
}

// AllConnections returns every established link.
func (m *Manager) AllConnections() []*link.Link {
	return m.all(false)
}

func (m *Manager) all(withPending bool) []*link.Link {
	m.l.RLock()
	defer m.l.RUnlock()
	res := make([]*link.Link, 0, len(m.persistent)+len(m.temporary)+len(m.volatile))
	res = append(res, m.persistent...)
	res = append(res, m.temporary...)
	res = append(res, m.volatile...)
	if withPending {
		res = append(res, m.pending...)
	}
	return res
}

// Counts returns the number of persistent hub links and persistent leaf links.
func (m *Manager) Counts() (hubs, leaves int) {
	m.l.RLock()
	defer m.l.RUnlock()
	for _, l := range m.persistent {
		info := l.RemoteNodeInfo()
		switch {
		case info == nil:
		case info.IsHub():
			hubs++
		case info.IsLeaf():
			leaves++
		}
	}
	return hubs, leaves
}

// PoolOf returns the pool l is filed in, and false if it is not managed.
func (m *Manager) PoolOf(l *link.Link) (Pool, bool) {
	m.l.RLock()
	defer m.l.RUnlock()
	switch {
	case contains(m.persistent, l):
		return Persistent, true
	case contains(m.temporary, l):
		return Temporary, true
	case contains(m.volatile, l):
		return Volatile, true
	case contains(m.pending, l):
		return Pending, true
	}
	return 0, false
}

/*******************************************************************************
Connecting
*******************************************************************************/

// GetConnection returns a link to info, creating it if needed. Concurrent
// calls for the same node share a single attempt and observe the same link.
// A node that failed recently is not retried before RetryUnreachable.
func (m *Manager) GetConnection(info *peers.NodeInfo, persistentOnly bool, timeout time.Duration) (*link.Link, error) {
	if m.isShutdown() {
		return nil, common.NewConnectionErr(common.Shutdown, info.String(), nil)
	}
	if info.GUID == m.self().GUID {
		return nil, common.NewConnectionErr(common.SameNode, info.String(), nil)
	}

	if l := m.FindConnection(info.GUID, persistentOnly); l != nil {
		return l, nil
	}

	if m.isUnreachable(info.GUID) {
		return nil, common.NewConnectionErr(common.Unreachable, info.String(), nil)
	}

	key := info.GUID.String()
	if persistentOnly {
		key += "/persistent"
	}

	resCh := m.group.DoChan(key, func() (interface{}, error) {
		if l := m.FindConnection(info.GUID, persistentOnly); l != nil {
			return l, nil
		}
		l, err := m.CreateConnection(info, persistentOnly, m.conf.ConnectTimeout)
		if err != nil {
			if !common.IsConnection(err, common.Shutdown) {
				m.markUnreachable(info.GUID)
			}
			return nil, err
		}
		return l, nil
	})

	select {
	case res := <-resCh:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*link.Link), nil
	case <-time.After(timeout):
		return nil, common.NewConnectionErr(common.TimedOut, info.String(), nil)
	}
}

// CreateConnection dials info and runs the handshake, without looking for an
// existing link first. The remote node must report the GUID of info, unless
// it is uuid.Nil.
func (m *Manager) CreateConnection(info *peers.NodeInfo, persistent bool, timeout time.Duration) (*link.Link, error) {
	if m.isShutdown() {
		return nil, common.NewConnectionErr(common.Shutdown, info.String(), nil)
	}

	endpoints := info.Address.Endpoints()
	if len(endpoints) == 0 {
		return nil, common.NewConnectionErr(common.TransportFailure, info.String(),
			errors.New("no known address"))
	}

	var lastErr error
	for _, ep := range endpoints {
		conn, err := m.trans.Dial(ep, timeout)
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"target": info.String(),
				"addr":   ep,
				"error":  err,
			}).Debug("Dial failed")
			lastErr = err
			continue
		}
		l, err := m.handshake(conn, info, persistent, timeout)
		if err != nil && common.IsConnection(err, common.IncorrectNode) {
			m.khl.Remove(info)
		}
		return l, err
	}
	return nil, common.NewConnectionErr(common.TransportFailure, info.String(), lastErr)
}

// ConnectAddress dials an address whose owner is not known yet, such as a
// configured seed hub.
func (m *Manager) ConnectAddress(addr string, persistent bool, timeout time.Duration) (*link.Link, error) {
	info := &peers.NodeInfo{Address: peers.Address{External: []string{addr}}}
	return m.CreateConnection(info, persistent, timeout)
}

func (m *Manager) handshake(conn net.Conn, target *peers.NodeInfo, persistent bool, timeout time.Duration) (*link.Link, error) {
	l := link.New(conn, m.handlers, m.conf.Link, false, m.logger)
	m.addTo(Pending, l)
	defer m.remove(Pending, l)

	req := &Request{
		Persistent: persistent,
		From:       m.self(),
		KnownHubs:  m.khl,
		To:         target.GUID,
	}
	if err := l.Send(req.ToMessage()); err != nil {
		return nil, common.NewConnectionErr(common.RequestNotSent, target.String(), err)
	}

	msg, err := l.Expect(timeout)
	if err != nil {
		if common.IsConnection(err, common.TimedOut) {
			return nil, err
		}
		return nil, common.NewConnectionErr(common.TransportFailure, target.String(), err)
	}

	resp, err := ResponseFromMessage(msg)
	if err != nil {
		l.Close()
		return nil, common.NewConnectionErr(common.TransportFailure, target.String(), err)
	}

	if resp.Error != common.NoError {
		l.Close()
		return nil, common.NewConnectionErr(resp.Error, target.String(), nil)
	}
	if target.GUID != uuid.Nil && resp.From.GUID != target.GUID {
		l.Close()
		return nil, common.NewConnectionErr(common.IncorrectNode, target.String(),
			errors.Errorf("reached %s", resp.From))
	}
	if resp.From.GUID == m.self().GUID {
		l.Close()
		return nil, common.NewConnectionErr(common.SameNode, target.String(), nil)
	}

	pool := Temporary
	if persistent {
		pool = Persistent
	}
	if err := m.establish(l, pool, resp.From, resp.KnownHubs); err != nil {
		return nil, err
	}
	return l, nil
}

func (m *Manager) accept(conn net.Conn) {
	l := link.New(conn, m.handlers, m.conf.Link, true, m.logger)
	m.addTo(Pending, l)
	defer m.remove(Pending, l)

	msg, err := l.Expect(m.conf.ConnectTimeout)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"from":  conn.RemoteAddr(),
			"error": err,
		}).Debug("No connection request")
		return
	}

	req, err := RequestFromMessage(msg)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"from":  conn.RemoteAddr(),
			"error": err,
		}).Debug("Malformed connection request")
		l.Close()
		return
	}

	self := m.self()
	resp := &Response{
		Persistent: req.Persistent,
		From:       self,
		KnownHubs:  m.khl,
	}

	switch {
	case m.isShutdown():
		resp.Error = common.Shutdown
	case !req.IsTo(self.GUID):
		resp.Error = common.IncorrectNode
	case req.From.GUID == self.GUID:
		resp.Error = common.SameNode
	}

	if resp.Error != common.NoError {
		m.logger.WithFields(logrus.Fields{
			"from":  req.From.String(),
			"error": resp.Error,
		}).Debug("Refusing connection")
		l.Send(resp.ToMessage())
		// let the dialler hang up once it has read the response
		l.Expect(m.conf.ConnectTimeout)
		l.Close()
		return
	}

	// The response goes out while the link is still pending, so nothing
	// filed by establish can write to the link ahead of it.
	if err := l.Send(resp.ToMessage()); err != nil {
		m.logger.WithField("error", err).Debug("Failed to send connection response")
		return
	}

	pool := Volatile
	if req.Persistent {
		pool = Persistent
	}
	m.establish(l, pool, req.From, req.KnownHubs)
}

// establish files the link in its pool, starts it, and records the remote hub.
// The handshake response must already be on the wire: OnConnected callbacks
// and gossip timers may write to the link as soon as it is filed.
func (m *Manager) establish(l *link.Link, pool Pool, remote *peers.NodeInfo, remoteKHL *peers.KnownHubList) error {
	if m.isShutdown() {
		l.Close()
		return common.NewConnectionErr(common.Shutdown, remote.String(), nil)
	}

	l.SetPersistent(pool == Persistent)
	m.remove(Pending, l)
	m.addTo(pool, l)
	l.OnClosed(m.handleClosed)
	l.Establish(remote, remoteKHL)

	m.khl.Add(remote)
	m.khl.Merge(remoteKHL)
	if pool == Persistent && remote.IsHub() {
		m.khl.SetConnected(remote)
	}

	// the dialler decides how long a volatile link lives
	if pool == Temporary {
		m.holder.hold(l, m.conf.ConnectTimeout)
	}
	if pool == Temporary || pool == Volatile {
		m.enforceMaxTemporary()
	}

	m.logger.WithFields(logrus.Fields{
		"remote": remote.String(),
		"pool":   pool.String(),
	}).Debug("Connection established")

	m.callbackLock.RLock()
	callbacks := m.onConnected
	m.callbackLock.RUnlock()
	for _, f := range callbacks {
		f(l)
	}
	return nil
}

// handleClosed removes a closed link from its pool. When the last persistent
// link to a hub goes away, the hub moves back to the known list.
func (m *Manager) handleClosed(l *link.Link) {
	pool, managed := m.PoolOf(l)
	m.remove(pool, l)
	m.holder.remove(l)

	if !managed || pool == Pending {
		return
	}

	remote := l.RemoteNodeInfo()
	if pool == Persistent && remote != nil && m.FindConnection(remote.GUID, true) == nil {
		m.khl.SetDisconnected(remote)
	}

	m.logger.WithFields(logrus.Fields{
		"remote": l.String(),
		"pool":   pool.String(),
	}).Debug("Connection closed")

	m.callbackLock.RLock()
	callbacks := m.onClosed
	m.callbackLock.RUnlock()
	for _, f := range callbacks {
		f(l)
	}
}

/*******************************************************************************
Temporary connections
*******************************************************************************/

// Hold keeps a temporary or volatile link open for at least d. Holds
// accumulate: the link is released once every hold has run out. Persistent
// links are never released by the holder.
func (m *Manager) Hold(l *link.Link, d time.Duration) {
	if l.Persistent() || l.IsClosed() {
		return
	}
	m.holder.hold(l, d)
}

// Holds returns the number of outstanding holds on l.
func (m *Manager) Holds(l *link.Link) int {
	return m.holder.count(l)
}

// TemporaryCount returns the number of temporary and volatile links.
func (m *Manager) TemporaryCount() int {
	m.l.RLock()
	defer m.l.RUnlock()
	return len(m.temporary) + len(m.volatile)
}

func (m *Manager) releaseHeld(l *link.Link) {
	if l.Persistent() {
		return
	}
	m.logger.WithField("remote", l.String()).Debug("Releasing temporary connection")
	l.Close()
}

// enforceMaxTemporary closes the temporary links closest to expiry until the
// pools are back under the limit.
func (m *Manager) enforceMaxTemporary() {
	max := m.conf.MaxTemporaryConnections
	if max <= 0 {
		return
	}
	for {
		var candidates []*link.Link
		m.l.RLock()
		for _, l := range append(append([]*link.Link(nil), m.temporary...), m.volatile...) {
			if !l.IsClosed() {
				candidates = append(candidates, l)
			}
		}
		m.l.RUnlock()

		if len(candidates) <= max {
			return
		}

		victim := candidates[0]
		victimExpiry := m.holder.expiry(victim)
		for _, c := range candidates[1:] {
			if e := m.holder.expiry(c); e.Before(victimExpiry) {
				victim, victimExpiry = c, e
			}
		}

		m.logger.WithField("remote", victim.String()).Debug("Too many temporary connections, closing")
		m.holder.remove(victim)
		victim.Close()
	}
}

/*******************************************************************************
Unreachable nodes
*******************************************************************************/

// Unreachable reports whether a recent attempt to reach guid failed.
func (m *Manager) Unreachable(guid uuid.UUID) bool {
	return m.isUnreachable(guid)
}

func (m *Manager) isUnreachable(guid uuid.UUID) bool {
	m.unreachableLock.Lock()
	defer m.unreachableLock.Unlock()
	t, ok := m.unreachable[guid]
	if !ok {
		return false
	}
	if time.Since(t) < m.conf.RetryUnreachable {
		return true
	}
	delete(m.unreachable, guid)
	return false
}

func (m *Manager) markUnreachable(guid uuid.UUID) {
	m.unreachableLock.Lock()
	defer m.unreachableLock.Unlock()
	m.unreachable[guid] = time.Now()
}

// ClearUnreachable forgets past failures, so that every node can be tried
// again.
func (m *Manager) ClearUnreachable() {
	m.unreachableLock.Lock()
	defer m.unreachableLock.Unlock()
	m.unreachable = make(map[uuid.UUID]time.Time)
}

/*******************************************************************************
Pools
*******************************************************************************/

func (m *Manager) poolPtr(p Pool) *[]*link.Link {
	switch p {
	case Persistent:
		return &m.persistent
	case Temporary:
		return &m.temporary
	case Volatile:
		return &m.volatile
	default:
		return &m.pending
	}
}

func (m *Manager) addTo(p Pool, l *link.Link) {
	m.l.Lock()
	defer m.l.Unlock()
	pool := m.poolPtr(p)
	if !contains(*pool, l) {
		*pool = append(*pool, l)
	}
}

func (m *Manager) remove(p Pool, l *link.Link) {
	m.l.Lock()
	defer m.l.Unlock()
	pool := m.poolPtr(p)
	for i, e := range *pool {
		if e == l {
			*pool = append((*pool)[:i:i], (*pool)[i+1:]...)
			return
		}
	}
}

func contains(pool []*link.Link, l *link.Link) bool {
	for _, e := range pool {
		if e == l {
			return true
		}
	}
	return false
}
