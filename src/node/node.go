package node

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/hubnet/src/broadcast"
	"github.com/mosaicnetworks/hubnet/src/common"
	"github.com/mosaicnetworks/hubnet/src/config"
	"github.com/mosaicnetworks/hubnet/src/connmgr"
	"github.com/mosaicnetworks/hubnet/src/link"
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/mosaicnetworks/hubnet/src/net"
	"github.com/mosaicnetworks/hubnet/src/peers"
	"github.com/mosaicnetworks/hubnet/src/qht"
	"github.com/mosaicnetworks/hubnet/src/query"
	"github.com/mosaicnetworks/hubnet/src/relay"
	"github.com/mosaicnetworks/hubnet/src/secure"
	"github.com/mosaicnetworks/hubnet/src/store"
	"github.com/sirupsen/logrus"
)

// recentQueriesSize is the number of query GUIDs a node remembers to avoid
// processing the same query twice.
const recentQueriesSize = 1024

// Node is a hubnet node: a hub or a leaf of the overlay. It owns the
// connection manager, answers the overlay protocol messages, gossips its
// state to its neighbours, and drives the relays and queries it originates.
type Node struct {
	state

	conf     *config.Config
	confLock sync.RWMutex
	logger   *logrus.Entry

	identity *Identity
	core     *Core

	trans    net.Transport
	handlers *link.Handlers
	connMgr  *connmgr.Manager
	store    store.Store

	crypto   secure.Provider
	metrics  *Metrics
	selector HubSelector

	relayers     map[uuid.UUID]*relay.Relayer
	relayersLock sync.Mutex

	queriers     map[uuid.UUID]*query.Querier
	queriersLock sync.Mutex

	recentQueries *common.RollingSet

	callbackLock  sync.RWMutex
	onQueryHit    []func(*query.Query)
	onQueryResult []func(*query.Result)

	lniTimer *ControlTimer
	khlTimer *ControlTimer
	qhtTimer *ControlTimer

	seeds []peers.Seed

	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	start time.Time
}

// NewNode is a factory method that returns a Node instance. The node operates
// as a hub if conf.Hub is set, and as a leaf otherwise. Nothing happens on the
// network until Init and Run are called.
func NewNode(conf *config.Config,
	identity *Identity,
	st store.Store,
	trans net.Transport,
) *Node {
	mode := peers.Leaf
	if conf.Hub {
		mode = peers.Hub
	}

	logger := conf.Logger().WithFields(logrus.Fields{
		"node": identity.Moniker,
		"mode": mode.String(),
	})

	addr := peers.NewAddress(trans.LocalAddr(), trans.AdvertiseAddr())

	n := &Node{
		conf:          conf,
		logger:        logger,
		identity:      identity,
		core:          NewCore(identity, mode, addr, logger),
		trans:         trans,
		handlers:      link.NewHandlers(),
		store:         st,
		metrics:       NewMetrics(),
		relayers:      make(map[uuid.UUID]*relay.Relayer),
		queriers:      make(map[uuid.UUID]*query.Querier),
		recentQueries: common.NewRollingSet(recentQueriesSize),
		shutdownCh:    make(chan struct{}),
	}

	n.selector = NewRandomHubSelector(n.core.KnownHubs())

	n.connMgr = connmgr.New(
		connmgr.Config{
			ConnectTimeout:          conf.ConnectTimeout,
			MaxTemporaryConnections: conf.MaxTemporaryConnections,
			RetryUnreachable:        conf.RetryUnreachable,
			Link: link.Config{
				PingInterval:     conf.PingInterval,
				DeadLinkMultiple: conf.DeadLinkMultiple,
			},
		},
		trans,
		n.core.NodeInfo,
		n.core.KnownHubs(),
		n.handlers,
		logger.WithField("prefix", "connmgr"),
	)

	n.lniTimer = NewControlTimer(conf.LNIInterval, conf.LNIMaxInterval, n.sendLNI)
	n.khlTimer = NewControlTimer(conf.KHLInterval, 0, n.sendKHL)
	n.qhtTimer = NewControlTimer(conf.QHTInterval, 0, n.sendQHT)

	n.registerHandlers()

	return n
}

// Init loads the known hubs and the seeds, and wires the gossip triggers.
func (n *Node) Init() error {
	hubs, err := n.store.GetKnownHubs()
	if err != nil {
		return err
	}
	for _, h := range hubs {
		n.core.KnownHubs().Add(h)
	}
	n.logger.WithField("hubs", len(hubs)).Debug("Loaded known hubs")

	n.seeds = n.loadSeeds()

	n.core.KnownHubs().OnChange(n.khlTimer.Trigger)
	n.core.KnownHubs().OnHubConnected(func() {
		n.logger.Info("Connected to the overlay")
	})
	n.core.KnownHubs().OnHubDisconnected(func() {
		n.logger.Warn("No hub connected")
	})
	n.core.LocalQHT().OnChange(n.qhtChanged)

	n.connMgr.OnConnected(n.onConnected)
	n.connMgr.OnClosed(n.onClosed)

	return nil
}

func (n *Node) loadSeeds() []peers.Seed {
	var res []peers.Seed
	for _, addr := range n.conf.Seeds {
		res = append(res, peers.Seed{NetAddr: addr})
	}

	fileSeeds, err := peers.NewJSONSeeds(n.conf.SeedFile()).Seeds()
	if err != nil {
		n.logger.WithError(err).Warn("Cannot read seed file")
	}
	res = append(res, fileSeeds...)

	n.logger.WithField("seeds", len(res)).Debug("Loaded seeds")
	return res
}

// RunAsync starts the node in the background and returns.
func (n *Node) RunAsync() {
	n.logger.Debug("RunAsync")

	n.start = time.Now()
	n.setState(Running)

	go n.lniTimer.Run()
	go n.khlTimer.Run()
	go n.qhtTimer.Run()

	go n.trans.Listen()
	go n.connMgr.Run()

	n.goFunc(n.maintainHubs)
}

// Run starts the node and blocks until Shutdown is called.
func (n *Node) Run() {
	n.RunAsync()
	<-n.shutdownCh
}

// maintainHubs keeps the node attached to the overlay. Whenever no hub is
// connected, it tries the seeds, then a known hub.
func (n *Node) maintainHubs() {
	n.connectHubs()

	ticker := time.NewTicker(n.getConf().RetryUnreachable)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.connectHubs()
			n.logStats()
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) connectHubs() {
	if len(n.core.KnownHubs().ConnectedHubs()) > 0 {
		return
	}

	timeout := n.getConf().ConnectTimeout

	for _, s := range n.seeds {
		if n.isShutdown() {
			return
		}
		if _, err := n.connectSeed(s, timeout); err != nil {
			n.logger.WithFields(logrus.Fields{
				"seed":  s.NetAddr,
				"error": err,
			}).Debug("Cannot connect to seed")
			continue
		}
		return
	}

	for i, known := 0, len(n.core.KnownHubs().KnownHubs()); i < known; i++ {
		hub := n.selector.Next()
		if hub == nil || n.isShutdown() {
			return
		}
		if n.connMgr.Unreachable(hub.GUID) {
			n.selector.UpdateLast(hub)
			continue
		}
		if _, err := n.connMgr.GetConnection(hub, true, timeout); err != nil {
			n.logger.WithFields(logrus.Fields{
				"hub":   hub.String(),
				"error": err,
			}).Debug("Cannot connect to known hub")
			n.selector.UpdateLast(hub)
			continue
		}
		return
	}
}

func (n *Node) connectSeed(s peers.Seed, timeout time.Duration) (*link.Link, error) {
	guid := s.NodeGUID()
	if guid == uuid.Nil {
		return n.connMgr.ConnectAddress(s.NetAddr, true, timeout)
	}

	pub, err := common.DecodeFromString(s.PubKeyHex)
	if err != nil {
		pub = nil
	}
	info := peers.NewNodeInfo(guid, pub, peers.Hub,
		peers.Address{External: []string{s.NetAddr}}, s.Moniker)
	return n.connMgr.GetConnection(info, true, timeout)
}

// ConnectHub opens a persistent link to the hub listening at addr.
func (n *Node) ConnectHub(addr string) (*link.Link, error) {
	return n.connMgr.ConnectAddress(addr, true, n.getConf().ConnectTimeout)
}

// Shutdown stops the relays, queries and timers, closes every link, saves the
// known hubs, and releases the transport and the store. It can be called
// more than once.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.logger.Debug("Shutdown")

		n.setState(Shutdown)
		close(n.shutdownCh)

		for _, r := range n.activeRelayers() {
			r.Stop()
		}
		for _, q := range n.activeQueriers() {
			q.Stop()
		}

		n.lniTimer.Shutdown()
		n.khlTimer.Shutdown()
		n.qhtTimer.Shutdown()

		n.connMgr.Close()

		n.waitRoutines()

		n.saveKnownHubs()

		n.trans.Close()
		n.store.Close()
	})
}

func (n *Node) isShutdown() bool {
	return n.getState() == Shutdown
}

// Reload applies the timer intervals of conf without restarting the node.
func (n *Node) Reload(conf *config.Config) {
	n.confLock.Lock()
	n.conf = conf
	n.confLock.Unlock()

	n.lniTimer.Reset(conf.LNIInterval, conf.LNIMaxInterval)
	n.khlTimer.Reset(conf.KHLInterval, 0)
	n.qhtTimer.Reset(conf.QHTInterval, 0)

	n.logger.Debug("Configuration reloaded")
}

func (n *Node) getConf() *config.Config {
	n.confLock.RLock()
	defer n.confLock.RUnlock()
	return n.conf
}

/*******************************************************************************
Connection events
*******************************************************************************/

func (n *Node) onConnected(l *link.Link) {
	n.metrics.Connections.WithLabelValues("opened", poolLabel(l)).Inc()
	n.updateCounts()

	remote := l.RemoteNodeInfo()
	if l.Persistent() && remote != nil && remote.IsHub() {
		if err := n.sendQHTTo(l); err != nil {
			n.logger.WithError(err).Debug("Cannot send QHT to new hub")
		}
	}

	n.khlTimer.Trigger()
}

func (n *Node) onClosed(l *link.Link) {
	n.metrics.Connections.WithLabelValues("closed", poolLabel(l)).Inc()
	n.updateCounts()

	remote := l.RemoteNodeInfo()
	if l.Persistent() && remote != nil && remote.IsLeaf() {
		n.qhtChanged()
	}
}

func poolLabel(l *link.Link) string {
	if l.Persistent() {
		return connmgr.Persistent.String()
	}
	if l.Incoming() {
		return connmgr.Volatile.String()
	}
	return connmgr.Temporary.String()
}

// updateCounts refreshes the hub and leaf counts of the local descriptor and
// announces it if they changed.
func (n *Node) updateCounts() {
	hubs, leaves := n.connMgr.Counts()
	n.metrics.Hubs.Set(float64(hubs))
	n.metrics.Leaves.Set(float64(leaves))
	if n.core.SetCounts(hubs, leaves) {
		n.lniTimer.Trigger()
	}
}

// qhtChanged recomputes the amalgamated table and schedules its propagation
// if it changed.
func (n *Node) qhtChanged() {
	var tables []*qht.QueryHashTable
	for _, l := range n.connMgr.PersistentConnections() {
		remote := l.RemoteNodeInfo()
		if remote == nil || !remote.IsLeaf() {
			continue
		}
		if t := l.RemoteQHT(); t != nil {
			tables = append(tables, t)
		}
	}
	if n.core.Amalgamate(tables) {
		n.qhtTimer.Trigger()
	}
}

/*******************************************************************************
Gossip
*******************************************************************************/

func (n *Node) sendLNI() {
	m := n.core.NodeInfo().ToMessage()
	for _, l := range n.connMgr.AllConnections() {
		n.send(l, m)
	}
}

func (n *Node) sendKHL() {
	m := n.core.KnownHubs().ToMessage()
	for _, l := range n.connMgr.PersistentConnections() {
		n.send(l, m)
	}
	n.saveKnownHubs()
}

func (n *Node) sendQHT() {
	for _, l := range n.connMgr.PersistentConnections() {
		remote := l.RemoteNodeInfo()
		if remote == nil || !remote.IsHub() {
			continue
		}
		if err := n.sendQHTTo(l); err != nil {
			n.logger.WithError(err).Debug("Cannot send QHT")
			return
		}
	}
}

func (n *Node) sendQHTTo(l *link.Link) error {
	m, err := n.core.AmalgamatedQHT().ToMessage()
	if err != nil {
		return err
	}
	n.send(l, m)
	return nil
}

func (n *Node) send(l *link.Link, m *message.Message) bool {
	if err := l.Send(m); err != nil {
		n.logger.WithFields(logrus.Fields{
			"remote": l.String(),
			"type":   m.ID(),
			"error":  err,
		}).Debug("Send failed")
		return false
	}
	n.metrics.MessagesSent.WithLabelValues(m.ID()).Inc()
	return true
}

func (n *Node) saveKnownHubs() {
	if err := n.store.SetKnownHubs(n.core.KnownHubs().AllHubs()); err != nil {
		n.logger.WithError(err).Debug("Cannot save known hubs")
	}
}

/*******************************************************************************
broadcast.Network
*******************************************************************************/

var _ broadcast.Network = (*Node)(nil)

// ConnectedHubs returns the hubs this node has persistent links to.
func (n *Node) ConnectedHubs() []*peers.NodeInfo {
	return n.core.KnownHubs().ConnectedHubs()
}

// FindConnection returns an open link to guid, or nil.
func (n *Node) FindConnection(guid uuid.UUID, persistentOnly bool) *link.Link {
	return n.connMgr.FindConnection(guid, persistentOnly)
}

// GetConnection returns a link to info, opening one if needed.
func (n *Node) GetConnection(info *peers.NodeInfo, persistentOnly bool, timeout time.Duration) (*link.Link, error) {
	return n.connMgr.GetConnection(info, persistentOnly, timeout)
}

// Unreachable reports whether a recent attempt to reach guid failed.
func (n *Node) Unreachable(guid uuid.UUID) bool {
	return n.connMgr.Unreachable(guid)
}

/*******************************************************************************
Relays
*******************************************************************************/

// RelayMessage delivers m to the node identified by to, directly if a link
// exists and through the hubs otherwise. The promise tells whether a hub
// acknowledged delivery before RelayLifetime elapsed.
func (n *Node) RelayMessage(to uuid.UUID, m *message.Message) *RelayPromise {
	r := relay.NewMessageRelay(m, to)
	promise := NewRelayPromise(r)

	if n.isShutdown() {
		promise.Respond(false)
		return promise
	}

	conf := n.getConf()
	relayer := relay.NewRelayer(r, n, n.ProcessMessageRelay,
		broadcast.Config{
			HopTimeout: conf.RelayTimeout,
			Lifetime:   conf.RelayLifetime,
		},
		n.logger)

	n.relayersLock.Lock()
	n.relayers[r.GUID] = relayer
	n.relayersLock.Unlock()

	relayer.OnStopped(func(rl *relay.Relayer) {
		n.relayersLock.Lock()
		delete(n.relayers, r.GUID)
		n.relayersLock.Unlock()

		delivered := rl.Delivered()
		if delivered {
			n.metrics.Relays.WithLabelValues(outcomeDelivered).Inc()
		} else {
			n.metrics.Relays.WithLabelValues(outcomeFailed).Inc()
		}
		promise.Respond(delivered)
	})

	n.metrics.Relays.WithLabelValues(outcomeStarted).Inc()
	go relayer.Start()

	return promise
}

func (n *Node) relayer(guid uuid.UUID) *relay.Relayer {
	n.relayersLock.Lock()
	defer n.relayersLock.Unlock()
	return n.relayers[guid]
}

func (n *Node) activeRelayers() []*relay.Relayer {
	n.relayersLock.Lock()
	defer n.relayersLock.Unlock()
	res := make([]*relay.Relayer, 0, len(n.relayers))
	for _, r := range n.relayers {
		res = append(res, r)
	}
	return res
}

/*******************************************************************************
Queries
*******************************************************************************/

// Query searches the overlay for contents. The returned Querier completes on
// the first result, or gives up after QueryTimeout.
func (n *Node) Query(contents string, qualifiers ...*message.Message) *query.Querier {
	q := query.New(n.core.NodeInfo(), contents, qualifiers...)

	conf := n.getConf()
	querier := query.NewQuerier(q, n, n.ProcessQuery,
		broadcast.Config{
			HopTimeout: conf.RelayTimeout,
			Lifetime:   conf.QueryTimeout,
		},
		n.logger)

	n.queriersLock.Lock()
	n.queriers[q.GUID] = querier
	n.queriersLock.Unlock()

	querier.OnStopped(func(qr *query.Querier) {
		n.queriersLock.Lock()
		delete(n.queriers, q.GUID)
		n.queriersLock.Unlock()

		if qr.Result() != nil {
			n.metrics.Queries.WithLabelValues(outcomeAnswered).Inc()
		} else {
			n.metrics.Queries.WithLabelValues(outcomeTimedOut).Inc()
		}
	})

	n.metrics.Queries.WithLabelValues(outcomeStarted).Inc()

	if n.isShutdown() {
		querier.Stop()
		return querier
	}
	go querier.Start()

	return querier
}

func (n *Node) querier(guid uuid.UUID) *query.Querier {
	n.queriersLock.Lock()
	defer n.queriersLock.Unlock()
	return n.queriers[guid]
}

func (n *Node) activeQueriers() []*query.Querier {
	n.queriersLock.Lock()
	defer n.queriersLock.Unlock()
	res := make([]*query.Querier, 0, len(n.queriers))
	for _, q := range n.queriers {
		res = append(res, q)
	}
	return res
}

// OnQueryHit registers f to run when a query from another node matches the
// local table. The application decides whether it really holds the content
// and answers with SendQueryResult. Without any callback, every hit is
// answered with a result naming this node.
func (n *Node) OnQueryHit(f func(*query.Query)) {
	n.callbackLock.Lock()
	defer n.callbackLock.Unlock()
	n.onQueryHit = append(n.onQueryHit, f)
}

// OnQueryResult registers f to receive every result that reaches this node
// for one of its queries, including late ones.
func (n *Node) OnQueryResult(f func(*query.Result)) {
	n.callbackLock.Lock()
	defer n.callbackLock.Unlock()
	n.onQueryResult = append(n.onQueryResult, f)
}

/*******************************************************************************
Application handlers
*******************************************************************************/

// RegisterHandler registers f for application messages of type id. Relayed
// and decrypted messages reach f with a nil link.
func (n *Node) RegisterHandler(id string, f link.Handler) {
	n.handlers.On(id, f)
}

// OnAnyMessage registers f for every message the node receives.
func (n *Node) OnAnyMessage(f link.Handler) {
	n.handlers.OnAny(f)
}

// OnUnknownMessage registers f for messages nobody handles.
func (n *Node) OnUnknownMessage(f link.Handler) {
	n.handlers.OnUnknown(f)
}

/*******************************************************************************
Crypto envelopes
*******************************************************************************/

// SendEncrypted relays m to the node described by to, encrypted with its
// public key.
func (n *Node) SendEncrypted(to *peers.NodeInfo, m *message.Message) (*RelayPromise, error) {
	env, err := n.crypto.Encrypt(m, to.PublicKey)
	if err != nil {
		return nil, err
	}
	return n.RelayMessage(to.GUID, env), nil
}

// SendSigned relays m to the node identified by to, signed with the node's
// key.
func (n *Node) SendSigned(to uuid.UUID, m *message.Message) (*RelayPromise, error) {
	signed, err := secure.Sign(m, n.identity.GUID, n.identity.Key)
	if err != nil {
		return nil, err
	}
	return n.RelayMessage(to, signed.ToMessage()), nil
}

// Sign signs data with the node's key.
func (n *Node) Sign(data []byte) ([]byte, error) {
	return n.crypto.Sign(data, n.identity.Key)
}

// Verify reports whether sig is a signature of data by the owner of pub.
func (n *Node) Verify(data, sig, pub []byte) bool {
	return n.crypto.Verify(data, sig, pub)
}

// VerifyEnvelope opens a signed envelope from signer and returns the inner
// message.
func (n *Node) VerifyEnvelope(env *message.Message, signer *peers.NodeInfo) (*message.Message, error) {
	s, err := secure.SignedFromMessage(env)
	if err != nil {
		return nil, err
	}
	if s.Signer != signer.GUID {
		return nil, fmt.Errorf("envelope signed by %s, not %s", s.Signer, signer.GUID)
	}
	if err := s.Verify(signer.PublicKey); err != nil {
		return nil, err
	}
	return s.Message, nil
}

/*******************************************************************************
Accessors
*******************************************************************************/

// GUID returns the node's GUID.
func (n *Node) GUID() uuid.UUID {
	return n.identity.GUID
}

// NodeInfo returns the current descriptor of the node.
func (n *Node) NodeInfo() *peers.NodeInfo {
	return n.core.NodeInfo()
}

// KnownHubs returns the node's known-hub list.
func (n *Node) KnownHubs() *peers.KnownHubList {
	return n.core.KnownHubs()
}

// LocalQHT returns the table describing the content the node offers.
// Applications add to it; changes are propagated to the hubs.
func (n *Node) LocalQHT() *qht.QueryHashTable {
	return n.core.LocalQHT()
}

// ConnectionManager returns the node's connection manager.
func (n *Node) ConnectionManager() *connmgr.Manager {
	return n.connMgr
}

// Metrics returns the node's Prometheus collectors.
func (n *Node) Metrics() *Metrics {
	return n.metrics
}

// GetState returns the state of the node.
func (n *Node) GetState() State {
	return n.getState()
}

// GetStats returns a summary of the node's state.
func (n *Node) GetStats() map[string]string {
	connectedHubs, knownHubs := n.core.KnownHubs().Len()
	info := n.core.NodeInfo()

	n.relayersLock.Lock()
	relays := len(n.relayers)
	n.relayersLock.Unlock()

	n.queriersLock.Lock()
	queries := len(n.queriers)
	n.queriersLock.Unlock()

	var uptime time.Duration
	if !n.start.IsZero() {
		uptime = time.Since(n.start)
	}

	return map[string]string{
		"id":                   n.identity.GUID.String(),
		"moniker":              n.identity.Moniker,
		"mode":                 info.Mode.String(),
		"state":                n.getState().String(),
		"hub_count":            strconv.Itoa(int(info.HubCount)),
		"leaf_count":           strconv.Itoa(int(info.LeafCount)),
		"connected_hubs":       strconv.Itoa(connectedHubs),
		"known_hubs":           strconv.Itoa(knownHubs),
		"persistent":           strconv.Itoa(len(n.connMgr.PersistentConnections())),
		"temporary":            strconv.Itoa(len(n.connMgr.TemporaryConnections())),
		"volatile":             strconv.Itoa(len(n.connMgr.VolatileConnections())),
		"outstanding_relays":   strconv.Itoa(relays),
		"outstanding_queries":  strconv.Itoa(queries),
		"local_qht_fill":       strconv.FormatFloat(n.core.LocalQHT().FillRatio(), 'f', 4, 64),
		"amalgamated_qht_fill": strconv.FormatFloat(n.core.AmalgamatedQHT().FillRatio(), 'f', 4, 64),
		"uptime":               uptime.Truncate(time.Second).String(),
		"address":              info.Address.String(),
	}
}

func (n *Node) logStats() {
	stats := n.GetStats()

	n.logger.WithFields(logrus.Fields{
		"state":               stats["state"],
		"hub_count":           stats["hub_count"],
		"leaf_count":          stats["leaf_count"],
		"connected_hubs":      stats["connected_hubs"],
		"known_hubs":          stats["known_hubs"],
		"temporary":           stats["temporary"],
		"volatile":            stats["volatile"],
		"outstanding_relays":  stats["outstanding_relays"],
		"outstanding_queries": stats["outstanding_queries"],
	}).Debug("Stats")
}
