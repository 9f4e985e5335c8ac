package node

import (
	"fmt"
	"time"

	"github.com/mosaicnetworks/hubnet/src/link"
	"github.com/mosaicnetworks/hubnet/src/message"
	"github.com/mosaicnetworks/hubnet/src/peers"
	"github.com/mosaicnetworks/hubnet/src/qht"
	"github.com/mosaicnetworks/hubnet/src/query"
	"github.com/mosaicnetworks/hubnet/src/relay"
	"github.com/mosaicnetworks/hubnet/src/secure"
	"github.com/sirupsen/logrus"
)

const (
	// resultConnectAttempts is the number of times a node tries to open a
	// link to the origin of a query before relaying the result instead.
	resultConnectAttempts = 3

	// resultHold keeps the link a result was sent over open for a while, in
	// case more results follow.
	resultHold = 5 * time.Second
)

func (n *Node) registerHandlers() {
	n.handlers.OnAny(n.countReceived)

	n.handlers.On(peers.LocalNodeInfoID, n.handleNodeInfo)
	n.handlers.On(peers.KnownHubListID, n.handleKnownHubList)
	n.handlers.On(qht.QueryHashTableID, n.handleQueryHashTable)

	n.handlers.On(relay.MessageRelayID, n.handleMessageRelay)
	n.handlers.On(relay.AcknowledgementID, n.handleRelayAcknowledgement)

	n.handlers.On(query.QueryID, n.handleQuery)
	n.handlers.On(query.AcknowledgementID, n.handleQueryAcknowledgement)
	n.handlers.On(query.ResultID, n.handleQueryResult)

	n.handlers.On(secure.EncryptedID, n.handleEncrypted)
	n.handlers.On(secure.SignedID, n.handleSigned)
}

// dispatch runs the handlers for a message that was unwrapped from an
// envelope. l is nil when the envelope was relayed.
func (n *Node) dispatch(l *link.Link, m *message.Message) {
	n.handlers.Dispatch(l, m, false, n.logger)
}

func (n *Node) countReceived(l *link.Link, m *message.Message) error {
	n.metrics.MessagesReceived.WithLabelValues(m.ID()).Inc()
	return nil
}

/*******************************************************************************
Gossip
*******************************************************************************/

func (n *Node) handleNodeInfo(l *link.Link, m *message.Message) error {
	if l == nil {
		return nil
	}
	remote := l.RemoteNodeInfo()
	if remote == nil {
		return nil
	}
	n.core.KnownHubs().Add(remote)
	if l.Persistent() {
		n.updateCounts()
	}
	return nil
}

func (n *Node) handleKnownHubList(l *link.Link, m *message.Message) error {
	if l == nil {
		return nil
	}
	if khl := l.RemoteKnownHubList(); khl != nil {
		n.core.KnownHubs().Merge(khl)
	}
	return nil
}

func (n *Node) handleQueryHashTable(l *link.Link, m *message.Message) error {
	if l == nil || !l.Persistent() {
		return nil
	}
	remote := l.RemoteNodeInfo()
	if remote != nil && remote.IsLeaf() && n.core.IsHub() {
		n.qhtChanged()
	}
	return nil
}

/*******************************************************************************
Relays
*******************************************************************************/

func (n *Node) handleMessageRelay(l *link.Link, m *message.Message) error {
	r, err := relay.FromMessage(m)
	if err != nil {
		return err
	}
	ack := n.ProcessMessageRelay(r)
	if l != nil {
		n.send(l, ack.ToMessage())
	}
	return nil
}

// ProcessMessageRelay delivers r if its target is this node or one of its
// neighbours. Otherwise it returns a dead end listing the hubs this node
// knows, for the sender to try next.
func (n *Node) ProcessMessageRelay(r *relay.MessageRelay) *relay.Acknowledgement {
	logger := n.logger.WithFields(logrus.Fields{
		"relay": r.GUID,
		"type":  r.Message.ID(),
		"to":    r.ToNodeGUID,
	})

	if r.ToNodeGUID == n.identity.GUID {
		logger.Debug("Relayed message reached its target")
		n.dispatch(nil, r.Message)
		return relay.Delivered(r)
	}

	if l := n.connMgr.FindConnection(r.ToNodeGUID, false); l != nil {
		if n.send(l, r.Message) {
			logger.Debug("Relayed message handed to neighbour")
			return relay.Delivered(r)
		}
	}

	self := n.core.NodeInfo()
	return relay.DeadEnd(r, []*peers.NodeInfo{self}, n.core.CandidateHubs())
}

func (n *Node) handleRelayAcknowledgement(l *link.Link, m *message.Message) error {
	ack, err := relay.AcknowledgementFromMessage(m)
	if err != nil {
		return err
	}
	r := n.relayer(ack.GUID)
	if r == nil {
		return nil
	}
	r.HandleAck(ack)
	return nil
}

/*******************************************************************************
Queries
*******************************************************************************/

func (n *Node) handleQuery(l *link.Link, m *message.Message) error {
	q, err := query.FromMessage(m)
	if err != nil {
		return err
	}
	ack := n.ProcessQuery(q)
	if ack != nil && l != nil {
		n.send(l, ack.ToMessage())
	}
	return nil
}

// ProcessQuery handles q on this node. A hub passes it on to the neighbours
// whose tables match. The first hub a query reaches answers with an
// acknowledgement; the result is nil on leaves and further hubs. A match
// against the local table fires the OnQueryHit callbacks, or answers with a
// result naming this node when none are registered.
func (n *Node) ProcessQuery(q *query.Query) *query.Acknowledgement {
	seen := !n.recentQueries.Add(q.GUID)
	isHub := n.core.IsHub()

	var ack *query.Acknowledgement
	if isHub && q.HopCount == 0 {
		ack = n.queryAcknowledgement(q)
	}

	if seen {
		if ack != nil {
			ack.IsDeadEnd = true
		}
		return ack
	}

	if isHub {
		hopped := q.Hopped().ToMessage()

		if q.HopCount == 0 {
			for _, l := range n.persistentMatching(q, peers.Hub) {
				n.send(l, hopped)
			}
		}

		if n.core.AmalgamatedQHT().MayContain(q.Contents) {
			for _, l := range n.persistentMatching(q, peers.Leaf) {
				n.send(l, hopped)
			}
		}
	}

	if q.Origin.GUID != n.identity.GUID && n.core.LocalQHT().MayContain(q.Contents) {
		n.logger.WithFields(logrus.Fields{
			"query":    q.GUID,
			"contents": q.Contents,
		}).Debug("Query hit")

		n.callbackLock.RLock()
		callbacks := n.onQueryHit
		n.callbackLock.RUnlock()
		if len(callbacks) == 0 {
			n.SendQueryResult(query.NewResult(q, n.NodeInfo()))
		}
		for _, f := range callbacks {
			f(q)
		}
	}

	return ack
}

// persistentMatching returns the persistent links to nodes in the given mode
// whose table may hold the contents of q, except the link to its origin.
func (n *Node) persistentMatching(q *query.Query, mode peers.Mode) []*link.Link {
	var res []*link.Link
	for _, l := range n.connMgr.PersistentConnections() {
		remote := l.RemoteNodeInfo()
		if remote == nil || remote.Mode != mode || remote.GUID == q.Origin.GUID {
			continue
		}
		if t := l.RemoteQHT(); t != nil && t.MayContain(q.Contents) {
			res = append(res, l)
		}
	}
	return res
}

// queryAcknowledgement lists, for the origin of q, the hubs that this hub
// covers and the hubs left to try.
func (n *Node) queryAcknowledgement(q *query.Query) *query.Acknowledgement {
	self := n.core.NodeInfo()
	visited := []*peers.NodeInfo{self}
	var candidates []*peers.NodeInfo

	for _, h := range n.core.KnownHubs().KnownHubs() {
		if h.GUID != self.GUID {
			candidates = append(candidates, h)
		}
	}

	for _, l := range n.connMgr.PersistentConnections() {
		remote := l.RemoteNodeInfo()
		if remote == nil || !remote.IsHub() {
			continue
		}
		if l.RemoteQHT() != nil {
			visited = append(visited, remote)
		} else {
			candidates = append(candidates, remote)
		}
	}

	ack := &query.Acknowledgement{GUID: q.GUID}
	ack.Visited = visited
	ack.Candidates = candidates
	ack.IsDeadEnd = !n.MayHaveQueryResults(q)
	return ack
}

// MayHaveQueryResults reports whether the neighbourhood of this node may
// answer q. Neighbours that have not sent their table yet count as possible
// matches.
func (n *Node) MayHaveQueryResults(q *query.Query) bool {
	if n.core.AmalgamatedQHT().MayContain(q.Contents) {
		return true
	}
	for _, l := range n.connMgr.PersistentConnections() {
		remote := l.RemoteNodeInfo()
		if remote == nil {
			return true
		}
		if !remote.IsHub() {
			continue
		}
		t := l.RemoteQHT()
		if t == nil || t.MayContain(q.Contents) {
			return true
		}
	}
	return false
}

func (n *Node) handleQueryAcknowledgement(l *link.Link, m *message.Message) error {
	ack, err := query.AcknowledgementFromMessage(m)
	if err != nil {
		return err
	}

	for _, c := range ack.Candidates {
		if c.GUID != n.identity.GUID {
			n.core.KnownHubs().Add(c)
		}
	}

	if qr := n.querier(ack.GUID); qr != nil {
		qr.HandleAck(ack)
	}
	return nil
}

func (n *Node) handleQueryResult(l *link.Link, m *message.Message) error {
	res, err := query.ResultFromMessage(m)
	if err != nil {
		return err
	}
	n.SendQueryResult(res)
	return nil
}

// SendQueryResult routes res to the origin of its query. On the origin, it
// completes the outstanding query. Elsewhere it uses a link to the origin,
// opening a temporary one if needed, and relays the result as a last resort.
func (n *Node) SendQueryResult(res *query.Result) {
	if res.Origin.GUID == n.identity.GUID {
		n.deliverResult(res)
		return
	}

	if !n.goFunc(func() { n.forwardResult(res) }) {
		n.forwardResult(res)
	}
}

func (n *Node) deliverResult(res *query.Result) {
	if qr := n.querier(res.QueryGUID); qr != nil {
		qr.HandleResult(res)
	}

	n.callbackLock.RLock()
	callbacks := n.onQueryResult
	n.callbackLock.RUnlock()
	for _, f := range callbacks {
		f(res)
	}
}

func (n *Node) forwardResult(res *query.Result) {
	m := res.ToMessage()
	logger := n.logger.WithFields(logrus.Fields{
		"query":  res.QueryGUID,
		"origin": res.Origin.String(),
	})

	if l := n.connMgr.FindConnection(res.Origin.GUID, false); l != nil && n.send(l, m) {
		return
	}

	timeout := n.getConf().ConnectTimeout
	for i := 0; i < resultConnectAttempts; i++ {
		if n.isShutdown() {
			return
		}
		l, err := n.connMgr.GetConnection(res.Origin, false, timeout)
		if err != nil {
			logger.WithError(err).Debug("Cannot connect to query origin")
			continue
		}
		if n.send(l, m) {
			n.connMgr.Hold(l, resultHold)
			return
		}
	}

	logger.Debug("Relaying query result")
	n.RelayMessage(res.Origin.GUID, m)
}

/*******************************************************************************
Envelopes
*******************************************************************************/

func (n *Node) handleEncrypted(l *link.Link, m *message.Message) error {
	inner, err := n.crypto.Decrypt(m, n.identity.Key)
	if err != nil {
		return err
	}
	n.dispatch(l, inner)
	return nil
}

func (n *Node) handleSigned(l *link.Link, m *message.Message) error {
	s, err := secure.SignedFromMessage(m)
	if err != nil {
		return err
	}

	signer := n.lookupNode(l, s)
	if signer == nil {
		return fmt.Errorf("unknown signer %s", s.Signer)
	}
	if err := s.Verify(signer.PublicKey); err != nil {
		return err
	}

	n.dispatch(l, s.Message)
	return nil
}

// lookupNode finds the descriptor of the signer of s among the neighbours
// and the known hubs.
func (n *Node) lookupNode(l *link.Link, s *secure.Signed) *peers.NodeInfo {
	if l != nil {
		if remote := l.RemoteNodeInfo(); remote != nil && remote.GUID == s.Signer {
			return remote
		}
	}
	if c := n.connMgr.FindConnection(s.Signer, false); c != nil {
		if remote := c.RemoteNodeInfo(); remote != nil {
			return remote
		}
	}
	for _, h := range n.core.KnownHubs().AllHubs() {
		if h.GUID == s.Signer {
			return h
		}
	}
	return nil
}
