package node

import (
	"time"

	"github.com/mosaicnetworks/hubnet/src/connmgr"
	"github.com/mosaicnetworks/hubnet/src/link"
	"github.com/mosaicnetworks/hubnet/src/peers"
)

// ConnectionInfo describes one link of a node.
type ConnectionInfo struct {
	Pool     string          `json:"pool"`
	Remote   *peers.NodeInfo `json:"remote"`
	Addr     string          `json:"addr"`
	Incoming bool            `json:"incoming"`
	State    string          `json:"state"`
	Holds    int             `json:"holds"`
	Stats    link.Stats      `json:"stats"`
}

// Infos is the object used by Graph to collect information about the
// neighbourhood of a node.
type Infos struct {
	Self          *peers.NodeInfo   `json:"self"`
	ConnectedHubs []*peers.NodeInfo `json:"connected_hubs"`
	KnownHubs     []*peers.NodeInfo `json:"known_hubs"`
	Connections   []ConnectionInfo  `json:"connections"`
	Time          time.Time         `json:"time"`
}

// Graph is a struct containing a node which is used to collect information
// about its place in the overlay, in view of producing a visual
// representation of the network.
type Graph struct {
	*Node
}

// NewGraph instantiates a Graph from a Node.
func NewGraph(n *Node) *Graph {
	return &Graph{
		Node: n,
	}
}

// GetConnections returns every established link, persistent links first.
func (g *Graph) GetConnections() []ConnectionInfo {
	mgr := g.Node.connMgr

	res := []ConnectionInfo{}
	for _, l := range mgr.AllConnections() {
		pool, ok := mgr.PoolOf(l)
		if !ok || pool == connmgr.Pending {
			continue
		}
		res = append(res, ConnectionInfo{
			Pool:     pool.String(),
			Remote:   l.RemoteNodeInfo(),
			Addr:     l.RemoteAddr(),
			Incoming: l.Incoming(),
			State:    l.State().String(),
			Holds:    mgr.Holds(l),
			Stats:    l.Stats(),
		})
	}
	return res
}

// GetInfos returns an Infos struct representing the node and its links.
func (g *Graph) GetInfos() Infos {
	khl := g.Node.core.KnownHubs()
	return Infos{
		Self:          g.Node.NodeInfo(),
		ConnectedHubs: khl.ConnectedHubs(),
		KnownHubs:     khl.KnownHubs(),
		Connections:   g.GetConnections(),
		Time:          time.Now(),
	}
}
