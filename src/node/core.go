package node

import (
	"sync"

	"github.com/mosaicnetworks/hubnet/src/peers"
	"github.com/mosaicnetworks/hubnet/src/qht"
	"github.com/sirupsen/logrus"
)

// Core holds the overlay state of a node that does not depend on its
// connections: the descriptor it announces, the hubs it knows, and its query
// hash tables.
type Core struct {
	// identity is the key and GUID controlling this node.
	identity *Identity

	// info is the descriptor announced in LNIn messages. Its counts and
	// address are refreshed as connections come and go.
	info     *peers.NodeInfo
	infoLock sync.RWMutex

	// khl is the list of hubs this node is connected to or knows about.
	khl *peers.KnownHubList

	// localQHT summarizes the content this node offers.
	localQHT *qht.QueryHashTable

	// amalgamatedQHT is the union of localQHT and the tables of the leaves
	// this node is persistently connected to. It is what the node announces
	// to its hubs.
	amalgamatedQHT *qht.QueryHashTable
	amalgamateLock sync.Mutex

	logger *logrus.Entry
}

// NewCore is a factory method that returns a Core instance
func NewCore(identity *Identity, mode peers.Mode, addr peers.Address, logger *logrus.Entry) *Core {
	return &Core{
		identity:       identity,
		info:           peers.NewNodeInfo(identity.GUID, identity.PublicKeyBytes(), mode, addr, identity.Moniker),
		khl:            peers.NewKnownHubList(identity.GUID),
		localQHT:       qht.New(),
		amalgamatedQHT: qht.New(),
		logger:         logger,
	}
}

// NodeInfo returns a copy of the local node's descriptor.
func (c *Core) NodeInfo() *peers.NodeInfo {
	c.infoLock.RLock()
	defer c.infoLock.RUnlock()
	return c.info.Clone()
}

// IsHub reports whether the local node operates as a hub.
func (c *Core) IsHub() bool {
	c.infoLock.RLock()
	defer c.infoLock.RUnlock()
	return c.info.IsHub()
}

// SetCounts records the number of hubs and leaves the node is persistently
// connected to. It returns true if the descriptor changed.
func (c *Core) SetCounts(hubs, leaves int) bool {
	c.infoLock.Lock()
	defer c.infoLock.Unlock()
	if c.info.HubCount == int32(hubs) && c.info.LeafCount == int32(leaves) {
		return false
	}
	c.info.HubCount = int32(hubs)
	c.info.LeafCount = int32(leaves)
	return true
}

// SetAddress changes the advertised address. It returns true if the
// descriptor changed.
func (c *Core) SetAddress(addr peers.Address) bool {
	c.infoLock.Lock()
	defer c.infoLock.Unlock()
	if c.info.Address.Equal(addr) {
		return false
	}
	c.info.Address = addr
	return true
}

// KnownHubs returns the known-hub list.
func (c *Core) KnownHubs() *peers.KnownHubList {
	return c.khl
}

// LocalQHT returns the table of the content offered by this node.
func (c *Core) LocalQHT() *qht.QueryHashTable {
	return c.localQHT
}

// AmalgamatedQHT returns the union of the local table and the leaf tables.
func (c *Core) AmalgamatedQHT() *qht.QueryHashTable {
	return c.amalgamatedQHT
}

// Amalgamate recomputes the amalgamated table from the local table and the
// given leaf tables. It returns true if the amalgamated table changed.
func (c *Core) Amalgamate(leafTables []*qht.QueryHashTable) bool {
	c.amalgamateLock.Lock()
	defer c.amalgamateLock.Unlock()

	fresh := c.localQHT.Clone()
	for _, t := range leafTables {
		if err := fresh.Merge(t); err != nil {
			c.logger.WithError(err).Debug("Cannot merge leaf table")
		}
	}

	if fresh.Equal(c.amalgamatedQHT) {
		return false
	}
	c.amalgamatedQHT.Set(fresh)
	return true
}

// CandidateHubs returns every hub in the known-hub list, except the local
// node and those in exclude.
func (c *Core) CandidateHubs(exclude ...*peers.NodeInfo) []*peers.NodeInfo {
	var res []*peers.NodeInfo
	for _, h := range c.khl.AllHubs() {
		if h.GUID == c.identity.GUID || peers.ContainsNode(exclude, h) {
			continue
		}
		res = append(res, h)
	}
	return res
}
