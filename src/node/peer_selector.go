package node

import (
	"math/rand"
	"sync"

	"github.com/mosaicnetworks/hubnet/src/peers"
)

// HubSelector picks the next hub a node without connections should try.
type HubSelector interface {
	Next() *peers.NodeInfo
	UpdateLast(hub *peers.NodeInfo)
}

//+++++++++++++++++++++++++++++++++++++++
//RANDOM

// RandomHubSelector picks a random hub among the known, unconnected hubs of a
// known-hub list, avoiding the last hub that failed.
type RandomHubSelector struct {
	khl *peers.KnownHubList

	l    sync.Mutex
	last *peers.NodeInfo
}

// NewRandomHubSelector is a factory method that returns a new instance of
// RandomHubSelector
func NewRandomHubSelector(khl *peers.KnownHubList) *RandomHubSelector {
	return &RandomHubSelector{
		khl: khl,
	}
}

// UpdateLast records a hub that could not be reached.
func (hs *RandomHubSelector) UpdateLast(hub *peers.NodeInfo) {
	hs.l.Lock()
	defer hs.l.Unlock()
	hs.last = hub
}

// Next returns a known hub, or nil when there is none left to try.
func (hs *RandomHubSelector) Next() *peers.NodeInfo {
	hs.l.Lock()
	defer hs.l.Unlock()

	selectable := hs.khl.KnownHubs()
	if hs.last != nil {
		if i := peers.IndexOfNode(selectable, hs.last); i >= 0 {
			selectable = append(selectable[:i], selectable[i+1:]...)
		}
	}

	if len(selectable) == 0 {
		return nil
	}

	return selectable[rand.Intn(len(selectable))]
}
