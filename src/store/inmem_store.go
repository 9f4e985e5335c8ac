package store

import (
	"sync"

	cm "github.com/mosaicnetworks/hubnet/src/common"
	"github.com/mosaicnetworks/hubnet/src/peers"
)

// InmemStore implements the Store interface in memory. Nothing survives the
// process.
type InmemStore struct {
	l        sync.RWMutex
	identity *Identity
	hubs     []*peers.NodeInfo
	closed   bool
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{}
}

// GetIdentity implements the Store interface.
func (s *InmemStore) GetIdentity() (*Identity, error) {
	s.l.RLock()
	defer s.l.RUnlock()
	if s.closed {
		return nil, cm.NewStoreErr("Identity", cm.Closed, "")
	}
	if s.identity == nil {
		return nil, cm.NewStoreErr("Identity", cm.KeyNotFound, identityKey)
	}
	res := *s.identity
	return &res, nil
}

// SetIdentity implements the Store interface.
func (s *InmemStore) SetIdentity(id *Identity) error {
	s.l.Lock()
	defer s.l.Unlock()
	if s.closed {
		return cm.NewStoreErr("Identity", cm.Closed, "")
	}
	res := *id
	s.identity = &res
	return nil
}

// GetKnownHubs implements the Store interface.
func (s *InmemStore) GetKnownHubs() ([]*peers.NodeInfo, error) {
	s.l.RLock()
	defer s.l.RUnlock()
	if s.closed {
		return nil, cm.NewStoreErr("KnownHubs", cm.Closed, "")
	}
	res := make([]*peers.NodeInfo, 0, len(s.hubs))
	for _, h := range s.hubs {
		res = append(res, h.Clone())
	}
	return res, nil
}

// SetKnownHubs implements the Store interface.
func (s *InmemStore) SetKnownHubs(hubs []*peers.NodeInfo) error {
	s.l.Lock()
	defer s.l.Unlock()
	if s.closed {
		return cm.NewStoreErr("KnownHubs", cm.Closed, "")
	}
	s.hubs = s.hubs[:0]
	for _, h := range hubs {
		s.hubs = append(s.hubs, h.Clone())
	}
	return nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	s.l.Lock()
	defer s.l.Unlock()
	s.closed = true
	return nil
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}
