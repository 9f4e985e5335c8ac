package node

import (
	"github.com/mosaicnetworks/hubnet/src/relay"
)

// RelayPromise reports, on RespCh, whether a relayed message reached its
// target.
type RelayPromise struct {
	Relay  *relay.MessageRelay
	RespCh chan bool
}

// NewRelayPromise ...
func NewRelayPromise(r *relay.MessageRelay) *RelayPromise {
	return &RelayPromise{
		Relay: r,
		// buffered so that the relayer never waits for a listener
		RespCh: make(chan bool, 1),
	}
}

// Respond ...
func (p *RelayPromise) Respond(delivered bool) {
	p.RespCh <- delivered
}
