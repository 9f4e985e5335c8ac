package relay

import (
	"sync"

	"github.com/mosaicnetworks/hubnet/src/broadcast"
	"github.com/mosaicnetworks/hubnet/src/link"
	"github.com/sirupsen/logrus"
)

// Processor handles a relay envelope on the local node and returns the
// acknowledgement a remote sender would receive.
type Processor func(*MessageRelay) *Acknowledgement

// Relayer drives one relay envelope through the overlay until a hub
// acknowledges delivery, or until it is stopped.
type Relayer struct {
	relay   *MessageRelay
	bc      *broadcast.Broadcast
	process Processor
	logger  *logrus.Entry

	l         sync.Mutex
	delivered bool
}

// NewRelayer prepares a Relayer for relay. process is called once, on Start,
// to try the local node before any hub.
func NewRelayer(
	relay *MessageRelay,
	net broadcast.Network,
	process Processor,
	conf broadcast.Config,
	logger *logrus.Entry,
) *Relayer {
	r := &Relayer{
		relay:   relay,
		process: process,
		logger:  logger.WithField("relay", relay.GUID),
	}
	r.bc = broadcast.New(net, r.send, conf, r.logger)
	return r
}

// Relay returns the envelope being relayed.
func (r *Relayer) Relay() *MessageRelay {
	return r.relay
}

// Start processes the envelope locally, then walks the hubs until one
// delivers it.
func (r *Relayer) Start() {
	r.bc.Start()
	r.HandleAck(r.process(r.relay))
}

// HandleAck processes an acknowledgement. Acknowledgements for other relays
// are ignored.
func (r *Relayer) HandleAck(ack *Acknowledgement) {
	if ack == nil {
		r.bc.HandleAck(nil)
		return
	}
	if ack.GUID != r.relay.GUID {
		return
	}
	if !ack.IsDeadEnd {
		r.l.Lock()
		r.delivered = true
		r.l.Unlock()
		r.logger.Debug("Relay delivered")
		r.Stop()
		return
	}
	r.bc.HandleAck(&ack.Acknowledgement)
}

// Delivered reports whether a hub acknowledged delivery.
func (r *Relayer) Delivered() bool {
	r.l.Lock()
	defer r.l.Unlock()
	return r.delivered
}

// Stop cancels the relay. It is safe to call concurrently and repeatedly.
func (r *Relayer) Stop() {
	r.bc.Stop()
}

// Done is closed once the relayer stops.
func (r *Relayer) Done() <-chan struct{} {
	return r.bc.Done()
}

// OnStopped registers f to run once the relayer stops, delivered or not.
func (r *Relayer) OnStopped(f func(*Relayer)) {
	r.bc.OnStopped(func() { f(r) })
}

func (r *Relayer) send(l *link.Link) error {
	return l.Send(r.relay.ToMessage())
}
